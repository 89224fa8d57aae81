package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/hrm/pkg/httputil"
	"github.com/platinummonkey/hrm/pkg/observability"
)

// maxExportEvents caps a single export download
const maxExportEvents = 10000

// Reader is the read side of the audit trail
type Reader interface {
	Search(ctx context.Context, filter SearchFilter) (*Page, error)
	Get(ctx context.Context, id int64) (*Event, error)
}

// Handlers provides HTTP handlers for the audit trail API
type Handlers struct {
	reader Reader
}

// NewHandlers creates new audit handlers
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes mounts the audit routes on a subrouter rooted at /audit
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.ListEvents).Methods(http.MethodGet)
	router.HandleFunc("/export", h.ExportEvents).Methods(http.MethodGet)
	router.HandleFunc("/{id:[0-9]+}", h.GetEvent).Methods(http.MethodGet)
}

// ListEvents handles GET /audit
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	page, err := h.reader.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to search audit events")
		httputil.WriteInternalError(w, "Failed to search audit events")
		return
	}
	_ = httputil.WriteSuccess(w, page)
}

// GetEvent handles GET /audit/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.reader.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFound(w, "Audit event not found")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to get audit event")
		httputil.WriteInternalError(w, "Failed to get audit event")
		return
	}
	_ = httputil.WriteSuccess(w, event)
}

// ExportEvents handles GET /audit/export?format=json|csv|ndjson
func (h *Handlers) ExportEvents(w http.ResponseWriter, r *http.Request) {
	format, err := ParseExportFormat(httputil.ParseQueryString(r, "format", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.collect(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to export audit events")
		httputil.WriteInternalError(w, "Failed to export audit events")
		return
	}

	filename := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := Export(w, format, events); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to write audit export")
	}
}

// collect pages through the filter up to maxExportEvents
func (h *Handlers) collect(ctx context.Context, filter SearchFilter) ([]Event, error) {
	filter.PageSize = maxPageSize
	events := []Event{}
	for filter.Page = 1; len(events) < maxExportEvents; filter.Page++ {
		page, err := h.reader.Search(ctx, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, page.Data...)
		if filter.Page >= page.Pagination.TotalPages || len(page.Data) == 0 {
			break
		}
	}
	if len(events) > maxExportEvents {
		events = events[:maxExportEvents]
	}
	return events, nil
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	var filter SearchFilter
	var err error

	if filter.StartTime, err = parseTimeParam(r, "from"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTimeParam(r, "to"); err != nil {
		return filter, err
	}
	if actor := r.URL.Query().Get("actorId"); actor != "" {
		id, err := strconv.ParseInt(actor, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid actorId: %s", actor)
		}
		filter.ActorID = &id
	}
	if types := r.URL.Query().Get("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(t))
			}
		}
	}
	if status := r.URL.Query().Get("status"); status != "" {
		switch EventStatus(status) {
		case EventStatusSuccess, EventStatusFailure, EventStatusDenied:
			filter.Status = EventStatus(status)
		default:
			return filter, fmt.Errorf("invalid status: %s", status)
		}
	}
	filter.ResourceType = ResourceType(r.URL.Query().Get("resourceType"))
	filter.ResourceID = r.URL.Query().Get("resourceId")

	if filter.Page, err = httputil.ParseQueryInt(r, "page", 1); err != nil {
		return filter, err
	}
	if filter.PageSize, err = httputil.ParseQueryInt(r, "pageSize", defaultPageSize); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 timestamp", key)
	}
	return &t, nil
}
