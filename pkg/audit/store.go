package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ErrNotFound is returned when an event does not exist
var ErrNotFound = errors.New("audit event not found")

const eventColumns = `id, occurred_at, event_type, status, actor_id, resource_type, resource_id,
	ip_address, user_agent, request_id, method, path, status_code, message, metadata`

// Store persists and queries the audit trail
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store on top of the audit_events table
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Log implements Logger
func (s *Store) Log(ctx context.Context, event *Event) error {
	var metadata interface{}
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = string(encoded)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (
			occurred_at, event_type, status, actor_id, resource_type, resource_id,
			ip_address, user_agent, request_id, method, path, status_code, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		event.Timestamp,
		string(event.EventType),
		string(event.Status),
		nullInt64(event.ActorID),
		nullString(string(event.ResourceType)),
		nullString(event.ResourceID),
		nullString(event.IPAddress),
		nullString(event.UserAgent),
		nullString(event.RequestID),
		nullString(event.Method),
		nullString(event.Path),
		nullInt(event.StatusCode),
		nullString(event.Message),
		metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Get returns a single event
func (s *Store) Get(ctx context.Context, id int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	return event, nil
}

func buildWhere(filter SearchFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.StartTime != nil {
		args = append(args, *filter.StartTime)
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if filter.EndTime != nil {
		args = append(args, *filter.EndTime)
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}
	if filter.ActorID != nil {
		args = append(args, *filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		args = append(args, pq.Array(types))
		conditions = append(conditions, fmt.Sprintf("event_type = ANY($%d)", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ResourceType != "" {
		args = append(args, string(filter.ResourceType))
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	if filter.ResourceID != "" {
		args = append(args, filter.ResourceID)
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// Search returns a page of events, newest first
func (s *Store) Search(ctx context.Context, filter SearchFilter) (*Page, error) {
	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	where, args := buildWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_events%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return &Page{
		Data: events,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
	}, nil
}

// Cleanup deletes events older than the cutoff and returns how many were removed
func (s *Store) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted audit events: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*Event, error) {
	var (
		event        Event
		eventType    string
		status       string
		actorID      sql.NullInt64
		resourceType sql.NullString
		resourceID   sql.NullString
		ipAddress    sql.NullString
		userAgent    sql.NullString
		requestID    sql.NullString
		method       sql.NullString
		path         sql.NullString
		statusCode   sql.NullInt64
		message      sql.NullString
		metadata     []byte
	)
	if err := row.Scan(&event.ID, &event.Timestamp, &eventType, &status, &actorID, &resourceType, &resourceID,
		&ipAddress, &userAgent, &requestID, &method, &path, &statusCode, &message, &metadata); err != nil {
		return nil, err
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	if actorID.Valid {
		event.ActorID = int64Ptr(actorID.Int64)
	}
	event.ResourceType = ResourceType(resourceType.String)
	event.ResourceID = resourceID.String
	event.IPAddress = ipAddress.String
	event.UserAgent = userAgent.String
	event.RequestID = requestID.String
	event.Method = method.String
	event.Path = path.String
	event.StatusCode = int(statusCode.Int64)
	event.Message = message.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
		}
	}
	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}
