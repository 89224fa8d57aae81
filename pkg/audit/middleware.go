package audit

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Rule describes how a route is recorded
type Rule struct {
	EventType    EventType
	ResourceType ResourceType
	// IDVar names the route variable holding the resource id; "id" when empty
	IDVar string
}

// Routes maps "METHOD /path/template" to the rule recorded for it
type Routes map[string]Rule

// RouteKey builds the lookup key used by Routes
func RouteKey(method, template string) string {
	return method + " " + template
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Middleware records the outcome of mapped routes and every 403 on the
// subrouter it is mounted on. It must run after authentication for the actor to
// be known. Events emitted further down the chain inherit the request context
// it installs.
func Middleware(logger Logger, routes Routes) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithRequest(r.Context(), r)
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}

			template := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					template = tmpl
				}
			}

			rule, mapped := routes[RouteKey(r.Method, template)]
			switch {
			case mapped:
				idVar := rule.IDVar
				if idVar == "" {
					idVar = "id"
				}
				Emit(ctx, logger, &Event{
					EventType:    rule.EventType,
					Status:       StatusForCode(status),
					ResourceType: rule.ResourceType,
					ResourceID:   mux.Vars(r)[idVar],
					StatusCode:   status,
				})
			case status == http.StatusForbidden:
				Emit(ctx, logger, &Event{
					EventType:    EventTypeAccessDenied,
					Status:       EventStatusDenied,
					ResourceType: ResourceTypeArea,
					ResourceID:   template,
					StatusCode:   status,
				})
			}
		})
	}
}
