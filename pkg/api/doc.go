// Package api assembles the HTTP surface of the HRM backend.
//
// # Overview
//
// NewServer mounts the account, profile, user, role and permission handlers
// on a gorilla/mux router and puts every protected prefix behind the
// authentication gate and, where required, the authorization gate:
//
//	/api/auth/...          public (login, forgot and reset are rate limited;
//	                       changePassword requires authentication)
//	/api/me                authn
//	/api/users/...         authn + ANY{manage_roles, manage_users}
//	/api/roles/...         authn + ANY{manage_roles}
//	/api/permissions/...   authn + ANY{manage_roles}
//	/api/employees/...     authn + ANY{manage_users}      (501)
//	/api/contracts/...     authn + ANY{manage_contracts}  (501)
//	/api/leaves, /api/overtimes, /api/payroll, /api/dashboard
//	                       authn                          (501)
//
// The reserved areas answer 501 once both gates pass so clients can rely on
// the access rules ahead of the handlers.
//
// # Middleware
//
// Every request passes request id, logging, panic recovery, CORS and body
// size limiting before routing. Prometheus metrics and OpenTelemetry spans are
// applied after routing so they are labeled with path templates.
//
// # Usage
//
//	server := api.NewServer(api.Config{AllowedOrigins: origins}, api.Deps{...})
//	http.ListenAndServe(":8080", server)
//
// NewOpsRouter serves /health, /health/live, /health/ready and /metrics on the
// separate health port.
package api
