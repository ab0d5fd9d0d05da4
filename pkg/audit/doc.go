// Package audit records security relevant events: logins, token refreshes,
// RBAC mutations, endpoint syncs and rate limit resets.
//
// Events are written as JSON lines through a dedicated logrus logger so they
// can be shipped separately from the application log:
//
//	auditLogger := audit.NewLogrusLogger(os.Stdout)
//	event := audit.Event(r, audit.EventTypeAdminRoleCreate, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypeRole
//	event.ResourceID = role.ID
//	auditLogger.Log(r.Context(), event)
//
// The Middleware logs every mutating request, every 4xx/5xx and every
// request under /auth and /rbac.
package audit
