// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteServiceError(w, err) // status and code from pkg/apperrors
//
// # Request Parsing
//
//	var req SyncRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // 400 already written
//	}
//
// Validation uses go-playground/validator struct tags. Besides the built-in
// tags, http_method and permission_key are registered.
//
// # Related Packages
//
//   - pkg/middleware: bearer authentication
//   - pkg/apperrors: the error taxonomy behind WriteServiceError
package httputil
