package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// endpointIdentifier is the identifier part of endpoint-wide counters
const endpointIdentifier = "all"

// Middleware limits requests per caller and per endpoint
type Middleware struct {
	limiter  *Limiter
	failOpen bool
	metrics  *observability.Metrics
}

// NewMiddleware creates the middleware. With failOpen, requests pass when
// Redis is unreachable; otherwise they get 503.
func NewMiddleware(limiter *Limiter, failOpen bool) *Middleware {
	return &Middleware{limiter: limiter, failOpen: failOpen}
}

// WithMetrics counts decisions by type and result
func (m *Middleware) WithMetrics(metrics *observability.Metrics) *Middleware {
	m.metrics = metrics
	return m
}

// endpointOf names the matched route, so /users/1 and /users/2 share a
// counter. Register the middleware with router.Use for the template to be
// known.
func endpointOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return r.Method + " " + tmpl
		}
	}
	return r.Method + " " + r.URL.Path
}

// callerOf returns the user key when the request is authenticated and the
// client IP otherwise
func callerOf(r *http.Request) (Type, string) {
	if userID := contextkeys.GetUserID(r.Context()); userID != "" {
		return TypeUser, userID
	}
	return TypeIP, httputil.ClientIP(r)
}

// Handler wraps next with rate limiting
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		endpoint := endpointOf(r)
		callerType, caller := callerOf(r)

		callerStatus, err := m.limiter.Hit(ctx, caller, endpoint, callerType)
		if err != nil {
			m.unavailable(w, r, next, callerType, err)
			return
		}
		if callerStatus.Exceeded {
			m.metrics.RecordRateLimit(string(callerType), "rejected")
			m.reject(w, r, callerStatus, caller, endpoint, callerType)
			return
		}

		endpointStatus, err := m.limiter.Hit(ctx, endpointIdentifier, endpoint, TypeEndpoint)
		if err != nil {
			m.unavailable(w, r, next, TypeEndpoint, err)
			return
		}
		if endpointStatus.Exceeded {
			m.metrics.RecordRateLimit(string(TypeEndpoint), "rejected")
			m.reject(w, r, endpointStatus, endpointIdentifier, endpoint, TypeEndpoint)
			return
		}

		m.metrics.RecordRateLimit(string(callerType), "allowed")
		setHeaders(w, callerStatus, m.ttl(r, caller, endpoint, callerType))
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) ttl(r *http.Request, identifier, endpoint string, t Type) time.Duration {
	ttl, err := m.limiter.TTL(r.Context(), identifier, endpoint, t)
	if err != nil || ttl <= 0 {
		rule, _ := m.limiter.Rule(t)
		return rule.Window
	}
	return ttl
}

func setHeaders(w http.ResponseWriter, status *Status, ttl time.Duration) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(status.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(status.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, status *Status, identifier, endpoint string, t Type) {
	ttl := m.ttl(r, identifier, endpoint, t)
	retryAfter := int64(ttl.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}

	setHeaders(w, status, ttl)
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"type":     t,
		"endpoint": endpoint,
		"count":    status.Count,
	}).Debug("Rate limit exceeded")
	httputil.WriteTooManyRequests(w, "rate limit exceeded")
}

func (m *Middleware) unavailable(w http.ResponseWriter, r *http.Request, next http.Handler, t Type, err error) {
	m.metrics.RecordRateLimit(string(t), "error")
	logger := observability.FromContext(r.Context()).WithError(err)
	if m.failOpen {
		logger.Warn("Rate limiter unavailable, allowing request")
		next.ServeHTTP(w, r)
		return
	}
	logger.Error("Rate limiter unavailable")
	httputil.WriteServiceError(w, err)
}
