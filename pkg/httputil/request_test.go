package httputil

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

type syncRequest struct {
	ServiceName string `json:"serviceName" validate:"required"`
	Method      string `json:"httpMethod" validate:"required,http_method"`
	Key         string `json:"permissionKey" validate:"required,permission_key"`
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectOK   bool
		wantInBody string
	}{
		{
			name:     "valid",
			body:     `{"serviceName":"orders","httpMethod":"get","permissionKey":"order:read"}`,
			expectOK: true,
		},
		{
			name:       "missing field uses json name",
			body:       `{"httpMethod":"GET","permissionKey":"order:read"}`,
			wantInBody: "serviceName failed required",
		},
		{
			name:       "bad method",
			body:       `{"serviceName":"orders","httpMethod":"FETCH","permissionKey":"order:read"}`,
			wantInBody: "httpMethod failed http_method",
		},
		{
			name:       "bad key",
			body:       `{"serviceName":"orders","httpMethod":"GET","permissionKey":"order"}`,
			wantInBody: "permissionKey failed permission_key",
		},
		{
			name:       "malformed json",
			body:       `{`,
			wantInBody: "invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/sync", bytes.NewBufferString(tt.body))

			var dest syncRequest
			ok := DecodeAndValidate(w, req, &dest)

			assert.Equal(t, tt.expectOK, ok)
			if !tt.expectOK {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, w.Body.String(), tt.wantInBody)
			}
		})
	}
}

func TestParsePathStringOrError(t *testing.T) {
	req := httptest.NewRequest("GET", "/roles/abc", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "abc"})

	w := httptest.NewRecorder()
	val, ok := ParsePathStringOrError(w, req, "id")
	assert.True(t, ok)
	assert.Equal(t, "abc", val)

	w = httptest.NewRecorder()
	_, ok = ParsePathStringOrError(w, req, "missing")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/endpoints?service=orders", nil)
	assert.Equal(t, "orders", ParseQueryString(req, "service", ""))
	assert.Equal(t, "all", ParseQueryString(req, "missing", "all"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "192.0.2.10", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(req))

	ipv6 := httptest.NewRequest("GET", "/", nil)
	ipv6.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", ClientIP(ipv6))
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	handler := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, hasDeadline = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, time.Second)

	var ctx context.Context
	passthrough := TimeoutMiddleware(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	passthrough.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	_, hasDeadline = ctx.Deadline()
	assert.False(t, hasDeadline)
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"a", "b", "handler"}, order)
}
