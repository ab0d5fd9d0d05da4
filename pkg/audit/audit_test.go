package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogrusLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger(&buf)

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/rbac/roles", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	event := Event(req, EventTypeAdminRoleCreate, EventStatusSuccess)
	event.ResourceType = ResourceTypeRole
	event.ResourceID = "role-1"
	event.Message = "role created"
	event.Metadata["name"] = "orders_default"

	require.NoError(t, logger.Log(ctx, event))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "role created", line["message"])
	assert.Equal(t, "admin.role_create", line["event_type"])
	assert.Equal(t, "success", line["status"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "user-1", line["user_id"])
	assert.Equal(t, "role-1", line["resource_id"])
	assert.Equal(t, "192.0.2.1", line["ip_address"])
	assert.Equal(t, "orders_default", line["meta_name"])
	assert.Equal(t, true, line["audit"])
}

func TestMiddleware_LogsMutationsAndFailures(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMiddleware(NewLogrusLogger(&buf), false)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, contextkeys.GetRequestStartTime(r.Context()).IsZero())
		switch r.URL.Path {
		case "/denied":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/gateway/spec", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/endpoints/sync", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/denied", nil))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "/endpoints/sync", lines[0]["path"])
	assert.Equal(t, "success", lines[0]["status"])
	assert.Equal(t, "/denied", lines[1]["path"])
	assert.Equal(t, "denied", lines[1]["status"])
	assert.EqualValues(t, http.StatusForbidden, lines[1]["status_code"])
}

func TestMiddleware_LogAll(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMiddleware(NewLogrusLogger(&buf), true)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/gateway/spec", nil))

	assert.Len(t, decodeLines(t, &buf), 1)
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.NoError(t, l.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, l.Close())
}
