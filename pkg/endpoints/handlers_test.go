package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAudit struct {
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func newTestRouter(t *testing.T) (*mux.Router, *Registry, *recordingAudit) {
	t.Helper()
	registry, _ := newTestRegistry(t, nil)
	rec := &recordingAudit{}
	router := mux.NewRouter()
	NewHandlers(registry, rec).RegisterRoutes(router)
	return router, registry, rec
}

func do(router http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func syncBody() map[string]interface{} {
	return map[string]interface{}{
		"serviceName": "users",
		"endpoints": []map[string]string{
			{"httpMethod": "GET", "pathPattern": "/api/v1/users/{id}", "permissionKey": "user:read"},
			{"httpMethod": "POST", "pathPattern": "/api/v1/users", "permissionKey": "user:write"},
		},
	}
}

func TestHandlers_SyncAndSpec(t *testing.T) {
	router, _, events := newTestRouter(t)

	rec := do(router, http.MethodPost, "/endpoints/sync", syncBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.CreatedEndpoints)
	assert.Equal(t, 2, result.CreatedPermissions)
	require.Len(t, events.events, 1)
	assert.Equal(t, audit.EventTypeAdminEndpointSync, events.events[0].EventType)
	assert.Equal(t, "users", events.events[0].ResourceID)

	rec = do(router, http.MethodGet, "/gateway/spec", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Len(t, snap.Endpoints, 2)
	assert.Equal(t, `"`+snap.Version+`"`, etag)

	rec = do(router, http.MethodGet, "/gateway/spec", nil, "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(router, http.MethodGet, "/gateway/spec", nil, "If-None-Match", `"12"`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_Sync_Invalid(t *testing.T) {
	router, _, events := newTestRouter(t)

	rec := do(router, http.MethodPost, "/endpoints/sync", map[string]interface{}{"endpoints": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := syncBody()
	body["endpoints"] = []map[string]string{{"httpMethod": "FETCH", "pathPattern": "/x", "permissionKey": "x:y"}}
	rec = do(router, http.MethodPost, "/endpoints/sync", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_method")

	body["endpoints"] = []map[string]string{{"httpMethod": "GET", "pathPattern": "/x/**/y", "permissionKey": "x:y"}}
	rec = do(router, http.MethodPost, "/endpoints/sync", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"invalid_input"`)
	require.Len(t, events.events, 1)
	assert.Equal(t, audit.EventStatusFailure, events.events[0].Status)
}

func TestHandlers_Match(t *testing.T) {
	router, _, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/endpoints/sync", syncBody()).Code)

	rec := do(router, http.MethodPost, "/gateway/match", map[string]string{"path": "/api/v1/users/42", "method": "get"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp matchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Matched)
	require.NotNil(t, resp.Endpoint)
	assert.Equal(t, "user:read", resp.Endpoint.PermissionKey)

	rec = do(router, http.MethodPost, "/gateway/match", map[string]string{"path": "/api/v1/users/42", "method": "POST"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = matchResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Matched)
	assert.Nil(t, resp.Endpoint)

	rec = do(router, http.MethodPost, "/gateway/match", map[string]string{"path": "users", "method": "GET"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_EndpointCRUD(t *testing.T) {
	router, registry, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/endpoints/sync", syncBody()).Code)

	rec := do(router, http.MethodPost, "/endpoints", map[string]interface{}{
		"serviceName":   "users",
		"pathPattern":   "/api/v1/users/{id}",
		"httpMethod":    "PUT",
		"permissionKey": "user:write",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ep Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ep))

	rec = do(router, http.MethodPost, "/endpoints", map[string]interface{}{
		"serviceName":   "users",
		"pathPattern":   "/api/v1/users/{id}",
		"httpMethod":    "PUT",
		"permissionKey": "user:write",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(router, http.MethodGet, "/endpoints?service=users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var eps []Endpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eps))
	assert.Len(t, eps, 3)

	rec = do(router, http.MethodPut, "/endpoints/"+ep.ID, map[string]interface{}{"isPublic": true})
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := registry.GetEndpoint(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPublic)

	rec = do(router, http.MethodGet, "/endpoints/"+ep.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodDelete, "/endpoints/"+ep.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(router, http.MethodGet, "/endpoints/"+ep.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, http.MethodDelete, "/endpoints/"+ep.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubResolver struct {
	effective *rbac.EffectivePermissions
}

func (s stubResolver) ResolveEffectivePermissions(ctx context.Context, userID string) (*rbac.EffectivePermissions, error) {
	return s.effective, nil
}

func TestHandlers_Guarded(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	router := mux.NewRouter()
	pm := rbac.NewPermissionMiddleware(stubResolver{effective: &rbac.EffectivePermissions{
		PermissionKeys: []string{rbac.PermEndpointRead},
	}})
	NewHandlers(registry, nil).WithPermissions(pm).RegisterRoutes(router)

	rec := do(router, http.MethodGet, "/gateway/spec", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	withUser := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		req = req.WithContext(contextkeys.WithUserID(req.Context(), "gateway"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, withUser(http.MethodGet, "/gateway/spec", nil).Code)
	assert.Equal(t, http.StatusForbidden, withUser(http.MethodPost, "/endpoints/sync", syncBody()).Code)
}
