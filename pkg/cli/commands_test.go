package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/endpoints"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteArgs(t *testing.T) []string {
	t.Helper()
	return []string{"-driver", "sqlite", "-database-url", filepath.Join(t.TempDir(), "gatekeeper.db")}
}

func run(t *testing.T, name string, args ...string) string {
	t.Helper()
	out := captureStdout(t)
	require.NoError(t, NewRootCommand().ExecuteArgs(append([]string{name}, args...)))
	return out.String()
}

func TestMigrateBootstrapSyncSnapshot(t *testing.T) {
	db := sqliteArgs(t)

	assert.Equal(t, "Applied 5 migration(s)\n", run(t, "migrate", db...))
	assert.Equal(t, "Applied 0 migration(s)\n", run(t, "migrate", db...))

	var boot bootstrapResult
	out := run(t, "bootstrap", append(db, "-tenant", "acme", "-identifier", "root", "-password", "correct horse")...)
	require.NoError(t, json.Unmarshal([]byte(out), &boot))
	assert.NotEmpty(t, boot.TenantID)
	assert.NotEmpty(t, boot.UserID)
	assert.Equal(t, rbac.RoleHubAdmin, boot.Role)

	manifest := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`service: billing
endpoints:
  - method: GET
    path: /invoices/{id}
    permission: invoice:read
  - method: POST
    path: /invoices
    permission: invoice:write
`), 0o600))

	var result endpoints.SyncResult
	out = run(t, "sync", append(db, "-f", manifest)...)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "billing", result.ServiceName)
	assert.Equal(t, 2, result.CreatedEndpoints)
	assert.Equal(t, 2, result.CreatedPermissions)

	// same manifest again creates nothing
	out = run(t, "sync", append(db, "-f", manifest)...)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 0, result.CreatedEndpoints)
	assert.Equal(t, 2, result.SkippedEndpoints)

	var snap endpoints.Snapshot
	out = run(t, "snapshot", db...)
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Endpoints, 2)
	assert.NotEqual(t, endpoints.EmptyVersion, snap.Version)
}

func TestSync_RequiresManifest(t *testing.T) {
	captureStdout(t)
	err := NewRootCommand().ExecuteArgs(append([]string{"sync"}, sqliteArgs(t)...))
	assert.EqualError(t, err, "-f is required")
}

func TestHashPassword(t *testing.T) {
	oldStdin := stdin
	stdin = strings.NewReader("correct horse battery\n")
	t.Cleanup(func() { stdin = oldStdin })

	out := run(t, "hash-password", "-cost", "4")
	hash := strings.TrimSpace(out)
	assert.True(t, auth.CheckPassword(hash, "correct horse battery"))

	out = run(t, "hash-password", "-cost", "4", "-password", "inline")
	assert.True(t, auth.CheckPassword(strings.TrimSpace(out), "inline"))
}

func TestReadSecret_EmptyStdin(t *testing.T) {
	oldStdin := stdin
	stdin = strings.NewReader("")
	t.Cleanup(func() { stdin = oldStdin })

	_, err := readSecret("-")
	assert.EqualError(t, err, "empty password")
}
