package endpoints

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRolePolicies(t *testing.T) {
	_, ok := NoDefaultRole{}.DefaultRoleName("orders")
	assert.False(t, ok)

	name, ok := SuffixRolePolicy{Suffix: "_default"}.DefaultRoleName("orders")
	assert.True(t, ok)
	assert.Equal(t, "orders_default", name)

	_, ok = SuffixRolePolicy{Suffix: "_default"}.DefaultRoleName("")
	assert.False(t, ok)

	static := StaticRolePolicy{"orders": "order-admins", "empty": ""}
	name, ok = static.DefaultRoleName("orders")
	assert.True(t, ok)
	assert.Equal(t, "order-admins", name)
	_, ok = static.DefaultRoleName("empty")
	assert.False(t, ok)
	_, ok = static.DefaultRoleName("billing")
	assert.False(t, ok)
}

func TestPolicyFromConfig(t *testing.T) {
	p, err := PolicyFromConfig("", "", nil)
	require.NoError(t, err)
	assert.IsType(t, NoDefaultRole{}, p)

	p, err = PolicyFromConfig("Suffix", "", nil)
	require.NoError(t, err)
	assert.Equal(t, SuffixRolePolicy{Suffix: "_default"}, p)

	p, err = PolicyFromConfig("static", "", map[string]string{"a": "b"})
	require.NoError(t, err)
	name, ok := p.DefaultRoleName("a")
	assert.True(t, ok)
	assert.Equal(t, "b", name)

	_, err = PolicyFromConfig("prefix", "", nil)
	assert.Error(t, err)
}

func TestLoadManifest(t *testing.T) {
	m, err := LoadManifest(strings.NewReader(`
service: orders
endpoints:
  - method: GET
    path: /orders/{id}
    permission: order:read
    description: Read an order
  - method: post
    path: /orders
    permission: order:write
`))
	require.NoError(t, err)
	assert.Equal(t, "orders", m.Service)
	require.Len(t, m.Endpoints, 2)
	assert.Equal(t, EndpointDescriptor{
		HTTPMethod:    "GET",
		PathPattern:   "/orders/{id}",
		PermissionKey: "order:read",
		Description:   "Read an order",
	}, m.Endpoints[0])
	assert.Equal(t, "post", m.Endpoints[1].HTTPMethod)

	_, err = LoadManifest(strings.NewReader(""))
	assert.Error(t, err)

	_, err = LoadManifest(strings.NewReader("endpoints: []\n"))
	assert.Error(t, err)

	_, err = LoadManifest(strings.NewReader("service: x\nroutes: []\n"))
	assert.Error(t, err)
}
