package endpoints

import (
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// Endpoint binds a (pattern, method) pair of a service to the permission
// required to call it
type Endpoint struct {
	ID            string     `json:"id"`
	PermissionID  string     `json:"permissionId"`
	PermissionKey string     `json:"permissionKey"`
	ServiceName   string     `json:"serviceName"`
	PathPattern   string     `json:"pathPattern"`
	HTTPMethod    string     `json:"httpMethod"`
	Description   string     `json:"description"`
	IsPublic      bool       `json:"isPublic"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
}

// EndpointDescriptor is one endpoint declared by a service during sync
type EndpointDescriptor struct {
	HTTPMethod    string `json:"httpMethod" yaml:"method" validate:"required,http_method"`
	PathPattern   string `json:"pathPattern" yaml:"path" validate:"required,startswith=/"`
	PermissionKey string `json:"permissionKey" yaml:"permission" validate:"required,permission_key"`
	Description   string `json:"description" yaml:"description"`
}

// SyncResult reports what a sync wrote
type SyncResult struct {
	ServiceName           string `json:"serviceName"`
	TotalEndpoints        int    `json:"totalEndpoints"`
	CreatedPermissions    int    `json:"createdPermissions"`
	CreatedEndpoints      int    `json:"createdEndpoints"`
	SkippedEndpoints      int    `json:"skippedEndpoints"`
	MappedRolePermissions int    `json:"mappedRolePermissions"`
}

// SpecEndpoint is one entry of the gateway snapshot
type SpecEndpoint struct {
	ServiceName         string   `json:"serviceName"`
	PathPattern         string   `json:"pathPattern"`
	HTTPMethod          string   `json:"httpMethod"`
	RequiredPermissions []string `json:"requiredPermissions"`
	RequiredRoles       []string `json:"requiredRoles"`
	IsPublic            bool     `json:"isPublic"`
	Description         string   `json:"description"`
}

// Snapshot is the versioned gateway specification. Version only moves
// forward, and does so whenever an endpoint, its permission or the roles
// holding it change.
type Snapshot struct {
	Version   string         `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Endpoints []SpecEndpoint `json:"endpoints"`
}

// EmptyVersion is the snapshot version when no endpoint was ever registered
const EmptyVersion = "0"

// CreateEndpointRequest registers a single endpoint against an existing permission
type CreateEndpointRequest struct {
	ServiceName   string `json:"serviceName" validate:"required"`
	PathPattern   string `json:"pathPattern" validate:"required,startswith=/"`
	HTTPMethod    string `json:"httpMethod" validate:"required,http_method"`
	PermissionKey string `json:"permissionKey" validate:"required,permission_key"`
	Description   string `json:"description"`
	IsPublic      bool   `json:"isPublic"`
}

// UpdateEndpointRequest holds the mutable endpoint fields
type UpdateEndpointRequest struct {
	PermissionKey *string `json:"permissionKey,omitempty" validate:"omitempty,permission_key"`
	Description   *string `json:"description,omitempty"`
	IsPublic      *bool   `json:"isPublic,omitempty"`
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod upper-cases and trims an HTTP method
func NormalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}

// ValidateMethod normalizes method and rejects unknown verbs
func ValidateMethod(method string) (string, error) {
	m := NormalizeMethod(method)
	if !validMethods[m] {
		return "", apperrors.InvalidInput("unsupported HTTP method %q", method)
	}
	return m, nil
}

func (d EndpointDescriptor) normalize() (EndpointDescriptor, error) {
	method, err := ValidateMethod(d.HTTPMethod)
	if err != nil {
		return d, err
	}
	pattern := strings.TrimSpace(d.PathPattern)
	if err := ValidatePattern(pattern); err != nil {
		return d, err
	}
	key := strings.TrimSpace(d.PermissionKey)
	if _, _, err := rbac.ParsePermissionKey(key); err != nil {
		return d, err
	}
	return EndpointDescriptor{
		HTTPMethod:    method,
		PathPattern:   pattern,
		PermissionKey: key,
		Description:   d.Description,
	}, nil
}
