package endpoints

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"golang.org/x/sync/singleflight"
)

// PermissionCatalog is the slice of the RBAC resolver the registry needs
type PermissionCatalog interface {
	GetPermissionByKey(ctx context.Context, key string) (*rbac.Permission, error)
	CreatePermission(ctx context.Context, perm *rbac.Permission) error
	FindGlobalRoleByName(ctx context.Context, name string) (*rbac.Role, error)
	GrantRolePermissions(ctx context.Context, roleID string, permissionIDs []string) ([]rbac.RolePermission, error)
	RoleNamesByPermission(ctx context.Context) (map[string][]string, error)
}

// Registry matches requests to endpoints, syncs service endpoints and
// builds the gateway snapshot
type Registry struct {
	store   *Store
	catalog PermissionCatalog
	policy  DefaultRolePolicy
	metrics *observability.Metrics
	group   singleflight.Group
}

// NewRegistry creates a registry. A nil policy maps nothing.
func NewRegistry(store *Store, catalog PermissionCatalog, policy DefaultRolePolicy) *Registry {
	if policy == nil {
		policy = NoDefaultRole{}
	}
	return &Registry{
		store:   store,
		catalog: catalog,
		policy:  policy,
	}
}

// WithMetrics records sync counts and snapshot build times
func (r *Registry) WithMetrics(m *observability.Metrics) *Registry {
	r.metrics = m
	return r
}

// Match returns the most specific live endpoint for (path, method), or nil
// when none matches
func (r *Registry) Match(ctx context.Context, path, method string) (*Endpoint, error) {
	method = NormalizeMethod(method)
	if path == "" {
		path = "/"
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	candidates, err := r.store.Candidates(ctx, method, path)
	if err != nil {
		return nil, err
	}
	return FirstMatch(candidates, path), nil
}

// SyncEndpoints registers a service's endpoints. Every descriptor is
// validated before anything is written; re-running with the same input
// creates nothing.
func (r *Registry) SyncEndpoints(ctx context.Context, serviceName string, descriptors []EndpointDescriptor) (*SyncResult, error) {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		return nil, apperrors.InvalidInput("service name is required")
	}

	normalized := make([]EndpointDescriptor, 0, len(descriptors))
	for i, d := range descriptors {
		nd, err := d.normalize()
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		normalized = append(normalized, nd)
	}

	result := &SyncResult{ServiceName: serviceName, TotalEndpoints: len(normalized)}
	logger := observability.FromContext(ctx).WithField("service", serviceName)

	var defaultRole *rbac.Role
	if name, ok := r.policy.DefaultRoleName(serviceName); ok {
		role, err := r.catalog.FindGlobalRoleByName(ctx, name)
		switch {
		case err == nil:
			defaultRole = role
		case errors.Is(err, apperrors.ErrNotFound):
			logger.WithField("role", name).Debug("Default role does not exist, skipping grants")
		default:
			return nil, err
		}
	}

	for _, d := range normalized {
		perm, created, err := r.ensurePermission(ctx, d)
		if err != nil {
			return nil, err
		}
		if created {
			result.CreatedPermissions++
		}

		ep := &Endpoint{
			PermissionID: perm.ID,
			ServiceName:  serviceName,
			PathPattern:  d.PathPattern,
			HTTPMethod:   d.HTTPMethod,
			Description:  d.Description,
		}
		switch _, err := r.store.FindLive(ctx, d.PathPattern, d.HTTPMethod); {
		case err == nil:
			result.SkippedEndpoints++
		case errors.Is(err, apperrors.ErrNotFound):
			if err := r.store.Create(ctx, ep); err != nil {
				// lost a race with a concurrent sync
				if !errors.Is(err, apperrors.ErrConflict) {
					return nil, err
				}
				result.SkippedEndpoints++
			} else {
				result.CreatedEndpoints++
			}
		default:
			return nil, err
		}

		if defaultRole != nil {
			granted, err := r.catalog.GrantRolePermissions(ctx, defaultRole.ID, []string{perm.ID})
			if err != nil {
				return nil, err
			}
			result.MappedRolePermissions += len(granted)
		}
	}

	r.metrics.RecordSync(result.CreatedPermissions, result.CreatedEndpoints, result.SkippedEndpoints, result.MappedRolePermissions)
	logger.WithFields(map[string]interface{}{
		"total":               result.TotalEndpoints,
		"created_permissions": result.CreatedPermissions,
		"created_endpoints":   result.CreatedEndpoints,
		"skipped_endpoints":   result.SkippedEndpoints,
		"mapped_roles":        result.MappedRolePermissions,
	}).Info("Endpoints synced")

	return result, nil
}

func (r *Registry) ensurePermission(ctx context.Context, d EndpointDescriptor) (*rbac.Permission, bool, error) {
	perm, err := r.catalog.GetPermissionByKey(ctx, d.PermissionKey)
	if err == nil {
		return perm, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, err
	}

	perm = &rbac.Permission{Key: d.PermissionKey, Description: d.Description, Type: rbac.TypeCustom}
	if err := r.catalog.CreatePermission(ctx, perm); err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, false, err
		}
		perm, err = r.catalog.GetPermissionByKey(ctx, d.PermissionKey)
		if err != nil {
			return nil, false, err
		}
		return perm, false, nil
	}
	return perm, true, nil
}

// snapshotBuildTimeout bounds a shared snapshot build, which no longer
// follows any single caller's cancellation
const snapshotBuildTimeout = 30 * time.Second

// BuildSpecSnapshot returns every live endpoint with its required permission
// and roles. Concurrent callers share one build. A caller that gives up
// returns its own context error without failing the others.
func (r *Registry) BuildSpecSnapshot(ctx context.Context) (*Snapshot, error) {
	ch := r.group.DoChan("snapshot", func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotBuildTimeout)
		defer cancel()

		start := time.Now()
		snap, err := r.buildSnapshot(buildCtx)
		if err == nil {
			r.metrics.ObserveSnapshotBuild(time.Since(start))
		}
		return snap, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) buildSnapshot(ctx context.Context) (*Snapshot, error) {
	// read before the rows so a concurrent change can only make the
	// version trail the content, never lead it
	revision, err := r.store.revision(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.snapshotRows(ctx)
	if err != nil {
		return nil, err
	}
	rolesByPerm, err := r.catalog.RoleNamesByPermission(ctx)
	if err != nil {
		return nil, err
	}

	endpoints := make([]SpecEndpoint, 0, len(rows))
	for _, row := range rows {
		roles := rolesByPerm[row.PermissionID]
		if roles == nil {
			roles = []string{}
		}
		endpoints = append(endpoints, SpecEndpoint{
			ServiceName:         row.ServiceName,
			PathPattern:         row.PathPattern,
			HTTPMethod:          row.HTTPMethod,
			RequiredPermissions: []string{row.PermissionKey},
			RequiredRoles:       roles,
			IsPublic:            row.IsPublic,
			Description:         row.Description,
		})
	}

	snap := &Snapshot{Version: EmptyVersion, Endpoints: endpoints}
	if revision > 0 {
		snap.UpdatedAt = time.UnixMilli(revision).UTC()
		snap.Version = strconv.FormatInt(revision, 10)
	}
	return snap, nil
}

// CreateEndpoint registers one endpoint against an existing permission
func (r *Registry) CreateEndpoint(ctx context.Context, req CreateEndpointRequest) (*Endpoint, error) {
	d, err := EndpointDescriptor{
		HTTPMethod:    req.HTTPMethod,
		PathPattern:   req.PathPattern,
		PermissionKey: req.PermissionKey,
		Description:   req.Description,
	}.normalize()
	if err != nil {
		return nil, err
	}
	serviceName := strings.TrimSpace(req.ServiceName)
	if serviceName == "" {
		return nil, apperrors.InvalidInput("service name is required")
	}

	perm, err := r.catalog.GetPermissionByKey(ctx, d.PermissionKey)
	if err != nil {
		return nil, err
	}

	ep := &Endpoint{
		PermissionID:  perm.ID,
		PermissionKey: perm.Key,
		ServiceName:   serviceName,
		PathPattern:   d.PathPattern,
		HTTPMethod:    d.HTTPMethod,
		Description:   d.Description,
		IsPublic:      req.IsPublic,
	}
	if err := r.store.Create(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// GetEndpoint returns a live endpoint
func (r *Registry) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	return r.store.Get(ctx, id)
}

// ListEndpoints lists live endpoints of a service, or of all services
func (r *Registry) ListEndpoints(ctx context.Context, serviceName string) ([]Endpoint, error) {
	return r.store.List(ctx, serviceName)
}

// UpdateEndpoint rebinds the permission or changes description and public flag
func (r *Registry) UpdateEndpoint(ctx context.Context, id string, req UpdateEndpointRequest) (*Endpoint, error) {
	ep, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.PermissionKey != nil {
		perm, err := r.catalog.GetPermissionByKey(ctx, strings.TrimSpace(*req.PermissionKey))
		if err != nil {
			return nil, err
		}
		ep.PermissionID = perm.ID
		ep.PermissionKey = perm.Key
	}
	if req.Description != nil {
		ep.Description = *req.Description
	}
	if req.IsPublic != nil {
		ep.IsPublic = *req.IsPublic
	}

	if err := r.store.Update(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// DeleteEndpoint soft-deletes an endpoint
func (r *Registry) DeleteEndpoint(ctx context.Context, id string) error {
	return r.store.SoftDelete(ctx, id)
}
