package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
)

// Config holds RBAC configuration
type Config struct {
	// CacheTTL is how long effective permissions are cached; 0 disables the cache
	CacheTTL  time.Duration
	CacheSize int

	// EnforceUsage refuses deletion of roles and permissions that are still referenced
	EnforceUsage bool

	// GuardRoutes protects the admin routes with the hub permissions
	GuardRoutes bool
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:     30 * time.Second,
		CacheSize:    10000,
		EnforceUsage: true,
		GuardRoutes:  true,
	}
}

// Manager manages all RBAC components
type Manager struct {
	store      *Store
	resolver   *Resolver
	handlers   *Handlers
	middleware *PermissionMiddleware
	config     Config
}

// NewManager creates a new RBAC manager. users may be nil.
func NewManager(db *sql.DB, users UserDirectory, auditLogger audit.Logger, config Config) *Manager {
	store := NewStore(db)

	resolverConfig := ResolverConfig{
		Users:     users,
		CacheTTL:  config.CacheTTL,
		CacheSize: config.CacheSize,
	}
	if config.EnforceUsage {
		usage := NewSQLUsageChecker(store)
		resolverConfig.RoleUsage = usage
		resolverConfig.PermissionUsage = usage
	}

	resolver := NewResolver(store, resolverConfig)
	middleware := NewPermissionMiddleware(resolver)
	handlers := NewHandlers(resolver, auditLogger)
	if config.GuardRoutes {
		handlers.WithPermissions(middleware)
	}

	return &Manager{
		store:      store,
		resolver:   resolver,
		handlers:   handlers,
		middleware: middleware,
		config:     config,
	}
}

// Initialize seeds the built-in roles and permissions. Migrations are run by
// the storage package before this is called.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.resolver.InitializeBuiltIns(ctx); err != nil {
		return fmt.Errorf("failed to initialize built-in roles: %w", err)
	}
	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetStore returns the RBAC store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetResolver returns the resolver
func (m *Manager) GetResolver() *Resolver {
	return m.resolver
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}
