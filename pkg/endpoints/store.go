package endpoints

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// Store persists endpoint bindings
type Store struct {
	db *sql.DB
}

// NewStore creates a new endpoint store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const endpointSelect = `
	SELECT e.id, e.permission_id, p.perm_key, e.service_name, e.url_pattern, e.http_method,
	       e.description, e.is_public, e.created_at, e.updated_at, e.deleted_at
	FROM permission_endpoints e
	JOIN permissions p ON p.id = e.permission_id`

func scanEndpoint(scanner interface {
	Scan(dest ...interface{}) error
}) (*Endpoint, error) {
	var ep Endpoint
	var deletedAt sql.NullTime
	err := scanner.Scan(&ep.ID, &ep.PermissionID, &ep.PermissionKey, &ep.ServiceName, &ep.PathPattern,
		&ep.HTTPMethod, &ep.Description, &ep.IsPublic, &ep.CreatedAt, &ep.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		ep.DeletedAt = &t
	}
	return &ep, nil
}

func (s *Store) query(ctx context.Context, op, query string, args ...interface{}) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Classify(op, err)
	}
	defer rows.Close()

	result := []Endpoint{}
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, storage.Classify(op, err)
		}
		result = append(result, *ep)
	}
	return result, storage.Classify(op, rows.Err())
}

// specChange runs fn and advances the spec revision in one transaction
func (s *Store) specChange(ctx context.Context, op string, now time.Time, fn func(tx *sql.Tx) error) error {
	return storage.InTx(ctx, s.db, op, func(tx *sql.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return storage.BumpSpecRevision(ctx, tx, now)
	})
}

// Create inserts a live endpoint. A live duplicate of (pattern, method) is a Conflict.
func (s *Store) Create(ctx context.Context, ep *Endpoint) error {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	err := s.specChange(ctx, "create endpoint", now, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO permission_endpoints
				(id, permission_id, service_name, url_pattern, static_prefix, http_method, description, is_public, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, ep.ID, ep.PermissionID, ep.ServiceName, ep.PathPattern, StaticPrefix(ep.PathPattern),
			ep.HTTPMethod, ep.Description, ep.IsPublic, now, now)
		return storage.Classify("create endpoint", err)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return apperrors.Conflict("endpoint %s %s already exists", ep.HTTPMethod, ep.PathPattern)
		}
		return err
	}

	ep.CreatedAt = now
	ep.UpdatedAt = now
	return nil
}

// Get returns a live endpoint by id
func (s *Store) Get(ctx context.Context, id string) (*Endpoint, error) {
	ep, err := scanEndpoint(s.db.QueryRowContext(ctx, endpointSelect+` WHERE e.id = $1 AND e.deleted_at IS NULL`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("endpoint %s", id)
	}
	if err != nil {
		return nil, storage.Classify("get endpoint", err)
	}
	return ep, nil
}

// FindLive returns the live endpoint for (pattern, method), NotFound when absent
func (s *Store) FindLive(ctx context.Context, pattern, method string) (*Endpoint, error) {
	ep, err := scanEndpoint(s.db.QueryRowContext(ctx,
		endpointSelect+` WHERE e.url_pattern = $1 AND e.http_method = $2 AND e.deleted_at IS NULL`, pattern, method))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("endpoint %s %s", method, pattern)
	}
	if err != nil {
		return nil, storage.Classify("find endpoint", err)
	}
	return ep, nil
}

// List returns live endpoints, all services when serviceName is empty
func (s *Store) List(ctx context.Context, serviceName string) ([]Endpoint, error) {
	if serviceName == "" {
		return s.query(ctx, "list endpoints",
			endpointSelect+` WHERE e.deleted_at IS NULL ORDER BY e.service_name, e.url_pattern, e.http_method`)
	}
	return s.query(ctx, "list endpoints",
		endpointSelect+` WHERE e.deleted_at IS NULL AND e.service_name = $1 ORDER BY e.url_pattern, e.http_method`, serviceName)
}

// Candidates returns live endpoints for method whose static prefix is a
// prefix of path. Callers still have to run MatchPattern.
func (s *Store) Candidates(ctx context.Context, method, path string) ([]Endpoint, error) {
	return s.query(ctx, "match endpoint", endpointSelect+`
		WHERE e.http_method = $1 AND e.deleted_at IS NULL AND $2 LIKE (e.static_prefix || '%')
	`, method, path)
}

// Update persists the permission, description and public flag of an endpoint
func (s *Store) Update(ctx context.Context, ep *Endpoint) error {
	now := time.Now().UTC()
	err := s.specChange(ctx, "update endpoint", now, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE permission_endpoints
			SET permission_id = $1, description = $2, is_public = $3, updated_at = $4
			WHERE id = $5 AND deleted_at IS NULL
		`, ep.PermissionID, ep.Description, ep.IsPublic, now, ep.ID)
		return affectedOne(result, err, "update endpoint", ep.ID)
	})
	if err != nil {
		return err
	}
	ep.UpdatedAt = now
	return nil
}

// SoftDelete tombstones an endpoint
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.specChange(ctx, "delete endpoint", now, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE permission_endpoints SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL
		`, now, id)
		return affectedOne(result, err, "delete endpoint", id)
	})
}

func affectedOne(result sql.Result, err error, op, id string) error {
	if err != nil {
		return storage.Classify(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storage.Classify(op, err)
	}
	if n == 0 {
		return apperrors.NotFound("endpoint %s", id)
	}
	return nil
}

// snapshotRows returns every live endpoint ordered for a stable snapshot
func (s *Store) snapshotRows(ctx context.Context) ([]Endpoint, error) {
	return s.query(ctx, "build snapshot",
		endpointSelect+` WHERE e.deleted_at IS NULL ORDER BY e.service_name, e.url_pattern, e.http_method`)
}

func (s *Store) revision(ctx context.Context) (int64, error) {
	return storage.SpecRevision(ctx, s.db)
}
