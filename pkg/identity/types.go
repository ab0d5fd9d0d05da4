// Package identity holds tenants, organizations, users and services, the
// durable records every other gatekeeper component reads from.
package identity

import (
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/apperrors"
)

// Status is the lifecycle state shared by tenants, organizations and services
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// UserStatus is the lifecycle state of a user
type UserStatus string

const (
	UserActive    UserStatus = "ACTIVE"
	UserInactive  UserStatus = "INACTIVE"
	UserSuspended UserStatus = "SUSPENDED"
	UserDeleted   UserStatus = "DELETED"
)

// Tenant is the top-level isolation boundary
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Organization belongs to exactly one tenant
type Organization struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account that can log in. Identifier is unique per organization.
type User struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	OrganizationID string     `json:"organization_id"`
	Identifier     string     `json:"identifier"`
	Email          string     `json:"email,omitempty"`
	PhoneNumber    string     `json:"phone_number,omitempty"`
	HashedPassword string     `json:"-"`
	Status         UserStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsActive reports whether the user may authenticate
func (u *User) IsActive() bool {
	return u.Status == UserActive
}

// Service is a downstream API registered with the hub
type Service struct {
	ID          string    `json:"id"`
	ServiceCode string    `json:"service_code"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidStatus reports whether s is a known tenant/organization/service status
func ValidStatus(s Status) bool {
	return s == StatusActive || s == StatusInactive
}

// ValidUserStatus reports whether s is a known user status
func ValidUserStatus(s UserStatus) bool {
	switch s {
	case UserActive, UserInactive, UserSuspended, UserDeleted:
		return true
	}
	return false
}

// CheckUserTransition returns an error when a user may not move from one
// status to another. DELETED is terminal.
func CheckUserTransition(from, to UserStatus) error {
	if !ValidUserStatus(to) {
		return apperrors.InvalidInput("unknown user status %q", to)
	}
	if from == UserDeleted {
		return fmt.Errorf("%w: user is deleted", apperrors.ErrConflict)
	}
	return nil
}
