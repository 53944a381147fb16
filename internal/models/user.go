package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleSuper   Role = "SUPER"
	RoleAdmin   Role = "ADMIN"
	RoleStaff   Role = "STAFF"
	RoleStudent Role = "STUDENT"
)

// User represents a staff member, student or administrator of a tenant
type User struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientOrganizationID string             `bson:"client_organization_id" json:"clientOrganizationId"`
	FirstName            string             `bson:"first_name" json:"firstName"`
	LastName             string             `bson:"last_name" json:"lastName"`
	Email                string             `bson:"email" json:"email"`
	Phone                string             `bson:"phone,omitempty" json:"phone,omitempty"`
	PasswordHash         string             `bson:"password_hash" json:"-"`
	Role                 Role               `bson:"role" json:"role"`
	IsActive             bool               `bson:"is_active" json:"isActive"`
	LastLogin            *time.Time         `bson:"last_login,omitempty" json:"lastLogin,omitempty"`
	CreatedDate          time.Time          `bson:"created_date" json:"createdDate"`
	ModifiedDate         time.Time          `bson:"modified_date" json:"modifiedDate"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	// ClientOrganizationID narrows the lookup when an email exists in several tenants.
	ClientOrganizationID string `json:"clientOrganizationId"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID               string `json:"userId"`
	Email                string `json:"email"`
	ClientOrganizationID string `json:"clientOrganizationId"`
	Role                 Role   `json:"role"`
	Exp                  int64  `json:"exp"`
}

// Scope is the tenant partition a caller may read and write.
type Scope struct {
	TenantID string
	Global   bool
}

// Scope returns the tenant partition for the claims. SUPER is not tenant bound.
func (c *Claims) Scope() Scope {
	if c.Role == RoleSuper {
		return Scope{TenantID: c.ClientOrganizationID, Global: true}
	}
	return Scope{TenantID: c.ClientOrganizationID}
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleSuper, RoleAdmin, RoleStaff, RoleStudent:
		return true
	default:
		return false
	}
}
