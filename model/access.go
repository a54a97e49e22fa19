package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is a principal's role class.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleCreator  Role = "creator"
	RoleFan      Role = "fan"
)

// ParseRole accepts a known role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOperator, RoleAdmin, RoleCreator, RoleFan:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Privileged reports whether the role bypasses per-asset grants.
func (r Role) Privileged() bool {
	return r == RoleOperator || r == RoleAdmin
}

// UserRole assigns a role to a principal.
type UserRole struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PrincipalID string    `gorm:"size:64;index" json:"principalId"`
	Role        Role      `gorm:"size:32" json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AccessGrant lets a non-privileged principal view exactly one asset.
type AccessGrant struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PrincipalID string    `gorm:"size:64;uniqueIndex:idx_grant_principal_media" json:"principalId"`
	MediaID     string    `gorm:"size:64;uniqueIndex:idx_grant_principal_media" json:"mediaId"`
	CreatedAt   time.Time `json:"createdAt"`
}
