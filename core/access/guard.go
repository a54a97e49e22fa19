// Package access decides whether a principal may receive delivery URLs for
// a media item.
package access

import (
	"context"
	"errors"

	"Fanvault/logger"
	"Fanvault/model"
)

// ErrAccessDenied is returned by Authorize when the principal may not see
// the item. Lookup failures also surface as this error.
var ErrAccessDenied = errors.New("access denied")

// Class partitions cached URLs so a URL resolved for one class of caller is
// never handed to another.
type Class string

const (
	ClassPrivileged Class = "privileged"
	ClassGranted    Class = "granted"
)

// RoleLookup resolves a principal's roles.
type RoleLookup interface {
	RolesFor(ctx context.Context, principalID string) ([]model.Role, error)
}

// GrantLookup reports whether a per-item grant exists.
type GrantLookup interface {
	HasGrant(ctx context.Context, principalID, mediaID string) (bool, error)
}

// Guard implements the role bypass and per-item grant check.
type Guard struct {
	roles  RoleLookup
	grants GrantLookup
}

// NewGuard creates a guard.
func NewGuard(roles RoleLookup, grants GrantLookup) *Guard {
	return &Guard{roles: roles, grants: grants}
}

// CanAccess reports whether principalID may access mediaID.
func (g *Guard) CanAccess(ctx context.Context, principalID, mediaID string) bool {
	_, err := g.Authorize(ctx, principalID, mediaID)
	return err == nil
}

// Authorize returns the access class the principal holds for mediaID, or
// ErrAccessDenied. Privileged roles pass for every item; anyone else needs a
// grant for exactly this item.
func (g *Guard) Authorize(ctx context.Context, principalID, mediaID string) (Class, error) {
	if principalID == "" || mediaID == "" {
		return "", ErrAccessDenied
	}

	roles, err := g.roles.RolesFor(ctx, principalID)
	if err != nil {
		logger.Warn("role lookup failed, denying access",
			logger.String("principal", principalID),
			logger.String("mediaId", mediaID),
			logger.ErrorField(err))
		return "", ErrAccessDenied
	}
	for _, r := range roles {
		if r.Privileged() {
			return ClassPrivileged, nil
		}
	}

	ok, err := g.grants.HasGrant(ctx, principalID, mediaID)
	if err != nil {
		logger.Warn("grant lookup failed, denying access",
			logger.String("principal", principalID),
			logger.String("mediaId", mediaID),
			logger.ErrorField(err))
		return "", ErrAccessDenied
	}
	if !ok {
		return "", ErrAccessDenied
	}
	return ClassGranted, nil
}

// IsPrivileged reports whether principalID holds an operator-class role.
// Lookup failures count as not privileged.
func (g *Guard) IsPrivileged(ctx context.Context, principalID string) bool {
	roles, err := g.roles.RolesFor(ctx, principalID)
	if err != nil {
		return false
	}
	for _, r := range roles {
		if r.Privileged() {
			return true
		}
	}
	return false
}
