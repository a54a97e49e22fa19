package access

import (
	"context"
	"errors"
	"testing"

	"Fanvault/model"
)

type fakeDirectory struct {
	roles    map[string][]model.Role
	grants   map[string]bool // principal|media
	rolesErr error
	grantErr error
}

func (f *fakeDirectory) RolesFor(ctx context.Context, principalID string) ([]model.Role, error) {
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	return f.roles[principalID], nil
}

func (f *fakeDirectory) HasGrant(ctx context.Context, principalID, mediaID string) (bool, error) {
	if f.grantErr != nil {
		return false, f.grantErr
	}
	return f.grants[principalID+"|"+mediaID], nil
}

func TestAuthorize(t *testing.T) {
	dir := &fakeDirectory{
		roles: map[string][]model.Role{
			"op":      {model.RoleOperator},
			"admin":   {model.RoleFan, model.RoleAdmin},
			"fan":     {model.RoleFan},
			"creator": {model.RoleCreator},
		},
		grants: map[string]bool{
			"fan|m1":     true,
			"creator|m2": true,
		},
	}
	guard := NewGuard(dir, dir)

	tests := []struct {
		name      string
		principal string
		media     string
		want      Class
		wantErr   bool
	}{
		{"OperatorBypass", "op", "m9", ClassPrivileged, false},
		{"AdminBypass", "admin", "m9", ClassPrivileged, false},
		{"FanWithGrant", "fan", "m1", ClassGranted, false},
		{"FanOtherItem", "fan", "m2", "", true},
		{"CreatorGrantDoesNotInherit", "creator", "m1", "", true},
		{"UnknownPrincipal", "nobody", "m1", "", true},
		{"EmptyPrincipal", "", "m1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.Authorize(context.Background(), tt.principal, tt.media)
			if tt.wantErr {
				if !errors.Is(err, ErrAccessDenied) {
					t.Fatalf("Expected ErrAccessDenied, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authorize() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected class %s, got %s", tt.want, got)
			}
			if !guard.CanAccess(context.Background(), tt.principal, tt.media) {
				t.Error("Expected CanAccess to agree with Authorize")
			}
		})
	}
}

func TestLookupFailuresDeny(t *testing.T) {
	tests := []struct {
		name string
		dir  *fakeDirectory
	}{
		{"RoleLookupFails", &fakeDirectory{rolesErr: errors.New("db down")}},
		{"GrantLookupFails", &fakeDirectory{grantErr: errors.New("db down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewGuard(tt.dir, tt.dir)
			if guard.CanAccess(context.Background(), "fan", "m1") {
				t.Error("Expected denial on lookup failure")
			}
			if _, err := guard.Authorize(context.Background(), "fan", "m1"); !errors.Is(err, ErrAccessDenied) {
				t.Errorf("Expected ErrAccessDenied, got %v", err)
			}
		})
	}
}

func TestIsPrivileged(t *testing.T) {
	dir := &fakeDirectory{roles: map[string][]model.Role{"op": {model.RoleOperator}, "fan": {model.RoleFan}}}
	guard := NewGuard(dir, dir)
	if !guard.IsPrivileged(context.Background(), "op") {
		t.Error("Expected operator to be privileged")
	}
	if guard.IsPrivileged(context.Background(), "fan") {
		t.Error("Expected fan not to be privileged")
	}
}
