package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

type Role string

const (
	RoleCustomer      Role = "customer"
	RoleStaff         Role = "staff"
	RoleLabTechnician Role = "lab_technician"
	RoleManager       Role = "manager"
	RoleAdmin         Role = "admin"
	// RoleSystem is used by the expiry sweep and gateway callbacks.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleLabTechnician, RoleManager, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Principal is the authenticated caller handed to every core operation.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

// System is the principal used for background work.
var System = Principal{Role: RoleSystem}

// Operators may confirm, cancel and change slot status.
var Operators = []Role{RoleStaff, RoleManager, RoleAdmin, RoleSystem}

// Lab may drive the testing leg.
var Lab = []Role{RoleLabTechnician, RoleStaff, RoleManager, RoleAdmin, RoleSystem}

func (p Principal) Is(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Require fails with ErrUnauthorized unless p holds one of roles.
func Require(p Principal, action string, roles ...Role) error {
	if p.Is(roles...) {
		return nil
	}
	return apperr.New(apperr.KindUnauthorized, "role %q may not %s", p.Role, action)
}

// RequireOwnerOr allows the owning customer or any of roles.
func RequireOwnerOr(p Principal, ownerID uuid.UUID, action string, roles ...Role) error {
	if p.Role == RoleCustomer && p.ID == ownerID {
		return nil
	}
	return Require(p, action, roles...)
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
