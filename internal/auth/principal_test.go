package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

func TestRequire(t *testing.T) {
	staff := Principal{ID: uuid.New(), Role: RoleStaff}
	customer := Principal{ID: uuid.New(), Role: RoleCustomer}

	assert.NoError(t, Require(staff, "confirm", Operators...))
	err := Require(customer, "confirm", Operators...)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestRequireOwnerOr(t *testing.T) {
	owner := uuid.New()
	assert.NoError(t, RequireOwnerOr(Principal{ID: owner, Role: RoleCustomer}, owner, "cancel", Operators...))
	assert.ErrorIs(t, RequireOwnerOr(Principal{ID: uuid.New(), Role: RoleCustomer}, owner, "cancel", Operators...), apperr.ErrUnauthorized)
	assert.NoError(t, RequireOwnerOr(Principal{ID: uuid.New(), Role: RoleManager}, owner, "cancel", Operators...))
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	p := Principal{ID: uuid.New(), Role: RoleAdmin}
	got, ok := FromContext(WithPrincipal(context.Background(), p))
	assert.True(t, ok)
	assert.Equal(t, p, got)
}
