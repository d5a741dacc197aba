package kit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/auth"
)

const maxCodeAttempts = 5

// Manager owns the kit lifecycle. Kits are single-row entities, so guards
// are enforced with a conditional update on the observed status.
type Manager struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(store Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With().Str("component", "kit_manager").Logger(),
		now:    time.Now,
	}
}

// Create registers a new available kit with the next KIT-YYYYMMDD-### code.
func (m *Manager) Create(ctx context.Context, p auth.Principal, kitType Type, adminCaseID *uuid.UUID) (*Kit, error) {
	if err := auth.Require(p, "create kits", auth.Operators...); err != nil {
		return nil, err
	}
	if kitType == "" {
		kitType = TypeRegular
	}
	if kitType != TypeRegular && kitType != TypeAdministrative {
		return nil, apperr.New(apperr.KindInvalidInput, "unknown kit type %q", kitType)
	}

	day := m.now()
	prefix := CodePrefix(day)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		n, err := m.store.CountCodesWithPrefix(ctx, prefix)
		if err != nil {
			return nil, err
		}
		k, err := m.store.Create(ctx, &Kit{
			ID:          uuid.New(),
			Code:        FormatCode(day, n+1+attempt),
			Type:        kitType,
			Status:      StatusAvailable,
			AdminCaseID: adminCaseID,
		})
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.logger.Info().Str("kit_id", k.ID.String()).Str("code", k.Code).Msg("kit created")
		return k, nil
	}
	return nil, apperr.New(apperr.KindConflict, "could not allocate a kit code for %s", prefix)
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Kit, error) {
	k, err := m.store.GetByID(ctx, id)
	if errors.Is(err, ErrKitNotFound) {
		return nil, apperr.NotFound("kit", id)
	}
	return k, err
}

// Assign hands an available kit to a user.
func (m *Manager) Assign(ctx context.Context, p auth.Principal, id, userID uuid.UUID) (*Kit, error) {
	if err := auth.Require(p, "assign kits", auth.Operators...); err != nil {
		return nil, err
	}
	now := m.now()
	return m.transition(ctx, id, func(k *Kit) (Update, error) {
		if k.Status != StatusAvailable {
			return Update{}, m.stateErr(k, "assign")
		}
		return Update{From: k.Status, To: StatusAssigned, AssignedTo: &userID, AdminCaseID: k.AdminCaseID, AssignedAt: &now}, nil
	})
}

func (m *Manager) MarkUsed(ctx context.Context, p auth.Principal, id uuid.UUID) (*Kit, error) {
	if err := auth.Require(p, "mark kits used", auth.Lab...); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, func(k *Kit) (Update, error) {
		if k.Status != StatusAssigned {
			return Update{}, m.stateErr(k, "mark used")
		}
		return Update{From: k.Status, To: StatusUsed, AssignedTo: k.AssignedTo, AdminCaseID: k.AdminCaseID, AssignedAt: k.AssignedAt}, nil
	})
}

// Return moves a kit back out of use. Returning to available clears the
// assignment fields.
func (m *Manager) Return(ctx context.Context, p auth.Principal, id uuid.UUID, to Status) (*Kit, error) {
	if err := auth.Require(p, "return kits", auth.Lab...); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, apperr.New(apperr.KindInvalidInput, "unknown kit status %q", to)
	}
	return m.transition(ctx, id, func(k *Kit) (Update, error) {
		if !canReturn(k.Status, to) {
			return Update{}, m.stateErr(k, "return to "+string(to))
		}
		u := Update{From: k.Status, To: to, AssignedTo: k.AssignedTo, AdminCaseID: k.AdminCaseID, AssignedAt: k.AssignedAt}
		if to == StatusAvailable {
			u.AssignedTo, u.AdminCaseID, u.AssignedAt = nil, nil, nil
		}
		return u, nil
	})
}

// Delete is logical: the kit is recorded as damaged. Kits that are assigned
// or used cannot be deleted.
func (m *Manager) Delete(ctx context.Context, p auth.Principal, id uuid.UUID) (*Kit, error) {
	if err := auth.Require(p, "delete kits", auth.RoleManager, auth.RoleAdmin, auth.RoleStaff); err != nil {
		return nil, err
	}
	return m.transition(ctx, id, func(k *Kit) (Update, error) {
		switch k.Status {
		case StatusAssigned, StatusUsed:
			return Update{}, m.stateErr(k, "delete")
		}
		return Update{From: k.Status, To: StatusDamaged, AssignedTo: k.AssignedTo, AdminCaseID: k.AdminCaseID, AssignedAt: k.AssignedAt}, nil
	})
}

// ReleaseIfAssigned returns an assigned, unused kit to available. Kits in any
// other state are left alone and reported as not released.
func (m *Manager) ReleaseIfAssigned(ctx context.Context, id uuid.UUID) (*Kit, bool, error) {
	k, err := m.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	switch k.Status {
	case StatusAvailable:
		return k, true, nil
	case StatusAssigned:
		released, err := m.Return(ctx, auth.System, id, StatusAvailable)
		if err != nil {
			return k, false, err
		}
		return released, true, nil
	default:
		return k, false, nil
	}
}

func (m *Manager) transition(ctx context.Context, id uuid.UUID, decide func(k *Kit) (Update, error)) (*Kit, error) {
	k, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u, err := decide(k)
	if err != nil {
		return nil, err
	}

	updated, err := m.store.UpdateStatus(ctx, id, u)
	if errors.Is(err, ErrStatusChanged) {
		return nil, apperr.Wrap(apperr.KindInvalidKitState, apperr.ErrInvalidKitState,
			"kit %s changed while moving %s -> %s", id, u.From, u.To)
	}
	if err != nil {
		return nil, fmt.Errorf("update kit status: %w", err)
	}

	m.logger.Info().
		Str("kit_id", id.String()).
		Str("from", string(u.From)).
		Str("to", string(u.To)).
		Msg("kit status changed")
	return updated, nil
}

func (m *Manager) stateErr(k *Kit, action string) error {
	return apperr.Wrap(apperr.KindInvalidKitState, apperr.ErrInvalidKitState,
		"cannot %s kit %s in status %s", action, k.Code, k.Status)
}
