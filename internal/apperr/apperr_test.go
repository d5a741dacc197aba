package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindedErrorsMatchSentinels(t *testing.T) {
	err := New(KindCapacityExceeded, "slot %s full", "abc")
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.NotErrorIs(t, err, ErrSlotUnavailable)

	wrapped := fmt.Errorf("reserve: %w", err)
	assert.ErrorIs(t, wrapped, ErrCapacityExceeded)
	assert.Equal(t, KindCapacityExceeded, KindOf(wrapped))
}

func TestTransitionAndMismatchErrors(t *testing.T) {
	te := &TransitionError{Entity: "appointment", From: "completed", To: "pending"}
	assert.ErrorIs(t, te, ErrInvalidStateTransition)
	assert.Equal(t, KindInvalidStateTransition, KindOf(fmt.Errorf("x: %w", te)))
	assert.Contains(t, te.Error(), "completed -> pending")

	am := &AmountMismatchError{PaymentNo: 42, Expected: 100, Actual: 90}
	assert.ErrorIs(t, am, ErrAmountMismatch)
	assert.Equal(t, KindAmountMismatch, KindOf(am))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"sentinel", ErrUnauthorized, KindUnauthorized},
		{"not found helper", NotFound("slot", 7), KindNotFound},
		{"wrapped outer kind wins", Wrap(KindConflict, ErrNotFound, "lock"), KindConflict},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}
