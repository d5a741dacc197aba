package sample

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

func TestSampleTransitions(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusPending, StatusReceived}:  true,
		{StatusPending, StatusTesting}:   true,
		{StatusPending, StatusInvalid}:   true,
		{StatusReceived, StatusTesting}:  true,
		{StatusReceived, StatusInvalid}:  true,
		{StatusTesting, StatusCompleted}: true,
		{StatusTesting, StatusInvalid}:   true,
	}
	all := []Status{StatusPending, StatusReceived, StatusTesting, StatusCompleted, StatusInvalid}
	for _, from := range all {
		for _, to := range all {
			err := CheckTransition(from, to)
			if legal[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestMemoryUpdateStatusIsConditional(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s, err := store.Create(ctx, &Sample{ID: uuid.New(), AppointmentID: uuid.New(), SampleType: "buccal", Status: StatusReceived})
	require.NoError(t, err)

	_, err = store.UpdateStatus(ctx, s.ID, StatusPending, StatusTesting, nil)
	assert.ErrorIs(t, err, ErrStatusChanged)

	ref := "RES-1"
	_, err = store.UpdateStatus(ctx, s.ID, StatusReceived, StatusTesting, nil)
	require.NoError(t, err)
	done, err := store.UpdateStatus(ctx, s.ID, StatusTesting, StatusCompleted, &ref)
	require.NoError(t, err)
	require.NotNil(t, done.ResultRef)
	assert.Equal(t, "RES-1", *done.ResultRef)
	assert.True(t, done.Settled())
}
