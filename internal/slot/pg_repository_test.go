package slot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slotCols = []string{"id", "staff_ids", "service_id", "time_windows", "appointment_limit", "booked_count", "status", "appointment_id", "created_at", "updated_at"}

func TestPgTryReserveReturnsUpdatedSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id := uuid.New()
	windows, _ := json.Marshal([]TimeWindow{{Year: 2026, Month: 11, Day: 3, StartTime: "09:00", EndTime: "10:00"}})
	now := time.Now()

	mock.ExpectQuery("UPDATE slots").
		WithArgs(id, 1).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow(id, []uuid.UUID{uuid.New()}, uuid.New(), windows, 1, 1, StatusBooked, (*uuid.UUID)(nil), now, now))

	s, err := repo.TryReserve(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.BookedCount)
	assert.Equal(t, StatusBooked, s.Status)
	assert.Len(t, s.Windows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTryReserveNoRowIsNotApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id := uuid.New()

	mock.ExpectQuery("booked_count \\+ \\$2 <= appointment_limit").
		WithArgs(id, 1).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.TryReserve(context.Background(), id, 1)
	assert.ErrorIs(t, err, ErrNotApplied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgTryReleaseGuardsUnderflow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id := uuid.New()

	mock.ExpectQuery("booked_count >= \\$2").
		WithArgs(id, 2).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.TryRelease(context.Background(), id, 2)
	assert.ErrorIs(t, err, ErrNotApplied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id := uuid.New()
	mock.ExpectQuery("SELECT .* FROM slots WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}
