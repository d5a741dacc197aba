package kit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgUpdateStatusNoRowIsStatusChanged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id := uuid.New()
	user := uuid.New()

	mock.ExpectQuery("UPDATE kits").
		WithArgs(id, StatusAvailable, StatusAssigned, &user, (*uuid.UUID)(nil), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.UpdateStatus(context.Background(), id, Update{From: StatusAvailable, To: StatusAssigned, AssignedTo: &user})
	assert.ErrorIs(t, err, ErrStatusChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateDuplicateCode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	k := &Kit{ID: uuid.New(), Code: "KIT-20261103-001", Type: TypeRegular, Status: StatusAvailable}
	mock.ExpectQuery("INSERT INTO kits").
		WithArgs(k.ID, k.Code, k.Type, k.Status, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err = repo.Create(context.Background(), k)
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
