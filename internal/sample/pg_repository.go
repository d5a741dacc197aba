package sample

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

const sampleColumns = `id, appointment_id, kit_id, sample_type, donor_name, status, result_ref, collected_at, created_at, updated_at`

func scanSample(row pgx.Row) (*Sample, error) {
	var s Sample
	var donor *string
	err := row.Scan(
		&s.ID,
		&s.AppointmentID,
		&s.KitID,
		&s.SampleType,
		&donor,
		&s.Status,
		&s.ResultRef,
		&s.CollectedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if donor != nil {
		s.DonorName = *donor
	}
	return &s, nil
}

func (r *PgRepository) Create(ctx context.Context, s *Sample) (*Sample, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO samples (id, appointment_id, kit_id, sample_type, donor_name, status, collected_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING `+sampleColumns,
		s.ID, s.AppointmentID, s.KitID, s.SampleType, s.DonorName, s.Status, s.CollectedAt,
	)
	created, err := scanSample(row)
	if err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Sample, error) {
	s, err := scanSample(r.db.QueryRow(ctx, `SELECT `+sampleColumns+` FROM samples WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSampleNotFound
	}
	return s, err
}

func (r *PgRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Sample, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM samples
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var result []Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, resultRef *string) (*Sample, error) {
	s, err := scanSample(r.db.QueryRow(ctx, `
		UPDATE samples
		SET status = $3,
		    result_ref = COALESCE($4, result_ref),
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+sampleColumns,
		id, from, to, resultRef,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatusChanged
	}
	return s, err
}
