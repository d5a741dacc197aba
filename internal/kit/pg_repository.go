package kit

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
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

func newPgRepositoryWith(db querier) *PgRepository {
	return &PgRepository{db: db}
}

const kitColumns = `id, code, kit_type, status, assigned_to, admin_case_id, assigned_at, created_at, updated_at`

func scanKit(row pgx.Row) (*Kit, error) {
	var k Kit
	err := row.Scan(
		&k.ID,
		&k.Code,
		&k.Type,
		&k.Status,
		&k.AssignedTo,
		&k.AdminCaseID,
		&k.AssignedAt,
		&k.CreatedAt,
		&k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *PgRepository) Create(ctx context.Context, k *Kit) (*Kit, error) {
	created, err := scanKit(r.db.QueryRow(ctx, `
		INSERT INTO kits (id, code, kit_type, status, admin_case_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+kitColumns,
		k.ID, k.Code, k.Type, k.Status, k.AdminCaseID,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("insert kit: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Kit, error) {
	k, err := scanKit(r.db.QueryRow(ctx, `SELECT `+kitColumns+` FROM kits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKitNotFound
	}
	return k, err
}

func (r *PgRepository) CountCodesWithPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM kits WHERE code LIKE $1 || '%'`, prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count kit codes: %w", err)
	}
	return n, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, u Update) (*Kit, error) {
	k, err := scanKit(r.db.QueryRow(ctx, `
		UPDATE kits
		SET status = $3,
		    assigned_to = $4,
		    admin_case_id = $5,
		    assigned_at = $6,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+kitColumns,
		id, u.From, u.To, u.AssignedTo, u.AdminCaseID, u.AssignedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatusChanged
	}
	return k, err
}
