// Package catalog is the service-catalog collaborator: it supplies price,
// deposit and collection type for a testing service.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

const (
	DefaultCollectionType = "facility"
	// DefaultDepositPercent is applied only when a service has no explicit deposit.
	DefaultDepositPercent = 20
)

type Service struct {
	ID             uuid.UUID
	Name           string
	Price          int64
	DepositAmount  int64
	CollectionType string
}

type Catalog interface {
	Lookup(ctx context.Context, serviceID uuid.UUID) (Service, error)
}

// DefaultDeposit is 20% of price, rounded down.
func DefaultDeposit(price int64) int64 {
	return price * DefaultDepositPercent / 100
}

// Fill backfills missing catalog fields with the defaults.
func Fill(s Service, deposit *int64, collectionType *string) Service {
	switch {
	case deposit != nil:
		s.DepositAmount = *deposit
	case s.DepositAmount == 0:
		s.DepositAmount = DefaultDeposit(s.Price)
	}
	switch {
	case collectionType != nil && *collectionType != "":
		s.CollectionType = *collectionType
	case s.CollectionType == "":
		s.CollectionType = DefaultCollectionType
	}
	return s
}

type PgCatalog struct {
	pool *pgxpool.Pool
}

func NewPgCatalog(pool *pgxpool.Pool) *PgCatalog {
	return &PgCatalog{pool: pool}
}

func (c *PgCatalog) Lookup(ctx context.Context, serviceID uuid.UUID) (Service, error) {
	var s Service
	var deposit *int64
	var collection *string

	err := c.pool.QueryRow(ctx, `
		SELECT id, name, price, deposit_amount, collection_type
		FROM services
		WHERE id = $1
	`, serviceID).Scan(&s.ID, &s.Name, &s.Price, &deposit, &collection)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Service{}, apperr.NotFound("service", serviceID)
		}
		return Service{}, fmt.Errorf("lookup service: %w", err)
	}
	return Fill(s, deposit, collection), nil
}

// Static is a fixed in-memory catalog.
type Static map[uuid.UUID]Service

func (c Static) Lookup(_ context.Context, serviceID uuid.UUID) (Service, error) {
	s, ok := c[serviceID]
	if !ok {
		return Service{}, apperr.NotFound("service", serviceID)
	}
	return Fill(s, nil, nil), nil
}
