package kit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrKitNotFound   = errors.New("kit not found")
	ErrStatusChanged = errors.New("kit status changed concurrently")
	ErrDuplicateCode = errors.New("kit code already exists")
)

// Update describes a conditional status change. Assignment fields are written
// as given, so a change back to available clears them.
// Update is a conditional status change. The assignment fields are written
// as given, so callers carry over the values they want to keep.
type Update struct {
	From        Status
	To          Status
	AssignedTo  *uuid.UUID
	AdminCaseID *uuid.UUID
	AssignedAt  *time.Time
}

type Store interface {
	Create(ctx context.Context, k *Kit) (*Kit, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Kit, error)
	CountCodesWithPrefix(ctx context.Context, prefix string) (int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, u Update) (*Kit, error)
}
