package kit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusAssigned  Status = "assigned"
	StatusUsed      Status = "used"
	StatusReturned  Status = "returned"
	StatusDamaged   Status = "damaged"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusAssigned, StatusUsed, StatusReturned, StatusDamaged:
		return true
	}
	return false
}

type Type string

const (
	TypeRegular        Type = "regular"
	TypeAdministrative Type = "administrative"
)

type Kit struct {
	ID          uuid.UUID
	Code        string
	Type        Type
	Status      Status
	AssignedTo  *uuid.UUID
	AdminCaseID *uuid.UUID
	AssignedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// returnTargets lists the statuses a kit may be returned into from each state.
var returnTargets = map[Status][]Status{
	StatusAssigned: {StatusAvailable, StatusUsed, StatusDamaged},
	StatusUsed:     {StatusReturned, StatusDamaged},
	StatusReturned: {StatusAvailable, StatusDamaged},
}

func canReturn(from, to Status) bool {
	for _, s := range returnTargets[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CodePrefix is the per-day code prefix, e.g. KIT-20261103-.
func CodePrefix(day time.Time) string {
	return "KIT-" + day.Format("20060102") + "-"
}

func FormatCode(day time.Time, seq int) string {
	return fmt.Sprintf("%s%03d", CodePrefix(day), seq)
}
