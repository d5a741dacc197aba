package appointment

import "github.com/hackgods/dna-testing-scheduling/internal/apperr"

// edges is the complete set of legal transitions. Terminal states have none.
var edges = map[Status][]Status{
	StatusPending:         {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusSampleCollected, StatusCancelled},
	StatusSampleCollected: {StatusTesting, StatusCancelled},
	StatusTesting:         {StatusCompleted, StatusCancelled},
	StatusCompleted:       nil,
	StatusCancelled:       nil,
}

func (s Status) Valid() bool {
	_, ok := edges[s]
	return ok
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusPending, StatusConfirmed, StatusSampleCollected, StatusTesting:
		return false
	}
	return false
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range edges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition fails with a TransitionError for any edge not in the table.
func CheckTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return &apperr.TransitionError{Entity: "appointment", From: string(from), To: string(to)}
	}
	return nil
}

// AllStatuses lists every state in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusSampleCollected, StatusTesting, StatusCompleted, StatusCancelled}
}
