// Package apperr holds the error kinds shared by the booking core. Every guard
// failure is returned as one of these kinds so the transport layer can map it
// to a distinct response code.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound                Kind = "not_found"
	KindInvalidStateTransition  Kind = "invalid_state_transition"
	KindCapacityExceeded        Kind = "capacity_exceeded"
	KindSlotUnavailable         Kind = "slot_unavailable"
	KindSlotOverlap             Kind = "slot_overlap"
	KindInvalidRelease          Kind = "invalid_release"
	KindAlreadyFullyPaid        Kind = "already_fully_paid"
	KindDuplicatePendingPayment Kind = "duplicate_pending_payment"
	KindAmountMismatch          Kind = "amount_mismatch"
	KindInvalidKitState         Kind = "invalid_kit_state"
	KindExpired                 Kind = "expired"
	KindUnauthorized            Kind = "unauthorized"
	KindInvalidInput            Kind = "invalid_input"
	KindConflict                Kind = "conflict"
	KindInternal                Kind = "internal"
)

var (
	ErrNotFound                = &sentinel{KindNotFound, "not found"}
	ErrInvalidStateTransition  = &sentinel{KindInvalidStateTransition, "invalid state transition"}
	ErrCapacityExceeded        = &sentinel{KindCapacityExceeded, "slot capacity exceeded"}
	ErrSlotUnavailable         = &sentinel{KindSlotUnavailable, "slot is unavailable"}
	ErrSlotOverlap             = &sentinel{KindSlotOverlap, "slot overlaps an existing slot for the same staff member"}
	ErrInvalidRelease          = &sentinel{KindInvalidRelease, "release exceeds reserved capacity"}
	ErrAlreadyFullyPaid        = &sentinel{KindAlreadyFullyPaid, "appointment is already fully paid"}
	ErrDuplicatePendingPayment = &sentinel{KindDuplicatePendingPayment, "a pending payment already exists for this stage"}
	ErrAmountMismatch          = &sentinel{KindAmountMismatch, "payment amount mismatch"}
	ErrInvalidKitState         = &sentinel{KindInvalidKitState, "invalid kit state"}
	ErrExpired                 = &sentinel{KindExpired, "hold has expired"}
	ErrUnauthorized            = &sentinel{KindUnauthorized, "not authorized"}
	ErrInvalidInput            = &sentinel{KindInvalidInput, "invalid input"}
	ErrConflict                = &sentinel{KindConflict, "resource is busy, retry"}
)

type sentinel struct {
	kind Kind
	msg  string
}

func (s *sentinel) Error() string { return s.msg }

// Error carries a kind plus context. It matches its kind's sentinel via errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	return ok && s.kind == e.Kind
}

// New builds a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports a missing entity by name and id.
func NotFound(entity string, id any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

// TransitionError reports an illegal edge in one of the state machines.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: invalid state transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

// AmountMismatchError is returned when a gateway notification disagrees with
// the amount stored on the payment.
type AmountMismatchError struct {
	PaymentNo int64
	Expected  int64
	Actual    int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment %d: expected amount %d, got %d", e.PaymentNo, e.Expected, e.Actual)
}

func (e *AmountMismatchError) Is(target error) bool { return target == ErrAmountMismatch }

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return KindInvalidStateTransition
	}
	var am *AmountMismatchError
	if errors.As(err, &am) {
		return KindAmountMismatch
	}
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind
	}
	return KindInternal
}
