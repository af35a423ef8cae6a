package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSlotConflict        = errors.New("time slot already booked")
	ErrResourceUnavailable = errors.New("resource is under maintenance")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidSignature    = errors.New("invalid payment signature")
	ErrMalformedReference  = errors.New("malformed order reference")
	ErrAlreadyConsumed     = errors.New("check-in token already consumed")
	ErrAlreadyTerminal     = errors.New("reservation is already cancelled or expired")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidSlot         = errors.New("start_time must be before end_time")
	ErrValidation          = errors.New("validation failed")
	ErrNotPaid             = errors.New("reservation is not paid")
	ErrInvalidTicket       = errors.New("invalid check-in ticket")

	// ErrStatusMismatch is returned by conditional status updates when the
	// reservation exists but is no longer in one of the expected statuses.
	ErrStatusMismatch = errors.New("reservation status changed concurrently")
	ErrTokenExists    = errors.New("check-in token already exists")
)

// AlreadyConsumedError carries the original consumption time.
type AlreadyConsumedError struct {
	ConsumedAt time.Time
}

func (e *AlreadyConsumedError) Error() string {
	return fmt.Sprintf("%s at %s", ErrAlreadyConsumed, e.ConsumedAt.Format(time.RFC3339))
}

func (e *AlreadyConsumedError) Is(target error) bool {
	return target == ErrAlreadyConsumed
}
