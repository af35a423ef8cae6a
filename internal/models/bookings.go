package models

import (
	"fmt"
	"time"
)

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusPaid      ReservationStatus = "paid"
	StatusCancelled ReservationStatus = "cancelled"
	StatusExpired   ReservationStatus = "expired"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ActiveStatuses are the statuses that hold a slot and keep a resource reserved.
var ActiveStatuses = []ReservationStatus{StatusPending, StatusPaid}

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s ReservationStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// CheckTransition reports whether a reservation may move from one status to another.
// Leaving a terminal status always yields ErrAlreadyTerminal.
func CheckTransition(from, to ReservationStatus) error {
	if from.IsTerminal() {
		return ErrAlreadyTerminal
	}
	switch {
	case from == StatusPending && to == StatusPaid,
		from == StatusPending && to == StatusExpired,
		from == StatusPending && to == StatusCancelled,
		from == StatusPaid && to == StatusCancelled:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

type Reservation struct {
	ID         string            `bson:"_id" json:"id"`
	ResourceID string            `bson:"resource_id" json:"resource_id"`
	UserID     string            `bson:"user_id" json:"user_id"`
	Date       string            `bson:"date" json:"date"`             // YYYY-MM-DD
	StartTime  string            `bson:"start_time" json:"start_time"` // HH:MM
	EndTime    string            `bson:"end_time" json:"end_time"`
	TotalPrice float64           `bson:"total_price" json:"total_price"`
	Status     ReservationStatus `bson:"status" json:"status"`
	PaidAt     *time.Time        `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	CreatedAt  time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `bson:"updated_at" json:"updated_at"`
}

type ReservationRequest struct {
	ResourceID string `json:"resource_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime  string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime    string `json:"end_time" validate:"required,datetime=15:04"`
}

// Slot is a same-day interval in minutes since midnight, half-open: [Start, End).
type Slot struct {
	Start int
	End   int
}

func ParseSlot(start, end string) (Slot, error) {
	s, err := parseClock(start)
	if err != nil {
		return Slot{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Slot{}, err
	}
	if s >= e {
		return Slot{}, ErrInvalidSlot
	}
	return Slot{Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse(ClockLayout, v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time %q", ErrValidation, v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Overlaps uses half-open semantics, so back-to-back slots do not conflict.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start < o.End && o.Start < s.End
}

// Bounds renders the slot as zero-padded HH:MM strings, the form reservations are
// stored and sorted in.
func (s Slot) Bounds() (start, end string) {
	return formatClock(s.Start), formatClock(s.End)
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func (s Slot) Hours() float64 {
	return float64(s.End-s.Start) / 60
}

func Price(hourlyRate float64, s Slot) float64 {
	return hourlyRate * s.Hours()
}

func (r *Reservation) Slot() (Slot, error) {
	return ParseSlot(r.StartTime, r.EndTime)
}

// EndsAt resolves the reservation's end wall-clock time in loc.
func (r *Reservation) EndsAt(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+ClockLayout, r.Date+" "+r.EndTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reservation end %s %s: %w", r.Date, r.EndTime, err)
	}
	return t, nil
}

// IsOverdue reports whether a pending reservation should be reclaimed: its slot has
// ended, or it has waited for payment longer than window (window <= 0 disables that rule).
func (r *Reservation) IsOverdue(now time.Time, loc *time.Location, window time.Duration) bool {
	if r.Status != StatusPending {
		return false
	}
	if end, err := r.EndsAt(loc); err == nil && end.Before(now) {
		return true
	}
	return window > 0 && now.Sub(r.CreatedAt) > window
}

// ReservationFilter narrows list and delete queries. Zero values match everything.
type ReservationFilter struct {
	ResourceID string
	UserID     string
	Status     ReservationStatus
	Offset     int
	Limit      int
}
