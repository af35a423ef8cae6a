package models

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a process-local Store for development and tests. Units of work are
// serialized per resource with a mutex; there is no rollback.
type MemoryRepo struct {
	mu           sync.RWMutex
	reservations map[string]*Reservation
	statuses     map[string]*ResourceStatus
	checkins     map[string]*CheckinToken

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		reservations: make(map[string]*Reservation),
		statuses:     make(map[string]*ResourceStatus),
		checkins:     make(map[string]*CheckinToken),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (m *MemoryRepo) EnsureSchema(ctx context.Context) error { return nil }

func (m *MemoryRepo) resourceLock(resourceID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[resourceID] = l
	}
	return l
}

func (m *MemoryRepo) WithResourceTx(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error {
	l := m.resourceLock(resourceID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	st, ok := m.statuses[resourceID]
	if !ok {
		st = &ResourceStatus{ResourceID: resourceID, Availability: AvailabilityAvailable}
		m.statuses[resourceID] = st
	}
	st.LockSeq++
	m.mu.Unlock()

	return fn(ctx)
}

func copyReservation(r *Reservation) *Reservation {
	c := *r
	if r.PaidAt != nil {
		t := *r.PaidAt
		c.PaidAt = &t
	}
	return &c
}

func copyCheckin(t *CheckinToken) *CheckinToken {
	c := *t
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		c.ConsumedAt = &at
	}
	return &c
}

func isActive(s ReservationStatus) bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (f ReservationFilter) matches(r *Reservation) bool {
	return (f.ResourceID == "" || r.ResourceID == f.ResourceID) &&
		(f.UserID == "" || r.UserID == f.UserID) &&
		(f.Status == "" || r.Status == f.Status)
}

func (m *MemoryRepo) InsertReservation(ctx context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; ok {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	m.reservations[r.ID] = copyReservation(r)
	return nil
}

func (m *MemoryRepo) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyReservation(r), nil
}

func (m *MemoryRepo) ListActiveForDate(ctx context.Context, resourceID, date string) ([]*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Reservation
	for _, r := range m.reservations {
		if r.ResourceID == resourceID && r.Date == date && isActive(r.Status) {
			out = append(out, copyReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (m *MemoryRepo) CountActive(ctx context.Context, resourceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.reservations {
		if r.ResourceID == resourceID && isActive(r.Status) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepo) TransitionStatus(ctx context.Context, id string, from []ReservationStatus, to ReservationStatus, now time.Time) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if r.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrStatusMismatch
	}
	r.Status = to
	r.UpdatedAt = now
	if to == StatusPaid {
		paidAt := now
		r.PaidAt = &paidAt
	}
	return copyReservation(r), nil
}

func (m *MemoryRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]*Reservation, int64, error) {
	m.mu.RLock()
	var all []*Reservation
	for _, r := range m.reservations {
		if f.matches(r) {
			all = append(all, copyReservation(r))
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date > all[j].Date
		}
		return all[i].StartTime < all[j].StartTime
	})
	total := int64(len(all))
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return nil, total, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (m *MemoryRepo) ListPending(ctx context.Context) ([]*Reservation, error) {
	list, _, err := m.ListReservations(ctx, ReservationFilter{Status: StatusPending})
	return list, err
}

func (m *MemoryRepo) DeleteReservations(ctx context.Context, f ReservationFilter) (int64, error) {
	if f.ResourceID == "" && f.UserID == "" {
		return 0, fmt.Errorf("%w: delete requires a resource or user", ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.reservations {
		if f.matches(r) {
			delete(m.reservations, id)
			delete(m.checkins, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepo) RevenueByDay(ctx context.Context, from, to time.Time, loc *time.Location) ([]DailyRevenue, error) {
	m.mu.RLock()
	byDay := make(map[string]*DailyRevenue)
	for _, r := range m.reservations {
		if r.Status != StatusPaid || r.PaidAt == nil {
			continue
		}
		if r.PaidAt.Before(from) || !r.PaidAt.Before(to) {
			continue
		}
		day := r.PaidAt.In(loc).Format(DateLayout)
		d, ok := byDay[day]
		if !ok {
			d = &DailyRevenue{Date: day}
			byDay[day] = d
		}
		d.Revenue += r.TotalPrice
		d.Bookings++
	}
	m.mu.RUnlock()

	out := make([]DailyRevenue, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *MemoryRepo) GetAvailability(ctx context.Context, resourceID string) (*ResourceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *st
	return &c, nil
}

func (m *MemoryRepo) SetAvailability(ctx context.Context, resourceID string, a Availability, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[resourceID]
	if !ok {
		st = &ResourceStatus{ResourceID: resourceID}
		m.statuses[resourceID] = st
	}
	st.Availability = a
	st.UpdatedAt = now
	return nil
}

func (m *MemoryRepo) GetCheckin(ctx context.Context, reservationID string) (*CheckinToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.checkins[reservationID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCheckin(t), nil
}

func (m *MemoryRepo) InsertCheckin(ctx context.Context, t *CheckinToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkins[t.ReservationID]; ok {
		return ErrTokenExists
	}
	m.checkins[t.ReservationID] = copyCheckin(t)
	return nil
}

func (m *MemoryRepo) ConsumeCheckin(ctx context.Context, reservationID string, now time.Time) (*CheckinToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.checkins[reservationID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Consumed {
		return nil, consumedError(t)
	}
	t.Consumed = true
	at := now
	t.ConsumedAt = &at
	return copyCheckin(t), nil
}

// CountCheckins reports how many check-in tokens exist.
func (m *MemoryRepo) CountCheckins() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkins)
}
