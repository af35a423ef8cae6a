package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/notify"
)

func TestCreateAdjacentAndOverlapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")
	if first.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", first.Status)
	}
	if got := f.availability(t, "R1"); got != models.AvailabilityReserved {
		t.Errorf("R1 availability = %s, want reserved", got)
	}

	_, err := f.bookings.Create(ctx, bob, models.ReservationRequest{
		ResourceID: "R1", Date: "2025-06-01", StartTime: "09:00", EndTime: "11:00",
	})
	if !errors.Is(err, models.ErrSlotConflict) {
		t.Fatalf("overlapping create error = %v, want ErrSlotConflict", err)
	}

	f.create(t, bob, "R1", "2025-06-01", "10:00", "12:00")
	f.create(t, bob, "R1", "2025-06-02", "09:00", "11:00")
	f.create(t, bob, "R2", "2025-06-01", "09:00", "11:00")
}

func TestCreateRejects(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name    string
		who     models.Requester
		req     models.ReservationRequest
		wantErr error
	}{
		{
			name:    "maintenance",
			who:     alice,
			req:     models.ReservationRequest{ResourceID: "R9", Date: "2025-06-01", StartTime: "08:00", EndTime: "09:00"},
			wantErr: models.ErrResourceUnavailable,
		},
		{
			name:    "unknown resource",
			who:     alice,
			req:     models.ReservationRequest{ResourceID: "nope", Date: "2025-06-01", StartTime: "08:00", EndTime: "09:00"},
			wantErr: models.ErrResourceNotFound,
		},
		{
			name:    "end before start",
			who:     alice,
			req:     models.ReservationRequest{ResourceID: "R1", Date: "2025-06-01", StartTime: "10:00", EndTime: "09:00"},
			wantErr: models.ErrInvalidSlot,
		},
		{
			name:    "empty slot",
			who:     alice,
			req:     models.ReservationRequest{ResourceID: "R1", Date: "2025-06-01", StartTime: "10:00", EndTime: "10:00"},
			wantErr: models.ErrInvalidSlot,
		},
		{
			name:    "bad date",
			who:     alice,
			req:     models.ReservationRequest{ResourceID: "R1", Date: "01/06/2025", StartTime: "08:00", EndTime: "09:00"},
			wantErr: models.ErrValidation,
		},
		{
			name:    "anonymous",
			who:     models.Requester{},
			req:     models.ReservationRequest{ResourceID: "R1", Date: "2025-06-01", StartTime: "08:00", EndTime: "09:00"},
			wantErr: models.ErrForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bookings.Create(context.Background(), tt.who, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if got := f.availability(t, "R1"); got != models.AvailabilityAvailable {
		t.Errorf("R1 availability = %s after rejected creates", got)
	}
}

func TestCreatePrice(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, alice, "R1", "2025-06-01", "08:00", "09:30")
	if r.TotalPrice != 150000 {
		t.Errorf("TotalPrice = %v, want 150000", r.TotalPrice)
	}
}

// Random slots on one day are accepted exactly when they miss every slot accepted so far.
func TestCreateAgreesWithBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		var accepted []models.Slot
		for i := 0; i < 30; i++ {
			start := rng.Intn(30)
			length := 1 + rng.Intn(6)
			slot := models.Slot{Start: 360 + start*30, End: 360 + (start+length)*30}

			want := true
			for _, a := range accepted {
				if slot.Start < a.End && a.Start < slot.End {
					want = false
					break
				}
			}

			_, err := f.bookings.Create(context.Background(), alice, models.ReservationRequest{
				ResourceID: "R1",
				Date:       "2025-06-01",
				StartTime:  clockString(slot.Start),
				EndTime:    clockString(slot.End),
			})
			switch {
			case want && err != nil:
				t.Fatalf("round %d: %v rejected: %v", round, slot, err)
			case !want && !errors.Is(err, models.ErrSlotConflict):
				t.Fatalf("round %d: %v error = %v, want ErrSlotConflict", round, slot, err)
			}
			if want {
				accepted = append(accepted, slot)
			}
		}

		active, err := f.store.ListActiveForDate(context.Background(), "R1", "2025-06-01")
		if err != nil {
			t.Fatal(err)
		}
		if len(active) != len(accepted) {
			t.Fatalf("round %d: %d active, %d accepted", round, len(active), len(accepted))
		}
		for i := range active {
			for j := i + 1; j < len(active); j++ {
				a, _ := active[i].Slot()
				b, _ := active[j].Slot()
				if a.Overlaps(b) {
					t.Fatalf("round %d: stored reservations overlap: %v %v", round, a, b)
				}
			}
		}
	}
}

func clockString(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func TestConcurrentCreateSameSlot(t *testing.T) {
	f := newFixture(t)
	const n = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := models.Requester{UserID: fmt.Sprintf("user-%d", i), Role: models.RoleUser}
			_, err := f.bookings.Create(context.Background(), who, models.ReservationRequest{
				ResourceID: "R1", Date: "2025-06-01", StartTime: "18:00", EndTime: "20:00",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 || conflicts != n-1 {
		t.Fatalf("successes = %d, conflicts = %d; want 1 and %d", ok, conflicts, n-1)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")

	if _, err := f.bookings.Cancel(ctx, bob, r.ID); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("cancel by another user: %v, want ErrForbidden", err)
	}

	got, err := f.bookings.Cancel(ctx, alice, r.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if a := f.availability(t, "R1"); a != models.AvailabilityAvailable {
		t.Errorf("R1 availability = %s, want available", a)
	}
	if types := f.notes.types(); len(types) != 1 || types[0] != notify.EventCancelled {
		t.Errorf("notifications = %v", types)
	}

	if _, err := f.bookings.Cancel(ctx, alice, r.ID); !errors.Is(err, models.ErrAlreadyTerminal) {
		t.Errorf("second cancel: %v, want ErrAlreadyTerminal", err)
	}
	if _, err := f.bookings.Cancel(ctx, alice, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("cancel missing: %v, want ErrNotFound", err)
	}

	// the freed slot can be booked again
	f.create(t, bob, "R1", "2025-06-01", "08:00", "10:00")
}

func TestCancelKeepsResourceReservedWhileOthersRemain(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")
	f.create(t, bob, "R1", "2025-06-01", "10:00", "12:00")

	if _, err := f.bookings.Cancel(context.Background(), manager, a.ID); err != nil {
		t.Fatalf("manager cancel: %v", err)
	}
	if got := f.availability(t, "R1"); got != models.AvailabilityReserved {
		t.Errorf("R1 availability = %s, want reserved", got)
	}
}

func TestCancelPaidReservation(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")
	f.pay(t, r)

	got, err := f.bookings.Cancel(context.Background(), alice, r.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
	f.assertConsistent(t, "R1")
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")

	if _, err := f.bookings.SetStatus(ctx, alice, r.ID, models.StatusPaid); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("user SetStatus: %v, want ErrForbidden", err)
	}
	if _, err := f.bookings.SetStatus(ctx, manager, r.ID, models.StatusExpired); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("SetStatus expired: %v, want ErrValidation", err)
	}

	same, err := f.bookings.SetStatus(ctx, manager, r.ID, models.StatusPending)
	if err != nil || same.Status != models.StatusPending {
		t.Fatalf("SetStatus to current status = %v, %v", same, err)
	}

	paid, err := f.bookings.SetStatus(ctx, manager, r.ID, models.StatusPaid)
	if err != nil {
		t.Fatalf("SetStatus paid: %v", err)
	}
	if paid.PaidAt == nil {
		t.Error("PaidAt not set")
	}
	if _, err := f.store.GetCheckin(ctx, r.ID); err != nil {
		t.Errorf("no check-in token after manual payment: %v", err)
	}

	if _, err := f.bookings.SetStatus(ctx, manager, r.ID, models.StatusPending); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("paid -> pending: %v, want ErrInvalidTransition", err)
	}

	if _, err := f.bookings.SetStatus(ctx, admin, r.ID, models.StatusCancelled); err != nil {
		t.Fatalf("paid -> cancelled: %v", err)
	}
	f.assertConsistent(t, "R1")

	for _, to := range []models.ReservationStatus{models.StatusPending, models.StatusPaid} {
		if _, err := f.bookings.SetStatus(ctx, manager, r.ID, to); !errors.Is(err, models.ErrAlreadyTerminal) {
			t.Errorf("cancelled -> %s: %v, want ErrAlreadyTerminal", to, err)
		}
	}
	want := []string{notify.EventPaid, notify.EventCancelled}
	if got := f.notes.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestGetAvailabilityRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")

	// simulate a crash between the reservation write and the flag write
	if err := f.store.SetAvailability(ctx, "R1", models.AvailabilityAvailable, f.clock.Now()); err != nil {
		t.Fatal(err)
	}

	got, err := f.bookings.GetAvailability(ctx, "R1")
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}
	if got.Availability != models.AvailabilityReserved || !got.Repaired || got.ActiveReservations != 1 {
		t.Fatalf("GetAvailability = %+v", got)
	}
	if a := f.availability(t, "R1"); a != models.AvailabilityReserved {
		t.Errorf("stored availability = %s after repair", a)
	}

	again, err := f.bookings.GetAvailability(ctx, "R1")
	if err != nil || again.Repaired {
		t.Errorf("second read = %+v, %v; want no repair", again, err)
	}

	m, err := f.bookings.GetAvailability(ctx, "R9")
	if err != nil || m.Availability != models.AvailabilityMaintenance {
		t.Errorf("maintenance resource = %+v, %v", m, err)
	}
	if _, err := f.bookings.GetAvailability(ctx, "nope"); !errors.Is(err, models.ErrResourceNotFound) {
		t.Errorf("unknown resource: %v", err)
	}
}

func TestGetAvailabilityReadsWithoutLocking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")

	before, err := f.store.GetAvailability(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.bookings.GetAvailability(ctx, "R1")
	if err != nil || got.Availability != models.AvailabilityReserved || got.Repaired {
		t.Fatalf("GetAvailability = %+v, %v", got, err)
	}
	after, _ := f.store.GetAvailability(ctx, "R1")
	if after.LockSeq != before.LockSeq {
		t.Fatalf("consistent read took the resource lock: lock_seq %d -> %d", before.LockSeq, after.LockSeq)
	}

	if err := f.store.SetAvailability(ctx, "R1", models.AvailabilityAvailable, f.clock.Now()); err != nil {
		t.Fatal(err)
	}
	if got, err := f.bookings.GetAvailability(ctx, "R1"); err != nil || !got.Repaired {
		t.Fatalf("drifted read = %+v, %v; want a repair", got, err)
	}
	repaired, _ := f.store.GetAvailability(ctx, "R1")
	if repaired.LockSeq != after.LockSeq+1 {
		t.Errorf("repair should run in one unit of work: lock_seq %d -> %d", after.LockSeq, repaired.LockSeq)
	}
}

// Any interleaving of create, cancel, pay and sweep leaves every resource's flag
// equal to what its reservations imply.
func TestAvailabilityFollowsReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	resources := []string{"R1", "R2"}
	users := []models.Requester{alice, bob}
	var ids []*models.Reservation

	for step := 0; step < 300; step++ {
		switch op := rng.Intn(5); op {
		case 0, 1:
			start := rng.Intn(20)
			day := 1 + rng.Intn(3)
			r, err := f.bookings.Create(ctx, users[rng.Intn(2)], models.ReservationRequest{
				ResourceID: resources[rng.Intn(2)],
				Date:       fmt.Sprintf("2025-06-%02d", day),
				StartTime:  clockString(360 + start*30),
				EndTime:    clockString(360 + (start+1+rng.Intn(4))*30),
			})
			if err == nil {
				ids = append(ids, r)
			} else if !errors.Is(err, models.ErrSlotConflict) {
				t.Fatalf("step %d create: %v", step, err)
			}
		case 2:
			if len(ids) == 0 {
				continue
			}
			r := ids[rng.Intn(len(ids))]
			if _, err := f.bookings.Cancel(ctx, admin, r.ID); err != nil && !errors.Is(err, models.ErrAlreadyTerminal) {
				t.Fatalf("step %d cancel: %v", step, err)
			}
		case 3:
			if len(ids) == 0 {
				continue
			}
			r := ids[rng.Intn(len(ids))]
			if _, err := f.payments.Reconcile(ctx, f.callback(r, "00")); err != nil {
				t.Fatalf("step %d reconcile: %v", step, err)
			}
		case 4:
			f.clock.Advance(3 * time.Hour)
			if _, err := f.sweeper.RunOnce(ctx); err != nil {
				t.Fatalf("step %d sweep: %v", step, err)
			}
		}
		for _, id := range resources {
			f.assertConsistent(t, id)
		}
	}
}

func TestCreateStoresPaddedTimes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.create(t, alice, "R1", "2025-06-01", "8:00", "9:00")
	f.create(t, alice, "R1", "2025-06-01", "10:00", "11:00")

	if early.StartTime != "08:00" || early.EndTime != "09:00" {
		t.Fatalf("returned times = %s-%s, want 08:00-09:00", early.StartTime, early.EndTime)
	}
	stored, err := f.store.GetReservation(ctx, early.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.StartTime != "08:00" || stored.EndTime != "09:00" {
		t.Fatalf("stored times = %s-%s, want 08:00-09:00", stored.StartTime, stored.EndTime)
	}

	mine, _, err := f.bookings.ListMine(ctx, alice, 0, 0)
	if err != nil || len(mine) != 2 {
		t.Fatalf("ListMine = %d, %v", len(mine), err)
	}
	if mine[0].StartTime != "08:00" || mine[1].StartTime != "10:00" {
		t.Errorf("ListMine order = %s, %s; want 08:00 then 10:00", mine[0].StartTime, mine[1].StartTime)
	}

	if _, err := f.bookings.Create(ctx, bob, models.ReservationRequest{
		ResourceID: "R1", Date: "2025-06-01", StartTime: "08:30", EndTime: "9:30",
	}); !errors.Is(err, models.ErrSlotConflict) {
		t.Errorf("overlap with unpadded input: %v, want ErrSlotConflict", err)
	}
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1 := f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")
	f.create(t, alice, "R2", "2025-06-03", "08:00", "10:00")
	b1 := f.create(t, bob, "R1", "2025-06-01", "10:00", "12:00")
	if _, err := f.bookings.Cancel(ctx, bob, b1.ID); err != nil {
		t.Fatal(err)
	}

	mine, total, err := f.bookings.ListMine(ctx, alice, 0, 0)
	if err != nil || total != 2 || len(mine) != 2 {
		t.Fatalf("ListMine = %d/%d, %v", len(mine), total, err)
	}
	if mine[0].Date != "2025-06-03" {
		t.Errorf("ListMine not newest first: %s", mine[0].Date)
	}

	if _, _, err := f.bookings.List(ctx, alice, models.ReservationFilter{}); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("List by user: %v", err)
	}
	all, total, err := f.bookings.List(ctx, manager, models.ReservationFilter{ResourceID: "R1"})
	if err != nil || total != 2 || len(all) != 2 {
		t.Errorf("List R1 = %d/%d, %v", len(all), total, err)
	}
	if _, _, err := f.bookings.List(ctx, manager, models.ReservationFilter{Status: "weird"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("List with unknown status: %v", err)
	}

	active, err := f.bookings.ActiveForResource(ctx, manager, "R1")
	if err != nil || len(active) != 1 || active[0].ID != a1.ID {
		t.Errorf("ActiveForResource = %v, %v", active, err)
	}

	if _, err := f.bookings.Get(ctx, bob, a1.ID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Get by other user: %v", err)
	}
	if _, err := f.bookings.Get(ctx, manager, a1.ID); err != nil {
		t.Errorf("Get by manager: %v", err)
	}
}

func TestDeleteByUserAndResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")
	paid := f.create(t, alice, "R2", "2025-06-01", "08:00", "10:00")
	f.pay(t, paid)
	f.create(t, bob, "R1", "2025-06-01", "10:00", "12:00")

	if _, err := f.bookings.DeleteByUser(ctx, alice, "alice"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("DeleteByUser by user: %v", err)
	}
	n, err := f.bookings.DeleteByUser(ctx, admin, "alice")
	if err != nil || n != 2 {
		t.Fatalf("DeleteByUser = %d, %v; want 2", n, err)
	}
	if f.store.CountCheckins() != 0 {
		t.Errorf("check-in tokens survived the delete")
	}
	if a := f.availability(t, "R2"); a != models.AvailabilityAvailable {
		t.Errorf("R2 = %s, want available", a)
	}
	if a := f.availability(t, "R1"); a != models.AvailabilityReserved {
		t.Errorf("R1 = %s, want reserved", a)
	}

	n, err = f.bookings.DeleteByResource(ctx, manager, "R1")
	if err != nil || n != 1 {
		t.Fatalf("DeleteByResource = %d, %v; want 1", n, err)
	}
	f.assertConsistent(t, "R1")
}

type attemptKey struct{}

// replayingStore runs every unit of work twice. The first attempt's deletes are
// discarded, as when a commit fails and the driver retries the transaction.
type replayingStore struct {
	*models.MemoryRepo
}

func (s replayingStore) WithResourceTx(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error {
	if err := s.MemoryRepo.WithResourceTx(context.WithValue(ctx, attemptKey{}, 1), resourceID, fn); err != nil {
		return err
	}
	return s.MemoryRepo.WithResourceTx(ctx, resourceID, fn)
}

func (s replayingStore) DeleteReservations(ctx context.Context, f models.ReservationFilter) (int64, error) {
	if ctx.Value(attemptKey{}) == nil {
		return s.MemoryRepo.DeleteReservations(ctx, f)
	}
	list, _, err := s.MemoryRepo.ListReservations(ctx, f)
	return int64(len(list)), err
}

func TestDeleteCountsSurviveReplayedUnitsOfWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "R1", "2025-06-01", "08:00", "10:00")
	f.create(t, alice, "R2", "2025-06-01", "08:00", "10:00")
	f.create(t, alice, "R2", "2025-06-02", "08:00", "10:00")
	f.create(t, bob, "R1", "2025-06-01", "10:00", "12:00")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bookings := NewBookingService(replayingStore{f.store}, f.catalog, f.clock, f.notes, logger, f.checkins)

	n, err := bookings.DeleteByUser(ctx, admin, "alice")
	if err != nil || n != 3 {
		t.Fatalf("DeleteByUser = %d, %v; want 3", n, err)
	}
	n, err = bookings.DeleteByResource(ctx, manager, "R1")
	if err != nil || n != 1 {
		t.Fatalf("DeleteByResource = %d, %v; want 1", n, err)
	}
	f.assertConsistent(t, "R1")
	f.assertConsistent(t, "R2")
}
