package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/joshua-takyi/fieldbook/internal/clock"
	"github.com/joshua-takyi/fieldbook/internal/helpers"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/notify"
	"github.com/joshua-takyi/fieldbook/internal/payment"
)

var (
	alice   = models.Requester{UserID: "alice", Role: models.RoleUser}
	bob     = models.Requester{UserID: "bob", Role: models.RoleUser}
	manager = models.Requester{UserID: "mia", Role: models.RoleManager}
	admin   = models.Requester{UserID: "root", Role: models.RoleAdmin}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store    *models.MemoryRepo
	catalog  *models.StaticCatalog
	clock    *clock.Fixed
	notes    *recordingNotifier
	gateway  *payment.VNPay
	signer   *helpers.TicketSigner
	checkins *CheckinService
	bookings *BookingService
	payments *PaymentService
	sweeper  *Sweeper
	reports  *ReportService
}

func newFixture(t *testing.T, opts ...SweeperOption) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	signer, err := helpers.NewTicketSigner("ticket-secret")
	if err != nil {
		t.Fatalf("NewTicketSigner: %v", err)
	}
	f := &fixture{
		store: models.NewMemoryRepo(),
		catalog: models.NewStaticCatalog(
			models.Resource{ID: "R1", Name: "Field 1", HourlyRate: 100000},
			models.Resource{ID: "R2", Name: "Field 2", HourlyRate: 80000},
			models.Resource{ID: "R9", Name: "Closed field", HourlyRate: 50000, Maintenance: true},
		),
		clock:  clock.NewFixed(time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC)),
		notes:  &recordingNotifier{},
		signer: signer,
		gateway: payment.NewVNPay(payment.Config{
			TmnCode:    "TESTTMN",
			HashSecret: "gateway-secret",
			PayURL:     "https://sandbox.example/pay",
			ReturnURL:  "https://api.example/api/v1/payments/vnpay/callback",
			Location:   time.UTC,
		}),
	}
	f.checkins = NewCheckinService(f.store, signer, f.clock, logger)
	f.bookings = NewBookingService(f.store, f.catalog, f.clock, f.notes, logger, f.checkins)
	f.payments = NewPaymentService(f.store, f.catalog, f.gateway, f.checkins, f.clock, f.notes, logger)
	f.sweeper = NewSweeper(f.store, f.catalog, f.clock, f.notes, logger, append([]SweeperOption{WithLocation(time.UTC)}, opts...)...)
	f.reports = NewReportService(f.store, time.UTC)
	return f
}

func (f *fixture) create(t *testing.T, who models.Requester, resourceID, date, start, end string) *models.Reservation {
	t.Helper()
	r, err := f.bookings.Create(context.Background(), who, models.ReservationRequest{
		ResourceID: resourceID,
		Date:       date,
		StartTime:  start,
		EndTime:    end,
	})
	if err != nil {
		t.Fatalf("Create(%s %s %s-%s): %v", resourceID, date, start, end, err)
	}
	return r
}

// callback returns gateway parameters for r signed with the gateway secret.
func (f *fixture) callback(r *models.Reservation, code string) url.Values {
	p := url.Values{}
	p.Set("vnp_TmnCode", "TESTTMN")
	p.Set(payment.ParamTxnRef, r.ID+"_120000")
	p.Set(payment.ParamOrderInfo, payment.OrderReference(r.ID))
	p.Set(payment.ParamAmount, strconv.FormatInt(payment.MinorUnits(r.TotalPrice), 10))
	p.Set(payment.ParamResponseCode, code)
	p.Set(payment.ParamTxnStatus, code)
	p.Set("vnp_BankCode", "NCB")
	p.Set(payment.ParamSecureHash, f.gateway.Sign(p))
	return p
}

func (f *fixture) pay(t *testing.T, r *models.Reservation) ReconcileResult {
	t.Helper()
	res, err := f.payments.Reconcile(context.Background(), f.callback(r, "00"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Outcome != OutcomeConfirmed {
		t.Fatalf("Reconcile outcome = %s, want %s", res.Outcome, OutcomeConfirmed)
	}
	return res
}

func (f *fixture) status(t *testing.T, id string) models.ReservationStatus {
	t.Helper()
	r, err := f.store.GetReservation(context.Background(), id)
	if err != nil {
		t.Fatalf("GetReservation(%s): %v", id, err)
	}
	return r.Status
}

func (f *fixture) availability(t *testing.T, resourceID string) models.Availability {
	t.Helper()
	st, err := f.store.GetAvailability(context.Background(), resourceID)
	if errors.Is(err, models.ErrNotFound) {
		return models.AvailabilityAvailable
	}
	if err != nil {
		t.Fatalf("GetAvailability(%s): %v", resourceID, err)
	}
	return st.Availability
}

// assertConsistent checks the stored flag against the reservations that hold the resource.
func (f *fixture) assertConsistent(t *testing.T, resourceID string) {
	t.Helper()
	active, err := f.store.CountActive(context.Background(), resourceID)
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	want := models.AvailabilityAvailable
	if active > 0 {
		want = models.AvailabilityReserved
	}
	if got := f.availability(t, resourceID); got != want {
		t.Fatalf("%s availability = %s with %d active reservations, want %s", resourceID, got, active, want)
	}
}
