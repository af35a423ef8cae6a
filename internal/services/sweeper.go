package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshua-takyi/fieldbook/internal/clock"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/notify"
)

const DefaultSweepInterval = time.Minute

// Sweeper expires pending reservations that can no longer be paid for.
type Sweeper struct {
	store    models.Store
	clock    clock.Clock
	notifier notify.Notifier
	logger   *slog.Logger
	avail    *availability

	interval time.Duration
	loc      *time.Location
	window   time.Duration
}

type SweeperOption func(*Sweeper)

func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLocation sets the zone reservation dates and times are written in.
func WithLocation(loc *time.Location) SweeperOption {
	return func(s *Sweeper) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithPaymentWindow also expires pending reservations older than d. Zero disables it.
func WithPaymentWindow(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.window = d
	}
}

func NewSweeper(store models.Store, catalog models.CatalogRepo, clk clock.Clock, notifier notify.Notifier, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		clock:    clk,
		notifier: notifier,
		logger:   logger,
		avail:    &availability{store: store, catalog: catalog, clock: clk},
		interval: DefaultSweepInterval,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	// Skipped counts reservations that left pending between the scan and the update.
	Skipped int `json:"skipped"`
}

// RunOnce performs a single pass. A failure on one reservation does not stop the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (res SweepResult, err error) {
	ctx, span := tracer.Start(ctx, "Sweeper.RunOnce")
	defer func() { endSpan(span, err) }()

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return res, fmt.Errorf("list pending reservations: %w", err)
	}
	res.Scanned = len(pending)

	now := s.clock.Now()
	var errs []error
	for _, r := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if !r.IsOverdue(now, s.loc, s.window) {
			continue
		}
		expired, err := s.expire(ctx, r)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("expire %s: %w", r.ID, err))
		case expired == nil:
			res.Skipped++
		default:
			res.Expired++
			publish(ctx, s.notifier, s.logger, notify.EventExpired, expired, s.clock)
		}
	}

	if res.Expired > 0 || len(errs) > 0 {
		s.logger.Info("Sweep finished",
			"scanned", res.Scanned,
			"expired", res.Expired,
			"skipped", res.Skipped,
			"errors", len(errs),
		)
	}
	return res, errors.Join(errs...)
}

// expire returns nil without error when the reservation is no longer pending.
func (s *Sweeper) expire(ctx context.Context, r *models.Reservation) (out *models.Reservation, err error) {
	err = s.store.WithResourceTx(ctx, r.ResourceID, func(ctx context.Context) error {
		updated, err := s.store.TransitionStatus(ctx, r.ID, []models.ReservationStatus{models.StatusPending}, models.StatusExpired, s.clock.Now())
		if errors.Is(err, models.ErrStatusMismatch) || errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = updated
		_, err = s.avail.recompute(ctx, r.ResourceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Sweeper started", "interval", s.interval.String(), "payment_window", s.window.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
