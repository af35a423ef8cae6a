package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joshua-takyi/fieldbook/internal/clock"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/notify"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type BookingService struct {
	store    models.Store
	catalog  models.CatalogRepo
	clock    clock.Clock
	notifier notify.Notifier
	logger   *slog.Logger
	checkins *CheckinService
	avail    *availability
}

func NewBookingService(store models.Store, catalog models.CatalogRepo, clk clock.Clock, notifier notify.Notifier, logger *slog.Logger, checkins *CheckinService) *BookingService {
	return &BookingService{
		store:    store,
		catalog:  catalog,
		clock:    clk,
		notifier: notifier,
		logger:   logger,
		checkins: checkins,
		avail:    &availability{store: store, catalog: catalog, clock: clk},
	}
}

// Create books a slot for the requester. The overlap check, the insert and the
// availability write happen in one unit of work on the resource.
func (bs *BookingService) Create(ctx context.Context, requester models.Requester, req models.ReservationRequest) (res *models.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.Create")
	defer func() { endSpan(span, err) }()

	if requester.UserID == "" {
		return nil, models.ErrForbidden
	}
	if err := models.Validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	slot, err := models.ParseSlot(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	resource, err := bs.catalog.GetResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if resource.Maintenance {
		return nil, models.ErrResourceUnavailable
	}

	start, end := slot.Bounds()
	now := bs.clock.Now()
	r := &models.Reservation{
		ID:         uuid.NewString(),
		ResourceID: resource.ID,
		UserID:     requester.UserID,
		Date:       req.Date,
		StartTime:  start,
		EndTime:    end,
		TotalPrice: models.Price(resource.HourlyRate, slot),
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = bs.store.WithResourceTx(ctx, r.ResourceID, func(ctx context.Context) error {
		existing, err := bs.store.ListActiveForDate(ctx, r.ResourceID, r.Date)
		if err != nil {
			return err
		}
		for _, other := range existing {
			otherSlot, err := other.Slot()
			if err != nil {
				return fmt.Errorf("stored reservation %s: %w", other.ID, err)
			}
			if slot.Overlaps(otherSlot) {
				return models.ErrSlotConflict
			}
		}
		if err := bs.store.InsertReservation(ctx, r); err != nil {
			return err
		}
		_, err = bs.avail.recompute(ctx, r.ResourceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	bs.logger.Info("Reservation created",
		"reservation_id", r.ID,
		"resource_id", r.ResourceID,
		"date", r.Date,
		"start_time", r.StartTime,
		"end_time", r.EndTime,
	)
	return r, nil
}

// Cancel moves a pending or paid reservation to cancelled. Only the owner or a
// caller allowed to cancel any reservation may do so.
func (bs *BookingService) Cancel(ctx context.Context, requester models.Requester, id string) (res *models.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.Cancel")
	defer func() { endSpan(span, err) }()

	r, err := bs.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !requester.Owns(r.UserID) && !requester.Permits(models.CapCancelAny) {
		return nil, models.ErrForbidden
	}
	if r.Status.IsTerminal() {
		return nil, models.ErrAlreadyTerminal
	}

	err = bs.store.WithResourceTx(ctx, r.ResourceID, func(ctx context.Context) error {
		updated, err := bs.store.TransitionStatus(ctx, id, models.ActiveStatuses, models.StatusCancelled, bs.clock.Now())
		if errors.Is(err, models.ErrStatusMismatch) {
			return explainMismatch(ctx, bs.store, id, models.StatusCancelled)
		}
		if err != nil {
			return err
		}
		res = updated
		_, err = bs.avail.recompute(ctx, r.ResourceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	bs.logger.Info("Reservation cancelled", "reservation_id", id, "by", requester.UserID)
	publish(ctx, bs.notifier, bs.logger, notify.EventCancelled, res, bs.clock)
	return res, nil
}

// SetStatus is the administrative status change. Setting the current status again
// returns the reservation unchanged.
func (bs *BookingService) SetStatus(ctx context.Context, requester models.Requester, id string, status models.ReservationStatus) (res *models.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.SetStatus")
	defer func() { endSpan(span, err) }()

	if !requester.Permits(models.CapManageReservations) {
		return nil, models.ErrForbidden
	}
	switch status {
	case models.StatusPending, models.StatusPaid, models.StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: status must be one of pending, paid, cancelled", models.ErrValidation)
	}

	r, err := bs.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == status {
		return r, nil
	}
	if err := models.CheckTransition(r.Status, status); err != nil {
		return nil, err
	}

	err = bs.store.WithResourceTx(ctx, r.ResourceID, func(ctx context.Context) error {
		updated, err := bs.store.TransitionStatus(ctx, id, []models.ReservationStatus{r.Status}, status, bs.clock.Now())
		if errors.Is(err, models.ErrStatusMismatch) {
			return explainMismatch(ctx, bs.store, id, status)
		}
		if err != nil {
			return err
		}
		res = updated
		if _, err := bs.avail.recompute(ctx, r.ResourceID); err != nil {
			return err
		}
		if status == models.StatusPaid && bs.checkins != nil {
			if _, err := bs.checkins.issueLocked(ctx, updated); err != nil {
				return fmt.Errorf("issue check-in token: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bs.logger.Info("Reservation status changed",
		"reservation_id", id,
		"from", r.Status,
		"to", status,
		"by", requester.UserID,
	)
	switch status {
	case models.StatusPaid:
		publish(ctx, bs.notifier, bs.logger, notify.EventPaid, res, bs.clock)
	case models.StatusCancelled:
		publish(ctx, bs.notifier, bs.logger, notify.EventCancelled, res, bs.clock)
	}
	return res, nil
}

func (bs *BookingService) Get(ctx context.Context, requester models.Requester, id string) (*models.Reservation, error) {
	r, err := bs.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !requester.Owns(r.UserID) && !requester.Permits(models.CapManageReservations) {
		return nil, models.ErrForbidden
	}
	return r, nil
}

func pageBounds(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return offset, limit
}

func (bs *BookingService) ListMine(ctx context.Context, requester models.Requester, offset, limit int) ([]*models.Reservation, int64, error) {
	if requester.UserID == "" {
		return nil, 0, models.ErrForbidden
	}
	offset, limit = pageBounds(offset, limit)
	return bs.store.ListReservations(ctx, models.ReservationFilter{
		UserID: requester.UserID,
		Offset: offset,
		Limit:  limit,
	})
}

func (bs *BookingService) List(ctx context.Context, requester models.Requester, f models.ReservationFilter) ([]*models.Reservation, int64, error) {
	if !requester.Permits(models.CapManageReservations) {
		return nil, 0, models.ErrForbidden
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", models.ErrValidation, f.Status)
	}
	f.Offset, f.Limit = pageBounds(f.Offset, f.Limit)
	return bs.store.ListReservations(ctx, f)
}

// ActiveForResource returns the pending and paid reservations holding a resource.
func (bs *BookingService) ActiveForResource(ctx context.Context, requester models.Requester, resourceID string) ([]*models.Reservation, error) {
	if !requester.Permits(models.CapManageReservations) {
		return nil, models.ErrForbidden
	}
	var out []*models.Reservation
	for _, status := range models.ActiveStatuses {
		list, _, err := bs.store.ListReservations(ctx, models.ReservationFilter{ResourceID: resourceID, Status: status})
		if err != nil {
			return nil, err
		}
		out = append(out, list...)
	}
	return out, nil
}

// GetAvailability recomputes a resource's availability from its reservations and
// rewrites the stored flag when it drifted. Consistent reads take no lock; only a
// repair runs inside the resource's unit of work.
func (bs *BookingService) GetAvailability(ctx context.Context, resourceID string) (out *models.ResourceAvailability, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.GetAvailability")
	defer func() { endSpan(span, err) }()

	if _, err := bs.catalog.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}

	derived, active, err := bs.avail.derive(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	stored, err := bs.storedAvailability(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if stored == derived {
		return &models.ResourceAvailability{
			ResourceID:         resourceID,
			Availability:       derived,
			ActiveReservations: active,
		}, nil
	}

	err = bs.store.WithResourceTx(ctx, resourceID, func(ctx context.Context) error {
		derived, active, err := bs.avail.derive(ctx, resourceID)
		if err != nil {
			return err
		}
		out = &models.ResourceAvailability{
			ResourceID:         resourceID,
			Availability:       derived,
			ActiveReservations: active,
		}

		stored, err := bs.storedAvailability(ctx, resourceID)
		if err != nil {
			return err
		}
		if stored == derived {
			return nil
		}

		bs.logger.Warn("Availability drifted, repairing",
			"resource_id", resourceID,
			"stored", stored,
			"derived", derived,
			"active_reservations", active,
		)
		out.Repaired = true
		return bs.store.SetAvailability(ctx, resourceID, derived, bs.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// storedAvailability returns "" for a resource that has no stored flag yet.
func (bs *BookingService) storedAvailability(ctx context.Context, resourceID string) (models.Availability, error) {
	st, err := bs.store.GetAvailability(ctx, resourceID)
	switch {
	case err == nil:
		return st.Availability, nil
	case errors.Is(err, models.ErrNotFound):
		return "", nil
	default:
		return "", err
	}
}

// DeleteByResource removes every reservation of a resource along with their tokens.
func (bs *BookingService) DeleteByResource(ctx context.Context, requester models.Requester, resourceID string) (n int64, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.DeleteByResource")
	defer func() { endSpan(span, err) }()

	if !requester.Permits(models.CapManageReservations) {
		return 0, models.ErrForbidden
	}
	if resourceID == "" {
		return 0, fmt.Errorf("%w: resource id is required", models.ErrValidation)
	}
	var deleted int64
	err = bs.store.WithResourceTx(ctx, resourceID, func(ctx context.Context) error {
		var err error
		deleted, err = bs.store.DeleteReservations(ctx, models.ReservationFilter{ResourceID: resourceID})
		if err != nil {
			return err
		}
		_, err = bs.avail.recompute(ctx, resourceID)
		return err
	})
	if err != nil {
		return 0, err
	}
	n = deleted
	bs.logger.Info("Reservations deleted", "resource_id", resourceID, "count", n, "by", requester.UserID)
	return n, nil
}

// DeleteByUser removes a user's reservations one resource at a time so that each
// affected resource is recomputed under its own unit of work.
func (bs *BookingService) DeleteByUser(ctx context.Context, requester models.Requester, userID string) (n int64, err error) {
	ctx, span := tracer.Start(ctx, "BookingService.DeleteByUser")
	defer func() { endSpan(span, err) }()

	if !requester.Permits(models.CapManageReservations) {
		return 0, models.ErrForbidden
	}
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}

	list, _, err := bs.store.ListReservations(ctx, models.ReservationFilter{UserID: userID})
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	var resources []string
	for _, r := range list {
		if !seen[r.ResourceID] {
			seen[r.ResourceID] = true
			resources = append(resources, r.ResourceID)
		}
	}

	// The store may replay a unit of work, so only a committed attempt's count is kept.
	var errs []error
	for _, resourceID := range resources {
		var deleted int64
		err := bs.store.WithResourceTx(ctx, resourceID, func(ctx context.Context) error {
			var err error
			deleted, err = bs.store.DeleteReservations(ctx, models.ReservationFilter{ResourceID: resourceID, UserID: userID})
			if err != nil {
				return err
			}
			_, err = bs.avail.recompute(ctx, resourceID)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("resource %s: %w", resourceID, err))
			continue
		}
		n += deleted
	}
	bs.logger.Info("Reservations deleted", "user_id", userID, "count", n, "by", requester.UserID)
	return n, errors.Join(errs...)
}

