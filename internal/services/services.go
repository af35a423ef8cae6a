package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshua-takyi/fieldbook/internal/clock"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/notify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/joshua-takyi/fieldbook/internal/services")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// availability derives and stores a resource's availability. Callers must hold the
// resource's unit of work so the count and the write see the same reservation set.
type availability struct {
	store   models.Store
	catalog models.CatalogRepo
	clock   clock.Clock
}

func (a *availability) derive(ctx context.Context, resourceID string) (models.Availability, int64, error) {
	maintenance := false
	res, err := a.catalog.GetResource(ctx, resourceID)
	switch {
	case err == nil:
		maintenance = res.Maintenance
	case errors.Is(err, models.ErrResourceNotFound):
		// removed from the catalog; reservations alone decide
	default:
		return "", 0, err
	}

	active, err := a.store.CountActive(ctx, resourceID)
	if err != nil {
		return "", 0, err
	}
	return models.DeriveAvailability(maintenance, active), active, nil
}

func (a *availability) recompute(ctx context.Context, resourceID string) (models.Availability, error) {
	derived, _, err := a.derive(ctx, resourceID)
	if err != nil {
		return "", err
	}
	if err := a.store.SetAvailability(ctx, resourceID, derived, a.clock.Now()); err != nil {
		return "", err
	}
	return derived, nil
}

func publish(ctx context.Context, n notify.Notifier, logger *slog.Logger, eventType string, r *models.Reservation, at clock.Clock) {
	if n == nil || r == nil {
		return
	}
	err := n.Notify(ctx, notify.Event{
		Type:          eventType,
		ReservationID: r.ID,
		UserID:        r.UserID,
		ResourceID:    r.ResourceID,
		Date:          r.Date,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		OccurredAt:    at.Now(),
	})
	if err != nil {
		logger.Error("Failed to publish notification",
			"type", eventType,
			"reservation_id", r.ID,
			"error", err,
		)
	}
}

// explainMismatch turns a lost conditional update into the caller-facing error.
func explainMismatch(ctx context.Context, store models.ReservationRepo, id string, to models.ReservationStatus) error {
	current, err := store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if err := models.CheckTransition(current.Status, to); err != nil {
		return err
	}
	return fmt.Errorf("%w: reservation is now %s", models.ErrInvalidTransition, current.Status)
}
