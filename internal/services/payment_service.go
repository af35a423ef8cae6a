package services

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/joshua-takyi/fieldbook/internal/clock"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/joshua-takyi/fieldbook/internal/notify"
	"github.com/joshua-takyi/fieldbook/internal/payment"
)

// Gateway is the signing side of the payment provider.
type Gateway interface {
	BuildRedirect(o payment.Order) (string, error)
	VerifyCallback(params url.Values) bool
}

type Outcome string

const (
	OutcomeConfirmed          Outcome = "confirmed"
	OutcomeAlreadyProcessed   Outcome = "already_processed"
	OutcomeDeclined           Outcome = "declined"
	OutcomeInvalidSignature   Outcome = "invalid_signature"
	OutcomeMalformedReference Outcome = "malformed_reference"
	OutcomeNotFound           Outcome = "not_found"
)

type ReconcileResult struct {
	Outcome       Outcome                  `json:"outcome"`
	ReservationID string                   `json:"reservation_id,omitempty"`
	Status        models.ReservationStatus `json:"status,omitempty"`
	Token         *models.CheckinToken     `json:"token,omitempty"`
}

// Succeeded reports whether the reservation ended up paid.
func (r ReconcileResult) Succeeded() bool {
	return r.Status == models.StatusPaid &&
		(r.Outcome == OutcomeConfirmed || r.Outcome == OutcomeAlreadyProcessed)
}

type PaymentService struct {
	store    models.Store
	catalog  models.CatalogRepo
	gateway  Gateway
	checkins *CheckinService
	clock    clock.Clock
	notifier notify.Notifier
	logger   *slog.Logger
	avail    *availability
}

func NewPaymentService(store models.Store, catalog models.CatalogRepo, gateway Gateway, checkins *CheckinService, clk clock.Clock, notifier notify.Notifier, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		store:    store,
		catalog:  catalog,
		gateway:  gateway,
		checkins: checkins,
		clock:    clk,
		notifier: notifier,
		logger:   logger,
		avail:    &availability{store: store, catalog: catalog, clock: clk},
	}
}

// RedirectURL builds the signed gateway URL for a pending reservation.
func (ps *PaymentService) RedirectURL(ctx context.Context, requester models.Requester, reservationID, clientIP string) (string, error) {
	r, err := ps.store.GetReservation(ctx, reservationID)
	if err != nil {
		return "", err
	}
	if !requester.Owns(r.UserID) && !requester.Permits(models.CapManageReservations) {
		return "", models.ErrForbidden
	}
	if r.Status != models.StatusPending {
		if r.Status.IsTerminal() {
			return "", models.ErrAlreadyTerminal
		}
		return "", models.ErrInvalidTransition
	}
	return ps.gateway.BuildRedirect(payment.Order{
		ReservationID: r.ID,
		Amount:        r.TotalPrice,
		ClientIP:      clientIP,
		CreatedAt:     ps.clock.Now(),
	})
}

// Reconcile applies a gateway callback. Nothing is written unless the signature
// verifies, and a reservation is confirmed at most once no matter how often the
// same callback arrives. Only store failures are returned as errors.
func (ps *PaymentService) Reconcile(ctx context.Context, params url.Values) (res ReconcileResult, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.Reconcile")
	defer func() { endSpan(span, err) }()

	if !ps.gateway.VerifyCallback(params) {
		ps.logger.Warn("Payment callback rejected: invalid signature",
			"txn_ref", params.Get(payment.ParamTxnRef),
			"order_info", params.Get(payment.ParamOrderInfo),
		)
		return ReconcileResult{Outcome: OutcomeInvalidSignature}, nil
	}

	id, err := payment.ParseOrderReference(params.Get(payment.ParamOrderInfo))
	if err != nil {
		ps.logger.Warn("Payment callback rejected: malformed order reference", "error", err)
		return ReconcileResult{Outcome: OutcomeMalformedReference}, nil
	}

	r, err := ps.store.GetReservation(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		ps.logger.Warn("Payment callback for unknown reservation", "reservation_id", id)
		return ReconcileResult{Outcome: OutcomeNotFound, ReservationID: id}, nil
	}
	if err != nil {
		return ReconcileResult{}, err
	}
	if r.Status != models.StatusPending {
		return ReconcileResult{Outcome: OutcomeAlreadyProcessed, ReservationID: id, Status: r.Status}, nil
	}

	if !payment.IsSuccess(params) {
		ps.logger.Info("Payment declined by gateway",
			"reservation_id", id,
			"response_code", params.Get(payment.ParamResponseCode),
		)
		return ReconcileResult{Outcome: OutcomeDeclined, ReservationID: id, Status: r.Status}, nil
	}
	amount, err := payment.Amount(params)
	if want := payment.MinorUnits(r.TotalPrice); err != nil || amount != want {
		ps.logger.Warn("Payment declined: amount mismatch",
			"reservation_id", id,
			"amount", params.Get(payment.ParamAmount),
			"expected", want,
		)
		return ReconcileResult{Outcome: OutcomeDeclined, ReservationID: id, Status: r.Status}, nil
	}

	var (
		paid  *models.Reservation
		token *models.CheckinToken
		lost  bool
	)
	err = ps.store.WithResourceTx(ctx, r.ResourceID, func(ctx context.Context) error {
		updated, err := ps.store.TransitionStatus(ctx, id, []models.ReservationStatus{models.StatusPending}, models.StatusPaid, ps.clock.Now())
		if errors.Is(err, models.ErrStatusMismatch) {
			lost = true
			return nil
		}
		if err != nil {
			return err
		}
		paid = updated
		if _, err := ps.avail.recompute(ctx, r.ResourceID); err != nil {
			return err
		}
		token, err = ps.checkins.issueLocked(ctx, updated)
		return err
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	if lost {
		current, err := ps.store.GetReservation(ctx, id)
		if err != nil {
			return ReconcileResult{}, err
		}
		return ReconcileResult{Outcome: OutcomeAlreadyProcessed, ReservationID: id, Status: current.Status}, nil
	}

	ps.logger.Info("Payment confirmed",
		"reservation_id", id,
		"txn_ref", params.Get(payment.ParamTxnRef),
		"amount", amount,
	)
	publish(ctx, ps.notifier, ps.logger, notify.EventPaid, paid, ps.clock)
	return ReconcileResult{
		Outcome:       OutcomeConfirmed,
		ReservationID: id,
		Status:        paid.Status,
		Token:         token,
	}, nil
}
