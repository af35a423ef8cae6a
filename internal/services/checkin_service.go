package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joshua-takyi/fieldbook/internal/clock"
	"github.com/joshua-takyi/fieldbook/internal/helpers"
	"github.com/joshua-takyi/fieldbook/internal/models"
	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

type CheckinService struct {
	store  models.Store
	signer *helpers.TicketSigner
	clock  clock.Clock
	logger *slog.Logger
}

func NewCheckinService(store models.Store, signer *helpers.TicketSigner, clk clock.Clock, logger *slog.Logger) *CheckinService {
	return &CheckinService{
		store:  store,
		signer: signer,
		clock:  clk,
		logger: logger,
	}
}

// Issue returns the reservation's check-in token, minting it on first call.
func (s *CheckinService) Issue(ctx context.Context, reservationID string) (token *models.CheckinToken, err error) {
	ctx, span := tracer.Start(ctx, "CheckinService.Issue")
	defer func() { endSpan(span, err) }()

	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	err = s.store.WithResourceTx(ctx, r.ResourceID, func(ctx context.Context) error {
		current, err := s.store.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		token, err = s.issueLocked(ctx, current)
		return err
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// issueLocked runs inside the reservation's resource unit of work.
func (s *CheckinService) issueLocked(ctx context.Context, r *models.Reservation) (*models.CheckinToken, error) {
	if r.Status != models.StatusPaid {
		return nil, models.ErrNotPaid
	}
	existing, err := s.store.GetCheckin(ctx, r.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	id := uuid.NewString()
	payload, err := s.signer.Sign(id, r.ID, r.UserID, r.ResourceID, now)
	if err != nil {
		return nil, fmt.Errorf("sign check-in ticket: %w", err)
	}
	t := &models.CheckinToken{
		ID:            id,
		ReservationID: r.ID,
		UserID:        r.UserID,
		ResourceID:    r.ResourceID,
		Payload:       payload,
		CreatedAt:     now,
	}
	if err := s.store.InsertCheckin(ctx, t); err != nil {
		if errors.Is(err, models.ErrTokenExists) {
			return s.store.GetCheckin(ctx, r.ID)
		}
		return nil, err
	}
	s.logger.Info("Check-in token issued", "reservation_id", r.ID, "token_id", id)
	return t, nil
}

func (s *CheckinService) Get(ctx context.Context, requester models.Requester, reservationID string) (*models.CheckinToken, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !requester.Owns(r.UserID) && !requester.Permits(models.CapManageReservations) {
		return nil, models.ErrForbidden
	}
	return s.store.GetCheckin(ctx, reservationID)
}

// QR renders the token payload as a PNG.
func (s *CheckinService) QR(ctx context.Context, requester models.Requester, reservationID string, size int) ([]byte, error) {
	t, err := s.Get(ctx, requester, reservationID)
	if err != nil {
		return nil, err
	}
	if size <= 0 || size > 1024 {
		size = defaultQRSize
	}
	png, err := qrcode.Encode(t.Payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// Consume marks the token used. Exactly one concurrent caller wins; the rest get
// *models.AlreadyConsumedError with the original time.
func (s *CheckinService) Consume(ctx context.Context, requester models.Requester, reservationID string) (t *models.CheckinToken, err error) {
	ctx, span := tracer.Start(ctx, "CheckinService.Consume")
	defer func() { endSpan(span, err) }()

	if !requester.Permits(models.CapScanCheckin) {
		return nil, models.ErrForbidden
	}
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusPaid {
		return nil, models.ErrNotPaid
	}

	t, err = s.store.ConsumeCheckin(ctx, reservationID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("Checked in", "reservation_id", reservationID, "scanned_by", requester.UserID)
	return t, nil
}

// ScanTicket consumes the token identified by a scanned payload.
func (s *CheckinService) ScanTicket(ctx context.Context, requester models.Requester, payload string) (*models.CheckinToken, error) {
	if !requester.Permits(models.CapScanCheckin) {
		return nil, models.ErrForbidden
	}
	claims, err := s.signer.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidTicket, err)
	}
	stored, err := s.store.GetCheckin(ctx, claims.ReservationID)
	if err != nil {
		return nil, err
	}
	if stored.Payload != payload {
		return nil, models.ErrInvalidTicket
	}
	return s.Consume(ctx, requester, claims.ReservationID)
}
