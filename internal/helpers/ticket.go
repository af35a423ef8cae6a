package helpers

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketClaims is the payload encoded in a check-in token and its QR code.
type TicketClaims struct {
	ReservationID string `json:"rid"`
	UserID        string `json:"uid"`
	ResourceID    string `json:"fid"`
	jwt.RegisteredClaims
}

type TicketSigner struct {
	secret []byte
}

func NewTicketSigner(secret string) (*TicketSigner, error) {
	if secret == "" {
		return nil, errors.New("ticket secret is empty")
	}
	return &TicketSigner{secret: []byte(secret)}, nil
}

func (s *TicketSigner) Sign(tokenID, reservationID, userID, resourceID string, issuedAt time.Time) (string, error) {
	claims := TicketClaims{
		ReservationID: reservationID,
		UserID:        userID,
		ResourceID:    resourceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       tokenID,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *TicketSigner) Parse(payload string) (*TicketClaims, error) {
	t, err := jwt.ParseWithClaims(payload, &TicketClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("parse ticket: %w", err)
	}
	c, ok := t.Claims.(*TicketClaims)
	if !ok || !t.Valid || c.ReservationID == "" {
		return nil, errors.New("invalid ticket")
	}
	return c, nil
}
