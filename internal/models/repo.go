package models

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supabase-community/supabase-go"
	"go.mongodb.org/mongo-driver/mongo"
)

var Validate = validator.New()

type ReservationRepo interface {
	InsertReservation(ctx context.Context, r *Reservation) error
	GetReservation(ctx context.Context, id string) (*Reservation, error)
	// ListActiveForDate returns pending and paid reservations of a resource on one date.
	ListActiveForDate(ctx context.Context, resourceID, date string) ([]*Reservation, error)
	CountActive(ctx context.Context, resourceID string) (int64, error)
	// TransitionStatus moves a reservation to `to` only if its current status is one of
	// `from`. It returns ErrNotFound or ErrStatusMismatch when the condition fails.
	TransitionStatus(ctx context.Context, id string, from []ReservationStatus, to ReservationStatus, now time.Time) (*Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]*Reservation, int64, error)
	ListPending(ctx context.Context) ([]*Reservation, error)
	// DeleteReservations removes matching reservations together with their check-in tokens.
	DeleteReservations(ctx context.Context, f ReservationFilter) (int64, error)
	RevenueByDay(ctx context.Context, from, to time.Time, loc *time.Location) ([]DailyRevenue, error)
}

type AvailabilityRepo interface {
	GetAvailability(ctx context.Context, resourceID string) (*ResourceStatus, error)
	SetAvailability(ctx context.Context, resourceID string, a Availability, now time.Time) error
}

type CheckinRepo interface {
	GetCheckin(ctx context.Context, reservationID string) (*CheckinToken, error)
	// InsertCheckin fails with ErrTokenExists if the reservation already has a token.
	InsertCheckin(ctx context.Context, t *CheckinToken) error
	// ConsumeCheckin flips consumed false->true exactly once. Losers get *AlreadyConsumedError.
	ConsumeCheckin(ctx context.Context, reservationID string, now time.Time) (*CheckinToken, error)
}

// TxRunner serializes units of work per resource. Repository calls made with the
// ctx handed to fn take part in the same transaction.
type TxRunner interface {
	WithResourceTx(ctx context.Context, resourceID string, fn func(ctx context.Context) error) error
}

type Store interface {
	ReservationRepo
	AvailabilityRepo
	CheckinRepo
	TxRunner
	EnsureSchema(ctx context.Context) error
}

type CatalogRepo interface {
	GetResource(ctx context.Context, id string) (*Resource, error)
}

type RoleLookup interface {
	GetRole(ctx context.Context, userID, accessToken string) (Role, error)
}

type SupabaseRepo struct {
	supabaseClient *supabase.Client
	url            string
	key            string
}

func SupabaseNewRepo(supabaseClient *supabase.Client, url, key string) *SupabaseRepo {
	return &SupabaseRepo{
		supabaseClient: supabaseClient,
		url:            url,
		key:            key,
	}
}

// GetAuthenticatedClient returns a Supabase client that sends the caller's access token,
// so row level security applies to its queries.
func (su *SupabaseRepo) GetAuthenticatedClient(accessToken string) (*supabase.Client, error) {
	if accessToken == "" || su.url == "" || su.key == "" {
		return su.supabaseClient, nil
	}

	options := &supabase.ClientOptions{
		Headers: map[string]string{
			"Authorization": "Bearer " + accessToken,
		},
	}

	return supabase.NewClient(su.url, su.key, options)
}

// execute runs a PostgREST call and stops waiting when ctx ends. The client takes no
// context, so an abandoned call finishes in the background and its result is dropped.
func execute(ctx context.Context, call func() ([]byte, int64, error)) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	type result struct {
		raw    []byte
		status int64
		err    error
	}
	done := make(chan result, 1)
	go func() {
		raw, status, err := call()
		done <- result{raw, status, err}
	}()
	select {
	case r := <-done:
		return r.raw, r.status, r.err
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

type MongodbRepo struct {
	mongodbClient *mongo.Client
	dbName        string
}

func MongodbNewRepo(mongodbClient *mongo.Client, dbName string) *MongodbRepo {
	return &MongodbRepo{
		mongodbClient: mongodbClient,
		dbName:        dbName,
	}
}

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func PostgresNewRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}
