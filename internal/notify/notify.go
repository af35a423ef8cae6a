package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	EventPaid      = "reservation.paid"
	EventCancelled = "reservation.cancelled"
	EventExpired   = "reservation.expired"
)

type Event struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	ResourceID    string    `json:"resource_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier is used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, e Event) error {
	l.logger.Info("Reservation notification",
		"type", e.Type,
		"reservation_id", e.ReservationID,
		"user_id", e.UserID,
		"resource_id", e.ResourceID,
	)
	return nil
}

// Async hands events to next on a background goroutine so a slow or failing
// broker never holds up a request. Delivery errors are only logged.
type Async struct {
	next    Notifier
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(next Notifier, logger *slog.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Async{next: next, logger: logger, timeout: timeout}
}

func (a *Async) Notify(_ context.Context, e Event) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, e); err != nil {
			a.logger.Error("Failed to deliver notification",
				"type", e.Type,
				"reservation_id", e.ReservationID,
				"error", err,
			)
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
