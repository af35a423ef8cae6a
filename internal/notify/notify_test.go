package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Notify(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestAsyncDeliversInBackground(t *testing.T) {
	rec := &recorder{err: errors.New("broker down")}
	a := NewAsync(rec, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Second)

	for i := 0; i < 3; i++ {
		if err := a.Notify(context.Background(), Event{Type: EventExpired, ReservationID: "r1"}); err != nil {
			t.Fatalf("Notify returned %v; delivery errors must not surface", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(rec.events))
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := n.Notify(context.Background(), Event{Type: EventPaid}); err != nil {
		t.Fatal(err)
	}
}
