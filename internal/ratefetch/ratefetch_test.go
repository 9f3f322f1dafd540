package ratefetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLimiter_SpacesRequests(t *testing.T) {
	// WHAT: N acquires are spaced (N-1)*MinDelay apart on the clock.
	// WHY: Global request spacing is the invariant that keeps the API happy.
	clock := clockwork.NewFakeClock()
	l := NewLimiter(LimiterOptions{MinDelay: 2 * time.Second, Clock: clock})
	ctx := context.Background()

	start := clock.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if clock.Now().Sub(start) != 0 {
		t.Error("first acquire should not wait")
	}

	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	// The second acquire must be parked on the clock.
	clock.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("second acquire returned before the delay elapsed")
	default:
	}

	clock.Advance(2 * time.Second)
	if err := <-done; err != nil {
		t.Fatalf("second acquire: %v", err)
	}
}

func TestLimiter_AcquireCancellable(t *testing.T) {
	// WHAT: A parked acquire unblocks on context cancellation.
	clock := clockwork.NewFakeClock()
	l := NewLimiter(LimiterOptions{MinDelay: time.Minute, Clock: clock})

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()
	clock.BlockUntil(1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLimiter_Cooldown(t *testing.T) {
	// WHAT: TripCooldown opens a window that InCooldown reports until it
	// expires on the clock.
	clock := clockwork.NewFakeClock()
	l := NewLimiter(LimiterOptions{Cooldown: time.Minute, Clock: clock})

	if l.InCooldown() {
		t.Fatal("fresh limiter should not be in cooldown")
	}
	l.TripCooldown()
	if !l.InCooldown() {
		t.Fatal("cooldown should be active after a trip")
	}
	clock.Advance(59 * time.Second)
	if !l.InCooldown() {
		t.Error("cooldown should still be active at 59s")
	}
	clock.Advance(2 * time.Second)
	if l.InCooldown() {
		t.Error("cooldown should have expired")
	}
	if l.Stats().CooldownTrips != 1 {
		t.Errorf("trips: got %d, want 1", l.Stats().CooldownTrips)
	}
}

func TestClient_Votes(t *testing.T) {
	// WHAT: The client hits /votes?videoId=<id> and decodes the record.
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.String())
		w.Write([]byte(`{"likes":950,"dislikes":50,"viewCount":100000}`))
	}))
	defer srv.Close()

	l := NewLimiter(LimiterOptions{MinDelay: time.Millisecond})
	c := NewClient(l, Config{BaseURL: srv.URL})

	rec, err := c.Votes(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("votes: %v", err)
	}
	if rec.Likes != 950 || rec.Dislikes != 50 {
		t.Errorf("record: got %+v", rec)
	}
	if gotPath.Load() != "/votes?videoId=abc123" {
		t.Errorf("path: got %q", gotPath.Load())
	}
}

func TestClient_429TripsCooldown(t *testing.T) {
	// WHAT: A 429 returns ErrThrottled and puts the shared limiter into
	// cooldown, so subsequent pipelines skip without touching the network.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	l := NewLimiter(LimiterOptions{MinDelay: time.Millisecond})
	c := NewClient(l, Config{BaseURL: srv.URL})

	_, err := c.Votes(context.Background(), "abc123")
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if !l.InCooldown() {
		t.Error("limiter should be in cooldown after a 429")
	}
}

func TestClient_GenericFailures(t *testing.T) {
	// WHAT: Non-2xx (other than 429) and malformed JSON are generic errors,
	// not throttling.
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http 500", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"http 404", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			l := NewLimiter(LimiterOptions{MinDelay: time.Millisecond})
			c := NewClient(l, Config{BaseURL: srv.URL})

			_, err := c.Votes(context.Background(), "x")
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrThrottled) {
				t.Error("generic failure must not read as throttling")
			}
			if l.InCooldown() {
				t.Error("generic failure must not trip cooldown")
			}
		})
	}
}
