// Package ratefetch serialises outbound vote lookups. A single Limiter
// owns the shared pacing state (last request time, cooldown deadline) and
// is passed by reference to everything that talks to the votes API.
package ratefetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrThrottled is returned when the votes API answers 429. The limiter has
// already entered cooldown by the time callers see it.
var ErrThrottled = errors.New("ratefetch: throttled by votes API")

const (
	// DefaultMinDelay is the minimum spacing between any two requests.
	DefaultMinDelay = 2 * time.Second
	// DefaultCooldown is how long requests stay suppressed after a 429.
	DefaultCooldown = 60 * time.Second
)

// LimiterOptions tunes a Limiter.
type LimiterOptions struct {
	MinDelay time.Duration
	Cooldown time.Duration
	Clock    clockwork.Clock
}

func (o *LimiterOptions) defaults() {
	if o.MinDelay <= 0 {
		o.MinDelay = DefaultMinDelay
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// Limiter enforces global request spacing and the 429 cooldown window.
type Limiter struct {
	opts  LimiterOptions
	clock clockwork.Clock

	mu            sync.Mutex
	lastRequest   time.Time
	cooldownUntil time.Time

	trips    atomic.Int64
	acquires atomic.Int64
}

// NewLimiter creates a Limiter.
func NewLimiter(opts LimiterOptions) *Limiter {
	opts.defaults()
	return &Limiter{opts: opts, clock: opts.Clock}
}

// InCooldown reports whether a 429 cooldown window is active. Pipelines
// check this before any cache or network work on an element.
func (l *Limiter) InCooldown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clock.Now().Before(l.cooldownUntil)
}

// TripCooldown starts a cooldown window from now. Returns its deadline.
func (l *Limiter) TripCooldown() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldownUntil = l.clock.Now().Add(l.opts.Cooldown)
	l.trips.Add(1)
	return l.cooldownUntil
}

// Acquire reserves the next request slot and sleeps until it opens. Slots
// are spaced MinDelay apart regardless of which caller claims them.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := l.clock.Now()
	at := l.lastRequest.Add(l.opts.MinDelay)
	if at.Before(now) {
		at = now
	}
	l.lastRequest = at
	l.mu.Unlock()

	l.acquires.Add(1)
	if wait := at.Sub(now); wait > 0 {
		select {
		case <-l.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stats are point-in-time limiter counters.
type Stats struct {
	Acquires      int64 `json:"acquires"`
	CooldownTrips int64 `json:"cooldown_trips"`
	InCooldown    bool  `json:"in_cooldown"`
}

// Stats returns the current counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Acquires:      l.acquires.Load(),
		CooldownTrips: l.trips.Load(),
		InCooldown:    l.InCooldown(),
	}
}

// VoteRecord is the raw vote data returned by the API.
type VoteRecord struct {
	Likes    int64 `json:"likes"`
	Dislikes int64 `json:"dislikes"`
}

// Config configures the votes API client.
type Config struct {
	// BaseURL of the votes API, without trailing slash.
	BaseURL string
	// Timeout for one request. Default: 15s.
	Timeout time.Duration
	// MaxBytes caps the response body. Default: 1MB.
	MaxBytes int64
	// UserAgent sent with requests.
	UserAgent string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 1 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "ratiometer/1.0"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client fetches vote records through a shared Limiter.
type Client struct {
	http    *http.Client
	limiter *Limiter
	config  Config
	logger  *slog.Logger
}

// NewClient creates a Client. The limiter is shared, not owned: the same
// instance gates every pipeline in the process.
func NewClient(limiter *Limiter, cfg Config) *Client {
	cfg.defaults()
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		config:  cfg,
		logger:  cfg.Logger,
	}
}

// Votes looks up the vote record for videoID. On a 429 it trips the
// limiter's cooldown and returns ErrThrottled; other non-2xx statuses and
// malformed bodies are generic fetch failures.
func (c *Client) Votes(ctx context.Context, videoID string) (VoteRecord, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return VoteRecord{}, fmt.Errorf("ratefetch: acquire: %w", err)
	}

	u := c.config.BaseURL + "/votes?videoId=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return VoteRecord{}, fmt.Errorf("ratefetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return VoteRecord{}, fmt.Errorf("ratefetch: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		until := c.limiter.TripCooldown()
		c.logger.Warn("ratefetch: rate limited, cooling down",
			"video_id", videoID, "until", until)
		return VoteRecord{}, fmt.Errorf("ratefetch: %s: %w", videoID, ErrThrottled)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return VoteRecord{}, fmt.Errorf("ratefetch: %s: http %d", videoID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBytes))
	if err != nil {
		return VoteRecord{}, fmt.Errorf("ratefetch: read body: %w", err)
	}

	var rec VoteRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return VoteRecord{}, fmt.Errorf("ratefetch: decode votes for %s: %w", videoID, err)
	}
	return rec, nil
}
