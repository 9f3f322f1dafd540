// Package settings holds the user-facing display preferences and keeps a
// live in-process copy synchronised with the persistent store. External
// settings panels share this package's types and store key; they talk to
// the pipeline only through the store.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Key is the store key the preferences object lives under.
const Key = "displayPreferences"

// Namespace is the synchronised store namespace for preferences.
const Namespace = "sync"

// Display controls which badge lines are rendered.
type Display struct {
	ShowLabels         bool `json:"showLabels"`
	ShowTier           bool `json:"showTier"`
	ShowLikeRatio      bool `json:"showLikeRatio"`
	ShowRating         bool `json:"showRating"`
	ShowVotes          bool `json:"showVotes"`
	ShowEngagementRate bool `json:"showEngagementRate"`
}

// Defaults returns the built-in preferences: everything on.
func Defaults() Display {
	return Display{
		ShowLabels:         true,
		ShowTier:           true,
		ShowLikeRatio:      true,
		ShowRating:         true,
		ShowVotes:          true,
		ShowEngagementRate: true,
	}
}

// partial mirrors Display with optional fields, plus the key names used by
// earlier releases. A missing field leaves the base value untouched.
type partial struct {
	ShowLabels         *bool `json:"showLabels"`
	ShowTier           *bool `json:"showTier"`
	ShowLikeRatio      *bool `json:"showLikeRatio"`
	ShowRating         *bool `json:"showRating"`
	ShowVotes          *bool `json:"showVotes"`
	ShowEngagementRate *bool `json:"showEngagementRate"`

	// Legacy names. Honoured only when the current name is absent.
	ShowAccuracy   *bool `json:"showAccuracy"`
	ShowEngagement *bool `json:"showEngagement"`
}

// Merge applies a stored (possibly partial) preferences object onto base.
// Unknown fields are ignored; malformed JSON returns base unchanged with
// an error.
func Merge(base Display, raw []byte) (Display, error) {
	var p partial
	if err := json.Unmarshal(raw, &p); err != nil {
		return base, fmt.Errorf("settings: decode preferences: %w", err)
	}

	if p.ShowLabels != nil {
		base.ShowLabels = *p.ShowLabels
	}
	if p.ShowTier != nil {
		base.ShowTier = *p.ShowTier
	}
	switch {
	case p.ShowLikeRatio != nil:
		base.ShowLikeRatio = *p.ShowLikeRatio
	case p.ShowAccuracy != nil:
		base.ShowLikeRatio = *p.ShowAccuracy
	}
	if p.ShowRating != nil {
		base.ShowRating = *p.ShowRating
	}
	if p.ShowVotes != nil {
		base.ShowVotes = *p.ShowVotes
	}
	switch {
	case p.ShowEngagementRate != nil:
		base.ShowEngagementRate = *p.ShowEngagementRate
	case p.ShowEngagement != nil:
		base.ShowEngagementRate = *p.ShowEngagement
	}
	return base, nil
}

// Store is the slice of the persistent KV store the synchroniser needs.
// Subscribe registers a listener for writes in the preferences namespace;
// delivery semantics (changes after registration only) belong to the store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Subscribe(fn func(key string, value []byte))
}

// Sync owns the live preferences copy. The store remains the source of
// truth; Sync merges its notifications into the copy and fans out to the
// registered onChange callback.
type Sync struct {
	store    Store
	logger   *slog.Logger
	onChange func()

	mu      sync.RWMutex
	current Display
}

// NewSync creates a Sync seeded with defaults. onChange may be nil; it is
// called after every applied external change (settings-driven re-renders
// hook in here).
func NewSync(store Store, onChange func(), logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{
		store:    store,
		logger:   logger,
		onChange: onChange,
		current:  Defaults(),
	}
}

// Start loads the persisted preferences (absence falls back to defaults)
// and registers the change listener.
func (s *Sync) Start(ctx context.Context) error {
	raw, ok, err := s.store.Get(ctx, Key)
	if err != nil {
		return fmt.Errorf("settings: load: %w", err)
	}
	if ok {
		merged, err := Merge(Defaults(), raw)
		if err != nil {
			s.logger.Warn("settings: stored preferences malformed, using defaults", "error", err)
		} else {
			s.mu.Lock()
			s.current = merged
			s.mu.Unlock()
		}
	}

	s.store.Subscribe(func(key string, value []byte) {
		if key != Key {
			return
		}
		s.apply(value)
	})

	return nil
}

func (s *Sync) apply(raw []byte) {
	s.mu.Lock()
	merged, err := Merge(s.current, raw)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("settings: change notification malformed, ignoring", "error", err)
		return
	}
	changed := merged != s.current
	s.current = merged
	s.mu.Unlock()

	s.logger.Debug("settings: preferences updated", "changed", changed)
	if s.onChange != nil {
		s.onChange()
	}
}

// Current returns a snapshot of the live preferences.
func (s *Sync) Current() Display {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update mutates the persisted preferences through the store and applies
// the result to the live copy immediately. Other subscribers follow via
// the store's change notifications; the local copy must not wait for
// them, because short-lived callers read Current right after.
func (s *Sync) Update(ctx context.Context, mutate func(*Display)) error {
	raw, ok, err := s.store.Get(ctx, Key)
	if err != nil {
		return fmt.Errorf("settings: update read: %w", err)
	}
	d := Defaults()
	if ok {
		if merged, err := Merge(d, raw); err == nil {
			d = merged
		}
	}
	mutate(&d)

	out, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := s.store.Set(ctx, Key, out); err != nil {
		return fmt.Errorf("settings: update write: %w", err)
	}

	s.mu.Lock()
	s.current = d
	s.mu.Unlock()
	return nil
}
