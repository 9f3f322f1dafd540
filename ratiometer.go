// Package ratiometer annotates video listing and watch pages with tier
// badges computed from like/dislike vote records. It drives a headless
// Chrome tab, watches the page for candidate elements, fetches votes
// through a rate-limited API client backed by a two-level cache, and
// mounts rendered badges into the live DOM.
package ratiometer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/ratiometer/internal/badge"
	"github.com/hazyhaar/ratiometer/internal/browser"
	"github.com/hazyhaar/ratiometer/internal/idgen"
	"github.com/hazyhaar/ratiometer/internal/kvstore"
	"github.com/hazyhaar/ratiometer/internal/ratefetch"
	"github.com/hazyhaar/ratiometer/internal/scan"
	"github.com/hazyhaar/ratiometer/internal/votecache"
	"github.com/hazyhaar/ratiometer/page"
	"github.com/hazyhaar/ratiometer/settings"
)

// votesNamespace holds cached tier results in the KV store.
const votesNamespace = "local"

// Annotator is the top-level orchestrator. It owns the browser, the KV
// store, the settings synchronizer, and the per-page scanner. Create one
// per process.
type Annotator struct {
	cfg    *Config
	logger *slog.Logger

	mgr     *browser.Manager
	store   *kvstore.Store
	limiter *ratefetch.Limiter
	cache   *votecache.Cache
	sync    *settings.Sync

	mu      sync.Mutex
	session *browser.Session
	scanner *scan.Scanner
}

// New creates an Annotator from configuration.
func New(cfg *Config, logger *slog.Logger) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", idgen.Prefixed("ses-", idgen.Default)())
	cfg.ApplyDefaults()

	return &Annotator{
		cfg:    cfg,
		logger: logger,
		mgr: browser.NewManager(browser.Config{
			RemoteURL: cfg.Browser.Remote,
			Headful:   cfg.Browser.Headful,
			Logger:    logger,
		}),
		limiter: ratefetch.NewLimiter(ratefetch.LimiterOptions{
			MinDelay: cfg.API.MinDelay,
			Cooldown: cfg.API.Cooldown,
		}),
	}
}

// Start opens the store, launches Chrome, navigates to the configured
// page, and begins scanning. It returns once the initial scan completed;
// ongoing work (added-node batches, proximity callbacks, settings
// changes) runs until ctx is cancelled or Stop is called.
func (a *Annotator) Start(ctx context.Context) error {
	store, err := kvstore.Open(a.cfg.Store.Path, kvstore.Options{
		MkdirAll: true,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("ratiometer: open store: %w", err)
	}
	a.store = store
	go store.Watch(ctx)

	a.cache = votecache.New(store.Namespace(votesNamespace), votecache.Options{
		TTL:    a.cfg.API.CacheTTL,
		Logger: a.logger,
	})

	client := ratefetch.NewClient(a.limiter, ratefetch.Config{
		BaseURL: a.cfg.API.BaseURL,
		Timeout: a.cfg.API.Timeout,
		Logger:  a.logger,
	})

	a.sync = settings.NewSync(
		nsStore{store.Namespace(settings.Namespace)},
		a.onSettingsChange,
		a.logger,
	)
	if err := a.sync.Start(ctx); err != nil {
		return fmt.Errorf("ratiometer: %w", err)
	}

	if _, err := a.mgr.Start(); err != nil {
		return fmt.Errorf("ratiometer: %w", err)
	}

	session, err := browser.OpenSession(ctx, a.mgr, browser.SessionConfig{
		URL:        a.cfg.Page.URL,
		Selector:   scan.TargetSelector(),
		OnAdded:    a.onAdded,
		NavTimeout: a.cfg.Page.NavTimeout,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("ratiometer: %w", err)
	}

	scanner := scan.New(scan.Config{
		Surface:   session,
		Proximity: session,
		Cache:     a.cache,
		Votes:     client,
		Limiter:   a.limiter,
		Renderer:  badge.Renderer{},
		Display:   a.sync.Current,
		Logger:    a.logger,
	})

	a.mu.Lock()
	a.session = session
	a.scanner = scanner
	a.mu.Unlock()

	if err := scanner.Start(ctx); err != nil {
		a.logger.Error("ratiometer: initial scan failed", "error", err)
	}

	a.logger.Info("ratiometer: started",
		"url", a.cfg.Page.URL,
		"store", a.cfg.Store.Path)
	return nil
}

// onAdded forwards added-node batches from the page to the scanner. The
// session can deliver batches before the scanner is wired; those are
// dropped, the initial full scan covers them.
func (a *Annotator) onAdded(ctx context.Context, els []page.Element) error {
	a.mu.Lock()
	scanner := a.scanner
	a.mu.Unlock()
	if scanner == nil {
		return nil
	}
	return scanner.OnAdded(ctx, els)
}

// onSettingsChange re-renders every mounted badge from cached results
// after an external preferences change. No network traffic.
func (a *Annotator) onSettingsChange() {
	a.mu.Lock()
	scanner := a.scanner
	a.mu.Unlock()
	if scanner == nil {
		return
	}
	scanner.RerenderAll()
}

// Settings exposes the live preferences synchronizer.
func (a *Annotator) Settings() *settings.Sync { return a.sync }

// Stats is a point-in-time diagnostics snapshot.
type Stats struct {
	Scan     scan.Stats      `json:"scan"`
	Limiter  ratefetch.Stats `json:"limiter"`
	CacheMem int             `json:"cache_mem"`
	Location string          `json:"location"`
}

// Stats returns current counters. Safe before Start; zero values then.
func (a *Annotator) Stats() Stats {
	st := Stats{Limiter: a.limiter.Stats()}
	if a.cache != nil {
		st.CacheMem = a.cache.MemSize()
	}
	a.mu.Lock()
	scanner, session := a.scanner, a.session
	a.mu.Unlock()
	if scanner != nil {
		st.Scan = scanner.Stats()
	}
	if session != nil {
		st.Location = session.Location()
	}
	return st
}

// Stop tears down the session, browser, and store.
func (a *Annotator) Stop() error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			a.logger.Warn("ratiometer: close session", "error", err)
		}
	}
	if err := a.mgr.Close(); err != nil {
		a.logger.Warn("ratiometer: close browser", "error", err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("ratiometer: close store: %w", err)
		}
	}
	return nil
}

// OpenSettings opens the KV store at path and returns a started settings
// synchronizer plus a close function. Used by CLI preference commands
// that never launch a browser.
func OpenSettings(ctx context.Context, path string, logger *slog.Logger) (*settings.Sync, func() error, error) {
	store, err := kvstore.Open(path, kvstore.Options{MkdirAll: true, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("ratiometer: open store: %w", err)
	}

	prefs := settings.NewSync(nsStore{store.Namespace(settings.Namespace)}, nil, logger)
	if err := prefs.Start(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ratiometer: %w", err)
	}
	return prefs, store.Close, nil
}

// nsStore adapts a kvstore namespace to the settings store contract.
type nsStore struct {
	ns *kvstore.Namespace
}

func (s nsStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.ns.Get(ctx, key)
}

func (s nsStore) Set(ctx context.Context, key string, value []byte) error {
	return s.ns.Set(ctx, key, value)
}

func (s nsStore) Subscribe(fn func(key string, value []byte)) {
	s.ns.Subscribe(func(c kvstore.Change) {
		fn(c.Key, c.Value)
	})
}
