// Package scan discovers candidate elements, defers their processing until
// they approach the viewport, and drives the per-element pipeline: cooldown
// gate, two-level cache, rate-limited fetch, classification, badge mount.
//
// Processing state lives in an explicit binding arena keyed by the stable
// element handle, not in DOM attributes, so idempotency survives attribute
// churn and the arena doubles as the re-render index on settings changes.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/ratiometer/internal/badge"
	"github.com/hazyhaar/ratiometer/internal/ratefetch"
	"github.com/hazyhaar/ratiometer/internal/votecache"
	"github.com/hazyhaar/ratiometer/page"
	"github.com/hazyhaar/ratiometer/settings"
	"github.com/hazyhaar/ratiometer/tier"
)

// ErrNoIdentifier is returned when no content identifier is resolvable
// from an element. The element stays unmarked and re-eligible.
var ErrNoIdentifier = errors.New("scan: no content identifier resolvable")

// The five candidate element tags. One detail view, four listing shapes.
const (
	DetailTag = "ytd-watch-flexy"
)

var listingTags = []string{
	"ytd-rich-item-renderer",
	"ytd-video-renderer",
	"ytd-compact-video-renderer",
	"ytd-grid-video-renderer",
}

// TargetSelector is the comma-separated selector list covering every
// candidate tag, for full-document scans.
func TargetSelector() string {
	return strings.Join(append([]string{DetailTag}, listingTags...), ", ")
}

const (
	thumbnailLinkSelector = "a#thumbnail"
	viewCountSelector     = "#metadata-line span:first-of-type"
	videoIDParam          = "v"
)

// Binding associates a processed element with its resolved identifier and
// rendered result.
type Binding struct {
	Element    page.Element
	VideoID    string
	Result     tier.Result
	RenderType badge.RenderType
	// HasBadge is false for terminal badge-less bindings (the element whose
	// own fetch drew the 429 is abandoned but stays marked).
	HasBadge bool
}

// Config wires a Scanner.
type Config struct {
	Surface   page.Surface
	Proximity page.ProximityWatcher
	Cache     *votecache.Cache
	Votes     *ratefetch.Client
	Limiter   *ratefetch.Limiter
	Renderer  badge.Renderer
	// Display returns the current display preferences snapshot.
	Display func() settings.Display
	Logger  *slog.Logger
}

// Scanner is the per-page orchestrator.
type Scanner struct {
	cfg    Config
	logger *slog.Logger

	ctx context.Context

	mu       sync.Mutex
	observed map[string]page.Element
	bindings map[string]*Binding

	discovered    atomic.Int64
	processed     atomic.Int64
	badges        atomic.Int64
	cooldownSkips atomic.Int64
	failures      atomic.Int64
	rerenders     atomic.Int64
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scanner{
		cfg:      cfg,
		logger:   cfg.Logger,
		ctx:      context.Background(),
		observed: make(map[string]page.Element),
		bindings: make(map[string]*Binding),
	}
}

// Start stores the pipeline context and runs the initial full-document scan.
func (s *Scanner) Start(ctx context.Context) error {
	s.ctx = ctx
	return s.ScanAll(ctx)
}

// ScanAll queries the whole document for candidate elements and registers
// any that are not already pending with the proximity watcher.
func (s *Scanner) ScanAll(ctx context.Context) error {
	els, err := s.cfg.Surface.QueryAll(ctx, TargetSelector())
	if err != nil {
		return fmt.Errorf("scan: query document: %w", err)
	}
	for _, el := range els {
		s.register(el)
	}
	return nil
}

// OnAdded receives added-node batches from the DOM-change collaborator and
// registers the candidates among them.
func (s *Scanner) OnAdded(ctx context.Context, els []page.Element) error {
	for _, el := range els {
		if !s.isCandidate(el.Tag()) {
			continue
		}
		s.register(el)
	}
	return nil
}

func (s *Scanner) isCandidate(tag string) bool {
	if tag == DetailTag {
		return true
	}
	for _, t := range listingTags {
		if tag == t {
			return true
		}
	}
	return false
}

// register puts el under proximity watch unless it is already pending.
// Elements with a live binding are re-observed too: if their resolved
// identifier changed since, processing will invalidate and redo them;
// otherwise the pipeline no-ops.
func (s *Scanner) register(el page.Element) {
	h := el.Handle()

	s.mu.Lock()
	if _, pending := s.observed[h]; pending {
		s.mu.Unlock()
		return
	}
	s.observed[h] = el
	s.mu.Unlock()

	s.discovered.Add(1)
	s.cfg.Proximity.Observe(el, s.onNear)
}

// onNear fires when an observed element comes within the viewport margin.
// The watcher is disengaged immediately: one notification per registration.
func (s *Scanner) onNear(el page.Element) {
	s.cfg.Proximity.Unobserve(el)

	s.mu.Lock()
	delete(s.observed, el.Handle())
	s.mu.Unlock()

	if err := s.Process(s.ctx, el); err != nil {
		if errors.Is(err, ErrNoIdentifier) {
			s.logger.Debug("scan: element without identifier, leaving for later passes",
				"handle", el.Handle(), "tag", el.Tag())
			return
		}
		s.failures.Add(1)
		s.logger.Warn("scan: element pipeline failed",
			"handle", el.Handle(), "error", err)
	}
}

// Process runs the pipeline for one element exactly once per resolved
// identifier. Failures leave the element eligible for a later discovery
// pass; a throttled fetch leaves a terminal badge-less binding in place.
func (s *Scanner) Process(ctx context.Context, el page.Element) error {
	rt, id, err := s.resolve(el)
	if err != nil {
		return err
	}
	h := el.Handle()

	s.mu.Lock()
	b, bound := s.bindings[h]
	s.mu.Unlock()
	if bound && b.VideoID == id {
		return nil
	}

	// Cooldown gates everything, cache lookups and binding invalidation
	// included. The skip must leave no trace: an existing binding (and its
	// mounted badge) stays intact and re-renderable, and a later discovery
	// pass re-registers the element once the window has passed.
	if s.cfg.Limiter.InCooldown() {
		s.cooldownSkips.Add(1)
		return nil
	}

	if bound {
		// The element now resolves to different content: the old binding
		// must never be reused.
		s.mu.Lock()
		delete(s.bindings, h)
		s.mu.Unlock()
	}

	s.processed.Add(1)

	if res, ok, err := s.cfg.Cache.Get(ctx, id); err != nil {
		return fmt.Errorf("scan: cache lookup %s: %w", id, err)
	} else if ok {
		return s.bind(el, id, res, rt)
	}

	views := int64(0)
	if rt == badge.Thumbnail {
		views = ParseViewCount(el.Text(viewCountSelector))
	}

	rec, err := s.cfg.Votes.Votes(ctx, id)
	if errors.Is(err, ratefetch.ErrThrottled) {
		// Abandon this element but keep it marked: it is not retried this
		// session.
		s.mu.Lock()
		s.bindings[h] = &Binding{Element: el, VideoID: id, RenderType: rt}
		s.mu.Unlock()
		s.logger.Warn("scan: throttled, abandoning element", "video_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan: fetch votes %s: %w", id, err)
	}

	res := tier.Classify(rec.Likes, rec.Dislikes, views)
	if err := s.cfg.Cache.Put(ctx, id, res); err != nil {
		return fmt.Errorf("scan: cache store %s: %w", id, err)
	}

	return s.bind(el, id, res, rt)
}

func (s *Scanner) bind(el page.Element, id string, res tier.Result, rt badge.RenderType) error {
	if err := s.cfg.Renderer.Render(el, res, rt, s.cfg.Display()); err != nil {
		return fmt.Errorf("scan: render %s: %w", id, err)
	}

	s.mu.Lock()
	s.bindings[el.Handle()] = &Binding{
		Element:    el,
		VideoID:    id,
		Result:     res,
		RenderType: rt,
		HasBadge:   true,
	}
	s.mu.Unlock()

	s.badges.Add(1)
	s.logger.Debug("scan: badge mounted",
		"video_id", id, "tier", res.Tier, "render_type", string(rt))
	return nil
}

// resolve determines the render type and content identifier for el.
func (s *Scanner) resolve(el page.Element) (badge.RenderType, string, error) {
	var rt badge.RenderType
	var href string
	if el.Tag() == DetailTag {
		rt = badge.WatchBar
		href = s.cfg.Surface.Location()
	} else {
		rt = badge.Thumbnail
		href = el.Href(thumbnailLinkSelector)
	}

	id := extractVideoID(href)
	if id == "" {
		return rt, "", ErrNoIdentifier
	}
	return rt, id, nil
}

// extractVideoID pulls the video id query parameter out of an address.
func extractVideoID(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get(videoIDParam)
}

// RerenderAll rebuilds every mounted badge from its stored result under the
// current display preferences. No identifier is re-resolved and nothing is
// re-fetched.
func (s *Scanner) RerenderAll() {
	s.mu.Lock()
	bindings := make([]*Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		if b.HasBadge {
			bindings = append(bindings, b)
		}
	}
	s.mu.Unlock()

	display := s.cfg.Display()
	for _, b := range bindings {
		if err := s.cfg.Renderer.Render(b.Element, b.Result, b.RenderType, display); err != nil {
			s.logger.Warn("scan: re-render failed",
				"video_id", b.VideoID, "error", err)
			continue
		}
		s.rerenders.Add(1)
	}
}

// Stats are point-in-time scanner counters.
type Stats struct {
	Discovered    int64 `json:"discovered"`
	Processed     int64 `json:"processed"`
	Badges        int64 `json:"badges"`
	CooldownSkips int64 `json:"cooldown_skips"`
	Failures      int64 `json:"failures"`
	Rerenders     int64 `json:"rerenders"`
	Bindings      int   `json:"bindings"`
}

// Stats returns the current counters.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	bindings := len(s.bindings)
	s.mu.Unlock()
	return Stats{
		Discovered:    s.discovered.Load(),
		Processed:     s.processed.Load(),
		Badges:        s.badges.Load(),
		CooldownSkips: s.cooldownSkips.Load(),
		Failures:      s.failures.Load(),
		Rerenders:     s.rerenders.Load(),
		Bindings:      bindings,
	}
}
