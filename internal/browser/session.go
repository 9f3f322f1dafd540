package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/ratiometer/page"
)

//go:embed annotator.js
var annotatorJS []byte

const bindingName = "__ratiometer_binding"

// SessionConfig configures a Session on a single tab.
type SessionConfig struct {
	// URL is the initial page to navigate to.
	URL string

	// Selector is the comma-joined selector list the injected
	// MutationObserver matches added nodes against.
	Selector string

	// OnAdded receives batches of newly attached matching elements.
	OnAdded page.AddedFunc

	// NavTimeout bounds initial navigation. Default: 30s.
	NavTimeout time.Duration

	Logger *slog.Logger
}

func (c *SessionConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is a live tab with the annotator script injected. It implements
// page.Surface and page.ProximityWatcher.
type Session struct {
	page   *rod.Page
	cfg    SessionConfig
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	near map[string]func(page.Element) // handle -> proximity callback
}

// OpenSession creates a stealth tab, navigates to cfg.URL, and injects
// the annotator script.
func OpenSession(ctx context.Context, mgr *Manager, cfg SessionConfig) (*Session, error) {
	cfg.defaults()

	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	p, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavTimeout)
	defer cancel()

	if err := p.Context(navCtx).Navigate(cfg.URL); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", cfg.URL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("browser: wait load timeout", "url", cfg.URL, "error", err)
	}

	sctx, scancel := context.WithCancel(ctx)
	s := &Session{
		page:   p,
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    sctx,
		cancel: scancel,
		near:   make(map[string]func(page.Element)),
	}

	if err := s.inject(); err != nil {
		scancel()
		p.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) inject() error {
	// Binding for JS → Go communication.
	err := proto.RuntimeAddBinding{Name: bindingName}.Call(s.page)
	if err != nil {
		s.logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}

	go s.listenBinding()

	// Selector list must be in place before the script starts.
	_, err = s.page.Eval(fmt.Sprintf(`() => { window.__ratiometer_selectors = %q; }`, s.cfg.Selector))
	if err != nil {
		return fmt.Errorf("browser: set selectors: %w", err)
	}

	_, err = s.page.Eval(string(annotatorJS))
	if err != nil {
		return fmt.Errorf("browser: inject annotator.js: %w", err)
	}

	s.logger.Debug("browser: annotator injected", "url", s.cfg.URL)
	return nil
}

type bindingMsg struct {
	Type   string `json:"type"`
	Handle string `json:"handle"`
	Els    []struct {
		Handle string `json:"handle"`
		Tag    string `json:"tag"`
	} `json:"els"`
}

// listenBinding receives proximity and added-node messages from the
// injected script via Runtime.bindingCalled.
func (s *Session) listenBinding() {
	s.page.Context(s.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}

		var msg bindingMsg
		if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
			s.logger.Warn("browser: parse binding payload", "error", err)
			return
		}

		switch msg.Type {
		case "near":
			s.mu.Lock()
			fn := s.near[msg.Handle]
			s.mu.Unlock()
			if fn != nil {
				fn(&Element{session: s, handle: msg.Handle})
			}
		case "added":
			if s.cfg.OnAdded == nil {
				return
			}
			els := make([]page.Element, 0, len(msg.Els))
			for _, d := range msg.Els {
				els = append(els, &Element{session: s, handle: d.Handle, tag: d.Tag})
			}
			if err := s.cfg.OnAdded(s.ctx, els); err != nil {
				s.logger.Warn("browser: added-batch handler", "error", err)
			}
		}
	})()
}

// Location returns the tab's current URL.
func (s *Session) Location() string {
	res, err := s.page.Eval(`() => window.location.href`)
	if err != nil {
		s.logger.Warn("browser: read location", "error", err)
		return ""
	}
	return res.Value.Str()
}

// QueryAll returns all elements currently matching selector, registered
// in the page-side handle registry.
func (s *Session) QueryAll(ctx context.Context, selector string) ([]page.Element, error) {
	res, err := s.page.Context(ctx).Eval(`(sel) => window.__ratiometer.queryAll(sel)`, selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}

	var els []page.Element
	for _, item := range res.Value.Arr() {
		els = append(els, &Element{
			session: s,
			handle:  item.Get("handle").Str(),
			tag:     item.Get("tag").Str(),
		})
	}
	return els, nil
}

// Observe registers el with the page-side IntersectionObserver. onNear
// fires at most once, when el approaches the viewport.
func (s *Session) Observe(el page.Element, onNear func(page.Element)) {
	s.mu.Lock()
	s.near[el.Handle()] = onNear
	s.mu.Unlock()

	_, err := s.page.Eval(`(h) => {
		const el = window.__ratiometer.get(h);
		if (el) window.__ratiometer.io.observe(el);
	}`, el.Handle())
	if err != nil {
		s.logger.Warn("browser: observe", "handle", el.Handle(), "error", err)
	}
}

// Unobserve removes el from proximity watching.
func (s *Session) Unobserve(el page.Element) {
	s.mu.Lock()
	delete(s.near, el.Handle())
	s.mu.Unlock()

	_, err := s.page.Eval(`(h) => {
		const el = window.__ratiometer.get(h);
		if (el) window.__ratiometer.io.unobserve(el);
	}`, el.Handle())
	if err != nil {
		s.logger.Warn("browser: unobserve", "handle", el.Handle(), "error", err)
	}
}

// Close stops the binding listener and closes the tab.
func (s *Session) Close() error {
	s.cancel()
	if s.page != nil {
		return s.page.Close()
	}
	return nil
}
