// Package driver runs exclusive browser automation sessions on
// headless Chrome via chromedp. One session serves one job at a time;
// instructions are natural language, resolved into concrete actions
// against the rendered page.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// Config controls the behavior of browser sessions.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	SettleFallback    time.Duration
}

// Defaults applied when a Config field is zero.
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSettleIdle        = 10 * time.Second
	DefaultSettleFallback    = 2 * time.Second
)

// Factory opens per-job sessions against a shared Chrome allocator.
type Factory struct {
	cfg         Config
	resolver    docs.ActionResolver
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewFactory starts the Chrome allocator. Close must be called to shut
// the browser pool down.
func NewFactory(cfg Config, resolver docs.ActionResolver, logger *zap.Logger) *Factory {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.SettleFallback <= 0 {
		cfg.SettleFallback = DefaultSettleFallback
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Factory{
		cfg:         cfg,
		resolver:    resolver,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close shuts down the allocator and every session spawned from it.
func (f *Factory) Close() {
	f.allocCancel()
}

// NewSession opens a fresh tab at the given fixed viewport.
func (f *Factory) NewSession(ctx context.Context, viewport docs.Viewport) (docs.Driver, error) {
	tabCtx, tabCancel := chromedp.NewContext(f.allocator)

	s := &Session{
		cfg:      f.cfg,
		resolver: f.resolver,
		logger:   f.logger,
		ctx:      tabCtx,
		cancel:   tabCancel,
		activity: newActivityTracker(),
	}
	chromedp.ListenTarget(tabCtx, s.activity.captureEvent)

	setup := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if f.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
	}
	if viewport.Width > 0 && viewport.Height > 0 {
		setup = append(setup,
			emulation.SetDeviceMetricsOverride(int64(viewport.Width), int64(viewport.Height), 1, false))
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("session setup: %w", err)
	}
	return s, nil
}

// Session is one exclusive browser tab.
type Session struct {
	cfg      Config
	resolver docs.ActionResolver
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	activity *activityTracker
}

// Navigate loads a URL and waits for the document body, bounded by the
// navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// settleQuietWindow is the stretch of network silence that counts as
// idle.
const settleQuietWindow = 500 * time.Millisecond

// Settle waits up to idleWait for network activity to go quiet for a
// short window. If the page never goes idle within that bound (some
// apps poll continuously), it falls back to a fixed short delay so a
// usable capture still happens. max clamps the idle wait.
func (s *Session) Settle(ctx context.Context, idleWait, max time.Duration) error {
	if idleWait <= 0 {
		idleWait = DefaultSettleIdle
	}
	if max > 0 && max < idleWait {
		idleWait = max
	}
	window := settleQuietWindow
	if idleWait < window {
		window = idleWait
	}

	deadline := time.Now().Add(idleWait)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.activity.quietFor(window) {
				return nil
			}
		}
	}

	s.logger.Debug("network never went idle, using fixed settle delay",
		zap.Duration("fallback", s.cfg.SettleFallback))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.SettleFallback):
		return nil
	}
}

// CurrentURL reports the tab's present location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// DOM returns the rendered document HTML.
func (s *Session) DOM(ctx context.Context) (string, error) {
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read dom: %w", err)
	}
	return html, nil
}

// Drive resolves a natural-language instruction against the observed
// page and executes the resulting actions in order.
func (s *Session) Drive(ctx context.Context, instruction string) (docs.ActionOutcome, error) {
	page, err := s.Observe(ctx)
	if err != nil {
		return docs.ActionOutcome{}, err
	}

	actions, err := s.resolver.ResolveActions(ctx, instruction, page)
	if err != nil {
		return docs.ActionOutcome{}, fmt.Errorf("resolve %q: %w", instruction, err)
	}

	outcome := docs.ActionOutcome{}
	for _, action := range actions {
		if err := s.perform(ctx, action); err != nil {
			return outcome, fmt.Errorf("perform %s on %q: %w", action.Type, action.Selector, err)
		}
		outcome.Performed = append(outcome.Performed, describeAction(action))
	}

	outcome.CurrentURL, err = s.CurrentURL(ctx)
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (s *Session) perform(ctx context.Context, action docs.BrowserAction) error {
	runCtx, cancel := s.bound(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var task chromedp.Action
	switch action.Type {
	case docs.ActionClick:
		task = chromedp.Click(action.Selector, chromedp.ByQuery)
	case docs.ActionType:
		task = chromedp.SendKeys(action.Selector, action.Text, chromedp.ByQuery)
	case docs.ActionSelect:
		task = chromedp.SetValue(action.Selector, action.Text, chromedp.ByQuery)
	case docs.ActionHover:
		task = chromedp.Evaluate(hoverJS(action.Selector), nil)
	case docs.ActionPress:
		task = chromedp.KeyEvent(keyChord(action.Key))
	case docs.ActionScroll:
		task = chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil)
	default:
		return fmt.Errorf("unsupported action type %q", action.Type)
	}
	return chromedp.Run(runCtx, task)
}

// Close releases the tab.
func (s *Session) Close(_ context.Context) error {
	s.cancel()
	return nil
}

// bound merges the caller's deadline with the tab context.
func (s *Session) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel1 := context.WithTimeout(s.ctx, timeout)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel2 context.CancelFunc
		runCtx, cancel2 = context.WithDeadline(runCtx, deadline)
		return runCtx, func() { cancel2(); cancel1() }
	}
	return runCtx, cancel1
}

// keyChord maps a named key to the chromedp key string.
func keyChord(key string) string {
	switch key {
	case "Enter":
		return kb.Enter
	case "Tab":
		return kb.Tab
	case "Escape":
		return kb.Escape
	case "Backspace":
		return kb.Backspace
	case "ArrowDown":
		return kb.ArrowDown
	case "ArrowUp":
		return kb.ArrowUp
	default:
		return key
	}
}

func describeAction(a docs.BrowserAction) string {
	switch a.Type {
	case docs.ActionPress:
		return fmt.Sprintf("%s %s", a.Type, a.Key)
	case docs.ActionScroll:
		return a.Type
	default:
		return fmt.Sprintf("%s %s", a.Type, a.Selector)
	}
}

// activityTracker watches CDP network events so Settle can detect a
// quiet page.
type activityTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	lastBusy time.Time
}

func newActivityTracker() *activityTracker {
	return &activityTracker{
		inflight: make(map[network.RequestID]struct{}),
		lastBusy: time.Now(),
	}
}

func (t *activityTracker) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.mu.Lock()
		t.inflight[e.RequestID] = struct{}{}
		t.lastBusy = time.Now()
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.finish(e.RequestID)
	case *network.EventLoadingFailed:
		t.finish(e.RequestID)
	}
}

func (t *activityTracker) finish(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.lastBusy = time.Now()
	t.mu.Unlock()
}

func (t *activityTracker) quietFor(idle time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && time.Since(t.lastBusy) >= idle
}

func hoverJS(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return false;
  el.dispatchEvent(new MouseEvent('mouseover', {bubbles: true}));
  el.dispatchEvent(new MouseEvent('mouseenter', {bubbles: true}));
  return true;
})()`, selector)
}
