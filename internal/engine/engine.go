// Package engine executes planned journeys in a browser session:
// navigate, interact, capture, and persist screens until the plan is
// exhausted or the screen cap is reached.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/auth"
	"github.com/anshm02/docuagent-sub001/internal/dedup"
	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// Config bounds one crawl run. MaxScreens is the service-wide cap; a
// job may lower it through its max-screens override.
type Config struct {
	MaxScreens     int
	DOMTokenBudget int
	SettleIdle     time.Duration
	SettleMax      time.Duration
	Viewport       docs.Viewport
}

// Defaults applied when a Config field is zero.
const (
	DefaultMaxScreens = 50
	DefaultSettleIdle = 10 * time.Second
	DefaultSettleMax  = 30 * time.Second
)

// DefaultViewport is the fixed capture size.
var DefaultViewport = docs.Viewport{Width: 1440, Height: 900}

// Notifier receives live progress messages during a crawl.
type Notifier interface {
	Notify(ctx context.Context, msg docs.ProgressMessage)
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Sessions docs.DriverFactory
	Auth     *auth.Handler
	Dedup    *dedup.Filter
	Screens  docs.ScreenStore
	Blobs    docs.BlobStore
	Notifier Notifier
	IDs      docs.IDGenerator
	Clock    docs.Clock
	Logger   *zap.Logger
}

// Engine runs journeys for one job at a time per session.
type Engine struct {
	cfg  Config
	deps Deps
}

// New creates an Engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.MaxScreens <= 0 {
		cfg.MaxScreens = DefaultMaxScreens
	}
	if cfg.DOMTokenBudget <= 0 {
		cfg.DOMTokenBudget = docs.DefaultDOMTokenBudget
	}
	if cfg.SettleIdle <= 0 {
		cfg.SettleIdle = DefaultSettleIdle
	}
	if cfg.SettleMax <= 0 {
		cfg.SettleMax = DefaultSettleMax
	}
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		cfg.Viewport = DefaultViewport
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps}
}

var (
	errSessionExpired = errors.New("session expired")
	errCapReached     = errors.New("screen cap reached")
)

// Run signs in and executes journeys in priority order. Step failures
// are isolated into CrawlResult.Errors; only session loss that
// re-authentication cannot cure (or a failed login) aborts the run.
// Screens persisted before an abort remain persisted.
func (e *Engine) Run(ctx context.Context, job docs.Job, journeys []docs.Journey) (docs.CrawlResult, error) {
	start := e.deps.Clock.Now()
	result := docs.CrawlResult{}

	base, err := url.Parse(job.Input.TargetURL)
	if err != nil {
		return result, fmt.Errorf("parse target url %q: %w", job.Input.TargetURL, err)
	}

	session, err := e.deps.Sessions.NewSession(ctx, e.cfg.Viewport)
	if err != nil {
		return result, fmt.Errorf("open browser session: %w", err)
	}
	defer session.Close(ctx)
	defer e.deps.Dedup.Forget(job.ID)

	if job.Input.LoginURL != "" && job.Input.Credentials != nil {
		if err := e.deps.Auth.Login(ctx, session, job.Input.LoginURL, *job.Input.Credentials); err != nil {
			result.TotalDuration = e.deps.Clock.Now().Sub(start)
			return result, err
		}
	}

	maxScreens := e.cfg.MaxScreens
	if job.Input.MaxScreens > 0 {
		maxScreens = job.Input.MaxScreens
	}

	r := &run{
		engine:  e,
		job:     job,
		session: session,
		base:    base,
		cap:     maxScreens,
	}

	sorted := append([]docs.Journey(nil), journeys...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	for _, journey := range sorted {
		stop, err := r.runJourney(ctx, journey)
		if err != nil {
			result.Screens = r.screens
			result.Errors = r.errors
			result.TotalDuration = e.deps.Clock.Now().Sub(start)
			return result, err
		}
		if stop {
			r.notify(ctx, docs.MessageInfo, fmt.Sprintf("screen cap of %d reached, stopping crawl", r.cap), "")
			break
		}
	}

	result.Screens = r.screens
	result.Errors = r.errors
	result.TotalDuration = e.deps.Clock.Now().Sub(start)
	return result, nil
}

// run is the mutable state of one crawl.
type run struct {
	engine  *Engine
	job     docs.Job
	session docs.Driver
	base    *url.URL

	cap        int
	orderIndex int
	captured   int
	reauthed   bool
	entityID   string

	screens []docs.Screen
	errors  []docs.CrawlError
}

// runJourney executes one journey's steps. The returned stop flag
// means the screen cap was hit; err is fatal for the whole crawl.
func (r *run) runJourney(ctx context.Context, journey docs.Journey) (bool, error) {
	r.entityID = ""
	r.notify(ctx, docs.MessageInfo, fmt.Sprintf("starting journey: %s", journey.Title), "")

	for i, step := range journey.Steps {
		err := r.runStepWithRecovery(ctx, journey, i, step)
		switch {
		case err == nil:
		case errors.Is(err, errCapReached):
			return true, nil
		case errors.Is(err, errSessionExpired):
			return false, fmt.Errorf("journey %q step %d: %w", journey.Title, i, err)
		default:
			// Step failure is isolated: record it and move on.
			r.errors = append(r.errors, docs.CrawlError{
				JourneyID: journey.ID,
				StepIndex: i,
				Action:    step.Action,
				Message:   err.Error(),
			})
			r.notify(ctx, docs.MessageError,
				fmt.Sprintf("step failed in %q: %s", journey.Title, step.Action), "")
			r.engine.deps.Logger.Warn("step failed",
				zap.String("job_id", r.job.ID),
				zap.String("journey_id", journey.ID),
				zap.Int("step", i),
				zap.Error(err),
			)
		}
	}
	return false, nil
}

// runStepWithRecovery retries a step once after a single
// re-authentication. A second expiry, or expiry after the one allowed
// re-auth, is fatal.
func (r *run) runStepWithRecovery(ctx context.Context, journey docs.Journey, idx int, step docs.Step) error {
	err := r.runStep(ctx, journey, idx, step)
	if !errors.Is(err, errSessionExpired) {
		return err
	}
	if r.reauthed {
		return fmt.Errorf("session expired after earlier re-authentication: %w", errSessionExpired)
	}
	if r.job.Input.LoginURL == "" || r.job.Input.Credentials == nil {
		return fmt.Errorf("session expired and no credentials to recover with: %w", errSessionExpired)
	}

	r.reauthed = true
	r.notify(ctx, docs.MessageInfo, "session expired, re-authenticating", "")
	if err := r.engine.deps.Auth.Login(ctx, r.session, r.job.Input.LoginURL, *r.job.Input.Credentials); err != nil {
		return fmt.Errorf("re-authentication failed: %w (%w)", err, errSessionExpired)
	}

	if err := r.runStep(ctx, journey, idx, step); err != nil {
		if errors.Is(err, errSessionExpired) {
			return fmt.Errorf("session expired again on retry: %w", errSessionExpired)
		}
		return err
	}
	return nil
}

func (r *run) runStep(ctx context.Context, journey docs.Journey, idx int, step docs.Step) error {
	e := r.engine

	if step.TargetRoute != "" && step.TargetRoute != docs.TargetCurrentPage {
		route, err := r.resolveRoute(step.TargetRoute)
		if err != nil {
			return err
		}
		ref, err := url.Parse(route)
		if err != nil {
			return fmt.Errorf("bad target route %q: %w", route, err)
		}
		if err := r.session.Navigate(ctx, r.base.ResolveReference(ref).String()); err != nil {
			return err
		}
	}
	if err := r.session.Settle(ctx, e.cfg.SettleIdle, e.cfg.SettleMax); err != nil {
		return err
	}
	if err := r.checkSession(ctx); err != nil {
		return err
	}

	beforeURL, err := r.session.CurrentURL(ctx)
	if err != nil {
		return err
	}

	if step.Interaction != "" {
		if _, err := r.session.Drive(ctx, step.Interaction); err != nil {
			return err
		}
		if err := r.session.Settle(ctx, e.cfg.SettleIdle, e.cfg.SettleMax); err != nil {
			return err
		}
		if err := r.checkSession(ctx); err != nil {
			return err
		}
	}

	if step.CreatesData {
		afterURL, err := r.session.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if id := ExtractEntityID(beforeURL, afterURL); id != "" {
			r.entityID = id
			e.deps.Logger.Debug("entity created",
				zap.String("job_id", r.job.ID),
				zap.String("entity_id", id),
			)
		}
	}

	captures := step.Captures
	if len(captures) == 0 {
		captures = []docs.Capture{{Kind: docs.CaptureFullPage}}
	}
	for _, capture := range captures {
		if err := r.capture(ctx, journey, idx, step, capture); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) capture(ctx context.Context, journey docs.Journey, stepIdx int, step docs.Step, capture docs.Capture) error {
	e := r.engine
	if r.captured >= r.cap {
		return errCapReached
	}

	if err := r.trigger(ctx, capture); err != nil {
		return err
	}

	rawDOM, err := r.session.DOM(ctx)
	if err != nil {
		return err
	}
	cleaned := docs.CleanDOM(rawDOM, e.cfg.DOMTokenBudget)

	if e.deps.Dedup.IsDuplicate(r.job.ID, cleaned) {
		e.deps.Logger.Debug("duplicate screen skipped",
			zap.String("job_id", r.job.ID),
			zap.String("journey_id", journey.ID),
			zap.Int("step", stepIdx),
		)
		r.restore(ctx, capture)
		return nil
	}

	shot, err := r.session.Screenshot(ctx)
	if err != nil {
		return err
	}
	currentURL, err := r.session.CurrentURL(ctx)
	if err != nil {
		return err
	}

	screenID := e.deps.IDs.NewID()
	shotURL, thumbURL := r.upload(ctx, screenID, shot)

	screen := docs.Screen{
		ID:              screenID,
		JobID:           r.job.ID,
		JourneyID:       journey.ID,
		StepIndex:       stepIdx,
		URL:             currentURL,
		Route:           routeOf(step, currentURL),
		Breadcrumb:      breadcrumb(journey, capture),
		ScreenshotURL:   shotURL,
		ThumbnailURL:    thumbURL,
		DOM:             cleaned,
		Kind:            screenKind(capture.Kind),
		CreatedEntityID: r.entityID,
		Status:          docs.ScreenStatusCrawled,
		OrderIndex:      r.orderIndex,
		CapturedAt:      e.deps.Clock.Now(),
	}
	if err := e.deps.Screens.InsertScreen(ctx, screen); err != nil {
		return fmt.Errorf("persist screen: %w", err)
	}

	// Only a persisted screen consumes an order index, keeping the
	// sequence gap-free.
	r.orderIndex++
	r.captured++
	r.screens = append(r.screens, screen)

	r.notify(ctx, docs.MessageScreenshot,
		fmt.Sprintf("captured %s (%d/%d)", screen.Breadcrumb, r.captured, r.cap),
		shotURL)

	r.restore(ctx, capture)
	if r.captured >= r.cap {
		return errCapReached
	}
	return nil
}

// upload stores the screenshot and its thumbnail. Storage trouble
// degrades to empty URLs; the screen record itself still persists.
func (r *run) upload(ctx context.Context, screenID string, shot []byte) (string, string) {
	e := r.engine

	shotURL, err := e.deps.Blobs.PutObject(ctx,
		fmt.Sprintf("jobs/%s/screens/%s.png", r.job.ID, screenID), "image/png", shot)
	if err != nil {
		e.deps.Logger.Warn("screenshot upload failed",
			zap.String("job_id", r.job.ID),
			zap.String("screen_id", screenID),
			zap.Error(err),
		)
		return "", ""
	}

	thumb, err := makeThumbnail(shot)
	if err != nil {
		e.deps.Logger.Warn("thumbnail generation failed",
			zap.String("screen_id", screenID), zap.Error(err))
		return shotURL, ""
	}
	thumbURL, err := e.deps.Blobs.PutObject(ctx,
		fmt.Sprintf("jobs/%s/thumbs/%s.png", r.job.ID, screenID), "image/png", thumb)
	if err != nil {
		return shotURL, ""
	}
	return shotURL, thumbURL
}

// trigger opens the surface a non-full-page capture names (a modal,
// tab, or dropdown) before the screenshot, then lets the page settle.
func (r *run) trigger(ctx context.Context, capture docs.Capture) error {
	instruction := triggerInstruction(capture)
	if instruction == "" {
		return nil
	}
	if _, err := r.session.Drive(ctx, instruction); err != nil {
		return err
	}
	return r.session.Settle(ctx, r.engine.cfg.SettleIdle, r.engine.cfg.SettleMax)
}

func triggerInstruction(c docs.Capture) string {
	name := strings.TrimSpace(c.Name)
	switch c.Kind {
	case docs.CaptureModal:
		if name == "" {
			return "open the dialog this page offers"
		}
		return fmt.Sprintf("open the %q modal dialog", name)
	case docs.CaptureTab:
		if name == "" {
			return "switch to the next tab"
		}
		return fmt.Sprintf("switch to the %q tab", name)
	case docs.CaptureDropdown:
		if name == "" {
			return "open the dropdown menu"
		}
		return fmt.Sprintf("open the %q dropdown", name)
	}
	return ""
}

// restore returns the page to its pre-capture state so the next
// capture or step starts from the underlying page.
func (r *run) restore(ctx context.Context, capture docs.Capture) {
	var instruction string
	switch capture.Kind {
	case docs.CaptureModal, docs.CaptureDropdown:
		instruction = "press the Escape key to dismiss the open overlay"
	case docs.CaptureTab:
		instruction = "switch back to the previously selected tab"
	default:
		return
	}
	if _, err := r.session.Drive(ctx, instruction); err != nil {
		r.engine.deps.Logger.Debug("capture state restore failed", zap.Error(err))
	}
}

// resolveRoute fills the created-entity placeholder in an explicit
// route, so a step can navigate straight to the record a prior step
// made.
func (r *run) resolveRoute(route string) (string, error) {
	for _, placeholder := range []string{":id", "{id}"} {
		if !strings.Contains(route, placeholder) {
			continue
		}
		if r.entityID == "" {
			return "", fmt.Errorf("route %q needs a created entity id, but no step has created one", route)
		}
		route = strings.ReplaceAll(route, placeholder, r.entityID)
	}
	return route, nil
}

func (r *run) checkSession(ctx context.Context) error {
	current, err := r.session.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if auth.SessionExpired(current, r.job.Input.LoginURL) {
		return errSessionExpired
	}
	return nil
}

func (r *run) notify(ctx context.Context, kind docs.MessageKind, text, screenshotURL string) {
	if r.engine.deps.Notifier == nil {
		return
	}
	r.engine.deps.Notifier.Notify(ctx, docs.ProgressMessage{
		ID:            r.engine.deps.IDs.NewID(),
		JobID:         r.job.ID,
		Kind:          kind,
		Text:          text,
		ScreenshotURL: screenshotURL,
		At:            r.engine.deps.Clock.Now(),
	})
}

func screenKind(kind docs.CaptureKind) docs.ScreenKind {
	switch kind {
	case docs.CaptureModal:
		return docs.ScreenKindModal
	case docs.CaptureTab:
		return docs.ScreenKindTab
	case docs.CaptureDropdown:
		return docs.ScreenKindDropdown
	default:
		return docs.ScreenKindPage
	}
}

func routeOf(step docs.Step, currentURL string) string {
	if step.TargetRoute != "" && step.TargetRoute != docs.TargetCurrentPage {
		return step.TargetRoute
	}
	if u, err := url.Parse(currentURL); err == nil && u.Path != "" {
		return u.Path
	}
	return currentURL
}

func breadcrumb(journey docs.Journey, capture docs.Capture) string {
	if capture.Name != "" {
		return journey.Title + " / " + capture.Name
	}
	return journey.Title
}
