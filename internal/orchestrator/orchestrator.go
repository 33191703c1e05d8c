// Package orchestrator drives one documentation job through the
// pipeline stages, from queued to completed (or failed).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/auth"
	"github.com/anshm02/docuagent-sub001/internal/budget"
	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// Config tunes pipeline behavior.
type Config struct {
	// MaxJourneys caps how many journeys the planner may propose.
	MaxJourneys int
	// ScreensPerJourney is the estimate fed into the budget model.
	ScreensPerJourney int
	// AnalysisConcurrency bounds the screen-analysis fan-out.
	AnalysisConcurrency int
	// QualityFlagThreshold flags the job for human review when the
	// rolled-up quality score falls below it.
	QualityFlagThreshold float64
	// CompletionTopic and FailureTopic name the publisher topics for
	// terminal states.
	CompletionTopic string
	FailureTopic    string
}

// Defaults applied when a Config field is zero.
const (
	DefaultMaxJourneys          = 8
	DefaultScreensPerJourney    = 6
	DefaultAnalysisConcurrency  = 4
	DefaultQualityFlagThreshold = 0.7
	DefaultCompletionTopic      = "jobs.completed"
	DefaultFailureTopic         = "jobs.failed"
)

// Crawler executes planned journeys in a browser session.
type Crawler interface {
	Run(ctx context.Context, job docs.Job, journeys []docs.Journey) (docs.CrawlResult, error)
}

// RouteSweeper probes statically known routes before the crawl.
type RouteSweeper interface {
	Sweep(ctx context.Context, jobID, baseURL string, plan docs.CrawlPlan, d docs.Driver, blobs docs.BlobStore) ([]docs.RouteCheck, error)
}

// NavPlanner derives a route plan from the live UI when code analysis
// produced none.
type NavPlanner interface {
	Discover(ctx context.Context, d docs.Driver) (docs.CrawlPlan, error)
}

// Notifier receives progress messages as stages advance.
type Notifier interface {
	Notify(ctx context.Context, msg docs.ProgressMessage)
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Jobs      docs.JobStore
	Screens   docs.ScreenStore
	Credits   docs.CreditStore
	Blobs     docs.BlobStore
	Budget    *budget.Controller
	Code      docs.CodeAnalyzer
	Product   docs.ProductAnalyzer
	Planner   docs.JourneyPlanner
	Screener  docs.ScreenAnalyzer
	Composer  docs.DocComposer
	Sweeper   RouteSweeper
	Nav       NavPlanner
	Sessions  docs.DriverFactory
	Auth      *auth.Handler
	Crawler   Crawler
	Notifier  Notifier
	Publisher docs.Publisher
	IDs       docs.IDGenerator
	Clock     docs.Clock
	Logger    *zap.Logger
}

// Orchestrator runs jobs end to end. Stages never retry and never run
// out of order; any stage error moves the job to failed with partial
// results retained.
type Orchestrator struct {
	cfg  Config
	deps Deps
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxJourneys <= 0 {
		cfg.MaxJourneys = DefaultMaxJourneys
	}
	if cfg.ScreensPerJourney <= 0 {
		cfg.ScreensPerJourney = DefaultScreensPerJourney
	}
	if cfg.AnalysisConcurrency <= 0 {
		cfg.AnalysisConcurrency = DefaultAnalysisConcurrency
	}
	if cfg.QualityFlagThreshold <= 0 {
		cfg.QualityFlagThreshold = DefaultQualityFlagThreshold
	}
	if cfg.CompletionTopic == "" {
		cfg.CompletionTopic = DefaultCompletionTopic
	}
	if cfg.FailureTopic == "" {
		cfg.FailureTopic = DefaultFailureTopic
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

// Execute runs the full pipeline for one queued job.
func (o *Orchestrator) Execute(ctx context.Context, jobID string) error {
	job, err := o.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != docs.JobStatusQueued {
		return fmt.Errorf("job %s is not runnable in stage %s", jobID, job.Status)
	}
	logger := o.deps.Logger.With(zap.String("job_id", jobID))

	// Stage 1: analyzing_code.
	if err := o.advance(ctx, jobID, docs.JobStatusAnalyzingCode, docs.Progress{CurrentStep: "analyzing repository"}); err != nil {
		return o.fail(ctx, jobID, err)
	}
	var analysis docs.CodeAnalysis
	if job.Input.RepoURL == "" {
		logger.Info("no repository provided, skipping code analysis")
		o.info(ctx, jobID, "no repository provided; navigation will be discovered from the live app")
	} else {
		analysis, err = o.deps.Code.AnalyzeCode(ctx, job.Input.RepoURL)
		if err != nil {
			return o.fail(ctx, jobID, fmt.Errorf("analyze code: %w", err))
		}
		o.info(ctx, jobID, fmt.Sprintf("found %d routes in the repository", len(analysis.Plan.Routes)))
	}

	// Stage 2: analyzing_prd.
	if err := o.advance(ctx, jobID, docs.JobStatusAnalyzingPRD, docs.Progress{CurrentStep: "summarizing product context"}); err != nil {
		return o.fail(ctx, jobID, err)
	}
	var product docs.ProductSummary
	if job.Input.ProductDescription != "" {
		product, err = o.deps.Product.SummarizeProduct(ctx, job.Input.ProductDescription)
		if err != nil {
			return o.fail(ctx, jobID, fmt.Errorf("summarize product: %w", err))
		}
	}

	// Stage 3: discovering.
	if err := o.advance(ctx, jobID, docs.JobStatusDiscovering, docs.Progress{CurrentStep: "sweeping routes"}); err != nil {
		return o.fail(ctx, jobID, err)
	}
	plan, checks, err := o.discover(ctx, job, analysis.Plan)
	if err != nil {
		return o.fail(ctx, jobID, fmt.Errorf("discover: %w", err))
	}
	o.info(ctx, jobID, fmt.Sprintf("discovery finished: %d routes known", len(plan.Routes)))

	// Stage 4: planning_journeys.
	if err := o.advance(ctx, jobID, docs.JobStatusPlanningJourneys, docs.Progress{ScreensFound: len(plan.Routes), CurrentStep: "planning journeys"}); err != nil {
		return o.fail(ctx, jobID, err)
	}
	journeys, trimmed, err := o.plan(ctx, job, plan, product, checks)
	if err != nil {
		return o.fail(ctx, jobID, err)
	}
	if trimmed.FeaturesCutForBudget > 0 {
		o.info(ctx, jobID, fmt.Sprintf("%d journeys deferred to stay within the prepaid budget", trimmed.FeaturesCutForBudget))
	}

	// Stage 5: crawling. Credentials are scrubbed as soon as the crawl
	// ends, whatever the outcome.
	if err := o.advance(ctx, jobID, docs.JobStatusCrawling, docs.Progress{ScreensFound: len(plan.Routes), CurrentStep: "crawling"}); err != nil {
		return o.fail(ctx, jobID, err)
	}
	result, crawlErr := o.deps.Crawler.Run(ctx, job, journeys)
	if err := o.deps.Jobs.ScrubCredentials(ctx, jobID); err != nil {
		logger.Error("failed to scrub credentials", zap.Error(err))
	}
	if crawlErr != nil {
		return o.fail(ctx, jobID, fmt.Errorf("crawl: %w", crawlErr))
	}
	for _, ce := range result.Errors {
		logger.Warn("step failed during crawl",
			zap.String("journey_id", ce.JourneyID),
			zap.Int("step_index", ce.StepIndex),
			zap.String("message", ce.Message),
		)
	}

	// Stage 6: analyzing_screens.
	if err := o.advance(ctx, jobID, docs.JobStatusAnalyzingScreens, docs.Progress{
		ScreensFound:   len(plan.Routes),
		ScreensCrawled: len(result.Screens),
		CurrentStep:    "analyzing screens",
	}); err != nil {
		return o.fail(ctx, jobID, err)
	}
	analyses, quality := o.analyzeScreens(ctx, jobID, result.Screens)

	// Stage 7: generating_docs.
	if err := o.advance(ctx, jobID, docs.JobStatusGeneratingDocs, docs.Progress{
		ScreensFound:   len(plan.Routes),
		ScreensCrawled: len(result.Screens),
		CurrentStep:    "generating documentation",
	}); err != nil {
		return o.fail(ctx, jobID, err)
	}
	resultURL, err := o.compose(ctx, job, journeys, result.Screens, analyses, quality)
	if err != nil {
		return o.fail(ctx, jobID, fmt.Errorf("generate docs: %w", err))
	}

	// Stage 8: completed. Reconcile what the job actually cost and
	// debit it, then publish.
	actual := o.deps.Budget.Reconcile(len(journeys), len(analyses))
	if err := o.deps.Credits.Debit(ctx, job.UserID, actual); err != nil {
		logger.Error("failed to debit credits", zap.Error(err), zap.Int("actual_cents", actual))
	}
	flagged := quality < o.cfg.QualityFlagThreshold
	if err := o.deps.Jobs.CompleteJob(ctx, jobID, resultURL, quality, flagged, actual); err != nil {
		return o.fail(ctx, jobID, fmt.Errorf("complete job: %w", err))
	}
	o.notify(ctx, jobID, docs.MessageComplete, fmt.Sprintf("documentation ready: %s", resultURL), resultURL)
	o.publish(ctx, o.cfg.CompletionTopic, map[string]any{
		"job_id":        jobID,
		"result_url":    resultURL,
		"quality_score": quality,
		"flagged":       flagged,
		"actual_cents":  actual,
	})
	logger.Info("job completed",
		zap.Int("screens", len(result.Screens)),
		zap.Float64("quality", quality),
		zap.Int("actual_cents", actual),
	)
	return nil
}

// discover runs the pre-crawl sweep over statically known routes, or
// falls back to live navigation discovery when there are none.
func (o *Orchestrator) discover(ctx context.Context, job docs.Job, plan docs.CrawlPlan) (docs.CrawlPlan, []docs.RouteCheck, error) {
	session, err := o.deps.Sessions.NewSession(ctx, docs.Viewport{Width: 1440, Height: 900})
	if err != nil {
		return docs.CrawlPlan{}, nil, fmt.Errorf("open browser session: %w", err)
	}
	defer session.Close(ctx)

	if job.Input.LoginURL != "" && job.Input.Credentials != nil {
		if err := o.deps.Auth.Login(ctx, session, job.Input.LoginURL, *job.Input.Credentials); err != nil {
			return docs.CrawlPlan{}, nil, err
		}
	}

	if len(plan.Routes) > 0 {
		checks, err := o.deps.Sweeper.Sweep(ctx, job.ID, job.Input.TargetURL, plan, session, o.deps.Blobs)
		if err != nil {
			return docs.CrawlPlan{}, nil, err
		}
		return plan, checks, nil
	}

	// Degraded mode: no static routes, read the navigation off the app.
	if err := session.Navigate(ctx, job.Input.TargetURL); err != nil {
		return docs.CrawlPlan{}, nil, fmt.Errorf("navigate to target: %w", err)
	}
	discovered, err := o.deps.Nav.Discover(ctx, session)
	if err != nil {
		return docs.CrawlPlan{}, nil, err
	}
	return discovered, nil, nil
}

// plan asks the journey planner for journeys and trims them to the
// user's prepaid balance.
func (o *Orchestrator) plan(ctx context.Context, job docs.Job, plan docs.CrawlPlan, product docs.ProductSummary, checks []docs.RouteCheck) ([]docs.Journey, budget.TrimResult, error) {
	journeyPlan, err := o.deps.Planner.PlanJourneys(ctx, docs.PlanRequest{
		Plan:        plan,
		Product:     product,
		RouteChecks: checks,
		MaxJourneys: o.cfg.MaxJourneys,
	})
	if err != nil {
		return nil, budget.TrimResult{}, fmt.Errorf("plan journeys: %w", err)
	}
	if len(journeyPlan.Journeys) == 0 {
		return nil, budget.TrimResult{}, fmt.Errorf("planner produced no journeys")
	}

	credits, err := o.deps.Credits.Credits(ctx, job.UserID)
	if err != nil {
		return nil, budget.TrimResult{}, fmt.Errorf("read credits: %w", err)
	}
	trimmed := o.deps.Budget.TrimToBudget(journeyPlan.Journeys, o.cfg.ScreensPerJourney, credits)
	if len(trimmed.Kept) == 0 {
		return nil, budget.TrimResult{}, fmt.Errorf("balance of %d cents covers no journeys", credits)
	}
	if err := o.deps.Jobs.UpdateBudget(ctx, job.ID, docs.Budget{
		EstimatedCents:       trimmed.EstimatedCents,
		CreditsSnapshotCents: credits,
		FeaturesCutForBudget: trimmed.FeaturesCutForBudget,
	}); err != nil {
		return nil, budget.TrimResult{}, fmt.Errorf("update budget: %w", err)
	}
	return trimmed.Kept, trimmed, nil
}

// analyzeScreens fans screen analysis out over a bounded worker set and
// rolls confidence up into a quality score. Per-screen failures mark
// the screen failed and lower the score but never abort the stage.
func (o *Orchestrator) analyzeScreens(ctx context.Context, jobID string, screens []docs.Screen) ([]docs.ScreenAnalysis, float64) {
	if len(screens) == 0 {
		return nil, 0
	}

	var (
		mu       sync.Mutex
		analyses []docs.ScreenAnalysis
		wg       sync.WaitGroup
		sem      = make(chan struct{}, o.cfg.AnalysisConcurrency)
	)
	for _, screen := range screens {
		wg.Add(1)
		sem <- struct{}{}
		go func(screen docs.Screen) {
			defer wg.Done()
			defer func() { <-sem }()

			analysis, err := o.deps.Screener.AnalyzeScreen(ctx, screen)
			if err != nil {
				o.deps.Logger.Warn("screen analysis failed",
					zap.String("job_id", jobID),
					zap.String("screen_id", screen.ID),
					zap.Error(err),
				)
				if err := o.deps.Screens.UpdateScreenStatus(ctx, screen.ID, docs.ScreenStatusFailed); err != nil {
					o.deps.Logger.Error("failed to mark screen failed", zap.String("screen_id", screen.ID), zap.Error(err))
				}
				return
			}
			if err := o.deps.Screens.UpdateScreenStatus(ctx, screen.ID, docs.ScreenStatusAnalyzed); err != nil {
				o.deps.Logger.Error("failed to mark screen analyzed", zap.String("screen_id", screen.ID), zap.Error(err))
			}
			mu.Lock()
			analyses = append(analyses, analysis)
			mu.Unlock()
		}(screen)
	}
	wg.Wait()

	// Quality is mean confidence over all captured screens, so screens
	// that failed analysis drag the score down.
	var total float64
	for _, a := range analyses {
		total += a.Confidence
	}
	return analyses, total / float64(len(screens))
}

// manifest is the machine-readable companion to the generated doc.
type manifest struct {
	JobID        string                `json:"job_id"`
	GeneratedAt  time.Time             `json:"generated_at"`
	QualityScore float64               `json:"quality_score"`
	Journeys     []manifestJourney     `json:"journeys"`
	Screens      []docs.Screen         `json:"screens"`
	Analyses     []docs.ScreenAnalysis `json:"analyses,omitempty"`
}

type manifestJourney struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Screens int    `json:"screens"`
}

// compose writes one prose section per journey, assembles the markdown
// document and its manifest, and uploads both.
func (o *Orchestrator) compose(ctx context.Context, job docs.Job, journeys []docs.Journey, screens []docs.Screen, analyses []docs.ScreenAnalysis, quality float64) (string, error) {
	journeyOfScreen := make(map[string]string, len(screens))
	screensPerJourney := make(map[string]int, len(journeys))
	for _, s := range screens {
		journeyOfScreen[s.ID] = s.JourneyID
		screensPerJourney[s.JourneyID]++
	}
	byJourney := make(map[string][]docs.ScreenAnalysis, len(journeys))
	for _, a := range analyses {
		jid := journeyOfScreen[a.ScreenID]
		byJourney[jid] = append(byJourney[jid], a)
	}

	var doc strings.Builder
	fmt.Fprintf(&doc, "# Documentation\n\n")
	m := manifest{
		JobID:        job.ID,
		GeneratedAt:  o.deps.Clock.Now(),
		QualityScore: quality,
		Screens:      screens,
		Analyses:     analyses,
	}
	for _, journey := range journeys {
		section, err := o.deps.Composer.ComposeSection(ctx, journey, byJourney[journey.ID])
		if err != nil {
			return "", fmt.Errorf("compose section for %s: %w", journey.ID, err)
		}
		fmt.Fprintf(&doc, "## %s\n\n%s\n\n", journey.Title, section)
		m.Journeys = append(m.Journeys, manifestJourney{
			ID:      journey.ID,
			Title:   journey.Title,
			Screens: screensPerJourney[journey.ID],
		})
	}

	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := o.deps.Blobs.PutObject(ctx, fmt.Sprintf("jobs/%s/docs/manifest.json", job.ID), "application/json", manifestJSON); err != nil {
		return "", fmt.Errorf("upload manifest: %w", err)
	}
	resultURL, err := o.deps.Blobs.PutObject(ctx, fmt.Sprintf("jobs/%s/docs/docs.md", job.ID), "text/markdown", []byte(doc.String()))
	if err != nil {
		return "", fmt.Errorf("upload document: %w", err)
	}
	return resultURL, nil
}

// fail moves the job into the failed terminal state. Credentials are
// scrubbed on every failure path; screens persisted so far remain.
func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) error {
	if err := o.deps.Jobs.ScrubCredentials(ctx, jobID); err != nil {
		o.deps.Logger.Error("failed to scrub credentials", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := o.deps.Jobs.FailJob(ctx, jobID, cause.Error()); err != nil {
		o.deps.Logger.Error("failed to mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	o.notify(ctx, jobID, docs.MessageError, cause.Error(), "")
	o.publish(ctx, o.cfg.FailureTopic, map[string]any{
		"job_id": jobID,
		"error":  cause.Error(),
	})
	return cause
}

func (o *Orchestrator) advance(ctx context.Context, jobID string, stage docs.JobStatus, progress docs.Progress) error {
	if err := o.deps.Jobs.AdvanceStage(ctx, jobID, stage, progress); err != nil {
		return fmt.Errorf("advance to %s: %w", stage, err)
	}
	return nil
}

func (o *Orchestrator) info(ctx context.Context, jobID, text string) {
	o.notify(ctx, jobID, docs.MessageInfo, text, "")
}

func (o *Orchestrator) notify(ctx context.Context, jobID string, kind docs.MessageKind, text, screenshotURL string) {
	if o.deps.Notifier == nil {
		return
	}
	o.deps.Notifier.Notify(ctx, docs.ProgressMessage{
		ID:            o.deps.IDs.NewID(),
		JobID:         jobID,
		Kind:          kind,
		Text:          text,
		ScreenshotURL: screenshotURL,
		At:            o.deps.Clock.Now(),
	})
}

func (o *Orchestrator) publish(ctx context.Context, topic string, payload any) {
	if o.deps.Publisher == nil {
		return
	}
	if _, err := o.deps.Publisher.Publish(ctx, topic, payload); err != nil {
		o.deps.Logger.Error("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}
