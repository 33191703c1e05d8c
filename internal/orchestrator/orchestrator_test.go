package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/auth"
	"github.com/anshm02/docuagent-sub001/internal/budget"
	"github.com/anshm02/docuagent-sub001/internal/docs"
	pubmem "github.com/anshm02/docuagent-sub001/internal/publisher/memory"
	"github.com/anshm02/docuagent-sub001/internal/storage/memory"
)

// fakeDriver satisfies docs.Driver far enough for the discovery stage:
// any driven instruction lands on the app home page, so login succeeds.
type fakeDriver struct {
	currentURL string
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.currentURL = url
	return nil
}

func (d *fakeDriver) Drive(context.Context, string) (docs.ActionOutcome, error) {
	d.currentURL = "https://app.test/home"
	return docs.ActionOutcome{CurrentURL: d.currentURL}, nil
}

func (d *fakeDriver) Settle(context.Context, time.Duration, time.Duration) error { return nil }

func (d *fakeDriver) CurrentURL(context.Context) (string, error) { return d.currentURL, nil }

func (d *fakeDriver) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

func (d *fakeDriver) DOM(context.Context) (string, error) { return "<main/>", nil }

func (d *fakeDriver) Observe(context.Context) (docs.PageContext, error) {
	return docs.PageContext{URL: d.currentURL}, nil
}

func (d *fakeDriver) Close(context.Context) error { return nil }

type fakeFactory struct{}

func (fakeFactory) NewSession(context.Context, docs.Viewport) (docs.Driver, error) {
	return &fakeDriver{}, nil
}

// fakeAI implements every analysis interface with overridable hooks.
type fakeAI struct {
	codeCalled bool
	navCalled  bool

	planErr    error
	journeys   []docs.Journey
	confidence float64
	composeErr error
}

func (f *fakeAI) AnalyzeCode(_ context.Context, repoURL string) (docs.CodeAnalysis, error) {
	f.codeCalled = true
	return docs.CodeAnalysis{
		Summary: "project tracker",
		Plan: docs.CrawlPlan{Routes: []docs.Route{
			{Path: "/projects", Title: "Projects"},
			{Path: "/settings", Title: "Settings"},
		}},
	}, nil
}

func (f *fakeAI) SummarizeProduct(context.Context, string) (docs.ProductSummary, error) {
	return docs.ProductSummary{Summary: "tracks projects"}, nil
}

func (f *fakeAI) PlanJourneys(context.Context, docs.PlanRequest) (docs.JourneyPlan, error) {
	if f.planErr != nil {
		return docs.JourneyPlan{}, f.planErr
	}
	return docs.JourneyPlan{Journeys: f.journeys}, nil
}

func (f *fakeAI) AnalyzeScreen(_ context.Context, screen docs.Screen) (docs.ScreenAnalysis, error) {
	return docs.ScreenAnalysis{
		ScreenID:   screen.ID,
		Title:      screen.Breadcrumb,
		Purpose:    "shows " + screen.Route,
		Confidence: f.confidence,
	}, nil
}

func (f *fakeAI) ComposeSection(_ context.Context, journey docs.Journey, _ []docs.ScreenAnalysis) (string, error) {
	if f.composeErr != nil {
		return "", f.composeErr
	}
	return "How to use " + journey.Title + ".", nil
}

type fakeSweeper struct {
	called bool
}

func (f *fakeSweeper) Sweep(_ context.Context, _, _ string, plan docs.CrawlPlan, _ docs.Driver, _ docs.BlobStore) ([]docs.RouteCheck, error) {
	f.called = true
	checks := make([]docs.RouteCheck, 0, len(plan.Routes))
	for _, r := range plan.Routes {
		checks = append(checks, docs.RouteCheck{Route: r, Loaded: true, StatusCode: 200})
	}
	return checks, nil
}

type fakeNav struct {
	called bool
}

func (f *fakeNav) Discover(context.Context, docs.Driver) (docs.CrawlPlan, error) {
	f.called = true
	return docs.CrawlPlan{Routes: []docs.Route{{Path: "/dashboard", Title: "Dashboard"}}}, nil
}

// fakeCrawler persists scripted screens the way the real engine does,
// then reports them in the result.
type fakeCrawler struct {
	screens docs.ScreenStore
	perRun  int
	err     error
}

func (f *fakeCrawler) Run(ctx context.Context, job docs.Job, journeys []docs.Journey) (docs.CrawlResult, error) {
	var result docs.CrawlResult
	for i := 0; i < f.perRun; i++ {
		journey := journeys[i%len(journeys)]
		screen := docs.Screen{
			ID:         fmt.Sprintf("scr-%d", i+1),
			JobID:      job.ID,
			JourneyID:  journey.ID,
			URL:        "https://app.test/projects",
			Route:      "/projects",
			Breadcrumb: "Projects",
			Kind:       docs.ScreenKindPage,
			Status:     docs.ScreenStatusCrawled,
			OrderIndex: i,
		}
		if err := f.screens.InsertScreen(ctx, screen); err != nil {
			return result, err
		}
		result.Screens = append(result.Screens, screen)
	}
	return result, f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []docs.ProgressMessage
}

func (n *recordingNotifier) Notify(_ context.Context, msg docs.ProgressMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) kinds() []docs.MessageKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]docs.MessageKind, len(n.msgs))
	for i, m := range n.msgs {
		out[i] = m.Kind
	}
	return out
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%04d", s.n)
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type fixture struct {
	orch     *Orchestrator
	jobs     *memory.JobStore
	screens  *memory.ScreenStore
	credits  *memory.CreditStore
	blobs    *memory.BlobStore
	pub      *pubmem.Publisher
	notifier *recordingNotifier
	ai       *fakeAI
	sweeper  *fakeSweeper
	nav      *fakeNav
	crawler  *fakeCrawler
}

var testModel = budget.CostModel{
	FixedOverheadCents: 65,
	PerJourneyCents:    20,
	PerScreenCents:     2,
	PerProseCents:      5,
	CrossCuttingCents:  10,
}

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()

	f := &fixture{
		jobs:     memory.NewJobStore(),
		screens:  memory.NewScreenStore(),
		credits:  memory.NewCreditStore(map[string]int{"user-1": balance}),
		blobs:    memory.NewBlobStore(),
		pub:      pubmem.New(),
		notifier: &recordingNotifier{},
		sweeper:  &fakeSweeper{},
		nav:      &fakeNav{},
	}
	f.ai = &fakeAI{
		confidence: 0.9,
		journeys: []docs.Journey{
			{ID: "journey-1", Title: "Manage projects", Priority: 1, Steps: []docs.Step{{Action: "open projects", TargetRoute: "/projects"}}},
			{ID: "journey-2", Title: "Tune settings", Priority: 2, Steps: []docs.Step{{Action: "open settings", TargetRoute: "/settings"}}},
		},
	}
	f.crawler = &fakeCrawler{screens: f.screens, perRun: 3}

	f.orch = New(Config{}, Deps{
		Jobs:      f.jobs,
		Screens:   f.screens,
		Credits:   f.credits,
		Blobs:     f.blobs,
		Budget:    budget.New(testModel, f.credits, zap.NewNop()),
		Code:      f.ai,
		Product:   f.ai,
		Planner:   f.ai,
		Screener:  f.ai,
		Composer:  f.ai,
		Sweeper:   f.sweeper,
		Nav:       f.nav,
		Sessions:  fakeFactory{},
		Auth:      auth.New(zap.NewNop()),
		Crawler:   f.crawler,
		Notifier:  f.notifier,
		Publisher: f.pub,
		IDs:       &seqIDs{},
		Clock:     fixedClock{at: time.Unix(1700000000, 0).UTC()},
		Logger:    zap.NewNop(),
	})
	return f
}

func (f *fixture) createJob(t *testing.T, job docs.Job) {
	t.Helper()
	require.NoError(t, f.jobs.CreateJob(context.Background(), job))
}

func queuedJob() docs.Job {
	return docs.Job{
		ID:     "job-1",
		UserID: "user-1",
		Status: docs.JobStatusQueued,
		Input: docs.JobInput{
			TargetURL:          "https://app.test/",
			LoginURL:           "https://app.test/login",
			Credentials:        &docs.Credentials{Username: "u", Password: "p"},
			RepoURL:            "https://github.com/acme/tracker",
			ProductDescription: "a project tracker",
		},
	}
}

func TestOrchestrator_Execute_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000)
	f.createJob(t, queuedJob())

	require.NoError(t, f.orch.Execute(context.Background(), "job-1"))

	job, err := f.jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, docs.JobStatusCompleted, job.Status)
	require.Equal(t, "mem://jobs/job-1/docs/docs.md", job.ResultURL)
	require.InDelta(t, 0.9, job.QualityScore, 1e-9)
	require.False(t, job.FlaggedForReview)
	require.Nil(t, job.Input.Credentials, "credentials must be scrubbed after the crawl")
	require.Positive(t, job.Budget.EstimatedCents)
	require.Equal(t, 1000, job.Budget.CreditsSnapshotCents)

	// Actual cost was reconciled and debited.
	actual := budget.New(testModel, nil, zap.NewNop()).Reconcile(2, 3)
	require.Equal(t, actual, job.Budget.ActualCents)
	balance, err := f.credits.Credits(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, 1000-actual, balance)

	// Every crawled screen was analyzed.
	screens, err := f.screens.ListScreens(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, screens, 3)
	for _, s := range screens {
		require.Equal(t, docs.ScreenStatusAnalyzed, s.Status)
	}

	// Static routes went through the sweep, not nav discovery.
	require.True(t, f.sweeper.called)
	require.False(t, f.nav.called)

	// Manifest and document were uploaded.
	docBytes, contentType, ok := f.blobs.GetObject("jobs/job-1/docs/docs.md")
	require.True(t, ok)
	require.Equal(t, "text/markdown", contentType)
	require.Contains(t, string(docBytes), "## Manage projects")
	_, _, ok = f.blobs.GetObject("jobs/job-1/docs/manifest.json")
	require.True(t, ok)

	// Completion was published and notified.
	msgs := f.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, DefaultCompletionTopic, msgs[0].Topic)
	require.Contains(t, f.notifier.kinds(), docs.MessageComplete)
}

func TestOrchestrator_Execute_NavDiscoveryFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000)
	job := queuedJob()
	job.Input.RepoURL = ""
	f.createJob(t, job)

	require.NoError(t, f.orch.Execute(context.Background(), "job-1"))

	require.False(t, f.ai.codeCalled)
	require.False(t, f.sweeper.called)
	require.True(t, f.nav.called)
}

func TestOrchestrator_Execute_PlannerFailureFailsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000)
	f.ai.planErr = fmt.Errorf("model unavailable")
	f.createJob(t, queuedJob())

	err := f.orch.Execute(context.Background(), "job-1")
	require.ErrorContains(t, err, "model unavailable")

	job, _ := f.jobs.GetJob(context.Background(), "job-1")
	require.Equal(t, docs.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "model unavailable")
	require.Nil(t, job.Input.Credentials, "credentials must be scrubbed on failure")

	msgs := f.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, DefaultFailureTopic, msgs[0].Topic)
}

func TestOrchestrator_Execute_CrawlFailureRetainsPartials(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000)
	f.crawler.perRun = 1
	f.crawler.err = fmt.Errorf("session expired again on retry")
	f.createJob(t, queuedJob())

	err := f.orch.Execute(context.Background(), "job-1")
	require.ErrorContains(t, err, "session expired")

	job, _ := f.jobs.GetJob(context.Background(), "job-1")
	require.Equal(t, docs.JobStatusFailed, job.Status)
	require.Nil(t, job.Input.Credentials)

	// The screen persisted before the abort survives.
	screens, err := f.screens.ListScreens(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, screens, 1)
}

func TestOrchestrator_Execute_InsufficientCredits(t *testing.T) {
	t.Parallel()

	// Not even one journey fits: overhead alone exceeds the balance.
	f := newFixture(t, 10)
	f.createJob(t, queuedJob())

	err := f.orch.Execute(context.Background(), "job-1")
	require.ErrorContains(t, err, "covers no journeys")

	job, _ := f.jobs.GetJob(context.Background(), "job-1")
	require.Equal(t, docs.JobStatusFailed, job.Status)
}

func TestOrchestrator_Execute_LowQualityFlagsForReview(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000)
	f.ai.confidence = 0.4
	f.createJob(t, queuedJob())

	require.NoError(t, f.orch.Execute(context.Background(), "job-1"))

	job, _ := f.jobs.GetJob(context.Background(), "job-1")
	require.Equal(t, docs.JobStatusCompleted, job.Status)
	require.True(t, job.FlaggedForReview)
	require.InDelta(t, 0.4, job.QualityScore, 1e-9)
}

func TestOrchestrator_Execute_RejectsNonQueuedJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000)
	job := queuedJob()
	f.createJob(t, job)
	require.NoError(t, f.jobs.AdvanceStage(context.Background(), "job-1", docs.JobStatusCrawling, docs.Progress{}))

	err := f.orch.Execute(context.Background(), "job-1")
	require.ErrorContains(t, err, "not runnable")
}

func TestOrchestrator_Execute_ComposeFailureFailsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1000)
	f.ai.composeErr = fmt.Errorf("empty prose reply")
	f.createJob(t, queuedJob())

	err := f.orch.Execute(context.Background(), "job-1")
	require.ErrorContains(t, err, "generate docs")

	job, _ := f.jobs.GetJob(context.Background(), "job-1")
	require.Equal(t, docs.JobStatusFailed, job.Status)
	// Screens captured and analyzed before the doc stage remain.
	screens, _ := f.screens.ListScreens(context.Background(), "job-1")
	require.NotEmpty(t, screens)
	for _, s := range screens {
		require.True(t, strings.HasPrefix(s.ID, "scr-"))
	}
}
