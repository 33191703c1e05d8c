package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/auth"
	"github.com/anshm02/docuagent-sub001/internal/dedup"
	"github.com/anshm02/docuagent-sub001/internal/docs"
	"github.com/anshm02/docuagent-sub001/internal/hash/sha256"
)

const (
	testLoginURL = "https://app.test/login"
	testHomeURL  = "https://app.test/dashboard"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 400))
	for x := 0; x < 640; x += 2 {
		img.Set(x, x%400, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeDriver is a scriptable docs.Driver.
type fakeDriver struct {
	mu sync.Mutex

	currentURL string
	shot       []byte

	navigations  []string
	instructions []string

	// Session expiry script: non-login navigations are numbered from
	// one, and the numbered ones in expireOnNav bounce to the login
	// page instead. expireAlways bounces every one of them.
	navSeq       int
	expireOnNav  map[int]bool
	expireAlways bool

	// Drive instructions that move the browser somewhere else, e.g. a
	// form submit landing on the new entity's page.
	redirectOn map[string]string
	failOn     map[string]error

	sameDOM    bool
	domCounter int
}

func newFakeDriver(t *testing.T) *fakeDriver {
	return &fakeDriver{currentURL: testHomeURL, shot: testPNG(t)}
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations = append(d.navigations, url)
	if url != testLoginURL {
		d.navSeq++
		if d.expireAlways || d.expireOnNav[d.navSeq] {
			d.currentURL = testLoginURL
			return nil
		}
	}
	d.currentURL = url
	return nil
}

func (d *fakeDriver) Drive(_ context.Context, instruction string) (docs.ActionOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failOn[instruction]; err != nil {
		return docs.ActionOutcome{}, err
	}
	d.instructions = append(d.instructions, instruction)
	if strings.Contains(instruction, "submit button to sign in") {
		d.currentURL = testHomeURL
	}
	if to, ok := d.redirectOn[instruction]; ok {
		d.currentURL = to
	}
	return docs.ActionOutcome{CurrentURL: d.currentURL}, nil
}

func (d *fakeDriver) Settle(context.Context, time.Duration, time.Duration) error { return nil }

func (d *fakeDriver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentURL, nil
}

func (d *fakeDriver) Screenshot(context.Context) ([]byte, error) { return d.shot, nil }

func (d *fakeDriver) DOM(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sameDOM {
		return "<html><body><h1>Same page every time</h1></body></html>", nil
	}
	d.domCounter++
	return fmt.Sprintf("<html><body><h1>Screen %d</h1><p>unique block %d content %d</p></body></html>",
		d.domCounter, d.domCounter*7, d.domCounter*13), nil
}

func (d *fakeDriver) Observe(context.Context) (docs.PageContext, error) {
	return docs.PageContext{URL: d.currentURL}, nil
}

func (d *fakeDriver) Close(context.Context) error { return nil }

func (d *fakeDriver) submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, in := range d.instructions {
		if strings.Contains(in, "sign in") {
			n++
		}
	}
	return n
}

type fakeFactory struct {
	driver *fakeDriver
	err    error
	opened int
}

func (f *fakeFactory) NewSession(context.Context, docs.Viewport) (docs.Driver, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opened++
	return f.driver, nil
}

type fakeScreenStore struct {
	mu       sync.Mutex
	screens  []docs.Screen
	failNext error
}

func (s *fakeScreenStore) InsertScreen(_ context.Context, screen docs.Screen) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.screens = append(s.screens, screen)
	return nil
}

func (s *fakeScreenStore) UpdateScreenStatus(_ context.Context, id string, status docs.ScreenStatus) error {
	return nil
}

func (s *fakeScreenStore) ListScreens(_ context.Context, jobID string) ([]docs.Screen, error) {
	return s.screens, nil
}

func (s *fakeScreenStore) CountScreens(_ context.Context, jobID string) (int, error) {
	return len(s.screens), nil
}

type fakeBlobStore struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (b *fakeBlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	b.puts[path] = data
	return "https://blobs.test/" + path, nil
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

type engineFixture struct {
	engine   *Engine
	driver   *fakeDriver
	screens  *fakeScreenStore
	blobs    *fakeBlobStore
	notifier *recordingNotifier
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	f := &engineFixture{
		driver:   newFakeDriver(t),
		screens:  &fakeScreenStore{},
		blobs:    &fakeBlobStore{},
		notifier: &recordingNotifier{},
	}
	f.engine = New(cfg, Deps{
		Sessions: &fakeFactory{driver: f.driver},
		Auth:     auth.New(zap.NewNop()),
		Dedup:    dedup.New(dedup.DefaultThreshold, sha256.New()),
		Screens:  f.screens,
		Blobs:    f.blobs,
		Notifier: f.notifier,
		IDs:      &seqIDs{},
		Clock:    fixedClock{at: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)},
		Logger:   zap.NewNop(),
	})
	return f
}

func testJob() docs.Job {
	return docs.Job{
		ID:     "job-1",
		UserID: "user-1",
		Status: docs.JobStatusCrawling,
		Input: docs.JobInput{
			TargetURL:   "https://app.test/",
			LoginURL:    testLoginURL,
			Credentials: &docs.Credentials{Username: "demo@acme.test", Password: "hunter2"},
		},
	}
}

func simpleJourneys() []docs.Journey {
	return []docs.Journey{
		{
			ID:       "browse",
			Title:    "Browse projects",
			Priority: 2,
			Steps: []docs.Step{
				{Action: "Open the project list", TargetRoute: "/projects"},
			},
		},
		{
			ID:       "create",
			Title:    "Create a project",
			Priority: 1,
			Steps: []docs.Step{
				{Action: "Open the form", TargetRoute: "/projects/new"},
				{
					Action:      "Submit the form",
					TargetRoute: docs.TargetCurrentPage,
					Interaction: "fill in the project name and submit",
					CreatesData: true,
				},
			},
		},
	}
}

func TestEngine_Run_HappyPath(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.driver.redirectOn = map[string]string{
		"fill in the project name and submit": "https://app.test/projects/42",
	}

	result, err := f.engine.Run(context.Background(), testJob(), simpleJourneys())
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Screens, 3)

	// Priority 1 journey ran first despite slice order.
	require.Equal(t, "create", result.Screens[0].JourneyID)
	require.Equal(t, "browse", result.Screens[2].JourneyID)

	// Order indexes are sequential without gaps.
	for i, screen := range result.Screens {
		require.Equal(t, i, screen.OrderIndex)
		require.Equal(t, docs.ScreenStatusCrawled, screen.Status)
		require.NotEmpty(t, screen.ScreenshotURL)
		require.NotEmpty(t, screen.ThumbnailURL)
		require.NotEmpty(t, screen.DOM)
	}

	// One login at the start, no re-auth.
	require.Equal(t, 1, f.driver.submits())
	require.Contains(t, f.notifier.kinds(), docs.MessageScreenshot)
}

func TestEngine_Run_EntityPropagation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.driver.redirectOn = map[string]string{
		"fill in the project name and submit": "https://app.test/projects/42",
	}

	journeys := []docs.Journey{{
		ID:       "create",
		Title:    "Create a project",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "Open the form", TargetRoute: "/projects/new"},
			{
				Action:      "Submit",
				TargetRoute: docs.TargetCurrentPage,
				Interaction: "fill in the project name and submit",
				CreatesData: true,
			},
			{Action: "Review the new project", TargetRoute: docs.TargetCurrentPage},
		},
	}}

	result, err := f.engine.Run(context.Background(), testJob(), journeys)
	require.NoError(t, err)
	require.Len(t, result.Screens, 3)

	// Before creation: no entity. From the creating step on: linked.
	require.Empty(t, result.Screens[0].CreatedEntityID)
	require.Equal(t, "42", result.Screens[1].CreatedEntityID)
	require.Equal(t, "42", result.Screens[2].CreatedEntityID)
}

func TestEngine_Run_ScreenCap(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{MaxScreens: 2})

	journeys := []docs.Journey{{
		ID:       "long",
		Title:    "Long journey",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "a", TargetRoute: "/a"},
			{Action: "b", TargetRoute: "/b"},
			{Action: "c", TargetRoute: "/c"},
			{Action: "d", TargetRoute: "/d"},
		},
	}}

	result, err := f.engine.Run(context.Background(), testJob(), journeys)
	require.NoError(t, err)
	require.Len(t, result.Screens, 2)
	require.Equal(t, []int{0, 1}, []int{result.Screens[0].OrderIndex, result.Screens[1].OrderIndex})

	var capMsg bool
	for _, m := range f.notifier.msgs {
		if strings.Contains(m.Text, "screen cap") {
			capMsg = true
		}
	}
	require.True(t, capMsg)
}

func TestEngine_Run_DedupSkipsRepeats(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.driver.sameDOM = true

	journeys := []docs.Journey{{
		ID:       "loop",
		Title:    "Loop",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "a", TargetRoute: "/a"},
			{Action: "b", TargetRoute: "/b"},
			{Action: "c", TargetRoute: "/c"},
		},
	}}

	result, err := f.engine.Run(context.Background(), testJob(), journeys)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Screens, 1)
	require.Equal(t, 0, result.Screens[0].OrderIndex)
}

func TestEngine_Run_SessionExpiryRecoversOnce(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.driver.expireOnNav = map[int]bool{1: true}

	result, err := f.engine.Run(context.Background(), testJob(), []docs.Journey{{
		ID:       "j",
		Title:    "Journey",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "a", TargetRoute: "/a"},
			{Action: "b", TargetRoute: "/b"},
		},
	}})
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Screens, 2)

	// Initial login plus exactly one re-authentication.
	require.Equal(t, 2, f.driver.submits())
}

func TestEngine_Run_SecondExpiryIsFatal(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.driver.expireAlways = true

	result, err := f.engine.Run(context.Background(), testJob(), []docs.Journey{{
		ID:       "j",
		Title:    "Journey",
		Priority: 1,
		Steps:    []docs.Step{{Action: "a", TargetRoute: "/a"}},
	}})
	require.Error(t, err)
	require.ErrorIs(t, err, errSessionExpired)
	require.Empty(t, result.Screens)
}

func TestEngine_Run_ExpiryAfterEarlierReauthIsFatal(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	// Expiry on the first step is cured by the single allowed re-auth
	// (the retry is navigation 2); the session then dies again on the
	// second step's navigation.
	f.driver.expireOnNav = map[int]bool{1: true, 3: true}

	journeys := []docs.Journey{{
		ID:       "j",
		Title:    "Journey",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "a", TargetRoute: "/a"},
			{Action: "b", TargetRoute: "/b"},
			{Action: "c", TargetRoute: "/c"},
		},
	}}

	result, err := f.engine.Run(context.Background(), testJob(), journeys)
	require.Error(t, err)
	require.ErrorIs(t, err, errSessionExpired)
	require.ErrorContains(t, err, "re-authentication")
	// Screens captured before the fatal expiry survive.
	require.NotEmpty(t, result.Screens)
}

func TestEngine_Run_StepFailureIsIsolated(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.driver.failOn = map[string]error{
		"click the broken button": errors.New("node not found"),
	}

	journeys := []docs.Journey{{
		ID:       "j",
		Title:    "Journey",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "a", TargetRoute: "/a"},
			{Action: "broken", TargetRoute: docs.TargetCurrentPage, Interaction: "click the broken button"},
			{Action: "c", TargetRoute: "/c"},
		},
	}}

	result, err := f.engine.Run(context.Background(), testJob(), journeys)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	require.Equal(t, "j", result.Errors[0].JourneyID)
	require.Equal(t, 1, result.Errors[0].StepIndex)
	require.Contains(t, result.Errors[0].Message, "node not found")

	// Steps a and c still produced screens, with gap-free indexes.
	require.Len(t, result.Screens, 2)
	require.Equal(t, 0, result.Screens[0].OrderIndex)
	require.Equal(t, 1, result.Screens[1].OrderIndex)
}

func TestEngine_Run_UploadFailureStillPersistsScreen(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.blobs.err = errors.New("bucket unavailable")

	result, err := f.engine.Run(context.Background(), testJob(), []docs.Journey{{
		ID:       "j",
		Title:    "Journey",
		Priority: 1,
		Steps:    []docs.Step{{Action: "a", TargetRoute: "/a"}},
	}})
	require.NoError(t, err)
	require.Len(t, result.Screens, 1)
	require.Empty(t, result.Screens[0].ScreenshotURL)
	require.Empty(t, result.Screens[0].ThumbnailURL)
	require.Len(t, f.screens.screens, 1)
}

func TestEngine_Run_InsertFailureRecordedNotFatal(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.screens.failNext = errors.New("connection refused")

	result, err := f.engine.Run(context.Background(), testJob(), []docs.Journey{{
		ID:       "j",
		Title:    "Journey",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "a", TargetRoute: "/a"},
			{Action: "b", TargetRoute: "/b"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	require.Len(t, result.Screens, 1)
	// The failed insert did not consume an order index.
	require.Equal(t, 0, result.Screens[0].OrderIndex)
}

func TestEngine_Run_LoginFailureIsFatal(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.driver.failOn = map[string]error{
		"click the submit button to sign in": errors.New("button missing"),
	}

	_, err := f.engine.Run(context.Background(), testJob(), simpleJourneys())
	require.ErrorContains(t, err, "button missing")
}

func TestEngine_Run_ModalCaptureTriggersOverlay(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	journeys := []docs.Journey{{
		ID:       "j",
		Title:    "Invite a member",
		Priority: 1,
		Steps: []docs.Step{{
			Action:      "Review the team page and its invite dialog",
			TargetRoute: "/team",
			Captures: []docs.Capture{
				{Kind: docs.CaptureFullPage},
				{Kind: docs.CaptureModal, Name: "invite-member"},
			},
		}},
	}}

	result, err := f.engine.Run(context.Background(), testJob(), journeys)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	// The base page and the opened modal are distinct screens.
	require.Len(t, result.Screens, 2)
	require.Equal(t, docs.ScreenKindPage, result.Screens[0].Kind)
	require.Equal(t, docs.ScreenKindModal, result.Screens[1].Kind)

	require.Contains(t, f.driver.instructions, `open the "invite-member" modal dialog`)

	// Opened before the modal screenshot, dismissed after it.
	var openAt, dismissAt int
	for i, in := range f.driver.instructions {
		if strings.Contains(in, "invite-member") {
			openAt = i
		}
		if strings.Contains(in, "Escape") {
			dismissAt = i
		}
	}
	require.Less(t, openAt, dismissAt)
}

func TestEngine_Run_TabCaptureSwitchesAndRestores(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	journeys := []docs.Journey{{
		ID:       "j",
		Title:    "Settings",
		Priority: 1,
		Steps: []docs.Step{{
			Action:      "Review the permissions tab",
			TargetRoute: "/settings",
			Captures:    []docs.Capture{{Kind: docs.CaptureTab, Name: "permissions"}},
		}},
	}}

	result, err := f.engine.Run(context.Background(), testJob(), journeys)
	require.NoError(t, err)
	require.Len(t, result.Screens, 1)
	require.Equal(t, docs.ScreenKindTab, result.Screens[0].Kind)

	require.Contains(t, f.driver.instructions, `switch to the "permissions" tab`)
	require.Contains(t, f.driver.instructions, "switch back to the previously selected tab")
}

func TestEngine_Run_JobMaxScreensOverride(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	job := testJob()
	job.Input.MaxScreens = 2

	result, err := f.engine.Run(context.Background(), job, []docs.Journey{{
		ID:       "long",
		Title:    "Long journey",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "a", TargetRoute: "/a"},
			{Action: "b", TargetRoute: "/b"},
			{Action: "c", TargetRoute: "/c"},
			{Action: "d", TargetRoute: "/d"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, result.Screens, 2)
}

func TestEngine_Run_CapStopsBeforeNextNavigation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{MaxScreens: 2})

	_, err := f.engine.Run(context.Background(), testJob(), []docs.Journey{{
		ID:       "long",
		Title:    "Long journey",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "a", TargetRoute: "/a"},
			{Action: "b", TargetRoute: "/b"},
			{Action: "c", TargetRoute: "/c"},
		},
	}})
	require.NoError(t, err)

	// Login, then /a and /b; the crawl stops as the cap fills, before
	// step c gets to navigate.
	require.Equal(t, []string{
		testLoginURL,
		"https://app.test/a",
		"https://app.test/b",
	}, f.driver.navigations)
}

func TestEngine_Run_DOMTokenBudgetBoundsSnapshots(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{DOMTokenBudget: 2})

	result, err := f.engine.Run(context.Background(), testJob(), []docs.Journey{{
		ID:       "j",
		Title:    "Journey",
		Priority: 1,
		Steps:    []docs.Step{{Action: "a", TargetRoute: "/a"}},
	}})
	require.NoError(t, err)
	require.Len(t, result.Screens, 1)
	require.LessOrEqual(t, len(strings.Fields(result.Screens[0].DOM)), 2)
}

func TestEngine_Run_EntityRouteSubstitution(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	f.driver.redirectOn = map[string]string{
		"fill in the project name and submit": "https://app.test/projects/42",
	}

	result, err := f.engine.Run(context.Background(), testJob(), []docs.Journey{{
		ID:       "create",
		Title:    "Create a project",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "Open the form", TargetRoute: "/projects/new"},
			{
				Action:      "Submit",
				TargetRoute: docs.TargetCurrentPage,
				Interaction: "fill in the project name and submit",
				CreatesData: true,
			},
			{Action: "Open the new project's settings", TargetRoute: "/projects/:id/settings"},
		},
	}})
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Screens, 3)
	require.Contains(t, f.driver.navigations, "https://app.test/projects/42/settings")
}

func TestEngine_Run_EntityRouteWithoutEntityFails(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})

	result, err := f.engine.Run(context.Background(), testJob(), []docs.Journey{{
		ID:       "j",
		Title:    "Journey",
		Priority: 1,
		Steps: []docs.Step{
			{Action: "Jump to a record that was never created", TargetRoute: "/projects/:id"},
			{Action: "b", TargetRoute: "/b"},
		},
	}})
	require.NoError(t, err)

	// The unresolvable route is an isolated step failure.
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0].Message, "created entity id")
	require.Len(t, result.Screens, 1)
}

func TestEngine_Run_ModalCaptureDismissed(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{})
	journeys := []docs.Journey{{
		ID:       "j",
		Title:    "Invite a member",
		Priority: 1,
		Steps: []docs.Step{{
			Action:      "Open the invite dialog",
			TargetRoute: "/team",
			Interaction: "click the Invite button",
			Captures:    []docs.Capture{{Kind: docs.CaptureModal, Name: "invite-member"}},
		}},
	}}

	result, err := f.engine.Run(context.Background(), testJob(), journeys)
	require.NoError(t, err)
	require.Len(t, result.Screens, 1)
	require.Equal(t, docs.ScreenKindModal, result.Screens[0].Kind)
	require.Equal(t, "Invite a member / invite-member", result.Screens[0].Breadcrumb)

	var dismissed bool
	for _, in := range f.driver.instructions {
		if strings.Contains(in, "Escape") {
			dismissed = true
		}
	}
	require.True(t, dismissed)
}
