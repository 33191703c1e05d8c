// Package docs defines the core types shared across the documentation
// crawl subsystems: jobs, journeys, captured screens, and progress.
package docs

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the pipeline stage a job is currently in.
type JobStatus string

// Pipeline stages, in execution order. A job only ever moves forward
// through these, or sideways into failed.
const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusAnalyzingCode    JobStatus = "analyzing_code"
	JobStatusAnalyzingPRD     JobStatus = "analyzing_prd"
	JobStatusDiscovering      JobStatus = "discovering"
	JobStatusPlanningJourneys JobStatus = "planning_journeys"
	JobStatusCrawling         JobStatus = "crawling"
	JobStatusAnalyzingScreens JobStatus = "analyzing_screens"
	JobStatusGeneratingDocs   JobStatus = "generating_docs"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
)

var stageOrdinal = map[JobStatus]int{
	JobStatusQueued:           0,
	JobStatusAnalyzingCode:    1,
	JobStatusAnalyzingPRD:     2,
	JobStatusDiscovering:      3,
	JobStatusPlanningJourneys: 4,
	JobStatusCrawling:         5,
	JobStatusAnalyzingScreens: 6,
	JobStatusGeneratingDocs:   7,
	JobStatusCompleted:        8,
}

// Terminal reports whether no further stage can run.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Ordinal returns the position of a stage in the pipeline, or -1 for failed.
func (s JobStatus) Ordinal() int {
	ord, ok := stageOrdinal[s]
	if !ok {
		return -1
	}
	return ord
}

// CanAdvance reports whether a transition from s to next is legal:
// strictly forward through the pipeline, or into failed from any
// non-terminal stage.
func (s JobStatus) CanAdvance(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	return next.Ordinal() > s.Ordinal()
}

// Credentials are write-only from the caller's perspective and are
// erased once the crawling stage finishes, successful or not.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// JobInput is the caller-supplied configuration for a job.
type JobInput struct {
	TargetURL          string       `json:"target_url"`
	LoginURL           string       `json:"login_url,omitempty"`
	Credentials        *Credentials `json:"-"`
	RepoURL            string       `json:"repo_url,omitempty"`
	ProductDescription string       `json:"product_description,omitempty"`
	MaxScreens         int          `json:"max_screens,omitempty"`
}

// Budget tracks the monetary side of a job in cents.
type Budget struct {
	EstimatedCents       int `json:"estimated_cents"`
	ActualCents          int `json:"actual_cents"`
	CreditsSnapshotCents int `json:"credits_snapshot_cents"`
	FeaturesCutForBudget int `json:"features_cut_for_budget"`
}

// Progress is the caller-visible progress snapshot persisted with
// every stage transition.
type Progress struct {
	ScreensFound   int    `json:"screens_found"`
	ScreensCrawled int    `json:"screens_crawled"`
	CurrentStep    string `json:"current_step"`
}

// Job is the persisted record for one documentation run.
type Job struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Status           JobStatus `json:"status"`
	Input            JobInput  `json:"input"`
	Budget           Budget    `json:"budget"`
	Progress         Progress  `json:"progress"`
	ResultURL        string    `json:"result_url,omitempty"`
	ErrorText        string    `json:"error_text,omitempty"`
	QualityScore     float64   `json:"quality_score,omitempty"`
	FlaggedForReview bool      `json:"flagged_for_review"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TargetCurrentPage is the Step.TargetRoute sentinel meaning "do not
// navigate; interact with whatever is currently rendered".
const TargetCurrentPage = "__current_page__"

// CaptureKind classifies what a step capture points the camera at.
type CaptureKind string

// Capture kinds. Everything except full page needs a trigger first.
const (
	CaptureFullPage CaptureKind = "full_page"
	CaptureModal    CaptureKind = "modal"
	CaptureTab      CaptureKind = "tab"
	CaptureDropdown CaptureKind = "dropdown"
)

// Capture is a single capture instruction on a step, e.g. "modal:invite member".
type Capture struct {
	Kind CaptureKind `json:"kind"`
	Name string      `json:"name,omitempty"`
}

// ParseCapture parses the planner's capture notation: "full_page" or
// "<kind>:<name>" for modal/tab/dropdown kinds.
func ParseCapture(raw string) (Capture, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == string(CaptureFullPage) {
		return Capture{Kind: CaptureFullPage}, nil
	}
	kind, name, ok := strings.Cut(raw, ":")
	if !ok {
		return Capture{}, fmt.Errorf("malformed capture %q", raw)
	}
	switch CaptureKind(kind) {
	case CaptureFullPage, CaptureModal, CaptureTab, CaptureDropdown:
		return Capture{Kind: CaptureKind(kind), Name: strings.TrimSpace(name)}, nil
	default:
		return Capture{}, fmt.Errorf("unknown capture kind %q", kind)
	}
}

// Step is one atomic navigate-or-interact action inside a journey.
type Step struct {
	Action      string    `json:"action"`
	TargetRoute string    `json:"target_route"`
	Interaction string    `json:"interaction,omitempty"`
	Captures    []Capture `json:"captures,omitempty"`
	CreatesData bool      `json:"creates_data,omitempty"`
}

// Journey is an ordered workflow chosen to showcase one area of the
// target application. Lower Priority runs first; journeys that create
// data must sort before journeys that only read it.
type Journey struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	Steps       []Step `json:"steps"`
}

// CreatesData reports whether any step in the journey creates a record.
func (j Journey) CreatesData() bool {
	for _, s := range j.Steps {
		if s.CreatesData {
			return true
		}
	}
	return false
}

// ScreenKind classifies the captured surface.
type ScreenKind string

// Screen kinds persisted with each capture.
const (
	ScreenKindPage     ScreenKind = "page"
	ScreenKindModal    ScreenKind = "modal"
	ScreenKindTab      ScreenKind = "tab"
	ScreenKindDropdown ScreenKind = "dropdown"
)

// ScreenStatus is the lifecycle state of a captured screen.
type ScreenStatus string

// Screen lifecycle states.
const (
	ScreenStatusDiscovered ScreenStatus = "discovered"
	ScreenStatusCrawled    ScreenStatus = "crawled"
	ScreenStatusAnalyzed   ScreenStatus = "analyzed"
	ScreenStatusFailed     ScreenStatus = "failed"
)

// Screen is one persisted captured artifact tied to a job/journey/step.
// OrderIndex values form a gap-free strictly increasing sequence per job.
type Screen struct {
	ID              string       `json:"id"`
	JobID           string       `json:"job_id"`
	JourneyID       string       `json:"journey_id"`
	StepIndex       int          `json:"step_index"`
	URL             string       `json:"url"`
	Route           string       `json:"route"`
	Breadcrumb      string       `json:"breadcrumb,omitempty"`
	ScreenshotURL   string       `json:"screenshot_url,omitempty"`
	ThumbnailURL    string       `json:"thumbnail_url,omitempty"`
	DOM             string       `json:"dom,omitempty"`
	Kind            ScreenKind   `json:"kind"`
	CreatedEntityID string       `json:"created_entity_id,omitempty"`
	Status          ScreenStatus `json:"status"`
	OrderIndex      int          `json:"order_index"`
	CapturedAt      time.Time    `json:"captured_at"`
}

// MessageKind classifies a progress message.
type MessageKind string

// Progress message kinds streamed to the caller.
const (
	MessageInfo       MessageKind = "info"
	MessageScreenshot MessageKind = "screenshot"
	MessageQuestion   MessageKind = "question"
	MessageError      MessageKind = "error"
	MessageComplete   MessageKind = "complete"
)

// ProgressMessage is an append-only log entry tied to a job.
type ProgressMessage struct {
	ID            string      `json:"id"`
	JobID         string      `json:"job_id"`
	Kind          MessageKind `json:"kind"`
	Text          string      `json:"text"`
	ScreenshotURL string      `json:"screenshot_url,omitempty"`
	At            time.Time   `json:"at"`
}

// CrawlError records a step that failed without aborting the job.
type CrawlError struct {
	JourneyID string `json:"journey_id"`
	StepIndex int    `json:"step_index"`
	Action    string `json:"action"`
	Message   string `json:"message"`
}

// CrawlResult is what the crawl engine hands back to the orchestrator.
type CrawlResult struct {
	Screens       []Screen      `json:"screens"`
	Errors        []CrawlError  `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Route is one statically known navigation target of the target app.
type Route struct {
	Path         string `json:"path"`
	Title        string `json:"title,omitempty"`
	RequiresAuth bool   `json:"requires_auth,omitempty"`
}

// CrawlPlan is the static route metadata extracted from the target's
// source, used to resolve explicit navigation targets.
type CrawlPlan struct {
	Routes []Route `json:"routes"`
}

// HasRoute reports whether the plan covers the given path.
func (p CrawlPlan) HasRoute(path string) bool {
	for _, r := range p.Routes {
		if r.Path == path {
			return true
		}
	}
	return false
}

// RouteCheck is the discovery sweep's verdict on one static route.
type RouteCheck struct {
	Route         Route  `json:"route"`
	Loaded        bool   `json:"loaded"`
	StatusCode    int    `json:"status_code"`
	HasForms      bool   `json:"has_forms"`
	HasTables     bool   `json:"has_tables"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CodeAnalysis is the repository analyzer's output.
type CodeAnalysis struct {
	Summary string    `json:"summary"`
	Plan    CrawlPlan `json:"plan"`
}

// ProductSummary is the PRD analyzer's output.
type ProductSummary struct {
	Summary     string   `json:"summary"`
	KeyFeatures []string `json:"key_features,omitempty"`
}

// PlanRequest carries everything the journey planner needs.
type PlanRequest struct {
	Plan        CrawlPlan      `json:"plan"`
	Product     ProductSummary `json:"product"`
	RouteChecks []RouteCheck   `json:"route_checks,omitempty"`
	MaxJourneys int            `json:"max_journeys"`
}

// JourneyPlan is the planner's output: the journeys to run plus any
// the budget later pushes into the additional list.
type JourneyPlan struct {
	Journeys   []Journey `json:"journeys"`
	Additional []Journey `json:"additional,omitempty"`
}

// ScreenAnalysis is the downstream vision analyzer's verdict on one
// screen, consumed by the doc-generation stage.
type ScreenAnalysis struct {
	ScreenID   string   `json:"screen_id"`
	Title      string   `json:"title"`
	Purpose    string   `json:"purpose"`
	Elements   []string `json:"elements,omitempty"`
	Confidence float64  `json:"confidence"`
}
