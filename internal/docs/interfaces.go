package docs

import (
	"context"
	"time"
)

// JobStore persists jobs and their stage transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// AdvanceStage persists a forward stage transition together with a
	// progress snapshot, atomically from the observer's point of view.
	AdvanceStage(ctx context.Context, jobID string, stage JobStatus, progress Progress) error
	UpdateBudget(ctx context.Context, jobID string, budget Budget) error
	FailJob(ctx context.Context, jobID string, errText string) error
	CompleteJob(ctx context.Context, jobID string, resultURL string, quality float64, flagged bool, actualCents int) error
	// ScrubCredentials erases the stored credentials once the crawl
	// stage no longer needs them.
	ScrubCredentials(ctx context.Context, jobID string) error
}

// ScreenStore persists captured screens.
type ScreenStore interface {
	InsertScreen(ctx context.Context, screen Screen) error
	UpdateScreenStatus(ctx context.Context, screenID string, status ScreenStatus) error
	ListScreens(ctx context.Context, jobID string) ([]Screen, error)
	CountScreens(ctx context.Context, jobID string) (int, error)
}

// ProgressStore persists the append-only progress message log.
type ProgressStore interface {
	AppendMessage(ctx context.Context, msg ProgressMessage) error
	ListMessages(ctx context.Context, jobID string, limit int) ([]ProgressMessage, error)
}

// CreditStore reads and debits a user's prepaid balance, in cents.
type CreditStore interface {
	Credits(ctx context.Context, userID string) (int, error)
	Debit(ctx context.Context, userID string, cents int) error
}

// BlobStore writes raw artifacts and returns a retrievable URL.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Submitted int64
}

// Queue provides enqueue/dequeue semantics for pending jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes terminal-state notifications downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() string
}

// Hasher computes digests for object naming and deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// PageElement is one interactive element visible on the rendered page.
type PageElement struct {
	Selector    string `json:"selector"`
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Name        string `json:"name,omitempty"`
	Href        string `json:"href,omitempty"`
}

// PageContext is a structured observation of the rendered page, given
// to the AI collaborators so they can ground instructions in it.
type PageContext struct {
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	Elements []PageElement `json:"elements"`
}

// ActionOutcome is what Drive reports after executing an instruction.
type ActionOutcome struct {
	CurrentURL string
	Performed  []string
}

// Viewport is the fixed capture size for a session.
type Viewport struct {
	Width  int
	Height int
}

// Driver is one exclusive browser automation session. Instructions are
// natural language; the driver resolves them against the rendered page
// rather than against hardcoded selectors. Implementations must be
// released via Close on every exit path.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Drive executes a natural-language instruction ("click the Save
	// button", "fill the invited member's email with x") against the
	// current page.
	Drive(ctx context.Context, instruction string) (ActionOutcome, error)
	// Settle waits for network activity to quiesce up to max, falling
	// back to a fixed delay when idle detection never fires.
	Settle(ctx context.Context, idle, max time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	DOM(ctx context.Context) (string, error)
	Observe(ctx context.Context) (PageContext, error)
	Close(ctx context.Context) error
}

// DriverFactory opens a fresh per-job session.
type DriverFactory interface {
	NewSession(ctx context.Context, viewport Viewport) (Driver, error)
}

// CodeAnalyzer extracts a route plan and summary from a repository.
type CodeAnalyzer interface {
	AnalyzeCode(ctx context.Context, repoURL string) (CodeAnalysis, error)
}

// ProductAnalyzer summarizes the caller's product description / PRD.
type ProductAnalyzer interface {
	SummarizeProduct(ctx context.Context, description string) (ProductSummary, error)
}

// JourneyPlanner turns routes + product context into ordered journeys.
type JourneyPlanner interface {
	PlanJourneys(ctx context.Context, req PlanRequest) (JourneyPlan, error)
}

// ScreenAnalyzer produces structured page analysis for one screen.
type ScreenAnalyzer interface {
	AnalyzeScreen(ctx context.Context, screen Screen) (ScreenAnalysis, error)
}

// DocComposer writes the prose for one journey's documentation section.
type DocComposer interface {
	ComposeSection(ctx context.Context, journey Journey, analyses []ScreenAnalysis) (string, error)
}

// ActionResolver maps a natural-language instruction to concrete
// browser actions against the observed page.
type ActionResolver interface {
	ResolveActions(ctx context.Context, instruction string, page PageContext) ([]BrowserAction, error)
}

// NavigationFinder enumerates candidate in-app navigation targets on
// the current page. Degraded-mode substitute for a static route plan.
type NavigationFinder interface {
	DiscoverNavigation(ctx context.Context, page PageContext) ([]Route, error)
}

// BrowserAction is one concrete resolved action.
type BrowserAction struct {
	Type     string `json:"type"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Key      string `json:"key,omitempty"`
}

// Supported BrowserAction types.
const (
	ActionClick  = "click"
	ActionType   = "type"
	ActionSelect = "select"
	ActionHover  = "hover"
	ActionPress  = "press"
	ActionScroll = "scroll"
)
