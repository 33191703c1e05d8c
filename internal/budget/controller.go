// Package budget estimates crawl cost and enforces the prepaid credit
// gate. It is advisory before the crawl: it never interrupts a crawl
// mid-flight, and actual cost is reconciled at completion.
package budget

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// CostModel holds the per-component prices in cents.
type CostModel struct {
	FixedOverheadCents int
	PerJourneyCents    int
	PerScreenCents     int
	PerProseCents      int
	CrossCuttingCents  int
}

// DefaultCostModel mirrors the production pricing table.
var DefaultCostModel = CostModel{
	FixedOverheadCents: 65,
	PerJourneyCents:    20,
	PerScreenCents:     2,
	PerProseCents:      5,
	CrossCuttingCents:  10,
}

// CreditCheck is the result of a pre-creation balance lookup.
type CreditCheck struct {
	HasCredits bool
	Credits    int
}

// TrimResult is the outcome of fitting a journey plan into a balance.
type TrimResult struct {
	Kept                 []docs.Journey
	Additional           []docs.Journey
	FeaturesCutForBudget int
	EstimatedCents       int
}

// Controller prices jobs against a cost model and a credit store.
type Controller struct {
	model   CostModel
	credits docs.CreditStore
	logger  *zap.Logger
}

// New creates a Controller.
func New(model CostModel, credits docs.CreditStore, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{model: model, credits: credits, logger: logger}
}

// Estimate prices a plan of journeyCount journeys, each expected to
// yield screensPerJourney analyzed screens.
func (c *Controller) Estimate(journeyCount, screensPerJourney int) int {
	if journeyCount <= 0 {
		return c.model.FixedOverheadCents + c.model.CrossCuttingCents
	}
	perJourney := c.model.PerJourneyCents +
		c.model.PerProseCents +
		screensPerJourney*c.model.PerScreenCents
	return c.model.FixedOverheadCents + c.model.CrossCuttingCents + journeyCount*perJourney
}

// CheckCredits reads the user's remaining balance. Job creation must be
// refused when HasCredits is false.
func (c *Controller) CheckCredits(ctx context.Context, userID string) (CreditCheck, error) {
	cents, err := c.credits.Credits(ctx, userID)
	if err != nil {
		return CreditCheck{}, fmt.Errorf("read credits: %w", err)
	}
	return CreditCheck{HasCredits: cents > 0, Credits: cents}, nil
}

// TrimToBudget keeps the highest-priority prefix of the plan whose
// estimate fits within credits; the remainder is surfaced as
// "additional" items the caller may unlock separately. Journeys are
// ordered by ascending priority before trimming, so data-creating
// journeys (which the planner prioritizes first) survive cuts.
func (c *Controller) TrimToBudget(journeys []docs.Journey, screensPerJourney, credits int) TrimResult {
	sorted := append([]docs.Journey(nil), journeys...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	keep := len(sorted)
	for keep > 0 && c.Estimate(keep, screensPerJourney) > credits {
		keep--
	}

	res := TrimResult{
		Kept:                 sorted[:keep],
		Additional:           sorted[keep:],
		FeaturesCutForBudget: len(sorted) - keep,
		EstimatedCents:       c.Estimate(keep, screensPerJourney),
	}
	if res.FeaturesCutForBudget > 0 {
		c.logger.Info("journey plan trimmed for budget",
			zap.Int("planned", len(sorted)),
			zap.Int("kept", keep),
			zap.Int("credits_cents", credits),
			zap.Int("estimated_cents", res.EstimatedCents),
		)
	}
	return res
}

// Reconcile computes the actual cost of a finished job from what was
// really captured and analyzed.
func (c *Controller) Reconcile(journeysRun, screensAnalyzed int) int {
	return c.model.FixedOverheadCents + c.model.CrossCuttingCents +
		journeysRun*(c.model.PerJourneyCents+c.model.PerProseCents) +
		screensAnalyzed*c.model.PerScreenCents
}
