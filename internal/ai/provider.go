// Package ai implements the LLM-backed collaborators: repository and
// PRD analysis, journey planning, navigation discovery, instruction
// resolution, screen analysis, and documentation prose.
//
// Every prompt/response pair is treated as a versioned schema at the
// system boundary: responses are shape-validated before any field is
// trusted, and a shape mismatch surfaces as a SchemaError (a stage
// failure) instead of a crash deep in processing.
package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// Backend is the raw text-completion surface a model vendor provides.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Provider implements the docs.* analyzer interfaces on top of a
// vendor Backend.
type Provider struct {
	backend Backend
	logger  *zap.Logger
}

// New creates a Provider over the given backend.
func New(backend Backend, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{backend: backend, logger: logger}
}

// NewFromVendor builds a Provider for a named vendor ("openai" or
// "claude"/"anthropic"), mirroring the configuration switch used at
// startup.
func NewFromVendor(vendor, model string, logger *zap.Logger) (*Provider, error) {
	switch vendor {
	case "openai", "gpt":
		backend, err := NewOpenAIBackend(model)
		if err != nil {
			return nil, err
		}
		return New(backend, logger), nil
	case "claude", "anthropic":
		backend, err := NewClaudeBackend(model)
		if err != nil {
			return nil, err
		}
		return New(backend, logger), nil
	default:
		return nil, fmt.Errorf("unknown ai vendor %q (supported: openai, claude)", vendor)
	}
}

// AnalyzeCode extracts a route plan and summary from a repository.
func (p *Provider) AnalyzeCode(ctx context.Context, repoURL string) (docs.CodeAnalysis, error) {
	reply, err := p.backend.Complete(ctx, systemPrompt, buildCodeAnalysisPrompt(repoURL))
	if err != nil {
		return docs.CodeAnalysis{}, fmt.Errorf("code analysis completion: %w", err)
	}
	return parseCodeAnalysis(reply)
}

// SummarizeProduct condenses a PRD / product description.
func (p *Provider) SummarizeProduct(ctx context.Context, description string) (docs.ProductSummary, error) {
	reply, err := p.backend.Complete(ctx, systemPrompt, buildProductSummaryPrompt(description))
	if err != nil {
		return docs.ProductSummary{}, fmt.Errorf("product summary completion: %w", err)
	}
	return parseProductSummary(reply)
}

// PlanJourneys produces the ordered journey plan.
func (p *Provider) PlanJourneys(ctx context.Context, req docs.PlanRequest) (docs.JourneyPlan, error) {
	prompt, err := buildJourneyPlanPrompt(req)
	if err != nil {
		return docs.JourneyPlan{}, err
	}
	reply, err := p.backend.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return docs.JourneyPlan{}, fmt.Errorf("journey plan completion: %w", err)
	}
	plan, err := parseJourneyPlan(reply)
	if err != nil {
		return docs.JourneyPlan{}, err
	}
	if req.MaxJourneys > 0 && len(plan.Journeys) > req.MaxJourneys {
		plan.Additional = append(plan.Journeys[req.MaxJourneys:], plan.Additional...)
		plan.Journeys = plan.Journeys[:req.MaxJourneys]
	}
	return plan, nil
}

// AnalyzeScreen produces structured page analysis for one screen.
func (p *Provider) AnalyzeScreen(ctx context.Context, screen docs.Screen) (docs.ScreenAnalysis, error) {
	reply, err := p.backend.Complete(ctx, systemPrompt, buildScreenAnalysisPrompt(screen))
	if err != nil {
		return docs.ScreenAnalysis{}, fmt.Errorf("screen analysis completion: %w", err)
	}
	analysis, err := parseScreenAnalysis(reply)
	if err != nil {
		return docs.ScreenAnalysis{}, err
	}
	analysis.ScreenID = screen.ID
	return analysis, nil
}

// ComposeSection writes the documentation prose for one journey.
func (p *Provider) ComposeSection(ctx context.Context, journey docs.Journey, analyses []docs.ScreenAnalysis) (string, error) {
	prompt, err := buildComposePrompt(journey, analyses)
	if err != nil {
		return "", err
	}
	reply, err := p.backend.Complete(ctx, proseSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("prose completion: %w", err)
	}
	if reply == "" {
		return "", &SchemaError{Schema: "prose/v1", Reason: "empty reply"}
	}
	return reply, nil
}

// ResolveActions maps a natural-language instruction to concrete
// browser actions against the observed page.
func (p *Provider) ResolveActions(ctx context.Context, instruction string, page docs.PageContext) ([]docs.BrowserAction, error) {
	prompt, err := buildResolvePrompt(instruction, page)
	if err != nil {
		return nil, err
	}
	reply, err := p.backend.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("action resolution completion: %w", err)
	}
	return parseActions(reply)
}

// DiscoverNavigation enumerates visible navigation targets.
func (p *Provider) DiscoverNavigation(ctx context.Context, page docs.PageContext) ([]docs.Route, error) {
	prompt, err := buildNavDiscoveryPrompt(page)
	if err != nil {
		return nil, err
	}
	reply, err := p.backend.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("nav discovery completion: %w", err)
	}
	return parseRoutes(reply)
}
