package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

const systemPrompt = `You are the analysis engine of a documentation crawler for web
applications. You answer with JSON only, in exactly the shape each task
describes. No markdown fences, no commentary outside the JSON value.`

const proseSystemPrompt = `You are a technical writer producing end-user documentation for a web
application. Write clear markdown prose for the journey you are given.
Refer to screens by their titles. Do not invent features that are not
in the screen analyses.`

func buildCodeAnalysisPrompt(repoURL string) string {
	return fmt.Sprintf(`Analyze the web application whose source repository is at:

%s

Identify the user-facing routes the application serves.

Respond with a JSON object:
{
  "summary": "<one-paragraph summary of what the application does>",
  "routes": [
    {"path": "/route", "title": "Human name", "requires_auth": true}
  ]
}`, repoURL)
}

func buildProductSummaryPrompt(description string) string {
	return fmt.Sprintf(`Summarize this product description for a documentation crawler.

---
%s
---

Respond with a JSON object:
{
  "summary": "<concise summary>",
  "key_features": ["feature", "..."]
}`, description)
}

func buildJourneyPlanPrompt(req docs.PlanRequest) (string, error) {
	planJSON, err := json.MarshalIndent(req.Plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crawl plan: %w", err)
	}
	productJSON, err := json.MarshalIndent(req.Product, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal product summary: %w", err)
	}
	checksJSON, err := json.MarshalIndent(req.RouteChecks, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal route checks: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan user journeys for documenting a web application.\n\n")
	fmt.Fprintf(&b, "Route plan:\n%s\n\n", planJSON)
	fmt.Fprintf(&b, "Product context:\n%s\n\n", productJSON)
	fmt.Fprintf(&b, "Pre-crawl route checks (which routes actually load, and whether they show forms or tables):\n%s\n\n", checksJSON)
	if req.MaxJourneys > 0 {
		fmt.Fprintf(&b, "Return at most %d journeys.\n", req.MaxJourneys)
	}
	b.WriteString(`Order journeys so that data-creating journeys (lower priority number)
run before journeys that browse or read that data. Each step: action is
a short human-readable description; target_route is a route path to
navigate to first, or "` + docs.TargetCurrentPage + `" to stay on
whatever page the browser is already on; interaction is a
natural-language browser instruction to perform after arriving (empty
when the step only navigates and captures). Captures name what to
screenshot after the step, as "kind:name" where kind is one of
full_page, modal, tab, dropdown.

Respond with a JSON object:
{
  "journeys": [
    {
      "id": "create-project",
      "title": "Create a project",
      "description": "...",
      "priority": 1,
      "steps": [
        {
          "action": "Open the new-project dialog",
          "target_route": "/projects",
          "interaction": "click the New Project button",
          "captures": ["modal:new-project"],
          "creates_data": true
        }
      ]
    }
  ]
}`)
	return b.String(), nil
}

func buildScreenAnalysisPrompt(screen docs.Screen) string {
	return fmt.Sprintf(`Analyze this captured application screen.

URL: %s
Route: %s
Breadcrumb: %s
Kind: %s

Cleaned DOM:
---
%s
---

Respond with a JSON object:
{
  "title": "<short screen title>",
  "purpose": "<what the user accomplishes here>",
  "elements": ["notable element", "..."],
  "confidence": 0.0
}
confidence is your 0..1 confidence in the analysis.`,
		screen.URL, screen.Route, screen.Breadcrumb, screen.Kind, screen.DOM)
}

func buildComposePrompt(journey docs.Journey, analyses []docs.ScreenAnalysis) (string, error) {
	analysesJSON, err := json.MarshalIndent(analyses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal screen analyses: %w", err)
	}
	return fmt.Sprintf(`Write the documentation section for this user journey.

Journey: %s
%s

Screen analyses, in capture order:
%s

Produce markdown: a level-2 heading with the journey title, then prose
walking the user through the journey screen by screen.`,
		journey.Title, journey.Description, analysesJSON), nil
}

func buildResolvePrompt(instruction string, page docs.PageContext) (string, error) {
	pageJSON, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal page context: %w", err)
	}
	return fmt.Sprintf(`Resolve this instruction into browser actions against the current page.

Instruction: %s

Page:
%s

Respond with a JSON array of actions, in execution order:
[
  {"type": "click", "selector": "#new-project"},
  {"type": "type", "selector": "input[name=email]", "text": "..."},
  {"type": "select", "selector": "select#role", "text": "Admin"},
  {"type": "hover", "selector": ".menu"},
  {"type": "press", "key": "Enter"},
  {"type": "scroll"}
]
Use only selectors present in the page's elements.`, instruction, pageJSON), nil
}

func buildNavDiscoveryPrompt(page docs.PageContext) (string, error) {
	pageJSON, err := json.MarshalIndent(page, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal page context: %w", err)
	}
	return fmt.Sprintf(`List the in-app navigation targets visible on this page.

Page:
%s

Respond with a JSON array:
[
  {"path": "/settings", "title": "Settings", "requires_auth": true}
]
Only include same-application destinations, not external links.`, pageJSON), nil
}
