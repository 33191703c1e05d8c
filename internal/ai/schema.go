package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// SchemaError reports a model reply that does not match the expected
// response shape. Callers treat it as a stage failure for the job.
type SchemaError struct {
	Schema string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("reply does not match schema %s: %s", e.Schema, e.Reason)
}

// extractJSON pulls the first balanced JSON value opening with `open`
// out of a reply that may wrap it in prose or a markdown fence.
func extractJSON(reply string, open, close byte) (string, error) {
	start := strings.IndexByte(reply, open)
	if start == -1 {
		return "", fmt.Errorf("no %q found in reply", string(open))
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(reply); i++ {
		c := reply[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return reply[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced %q in reply", string(open))
}

func decodeObject(reply, schema string, out any) error {
	raw, err := extractJSON(reply, '{', '}')
	if err != nil {
		return &SchemaError{Schema: schema, Reason: err.Error()}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &SchemaError{Schema: schema, Reason: err.Error()}
	}
	return nil
}

func decodeArray(reply, schema string, out any) error {
	raw, err := extractJSON(reply, '[', ']')
	if err != nil {
		return &SchemaError{Schema: schema, Reason: err.Error()}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &SchemaError{Schema: schema, Reason: err.Error()}
	}
	return nil
}

type routeV1 struct {
	Path         string `json:"path"`
	Title        string `json:"title"`
	RequiresAuth bool   `json:"requires_auth"`
}

type codeAnalysisV1 struct {
	Summary string    `json:"summary"`
	Routes  []routeV1 `json:"routes"`
}

func parseCodeAnalysis(reply string) (docs.CodeAnalysis, error) {
	const schema = "code_analysis/v1"
	var wire codeAnalysisV1
	if err := decodeObject(reply, schema, &wire); err != nil {
		return docs.CodeAnalysis{}, err
	}
	if wire.Summary == "" {
		return docs.CodeAnalysis{}, &SchemaError{Schema: schema, Reason: "missing summary"}
	}
	if len(wire.Routes) == 0 {
		return docs.CodeAnalysis{}, &SchemaError{Schema: schema, Reason: "no routes"}
	}
	out := docs.CodeAnalysis{Summary: wire.Summary}
	for _, r := range wire.Routes {
		if r.Path == "" {
			return docs.CodeAnalysis{}, &SchemaError{Schema: schema, Reason: "route with empty path"}
		}
		out.Plan.Routes = append(out.Plan.Routes, docs.Route{
			Path:         r.Path,
			Title:        r.Title,
			RequiresAuth: r.RequiresAuth,
		})
	}
	return out, nil
}

type productSummaryV1 struct {
	Summary     string   `json:"summary"`
	KeyFeatures []string `json:"key_features"`
}

func parseProductSummary(reply string) (docs.ProductSummary, error) {
	const schema = "product_summary/v1"
	var wire productSummaryV1
	if err := decodeObject(reply, schema, &wire); err != nil {
		return docs.ProductSummary{}, err
	}
	if wire.Summary == "" {
		return docs.ProductSummary{}, &SchemaError{Schema: schema, Reason: "missing summary"}
	}
	return docs.ProductSummary{Summary: wire.Summary, KeyFeatures: wire.KeyFeatures}, nil
}

type stepV1 struct {
	Action      string   `json:"action"`
	TargetRoute string   `json:"target_route"`
	Interaction string   `json:"interaction"`
	Captures    []string `json:"captures"`
	CreatesData bool     `json:"creates_data"`
}

type journeyV1 struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Steps       []stepV1 `json:"steps"`
}

type journeyPlanV1 struct {
	Journeys []journeyV1 `json:"journeys"`
}

func parseJourneyPlan(reply string) (docs.JourneyPlan, error) {
	const schema = "journey_plan/v1"
	var wire journeyPlanV1
	if err := decodeObject(reply, schema, &wire); err != nil {
		return docs.JourneyPlan{}, err
	}
	if len(wire.Journeys) == 0 {
		return docs.JourneyPlan{}, &SchemaError{Schema: schema, Reason: "no journeys"}
	}
	var plan docs.JourneyPlan
	for i, wj := range wire.Journeys {
		if wj.Title == "" {
			return docs.JourneyPlan{}, &SchemaError{Schema: schema, Reason: fmt.Sprintf("journey %d missing title", i)}
		}
		if len(wj.Steps) == 0 {
			return docs.JourneyPlan{}, &SchemaError{Schema: schema, Reason: fmt.Sprintf("journey %q has no steps", wj.Title)}
		}
		j := docs.Journey{
			ID:          wj.ID,
			Title:       wj.Title,
			Description: wj.Description,
			Priority:    wj.Priority,
		}
		if j.ID == "" {
			j.ID = fmt.Sprintf("journey-%d", i+1)
		}
		if j.Priority == 0 {
			j.Priority = i + 1
		}
		for si, ws := range wj.Steps {
			if ws.Action == "" {
				return docs.JourneyPlan{}, &SchemaError{
					Schema: schema,
					Reason: fmt.Sprintf("journey %q step %d missing action", wj.Title, si),
				}
			}
			step := docs.Step{
				Action:      ws.Action,
				TargetRoute: ws.TargetRoute,
				Interaction: ws.Interaction,
				CreatesData: ws.CreatesData,
			}
			for _, raw := range ws.Captures {
				capture, err := docs.ParseCapture(raw)
				if err != nil {
					return docs.JourneyPlan{}, &SchemaError{
						Schema: schema,
						Reason: fmt.Sprintf("journey %q step %d: %v", wj.Title, si, err),
					}
				}
				step.Captures = append(step.Captures, capture)
			}
			j.Steps = append(j.Steps, step)
		}
		plan.Journeys = append(plan.Journeys, j)
	}
	return plan, nil
}

type screenAnalysisV1 struct {
	Title      string   `json:"title"`
	Purpose    string   `json:"purpose"`
	Elements   []string `json:"elements"`
	Confidence float64  `json:"confidence"`
}

func parseScreenAnalysis(reply string) (docs.ScreenAnalysis, error) {
	const schema = "screen_analysis/v1"
	var wire screenAnalysisV1
	if err := decodeObject(reply, schema, &wire); err != nil {
		return docs.ScreenAnalysis{}, err
	}
	if wire.Title == "" && wire.Purpose == "" {
		return docs.ScreenAnalysis{}, &SchemaError{Schema: schema, Reason: "missing title and purpose"}
	}
	if wire.Confidence < 0 || wire.Confidence > 1 {
		return docs.ScreenAnalysis{}, &SchemaError{Schema: schema, Reason: "confidence outside [0,1]"}
	}
	return docs.ScreenAnalysis{
		Title:      wire.Title,
		Purpose:    wire.Purpose,
		Elements:   wire.Elements,
		Confidence: wire.Confidence,
	}, nil
}

type actionV1 struct {
	Type     string `json:"type"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Key      string `json:"key"`
}

var validActionTypes = map[string]bool{
	docs.ActionClick:  true,
	docs.ActionType:   true,
	docs.ActionSelect: true,
	docs.ActionHover:  true,
	docs.ActionPress:  true,
	docs.ActionScroll: true,
}

func parseActions(reply string) ([]docs.BrowserAction, error) {
	const schema = "browser_actions/v1"
	var wire []actionV1
	if err := decodeArray(reply, schema, &wire); err != nil {
		return nil, err
	}
	if len(wire) == 0 {
		return nil, &SchemaError{Schema: schema, Reason: "no actions"}
	}
	out := make([]docs.BrowserAction, 0, len(wire))
	for i, wa := range wire {
		if !validActionTypes[wa.Type] {
			return nil, &SchemaError{Schema: schema, Reason: fmt.Sprintf("action %d has unknown type %q", i, wa.Type)}
		}
		if wa.Type != docs.ActionScroll && wa.Type != docs.ActionPress && wa.Selector == "" {
			return nil, &SchemaError{Schema: schema, Reason: fmt.Sprintf("action %d (%s) missing selector", i, wa.Type)}
		}
		out = append(out, docs.BrowserAction{Type: wa.Type, Selector: wa.Selector, Text: wa.Text, Key: wa.Key})
	}
	return out, nil
}

func parseRoutes(reply string) ([]docs.Route, error) {
	const schema = "nav_routes/v1"
	var wire []routeV1
	if err := decodeArray(reply, schema, &wire); err != nil {
		return nil, err
	}
	out := make([]docs.Route, 0, len(wire))
	for i, r := range wire {
		if r.Path == "" {
			return nil, &SchemaError{Schema: schema, Reason: fmt.Sprintf("route %d has empty path", i)}
		}
		out = append(out, docs.Route{Path: r.Path, Title: r.Title, RequiresAuth: r.RequiresAuth})
	}
	return out, nil
}
