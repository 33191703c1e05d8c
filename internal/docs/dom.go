package docs

import (
	"regexp"
	"strings"
)

var (
	scriptRe   = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleRe    = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	svgRe      = regexp.MustCompile(`(?is)<svg\b[^>]*>.*?</svg>`)
	noscriptRe = regexp.MustCompile(`(?is)<noscript\b[^>]*>.*?</noscript>`)
	commentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// DefaultDOMTokenBudget bounds the cleaned snapshot handed to the
// analysis collaborators.
const DefaultDOMTokenBudget = 3000

// CleanDOM strips scripts, styles, SVG bodies and comments from a raw
// HTML snapshot, collapses whitespace, and truncates the result to
// roughly tokenBudget whitespace-separated tokens. A tokenBudget <= 0
// uses DefaultDOMTokenBudget.
func CleanDOM(raw string, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = DefaultDOMTokenBudget
	}
	cleaned := scriptRe.ReplaceAllString(raw, "")
	cleaned = styleRe.ReplaceAllString(cleaned, "")
	cleaned = svgRe.ReplaceAllString(cleaned, "")
	cleaned = noscriptRe.ReplaceAllString(cleaned, "")
	cleaned = commentRe.ReplaceAllString(cleaned, "")
	cleaned = spaceRe.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	tokens := strings.Fields(cleaned)
	if len(tokens) <= tokenBudget {
		return cleaned
	}
	return strings.Join(tokens[:tokenBudget], " ")
}
