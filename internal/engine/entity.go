package engine

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	numericIDRe = regexp.MustCompile(`^[0-9]+$`)
	uuidIDRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	opaqueIDRe  = regexp.MustCompile(`^[0-9a-zA-Z_-]{12,}$`)
)

// ExtractEntityID infers the identifier of a freshly created entity
// from the URL transition a creating step produced. Apps conventionally
// land on the new entity's detail page, so a new trailing ID-looking
// path segment that was not present before the step is taken as the
// entity ID. Returns "" when no such segment appears.
func ExtractEntityID(beforeURL, afterURL string) string {
	before := pathSegments(beforeURL)
	after := pathSegments(afterURL)
	if len(after) == 0 {
		return ""
	}

	last := after[len(after)-1]
	if !looksLikeEntityID(last) {
		// Detail pages often end in a verb ("/projects/42/edit");
		// check the second-to-last segment too.
		if len(after) < 2 || !looksLikeEntityID(after[len(after)-2]) {
			return ""
		}
		last = after[len(after)-2]
	}

	for _, seg := range before {
		if seg == last {
			return ""
		}
	}
	return last
}

func pathSegments(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	var segs []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

func looksLikeEntityID(seg string) bool {
	if numericIDRe.MatchString(seg) || uuidIDRe.MatchString(seg) {
		return true
	}
	// Long opaque tokens (nanoid, hash slugs) count; short dictionary
	// words like "settings" or "new" do not.
	return opaqueIDRe.MatchString(seg) && strings.IndexFunc(seg, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
}
