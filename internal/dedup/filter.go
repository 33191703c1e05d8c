// Package dedup decides whether a freshly captured page is a near
// duplicate of one already persisted for the same job, so journeys
// revisiting the same screen do not inflate the cap or the budget.
package dedup

import (
	"strings"
	"sync"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// DefaultThreshold is the similarity above which a capture is treated
// as a duplicate. Tunable per deployment; near-duplicate false
// positives on screens sharing heavy chrome are the known trade-off.
const DefaultThreshold = 0.95

// Filter tracks cleaned-DOM fingerprints per job. Safe for concurrent
// use across jobs; within a job the engine calls it sequentially.
type Filter struct {
	threshold float64
	hasher    docs.Hasher

	mu    sync.Mutex
	seen  map[string][]map[string]int
	exact map[string]map[string]struct{}
}

// New creates a Filter. A threshold outside (0, 1] falls back to
// DefaultThreshold. The hasher, when non-nil, enables an exact-match
// short circuit before the token similarity pass.
func New(threshold float64, hasher docs.Hasher) *Filter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Filter{
		threshold: threshold,
		hasher:    hasher,
		seen:      make(map[string][]map[string]int),
		exact:     make(map[string]map[string]struct{}),
	}
}

// IsDuplicate reports whether the cleaned DOM is more similar than the
// threshold to any previously recorded snapshot for the job. Novel
// snapshots are recorded as a side effect.
func (f *Filter) IsDuplicate(jobID, cleanedDOM string) bool {
	fp := fingerprint(cleanedDOM)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hasher != nil {
		if digest, err := f.hasher.Hash([]byte(cleanedDOM)); err == nil {
			if _, ok := f.exact[jobID][digest]; ok {
				return true
			}
			if f.exact[jobID] == nil {
				f.exact[jobID] = make(map[string]struct{})
			}
			f.exact[jobID][digest] = struct{}{}
		}
	}

	for _, prior := range f.seen[jobID] {
		if similarity(fp, prior) > f.threshold {
			return true
		}
	}
	f.seen[jobID] = append(f.seen[jobID], fp)
	return false
}

// Forget releases the fingerprints held for a job.
func (f *Filter) Forget(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, jobID)
	delete(f.exact, jobID)
}

func fingerprint(dom string) map[string]int {
	tokens := strings.Fields(strings.ToLower(dom))
	fp := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		fp[tok]++
	}
	return fp
}

// similarity is weighted Jaccard over token multisets: shared token
// mass divided by total token mass.
func similarity(a, b map[string]int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	var intersect, union int
	for tok, ca := range a {
		cb := b[tok]
		intersect += min(ca, cb)
		union += max(ca, cb)
	}
	for tok, cb := range b {
		if _, ok := a[tok]; !ok {
			union += cb
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}
