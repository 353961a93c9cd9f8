package retrieval

import (
	"sort"
	"time"

	"omnimem/internal/store"
	"omnimem/internal/types"
)

const (
	// profileWeight scales the tag-similarity bonus.
	profileWeight = 0.10
	// profileTopN is how many dominant tags form the user profile.
	profileTopN = 8
	// profileWindow is the lookback for profile tag counting.
	profileWindow = 30 * 24 * time.Hour

	// driftRecentWindow vs driftBaselineWindow split the tag history for
	// drift scoring.
	driftRecentWindow   = 2 * 24 * time.Hour
	driftBaselineWindow = 30 * 24 * time.Hour
	// driftBiasThreshold is the drift score above which retrieval goes
	// shallower and fresher.
	driftBiasThreshold = 0.6
)

// profileTags returns the user's dominant tags over the profile window.
func (e *Engine) profileTags(scope types.Scope) []string {
	counts, err := e.svc.Store().TagCounts(
		store.Filter{ProjectID: scope.ProjectID, IncludeArchive: true},
		e.now().Add(-profileWindow))
	if err != nil || len(counts) == 0 {
		return nil
	}
	type tc struct {
		tag string
		n   int
	}
	list := make([]tc, 0, len(counts))
	for tag, n := range counts {
		list = append(list, tc{tag, n})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].n != list[j].n {
			return list[i].n > list[j].n
		}
		return list[i].tag < list[j].tag
	})
	if len(list) > profileTopN {
		list = list[:profileTopN]
	}
	tags := make([]string, len(list))
	for i, t := range list {
		tags[i] = t.tag
	}
	return tags
}

// driftScore compares the recent tag distribution against the baseline
// window: 1 - cosine similarity. A score near 1 means the working topic has
// moved away from what the store knows.
func (e *Engine) driftScore(scope types.Scope) (float64, error) {
	idx := e.svc.Store()
	now := e.now()
	filter := store.Filter{ProjectID: scope.ProjectID}

	recent, err := idx.TagCounts(filter, now.Add(-driftRecentWindow))
	if err != nil {
		return 0, err
	}
	baseline, err := idx.TagCounts(filter, now.Add(-driftBaselineWindow))
	if err != nil {
		return 0, err
	}
	if len(recent) == 0 || len(baseline) == 0 {
		return 0, nil
	}
	return 1 - CosineCounts(recent, baseline), nil
}

// ExcludedFromRetrieval reports whether a row can never be returned:
// retrieval traces and, by default, the reserved system memory.
func ExcludedFromRetrieval(row *store.Row) bool {
	return row.Kind == types.KindRetrieve || row.ID == types.SystemMemoryID
}
