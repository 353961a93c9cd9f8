package governor

import (
	"fmt"
	"strings"

	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// reflectMinSessions is how many distinct sessions a topic must span
// before it counts as recurring.
const reflectMinSessions = 3

// reflectBatch bounds reflections written per pass.
const reflectBatch = 5

// Reflect looks for topics that recur across sessions yet are rarely
// retrieved, and writes one summary memory per such topic. The reflection
// makes the recurring pattern findable even though its instances never
// earned reuse individually.
func (g *Governor) Reflect(projectID string, windowDays int) (int, error) {
	idx := g.svc.Store()
	since := g.now().AddDate(0, 0, -windowDays)

	stats, err := idx.TagsAcrossSessions(projectID, since, reflectMinSessions)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, st := range stats {
		if created >= reflectBatch {
			break
		}
		if st.MeanReuse >= g.cfg.Governor.ReflectMeanReuse {
			continue
		}
		if strings.HasPrefix(st.Tag, "digest-") || strings.HasPrefix(st.Tag, "distilled-") ||
			st.Tag == "session-digest" || st.Tag == "reflection" || st.Tag == "system" {
			continue
		}
		if g.hasReflection(projectID, st.Tag) {
			continue
		}

		_, err := g.svc.Write(memory.WriteRequest{
			Layer: types.LayerLong,
			Kind:  types.KindSummary,
			Summary: fmt.Sprintf("Recurring topic %q across %d sessions, rarely retrieved",
				st.Tag, st.Sessions),
			Body: fmt.Sprintf(
				"The tag %q appeared in %d distinct sessions in the last %d days with a mean reuse of %.1f.\n"+
					"Work on this topic keeps restarting without its history surfacing. "+
					"Consider consolidating these memories or raising their importance.",
				st.Tag, st.Sessions, windowDays, st.MeanReuse),
			Tags:      []string{"reflection", "reflection-" + st.Tag},
			ProjectID: projectID,
		})
		if err != nil {
			return created, err
		}
		created++
	}

	if created > 0 {
		logging.Governor("reflect: %d recurring-topic summaries", created)
	}
	return created, nil
}

// hasReflection checks whether a reflection for the tag already exists.
func (g *Governor) hasReflection(projectID, tag string) bool {
	hits, err := g.svc.Store().SearchSubstring("recurring topic \""+tag+"\"",
		store.Filter{ProjectID: projectID}, 1)
	if err != nil || len(hits) == 0 {
		// Fall back to the marker tag.
		counts, cerr := g.svc.Store().TagCounts(store.Filter{ProjectID: projectID, IncludeArchive: true},
			g.now().AddDate(0, 0, -90))
		if cerr != nil {
			return false
		}
		return counts["reflection-"+tag] > 0
	}
	return true
}
