package governor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// distillWindow bounds how far back distillation considers a session hot.
const distillWindow = 3 * 24 * time.Hour

// distillMinCluster is the smallest cluster worth a digest.
const distillMinCluster = 3

// Wording that separates durable knowledge from how-to traces.
var (
	semanticWordingRe   = regexp.MustCompile(`(?i)\b(decision|decided|must|rule|always|never|policy|because|chose|convention)\b`)
	proceduralWordingRe = regexp.MustCompile(`(?i)\b(run|install|command|step|how to|execute|script|deploy|build|flag)\b`)
)

// DistillSessions splits each hot session's memories into semantic and
// procedural clusters and writes one digest per cluster: semantic digests
// go long (they are knowledge), procedural go short (they are workflow).
// Digests link back to their sources with distill edges.
func (g *Governor) DistillSessions(projectID string) (int, error) {
	idx := g.svc.Store()
	sessions, err := idx.Sessions(projectID, g.now().Add(-distillWindow))
	if err != nil {
		return 0, err
	}

	created := 0
	for _, info := range sessions {
		rows, err := idx.ListBySession(info.ProjectID, info.SessionID)
		if err != nil {
			return created, err
		}

		var semantic, procedural []*store.Row
		distilledTag := "distilled-" + strings.ToLower(info.SessionID)
		already := false
		for _, row := range rows {
			for _, t := range row.Tags {
				if t == distilledTag {
					already = true
				}
			}
			if row.Kind == types.KindSummary {
				continue
			}
			text := row.Summary + " " + row.BodyText
			switch {
			case semanticWordingRe.MatchString(text):
				semantic = append(semantic, row)
			case proceduralWordingRe.MatchString(text):
				procedural = append(procedural, row)
			}
		}
		if already {
			continue
		}

		if len(semantic) >= distillMinCluster {
			if err := g.writeCluster(info, "semantic", types.LayerLong, semantic, distilledTag); err != nil {
				return created, err
			}
			created++
		}
		if len(procedural) >= distillMinCluster {
			if err := g.writeCluster(info, "procedural", types.LayerShort, procedural, distilledTag); err != nil {
				return created, err
			}
			created++
		}
	}

	if created > 0 {
		logging.Governor("distill: %d cluster digests created", created)
	}
	return created, nil
}

// writeCluster persists one cluster digest and its distill edges.
func (g *Governor) writeCluster(info store.SessionInfo, cluster string, layer types.Layer,
	rows []*store.Row, distilledTag string) error {

	var body strings.Builder
	refs := make([]types.Reference, 0, len(rows))
	for _, row := range rows {
		fmt.Fprintf(&body, "- %s\n", row.Summary)
		refs = append(refs, types.Reference{Type: "memory", Target: row.ID})
	}

	env, err := g.svc.Write(memory.WriteRequest{
		Layer:     layer,
		Kind:      types.KindSummary,
		Summary:   fmt.Sprintf("%s digest of session %s (%d items)", cluster, info.SessionID, len(rows)),
		Body:      body.String(),
		Tags:      []string{cluster + "-digest", distilledTag},
		Refs:      refs,
		SessionID: info.SessionID,
		ProjectID: info.ProjectID,
	})
	if err != nil {
		return err
	}

	now := g.now()
	idx := g.svc.Store()
	for _, src := range rows {
		_ = idx.UpsertLink(types.Link{
			SrcID: env.ID, DstID: src.ID, Weight: 0.7, Kind: types.LinkDistill,
		}, now)
	}
	return nil
}
