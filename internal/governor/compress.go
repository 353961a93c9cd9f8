package governor

import (
	"fmt"
	"strings"
	"time"

	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// compressWindow is how far back compression looks for sessions.
const compressWindow = 14 * 24 * time.Hour

// sessionDigestTag marks a session's compression digest; its presence is
// the idempotence guard.
func sessionDigestTag(sessionID string) string {
	return "digest-" + strings.ToLower(sessionID)
}

// CompressSessions creates one summary memory per session that accumulated
// at least the configured minimum of non-retrieve memories and has no
// digest yet. Sources stay; the digest references them and gains distill
// edges so retrieval can hop from the digest into the detail.
func (g *Governor) CompressSessions(projectID string) (int, error) {
	idx := g.svc.Store()
	sessions, err := idx.Sessions(projectID, g.now().Add(-compressWindow))
	if err != nil {
		return 0, err
	}

	created := 0
	for _, info := range sessions {
		if info.Count < g.cfg.Governor.CompressMinItems {
			continue
		}
		rows, err := idx.ListBySession(info.ProjectID, info.SessionID)
		if err != nil {
			return created, err
		}
		if g.hasDigest(rows, info.SessionID) {
			continue
		}

		env, err := g.writeDigest(info, rows)
		if err != nil {
			return created, err
		}
		now := g.now()
		for _, src := range rows {
			_ = idx.UpsertLink(types.Link{
				SrcID: env.ID, DstID: src.ID, Weight: 0.6, Kind: types.LinkDistill,
			}, now)
		}
		created++
	}

	if created > 0 {
		logging.Governor("compress: %d session digests created", created)
	}
	return created, nil
}

// hasDigest reports whether any row in the session already is the digest.
func (g *Governor) hasDigest(rows []*store.Row, sessionID string) bool {
	tag := sessionDigestTag(sessionID)
	for _, row := range rows {
		for _, t := range row.Tags {
			if t == tag {
				return true
			}
		}
	}
	return false
}

// writeDigest builds the summary memory for one session.
func (g *Governor) writeDigest(info store.SessionInfo, rows []*store.Row) (*types.Envelope, error) {
	var body strings.Builder
	refs := make([]types.Reference, 0, len(rows))
	kinds := map[types.Kind]int{}
	for _, row := range rows {
		fmt.Fprintf(&body, "- [%s/%s] %s\n", row.Layer, row.Kind, row.Summary)
		refs = append(refs, types.Reference{Type: "memory", Target: row.ID})
		kinds[row.Kind]++
	}

	summary := fmt.Sprintf("Session %s: %d memories", info.SessionID, len(rows))
	if kinds[types.KindDecision] > 0 {
		summary += fmt.Sprintf(", %d decisions", kinds[types.KindDecision])
	}

	return g.svc.Write(memory.WriteRequest{
		Layer:     types.LayerShort,
		Kind:      types.KindSummary,
		Summary:   summary,
		Body:      body.String(),
		Tags:      []string{"session-digest", sessionDigestTag(info.SessionID)},
		Refs:      refs,
		SessionID: info.SessionID,
		ProjectID: info.ProjectID,
	})
}
