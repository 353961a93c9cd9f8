// Package weaver derives the association graph between memories. It scores
// pairwise affinity from tags, session co-occurrence, temporal proximity,
// and lexical overlap, and persists only the edges strong enough to matter.
package weaver

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/retrieval"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// Weaver computes derived links over the indexed view.
type Weaver struct {
	cfg *config.Config
	svc *memory.Service
	now func() time.Time
}

// New wires a weaver to an open memory service.
func New(cfg *config.Config, svc *memory.Service) *Weaver {
	return &Weaver{cfg: cfg, svc: svc, now: time.Now}
}

// SetClock overrides the wall clock, for tests.
func (w *Weaver) SetClock(now func() time.Time) { w.now = now }

// Report summarizes one weave pass.
type Report struct {
	Sources   int           `json:"sources"`
	Scored    int           `json:"scored"`
	Committed int           `json:"committed"`
	TimedOut  bool          `json:"timed_out"`
	Elapsed   time.Duration `json:"-"`
}

// node is the per-memory material affinity scoring needs, loaded once.
type node struct {
	id        string
	sessionID string
	createdAt time.Time
	tags      []string
	tokens    map[string]bool
}

// Weave recomputes derived links for the project. Scoring is parallel
// across source partitions; commits are serialized through the store.
// The pass stops committing when the configured deadline passes and
// reports TimedOut rather than failing.
func (w *Weaver) Weave(ctx context.Context, projectID string) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryWeaver, "weave pass")
	defer timer.Stop()

	nodes, err := w.loadNodes(projectID)
	if err != nil {
		return nil, err
	}
	report := &Report{Sources: len(nodes)}
	if len(nodes) < 2 {
		return report, nil
	}

	wc := w.cfg.Weaver
	deadline := w.now().Add(wc.GetMaxWait())
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Partition sources across workers; each worker scores its sources
	// against every node and queues the surviving links.
	type weave struct {
		srcID string
		links []types.Link
	}
	results := make(chan weave, len(nodes))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(wc.Workers)

	var scored int64
	var mu sync.Mutex
	for i := range nodes {
		src := nodes[i]
		grp.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			links := w.scoreSource(src, nodes)
			mu.Lock()
			scored += int64(len(nodes) - 1)
			mu.Unlock()
			results <- weave{srcID: src.id, links: links}
			return nil
		})
	}

	go func() {
		grp.Wait()
		close(results)
	}()

	idx := w.svc.Store()
	now := w.now()
	for res := range results {
		if ctx.Err() != nil {
			report.TimedOut = true
			break
		}
		if err := idx.ReplaceLinks(res.srcID, res.links, now); err != nil {
			return report, err
		}
		report.Committed += len(res.links)
	}
	if err := grp.Wait(); err != nil {
		return report, err
	}
	if ctx.Err() != nil {
		report.TimedOut = true
	}

	report.Scored = int(scored)
	logging.Weaver("weave: %d sources, %d pairs scored, %d links committed (timed out: %v)",
		report.Sources, report.Scored, report.Committed, report.TimedOut)
	return report, nil
}

// scoreSource ranks every other node against src and keeps the strongest
// links above the commit floor, capped per source.
func (w *Weaver) scoreSource(src *node, nodes []*node) []types.Link {
	wc := w.cfg.Weaver
	var links []types.Link
	for _, dst := range nodes {
		if dst.id == src.id {
			continue
		}
		weight, kind := w.affinity(src, dst)
		if weight < wc.CommitMinWeight {
			continue
		}
		links = append(links, types.Link{
			SrcID: src.id, DstID: dst.id, Weight: weight, Kind: kind,
		})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Weight > links[j].Weight })
	if len(links) > wc.MaxLinksPerSource {
		links = links[:wc.MaxLinksPerSource]
	}
	return links
}

// affinity blends the four similarity components into one weight in [0,1]
// and labels the edge with its dominant component.
func (w *Weaver) affinity(a, b *node) (float64, types.LinkKind) {
	wc := w.cfg.Weaver

	tag := retrieval.JaccardSlices(a.tags, b.tags)

	session := 0.0
	if a.sessionID != "" && a.sessionID == b.sessionID {
		session = 1.0
	}

	gap := math.Abs(a.createdAt.Sub(b.createdAt).Hours())
	temporal := 0.0
	if gap <= wc.TemporalCapHours {
		temporal = 1.0 / (1.0 + gap)
	}

	lexical := retrieval.Jaccard(a.tokens, b.tokens)

	weight := wc.TagWeight*tag + wc.SessionWeight*session +
		wc.TemporalWeight*temporal + wc.LexicalWeight*lexical

	kind := types.LinkTagCooc
	best := wc.TagWeight * tag
	if v := wc.SessionWeight * session; v > best {
		best, kind = v, types.LinkSession
	}
	if v := wc.TemporalWeight * temporal; v > best {
		best, kind = v, types.LinkTemporal
	}
	if v := wc.LexicalWeight * lexical; v > best {
		kind = types.LinkLexical
	}
	return weight, kind
}

// loadNodes pulls the scoring material for every live project memory.
func (w *Weaver) loadNodes(projectID string) ([]*node, error) {
	var nodes []*node
	err := w.svc.Store().Each(func(row *store.Row) error {
		if row.Scope.ProjectID != projectID || retrieval.ExcludedFromRetrieval(row) {
			return nil
		}
		if row.Layer == types.LayerArchive {
			return nil
		}
		nodes = append(nodes, &node{
			id:        row.ID,
			sessionID: row.Source.SessionID,
			createdAt: row.CreatedAt,
			tags:      row.Tags,
			tokens:    retrieval.TokenSet(row.Summary + " " + row.BodyText),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].createdAt.Before(nodes[j].createdAt) })
	return nodes, nil
}
