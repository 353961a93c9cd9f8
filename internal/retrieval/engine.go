// Package retrieval implements graph-augmented hybrid recall over the
// indexed memory view.
//
// The pipeline: full-text seed search, BFS expansion over derived links,
// component scoring (lexical, BM25, cognitive signals, recency, graph
// affinity), a relevance gate so heavily-reused but unrelated memories
// cannot crowd out genuine matches, MMR diversification, and optional
// profile and drift biasing. Every returned item carries an explanation of
// why it was recalled.
package retrieval

import (
	"fmt"
	"sort"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// Engine runs retrievals against one memory service.
type Engine struct {
	cfg *config.Config
	svc *memory.Service
	now func() time.Time
}

// New builds an engine over the given service.
func New(cfg *config.Config, svc *memory.Service) *Engine {
	return &Engine{cfg: cfg, svc: svc, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Options tunes one retrieval. Zero values fall back to configuration.
type Options struct {
	Limit          int
	Mode           types.RankingMode
	Depth          int
	PerHopCap      int
	MinLinkWeight  float64
	MMRLambda      float64
	IncludeArchive bool
	SessionID      string

	// ProfileBias nudges candidates toward the user's dominant tags.
	ProfileBias bool
	// DriftBias adapts depth, diversity, and recency weight when the
	// recent tag distribution has drifted from the baseline.
	DriftBias bool
	// CoreBlocks prepends pinned directives for the scope.
	CoreBlocks bool
	// SelfCheck computes query coverage over the result set.
	SelfCheck bool
	// AdaptiveFeedback bumps reuse counts on the selected items.
	AdaptiveFeedback bool
}

// ScoreComponents breaks a final score into its weighted parts.
type ScoreComponents struct {
	Lexical   float64 `json:"lexical"`
	FTS       float64 `json:"fts"`
	Cognitive float64 `json:"cognitive"`
	Recency   float64 `json:"recency"`
	Graph     float64 `json:"graph"`
	Profile   float64 `json:"profile,omitempty"`
}

// Item is one recalled memory with its explanation.
type Item struct {
	Row         *store.Row      `json:"-"`
	ID          string          `json:"id"`
	Summary     string          `json:"summary"`
	Layer       types.Layer     `json:"layer"`
	Kind        types.Kind      `json:"kind"`
	Score       float64         `json:"score"`
	Components  ScoreComponents `json:"components"`
	Hops        int             `json:"hops"`
	Path        []string        `json:"path,omitempty"`
	WhyRecalled []string        `json:"why_recalled"`
}

// Response is the outcome of one retrieval.
type Response struct {
	Items         []Item            `json:"items"`
	CoreBlocks    []types.CoreBlock `json:"core_blocks,omitempty"`
	Route         types.Route       `json:"route"`
	Mode          types.RankingMode `json:"mode"`
	SeedCount     int               `json:"seed_count"`
	ExpandedCount int               `json:"expanded_count"`
	Drift         float64           `json:"drift,omitempty"`
	Coverage      float64           `json:"coverage,omitempty"`
	MissingTokens []string          `json:"missing_tokens,omitempty"`
	BumpsApplied  int               `json:"bumps_applied,omitempty"`
}

// candidate is the internal working record through the pipeline.
type candidate struct {
	row     *store.Row
	ftsRaw  float64
	seed    bool
	hops    int
	path    []string
	gateHit bool
	comps   ScoreComponents
	score   float64
	tokens  map[string]bool
}

// Retrieve runs the full pipeline for a query within a project scope.
func (e *Engine) Retrieve(query string, scope types.Scope, opts Options) (*Response, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.Stop()

	rc := e.cfg.Retrieval
	if opts.Limit < 1 {
		opts.Limit = rc.Limit
	}
	if opts.Mode == "" {
		opts.Mode = types.RankingMode(rc.RankingMode)
	}
	if !opts.Mode.Valid() {
		return nil, types.NewError(types.ErrInvalidArgument, "invalid ranking mode %q", opts.Mode)
	}
	if opts.Depth == 0 {
		opts.Depth = rc.ExpansionDepth
	}
	if opts.PerHopCap < 1 {
		opts.PerHopCap = rc.PerHopCap
	}
	if opts.MinLinkWeight == 0 {
		opts.MinLinkWeight = rc.MinLinkWeight
	}
	if opts.MMRLambda == 0 {
		opts.MMRLambda = rc.MMRLambda
	}

	resp := &Response{
		Route: ClassifyRoute(query),
		Mode:  opts.Mode,
	}

	recencyWeight := rc.Weights.Recency
	if opts.DriftBias {
		drift, err := e.driftScore(scope)
		if err != nil {
			logging.RetrievalDebug("drift score unavailable: %v", err)
		} else {
			resp.Drift = drift
			if drift >= driftBiasThreshold {
				// High drift: stay shallow, accept less diversity, favor
				// fresh memories.
				if opts.Depth > 1 {
					opts.Depth--
				}
				opts.MMRLambda = opts.MMRLambda * 0.8
				recencyWeight *= 2
			}
		}
	}

	filter := store.Filter{
		ProjectID:      scope.ProjectID,
		SessionID:      opts.SessionID,
		IncludeArchive: opts.IncludeArchive || rc.IncludeArchive,
	}

	// Seed: BM25 full-text with substring fallback under the floor.
	seedLimit := opts.Limit * 3
	if seedLimit < 12 {
		seedLimit = 12
	}
	hits, err := e.svc.Find(query, filter, seedLimit)
	if err != nil {
		return nil, err
	}
	resp.SeedCount = len(hits)

	cands := map[string]*candidate{}
	var order []string
	for _, h := range hits {
		c := &candidate{row: h.Row, ftsRaw: h.Score, seed: true}
		cands[h.Row.ID] = c
		order = append(order, h.Row.ID)
	}

	// Graph expansion over derived links.
	expanded, err := e.expand(cands, opts)
	if err != nil {
		return nil, err
	}
	for _, id := range expanded {
		order = append(order, id)
	}
	resp.ExpandedCount = len(expanded)

	if len(cands) == 0 {
		if opts.CoreBlocks {
			resp.CoreBlocks, _ = e.coreBlocks(scope, opts.SessionID)
		}
		return resp, nil
	}

	queryTokens := Tokenize(query)
	if err := e.rank(cands, order, queryTokens, opts, recencyWeight, scope); err != nil {
		return nil, err
	}

	// MMR diversification picks the final set.
	selected := e.diversify(cands, order, opts.MMRLambda, opts.Limit)

	for _, c := range selected {
		resp.Items = append(resp.Items, e.toItem(c))
	}

	if opts.CoreBlocks {
		resp.CoreBlocks, _ = e.coreBlocks(scope, opts.SessionID)
	}
	if opts.SelfCheck {
		resp.Coverage, resp.MissingTokens = selfCheck(queryTokens, selected)
	}
	if opts.AdaptiveFeedback && len(resp.Items) > 0 {
		ids := make([]string, len(resp.Items))
		for i, it := range resp.Items {
			ids[i] = it.ID
		}
		if n, berr := e.svc.BumpReuse(ids, feedbackReuseStep); berr == nil {
			resp.BumpsApplied = n
		}
	}

	logging.Retrieval("retrieve %q: %d seeds, %d expanded, %d returned (route=%s)",
		query, resp.SeedCount, resp.ExpandedCount, len(resp.Items), resp.Route)
	return resp, nil
}

// feedbackReuseStep is the reuse increment applied per selected item when
// adaptive feedback is on.
const feedbackReuseStep = 1

// expand BFS-walks derived links out from the seed set, respecting depth,
// per-hop caps, and the minimum edge weight. Returns newly added ids in
// discovery order.
func (e *Engine) expand(cands map[string]*candidate, opts Options) ([]string, error) {
	if opts.Depth < 1 {
		return nil, nil
	}
	idx := e.svc.Store()

	var added []string
	frontier := make([]string, 0, len(cands))
	for id := range cands {
		frontier = append(frontier, id)
	}
	sort.Strings(frontier)

	for hop := 1; hop <= opts.Depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := idx.Neighbors(id, opts.MinLinkWeight, opts.PerHopCap)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if _, ok := cands[n.ID]; ok {
					continue
				}
				row, err := idx.Get(n.ID)
				if err != nil {
					if types.KindOf(err) == types.ErrNotFound {
						continue
					}
					return nil, err
				}
				// Traces never resurface, and archive rows only surface
				// when asked for.
				if row.Kind == types.KindRetrieve {
					continue
				}
				if row.Layer == types.LayerArchive && !opts.IncludeArchive {
					continue
				}
				parent := cands[id]
				c := &candidate{
					row:  row,
					hops: hop,
					path: append(append([]string{}, parent.path...), id),
				}
				cands[n.ID] = c
				added = append(added, n.ID)
				next = append(next, n.ID)
			}
		}
		frontier = next
	}
	return added, nil
}

// coreBlocks fetches the pinned directives for the scope in priority order.
func (e *Engine) coreBlocks(scope types.Scope, sessionID string) ([]types.CoreBlock, error) {
	return e.svc.Store().ListCoreBlocks(scope.ProjectID, sessionID, e.cfg.Retrieval.CoreBlockLimit)
}

func (e *Engine) toItem(c *candidate) Item {
	why := []string{}
	if c.seed {
		if c.comps.FTS > 0 {
			why = append(why, "fts-match")
		} else {
			why = append(why, "substring-match")
		}
	}
	if c.hops > 0 {
		why = append(why, fmt.Sprintf("graph:%d-hop", c.hops))
	}
	if c.comps.Profile > 0 {
		why = append(why, "profile-tags")
	}
	return Item{
		Row:         c.row,
		ID:          c.row.ID,
		Summary:     c.row.Summary,
		Layer:       c.row.Layer,
		Kind:        c.row.Kind,
		Score:       c.score,
		Components:  c.comps,
		Hops:        c.hops,
		Path:        c.path,
		WhyRecalled: why,
	}
}

// selfCheck measures what fraction of query tokens the selected items
// cover, and which tokens no item mentions.
func selfCheck(queryTokens []string, selected []*candidate) (float64, []string) {
	if len(queryTokens) == 0 {
		return 0, nil
	}
	covered := map[string]bool{}
	for _, c := range selected {
		for tok := range c.tokenSet() {
			covered[tok] = true
		}
	}
	missing := []string{}
	hits := 0
	for _, tok := range queryTokens {
		if covered[tok] {
			hits++
		} else {
			missing = append(missing, tok)
		}
	}
	return float64(hits) / float64(len(queryTokens)), missing
}

// tokenSet lazily tokenizes the candidate's summary, body, and tags.
func (c *candidate) tokenSet() map[string]bool {
	if c.tokens == nil {
		c.tokens = TokenSet(c.row.Summary + " " + c.row.BodyText)
		for _, tag := range c.row.Tags {
			c.tokens[tag] = true
		}
	}
	return c.tokens
}
