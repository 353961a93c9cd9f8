// Package composer assembles budget-bounded context packs for agent
// prompts.
//
// A pack is plain text: a header, the memory protocol, recent checkpoints,
// retrieved memories (unseen-first via per-caller delta state), and the
// echoed user request. Every section except the request is all-or-nothing
// against the token budget; the request truncates to whatever room is left.
package composer

import (
	"fmt"
	"strings"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/retrieval"
	"omnimem/internal/types"
)

// checkpointCap bounds checkpoint lines in the brief section.
const checkpointCap = 3

// protocolLines is the standing memory protocol emitted when
// IncludeProtocol is set. Agents reading the pack follow these.
var protocolLines = []string{
	"Memory protocol: write stable decisions as kind=decision.",
	"Memory protocol: on topic drift, write a checkpoint before switching.",
	"Memory protocol: never paste raw secrets; use cred_refs (env://KEY).",
}

// Composer builds context packs.
type Composer struct {
	cfg   *config.Config
	paths config.Paths
	now   func() time.Time
}

// New builds a composer over one memory home.
func New(cfg *config.Config) *Composer {
	return &Composer{
		cfg:   cfg,
		paths: cfg.Paths(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the composer clock. Tests only.
func (c *Composer) SetClock(now func() time.Time) {
	c.now = now
}

// Input carries everything one pack is built from.
type Input struct {
	ProjectID   string
	Workspace   string
	UserRequest string
	Checkpoints []string
	Candidates  []retrieval.Item
	CoreBlocks  []types.CoreBlock
	Route       types.Route

	Budget             int // tokens; 0 = configured default
	IncludeProtocol    bool
	IncludeUserRequest bool
	DeltaEnabled       bool
	StateKey           string // caller identity for delta state
}

// Result is one assembled pack.
type Result struct {
	Text             string      `json:"text"`
	EstTokens        int         `json:"est_tokens"`
	Budget           int         `json:"budget"`
	SelectedIDs      []string    `json:"selected_ids"`
	NewCount         int         `json:"new_count"`
	SeenCount        int         `json:"seen_count"`
	Route            types.Route `json:"route"`
	RequestTruncated bool        `json:"request_truncated,omitempty"`
}

// Compose assembles a pack. The header, protocol, checkpoints, and memory
// lines never exceed the budget; the user request block takes the remainder
// and truncates if it must.
func (c *Composer) Compose(in Input) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryComposer, "Compose")
	defer timer.Stop()

	budget := in.Budget
	if budget <= 0 {
		budget = c.cfg.Composer.TokenBudget
	}
	now := c.now()

	res := &Result{Budget: budget, Route: in.Route, SelectedIDs: []string{}}
	var b strings.Builder
	used := 0

	emit := func(line string) bool {
		cost := EstimateTokens(line)
		if used+cost > budget {
			return false
		}
		b.WriteString(line)
		b.WriteString("\n")
		used += cost
		return true
	}

	header := fmt.Sprintf("OmniMem: %s (%s) %s", in.ProjectID, in.Workspace, now.Format(time.RFC3339))
	emit(header)

	// Core blocks ride above the protocol: they are standing directives.
	for _, block := range in.CoreBlocks {
		for _, line := range block.Lines {
			emit(fmt.Sprintf("[core:%s] %s", block.Name, line))
		}
	}

	if in.IncludeProtocol {
		for _, line := range protocolLines {
			emit(line)
		}
	}

	checkpoints := in.Checkpoints
	if len(checkpoints) > checkpointCap {
		checkpoints = checkpoints[:checkpointCap]
	}
	for _, cp := range checkpoints {
		emit("checkpoint: " + cp)
	}

	// Delta split: unseen (or updated-since-seen) memories go first.
	var delta deltaState
	if in.DeltaEnabled {
		delta = c.loadDelta(in.StateKey)
	}
	var fresh, repeat []retrieval.Item
	for _, item := range in.Candidates {
		if delta != nil && delta.isSeen(item.ID, item.Row.UpdatedAt) {
			repeat = append(repeat, item)
		} else {
			fresh = append(fresh, item)
		}
	}
	res.NewCount = len(fresh)
	res.SeenCount = len(repeat)

	emitItem := func(item retrieval.Item, marker string) {
		line := fmt.Sprintf("[%s/%s]%s %s", item.Layer, item.Kind, marker, item.Summary)
		if !emit(line) {
			return // try smaller items; budget may still fit them
		}
		res.SelectedIDs = append(res.SelectedIDs, item.ID)
		if delta != nil {
			delta.markSeen(item.ID, item.Row.UpdatedAt, now)
		}
	}
	for _, item := range fresh {
		emitItem(item, "")
	}
	for _, item := range repeat {
		emitItem(item, " (seen)")
	}

	if in.IncludeUserRequest && in.UserRequest != "" {
		request := in.UserRequest
		if reqCap := c.cfg.Composer.RequestTokenCap; reqCap > 0 && EstimateTokens(request) > reqCap {
			request = truncateToTokens(request, reqCap)
			res.RequestTruncated = true
		}
		block := "user request:\n" + request
		if !emit(block) {
			remaining := budget - used - EstimateTokens("user request:")
			if remaining > 0 {
				emit("user request:\n" + truncateToTokens(request, remaining))
				res.RequestTruncated = true
			} else {
				res.RequestTruncated = true
			}
		}
	}

	if delta != nil {
		if err := c.saveDelta(in.StateKey, delta, now); err != nil {
			logging.ComposerDebug("delta state save failed: %v", err)
		}
	}

	res.Text = b.String()
	res.EstTokens = used
	logging.Composer("composed %d/%d tokens, %d memories (%d new, %d seen)",
		used, budget, len(res.SelectedIDs), res.NewCount, res.SeenCount)
	return res, nil
}

// truncateToTokens cuts text at the last rune boundary that keeps the
// estimate within maxTokens.
func truncateToTokens(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if EstimateTokens(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
