// Package agent orchestrates turns against external assistant tools: it
// tracks the session topic, retrieves and composes memory context, invokes
// the tool subprocess, and feeds the answer back into the store.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"omnimem/internal/composer"
	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/retrieval"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

// checkpointMinGap is the smallest turn distance between checkpoints.
const checkpointMinGap = 2

// longLayerDriftCap blocks long-layer classification when the turn has
// drifted hard off the session topic.
const longLayerDriftCap = 0.75

// durableWordingRe marks answers that read like decisions or rules.
var durableWordingRe = regexp.MustCompile(`(?i)\b(decision|decided|must|rule|always|never|shall|policy)\b`)

// Orchestrator drives one tool turn end to end.
type Orchestrator struct {
	cfg      *config.Config
	paths    config.Paths
	svc      *memory.Service
	engine   *retrieval.Engine
	composer *composer.Composer
	tools    *ToolRunner
	now      func() time.Time
}

// New wires an orchestrator over an open memory service.
func New(cfg *config.Config, svc *memory.Service) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		paths:    cfg.Paths(),
		svc:      svc,
		engine:   retrieval.New(cfg, svc),
		composer: composer.New(cfg),
		tools:    NewToolRunner(&cfg.Agent),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock. Tests only.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.engine.SetClock(now)
	o.composer.SetClock(now)
}

// Tools exposes the runner so the CLI can invoke tools directly.
func (o *Orchestrator) Tools() *ToolRunner { return o.tools }

// TurnRequest is one user turn against one tool.
type TurnRequest struct {
	Tool      string
	ProjectID string
	Workspace string
	Prompt    string

	Profile   Profile
	QuotaMode types.QuotaMode

	// DryRun composes the context but skips the tool subprocess.
	DryRun bool
}

// TurnResult reports what the turn did.
type TurnResult struct {
	SessionID      string           `json:"session_id"`
	Turn           int              `json:"turn"`
	Drift          float64          `json:"drift"`
	Checkpointed   bool             `json:"checkpointed,omitempty"`
	NewSessionID   string           `json:"new_session_id,omitempty"`
	Plan           Plan             `json:"plan"`
	Context        *composer.Result `json:"context"`
	Retrieved      int              `json:"retrieved"`
	Answer         string           `json:"answer,omitempty"`
	AnswerMemoryID string           `json:"answer_memory_id,omitempty"`
	AnswerLayer    types.Layer      `json:"answer_layer,omitempty"`
}

// Turn runs the full orchestration: topic drift, retrieval, composition,
// tool invocation, checkpoint rotation, and answer write-back.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "empty prompt")
	}
	now := o.now()
	st := loadState(o.paths, req.Tool, req.ProjectID, now)

	prompt := promptVector(req.Prompt)
	drift := 1 - cosine(st.Topic, prompt)
	if len(st.Topic) == 0 {
		drift = 0 // first turn of a session sets the topic, it cannot drift
	}

	plan := ResolvePlan(PlanRequest{
		Profile:                  req.Profile,
		QuotaMode:                req.QuotaMode,
		BudgetTokens:             o.cfg.Composer.TokenBudget,
		RetrieveLimit:            o.cfg.Retrieval.Limit,
		PromptTokensEstimate:     composer.EstimateTokens(req.Prompt),
		RecentTransientFailures:  st.TransientFailures,
		RecentContextUtilization: st.LastUtilization,
	})

	scope := types.Scope{ProjectID: req.ProjectID, Workspace: req.Workspace}
	resp, err := o.engine.Retrieve(req.Prompt, scope, retrieval.Options{
		Limit:            plan.Limit,
		SessionID:        st.SessionID,
		ProfileBias:      true,
		DriftBias:        true,
		CoreBlocks:       true,
		SelfCheck:        true,
		AdaptiveFeedback: true,
	})
	if err != nil {
		return nil, err
	}
	o.recordRetrieveTrace(st, req, resp)

	checkpoints, _ := o.recentCheckpoints(req.ProjectID)
	pack, err := o.composer.Compose(composer.Input{
		ProjectID:          req.ProjectID,
		Workspace:          req.Workspace,
		UserRequest:        req.Prompt,
		Checkpoints:        checkpoints,
		Candidates:         resp.Items,
		CoreBlocks:         resp.CoreBlocks,
		Route:              resp.Route,
		Budget:             plan.Budget,
		IncludeProtocol:    !plan.StablePrefix,
		IncludeUserRequest: true,
		DeltaEnabled:       plan.PreferDelta,
		StateKey:           req.Tool + "-" + req.ProjectID,
	})
	if err != nil {
		return nil, err
	}

	result := &TurnResult{
		SessionID: st.SessionID,
		Turn:      st.Turns + 1,
		Drift:     drift,
		Plan:      plan,
		Context:   pack,
		Retrieved: len(resp.Items),
	}

	var answer string
	if !req.DryRun {
		answer, err = o.tools.Invoke(ctx, req.Tool, pack.Text+"\n\n"+req.Prompt)
		if err != nil {
			if types.KindOf(err) == types.ErrTransientExternal {
				st.TransientFailures++
			}
			_ = saveState(o.paths, st)
			return result, err
		}
		st.TransientFailures = 0
		result.Answer = answer
	}

	st.Turns++
	st.LastUtilization = float64(pack.EstTokens) / float64(pack.Budget)

	// Checkpoint rotation: a hard topic shift with enough turns behind it
	// closes the session thread; long sessions checkpoint on turn count.
	driftGate := drift >= o.cfg.Agent.DriftThreshold && st.Turns-st.LastCheckpointTurn >= checkpointMinGap
	turnGate := o.cfg.Agent.CheckpointEvery > 0 && st.Turns-st.LastCheckpointTurn >= o.cfg.Agent.CheckpointEvery
	if driftGate || turnGate {
		if err := o.writeCheckpoint(st, req, drift); err != nil {
			return result, err
		}
		result.Checkpointed = true
		st.SessionID = newSessionID()
		st.Topic = topicVector{}
		st.Turns = 0
		st.LastCheckpointTurn = 0
		result.NewSessionID = st.SessionID
	}

	if answer != "" {
		env, werr := o.writeAnswer(st, req, answer, drift)
		if werr != nil {
			return result, werr
		}
		result.AnswerMemoryID = env.ID
		result.AnswerLayer = env.Layer
	}

	// After a rotation the topic is empty, so this seeds the new session
	// from the prompt that caused the shift: the next turn drifts against
	// the new subject, not the closed thread.
	st.Topic = emaUpdate(st.Topic, prompt, o.cfg.Agent.TopicAlpha)
	st.UpdatedAt = now
	if err := saveState(o.paths, st); err != nil {
		return result, err
	}

	logging.Agent("turn %d tool=%s session=%s drift=%.2f retrieved=%d checkpointed=%v",
		result.Turn, req.Tool, result.SessionID, drift, result.Retrieved, result.Checkpointed)
	return result, nil
}

// recordRetrieveTrace writes the retrieval trace memory. Best effort; a
// trace failure never blocks the turn.
func (o *Orchestrator) recordRetrieveTrace(st *sessionState, req TurnRequest, resp *retrieval.Response) {
	ids := make([]string, 0, len(resp.Items))
	refs := make([]types.Reference, 0, len(resp.Items))
	for _, it := range resp.Items {
		ids = append(ids, it.ID)
		refs = append(refs, types.Reference{Type: "memory", Target: it.ID})
	}
	_, err := o.svc.Write(memory.WriteRequest{
		Layer:     types.LayerInstant,
		Kind:      types.KindRetrieve,
		Summary:   fmt.Sprintf("retrieved %d memories for %q", len(ids), truncateSummary(req.Prompt, 80)),
		Body:      strings.Join(ids, "\n"),
		SessionID: st.SessionID,
		ProjectID: req.ProjectID,
		Workspace: req.Workspace,
		Refs:      refs,
	})
	if err != nil {
		logging.Agent("retrieve trace write failed: %v", err)
	}
}

// recentCheckpoints fetches the newest checkpoint summaries for the scope.
func (o *Orchestrator) recentCheckpoints(projectID string) ([]string, error) {
	rows, err := o.svc.Store().RecentByKind(types.KindCheckpoint,
		store.Filter{ProjectID: projectID}, o.cfg.Agent.CheckpointKeep)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Summary)
	}
	return out, nil
}

// writeCheckpoint records the session closing memory.
func (o *Orchestrator) writeCheckpoint(st *sessionState, req TurnRequest, drift float64) error {
	topics := topTopicTerms(st.Topic, 6)
	_, err := o.svc.Write(memory.WriteRequest{
		Layer: types.LayerShort,
		Kind:  types.KindCheckpoint,
		Summary: fmt.Sprintf("checkpoint: session %s after %d turns (drift %.2f)",
			st.SessionID, st.Turns, drift),
		Body: fmt.Sprintf("Topic terms: %s\nNext prompt shifted topic; thread closed here.",
			strings.Join(topics, ", ")),
		Tags:      []string{"checkpoint", "tool-" + req.Tool},
		SessionID: st.SessionID,
		ProjectID: req.ProjectID,
		Workspace: req.Workspace,
	})
	return err
}

// writeAnswer stores the tool's answer as a summary memory. Durable wording
// earns the long layer unless the turn drifted too far to trust it.
func (o *Orchestrator) writeAnswer(st *sessionState, req TurnRequest, answer string, drift float64) (*types.Envelope, error) {
	layer := types.LayerShort
	if durableWordingRe.MatchString(answer) && drift <= longLayerDriftCap {
		layer = types.LayerLong
	}
	return o.svc.Write(memory.WriteRequest{
		Layer:     layer,
		Kind:      types.KindSummary,
		Summary:   truncateSummary(answer, 140),
		Body:      answer,
		Tags:      []string{"tool-answer", "tool-" + req.Tool},
		SessionID: st.SessionID,
		ProjectID: req.ProjectID,
		Workspace: req.Workspace,
	})
}

// topTopicTerms returns the heaviest terms of the topic vector.
func topTopicTerms(v topicVector, n int) []string {
	type tw struct {
		term   string
		weight float64
	}
	all := make([]tw, 0, len(v))
	for term, w := range v {
		all = append(all, tw{term, w})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].weight != all[j].weight {
			return all[i].weight > all[j].weight
		}
		return all[i].term < all[j].term
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, t := range all {
		out[i] = t.term
	}
	return out
}

// truncateSummary bounds a one-line summary on a rune boundary.
func truncateSummary(s string, max int) string {
	s = strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
