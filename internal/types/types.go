// Package types provides shared type definitions used across omnimem packages.
// This package exists to break import cycles between the store, governor, and
// retrieval layers. Types in this package are foundational data structures
// with no dependencies beyond the standard library.
package types

import (
	"time"
)

// SchemaVersion is stamped into every envelope at write time.
const SchemaVersion = "omnimem/1"

// EnvelopeVersion is the integrity block version.
const EnvelopeVersion = 1

// SystemMemoryID is the reserved record seeded into every initialized store.
// It anchors system-scoped events that have no specific memory target and is
// never pruned, demoted, or destroyed.
const SystemMemoryID = "system000"

// =============================================================================
// LAYER - Retention tier
// =============================================================================

// Layer is the retention tier of a memory. Lifecycle policy (decay,
// consolidation, sync selection) is driven by the layer.
type Layer string

const (
	LayerInstant Layer = "instant" // transient traces, first to decay
	LayerShort   Layer = "short"   // session-local working knowledge
	LayerLong    Layer = "long"    // stable decisions and facts
	LayerArchive Layer = "archive" // cold reference plus the system record
)

// Layers lists every valid layer in promotion order.
var Layers = []Layer{LayerInstant, LayerShort, LayerLong, LayerArchive}

// Valid reports whether l is a known layer.
func (l Layer) Valid() bool {
	switch l {
	case LayerInstant, LayerShort, LayerLong, LayerArchive:
		return true
	}
	return false
}

// Rank returns the layer's position on the promotion ladder (instant=0).
func (l Layer) Rank() int {
	for i, candidate := range Layers {
		if l == candidate {
			return i
		}
	}
	return -1
}

// =============================================================================
// KIND - Semantic role
// =============================================================================

// Kind is the semantic role of a memory.
type Kind string

const (
	KindNote       Kind = "note"
	KindDecision   Kind = "decision"
	KindTask       Kind = "task"
	KindCheckpoint Kind = "checkpoint"
	KindSummary    Kind = "summary"
	KindEvidence   Kind = "evidence"
	// KindRetrieve marks retrieval trace records. They are always written to
	// the instant layer and are never themselves retrieval candidates.
	KindRetrieve Kind = "retrieve"
)

// Kinds lists every valid kind.
var Kinds = []Kind{KindNote, KindDecision, KindTask, KindCheckpoint, KindSummary, KindEvidence, KindRetrieve}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNote, KindDecision, KindTask, KindCheckpoint, KindSummary, KindEvidence, KindRetrieve:
		return true
	}
	return false
}

// =============================================================================
// EVENT TYPE - State-change vocabulary
// =============================================================================

// EventType identifies a state-changing event in the append-only log.
type EventType string

const (
	EventWrite       EventType = "memory.write"
	EventUpdate      EventType = "memory.update"
	EventCheckpoint  EventType = "memory.checkpoint"
	EventPromote     EventType = "memory.promote"
	EventVerify      EventType = "memory.verify"
	EventSync        EventType = "memory.sync"
	EventDecay       EventType = "memory.decay"
	EventConsolidate EventType = "memory.consolidate"
	EventRetrieve    EventType = "memory.retrieve"
	EventFeedback    EventType = "memory.feedback"
)

// EventTypes lists every valid event type.
var EventTypes = []EventType{
	EventWrite, EventUpdate, EventCheckpoint, EventPromote, EventVerify,
	EventSync, EventDecay, EventConsolidate, EventRetrieve, EventFeedback,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CarriesEnvelope reports whether events of this type embed a full envelope
// in their payload. Only envelope-bearing events materialize rows on reindex.
func (t EventType) CarriesEnvelope() bool {
	switch t {
	case EventWrite, EventUpdate, EventCheckpoint, EventPromote:
		return true
	}
	return false
}

// =============================================================================
// LINK KIND - Derived edge vocabulary
// =============================================================================

// LinkKind classifies a derived inter-memory edge.
type LinkKind string

const (
	LinkTagCooc   LinkKind = "tag_cooc"
	LinkSession   LinkKind = "session"
	LinkTemporal  LinkKind = "temporal"
	LinkLexical   LinkKind = "lexical"
	LinkDistill   LinkKind = "distill"
	LinkCoreBlock LinkKind = "core-block"
)

// Valid reports whether k is a known link kind.
func (k LinkKind) Valid() bool {
	switch k {
	case LinkTagCooc, LinkSession, LinkTemporal, LinkLexical, LinkDistill, LinkCoreBlock:
		return true
	}
	return false
}

// =============================================================================
// RANKING MODE / QUOTA MODE / ROUTE - Retrieval and planning enums
// =============================================================================

// RankingMode selects the retrieval scoring blend.
type RankingMode string

const (
	RankLexical   RankingMode = "lexical"
	RankCognitive RankingMode = "cognitive"
	RankHybrid    RankingMode = "hybrid"
	RankPPR       RankingMode = "ppr"
)

// Valid reports whether m is a known ranking mode.
func (m RankingMode) Valid() bool {
	switch m {
	case RankLexical, RankCognitive, RankHybrid, RankPPR:
		return true
	}
	return false
}

// QuotaMode is the operational pressure level feeding the context-plan
// resolver. QuotaAuto derives one of the other three from runtime signals.
type QuotaMode string

const (
	QuotaNormal   QuotaMode = "normal"
	QuotaLow      QuotaMode = "low"
	QuotaCritical QuotaMode = "critical"
	QuotaAuto     QuotaMode = "auto"
)

// Valid reports whether m is a known quota mode.
func (m QuotaMode) Valid() bool {
	switch m {
	case QuotaNormal, QuotaLow, QuotaCritical, QuotaAuto:
		return true
	}
	return false
}

// Route is the query-intent tag steering retrieval bias.
type Route string

const (
	RouteProcedural Route = "procedural"
	RouteEpisodic   Route = "episodic"
	RouteSemantic   Route = "semantic"
	RouteGeneral    Route = "general"
)

// =============================================================================
// SIGNALS - Numeric governance attributes
// =============================================================================

// Signals are the numeric attributes driving lifecycle governance. All score
// fields live in [0,1]; ReuseCount is a non-negative counter.
type Signals struct {
	Importance float64 `json:"importance_score"`
	Confidence float64 `json:"confidence_score"`
	Stability  float64 `json:"stability_score"`
	ReuseCount int     `json:"reuse_count"`
	Volatility float64 `json:"volatility_score"`
}

// DefaultSignals returns the neutral starting signals for a new memory.
func DefaultSignals() Signals {
	return Signals{Importance: 0.5, Confidence: 0.6, Stability: 0.5, Volatility: 0.3}
}

// Clamped returns a copy with every score forced into [0,1] and the reuse
// counter floored at zero.
func (s Signals) Clamped() Signals {
	out := s
	out.Importance = clamp01(s.Importance)
	out.Confidence = clamp01(s.Confidence)
	out.Stability = clamp01(s.Stability)
	out.Volatility = clamp01(s.Volatility)
	if out.ReuseCount < 0 {
		out.ReuseCount = 0
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// ENVELOPE - Stable per-memory record
// =============================================================================

// Source identifies where a memory came from.
type Source struct {
	Tool      string `json:"tool"`
	Account   string `json:"account"`
	Device    string `json:"device"`
	SessionID string `json:"session_id"`
}

// Scope identifies what a memory belongs to.
type Scope struct {
	ProjectID string `json:"project_id"`
	Workspace string `json:"workspace"`
}

// Integrity binds the envelope to the exact bytes written to the markdown
// body file.
type Integrity struct {
	ContentSHA256   string `json:"content_sha256"`
	EnvelopeVersion int    `json:"envelope_version"`
}

// Reference is a typed pointer from a memory to another memory, URL, file,
// or other entity.
type Reference struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Note   string `json:"note,omitempty"`
}

// Envelope is the structured metadata record accompanying a memory body.
// This is the stable on-disk JSON contract; field names must not change.
type Envelope struct {
	ID            string      `json:"id"`
	SchemaVersion string      `json:"schema_version"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Layer         Layer       `json:"layer"`
	Kind          Kind        `json:"kind"`
	Summary       string      `json:"summary"`
	BodyMDPath    string      `json:"body_md_path"`
	Tags          []string    `json:"tags"`
	Refs          []Reference `json:"refs"`
	Signals       Signals     `json:"signals"`
	CredRefs      []string    `json:"cred_refs"`
	Source        Source      `json:"source"`
	Scope         Scope       `json:"scope"`
	Integrity     Integrity   `json:"integrity"`
}

// =============================================================================
// EVENT - Append-only log line
// =============================================================================

// EventPayload is the typed portion of an event line. Envelope-bearing events
// carry the full envelope; system events carry only the loose fields.
type EventPayload struct {
	Summary    string         `json:"summary,omitempty"`
	Layer      Layer          `json:"layer,omitempty"`
	Kind       Kind           `json:"kind,omitempty"`
	BodyMDPath string         `json:"body_md_path,omitempty"`
	Envelope   *Envelope      `json:"envelope,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Event is one line of the append-only JSONL log. The log is the single
// durable ordering authority: replaying all events reproduces the indexed
// view exactly.
type Event struct {
	EventID   string       `json:"event_id"`
	EventType EventType    `json:"event_type"`
	EventTime time.Time    `json:"event_time"`
	MemoryID  string       `json:"memory_id"`
	Payload   EventPayload `json:"payload"`
}

// =============================================================================
// LINK - Derived graph edge
// =============================================================================

// Link is a derived, weighted edge between two memories. Links are never
// asserted directly by writers; the weaver and the governor derive them.
type Link struct {
	SrcID  string   `json:"src_id"`
	DstID  string   `json:"dst_id"`
	Weight float64  `json:"weight"`
	Kind   LinkKind `json:"kind"`
}

// =============================================================================
// CORE BLOCK - Persistent top-of-context directive
// =============================================================================

// CoreBlock is a persistent top-of-context directive identified by
// (project, session, name). Content lines are kept in order.
type CoreBlock struct {
	ProjectID string    `json:"project_id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Lines     []string  `json:"lines"`
	Priority  int       `json:"priority"`
	Topic     string    `json:"topic,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
