// Package envelope builds and validates memory envelopes.
//
// An envelope is the structured metadata record for one memory. The markdown
// body is canonicalized at intake and hashed; the hash is the integrity
// anchor that verify and sync rely on across devices. Envelope construction
// is also the policy gate: raw secret material never gets past New.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"omnimem/internal/types"
)

// MaxSummaryLen bounds the one-line summary.
const MaxSummaryLen = 500

// Params carries the writer-supplied fields for a new envelope.
type Params struct {
	Layer    types.Layer
	Kind     types.Kind
	Summary  string
	Body     string
	Tags     []string
	Refs     []types.Reference
	CredRefs []string
	Signals  *types.Signals // nil = defaults
	Source   types.Source
	Scope    types.Scope
}

// NewID mints a memory identifier: "mem-" plus 32 hex characters.
func NewID() string {
	return "mem-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ValidID reports whether id has the canonical memory-id shape or is the
// reserved system record.
func ValidID(id string) bool {
	if id == types.SystemMemoryID {
		return true
	}
	if !strings.HasPrefix(id, "mem-") {
		return false
	}
	rest := id[len("mem-"):]
	if len(rest) != 32 {
		return false
	}
	for _, r := range rest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// CanonicalBody renders the exact bytes written to the markdown file: the
// H1 title line, a blank separator, then the CRLF-normalized, trimmed body
// and a trailing newline. An empty body still emits the separator and the
// trailing newline so hashes agree with other writers of the same record.
func CanonicalBody(summary, body string) []byte {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(summary)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n")))
	b.WriteString("\n")
	return []byte(b.String())
}

// HashBody returns the lowercase hex sha256 of canonical body bytes.
func HashBody(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// New validates params, canonicalizes the body, and returns the envelope
// together with the exact bytes to persist. The envelope's BodyMDPath is
// filled in by the caller once the storage location is known.
func New(id string, now time.Time, p Params) (*types.Envelope, []byte, error) {
	if id == "" {
		id = NewID()
	}
	if !ValidID(id) {
		return nil, nil, types.NewError(types.ErrInvalidArgument, "invalid memory id %q", id)
	}
	if !p.Layer.Valid() {
		return nil, nil, types.NewError(types.ErrInvalidArgument,
			"invalid layer %q (valid: instant, short, long, archive)", p.Layer)
	}
	if !p.Kind.Valid() {
		return nil, nil, types.NewError(types.ErrInvalidArgument, "invalid kind %q", p.Kind)
	}
	summary := strings.TrimSpace(p.Summary)
	if summary == "" {
		return nil, nil, types.NewError(types.ErrInvalidArgument, "summary must not be empty")
	}
	if strings.ContainsAny(summary, "\r\n") {
		return nil, nil, types.NewError(types.ErrInvalidArgument, "summary must be a single line")
	}
	if len(summary) > MaxSummaryLen {
		return nil, nil, types.NewError(types.ErrInvalidArgument,
			"summary exceeds %d characters", MaxSummaryLen)
	}
	// Retrieval traces live in the instant layer only.
	if p.Kind == types.KindRetrieve && p.Layer != types.LayerInstant {
		return nil, nil, types.NewError(types.ErrInvalidArgument,
			"retrieve records must use the instant layer")
	}

	if hit := ScanForSecrets(summary); hit != "" {
		return nil, nil, secretError("summary", hit)
	}
	if hit := ScanForSecrets(p.Body); hit != "" {
		return nil, nil, secretError("body", hit)
	}

	for _, ref := range p.Refs {
		if err := ValidateReference(ref); err != nil {
			return nil, nil, err
		}
	}
	for _, cr := range p.CredRefs {
		if err := ValidateCredRef(cr); err != nil {
			return nil, nil, err
		}
	}

	signals := types.DefaultSignals()
	if p.Signals != nil {
		signals = p.Signals.Clamped()
	}

	canonical := CanonicalBody(summary, p.Body)
	env := &types.Envelope{
		ID:            id,
		SchemaVersion: types.SchemaVersion,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
		Layer:         p.Layer,
		Kind:          p.Kind,
		Summary:       summary,
		Tags:          NormalizeTags(p.Tags),
		Refs:          nonNilRefs(p.Refs),
		Signals:       signals,
		CredRefs:      nonNilStrings(p.CredRefs),
		Source:        p.Source,
		Scope:         p.Scope,
		Integrity: types.Integrity{
			ContentSHA256:   HashBody(canonical),
			EnvelopeVersion: types.EnvelopeVersion,
		},
	}
	return env, canonical, nil
}

// VerifyBody checks stored body bytes against the envelope's integrity hash.
func VerifyBody(env *types.Envelope, body []byte) error {
	got := HashBody(body)
	if got != env.Integrity.ContentSHA256 {
		return types.NewError(types.ErrIntegrityMismatch,
			"memory %s: body hash %s does not match envelope hash %s",
			env.ID, got[:12], env.Integrity.ContentSHA256[:12]).
			WithRemediation("run 'omnimem verify' to list damage, then restore the body from the event log or a synced replica")
	}
	return nil
}

// NormalizeTags lowercases, trims, hyphenates inner whitespace, and
// deduplicates while preserving first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		norm := strings.ToLower(strings.TrimSpace(t))
		norm = strings.Join(strings.Fields(norm), "-")
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}

func nonNilRefs(refs []types.Reference) []types.Reference {
	if refs == nil {
		return []types.Reference{}
	}
	return refs
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
