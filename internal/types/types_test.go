package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestLayerValidAndRank(t *testing.T) {
	tests := []struct {
		layer Layer
		valid bool
		rank  int
	}{
		{LayerInstant, true, 0},
		{LayerShort, true, 1},
		{LayerLong, true, 2},
		{LayerArchive, true, 3},
		{Layer("eternal"), false, -1},
		{Layer(""), false, -1},
	}
	for _, tt := range tests {
		if got := tt.layer.Valid(); got != tt.valid {
			t.Errorf("Layer(%q).Valid() = %v, want %v", tt.layer, got, tt.valid)
		}
		if got := tt.layer.Rank(); got != tt.rank {
			t.Errorf("Layer(%q).Rank() = %d, want %d", tt.layer, got, tt.rank)
		}
	}
}

func TestEventTypeCarriesEnvelope(t *testing.T) {
	carrying := []EventType{EventWrite, EventUpdate, EventCheckpoint, EventPromote}
	for _, et := range carrying {
		if !et.CarriesEnvelope() {
			t.Errorf("%s should carry an envelope", et)
		}
	}
	bare := []EventType{EventVerify, EventSync, EventDecay, EventConsolidate, EventRetrieve, EventFeedback}
	for _, et := range bare {
		if et.CarriesEnvelope() {
			t.Errorf("%s should not carry an envelope", et)
		}
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range EventTypes {
		if !et.Valid() {
			t.Errorf("%s should be valid", et)
		}
	}
	if EventType("memory.explode").Valid() {
		t.Error("unknown event type should be invalid")
	}
}

func TestSignalsClamped(t *testing.T) {
	s := Signals{Importance: 1.7, Confidence: -0.2, Stability: 0.5, ReuseCount: -3, Volatility: 2}
	c := s.Clamped()
	if c.Importance != 1 {
		t.Errorf("Importance = %v, want 1", c.Importance)
	}
	if c.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", c.Confidence)
	}
	if c.Stability != 0.5 {
		t.Errorf("Stability = %v, want 0.5", c.Stability)
	}
	if c.ReuseCount != 0 {
		t.Errorf("ReuseCount = %d, want 0", c.ReuseCount)
	}
	if c.Volatility != 1 {
		t.Errorf("Volatility = %v, want 1", c.Volatility)
	}
}

func TestEnvelopeJSONFieldNames(t *testing.T) {
	env := Envelope{
		ID:            "mem-0123",
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Layer:         LayerShort,
		Kind:          KindNote,
		Summary:       "field name check",
		BodyMDPath:    "short/2025/06/mem-0123.md",
		Tags:          []string{"a"},
		Refs:          []Reference{},
		Signals:       DefaultSignals(),
		CredRefs:      []string{},
		Integrity:     Integrity{ContentSHA256: "ff", EnvelopeVersion: EnvelopeVersion},
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{
		`"schema_version"`, `"body_md_path"`, `"importance_score"`,
		`"confidence_score"`, `"stability_score"`, `"reuse_count"`,
		`"volatility_score"`, `"content_sha256"`, `"envelope_version":1`,
	} {
		if !containsBytes(data, want) {
			t.Errorf("marshalled envelope missing %s: %s", want, data)
		}
	}
}

func TestErrorKindExtraction(t *testing.T) {
	base := NewError(ErrPolicyDenied, "secret material in body")
	wrapped := fmt.Errorf("write failed: %w", base)
	if got := KindOf(wrapped); got != ErrPolicyDenied {
		t.Errorf("KindOf = %q, want %q", got, ErrPolicyDenied)
	}
	if Retryable(wrapped) {
		t.Error("policy denial should not be retryable")
	}
	transient := WrapError(ErrTransientExternal, errors.New("timeout"), "git push")
	if !Retryable(transient) {
		t.Error("transient external should be retryable")
	}
	if Retryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !Retryable(errors.New("mystery")) {
		t.Error("unclassified errors should be retried once")
	}
}

func TestErrorRemediation(t *testing.T) {
	err := NewError(ErrPermanentExternal, "git auth rejected").
		WithRemediation("check remote credentials")
	wrapped := fmt.Errorf("sync: %w", err)
	res := FailResult(wrapped)
	if res.OK {
		t.Error("FailResult should not be ok")
	}
	if res.ErrorKind != string(ErrPermanentExternal) {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, ErrPermanentExternal)
	}
	if res.Remediation != "check remote credentials" {
		t.Errorf("Remediation = %q", res.Remediation)
	}
}

func containsBytes(data []byte, sub string) bool {
	return byteIndex(data, sub) >= 0
}

func byteIndex(data []byte, sub string) int {
	for i := 0; i+len(sub) <= len(data); i++ {
		if string(data[i:i+len(sub)]) == sub {
			return i
		}
	}
	return -1
}
