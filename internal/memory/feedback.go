package memory

import (
	"time"

	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// Verdict is an explicit feedback signal from the user or an agent.
type Verdict string

const (
	// VerdictPositive marks a memory that helped; reuse climbs.
	VerdictPositive Verdict = "positive"
	// VerdictNegative marks a memory that misled; reuse drops and
	// volatility climbs.
	VerdictNegative Verdict = "negative"
	// VerdictCorrect marks a memory confirmed accurate; confidence climbs.
	VerdictCorrect Verdict = "correct"
	// VerdictForget asks for the memory to fade: reuse resets and the
	// memory demotes one layer toward instant.
	VerdictForget Verdict = "forget"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPositive, VerdictNegative, VerdictCorrect, VerdictForget:
		return true
	}
	return false
}

// Feedback applies an explicit verdict to one memory. The signal
// adjustment is emitted as an envelope-bearing update event; the verdict
// itself is traced as a memory.feedback event so adaptive thresholding can
// read the recent feedback mix from the log.
func (s *Service) Feedback(id string, verdict Verdict, note string) (*types.Envelope, error) {
	if !verdict.Valid() {
		return nil, types.NewError(types.ErrInvalidArgument,
			"invalid verdict %q (valid: positive, negative, correct, forget)", verdict)
	}
	if id == types.SystemMemoryID {
		return nil, types.NewError(types.ErrInvalidArgument, "the system memory does not take feedback")
	}
	row, err := s.idx.Get(id)
	if err != nil {
		return nil, err
	}

	sig := row.Signals
	switch verdict {
	case VerdictPositive:
		sig.ReuseCount += 2
		sig.Importance += 0.05
		sig.Stability += 0.05
	case VerdictNegative:
		sig.ReuseCount--
		sig.Confidence -= 0.15
		sig.Volatility += 0.15
	case VerdictCorrect:
		sig.ReuseCount++
		sig.Confidence += 0.15
		sig.Stability += 0.05
	case VerdictForget:
		sig.ReuseCount = 0
		sig.Importance -= 0.25
		sig.Volatility += 0.25
	}

	if err := s.RecordEvent(types.EventFeedback, id, map[string]any{
		"verdict": string(verdict),
		"note":    note,
	}); err != nil {
		return nil, err
	}

	env, err := s.SetSignals(id, sig)
	if err != nil {
		return nil, err
	}

	if verdict == VerdictForget && row.Layer.Rank() > types.LayerInstant.Rank() {
		target := types.Layers[row.Layer.Rank()-1]
		if env, err = s.SetLayer(id, target, "feedback:forget"); err != nil {
			return nil, err
		}
	}

	logging.Governor("feedback %s on %s (reuse %d -> %d)",
		verdict, id, row.Signals.ReuseCount, env.Signals.ReuseCount)
	return env, nil
}

// RecentFeedback tallies feedback verdicts recorded in a window. The
// adaptive threshold pass biases itself with this.
type RecentFeedback struct {
	Positive int
	Negative int
	Correct  int
	Forget   int
}

// CountRecentFeedback scans the event log for feedback verdicts since the
// given instant.
func (s *Service) CountRecentFeedback(since time.Time) (RecentFeedback, error) {
	var fb RecentFeedback
	_, err := s.log.Scan(func(ev types.Event) error {
		if ev.EventType != types.EventFeedback || ev.EventTime.Before(since) {
			return nil
		}
		verdict, _ := ev.Payload.Extra["verdict"].(string)
		switch Verdict(verdict) {
		case VerdictPositive:
			fb.Positive++
		case VerdictNegative:
			fb.Negative++
		case VerdictCorrect:
			fb.Correct++
		case VerdictForget:
			fb.Forget++
		}
		return nil
	})
	return fb, err
}
