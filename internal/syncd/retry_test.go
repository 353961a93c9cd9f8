package syncd

import (
	"errors"
	"testing"
	"time"

	"omnimem/internal/types"
)

func testPolicy(attempts int) (retryPolicy, *[]time.Duration) {
	var slept []time.Duration
	return retryPolicy{
		attempts:  attempts,
		baseDelay: time.Second,
		maxDelay:  4 * time.Second,
		sleep:     func(d time.Duration) { slept = append(slept, d) },
	}, &slept
}

func TestRetryEventualSuccess(t *testing.T) {
	p, slept := testPolicy(4)
	calls := 0
	err := p.do("pull", func() error {
		calls++
		if calls < 3 {
			return types.NewError(types.ErrTransientExternal, "network hiccup")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Backoff doubles from the base and caps: 1s, 2s.
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	p, slept := testPolicy(5)
	calls := 0
	err := p.do("push", func() error {
		calls++
		return classify(errors.New("authentication failed"))
	})
	if types.KindOf(err) != types.ErrPermanentExternal {
		t.Fatalf("err = %v, want PermanentExternal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, non-retryable failures get one attempt", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want none", *slept)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	p, slept := testPolicy(3)
	calls := 0
	err := p.do("pull", func() error {
		calls++
		return classify(errors.New("connection timed out"))
	})
	if err == nil {
		t.Fatal("expected the last error back")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 {
		t.Errorf("sleeps = %d, want 2", len(*slept))
	}
}

func TestRetryBackoffCaps(t *testing.T) {
	p, slept := testPolicy(5)
	_ = p.do("pull", func() error {
		return types.NewError(types.ErrTransientExternal, "still down")
	})
	// 1s, 2s, 4s, then capped at 4s.
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestPushSpacingClamp(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     time.Duration
	}{
		{time.Second, 3 * time.Second},
		{30 * time.Second, 30 * time.Second},
		{5 * time.Minute, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := pushSpacing(tt.interval); got != tt.want {
			t.Errorf("pushSpacing(%v) = %v, want %v", tt.interval, got, tt.want)
		}
	}
}
