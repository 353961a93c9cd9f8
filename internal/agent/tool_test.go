package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/types"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"upstream said 429 Too Many Requests", true},
		{"Rate limit exceeded, retry-after: 30", true},
		{"server overloaded, try again shortly", true},
		{"503 service temporarily unavailable", true},
		{"authentication failed: invalid api key", false},
		{"exec: \"claude\": executable file not found in $PATH", false},
		{"", false},
	}
	for _, tt := range tests {
		var err error
		if tt.msg != "" {
			err = errors.New(tt.msg)
		}
		if got := IsTransient(err); got != tt.want {
			t.Errorf("IsTransient(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestRetryAfterHint(t *testing.T) {
	d, ok := retryAfterHint(errors.New("429 rate limit, Retry-After: 12"))
	if !ok || d != 12*time.Second {
		t.Errorf("hint = %v/%v, want 12s", d, ok)
	}
	if _, ok := retryAfterHint(errors.New("plain failure")); ok {
		t.Error("no hint expected without the header")
	}
}

func testRunner(t *testing.T) (*ToolRunner, *[]time.Duration) {
	t.Helper()
	cfg := config.DefaultAgentConfig()
	r := NewToolRunner(&cfg)
	var slept []time.Duration
	r.sleep = func(d time.Duration) { slept = append(slept, d) }
	return r, &slept
}

func TestInvokeRetriesTransientThenSucceeds(t *testing.T) {
	r, slept := testRunner(t)
	calls := 0
	r.run = func(ctx context.Context, name string, args ...string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service temporarily unavailable")
		}
		return "answer text", nil
	}

	out, err := r.Invoke(context.Background(), "claude", "what changed?")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "answer text" {
		t.Errorf("out = %q", out)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 {
		t.Errorf("sleeps = %d, want 2", len(*slept))
	}
	for _, d := range *slept {
		if d <= 0 || d > r.cfg.GetRetryMaxDelay() {
			t.Errorf("backoff %v outside (0, max]", d)
		}
	}
}

func TestInvokePermanentFailsFast(t *testing.T) {
	r, slept := testRunner(t)
	calls := 0
	r.run = func(ctx context.Context, name string, args ...string) (string, error) {
		calls++
		return "", errors.New("authentication failed: bad credentials")
	}

	_, err := r.Invoke(context.Background(), "claude", "hello")
	if types.KindOf(err) != types.ErrPermanentExternal {
		t.Fatalf("err = %v, want PermanentExternal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, permanent failures get exactly one attempt", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no backoff", *slept)
	}
}

func TestInvokeExhaustsTransientAttempts(t *testing.T) {
	r, _ := testRunner(t)
	calls := 0
	r.run = func(ctx context.Context, name string, args ...string) (string, error) {
		calls++
		return "", errors.New("rate limit exceeded")
	}

	_, err := r.Invoke(context.Background(), "claude", "hello")
	if types.KindOf(err) != types.ErrTransientExternal {
		t.Fatalf("err = %v, want TransientExternal", err)
	}
	if calls != r.cfg.RetryAttempts {
		t.Errorf("calls = %d, want %d", calls, r.cfg.RetryAttempts)
	}
	if !types.Retryable(err) {
		t.Error("exhausted transient error should still classify retryable")
	}
}

func TestInvokeHonorsRetryAfter(t *testing.T) {
	r, slept := testRunner(t)
	calls := 0
	r.run = func(ctx context.Context, name string, args ...string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("429 rate limit, retry-after: 4")
		}
		return "ok", nil
	}

	if _, err := r.Invoke(context.Background(), "claude", "hello"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(*slept) != 1 {
		t.Fatalf("sleeps = %d, want 1", len(*slept))
	}
	// Jitter keeps the wait in [hint/2, hint].
	if (*slept)[0] < 2*time.Second || (*slept)[0] > 4*time.Second {
		t.Errorf("wait = %v, want within the 4s hint window", (*slept)[0])
	}
}

func TestCommandResolution(t *testing.T) {
	cfg := config.DefaultAgentConfig()
	r := NewToolRunner(&cfg)

	bin, err := r.command("claude")
	if err != nil || bin != "claude" {
		t.Errorf("command = %q/%v, want configured claude", bin, err)
	}

	t.Setenv("OMNIMEM_TOOL_CMD_CLAUDE", "/opt/bin/claude-next")
	bin, err = r.command("claude")
	if err != nil || bin != "/opt/bin/claude-next" {
		t.Errorf("command = %q/%v, want env override", bin, err)
	}

	_, err = r.command("nope")
	if types.KindOf(err) != types.ErrInvalidArgument {
		t.Errorf("unknown tool err = %v, want InvalidArgument", err)
	}
}
