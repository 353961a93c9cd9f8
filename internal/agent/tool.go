package agent

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// transientMarkers are the substrings that make a tool failure worth
// retrying. Anything else fails fast.
var transientMarkers = []string{
	"rate limit",
	"rate-limit",
	"rate_limit",
	"overload",
	"429",
	"503",
	"try again",
	"temporarily unavailable",
}

var retryAfterRe = regexp.MustCompile(`(?i)retry-after:\s*(\d+)`)

// IsTransient reports whether the error text looks like a passing
// condition on the tool side.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryAfterHint extracts an explicit wait from the error text, when the
// upstream supplied one.
func retryAfterHint(err error) (time.Duration, bool) {
	m := retryAfterRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	secs, perr := strconv.Atoi(m[1])
	if perr != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// ToolRunner invokes external assistant tools as subprocesses.
type ToolRunner struct {
	cfg   *config.AgentConfig
	sleep func(time.Duration)
	run   func(ctx context.Context, name string, args ...string) (string, error)
}

// NewToolRunner builds a runner over the configured tool table.
func NewToolRunner(cfg *config.AgentConfig) *ToolRunner {
	return &ToolRunner{
		cfg:   cfg,
		sleep: time.Sleep,
		run:   runCommand,
	}
}

// command resolves the executable for a tool name. The environment
// override wins over the configured table.
func (r *ToolRunner) command(tool string) (string, error) {
	envKey := "OMNIMEM_TOOL_CMD_" + strings.ToUpper(strings.ReplaceAll(tool, "-", "_"))
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}
	if v, ok := r.cfg.Tools[tool]; ok && v != "" {
		return v, nil
	}
	return "", types.NewError(types.ErrInvalidArgument, "unknown tool %q", tool).
		WithRemediation("configure agent.tools." + tool + " or set " + envKey)
}

// Invoke runs `<tool> exec <prompt>` with bounded retries on transient
// failures. Backoff is exponential with jitter, capped, and honors an
// explicit retry-after hint in the error text.
func (r *ToolRunner) Invoke(ctx context.Context, tool, prompt string) (string, error) {
	bin, err := r.command(tool)
	if err != nil {
		return "", err
	}

	attempts := r.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := r.cfg.GetRetryBaseDelay()
	maxDelay := r.cfg.GetRetryMaxDelay()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, r.cfg.GetToolTimeout())
		out, err := r.run(runCtx, bin, "exec", prompt)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsTransient(err) {
			logging.Agent("tool %s failed permanently: %v", tool, err)
			return "", types.WrapError(types.ErrPermanentExternal, err, "tool %s failed", tool).
				WithRemediation("check the tool installation and credentials")
		}
		if attempt == attempts {
			break
		}

		wait := delay
		if hint, ok := retryAfterHint(err); ok {
			wait = hint
		}
		// Jitter in [wait/2, wait).
		wait = wait/2 + time.Duration(rand.Int63n(int64(wait/2)+1))
		if wait > maxDelay {
			wait = maxDelay
		}
		logging.Agent("tool %s transient failure (attempt %d/%d), retrying in %v: %v",
			tool, attempt, attempts, wait, err)
		r.sleep(wait)

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return "", types.WrapError(types.ErrTransientExternal, lastErr,
		"tool %s failed after %d attempts", tool, attempts).
		WithRemediation("the tool kept reporting transient errors; try again later")
}

// runCommand executes the binary and folds stderr into the error so the
// transient classifier can see the tool's complaint.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
