// Package syncd replicates the memory home across devices through git.
// A single scheduler loop interleaves pull, push, weave, and maintenance
// phases; every git invocation is classified so auth and conflict failures
// surface a remediation hint instead of retrying forever.
package syncd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"omnimem/internal/logging"
)

// gitRunner shells out to git inside the memory home. The exec function is
// swappable for tests.
type gitRunner struct {
	dir     string
	timeout time.Duration
	exec    func(ctx context.Context, dir string, args ...string) (string, error)
}

func newGitRunner(dir string, timeout time.Duration) *gitRunner {
	return &gitRunner{dir: dir, timeout: timeout, exec: execGit}
}

// run invokes one git command with the configured timeout and returns the
// combined output. Failures carry the output so the classifier can read
// git's complaint.
func (g *gitRunner) run(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	out, err := g.exec(runCtx, g.dir, args...)
	if err != nil {
		logging.Sync("git %s failed: %v", strings.Join(args, " "), err)
		return out, classify(fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out)))
	}
	return out, nil
}

// execGit is the real subprocess invocation.
func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// isRepo reports whether the directory is inside a git work tree.
func (g *gitRunner) isRepo(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// dirty reports whether the work tree has uncommitted changes under the
// given paths (all paths when none given).
func (g *gitRunner) dirty(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}
