package syncd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"omnimem/internal/config"
	"omnimem/internal/governor"
	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/types"
	"omnimem/internal/weaver"
)

// Status is the persisted daemon health record, one file per home.
type Status struct {
	LastCycleAt         time.Time `json:"last_cycle_at"`
	LastPullAt          time.Time `json:"last_pull_at,omitempty"`
	LastPushAt          time.Time `json:"last_push_at,omitempty"`
	LastWeaveAt         time.Time `json:"last_weave_at,omitempty"`
	LastMaintenanceAt   time.Time `json:"last_maintenance_at,omitempty"`
	Cycles              int       `json:"cycles"`
	PullFailures        int       `json:"pull_failures"`
	PushFailures        int       `json:"push_failures"`
	WeaveFailures       int       `json:"weave_failures"`
	MaintenanceFailures int       `json:"maintenance_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastRemediation     string    `json:"last_remediation,omitempty"`
}

// Daemon runs the sync scheduler over one memory home.
type Daemon struct {
	cfg       *config.Config
	paths     config.Paths
	svc       *memory.Service
	weaver    *weaver.Weaver
	governor  *governor.Governor
	git       *gitRunner
	retry     retryPolicy
	projectID string
	now       func() time.Time

	maintMu sync.Mutex // serializes the maintenance sub-pass
	status  Status

	lastPush     time.Time
	lastWeave    time.Time
	lastMaint    time.Time
	lastScanSeen time.Time
}

// New wires a daemon over an open memory service.
func New(cfg *config.Config, svc *memory.Service, projectID string) *Daemon {
	paths := cfg.Paths()
	sc := cfg.Sync
	return &Daemon{
		cfg:       cfg,
		paths:     paths,
		svc:       svc,
		weaver:    weaver.New(cfg, svc),
		governor:  governor.New(cfg, svc),
		git:       newGitRunner(cfg.Home, sc.GetCommandTimeout()),
		projectID: projectID,
		now:       func() time.Time { return time.Now().UTC() },
		retry: retryPolicy{
			attempts:  sc.RetryAttempts,
			baseDelay: sc.GetRetryBaseDelay(),
			maxDelay:  sc.GetRetryMaxDelay(),
			sleep:     time.Sleep,
		},
	}
}

// SetClock overrides the clock. Tests only.
func (d *Daemon) SetClock(now func() time.Time) { d.now = now }

// Run drives sync cycles until the context is cancelled. With once set it
// performs a single cycle and returns. A cancellation mid-cycle finishes
// the current phase before exiting.
func (d *Daemon) Run(ctx context.Context, once bool) error {
	if !d.git.isRepo(ctx) {
		return types.NewError(types.ErrPermanentExternal,
			"memory home %s is not a git repository", d.cfg.Home).
			WithRemediation("run `git init` in the memory home and add the sync remote")
	}
	if err := d.ensureRemote(ctx); err != nil {
		return err
	}

	interval := d.cfg.Sync.GetInterval()
	for {
		d.cycle(ctx)
		if once {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// cycle runs one scheduler pass: pull, push when dirty, then the weave and
// maintenance phases on their own cadence. Phase failures are recorded and
// the cycle continues.
func (d *Daemon) cycle(ctx context.Context) {
	now := d.now()
	d.status.Cycles++
	d.status.LastCycleAt = now

	if err := d.retry.do("pull", func() error { return d.pull(ctx) }); err != nil {
		d.noteFailure(&d.status.PullFailures, err)
	} else {
		d.status.LastPullAt = d.now()
	}

	if d.shouldPush(ctx, now) {
		if err := d.retry.do("push", func() error { return d.push(ctx) }); err != nil {
			d.noteFailure(&d.status.PushFailures, err)
		} else {
			d.status.LastPushAt = d.now()
			d.lastPush = d.now()
		}
	}

	if now.Sub(d.lastWeave) >= d.cfg.Sync.GetWeaveInterval() {
		if _, err := d.weaver.Weave(ctx, d.projectID); err != nil {
			d.noteFailure(&d.status.WeaveFailures, err)
		} else {
			d.status.LastWeaveAt = d.now()
		}
		d.lastWeave = now
	}

	if now.Sub(d.lastMaint) >= d.cfg.Sync.GetMaintenanceInterval() {
		opts := governor.DefaultMaintainOptions()
		opts.ProjectID = d.projectID
		d.maintMu.Lock()
		res := d.governor.Maintain(opts)
		d.maintMu.Unlock()
		if len(res.Errors) > 0 {
			d.noteFailure(&d.status.MaintenanceFailures,
				fmt.Errorf("maintenance: %s", strings.Join(res.Errors, "; ")))
		} else {
			d.status.LastMaintenanceAt = d.now()
		}
		d.lastMaint = now
	}

	if err := d.saveStatus(); err != nil {
		logging.Sync("status save failed: %v", err)
	}
	_ = d.svc.RecordSystemEvent(types.EventSync, map[string]any{
		"cycles":        d.status.Cycles,
		"pull_failures": d.status.PullFailures,
		"push_failures": d.status.PushFailures,
	})
}

// ensureRemote pins the configured remote URL before the first cycle.
// Nothing to do when only a remote name is configured.
func (d *Daemon) ensureRemote(ctx context.Context) error {
	gh := d.cfg.Sync.GitHub
	if gh.RemoteURL == "" {
		return nil
	}
	if _, err := d.git.run(ctx, "remote", "set-url", gh.RemoteName, gh.RemoteURL); err != nil {
		if _, err := d.git.run(ctx, "remote", "add", gh.RemoteName, gh.RemoteURL); err != nil {
			return err
		}
	}
	return nil
}

// pull fetches and rebases onto the remote, then rebuilds the indexed view
// from the merged log so remote writes become visible.
func (d *Daemon) pull(ctx context.Context) error {
	gh := d.cfg.Sync.GitHub
	if _, err := d.git.run(ctx, "fetch", gh.RemoteName, gh.Branch); err != nil {
		return err
	}
	if _, err := d.git.run(ctx, "pull", "--rebase", gh.RemoteName, gh.Branch); err != nil {
		return err
	}
	report, err := d.svc.Reindex(true)
	if err != nil {
		return err
	}
	logging.Sync("pull: reindexed %d rows (%d events)", report.RowsUpserted, report.EventsApplied)
	return nil
}

// shouldPush gates the push phase on content changes and a minimum spacing
// so bursts of writes do not thrash the remote.
func (d *Daemon) shouldPush(ctx context.Context, now time.Time) bool {
	spacing := pushSpacing(d.cfg.Sync.GetInterval())
	if now.Sub(d.lastPush) < spacing {
		return false
	}
	if latest := d.latestContentMtime(); latest.After(d.lastScanSeen) {
		d.lastScanSeen = latest
		return true
	}
	dirty, err := d.git.dirty(ctx, d.stagePaths()...)
	if err != nil {
		return false
	}
	return dirty
}

// pushSpacing clamps the minimum push gap to [3s, 60s] of the cycle
// interval.
func pushSpacing(interval time.Duration) time.Duration {
	secs := int(interval.Seconds())
	if secs > 60 {
		secs = 60
	}
	if secs < 3 {
		secs = 3
	}
	return time.Duration(secs) * time.Second
}

// push stages only the configured layer subtrees (and optionally the event
// log), commits, and pushes.
func (d *Daemon) push(ctx context.Context) error {
	gh := d.cfg.Sync.GitHub
	paths := d.stagePaths()
	args := append([]string{"add", "--"}, paths...)
	if _, err := d.git.run(ctx, args...); err != nil {
		return err
	}

	dirty, err := d.git.dirty(ctx, paths...)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	msg := "omnimem sync " + d.now().Format("2006-01-02T15:04:05Z")
	if _, err := d.git.run(ctx, "commit", "-m", msg); err != nil {
		return err
	}
	if _, err := d.git.run(ctx, "push", gh.RemoteName, gh.Branch); err != nil {
		return err
	}
	logging.Sync("push: committed and pushed %q", msg)
	return nil
}

// stagePaths lists the home-relative paths the push phase may touch.
func (d *Daemon) stagePaths() []string {
	gh := d.cfg.Sync.GitHub
	var paths []string
	for _, layer := range gh.IncludeLayers {
		l := types.Layer(layer)
		if !l.Valid() {
			continue
		}
		paths = append(paths, relToHome(d.cfg.Home, d.paths.LayerDir(l)))
	}
	if gh.IncludeJSONL {
		paths = append(paths, relToHome(d.cfg.Home, d.paths.EventsDir()))
	}
	return paths
}

func relToHome(home, path string) string {
	rel, err := filepath.Rel(home, path)
	if err != nil {
		return path
	}
	return rel
}

// latestContentMtime scans the synced subtrees for the newest markdown or
// jsonl modification.
func (d *Daemon) latestContentMtime() time.Time {
	var latest time.Time
	for _, dir := range d.stagePaths() {
		root := filepath.Join(d.cfg.Home, dir)
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			if ext != ".md" && ext != ".jsonl" {
				return nil
			}
			if info.ModTime().After(latest) {
				latest = info.ModTime()
			}
			return nil
		})
	}
	return latest
}

// noteFailure bumps a failure counter and records the classified error.
func (d *Daemon) noteFailure(counter *int, err error) {
	*counter++
	d.status.LastError = err.Error()
	d.status.LastRemediation = types.RemediationOf(err)
	logging.Sync("phase failed: %v", err)
}

// SyncNow runs a single pull+push pass outside the scheduler.
func (d *Daemon) SyncNow(ctx context.Context) (*Status, error) {
	if !d.git.isRepo(ctx) {
		return nil, types.NewError(types.ErrPermanentExternal,
			"memory home %s is not a git repository", d.cfg.Home).
			WithRemediation("run `git init` in the memory home and add the sync remote")
	}
	if err := d.ensureRemote(ctx); err != nil {
		return nil, err
	}
	var firstErr error
	if err := d.retry.do("pull", func() error { return d.pull(ctx) }); err != nil {
		d.noteFailure(&d.status.PullFailures, err)
		firstErr = err
	} else {
		d.status.LastPullAt = d.now()
	}
	if err := d.retry.do("push", func() error { return d.push(ctx) }); err != nil {
		d.noteFailure(&d.status.PushFailures, err)
		if firstErr == nil {
			firstErr = err
		}
	} else {
		d.status.LastPushAt = d.now()
	}
	if err := d.saveStatus(); err != nil {
		logging.Sync("status save failed: %v", err)
	}
	st := d.status
	return &st, firstErr
}

// LoadStatus reads the persisted daemon status, zero when absent.
func LoadStatus(paths config.Paths) (*Status, error) {
	data, err := os.ReadFile(paths.SyncStatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Status{}, nil
		}
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode sync status: %w", err)
	}
	return &st, nil
}

// saveStatus persists the daemon status atomically.
func (d *Daemon) saveStatus() error {
	path := d.paths.SyncStatePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d.status, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
