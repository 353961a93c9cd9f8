package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"omnimem/internal/governor"
	"omnimem/internal/syncd"
)

var (
	daemonOnce bool

	maintainPrune    int
	maintainDistill  bool
	maintainTemporal bool
	maintainReflect  bool
	maintainAdaptive bool
	maintainWindow   int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Git replication of the memory home",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Run one pull+push pass immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		d := syncd.New(cfg, svc, projectFlag)
		status, err := d.SyncNow(cmd.Context())
		if status != nil {
			_ = emit(status, func() {
				printOK("pull failures %d, push failures %d", status.PullFailures, status.PushFailures)
			})
		}
		return err
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted daemon health record",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := loadSyncStatus()
		if err != nil {
			return err
		}
		return emit(status, func() {
			if status.Cycles == 0 {
				fmt.Println(dimStyle.Render("daemon has not run yet"))
				return
			}
			printOK("%d cycles, last %s", status.Cycles, status.LastCycleAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("failures: pull %d, push %d, weave %d, maintenance %d\n",
				status.PullFailures, status.PushFailures,
				status.WeaveFailures, status.MaintenanceFailures)
			if status.LastError != "" {
				printWarn("last error: %s", status.LastError)
				if status.LastRemediation != "" {
					fmt.Println(hintStyle.Render("hint: " + status.LastRemediation))
				}
			}
		})
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync scheduler loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if !jsonOutput && !daemonOnce {
			printOK("sync daemon running every %s (ctrl-c to stop)", cfg.Sync.Interval)
		}
		d := syncd.New(cfg, svc, projectFlag)
		return d.Run(ctx, daemonOnce)
	},
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run governance passes: decay, consolidate, compress, and more",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		opts := governor.DefaultMaintainOptions()
		opts.ProjectID = projectFlag
		opts.PruneLimit = maintainPrune
		opts.Distill = maintainDistill
		opts.Temporal = maintainTemporal
		opts.Reflect = maintainReflect
		opts.Adaptive = maintainAdaptive
		opts.WindowDays = maintainWindow

		g := governor.New(cfg, svc)
		result := g.Maintain(opts)
		return emit(result, func() {
			printOK("decayed %d, pruned %d, promoted %d, demoted %d, compressed %d",
				result.Decayed, result.Pruned, result.Promoted, result.Demoted, result.Compressed)
			if result.Distilled+result.TemporalEdge+result.Rehearsed+result.Reflected > 0 {
				fmt.Printf("distilled %d, temporal edges %d, rehearsed %d, reflections %d\n",
					result.Distilled, result.TemporalEdge, result.Rehearsed, result.Reflected)
			}
			for _, e := range result.Errors {
				printWarn("%s", e)
			}
		})
	},
}

// loadSyncStatus reads the persisted daemon record for status displays.
func loadSyncStatus() (*syncd.Status, error) {
	return syncd.LoadStatus(cfg.Paths())
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonOnce, "once", false, "run a single cycle and exit")

	maintainCmd.Flags().IntVar(&maintainPrune, "prune", 0, "also prune up to N low-value memories")
	maintainCmd.Flags().BoolVar(&maintainDistill, "distill", false, "distill hot sessions into cluster digests")
	maintainCmd.Flags().BoolVar(&maintainTemporal, "temporal", false, "link the session time hierarchy")
	maintainCmd.Flags().BoolVar(&maintainReflect, "reflect", false, "surface recurring low-reuse topics")
	maintainCmd.Flags().BoolVar(&maintainAdaptive, "adaptive", false, "derive thresholds from recent signal quantiles")
	maintainCmd.Flags().IntVar(&maintainWindow, "window", 0, "analysis window in days (0 = configured default)")

	syncCmd.AddCommand(syncNowCmd, syncStatusCmd)
	rootCmd.AddCommand(syncCmd, daemonCmd, maintainCmd)
}
