package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"omnimem/internal/agent"
	"omnimem/internal/types"
)

var (
	turnTool    string
	turnProfile string
	turnQuota   string
	turnDryRun  bool
)

var turnCmd = &cobra.Command{
	Use:   "turn <prompt>",
	Short: "Run one orchestrated turn against an external tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quota := types.QuotaMode(turnQuota)
		if turnQuota != "" && !quota.Valid() {
			return usagef("invalid quota mode %q (valid: auto, normal, low, critical)", turnQuota)
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		orch := agent.New(cfg, svc)
		result, err := orch.Turn(cmd.Context(), agent.TurnRequest{
			Tool:      turnTool,
			ProjectID: projectFlag,
			Prompt:    args[0],
			Profile:   agent.Profile(turnProfile),
			QuotaMode: quota,
			DryRun:    turnDryRun,
		})
		if err != nil {
			return err
		}
		return emit(result, func() {
			printOK("turn %d session %s (drift %.2f, %d retrieved, %d/%d tokens)",
				result.Turn, shortID(result.SessionID), result.Drift,
				result.Retrieved, result.Context.EstTokens, result.Context.Budget)
			if result.Checkpointed {
				printWarn("topic shifted; session rotated to %s", shortID(result.NewSessionID))
			}
			if result.Answer != "" {
				fmt.Println(result.Answer)
			}
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail tool transcripts into best-effort instant notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w := agent.NewWatcher(cfg, svc)
		if !jsonOutput {
			printOK("watching %s (ctrl-c to stop)", cfg.Watcher.TranscriptDir)
		}
		return w.Run(ctx, projectFlag)
	},
}

func init() {
	turnCmd.Flags().StringVar(&turnTool, "tool", "claude", "external tool name")
	turnCmd.Flags().StringVar(&turnProfile, "profile", "balanced", "consumption profile (balanced, low_quota, deep_research, high_throughput)")
	turnCmd.Flags().StringVar(&turnQuota, "quota", "auto", "quota mode (auto, normal, low, critical)")
	turnCmd.Flags().BoolVar(&turnDryRun, "dry-run", false, "compose context but skip the tool subprocess")

	rootCmd.AddCommand(turnCmd, watchCmd)
}
