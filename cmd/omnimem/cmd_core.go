package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omnimem/internal/types"
)

var (
	corePriority int
	coreTopic    string
	coreLimit    int
)

var coreCmd = &cobra.Command{
	Use:   "core",
	Short: "Manage pinned core directive blocks",
}

var coreSetCmd = &cobra.Command{
	Use:   "set <name> <line> [line...]",
	Short: "Pin or replace a core block",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		block := types.CoreBlock{
			ProjectID: projectFlag,
			SessionID: sessionFlag,
			Name:      args[0],
			Lines:     args[1:],
			Priority:  corePriority,
			Topic:     coreTopic,
		}
		if err := svc.SetCoreBlock(block); err != nil {
			return err
		}
		return emit(types.Result{OK: true, Message: "core block " + args[0] + " set"}, func() {
			printOK("core block %s set (%d lines, priority %d)", args[0], len(block.Lines), block.Priority)
		})
	},
}

var coreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List core blocks for the scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		blocks, err := svc.CoreBlocks(projectFlag, sessionFlag, coreLimit)
		if err != nil {
			return err
		}
		return emit(blocks, func() {
			if len(blocks) == 0 {
				fmt.Println(dimStyle.Render("no core blocks"))
				return
			}
			for _, b := range blocks {
				scope := "project"
				if b.SessionID != "" {
					scope = "session " + shortID(b.SessionID)
				}
				fmt.Printf("%s %s (%s, priority %d)\n",
					titleStyle.Render(b.Name), dimStyle.Render(scope), b.Topic, b.Priority)
				for _, line := range b.Lines {
					fmt.Println("  " + line)
				}
			}
		})
	},
}

var coreMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Fold the session's core blocks into the project scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionFlag == "" {
			return usagef("core merge requires --session")
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		report, err := svc.MergeCoreBlocks(projectFlag, sessionFlag)
		if err != nil {
			return err
		}
		return emit(report, func() {
			printOK("merged %d (%s), skipped %d, archived %d, dropped %d",
				report.Merged, strings.Join(report.MergedNames, ", "),
				report.Skipped, report.Archived, report.Dropped)
		})
	},
}

func init() {
	coreSetCmd.Flags().IntVar(&corePriority, "priority", 0, "block priority; higher wins merges")
	coreSetCmd.Flags().StringVar(&coreTopic, "topic", "", "optional topic label")
	coreListCmd.Flags().IntVar(&coreLimit, "limit", 0, "maximum blocks (0 = all)")

	coreCmd.AddCommand(coreSetCmd, coreListCmd, coreMergeCmd)
	rootCmd.AddCommand(coreCmd)
}
