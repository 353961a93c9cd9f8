package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"omnimem/internal/memory"
	"omnimem/internal/store"
	"omnimem/internal/types"
)

var (
	writeLayer   string
	writeKind    string
	writeBody    string
	writeTags    []string
	writeRefs    []string
	writeStdin   bool
	findLimit    int
	findArchive  bool
	pruneLimit   int
	pruneKeep    []string
	reindexReset bool
	feedbackNote string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the memory home layout and default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := cfg.Paths()
		for _, dir := range append(paths.DurableDirs(), paths.DerivedDirs()...) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
		if _, err := os.Stat(paths.ConfigJSON()); os.IsNotExist(err) {
			if err := cfg.Save(); err != nil {
				return err
			}
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()
		return emit(types.Result{OK: true, Message: "memory home initialized at " + cfg.Home}, func() {
			printOK("memory home initialized at %s", cfg.Home)
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <summary>",
	Short: "Store a new memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := writeBody
		if writeStdin {
			data, err := readAllStdin()
			if err != nil {
				return err
			}
			body = data
		}
		layer := types.Layer(writeLayer)
		if !layer.Valid() {
			return usagef("invalid layer %q (valid: instant, short, long, archive)", writeLayer)
		}
		kind := types.Kind(writeKind)
		if !kind.Valid() {
			return usagef("invalid kind %q", writeKind)
		}

		var refs []types.Reference
		for _, raw := range writeRefs {
			ref, err := parseRefFlag(raw)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		env, err := svc.Write(memory.WriteRequest{
			Layer:     layer,
			Kind:      kind,
			Summary:   args[0],
			Body:      body,
			Tags:      writeTags,
			Refs:      refs,
			SessionID: sessionFlag,
			ProjectID: projectFlag,
		})
		if err != nil {
			return err
		}
		return emit(env, func() {
			printOK("stored %s (%s/%s)", env.ID, env.Layer, env.Kind)
		})
	},
}

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Search memories by text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		hits, err := svc.Find(args[0], store.Filter{
			ProjectID:      projectFlag,
			SessionID:      sessionFlag,
			IncludeArchive: findArchive,
		}, findLimit)
		if err != nil {
			return err
		}
		return emit(hits, func() {
			if len(hits) == 0 {
				fmt.Println(dimStyle.Render("no matches"))
				return
			}
			for _, h := range hits {
				fmt.Println(renderMemoryLine(h.Row.ID, string(h.Row.Layer), string(h.Row.Kind), h.Row.Summary, h.Score))
			}
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check body hashes, secret hygiene, and log integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		report, err := svc.Verify()
		if err != nil {
			return err
		}
		return emit(report, func() {
			if report.OK {
				printOK("verified %d rows, %d events, log clean",
					report.MemoryRowsChecked, report.EventsChecked)
				return
			}
			printWarn("%d issues, %d log corruptions", len(report.Issues), report.LogCorruptions)
			for _, issue := range report.Issues {
				fmt.Printf("  %s %s: %s\n", idStyle.Render(shortID(issue.MemoryID)), issue.Kind, issue.Detail)
			}
		})
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the indexed view from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		report, err := svc.Reindex(reindexReset)
		if err != nil {
			return err
		}
		return emit(report, func() {
			printOK("replayed %d events from %d files: %d rows, %d pruned, %d skipped",
				report.EventsApplied, report.Files, report.RowsUpserted,
				report.RowsPruned, report.EventsSkipped)
			if report.BodiesMissing > 0 {
				printWarn("%d bodies missing", report.BodiesMissing)
			}
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove the lowest-value memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep := memory.DefaultKeepKinds
		if len(pruneKeep) > 0 {
			keep = nil
			for _, k := range pruneKeep {
				kind := types.Kind(k)
				if !kind.Valid() {
					return usagef("invalid keep kind %q", k)
				}
				keep = append(keep, kind)
			}
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		report, err := svc.Prune(pruneLimit, keep)
		if err != nil {
			return err
		}
		return emit(report, func() {
			printOK("pruned %d of %d examined", report.Pruned, report.Examined)
		})
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <memory-id> <positive|negative|correct|forget>",
	Short: "Adjust a memory's signals from a usefulness verdict",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		verdict := memory.Verdict(args[1])
		if !verdict.Valid() {
			return usagef("invalid verdict %q", args[1])
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		env, err := svc.Feedback(args[0], verdict, feedbackNote)
		if err != nil {
			return err
		}
		return emit(env, func() {
			printOK("%s on %s: importance %.2f, confidence %.2f, reuse %d",
				verdict, shortID(env.ID), env.Signals.Importance,
				env.Signals.Confidence, env.Signals.ReuseCount)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store counts and sync health",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		stats, err := svc.Store().Stats()
		if err != nil {
			return err
		}
		syncStatus, _ := loadSyncStatus()

		payload := map[string]any{"store": stats, "sync": syncStatus}
		return emit(payload, func() {
			var b strings.Builder
			fmt.Fprintf(&b, "%s\n", titleStyle.Render("omnimem status"))
			fmt.Fprintf(&b, "memories: %d  links: %d  events: %d  core blocks: %d\n",
				stats.Memories, stats.Links, stats.Events, stats.CoreBlocks)
			for layer, n := range stats.ByLayer {
				fmt.Fprintf(&b, "  %s %d\n", layerStyle.Render(layer), n)
			}
			fmt.Fprintf(&b, "index: %.1f KiB", float64(stats.DBBytes)/1024)
			fmt.Println(boxStyle.Render(b.String()))
		})
	},
}

func parseRefFlag(raw string) (types.Reference, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return types.Reference{}, usagef("invalid ref %q, want <type>:<target>", raw)
	}
	return types.Reference{Type: parts[0], Target: parts[1]}, nil
}

func readAllStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func init() {
	writeCmd.Flags().StringVar(&writeLayer, "layer", "short", "target layer (instant, short, long, archive)")
	writeCmd.Flags().StringVar(&writeKind, "kind", "note", "semantic kind (note, decision, task, checkpoint, summary, evidence)")
	writeCmd.Flags().StringVar(&writeBody, "body", "", "markdown body text")
	writeCmd.Flags().BoolVar(&writeStdin, "stdin", false, "read the body from stdin")
	writeCmd.Flags().StringSliceVar(&writeTags, "tag", nil, "tag (repeatable)")
	writeCmd.Flags().StringSliceVar(&writeRefs, "ref", nil, "reference as <type>:<target> (repeatable)")

	findCmd.Flags().IntVar(&findLimit, "limit", 10, "maximum results")
	findCmd.Flags().BoolVar(&findArchive, "archive", false, "include the archive layer")

	reindexCmd.Flags().BoolVar(&reindexReset, "reset", false, "drop the view before replaying")

	pruneCmd.Flags().IntVar(&pruneLimit, "limit", 50, "maximum memories to remove")
	pruneCmd.Flags().StringSliceVar(&pruneKeep, "keep", nil, "kinds never pruned (default: decision, summary, checkpoint)")

	feedbackCmd.Flags().StringVar(&feedbackNote, "note", "", "free-form note recorded with the verdict")

	rootCmd.AddCommand(initCmd, writeCmd, findCmd, verifyCmd, reindexCmd, pruneCmd, feedbackCmd, statusCmd)
}
