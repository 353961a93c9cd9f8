// Command omnimem is the CLI boundary over the memory substrate. Every
// subcommand opens the memory home, performs one operation through the
// internal packages, and renders the outcome either as JSON for machine
// callers or as styled text for humans.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/memory"
	"omnimem/internal/types"
)

var (
	// Global flags
	homeFlag    string
	verbose     bool
	jsonOutput  bool
	projectFlag string
	sessionFlag string

	// Logger for CLI diagnostics; category file logs are separate.
	logger *zap.Logger

	cfg *config.Config
)

// usageError marks errors that should exit with the usage code.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "omnimem",
	Short: "omnimem - personal memory substrate for AI coding assistants",
	Long: `omnimem stores durable memories in three coordinated projections:
human-auditable markdown bodies, an append-only JSONL event log, and a
rebuildable indexed view. The CLI is a thin boundary; state lives in the
memory home (--home, OMNIMEM_HOME, or ~/.omnimem).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		home, err := config.ResolveHome(homeFlag)
		if err != nil {
			return err
		}
		cfg, err = config.Load(home)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logging.Initialize(home); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "memory home directory (default: OMNIMEM_HOME or ~/.omnimem)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose diagnostics on stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "default", "project scope")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session scope")
}

// openService opens the triplicated store under the resolved home.
func openService() (*memory.Service, error) {
	return memory.Open(cfg)
}

// emit renders a payload as JSON or hands it to a human renderer.
func emit(payload any, human func()) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
	human()
	return nil
}

// emitError prints a failure in the selected format.
func emitError(err error) {
	if jsonOutput {
		res := types.Result{
			OK:          false,
			Message:     err.Error(),
			ErrorKind:   string(types.KindOf(err)),
			Remediation: types.RemediationOf(err),
		}
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
	if hint := types.RemediationOf(err); hint != "" {
		fmt.Fprintln(os.Stderr, hintStyle.Render("hint: "+hint))
	}
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var uerr usageError
	if errors.As(err, &uerr) || isCobraUsageError(err) {
		emitError(err)
		os.Exit(2)
	}
	emitError(err)
	os.Exit(1)
}

// isCobraUsageError spots cobra's own argument and flag complaints, which
// surface as plain errors before RunE executes.
func isCobraUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"unknown command", "unknown flag", "unknown shorthand flag",
		"accepts ", "requires at least", "invalid argument"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
