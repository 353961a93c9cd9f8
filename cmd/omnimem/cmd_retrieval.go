package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omnimem/internal/composer"
	"omnimem/internal/retrieval"
	"omnimem/internal/types"
)

var (
	retrieveLimit   int
	retrieveMode    string
	retrieveDepth   int
	retrieveArchive bool
	retrieveBump    bool
	retrieveExplain bool

	composeBudget  int
	composeDelta   bool
	composeKey     string
	composeRequest bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Hybrid retrieval with graph expansion and diversity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := types.RankingMode(retrieveMode)
		if retrieveMode != "" && !mode.Valid() {
			return usagef("invalid mode %q (valid: lexical, cognitive, hybrid, ppr)", retrieveMode)
		}
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		engine := retrieval.New(cfg, svc)
		resp, err := engine.Retrieve(args[0],
			types.Scope{ProjectID: projectFlag},
			retrieval.Options{
				Limit:            retrieveLimit,
				Mode:             mode,
				Depth:            retrieveDepth,
				IncludeArchive:   retrieveArchive,
				SessionID:        sessionFlag,
				ProfileBias:      true,
				DriftBias:        true,
				CoreBlocks:       true,
				SelfCheck:        true,
				AdaptiveFeedback: retrieveBump,
			})
		if err != nil {
			return err
		}
		return emit(resp, func() {
			for _, cb := range resp.CoreBlocks {
				fmt.Println(titleStyle.Render("[core:" + cb.Name + "]"))
			}
			for _, item := range resp.Items {
				fmt.Println(renderMemoryLine(item.ID, string(item.Layer), string(item.Kind), item.Summary, item.Score))
				if retrieveExplain {
					fmt.Println(dimStyle.Render("    " + strings.Join(item.WhyRecalled, "; ")))
				}
			}
			if resp.Coverage > 0 {
				fmt.Println(dimStyle.Render(fmt.Sprintf("coverage %.0f%%, %d seeds, %d expanded",
					resp.Coverage*100, resp.SeedCount, resp.ExpandedCount)))
			}
		})
	},
}

var composeCmd = &cobra.Command{
	Use:   "compose <request>",
	Short: "Assemble a budgeted context pack for a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		engine := retrieval.New(cfg, svc)
		resp, err := engine.Retrieve(args[0],
			types.Scope{ProjectID: projectFlag},
			retrieval.Options{
				SessionID:   sessionFlag,
				ProfileBias: true,
				DriftBias:   true,
				CoreBlocks:  true,
			})
		if err != nil {
			return err
		}

		comp := composer.New(cfg)
		stateKey := composeKey
		if stateKey == "" {
			stateKey = projectFlag
		}
		result, err := comp.Compose(composer.Input{
			ProjectID:          projectFlag,
			UserRequest:        args[0],
			Candidates:         resp.Items,
			CoreBlocks:         resp.CoreBlocks,
			Route:              resp.Route,
			Budget:             composeBudget,
			IncludeProtocol:    true,
			IncludeUserRequest: composeRequest,
			DeltaEnabled:       composeDelta,
			StateKey:           stateKey,
		})
		if err != nil {
			return err
		}
		return emit(result, func() {
			fmt.Println(result.Text)
			fmt.Println(dimStyle.Render(fmt.Sprintf("-- %d/%d tokens, %d new, %d seen",
				result.EstTokens, result.Budget, result.NewCount, result.SeenCount)))
		})
	},
}

func init() {
	retrieveCmd.Flags().IntVar(&retrieveLimit, "limit", 0, "maximum results (0 = configured default)")
	retrieveCmd.Flags().StringVar(&retrieveMode, "mode", "", "ranking mode (lexical, cognitive, hybrid, ppr)")
	retrieveCmd.Flags().IntVar(&retrieveDepth, "depth", 0, "graph expansion depth (0 = configured default)")
	retrieveCmd.Flags().BoolVar(&retrieveArchive, "archive", false, "include the archive layer")
	retrieveCmd.Flags().BoolVar(&retrieveBump, "bump", false, "bump reuse counts on the results")
	retrieveCmd.Flags().BoolVar(&retrieveExplain, "explain", false, "show why each memory was recalled")

	composeCmd.Flags().IntVar(&composeBudget, "budget", 0, "token budget (0 = configured default)")
	composeCmd.Flags().BoolVar(&composeDelta, "delta", false, "suppress memories the caller has already seen")
	composeCmd.Flags().StringVar(&composeKey, "state-key", "", "delta state identity (default: project)")
	composeCmd.Flags().BoolVar(&composeRequest, "request", true, "echo the user request into the pack")

	rootCmd.AddCommand(retrieveCmd, composeCmd)
}
