package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"crease/internal/analysis"
	"crease/internal/services"
	"crease/internal/session"
	"crease/internal/uploadstore"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput, clearAll bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past analyses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *analysis.Client, _ *session.Manager) error {
				out := cmd.OutOrStdout()
				if clearAll {
					if err := client.ClearHistory(cmd.Context()); err != nil {
						return fmt.Errorf("clear history: %w", err)
					}
					if err := ctx.withStore(func(store *uploadstore.Store) error {
						return store.ClearResults(cmd.Context())
					}); err != nil {
						return fmt.Errorf("clear cached results: %w", err)
					}
					fmt.Fprintln(out, "History cleared")
					return nil
				}

				items, err := client.History(cmd.Context())
				if err != nil {
					return fmt.Errorf("fetch history: %w", err)
				}
				if jsonOutput {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(out, "No analyses yet")
					return nil
				}
				fmt.Fprintln(out, renderHistory(items))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete all history on the server and the local result cache")
	return cmd
}

func newResultCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput, cachedOnly bool

	cmd := &cobra.Command{
		Use:   "result <filename>",
		Short: "Show the analysis for an uploaded video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := args[0]
			var result *analysis.Result
			var err error
			if cachedOnly {
				result, err = ctx.cachedResult(cmd.Context(), filename)
				if err == nil && result == nil {
					err = fmt.Errorf("no cached analysis for %s", filename)
				}
			} else {
				result, err = ctx.fetchResult(cmd, filename)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, result)
			}
			renderResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&cachedOnly, "cached", false, "Read from the local cache without contacting the backend")
	return cmd
}

// fetchResult reads an analysis from the backend and refreshes the local
// cache. When the backend is unreachable the cached copy is used instead.
func (c *commandContext) fetchResult(cmd *cobra.Command, filename string) (*analysis.Result, error) {
	var result *analysis.Result
	err := c.withClient(func(client *analysis.Client, _ *session.Manager) error {
		var err error
		result, err = client.GetAnalysisResult(cmd.Context(), filename)
		return err
	})
	if err == nil {
		if cacheErr := c.withStore(func(store *uploadstore.Store) error {
			return store.SaveResult(cmd.Context(), "", result)
		}); cacheErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warn: unable to cache result: %v\n", cacheErr)
		}
		return result, nil
	}
	if services.IsNotFound(err) {
		return nil, fmt.Errorf("no analysis found for %s", filename)
	}
	if services.IsRetryable(err) || errors.Is(err, errNotLoggedIn) {
		cached, cacheErr := c.cachedResult(cmd.Context(), filename)
		if cacheErr == nil && cached != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warn: showing cached analysis (%v)\n", err)
			return cached, nil
		}
	}
	return nil, fmt.Errorf("fetch result: %w", err)
}

func newCompareCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput, force bool

	cmd := &cobra.Command{
		Use:   "compare <first> <second>",
		Short: "Compare two analyses of the same shot or delivery",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *analysis.Client, _ *session.Manager) error {
				if !force {
					if err := checkComparable(cmd.Context(), client, args[0], args[1]); err != nil {
						return err
					}
				}
				cmp, err := client.Compare(cmd.Context(), args[0], args[1])
				if err != nil {
					return fmt.Errorf("compare: %w", err)
				}
				if jsonOutput {
					return writeJSON(cmd, cmp)
				}
				if cmp.Video1Filename == "" {
					cmp.Video1Filename = args[0]
				}
				if cmp.Video2Filename == "" {
					cmp.Video2Filename = args[1]
				}
				renderComparison(cmd.OutOrStdout(), cmp)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the same-shot check")
	return cmd
}

func checkComparable(ctx context.Context, client *analysis.Client, first, second string) error {
	if first == second {
		return errors.New("pick two different analyses to compare")
	}
	items, err := client.History(ctx)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	byName := make(map[string]analysis.HistoryItem, len(items))
	for _, item := range items {
		byName[item.Filename] = item
	}
	a, ok := byName[first]
	if !ok {
		return fmt.Errorf("%s is not in your history", first)
	}
	b, ok := byName[second]
	if !ok {
		return fmt.Errorf("%s is not in your history", second)
	}
	if !analysis.CanCompare(a, b) {
		return fmt.Errorf("%s and %s are different shot or delivery types (use --force to compare anyway)", first, second)
	}
	return nil
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Training plans built from an analysis",
	}
	planCmd.AddCommand(newPlanGenerateCommand(ctx))
	planCmd.AddCommand(newPlanShowCommand(ctx))
	return planCmd
}

func newPlanGenerateCommand(ctx *commandContext) *cobra.Command {
	var days int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "generate <filename>",
		Short: "Generate a training plan from an analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("invalid --days %d (must be at least 1)", days)
			}
			return ctx.withClient(func(client *analysis.Client, _ *session.Manager) error {
				plan, err := client.GenerateTrainingPlan(cmd.Context(), args[0], days)
				if err != nil {
					return fmt.Errorf("generate training plan: %w", err)
				}
				if jsonOutput {
					return writeJSON(cmd, plan)
				}
				renderPlan(cmd.OutOrStdout(), args[0], plan)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of training days")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newPlanShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <filename>",
		Short: "Show a previously generated training plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *analysis.Client, _ *session.Manager) error {
				plan, err := client.GetTrainingPlan(cmd.Context(), args[0])
				if services.IsNotFound(err) {
					return fmt.Errorf("no training plan for %s; create one with `crease plan generate`", args[0])
				}
				if err != nil {
					return fmt.Errorf("fetch training plan: %w", err)
				}
				if jsonOutput {
					return writeJSON(cmd, plan)
				}
				renderPlan(cmd.OutOrStdout(), args[0], plan)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
