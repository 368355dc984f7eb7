package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nasopt/dynas/internal/nas"
	"github.com/nasopt/dynas/internal/plot"
	"github.com/nasopt/dynas/internal/search"
	"github.com/nasopt/dynas/pkg/config"
)

func newSearchCmd() *cobra.Command {
	var (
		configPath string
		id         string
		reportPath string
		jsonOut    bool
		fresh      bool
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a search locally",
		Long: `Runs the search described by a configuration file in this process and
prints the Pareto front. With --report an HTML chart of the results is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.NAS.Search.Seed = seed
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			agent, err := nas.New(ctx, cfg, nas.Options{
				ID: id,
				OnGeneration: func(step search.GenerationStep) {
					slog.Debug("generation", "generation", step.Generation, "front", step.FrontSize, "hypervolume", step.Hypervolume)
				},
			})
			if err != nil {
				return err
			}
			defer agent.Close()

			if fresh {
				if err := agent.Store().Clear(ctx); err != nil {
					return fmt.Errorf("clear results: %w", err)
				}
			}

			out, err := agent.Search(ctx)
			var exhausted *search.SearchSpaceExhaustedError
			switch {
			case out == nil && err != nil:
				return err
			case errors.As(err, &exhausted):
				slog.Warn("search space exhausted; reporting the best front so far", "error", err)
			case err != nil:
				slog.Warn("search stopped early", "error", err)
			}

			if reportPath != "" {
				if err := plot.WriteFile(reportPath, nas.Report(out, "Search "+agent.ID())); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				slog.Info("report written", "path", reportPath)
			}
			return printOutcome(cmd, out, jsonOut)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Search configuration file")
	cmd.Flags().StringVar(&id, "id", "", "Search ID (generated when empty)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write an HTML chart of the results to this path")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the front as JSON")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Clear stored results before searching instead of warm starting")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Override the configured seed")
	return cmd
}

func printOutcome(cmd *cobra.Command, out *nas.Outcome, jsonOut bool) error {
	w := cmd.OutOrStdout()
	front := nas.SortFront(out.Front, out.Objectives)
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"id":        out.ID,
			"approach":  out.Approach,
			"algorithm": out.Algorithm,
			"summary":   out.Summary,
			"front":     front,
		})
	}
	fmt.Fprintln(w, nas.Describe(out))
	for i, rec := range front {
		fmt.Fprintf(w, "%3d  %s  [%s]\n", i+1, nas.FormatRecord(rec, out.Objectives), rec.Vector.String())
	}
	return nil
}
