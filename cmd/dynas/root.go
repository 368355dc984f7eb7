package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nasopt/dynas/pkg/logger"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:   "dynas",
		Short: "Architecture encoding and multi-objective neural architecture search",
		Long: `dynas encodes supernet sub-networks, counts their cost, trains objective
predictors and runs multi-objective searches locally or on a nasd daemon.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetDefault(logger.FromFormat(logFormat, logLevel, os.Stderr))
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newSearchCmd(),
		newSpacesCmd(),
		newEncodeCmd(),
		newDecodeCmd(),
		newOnehotCmd(),
		newMACsCmd(),
		newPredictorCmd(),
		newSubmitCmd(),
		newWatchCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dynas version %s\n", version)
		},
	}
}
