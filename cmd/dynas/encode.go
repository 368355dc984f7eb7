package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nasopt/dynas/internal/evaluator"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/utils"
)

const defaultSupernet = "ofa_mbv3_d234_e346_k357_w1.0"

func managerFor(name string) (*supernet.ParameterManager, error) {
	space, err := supernet.Lookup(name)
	if err != nil {
		return nil, err
	}
	return supernet.NewParameterManager(space), nil
}

// parseVector accepts "[1,2,3]", "1,2,3" or "1 2 3"
func parseVector(s string) (supernet.Vector, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	v := make(supernet.Vector, len(fields))
	for i, f := range fields {
		x, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("vector position %d: %w", i, err)
		}
		v[i] = x
	}
	return v, nil
}

// archOrVector reads either an architecture object or a vector
func archOrVector(pm *supernet.ParameterManager, arg string) (supernet.Vector, error) {
	if strings.HasPrefix(strings.TrimSpace(arg), "{") {
		cfg, err := results.ParseArch(arg)
		if err != nil {
			return nil, err
		}
		return pm.TranslateToVector(cfg)
	}
	return parseVector(arg)
}

func writeArch(cmd *cobra.Command, cfg supernet.ArchConfig) error {
	out, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func newSpacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spaces",
		Short: "List the registered supernet search spaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range supernet.Names() {
				space, err := supernet.Lookup(name)
				if err != nil {
					return err
				}
				params := make([]string, 0, len(space.Params()))
				for _, p := range space.Params() {
					params = append(params, fmt.Sprintf("%s×%d", p.Name, p.Count))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-36s vector %3d  onehot %4d  size %s  [%s]\n",
					name, space.VectorLength(), space.OneHotLength(),
					humanize.SIWithDigits(float64(space.Size()), 2, ""), strings.Join(params, " "))
			}
			return nil
		},
	}
}

func newEncodeCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "encode <arch-json>",
		Short: "Encode an architecture config into its integer vector",
		Long: `Encodes an architecture given as a JSON object (or a Python dict literal
from a results CSV) into the search space's integer vector. Realized configs,
truncated to the active depth, are accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := managerFor(name)
			if err != nil {
				return err
			}
			cfg, err := results.ParseArch(args[0])
			if err != nil {
				return err
			}
			v, err := pm.TranslateToVector(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "supernet", defaultSupernet, "Supernet search space")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	var (
		name     string
		realized bool
	)
	cmd := &cobra.Command{
		Use:   "decode <vector>",
		Short: "Decode an integer vector into its architecture config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := managerFor(name)
			if err != nil {
				return err
			}
			v, err := parseVector(args[0])
			if err != nil {
				return err
			}
			cfg, err := pm.TranslateToParam(v)
			if err != nil {
				return err
			}
			if realized {
				if cfg, err = pm.Realize(cfg); err != nil {
					return err
				}
			}
			return writeArch(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&name, "supernet", defaultSupernet, "Supernet search space")
	cmd.Flags().BoolVar(&realized, "realized", false, "Truncate per-layer values to the active depth")
	return cmd
}

func newOnehotCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "onehot <vector|arch-json>",
		Short: "Print the one-hot feature encoding of an architecture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := managerFor(name)
			if err != nil {
				return err
			}
			v, err := archOrVector(pm, args[0])
			if err != nil {
				return err
			}
			oh, err := pm.OnehotGeneric(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), supernet.Vector(oh).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "supernet", defaultSupernet, "Supernet search space")
	return cmd
}

func newMACsCmd() *cobra.Command {
	var (
		name   string
		random int
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "macs [vector|arch-json]",
		Short: "Count the multiply-accumulates of an architecture",
		Long: `Statically counts MACs and parameters of one architecture, or of --random
sampled architectures of the search space.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := managerFor(name)
			if err != nil {
				return err
			}
			var vectors []supernet.Vector
			switch {
			case len(args) == 1:
				v, err := archOrVector(pm, args[0])
				if err != nil {
					return err
				}
				vectors = append(vectors, v)
			case random > 0:
				vectors = pm.RandomSamples(random, utils.NewRandSource(seed))
			default:
				return fmt.Errorf("give an architecture or --random N")
			}

			runner := evaluator.NewRunner(pm, evaluator.Options{})
			costs := make([]evaluator.Cost, len(vectors))
			for i, v := range vectors {
				cfg, err := pm.TranslateToParam(v)
				if err != nil {
					return err
				}
				if costs[i], err = runner.Cost(cmd.Context(), cfg); err != nil {
					return err
				}
			}
			order := make([]int, len(vectors))
			for i := range order {
				order[i] = i
			}
			sort.SliceStable(order, func(a, b int) bool { return costs[order[a]].MACs < costs[order[b]].MACs })
			for _, i := range order {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s params\n", vectors[i].String(),
					humanize.SIWithDigits(float64(costs[i].MACs), 2, "MACs"),
					humanize.SIWithDigits(float64(costs[i].Params), 2, ""))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "supernet", defaultSupernet, "Supernet search space")
	cmd.Flags().IntVar(&random, "random", 0, "Count N random architectures instead")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for --random")
	return cmd
}
