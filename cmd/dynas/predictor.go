package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/nasopt/dynas/internal/nas"
	"github.com/nasopt/dynas/internal/predictor"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/supernet"
)

func newPredictorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predictor",
		Short: "Train and query objective predictors",
	}
	cmd.AddCommand(newPredictorFitCmd(), newPredictorPredictCmd())
	return cmd
}

// features one-hot encodes every record carrying metric
func features(pm *supernet.ParameterManager, recs []results.EvaluatedArchitecture, metric string) ([][]float64, []float64, error) {
	var (
		X [][]float64
		y []float64
	)
	for _, rec := range recs {
		target, ok := rec.Metrics[metric]
		if !ok {
			continue
		}
		v := rec.Vector
		if v == nil {
			var err error
			if v, err = pm.TranslateToVector(rec.Arch); err != nil {
				return nil, nil, err
			}
		}
		oh, err := pm.OnehotGeneric(v)
		if err != nil {
			return nil, nil, err
		}
		X = append(X, oh.Floats())
		y = append(y, target)
	}
	return X, y, nil
}

func newPredictorFitCmd() *cobra.Command {
	var (
		name, csvPath, metric, kind, outPath string
	)
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a predictor on a results CSV and save it",
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := managerFor(name)
			if err != nil {
				return err
			}
			recs, err := results.NewCSVBackend(csvPath, pm).Load(cmd.Context())
			if err != nil {
				return err
			}
			X, y, err := features(pm, recs, metric)
			if err != nil {
				return err
			}
			if len(X) == 0 {
				return fmt.Errorf("%s has no rows with metric %q", csvPath, metric)
			}

			p, err := predictor.New(kind)
			if err != nil {
				return err
			}
			if err := p.Fit(X, y); err != nil {
				return err
			}
			fitted, err := predictor.PredictBatch(p, X)
			if err != nil {
				return err
			}
			if err := p.Save(outPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s predictor for %s fitted on %d rows, in-sample R² %.4f, saved to %s\n",
				p.Name(), metric, len(X), stat.RSquaredFrom(fitted, y, nil), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "supernet", defaultSupernet, "Supernet search space")
	cmd.Flags().StringVar(&csvPath, "results", "search_results.csv", "Results CSV to train on")
	cmd.Flags().StringVar(&metric, "metric", "acc", "Metric to predict")
	cmd.Flags().StringVar(&kind, "kind", "kernel_ridge", "Predictor kind (ridge, kernel_ridge)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "predictor.pb", "Where to save the fitted predictor")
	return cmd
}

func newPredictorPredictCmd() *cobra.Command {
	var name, kind, modelPath, metric string
	cmd := &cobra.Command{
		Use:   "predict <vector|arch-json>...",
		Short: "Estimate a metric with a saved predictor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pm, err := managerFor(name)
			if err != nil {
				return err
			}
			p, err := predictor.New(kind)
			if err != nil {
				return err
			}
			if err := p.Load(modelPath); err != nil {
				return err
			}
			for _, arg := range args {
				v, err := archOrVector(pm, arg)
				if err != nil {
					return err
				}
				oh, err := pm.OnehotGeneric(v)
				if err != nil {
					return err
				}
				est, err := p.Predict(oh.Floats())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", v.String(), nas.FormatMetric(metric, est))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "supernet", defaultSupernet, "Supernet search space")
	cmd.Flags().StringVar(&kind, "kind", "kernel_ridge", "Predictor kind the model was saved with")
	cmd.Flags().StringVarP(&modelPath, "model", "m", "predictor.pb", "Saved predictor")
	cmd.Flags().StringVar(&metric, "metric", "acc", "Metric the predictor estimates, for formatting")
	return cmd
}
