package nas

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasopt/dynas/internal/evaluator"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/search"
	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/config"
)

func parseConfig(t *testing.T, text string) *config.Config {
	t.Helper()
	cfg, err := config.ParseConfigYAMLString(text)
	require.NoError(t, err)
	return cfg
}

func basicConfig(algorithm string, trials int) string {
	return `
nas:
  approach: basic
  search:
    search_algorithm: ` + algorithm + `
    search_space: {channels: [16, 32, 64], dimensions: [32, 64, 128]}
    max_trials: ` + strconv.Itoa(trials) + `
    seed: 42
`
}

func dynasConfig(extra string) string {
	return `
nas:
  approach: dynas
  search:
    search_algorithm: nsga2
    seed: 42
  dynas:
    supernet: ofa_mbv3_d234_e346_k357_w1.2
    metrics: [acc, macs]
    population: 6
    num_evals: 12
    inner_generations: 3
` + extra
}

type convNet struct {
	channels, dimensions float64
}

func (m *convNet) Forward(ctx context.Context, _ int) error { return ctx.Err() }

func convNetCollaborators(trained *int) Collaborators {
	return Collaborators{
		Builder: evaluator.ModelBuilderFunc(func(_ context.Context, cfg supernet.ArchConfig) (evaluator.Model, error) {
			return &convNet{channels: cfg["channels"][0], dimensions: cfg["dimensions"][0]}, nil
		}),
		Train: func(_ context.Context, _ evaluator.Model) error {
			*trained++
			return nil
		},
		Eval: func(_ context.Context, m evaluator.Model) (map[string]float64, error) {
			n := m.(*convNet)
			return map[string]float64{"acc": n.channels/64 + n.dimensions/1280}, nil
		},
	}
}

func TestBasicSearchWithCollaborators(t *testing.T) {
	for _, alg := range []string{"grid", "random", "bo"} {
		t.Run(alg, func(t *testing.T) {
			trained := 0
			cfg := parseConfig(t, basicConfig(alg, 5))
			agent, err := New(context.Background(), cfg, Options{Collaborators: convNetCollaborators(&trained)})
			require.NoError(t, err)
			defer agent.Close()

			out, err := agent.Search(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 5, out.Summary.Evaluated)
			assert.Equal(t, 5, trained)
			assert.NotEmpty(t, out.Front)
			assert.Equal(t, 5, agent.Store().Len())
			assert.Equal(t, search.ReasonEvaluationBudget, out.Summary.Reason)
			assert.Equal(t, int64(5), out.Metrics.Measured)
			for _, rec := range out.Front {
				assert.Contains(t, rec.Arch, "channels")
				assert.Len(t, rec.Arch["channels"], 1)
			}
		})
	}
}

func TestBasicGridFindsBest(t *testing.T) {
	trained := 0
	cfg := parseConfig(t, basicConfig("grid", 20))
	agent, err := New(context.Background(), cfg, Options{Collaborators: convNetCollaborators(&trained)})
	require.NoError(t, err)

	out, err := agent.Search(context.Background())
	require.NoError(t, err, "grid running dry before max_trials is not an error")
	assert.Equal(t, 9, out.Summary.Evaluated)
	require.Len(t, out.Front, 1)
	assert.Equal(t, []float64{64}, out.Front[0].Arch["channels"])
	assert.Equal(t, []float64{128}, out.Front[0].Arch["dimensions"])
}

func TestBasicSmallSpaceWithDefaultCollaborators(t *testing.T) {
	for _, alg := range []string{"grid", "random", "bo"} {
		t.Run(alg, func(t *testing.T) {
			cfg := parseConfig(t, `
nas:
  approach: basic
  search:
    search_algorithm: `+alg+`
    search_space: {channels: [16, 32], dimensions: [32]}
    max_trials: 3
    seed: 7
`)
			agent, err := New(context.Background(), cfg, Options{})
			require.NoError(t, err)

			out, err := agent.Search(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, out.Summary.Evaluated)
			assert.NotEmpty(t, out.Front)
		})
	}
}

func TestDynasSearch(t *testing.T) {
	cfg := parseConfig(t, dynasConfig(""))

	var steps []search.GenerationStep
	agent, err := New(context.Background(), cfg, Options{
		ID:           "dynas-test",
		OnGeneration: func(s search.GenerationStep) { steps = append(steps, s) },
	})
	require.NoError(t, err)
	defer agent.Close()

	out, err := agent.Search(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "dynas-test", out.ID)
	assert.Equal(t, 12, out.Summary.Evaluated)
	assert.Equal(t, 12, agent.Store().Len())
	assert.Equal(t, 2, out.Summary.Generations)
	assert.Len(t, steps, 2)
	assert.Equal(t, 12, steps[1].Evaluated)
	assert.NotEmpty(t, out.Front)
	assert.Equal(t, search.ReasonEvaluationBudget, out.Summary.Reason)

	for _, metric := range []string{"acc", "macs"} {
		p, ok := agent.Predictor(metric)
		require.True(t, ok, "predictor for %s", metric)
		assert.True(t, p.Fitted())
	}

	// every measured architecture is distinct
	seen := make(map[string]bool)
	for _, rec := range agent.Store().Records() {
		k := agent.ParameterManager().Key(rec.Vector)
		assert.False(t, seen[k], "architecture measured twice: %s", k)
		seen[k] = true
	}

	// the returned front is non-dominated
	objs := agent.Objectives()
	for i, a := range out.Front {
		for j, b := range out.Front {
			if i == j {
				continue
			}
			fa := []float64{objs[0].Minimized(a.Metrics["acc"]), objs[1].Minimized(a.Metrics["macs"])}
			fb := []float64{objs[0].Minimized(b.Metrics["acc"]), objs[1].Minimized(b.Metrics["macs"])}
			assert.False(t, search.Dominates(fa, fb))
		}
	}
}

func TestDynasSearchSurvivesFailedMeasurement(t *testing.T) {
	cfg := parseConfig(t, dynasConfig(""))

	proxy := evaluator.NewCapacityProxy()
	var calls atomic.Int32
	agent, err := New(context.Background(), cfg, Options{
		Collaborators: Collaborators{
			Eval: func(ctx context.Context, m evaluator.Model) (map[string]float64, error) {
				if calls.Add(1) == 2 {
					return nil, errors.New("device lost")
				}
				return proxy.Eval(ctx, m)
			},
		},
	})
	require.NoError(t, err)
	defer agent.Close()

	out, err := agent.Search(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, out.Summary.Failed)
	assert.Equal(t, 12, out.Summary.Evaluated)
	assert.Equal(t, 12, agent.Store().Len())
	assert.Equal(t, search.ReasonEvaluationBudget, out.Summary.Reason)
	assert.NotEmpty(t, out.Front)
	assert.Equal(t, len(out.Front), out.Summary.FrontSize)
	require.NotEmpty(t, out.History)
	assert.Equal(t, 5, out.History[0].Evaluated)
	assert.Equal(t, 1, out.History[0].Failed)
}

func TestDynasSearchKeepsFrontWhenRoundFails(t *testing.T) {
	cfg := parseConfig(t, dynasConfig(""))

	proxy := evaluator.NewCapacityProxy()
	var calls atomic.Int32
	agent, err := New(context.Background(), cfg, Options{
		Collaborators: Collaborators{
			// the first round measures, every later one fails
			Eval: func(ctx context.Context, m evaluator.Model) (map[string]float64, error) {
				if calls.Add(1) > 6 {
					return nil, errors.New("device lost")
				}
				return proxy.Eval(ctx, m)
			},
		},
	})
	require.NoError(t, err)
	defer agent.Close()

	out, err := agent.Search(context.Background())
	require.Error(t, err)

	assert.Equal(t, 6, out.Summary.Evaluated)
	assert.Equal(t, 6, out.Summary.Failed)
	assert.NotEmpty(t, out.Front)
	assert.Equal(t, len(out.Front), out.Summary.FrontSize)
}

func TestDynasAgeIsDeterministic(t *testing.T) {
	run := func() []string {
		cfg := parseConfig(t, strings.Replace(dynasConfig(""), "nsga2", "age", 1))
		agent, err := New(context.Background(), cfg, Options{})
		require.NoError(t, err)
		_, err = agent.Search(context.Background())
		require.NoError(t, err)

		var keys []string
		for _, rec := range agent.Store().Records() {
			keys = append(keys, rec.Vector.String())
		}
		return keys
	}
	assert.Equal(t, run(), run())
}

func TestDynasWithLatency(t *testing.T) {
	cfg := parseConfig(t, `
nas:
  approach: dynas
  search:
    search_algorithm: nsga2
    seed: 3
  dynas:
    supernet: ofa_mbv3_d234_e346_k357_w1.2
    metrics: [acc, macs, lat]
    population: 2
    num_evals: 2
    batch_size: 1
  evaluation:
    latency_warmup_steps: 1
    latency_measure_steps: 1
`)
	agent, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)

	out, err := agent.Search(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Summary.Evaluated)
	for _, rec := range agent.Store().Records() {
		assert.Contains(t, rec.Metrics, "lat")
	}
	assert.Greater(t, out.Metrics.LatencyMeanMs, 0.0)
}

const legacyResults = `Sub-network,Date,Latency (ms), MACs,Top-1 Acc (%)
"{'wid': None, 'ks': [7, 7, 3, 3, 5, 7, 7, 3, 5, 5, 3, 3, 7, 3, 5, 5, 5, 7, 5, 7], 'e': [3, 4, 4, 4, 4, 6, 6, 4, 4, 3, 4, 4, 3, 6, 4, 3, 4, 6, 3, 3], 'd': [2, 4, 4, 2, 3], 'r': [224]}",2022-07-07 03:13:06.306540,39,391813792,77.416
"{'wid': None, 'ks': [3, 5, 5, 7, 5, 5, 3, 3, 7, 7, 7, 5, 7, 3, 7, 5, 3, 5, 3, 3], 'e': [4, 6, 3, 4, 4, 4, 4, 6, 3, 6, 4, 3, 4, 3, 4, 3, 6, 4, 4, 6], 'd': [4, 3, 3, 2, 3], 'r': [224]}",2022-07-07 03:14:50.398553,41,412962768,77.234
"{'wid': None, 'ks': [5, 5, 5, 3, 7, 5, 7, 5, 7, 3, 3, 7, 7, 5, 7, 3, 5, 5, 7, 3], 'e': [6, 4, 3, 3, 3, 3, 4, 4, 3, 4, 3, 6, 4, 4, 3, 6, 4, 3, 4, 6], 'd': [4, 4, 4, 2, 4], 'r': [224]}",2022-07-07 03:16:53.105436,44,444295456,77.632
`

func TestDynasWarmStartFromLegacyCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search_results.csv")
	require.NoError(t, os.WriteFile(path, []byte(legacyResults), 0o644))

	cfg := parseConfig(t, dynasConfig(`    results_csv_path: `+path+`
  results:
    backend: csv
`))
	cfg.NAS.Dynas.NumEvals = 4
	cfg.NAS.Dynas.Population = 4

	agent, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)

	out, err := agent.Search(context.Background())
	require.NoError(t, err)
	require.NoError(t, agent.Close())

	assert.Equal(t, 3, out.Summary.WarmStarted)
	assert.Equal(t, 4, out.Summary.Evaluated)
	assert.Equal(t, 7, agent.Store().Len())
	_, fitted := agent.Predictor("acc")
	assert.True(t, fitted, "warm-started records are enough to fit predictors in the first round")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 8, "header, three legacy rows and four new rows")

	// clearing keeps only the header
	require.NoError(t, agent.Store().Clear(context.Background()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(string(data)), "\n")+1)
}

func TestSearchCancelled(t *testing.T) {
	cfg := parseConfig(t, dynasConfig(""))
	agent, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := agent.Search(ctx)
	require.NoError(t, err)
	assert.Equal(t, search.ReasonCancelled, out.Summary.Reason)
	assert.Zero(t, out.Summary.Evaluated)
}

func TestNewRejectsUnknownSupernet(t *testing.T) {
	cfg := parseConfig(t, dynasConfig(""))
	cfg.NAS.Dynas.Supernet = "ofa_unknown"
	_, err := New(context.Background(), cfg, Options{})
	var unknown *supernet.UnknownSupernetError
	assert.ErrorAs(t, err, &unknown)
}

func TestExternalStoreIsNotClosed(t *testing.T) {
	store := results.NewStore(nil)
	cfg := parseConfig(t, dynasConfig(""))
	cfg.NAS.Dynas.NumEvals = 3
	agent, err := New(context.Background(), cfg, Options{Store: store})
	require.NoError(t, err)

	_, err = agent.Search(context.Background())
	require.NoError(t, err)
	require.NoError(t, agent.Close())
	assert.Equal(t, 3, store.Len())
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "391.81 MMACs", FormatMetric("macs", 391813792))
	assert.Equal(t, "39.00 ms", FormatMetric("lat", 39))
	assert.Equal(t, "77.416", FormatMetric("acc", 77.416))

	rec := results.EvaluatedArchitecture{Metrics: map[string]float64{"acc": 77.416, "macs": 391813792, "lat": 39}}
	objs, err := search.NewObjectives([]string{"macs", "acc"})
	require.NoError(t, err)
	assert.Equal(t, "macs=391.81 MMACs acc=77.416 lat=39.00 ms", FormatRecord(rec, objs))

	out := &Outcome{Approach: "dynas", Algorithm: "nsga2", Summary: search.Summary{Evaluated: 1250, FrontSize: 4, Reason: search.ReasonEvaluationBudget}}
	line := Describe(out)
	assert.Contains(t, line, "1,250 evaluated")
	assert.Contains(t, line, "front of 4")
}

func TestSortFront(t *testing.T) {
	objs, err := search.NewObjectives([]string{"acc", "macs"})
	require.NoError(t, err)
	front := []results.EvaluatedArchitecture{
		{Metrics: map[string]float64{"acc": 70, "macs": 1}},
		{Metrics: map[string]float64{"acc": 78, "macs": 3}},
		{Metrics: map[string]float64{"acc": 74, "macs": 2}},
	}
	sorted := SortFront(front, objs)
	assert.Equal(t, 78.0, sorted[0].Metrics["acc"])
	assert.Equal(t, 70.0, sorted[2].Metrics["acc"])
	assert.Equal(t, 70.0, front[0].Metrics["acc"], "input is not reordered")
}
