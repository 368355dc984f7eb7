package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/utils"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("dynas %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

const w12 = "ofa_mbv3_d234_e346_k357_w1.2"

func TestParseVector(t *testing.T) {
	tests := []struct {
		in   string
		want supernet.Vector
		ok   bool
	}{
		{"[1,2,3]", supernet.Vector{1, 2, 3}, true},
		{"1,2,3", supernet.Vector{1, 2, 3}, true},
		{"1 2\t3", supernet.Vector{1, 2, 3}, true},
		{"[]", nil, false},
		{"1,x", nil, false},
	}
	for _, tt := range tests {
		got, err := parseVector(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseVector(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
		}
		if tt.ok && !got.Equal(tt.want) {
			t.Fatalf("parseVector(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	pm, err := managerFor(w12)
	if err != nil {
		t.Fatalf("managerFor: %v", err)
	}
	v := pm.RandomSamples(1, utils.NewRandSource(7))[0]

	decoded := mustRun(t, "decode", "--supernet", w12, v.String())
	var cfg supernet.ArchConfig
	if err := json.Unmarshal([]byte(decoded), &cfg); err != nil {
		t.Fatalf("decode output is not an arch: %v\n%s", err, decoded)
	}

	encoded := strings.TrimSpace(mustRun(t, "encode", "--supernet", w12, strings.TrimSpace(decoded)))
	if encoded != v.String() {
		t.Fatalf("round trip: got %s, want %s", encoded, v.String())
	}

	oh := strings.TrimSpace(mustRun(t, "onehot", "--supernet", w12, v.String()))
	ones := strings.Count(oh, "1")
	if ones != len(v) {
		t.Fatalf("expected one hot bit per position (%d), got %d", len(v), ones)
	}
}

func TestDecodeRejectsOutOfRange(t *testing.T) {
	if _, err := run(t, "decode", "--supernet", w12, "9,9,9"); err == nil {
		t.Fatalf("expected an invalid vector error")
	}
	if _, err := run(t, "decode", "--supernet", "nope", "0"); err == nil {
		t.Fatalf("expected an unknown supernet error")
	}
}

func TestMACsRandomIsSortedAndDeterministic(t *testing.T) {
	a := mustRun(t, "macs", "--supernet", w12, "--random", "4", "--seed", "3")
	b := mustRun(t, "macs", "--supernet", w12, "--random", "4", "--seed", "3")
	if a != b {
		t.Fatalf("macs output differs between runs:\n%s\n%s", a, b)
	}
	if lines := strings.Split(strings.TrimSpace(a), "\n"); len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), a)
	}
	if _, err := run(t, "macs", "--supernet", w12); err == nil {
		t.Fatalf("expected an error without an architecture")
	}
}

func TestSpacesListsRegistry(t *testing.T) {
	out := mustRun(t, "spaces")
	for _, name := range supernet.Names() {
		if !strings.Contains(out, name) {
			t.Fatalf("spaces output is missing %s:\n%s", name, out)
		}
	}
}

func TestPredictorFitAndPredict(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "results.csv")
	modelPath := filepath.Join(dir, "acc.pb")

	pm, err := managerFor(w12)
	if err != nil {
		t.Fatalf("managerFor: %v", err)
	}
	backend := results.NewCSVBackend(csvPath, pm)
	samples := pm.RandomSamples(12, utils.NewRandSource(1))
	for i, v := range samples {
		cfg, err := pm.TranslateToParam(v)
		if err != nil {
			t.Fatalf("TranslateToParam: %v", err)
		}
		rec := results.EvaluatedArchitecture{
			Arch:      cfg,
			Metrics:   map[string]float64{"acc": 70 + float64(i%5), "macs": 2e8 + float64(i)*1e6},
			Timestamp: time.Now(),
		}
		if err := backend.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	out := mustRun(t, "predictor", "fit", "--supernet", w12, "--results", csvPath, "--kind", "ridge", "--out", modelPath)
	if !strings.Contains(out, "fitted on 12 rows") {
		t.Fatalf("unexpected fit output: %s", out)
	}
	if _, err := os.Stat(modelPath); err != nil {
		t.Fatalf("model not saved: %v", err)
	}

	out = mustRun(t, "predictor", "predict", "--supernet", w12, "--kind", "ridge", "--model", modelPath,
		samples[0].String(), samples[1].String())
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 2 {
		t.Fatalf("expected 2 predictions, got:\n%s", out)
	}

	if _, err := run(t, "predictor", "fit", "--supernet", w12, "--results", csvPath, "--metric", "lat", "--out", modelPath); err == nil {
		t.Fatalf("expected an error fitting a metric with no rows")
	}
}

func TestSearchBasicLocally(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "basic.yaml")
	reportPath := filepath.Join(dir, "report.html")
	cfg := `
nas:
  approach: basic
  search:
    search_algorithm: grid
    search_space: {channels: [16, 32], dimensions: [32, 64]}
    max_trials: 4
    seed: 42
  results:
    backend: memory
`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out := mustRun(t, "search", "--config", cfgPath, "--id", "local", "--report", reportPath, "--json")
	var got struct {
		ID    string `json:"id"`
		Front []any  `json:"front"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("search --json output: %v\n%s", err, out)
	}
	if got.ID != "local" || len(got.Front) == 0 {
		t.Fatalf("unexpected outcome %+v", got)
	}
	html, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !bytes.Contains(html, []byte("echarts")) {
		t.Fatalf("report is not a chart page")
	}

	if _, err := run(t, "search", "--config", filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config")
	}
}

func TestTokenAndVersion(t *testing.T) {
	out := strings.TrimSpace(mustRun(t, "token", "--secret", "s3cret", "--subject", "ci"))
	if strings.Count(out, ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out)
	}
	if _, err := run(t, "token", "--secret", ""); err == nil {
		t.Fatalf("expected an error without a secret")
	}
	if out := mustRun(t, "version"); !strings.Contains(out, version) {
		t.Fatalf("unexpected version output %q", out)
	}
}
