package config

import (
	"strings"
	"testing"
)

func TestParseConfigYAMLString(t *testing.T) {
	yamlText := `
nas:
  approach: basic
  search:
    search_algorithm: random
    search_space: {channels: [16, 32, 64], dimensions: [32, 64, 128]}
    max_trials: 3
    seed: 42
`
	cfg, err := ParseConfigYAMLString(yamlText)
	if err != nil {
		t.Fatalf("ParseConfigYAMLString failed: %v", err)
	}
	if cfg.NAS.Search.SearchAlgorithm != "random" {
		t.Fatalf("expected random, got %q", cfg.NAS.Search.SearchAlgorithm)
	}
	if len(cfg.NAS.Search.SearchSpace) != 2 {
		t.Fatalf("expected 2 dimensions, got %d", len(cfg.NAS.Search.SearchSpace))
	}
}

func TestParseConfigYAMLStringInvalid(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
		wantErr  string
	}{
		{
			name:     "Unknown approach",
			yamlText: `nas: {approach: nas, search: {search_space: {a: [1]}}}`,
			wantErr:  "invalid approach",
		},
		{
			name:     "Unknown algorithm",
			yamlText: `nas: {search: {search_algorithm: tpe, search_space: {a: [1]}}}`,
			wantErr:  "invalid search_algorithm",
		},
		{
			name:     "Basic without search space",
			yamlText: `nas: {approach: basic}`,
			wantErr:  "search_space must define",
		},
		{
			name:     "Duplicate value",
			yamlText: `nas: {search: {search_space: {a: [1, 1]}}}`,
			wantErr:  "duplicate value",
		},
		{
			name:     "Search space not a mapping",
			yamlText: `nas: {search: {search_space: [1, 2]}}`,
			wantErr:  "must be a mapping",
		},
		{
			name:     "Dynas without supernet",
			yamlText: `nas: {approach: dynas}`,
			wantErr:  "supernet cannot be empty",
		},
		{
			name:     "Dynas with grid",
			yamlText: `nas: {approach: dynas, search: {search_algorithm: grid}, dynas: {supernet: ofa_resnet50}}`,
			wantErr:  "grid is not supported",
		},
		{
			name:     "Unknown metric",
			yamlText: `nas: {approach: dynas, dynas: {supernet: ofa_resnet50, metrics: [acc, flops]}}`,
			wantErr:  "unknown metric",
		},
		{
			name:     "Single metric for dynas",
			yamlText: `nas: {approach: dynas, dynas: {supernet: ofa_resnet50, metrics: [acc]}}`,
			wantErr:  "at least two metrics",
		},
		{
			name:     "Bad latency timeout",
			yamlText: `nas: {search: {search_space: {a: [1]}}, evaluation: {latency_timeout: soon}}`,
			wantErr:  "invalid latency_timeout",
		},
		{
			name:     "Bad predictor kind",
			yamlText: `nas: {search: {search_space: {a: [1]}}, predictors: {acc: mlp}}`,
			wantErr:  "invalid predictor",
		},
		{
			name:     "Postgres without dsn",
			yamlText: `nas: {search: {search_space: {a: [1]}}, results: {backend: postgres}}`,
			wantErr:  "requires postgres_dsn",
		},
		{
			name:     "Csv without path",
			yamlText: `nas: {search: {search_space: {a: [1]}}, results: {backend: csv}}`,
			wantErr:  "requires dynas.results_csv_path",
		},
		{
			name:     "Bad log level",
			yamlText: `log_level: trace`,
			wantErr:  "invalid log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigYAMLString(tt.yamlText)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMarshalConfigYAMLKeepsOrder(t *testing.T) {
	cfg, err := ParseConfigYAMLString(`
nas:
  search:
    search_space:
      zeta: [1, 2]
      alpha: [3]
      mid: [0.5, 0.25]
`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	data, err := MarshalConfigYAML(cfg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	again, err := ParseConfigYAML(data)
	if err != nil {
		t.Fatalf("re-parse failed: %v\n%s", err, data)
	}
	space := again.NAS.Search.SearchSpace
	var names []string
	for _, d := range space {
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "zeta,alpha,mid" {
		t.Errorf("expected order zeta,alpha,mid, got %v", names)
	}
	if space[2].Values[1] != 0.25 {
		t.Errorf("expected 0.25, got %v", space[2].Values[1])
	}
}
