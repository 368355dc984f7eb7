package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main search configuration
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format,omitempty"` // json or text
	NAS       NAS    `yaml:"nas"`
}

// NAS groups everything a single search needs
type NAS struct {
	Approach   string            `yaml:"approach"` // basic or dynas
	Search     Search            `yaml:"search"`
	Dynas      Dynas             `yaml:"dynas"`
	Evaluation Evaluation        `yaml:"evaluation"`
	Predictors map[string]string `yaml:"predictors,omitempty"` // metric -> predictor kind
	Results    Results           `yaml:"results"`
	Notify     Notify            `yaml:"notify"`
}

// Search holds the optimizer settings shared by both approaches
type Search struct {
	SearchAlgorithm string      `yaml:"search_algorithm"` // grid, random, bo, nsga2, age
	SearchSpace     SearchSpace `yaml:"search_space,omitempty"`
	MaxTrials       int         `yaml:"max_trials"`
	Seed            int64       `yaml:"seed"`
	EarlyStop       *EarlyStop  `yaml:"early_stop,omitempty"`
}

// EarlyStop stops the loop once the front's hypervolume stops improving
type EarlyStop struct {
	Window    int     `yaml:"window"`
	Tolerance float64 `yaml:"tolerance"`
}

// Dynas holds the supernet search settings
type Dynas struct {
	Supernet         string   `yaml:"supernet"`
	Metrics          []string `yaml:"metrics"`
	Population       int      `yaml:"population"`
	NumEvals         int      `yaml:"num_evals"`
	BatchSize        int      `yaml:"batch_size"`
	ResultsCSVPath   string   `yaml:"results_csv_path,omitempty"`
	InnerGenerations int      `yaml:"inner_generations"`
}

// Evaluation controls how candidates are measured
type Evaluation struct {
	Parallelism         int    `yaml:"parallelism"`
	LatencyWarmupSteps  int    `yaml:"latency_warmup_steps"`
	LatencyMeasureSteps int    `yaml:"latency_measure_steps"`
	LatencyTimeout      string `yaml:"latency_timeout"` // e.g., "30s"
	TimeBudget          string `yaml:"time_budget"`     // "0s" means unbounded
}

// Results selects the persistence backend
type Results struct {
	Backend     string `yaml:"backend"` // memory, csv, postgres
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// Notify configures the completion callback
type Notify struct {
	CallbackURL string `yaml:"callback_url,omitempty"`
	MaxAttempts int    `yaml:"max_attempts,omitempty"`
}

// Dimension is one entry of a basic-approach search space
type Dimension struct {
	Name   string
	Values []float64
}

// SearchSpace is an ordered list of dimensions. In YAML it is written as a
// mapping; key order is kept because it fixes the vector layout.
type SearchSpace []Dimension

// UnmarshalYAML decodes the mapping while keeping key order
func (s *SearchSpace) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("search_space must be a mapping, got %s", nodeKind(node))
	}
	dims := make(SearchSpace, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var values []float64
		if err := val.Decode(&values); err != nil {
			return fmt.Errorf("search_space %s: values must be a list of numbers: %w", key.Value, err)
		}
		dims = append(dims, Dimension{Name: key.Value, Values: values})
	}
	*s = dims
	return nil
}

// MarshalYAML encodes the dimensions back into an ordered mapping
func (s SearchSpace) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, d := range s {
		var val yaml.Node
		if err := val.Encode(d.Values); err != nil {
			return nil, err
		}
		val.Style = yaml.FlowStyle
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: d.Name},
			&val,
		)
	}
	return node, nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// GetLatencyTimeout parses the latency timeout string to time.Duration
func (e *Evaluation) GetLatencyTimeout() (time.Duration, error) {
	return time.ParseDuration(e.LatencyTimeout)
}

// GetTimeBudget parses the wall-clock budget string to time.Duration
func (e *Evaluation) GetTimeBudget() (time.Duration, error) {
	return time.ParseDuration(e.TimeBudget)
}

// PredictorFor returns the predictor kind configured for metric
func (n *NAS) PredictorFor(metric string) string {
	if kind, ok := n.Predictors[metric]; ok {
		return kind
	}
	if metric == "acc" {
		return "kernel_ridge"
	}
	return "ridge"
}
