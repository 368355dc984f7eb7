package config

import (
	"fmt"
	"os"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills every unset option with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	n := &cfg.NAS
	if n.Approach == "" {
		n.Approach = "basic"
	}
	if n.Search.SearchAlgorithm == "" {
		if n.Approach == "dynas" {
			n.Search.SearchAlgorithm = "nsga2"
		} else {
			n.Search.SearchAlgorithm = "grid"
		}
	}
	if n.Search.MaxTrials == 0 {
		n.Search.MaxTrials = 10
	}
	if es := n.Search.EarlyStop; es != nil {
		if es.Window == 0 {
			es.Window = 5
		}
		if es.Tolerance == 0 {
			es.Tolerance = 1e-4
		}
	}

	d := &n.Dynas
	if len(d.Metrics) == 0 {
		d.Metrics = []string{"acc", "macs"}
	}
	if d.Population == 0 {
		d.Population = 50
	}
	if d.NumEvals == 0 {
		d.NumEvals = 250
	}
	if d.BatchSize == 0 {
		d.BatchSize = 128
	}
	if d.InnerGenerations == 0 {
		d.InnerGenerations = 30
	}

	e := &n.Evaluation
	if e.Parallelism == 0 {
		e.Parallelism = 1
	}
	if e.LatencyWarmupSteps == 0 {
		e.LatencyWarmupSteps = 10
	}
	if e.LatencyMeasureSteps == 0 {
		e.LatencyMeasureSteps = 100
	}
	if e.LatencyTimeout == "" {
		e.LatencyTimeout = "30s"
	}
	if e.TimeBudget == "" {
		e.TimeBudget = "0s"
	}

	if n.Results.Backend == "" {
		if d.ResultsCSVPath != "" {
			n.Results.Backend = "csv"
		} else {
			n.Results.Backend = "memory"
		}
	}
	if n.Notify.MaxAttempts == 0 {
		n.Notify.MaxAttempts = 3
	}
}

// knownMetrics lists the objective names a search can optimize
var knownMetrics = map[string]bool{
	"acc":    true,
	"macs":   true,
	"lat":    true,
	"params": true,
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat)
	}

	n := &cfg.NAS
	switch n.Approach {
	case "basic", "dynas":
	default:
		return fmt.Errorf("invalid approach: %s (must be basic or dynas)", n.Approach)
	}

	if err := validateSearch(&n.Search, n.Approach); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}

	if err := validateDynas(&n.Dynas, n.Approach); err != nil {
		return fmt.Errorf("dynas validation failed: %w", err)
	}

	if err := validateEvaluation(&n.Evaluation); err != nil {
		return fmt.Errorf("evaluation validation failed: %w", err)
	}

	if err := validatePredictors(n.Predictors); err != nil {
		return fmt.Errorf("predictors validation failed: %w", err)
	}

	if err := validateResults(&n.Results, n.Dynas.ResultsCSVPath); err != nil {
		return fmt.Errorf("results validation failed: %w", err)
	}

	if n.Notify.MaxAttempts < 0 {
		return fmt.Errorf("notify max_attempts cannot be negative, got %d", n.Notify.MaxAttempts)
	}

	return nil
}

// validateSearch validates the optimizer settings
func validateSearch(s *Search, approach string) error {
	validAlgorithms := map[string]bool{
		"grid":   true,
		"random": true,
		"bo":     true,
		"nsga2":  true,
		"age":    true,
	}
	if !validAlgorithms[s.SearchAlgorithm] {
		return fmt.Errorf("invalid search_algorithm: %s (must be grid, random, bo, nsga2, or age)", s.SearchAlgorithm)
	}
	if approach == "dynas" && s.SearchAlgorithm == "grid" {
		return fmt.Errorf("search_algorithm grid is not supported with approach dynas")
	}
	if s.MaxTrials <= 0 {
		return fmt.Errorf("max_trials must be positive, got %d", s.MaxTrials)
	}

	if approach == "basic" {
		if len(s.SearchSpace) == 0 {
			return fmt.Errorf("search_space must define at least one dimension for approach basic")
		}
		names := make(map[string]bool)
		for _, d := range s.SearchSpace {
			if d.Name == "" {
				return fmt.Errorf("search_space dimension name cannot be empty")
			}
			if names[d.Name] {
				return fmt.Errorf("duplicate search_space dimension: %s", d.Name)
			}
			names[d.Name] = true
			if len(d.Values) == 0 {
				return fmt.Errorf("search_space %s: at least one value must be listed", d.Name)
			}
			seen := make(map[float64]bool)
			for _, v := range d.Values {
				if seen[v] {
					return fmt.Errorf("search_space %s: duplicate value %g", d.Name, v)
				}
				seen[v] = true
			}
		}
	}

	if s.EarlyStop != nil {
		if s.EarlyStop.Window < 2 {
			return fmt.Errorf("early_stop window must be at least 2, got %d", s.EarlyStop.Window)
		}
		if s.EarlyStop.Tolerance < 0 {
			return fmt.Errorf("early_stop tolerance cannot be negative, got %f", s.EarlyStop.Tolerance)
		}
	}

	return nil
}

// validateDynas validates the supernet search settings
func validateDynas(d *Dynas, approach string) error {
	if approach == "dynas" && d.Supernet == "" {
		return fmt.Errorf("supernet cannot be empty for approach dynas")
	}

	seen := make(map[string]bool)
	for _, m := range d.Metrics {
		if !knownMetrics[m] {
			return fmt.Errorf("unknown metric: %s (must be acc, macs, lat, or params)", m)
		}
		if seen[m] {
			return fmt.Errorf("duplicate metric: %s", m)
		}
		seen[m] = true
	}
	if approach == "dynas" && len(d.Metrics) < 2 {
		return fmt.Errorf("approach dynas needs at least two metrics, got %d", len(d.Metrics))
	}

	if d.Population < 2 {
		return fmt.Errorf("population must be at least 2, got %d", d.Population)
	}
	if d.NumEvals <= 0 {
		return fmt.Errorf("num_evals must be positive, got %d", d.NumEvals)
	}
	if d.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", d.BatchSize)
	}
	if d.InnerGenerations <= 0 {
		return fmt.Errorf("inner_generations must be positive, got %d", d.InnerGenerations)
	}
	return nil
}

// validateEvaluation validates the measurement settings
func validateEvaluation(e *Evaluation) error {
	if e.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", e.Parallelism)
	}
	if e.LatencyWarmupSteps < 0 {
		return fmt.Errorf("latency_warmup_steps cannot be negative, got %d", e.LatencyWarmupSteps)
	}
	if e.LatencyMeasureSteps <= 0 {
		return fmt.Errorf("latency_measure_steps must be positive, got %d", e.LatencyMeasureSteps)
	}

	timeout, err := e.GetLatencyTimeout()
	if err != nil {
		return fmt.Errorf("invalid latency_timeout %s: %w", e.LatencyTimeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("latency_timeout must be positive, got %s", e.LatencyTimeout)
	}

	budget, err := e.GetTimeBudget()
	if err != nil {
		return fmt.Errorf("invalid time_budget %s: %w", e.TimeBudget, err)
	}
	if budget < 0 {
		return fmt.Errorf("time_budget cannot be negative, got %s", e.TimeBudget)
	}
	return nil
}

// validatePredictors validates the metric to predictor mapping
func validatePredictors(p map[string]string) error {
	validKinds := map[string]bool{
		"ridge":        true,
		"kernel_ridge": true,
	}
	for metric, kind := range p {
		if !knownMetrics[metric] {
			return fmt.Errorf("predictor for unknown metric: %s", metric)
		}
		if !validKinds[kind] {
			return fmt.Errorf("metric %s: invalid predictor %s (must be ridge or kernel_ridge)", metric, kind)
		}
	}
	return nil
}

// validateResults validates the persistence backend
func validateResults(r *Results, csvPath string) error {
	switch r.Backend {
	case "memory":
	case "csv":
		if csvPath == "" {
			return fmt.Errorf("backend csv requires dynas.results_csv_path")
		}
	case "postgres":
		if r.PostgresDSN == "" {
			return fmt.Errorf("backend postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("invalid backend: %s (must be memory, csv, or postgres)", r.Backend)
	}
	return nil
}
