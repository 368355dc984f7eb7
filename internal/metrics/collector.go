package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Point is a single observation of a named series
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Aggregation holds summary statistics for one series
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Last  float64 `json:"last"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Snapshot is a point-in-time copy of everything the collector holds
type Snapshot struct {
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	Duration     time.Duration           `json:"duration"`
	Values       map[string][]float64    `json:"values"`
	Aggregations map[string]*Aggregation `json:"aggregations,omitempty"`
}

// Collector keeps labelled time series for a search run
type Collector struct {
	mu sync.RWMutex

	startTime time.Time
	endTime   time.Time

	// metric name -> label key -> points
	series map[string]map[string][]Point

	// cached aggregations, invalidated on Record
	aggregations map[string]map[string]*Aggregation
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		startTime:    time.Now(),
		series:       make(map[string]map[string][]Point),
		aggregations: make(map[string]map[string]*Aggregation),
	}
}

// Start marks the start of collection
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.endTime = time.Time{}
}

// Stop marks the end of collection
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
}

// Record appends a value at the given time
func (c *Collector) Record(name string, value float64, timestamp time.Time, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.series[name] == nil {
		c.series[name] = make(map[string][]Point)
	}
	c.series[name][key] = append(c.series[name][key], Point{
		Timestamp: timestamp,
		Name:      name,
		Value:     value,
		Labels:    copyLabels(labels),
	})
	if cached := c.aggregations[name]; cached != nil {
		delete(cached, key)
	}
}

// RecordNow records a value at the current time
func (c *Collector) RecordNow(name string, value float64, labels map[string]string) {
	c.Record(name, value, time.Now(), labels)
}

// Series returns a copy of the points recorded for name under exactly labels
func (c *Collector) Series(name string, labels map[string]string) []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.series[name][labelKey(labels)]
	if len(points) == 0 {
		return nil
	}
	out := make([]Point, len(points))
	for i, p := range points {
		p.Labels = copyLabels(p.Labels)
		out[i] = p
	}
	return out
}

// Latest returns the most recent value for name under labels
func (c *Collector) Latest(name string, labels map[string]string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.series[name][labelKey(labels)]
	if len(points) == 0 {
		return 0, false
	}
	return points[len(points)-1].Value, true
}

// Aggregate computes statistics for name under labels. Nil when nothing was recorded.
func (c *Collector) Aggregate(name string, labels map[string]string) *Aggregation {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if agg, ok := c.aggregations[name][key]; ok {
		return agg
	}
	points := c.series[name][key]
	if len(points) == 0 {
		return nil
	}
	agg := aggregate(points)
	if c.aggregations[name] == nil {
		c.aggregations[name] = make(map[string]*Aggregation)
	}
	c.aggregations[name][key] = agg
	return agg
}

// Names returns the recorded metric names in sorted order
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LabelSets returns the label combinations recorded for name
func (c *Collector) LabelSets(name string) []map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.series[name]))
	for key := range c.series[name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	sets := make([]map[string]string, 0, len(keys))
	for _, key := range keys {
		points := c.series[name][key]
		if len(points) > 0 {
			sets = append(sets, copyLabels(points[0].Labels))
		}
	}
	return sets
}

// Snapshot flattens every series regardless of labels
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	end := c.endTime
	if end.IsZero() {
		end = time.Now()
	}
	snap := &Snapshot{
		StartTime:    c.startTime,
		EndTime:      c.endTime,
		Duration:     end.Sub(c.startTime),
		Values:       make(map[string][]float64, len(c.series)),
		Aggregations: make(map[string]*Aggregation, len(c.series)),
	}
	for name, byLabel := range c.series {
		keys := make([]string, 0, len(byLabel))
		for key := range byLabel {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var all []Point
		for _, key := range keys {
			all = append(all, byLabel[key]...)
		}
		values := make([]float64, len(all))
		for i, p := range all {
			values[i] = p.Value
		}
		snap.Values[name] = values
		if len(all) > 0 {
			snap.Aggregations[name] = aggregate(all)
		}
	}
	return snap
}

// Clear drops all recorded data and restarts the clock
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.series = make(map[string]map[string][]Point)
	c.aggregations = make(map[string]map[string]*Aggregation)
	c.startTime = time.Now()
	c.endTime = time.Time{}
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// aggregate keeps Last in recording order; quantiles use the empirical CDF.
func aggregate(points []Point) *Aggregation {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	last := values[len(values)-1]
	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return &Aggregation{
		Count: int64(len(values)),
		Sum:   sum,
		Min:   values[0],
		Max:   values[len(values)-1],
		Mean:  stat.Mean(values, nil),
		Last:  last,
		P50:   stat.Quantile(0.50, stat.Empirical, values, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, values, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, values, nil),
	}
}
