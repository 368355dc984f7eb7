package results

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/logger"
)

// DateLayout is the timestamp format of the Date column
const DateLayout = "2006-01-02 15:04:05.000000"

const (
	colArch    = "Sub-network"
	colDate    = "Date"
	colLatency = "Latency (ms)"
	colMACs    = "MACs"
	colParams  = "Params"
	colOther   = "Other Metrics"
)

// fixedMetrics have a column of their own, in header order
var fixedMetrics = []string{"lat", "macs", "acc", "params"}

// CSVBackend stores records as rows of a CSV file. The architecture column is
// JSON; rows written by older tools with Python-literal dicts are also read.
type CSVBackend struct {
	mu       sync.Mutex
	path     string
	pm       *supernet.ParameterManager
	accLabel string
	logger   *slog.Logger
}

// NewCSVBackend creates a backend at path. pm restores the vector of loaded
// rows and picks the accuracy column label; it may be nil.
func NewCSVBackend(path string, pm *supernet.ParameterManager) *CSVBackend {
	label := "Top-1 Acc (%)"
	if pm != nil {
		label = pm.Space().AccuracyLabel()
	}
	return &CSVBackend{
		path:     path,
		pm:       pm,
		accLabel: label,
		logger:   logger.For("results"),
	}
}

// Path returns the file location
func (b *CSVBackend) Path() string {
	return b.path
}

func (b *CSVBackend) header() []string {
	return []string{colArch, colDate, colLatency, colMACs, b.accLabel, colParams, colOther}
}

// otherMetrics encodes the metrics without a column of their own as a JSON
// object, or "" when there are none
func otherMetrics(m map[string]float64) (string, error) {
	other := make(map[string]float64)
	for k, v := range m {
		if columnOf(k) {
			continue
		}
		other[k] = v
	}
	if len(other) == 0 {
		return "", nil
	}
	data, err := json.Marshal(other)
	if err != nil {
		return "", fmt.Errorf("encode metrics: %w", err)
	}
	return string(data), nil
}

func columnOf(metric string) bool {
	for _, m := range fixedMetrics {
		if m == metric {
			return true
		}
	}
	return false
}

// hasOtherColumn reports whether the existing file at path was written with
// the Other Metrics column
func hasOtherColumn(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	header, err := csv.NewReader(f).Read()
	if err != nil {
		return false, err
	}
	for _, col := range header {
		if strings.TrimSpace(col) == colOther {
			return true, nil
		}
	}
	return false, nil
}

// columnMetric maps a header cell to a metric name
func columnMetric(col string) string {
	switch strings.TrimSpace(col) {
	case colLatency:
		return "lat"
	case colMACs:
		return "macs"
	case "Top-1 Acc (%)", "BLEU Score":
		return "acc"
	case colParams:
		return "params"
	default:
		return ""
	}
}

// Append writes rec as one row, creating the file with a header if needed
func (b *CSVBackend) Append(ctx context.Context, rec EvaluatedArchitecture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results csv %s: %w", b.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat results csv %s: %w", b.path, err)
	}

	arch, err := json.Marshal(rec.Arch)
	if err != nil {
		return fmt.Errorf("encode architecture: %w", err)
	}
	row := []string{string(arch), rec.Timestamp.Format(DateLayout)}
	for _, m := range fixedMetrics {
		if v, ok := rec.Metrics[m]; ok {
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		} else {
			row = append(row, "")
		}
	}
	other, err := otherMetrics(rec.Metrics)
	if err != nil {
		return err
	}

	withOther := true
	if info.Size() > 0 {
		if withOther, err = hasOtherColumn(b.path); err != nil {
			return fmt.Errorf("read results header %s: %w", b.path, err)
		}
	}
	if withOther {
		row = append(row, other)
	} else if other != "" {
		b.logger.Warn("results csv predates the other metrics column, dropping", "path", b.path, "metrics", other)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(b.header()); err != nil {
			return fmt.Errorf("write results header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write results row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Load reads every row. A missing file yields no records. Rows whose
// architecture does not fit the search space are logged and skipped.
func (b *CSVBackend) Load(ctx context.Context) ([]EvaluatedArchitecture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open results csv %s: %w", b.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read results header: %w", err)
	}

	archCol, dateCol, otherCol := -1, -1, -1
	metricCols := make(map[int]string)
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case colArch:
			archCol = i
		case colDate:
			dateCol = i
		case colOther:
			otherCol = i
		default:
			if m := columnMetric(col); m != "" {
				metricCols[i] = m
			}
		}
	}
	if archCol < 0 {
		return nil, fmt.Errorf("results csv %s has no %q column", b.path, colArch)
	}

	var out []EvaluatedArchitecture
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read results csv line %d: %w", line, err)
		}
		if archCol >= len(row) {
			b.logger.Warn("skipping short results row", "line", line)
			continue
		}

		arch, err := ParseArch(row[archCol])
		if err != nil {
			b.logger.Warn("skipping results row", "line", line, "error", err)
			continue
		}
		rec := EvaluatedArchitecture{Arch: arch, Metrics: make(map[string]float64)}

		if b.pm != nil {
			v, err := b.pm.TranslateToVector(arch)
			if err != nil {
				b.logger.Warn("skipping results row outside search space", "line", line, "error", err)
				continue
			}
			rec.Vector = v
		}
		if dateCol >= 0 && dateCol < len(row) {
			rec.Timestamp = parseDate(row[dateCol])
		}
		if otherCol >= 0 && otherCol < len(row) && strings.TrimSpace(row[otherCol]) != "" {
			if err := json.Unmarshal([]byte(row[otherCol]), &rec.Metrics); err != nil {
				b.logger.Warn("ignoring unparsable metrics cell", "line", line, "error", err)
			}
		}
		for i, m := range metricCols {
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			if err != nil {
				b.logger.Warn("ignoring unparsable metric", "line", line, "metric", m, "value", row[i])
				continue
			}
			rec.Metrics[m] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear truncates the file to its header
func (b *CSVBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Create(b.path)
	if err != nil {
		return fmt.Errorf("truncate results csv %s: %w", b.path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(b.header()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Close is a no-op; the file is opened per operation
func (b *CSVBackend) Close() error {
	return nil
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ParseArch decodes an architecture cell. JSON objects and Python dict
// literals such as {'wid': None, 'ks': [3, 5], 'd': [2]} are accepted.
// Null and non-numeric entries are dropped; scalars become one-element lists.
func ParseArch(s string) (supernet.ArchConfig, error) {
	s = strings.TrimSpace(s)
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		if err2 := json.Unmarshal([]byte(pythonToJSON(s)), &raw); err2 != nil {
			return nil, fmt.Errorf("unparsable architecture %q: %w", truncate(s, 40), err)
		}
	}

	cfg := make(supernet.ArchConfig, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case float64:
			cfg[k] = []float64{x}
		case []interface{}:
			vals := make([]float64, 0, len(x))
			numeric := true
			for _, e := range x {
				f, ok := e.(float64)
				if !ok {
					numeric = false
					break
				}
				vals = append(vals, f)
			}
			if numeric {
				cfg[k] = vals
			}
		}
	}
	return cfg, nil
}

// pythonToJSON rewrites quotes, None/True/False and tuples outside strings
func pythonToJSON(s string) string {
	var sb strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case c == '\\' && i+1 < len(s):
				sb.WriteByte(c)
				i++
				sb.WriteByte(s[i])
			case c == quote:
				sb.WriteByte('"')
				quote = 0
			case c == '"':
				sb.WriteString(`\"`)
			default:
				sb.WriteByte(c)
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			sb.WriteByte('"')
		case c == '(':
			sb.WriteByte('[')
		case c == ')':
			sb.WriteByte(']')
		case strings.HasPrefix(s[i:], "None"):
			sb.WriteString("null")
			i += 3
		case strings.HasPrefix(s[i:], "True"):
			sb.WriteString("true")
			i += 3
		case strings.HasPrefix(s[i:], "False"):
			sb.WriteString("false")
			i += 4
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
