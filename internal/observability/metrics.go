package observability

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Metrics struct {
	stepDropped   *CounterVec
	stepRemaining *GaugeVec
	stageDuration *HistogramVec
	stageTotal    *CounterVec
	stageError    *Counter
	queryDuration *HistogramVec
	queryRows     *CounterVec
	rowsWritten   *CounterVec
	exportBytes   *CounterVec
	runTotal      *CounterVec
	lastRunOK     *GaugeVec
	lastRunTime   *GaugeVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		stepDropped: NewCounterVec(
			"cohort_step_dropped_total",
			"Rows or users removed by a filtering step, by stage/step/unit.",
			[]string{"stage", "step", "unit"},
		),
		stepRemaining: NewGaugeVec(
			"cohort_step_remaining",
			"Rows or users left after a filtering step, by stage/step/unit.",
			[]string{"stage", "step", "unit"},
		),
		stageDuration: NewHistogramVec(
			"cohort_stage_duration_seconds",
			"Pipeline stage duration in seconds by stage/status.",
			[]string{"stage", "status"},
			[]float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		),
		stageTotal: NewCounterVec("cohort_stage_total", "Pipeline stages by stage/status.", []string{"stage", "status"}),
		stageError: NewCounter("cohort_stage_error_total", "Pipeline stages that failed."),
		queryDuration: NewHistogramVec(
			"cohort_source_query_duration_seconds",
			"Raw data query latency in seconds by op/status.",
			[]string{"op", "status"},
			[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		),
		queryRows:   NewCounterVec("cohort_source_rows_total", "Rows read from the raw data source by op.", []string{"op"}),
		rowsWritten: NewCounterVec("cohort_snapshot_rows_written_total", "Rows written to snapshot tables by table.", []string{"table"}),
		exportBytes: NewCounterVec("cohort_export_bytes_total", "Bytes written by snapshot exports by sink.", []string{"sink"}),
		runTotal:    NewCounterVec("cohort_runs_total", "Pipeline runs by command/status.", []string{"command", "status"}),
		lastRunOK: NewGaugeVec(
			"cohort_last_run_success",
			"1 if the last run of a command succeeded, else 0.",
			[]string{"command"},
		),
		lastRunTime: NewGaugeVec(
			"cohort_last_run_timestamp_seconds",
			"Unix time the last run of a command finished.",
			[]string{"command"},
		),
	}
}

func (m *Metrics) ObserveStep(stage, step, unit string, dropped, remaining int) {
	if m == nil {
		return
	}
	stage, step, unit = orUnknown(stage), orUnknown(step), orUnknown(unit)
	if dropped > 0 {
		m.stepDropped.Add(float64(dropped), stage, step, unit)
	}
	m.stepRemaining.Set(float64(remaining), stage, step, unit)
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	stage, status = orUnknown(stage), orUnknown(status)
	m.stageTotal.Inc(stage, status)
	if isFailureStatus(status) {
		m.stageError.Inc()
	}
	if dur > 0 {
		m.stageDuration.Observe(dur.Seconds(), stage, status)
	}
}

func (m *Metrics) ObserveQuery(op, status string, rows int, dur time.Duration) {
	if m == nil {
		return
	}
	op, status = orUnknown(op), orUnknown(status)
	m.queryDuration.Observe(dur.Seconds(), op, status)
	if rows > 0 {
		m.queryRows.Add(float64(rows), op)
	}
}

func (m *Metrics) AddRowsWritten(table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsWritten.Add(float64(n), orUnknown(table))
}

func (m *Metrics) AddExportBytes(sink string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.exportBytes.Add(float64(n), orUnknown(sink))
}

func (m *Metrics) ObserveRun(command, status string, finished time.Time) {
	if m == nil {
		return
	}
	command, status = orUnknown(command), orUnknown(status)
	m.runTotal.Inc(command, status)
	ok := 1.0
	if isFailureStatus(status) {
		ok = 0
	}
	m.lastRunOK.Set(ok, command)
	m.lastRunTime.Set(float64(finished.Unix()), command)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.stepDropped,
		m.stepRemaining,
		m.stageDuration,
		m.stageTotal,
		m.stageError,
		m.queryDuration,
		m.queryRows,
		m.rowsWritten,
		m.exportBytes,
		m.runTotal,
		m.lastRunOK,
		m.lastRunTime,
	}
	for _, mw := range writers {
		if err := mw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile writes the exposition to path for the node_exporter
// textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("metrics textfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("metrics textfile: %w", err)
	}
	return nil
}

// ---- lightweight metric primitives (Prometheus exposition) ----

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	c.Add(1, values...)
}

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl] += v
	c.mu.Unlock()
}

func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[labelString(c.labelNames, values)]
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return writeSeries(w, c.name, c.help, "counter", c.values)
}

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	c.Add(1)
}

func (c *Counter) Add(v float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return writeSeries(w, c.name, c.help, "counter", map[string]float64{"": c.val})
}

type GaugeVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (g *GaugeVec) Set(v float64, values ...string) {
	if g == nil {
		return
	}
	lbl := labelString(g.labelNames, values)
	g.mu.Lock()
	g.values[lbl] = v
	g.mu.Unlock()
}

func (g *GaugeVec) Value(values ...string) float64 {
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[labelString(g.labelNames, values)]
}

func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return writeSeries(w, g.name, g.help, "gauge", g.values)
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	total   uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{
			buckets: h.buckets,
			counts:  make([]uint64, len(h.buckets)+1),
		}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range hist.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
	hist.counts[len(hist.counts)-1]++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, k := range sortedKeys(h.values) {
		v := h.values[k]
		for i, b := range v.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.counts[len(v.counts)-1]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, v.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %d\n", h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func writeSeries(w io.Writer, name, help, typ string, values map[string]float64) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ); err != nil {
		return err
	}
	for _, k := range sortedKeys(values) {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", name, k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	if strings.HasSuffix(labels, "}") {
		return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
	}
	return "{le=\"" + le + "\"}"
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

func isFailureStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "error", "timeout", "panic":
		return true
	default:
		return false
	}
}
