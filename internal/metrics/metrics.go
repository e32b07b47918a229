// Package metrics collects timing and training measurements.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Metric is a single named measurement.
type Metric struct {
	Name      string    `json:"metricName"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics stores named series of measurements. It is safe for concurrent use.
type Metrics struct {
	mu     sync.Mutex
	series map[string][]Metric
	now    func() time.Time
}

// New returns an empty collection.
func New() *Metrics {
	return &Metrics{series: make(map[string][]Metric), now: time.Now}
}

// AddMetric appends a value to the series name.
func (m *Metrics) AddMetric(name string, value float64, unit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[name] = append(m.series[name], Metric{Name: name, Value: value, Unit: unit, Timestamp: m.now()})
}

// AddDuration records d in milliseconds.
func (m *Metrics) AddDuration(name string, d time.Duration) {
	m.AddMetric(name, float64(d)/float64(time.Millisecond), "ms")
}

// HasMetric reports whether name has at least one value.
func (m *Metrics) HasMetric(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.series[name]) > 0
}

// Metric returns a copy of the series name.
func (m *Metrics) Metric(name string) []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.series[name])
}

// Names returns the series names in sorted order.
func (m *Metrics) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Latest returns the most recent value of name.
func (m *Metrics) Latest(name string) (Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.series[name]
	if len(s) == 0 {
		return Metric{}, fmt.Errorf("metric %q not found", name)
	}
	return s[len(s)-1], nil
}

// Mean returns the arithmetic mean of name.
func (m *Metrics) Mean(name string) (float64, error) {
	values, err := m.values(name)
	if err != nil {
		return 0, err
	}
	return stat.Mean(values, nil), nil
}

// Percentile returns the p-th percentile (0-100) of name.
func (m *Metrics) Percentile(name string, p float64) (float64, error) {
	if p < 0 || p > 100 {
		return 0, fmt.Errorf("percentile %v out of range [0, 100]", p)
	}
	values, err := m.values(name)
	if err != nil {
		return 0, err
	}
	sort.Float64s(values)
	return stat.Quantile(p/100, stat.Empirical, values, nil), nil
}

func (m *Metrics) values(name string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.series[name]
	if len(s) == 0 {
		return nil, fmt.Errorf("metric %q not found", name)
	}
	values := make([]float64, len(s))
	for i, v := range s {
		values[i] = v.Value
	}
	return values, nil
}

// Dump writes measurements as one JSON object per line, grouped by name.
// With no names every series is written.
func (m *Metrics) Dump(w io.Writer, names ...string) error {
	if len(names) == 0 {
		names = m.Names()
	}
	enc := json.NewEncoder(w)
	for _, name := range names {
		for _, v := range m.Metric(name) {
			if err := enc.Encode(v); err != nil {
				return fmt.Errorf("dump metric %s: %w", name, err)
			}
		}
	}
	return nil
}
