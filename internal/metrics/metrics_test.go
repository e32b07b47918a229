package metrics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAggregates(t *testing.T) {
	m := New()
	for _, v := range []float64{4, 1, 3, 2, 5} {
		m.AddMetric("train_loss", v, "")
	}
	m.AddDuration("epoch", 1500*time.Millisecond)

	assert.Equal(t, []string{"epoch", "train_loss"}, m.Names())
	assert.True(t, m.HasMetric("epoch"))
	assert.False(t, m.HasMetric("missing"))

	latest, err := m.Latest("train_loss")
	require.NoError(t, err)
	assert.Equal(t, 5.0, latest.Value)

	mean, err := m.Mean("train_loss")
	require.NoError(t, err)
	assert.InDelta(t, 3, mean, 1e-12)

	p50, err := m.Percentile("train_loss", 50)
	require.NoError(t, err)
	assert.Equal(t, 3.0, p50)
	p100, err := m.Percentile("train_loss", 100)
	require.NoError(t, err)
	assert.Equal(t, 5.0, p100)

	ep, err := m.Latest("epoch")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, ep.Value)
	assert.Equal(t, "ms", ep.Unit)

	_, err = m.Latest("missing")
	assert.Error(t, err)
	_, err = m.Percentile("train_loss", 101)
	assert.Error(t, err)
}

func TestDumpJSONLines(t *testing.T) {
	m := New()
	m.now = func() time.Time { return time.Unix(0, 0).UTC() }
	m.AddMetric("b", 2, "")
	m.AddMetric("a", 1, "ms")
	m.AddMetric("b", 3, "")

	var buf bytes.Buffer
	require.NoError(t, m.Dump(&buf))

	var got []Metric
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var v Metric
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		got = append(got, v)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, []float64{2, 3}, []float64{got[1].Value, got[2].Value})

	buf.Reset()
	require.NoError(t, m.Dump(&buf, "a"))
	assert.Equal(t, `{"metricName":"a","value":1,"unit":"ms","timestamp":"1970-01-01T00:00:00Z"}`+"\n", buf.String())
}
