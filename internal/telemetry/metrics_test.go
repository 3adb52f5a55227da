package telemetry

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_WriteText_ExposesRecordedSeries(t *testing.T) {
	// Given: metrics with one of each observation
	m := NewMetrics()
	m.ObserveStrategy("lexical_page", 12*time.Millisecond, 7)
	m.RecordStrategyFailure("semantic", "empty_index")
	m.RecordFallback("lexical_chunk")
	m.ObserveSearch(40*time.Millisecond, 0, false)
	m.ObserveIndex(time.Second, errors.New("boom"))
	m.SetStoreStats(map[string]int{"indexed": 3}, 40, 90, 90)

	// When: exporting as text
	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	out := buf.String()

	// Then: every series is present with its labels
	assert.Contains(t, out, `casearch_search_strategy_duration_seconds_count{strategy="lexical_page"} 1`)
	assert.Contains(t, out, `casearch_search_strategy_failures_total{reason="empty_index",strategy="semantic"} 1`)
	assert.Contains(t, out, `casearch_search_or_fallback_total{strategy="lexical_chunk"} 1`)
	assert.Contains(t, out, `casearch_search_total{outcome="empty"} 1`)
	assert.Contains(t, out, `casearch_index_documents_total{status="error"} 1`)
	assert.Contains(t, out, `casearch_store_documents{status="indexed"} 3`)
	assert.Contains(t, out, `casearch_store_units{kind="chunk"} 90`)
	assert.Contains(t, out, `casearch_store_vectors 90`)
}

func TestMetrics_ObserveSearch_Outcomes(t *testing.T) {
	m := NewMetrics()
	m.ObserveSearch(time.Millisecond, 3, true)
	m.ObserveSearch(time.Millisecond, 3, false)

	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))

	assert.Contains(t, buf.String(), `casearch_search_total{outcome="degraded"} 1`)
	assert.Contains(t, buf.String(), `casearch_search_total{outcome="ok"} 1`)
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveStrategy("semantic", time.Second, 1)
		m.RecordStrategyFailure("semantic", "timeout")
		m.RecordFallback("lexical_page")
		m.ObserveSearch(time.Second, 1, false)
		m.ObserveIndex(time.Second, nil)
		m.SetStoreStats(nil, 0, 0, 0)
	})

	var buf bytes.Buffer
	assert.NoError(t, m.WriteText(&buf))
	assert.Empty(t, buf.String())
}
