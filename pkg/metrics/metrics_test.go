package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveExtraction(t *testing.T) {
	tables := testutil.ToFloat64(Extractions.WithLabelValues(ResultTable, ""))
	absent := testutil.ToFloat64(Extractions.WithLabelValues(ResultAbsent, "decode"))
	rows := testutil.ToFloat64(FeatureRows)

	ObserveExtraction(ResultTable, "", 5*time.Millisecond, 4)
	ObserveExtraction(ResultAbsent, "decode", time.Millisecond, 0)

	assert.Equal(t, tables+1, testutil.ToFloat64(Extractions.WithLabelValues(ResultTable, "")))
	assert.Equal(t, absent+1, testutil.ToFloat64(Extractions.WithLabelValues(ResultAbsent, "decode")))
	assert.Equal(t, rows+4, testutil.ToFloat64(FeatureRows))
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	first := timer.Stop()
	assert.GreaterOrEqual(t, first, time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), first)
}
