package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQErrorDigest(t *testing.T) {
	var d QErrorDigest
	assert.Equal(t, 0.0, d.Mean())
	assert.Equal(t, 0.0, d.Quantile(0.5))

	for _, q := range []float64{1, 2, 3, 4, 100} {
		d.Record(q)
	}
	assert.Equal(t, 5, d.Count())
	assert.InDelta(t, 22.0, d.Mean(), 1e-9)
	assert.Equal(t, 3.0, d.Quantile(0.5))
	assert.Equal(t, 1.0, d.Quantile(0))
	assert.Equal(t, 100.0, d.Quantile(1))
}

func TestQErrorDigestDuplicates(t *testing.T) {
	var d QErrorDigest
	for i := 0; i < 10; i++ {
		d.Record(2.5)
	}
	assert.Equal(t, 10, d.Count(), "equal q-errors are kept as a multiset")
	assert.Equal(t, 2.5, d.Quantile(0.9))
}

func TestStatsRecordSample(t *testing.T) {
	s := NewStats()
	s.RecordSample(2.0, 8.0)
	s.RecordSample(1.0, 4.0)

	assert.Equal(t, uint64(2), s.SamplesCollected.Load())
	assert.InDelta(t, 1.5, s.ModelQErrors().Mean(), 1e-9)
	assert.InDelta(t, 6.0, s.EngineQErrors().Mean(), 1e-9)
}
