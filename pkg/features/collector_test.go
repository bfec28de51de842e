package features

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardlearn/pkg/plan"
)

func TestCollectorRoundTrip(t *testing.T) {
	c := NewCollector(500)
	op := &plan.LogicalOperator{Kind: plan.KindGet}

	_, ok := c.GetTableScanFeatures(op)
	require.False(t, ok, "missing entries are not errors")

	c.AddTableScanFeatures(op, TableScanFeatures{TableName: "orders", BaseCardinality: 42})
	f, ok := c.GetTableScanFeatures(op)
	require.True(t, ok)
	assert.Equal(t, "orders", f.TableName)
	assert.Equal(t, uint64(42), f.BaseCardinality)

	// Idempotent by key: re-adding overwrites, no duplication.
	c.AddTableScanFeatures(op, TableScanFeatures{TableName: "orders", BaseCardinality: 43})
	f, _ = c.GetTableScanFeatures(op)
	assert.Equal(t, uint64(43), f.BaseCardinality)

	c.Clear()
	_, ok = c.GetTableScanFeatures(op)
	assert.False(t, ok)
}

func TestCollectorEstimateFingerprint(t *testing.T) {
	c := NewCollector(500)
	c.AddJoinFeaturesByRelationSet("[a,b]", JoinFeatures{
		RelationSet:          "[a,b]",
		EstimatedCardinality: 12345,
		TDOMValue:            77,
	})

	f, ok := c.GetJoinFeaturesByRelationSet("[a,b]")
	require.True(t, ok)
	assert.Equal(t, uint64(77), f.TDOMValue)

	f, ok = c.GetJoinFeaturesByEstimate(12345)
	require.True(t, ok)
	assert.Equal(t, uint64(77), f.TDOMValue)
}

func TestCollectorOverflowClearsWholesale(t *testing.T) {
	c := NewCollector(500)
	for i := 0; i < 600; i++ {
		c.AddJoinFeaturesByRelationSet(fmt.Sprintf("[r%d]", i), JoinFeatures{NumRelations: 1})
	}
	// The map fills to 501, is cleared in full on the next insert, then
	// grows again: exactly one clear, never a partial one.
	assert.Equal(t, uint64(1), c.OverflowCount())
	assert.Equal(t, 600-501, c.JoinFeatureCount())
}

func TestCollectorPredictor(t *testing.T) {
	c := NewCollector(500)
	assert.Equal(t, 0.0, c.PredictCardinality(JoinFeatures{}), "no predictor registered")

	c.RegisterPredictor(func(f JoinFeatures) float64 {
		return float64(f.TDOMValue) * 2
	})
	assert.Equal(t, 44.0, c.PredictCardinality(JoinFeatures{TDOMValue: 22}))
}

func TestColumnSketches(t *testing.T) {
	c := NewCollector(500)

	_, ok := c.DistinctCount("orders", "id")
	require.False(t, ok)

	for i := 0; i < 1000; i++ {
		c.ObserveColumnValue("orders", "id", []byte(fmt.Sprintf("key-%d", i%100)))
	}
	distinct, ok := c.DistinctCount("orders", "id")
	require.True(t, ok)
	// HLL estimate: allow a generous error band.
	assert.InDelta(t, 100, float64(distinct), 15)

	counts := c.SnapshotDistinctCounts("orders")
	require.Contains(t, counts, "id")

	// Sketches survive the per-query Clear.
	c.Clear()
	_, ok = c.DistinctCount("orders", "id")
	assert.True(t, ok)
}
