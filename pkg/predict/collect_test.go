package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardlearn/pkg/features"
	"cardlearn/pkg/plan"
)

// chainPlan builds a linear physical plan of n tracked operators, each
// reporting the given actual row count.
func chainPlan(f *fixture, n int, actual uint64) *plan.PhysicalOperator {
	var root *plan.PhysicalOperator
	for i := 0; i < n; i++ {
		op := &plan.PhysicalOperator{Kind: plan.PhysFilter, EstimatedCardinality: 100}
		record := &features.OperatorFeatures{
			OperatorType:         plan.KindFilter.String(),
			EstimatedCardinality: 100,
			FilterKinds:          []string{plan.ExprConstantComparison},
			ComparisonKinds:      []string{plan.CompareEqual},
			ChildCardinality:     uint64(100 + i),
		}
		// Cold model: the prediction slot falls back to the engine estimate.
		f.iface.AttachState(op, record, 100, 100)
		op.Learn.AddRows(actual)
		if root != nil {
			op.Children = []*plan.PhysicalOperator{root}
		}
		root = op
	}
	return root
}

func TestColdQueryCollectsAndTrains(t *testing.T) {
	f := newFixture(t, nil)

	// Cold model: every prediction is the 0 sentinel.
	record := &features.OperatorFeatures{
		OperatorType:         plan.KindFilter.String(),
		EstimatedCardinality: 100,
		FilterKinds:          []string{plan.ExprConstantComparison},
	}
	require.Equal(t, uint64(0), f.iface.PredictCardinality(record, 1))

	root := chainPlan(f, 12, 250)
	f.iface.CollectActualCardinalities(root, 1)

	assert.Equal(t, 12, f.buffer.Size())
	assert.Equal(t, uint64(12), f.stats.SamplesCollected.Load())
	// 12 samples >= 10: one incremental update of trees_per_update trees.
	assert.Equal(t, uint64(1+2), f.model.NumTrees())
	assert.True(t, f.model.IsReady())
}

func TestFewSamplesSkipTraining(t *testing.T) {
	f := newFixture(t, nil)
	root := chainPlan(f, 5, 50)
	f.iface.CollectActualCardinalities(root, 1)

	assert.Equal(t, 5, f.buffer.Size())
	assert.Equal(t, uint64(1), f.model.NumTrees(), "below the sample floor the model stays cold")
	assert.False(t, f.model.IsReady())
}

func TestCollectIsIdempotentPerOperator(t *testing.T) {
	f := newFixture(t, nil)
	root := chainPlan(f, 12, 250)

	f.iface.CollectActualCardinalities(root, 1)
	f.iface.CollectActualCardinalities(root, 1)
	assert.Equal(t, 12, f.buffer.Size(), "operators are collected exactly once")
}

func TestCollectUnwrapsResultCollector(t *testing.T) {
	f := newFixture(t, nil)
	inner := chainPlan(f, 12, 250)
	root := &plan.PhysicalOperator{
		Kind:     plan.PhysResultCollector,
		Children: []*plan.PhysicalOperator{inner},
	}

	f.iface.CollectActualCardinalities(root, 1)
	assert.Equal(t, 12, f.buffer.Size())
}

func TestCollectSkipsUntrackedOperators(t *testing.T) {
	f := newFixture(t, nil)
	tracked := chainPlan(f, 3, 10)
	root := &plan.PhysicalOperator{
		Kind:     plan.PhysProjection,
		Children: []*plan.PhysicalOperator{tracked},
	}

	f.iface.CollectActualCardinalities(root, 1)
	assert.Equal(t, 3, f.buffer.Size())

	// Operators with neither rows nor a prediction stay out of the buffer.
	f2 := newFixture(t, nil)
	op := &plan.PhysicalOperator{Kind: plan.PhysFilter}
	f2.iface.AttachState(op, &features.OperatorFeatures{OperatorType: plan.KindFilter.String()}, 0, 0)
	f2.iface.CollectActualCardinalities(op, 1)
	assert.Equal(t, 0, f2.buffer.Size())
}
