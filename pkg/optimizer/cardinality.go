// Package optimizer rewrites logical operator cardinalities to model
// predictions before physical planning, so downstream decisions (join
// algorithm, build side, top-N) consume the learned estimates. Opt-in: the
// physical side stays observe-only regardless.
package optimizer

import (
	"math"

	"cardlearn/pkg/config"
	"cardlearn/pkg/features"
	"cardlearn/pkg/plan"
	"cardlearn/pkg/predict"
)

type CardinalityRewriter struct {
	iface     *predict.Interface
	collector *features.Collector
	blend     string
}

func NewCardinalityRewriter(iface *predict.Interface, collector *features.Collector, cfg config.OptimizerConfig) *CardinalityRewriter {
	return &CardinalityRewriter{
		iface:     iface,
		collector: collector,
		blend:     cfg.Blend,
	}
}

// Rewrite visits the logical tree in post-order so every operator sees its
// children's already-updated estimates.
func (r *CardinalityRewriter) Rewrite(root *plan.LogicalOperator, queryID uint64) {
	plan.WalkLogical(root, func(op *plan.LogicalOperator) {
		r.apply(op, queryID)
	})
}

func (r *CardinalityRewriter) apply(op *plan.LogicalOperator, queryID uint64) {
	// Preserve the engine's baseline estimate on the first visit, whether or
	// not a prediction then overwrites it; later logging compares against it.
	if !op.HasEngineEstimate && op.HasEstimate {
		op.EngineEstimatedCardinality = op.EstimatedCardinality
		op.HasEngineEstimate = true
	}

	f := features.ExtractFeatures(op, r.collector)
	if f.ChildCardinality == 0 && len(op.Children) > 0 {
		f.ChildCardinality = op.Children[0].EstimatedCardinality
	}

	predicted := r.iface.PredictPlanningCardinality(&f, queryID)
	if predicted == 0 {
		return
	}

	effective := predicted
	if r.blend == config.BlendGeomean {
		baseline := f.EstimatedCardinality
		if baseline > 0 {
			effective = uint64(math.Sqrt(float64(predicted) * float64(baseline)))
		}
	}
	if effective < 1 {
		effective = 1
	}
	op.EstimatedCardinality = effective
	op.HasEstimate = true
}
