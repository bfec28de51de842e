// Package physical is the plan-generator shim: for each logical operator it
// builds the physical node, extracts features, asks the model for an
// observe-only prediction, and attaches tracker state. Physical planning
// decisions always use the engine's estimate, never the prediction.
package physical

import (
	"cardlearn/pkg/features"
	"cardlearn/pkg/plan"
	"cardlearn/pkg/predict"
)

// nestedLoopThreshold mirrors the engine's cutoff below which range joins
// fall back to nested loops.
const nestedLoopThreshold = 5

type Planner struct {
	iface     *predict.Interface
	collector *features.Collector
}

func NewPlanner(iface *predict.Interface, collector *features.Collector) *Planner {
	return &Planner{iface: iface, collector: collector}
}

// CreatePlan lowers a logical tree into a physical one.
func (p *Planner) CreatePlan(op *plan.LogicalOperator, queryID uint64) *plan.PhysicalOperator {
	switch op.Kind {
	case plan.KindComparisonJoin, plan.KindAnyJoin:
		return p.planComparisonJoin(op, queryID)
	case plan.KindCrossProduct:
		return p.planSimple(op, plan.PhysCrossProduct, queryID)
	case plan.KindGet:
		return p.planSimple(op, plan.PhysTableScan, queryID)
	case plan.KindFilter:
		return p.planFilter(op, queryID)
	case plan.KindAggregate:
		return p.planSimple(op, plan.PhysHashAggregate, queryID)
	case plan.KindOrder:
		return p.planSimple(op, plan.PhysOrder, queryID)
	case plan.KindTopN:
		return p.planSimple(op, plan.PhysTopN, queryID)
	case plan.KindLimit:
		return p.planSimple(op, plan.PhysLimit, queryID)
	case plan.KindProjection:
		return p.planSimple(op, plan.PhysProjection, queryID)
	default:
		return p.planSimple(op, plan.PhysOther, queryID)
	}
}

// engineEstimate prefers the preserved baseline: when the cardinality
// rewriter ran, EstimatedCardinality already holds the model's number.
func engineEstimate(op *plan.LogicalOperator) uint64 {
	if op.HasEngineEstimate {
		return op.EngineEstimatedCardinality
	}
	return op.EstimatedCardinality
}

func (p *Planner) planSimple(op *plan.LogicalOperator, kind plan.PhysicalKind, queryID uint64) *plan.PhysicalOperator {
	children := make([]*plan.PhysicalOperator, 0, len(op.Children))
	for _, child := range op.Children {
		children = append(children, p.CreatePlan(child, queryID))
	}

	f := features.ExtractFeatures(op, p.collector)
	estimate := engineEstimate(op)

	raw := p.iface.PredictCardinality(&f, queryID)
	rlPrediction := raw
	if rlPrediction == 0 {
		rlPrediction = estimate
	}

	phys := &plan.PhysicalOperator{
		Kind:                 kind,
		Children:             children,
		EstimatedCardinality: estimate,
	}
	p.iface.AttachState(phys, &f, rlPrediction, estimate)
	return phys
}

func (p *Planner) planFilter(op *plan.LogicalOperator, queryID uint64) *plan.PhysicalOperator {
	var children []*plan.PhysicalOperator
	if len(op.Children) > 0 {
		children = append(children, p.CreatePlan(op.Children[0], queryID))
	}

	f := features.ExtractFeatures(op, p.collector)
	// The built child carries the planner's final estimate; prefer it over
	// the logical child's.
	if len(children) > 0 {
		f.ChildCardinality = children[0].EstimatedCardinality
	}
	estimate := engineEstimate(op)

	raw := p.iface.PredictCardinality(&f, queryID)
	rlPrediction := raw
	if rlPrediction == 0 {
		rlPrediction = estimate
	}

	phys := &plan.PhysicalOperator{
		Kind:                 plan.PhysFilter,
		Children:             children,
		EstimatedCardinality: estimate,
	}
	p.iface.AttachState(phys, &f, rlPrediction, estimate)
	return phys
}

func (p *Planner) planComparisonJoin(op *plan.LogicalOperator, queryID uint64) *plan.PhysicalOperator {
	var children []*plan.PhysicalOperator
	for _, child := range op.Children {
		children = append(children, p.CreatePlan(child, queryID))
	}

	f := features.ExtractFeatures(op, p.collector)
	estimate := engineEstimate(op)

	raw := p.iface.PredictCardinality(&f, queryID)
	rlPrediction := raw
	if rlPrediction == 0 {
		rlPrediction = estimate
	}

	phys := &plan.PhysicalOperator{
		Kind:                 p.joinKind(op, children),
		Children:             children,
		EstimatedCardinality: estimate,
	}
	p.iface.AttachState(phys, &f, rlPrediction, estimate)
	return phys
}

// joinKind picks the physical join the way the engine does: equality
// conditions hash, ranges merge when inputs are big enough, everything else
// nested-loops, and no conditions at all is a cross product.
func (p *Planner) joinKind(op *plan.LogicalOperator, children []*plan.PhysicalOperator) plan.PhysicalKind {
	join := op.Join
	if join == nil || len(join.Conditions) == 0 {
		return plan.PhysCrossProduct
	}

	hasEquality := false
	hasRange := false
	for _, cond := range join.Conditions {
		switch cond.Comparison {
		case plan.CompareEqual:
			hasEquality = true
		case plan.CompareLessThan, plan.CompareGreaterThan,
			plan.CompareLessThanEq, plan.CompareGreaterThanEq:
			hasRange = true
		}
	}
	if hasEquality {
		return plan.PhysHashJoin
	}

	smallInput := false
	for _, child := range children {
		if child.EstimatedCardinality < nestedLoopThreshold {
			smallInput = true
		}
	}
	if hasRange && !smallInput {
		return plan.PhysMergeJoin
	}
	if hasRange || smallInput {
		return plan.PhysNestedLoopJoin
	}
	return plan.PhysBlockwiseNLJoin
}
