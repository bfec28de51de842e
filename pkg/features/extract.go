package features

import (
	"math"

	"cardlearn/pkg/plan"
)

// OperatorFeatures is the structured per-operator record produced by
// extraction. Blocks that do not apply to the operator kind stay zero.
type OperatorFeatures struct {
	OperatorType         string
	EstimatedCardinality uint64

	// Table scan block.
	TableName                          string
	BaseTableCardinality               uint64
	ColumnDistinctCounts               map[string]uint64
	NumTableFilters                    uint64
	FinalCardinality                   uint64
	FilterSelectivity                  float64
	UsedDefaultSelectivity             bool
	CardinalityAfterDefaultSelectivity uint64

	// Filter block (also overlays scans with pushed-down filters).
	FilterKinds                  []string
	ComparisonKinds              []string
	FilterColumnIDs              []uint64
	ChildCardinality             uint64
	FilterConstantCount          uint64
	FilterConstantNumericLogMean float64
	FilterConstantStringLogMean  float64

	// Join block.
	JoinType                   string
	JoinConditionCount         uint64
	JoinEqualityConditionCount uint64
	JoinKeySignatureHash       float64 // normalized to [0,1]
	JoinKeySameTypeRatio       float64
	JoinKeySimpleRefRatio      float64
	LeftCardinality            uint64
	RightCardinality           uint64
	TDOMValue                  uint64
	TDOMFromHLL                bool
	JoinRelationSet            string
	NumRelations               uint64
	LeftRelationCard           uint64
	RightRelationCard          uint64
	LeftDenominator            float64
	RightDenominator           float64
	ComparisonTypeJoin         string
	ExtraRatio                 float64
	Numerator                  float64
	Denominator                float64

	// Aggregate block.
	NumGroupByColumns     uint64
	NumAggregateFunctions uint64
	NumGroupingSets       uint64
}

// ExtractFeatures reads a logical operator plus collector hints and produces
// an OperatorFeatures. Extraction is pure: it mutates nothing but the
// returned record.
func ExtractFeatures(op *plan.LogicalOperator, c *Collector) OperatorFeatures {
	f := OperatorFeatures{
		OperatorType:         op.Kind.String(),
		EstimatedCardinality: op.EstimatedCardinality,
		FilterSelectivity:    1.0,
		ExtraRatio:           1.0,
		Denominator:          1.0,
		LeftDenominator:      1.0,
		RightDenominator:     1.0,
	}

	switch op.Kind {
	case plan.KindGet:
		extractScan(op, c, &f)
	case plan.KindFilter:
		extractFilter(op, c, &f)
	case plan.KindComparisonJoin, plan.KindAnyJoin:
		extractJoin(op, c, &f)
	case plan.KindAggregate:
		extractAggregate(op, &f)
	default:
		// Minimal record: operator type and estimate only.
	}
	return f
}

func extractScan(op *plan.LogicalOperator, c *Collector, f *OperatorFeatures) {
	scan := op.Scan
	if scan == nil {
		return
	}
	f.TableName = scan.Table
	if scan.BaseCardinality != nil {
		if card, ok := scan.BaseCardinality(); ok {
			f.BaseTableCardinality = card
		}
	}
	for _, p := range scan.Filters {
		f.FilterKinds = append(f.FilterKinds, p.Kind)
		if p.Comparison != "" {
			f.ComparisonKinds = append(f.ComparisonKinds, p.Comparison)
		}
		f.FilterColumnIDs = append(f.FilterColumnIDs, p.ColumnID)
	}
	f.NumTableFilters = uint64(len(scan.Filters))
	summarizeConstants(scan.Filters, f)

	if tf, ok := c.GetTableScanFeatures(op); ok {
		f.TableName = tf.TableName
		f.BaseTableCardinality = tf.BaseCardinality
		f.ColumnDistinctCounts = tf.ColumnDistinctCounts
		f.NumTableFilters = tf.NumTableFilters
		f.FinalCardinality = tf.FinalCardinality
		f.FilterSelectivity = tf.FilterSelectivity
		f.UsedDefaultSelectivity = tf.UsedDefaultSelectivity
		f.CardinalityAfterDefaultSelectivity = tf.CardinalityAfterDefaultSelectivity
		if len(tf.FilterKinds) > 0 {
			f.FilterKinds = tf.FilterKinds
		}
		if len(tf.ComparisonKinds) > 0 {
			f.ComparisonKinds = tf.ComparisonKinds
		}
		if len(tf.FilterColumnIDs) > 0 {
			f.FilterColumnIDs = tf.FilterColumnIDs
		}
	}
}

func extractFilter(op *plan.LogicalOperator, c *Collector, f *OperatorFeatures) {
	filter := op.Filter
	if filter != nil {
		for _, p := range filter.Predicates {
			f.FilterKinds = append(f.FilterKinds, p.Kind)
			if p.Comparison != "" {
				f.ComparisonKinds = append(f.ComparisonKinds, p.Comparison)
			}
		}
		summarizeConstants(filter.Predicates, f)
	}
	if len(op.Children) > 0 {
		f.ChildCardinality = op.Children[0].EstimatedCardinality
	}
	if ff, ok := c.GetFilterFeatures(op); ok {
		if len(ff.ComparisonKinds) > 0 {
			f.ComparisonKinds = ff.ComparisonKinds
		}
		if ff.ConstantCount > 0 {
			f.FilterConstantCount = ff.ConstantCount
			f.FilterConstantNumericLogMean = ff.NumericConstantLogSum / float64(ff.ConstantCount)
			f.FilterConstantStringLogMean = ff.StringConstantLogSum / float64(ff.ConstantCount)
		}
	}
}

func extractJoin(op *plan.LogicalOperator, c *Collector, f *OperatorFeatures) {
	join := op.Join
	if join == nil {
		return
	}
	f.JoinType = join.JoinType
	if len(op.Children) >= 2 {
		f.LeftCardinality = op.Children[0].EstimatedCardinality
		f.RightCardinality = op.Children[1].EstimatedCardinality
	}

	f.JoinConditionCount = uint64(len(join.Conditions))
	sameType, simpleRef := 0, 0
	var signature string
	for _, cond := range join.Conditions {
		if cond.Comparison == plan.CompareEqual {
			f.JoinEqualityConditionCount++
		}
		if cond.LeftType != "" && cond.LeftType == cond.RightType {
			sameType++
		}
		if cond.LeftSimpleRef && cond.RightSimpleRef {
			simpleRef++
		}
		signature += cond.Comparison + ":" + cond.LeftType + ":" + cond.RightType + ";"
	}
	if n := len(join.Conditions); n > 0 {
		f.JoinKeySameTypeRatio = float64(sameType) / float64(n)
		f.JoinKeySimpleRefRatio = float64(simpleRef) / float64(n)
		f.JoinKeySignatureHash = normalizedHash(signature)
	}

	jf, ok := c.GetJoinFeatures(op)
	if !ok && op.EstimatedCardinality > 0 {
		// Fall back to the estimate-fingerprint key: the join-order planner
		// records features before operator identities are final.
		jf, ok = c.GetJoinFeaturesByEstimate(op.EstimatedCardinality)
	}
	if ok {
		f.TDOMValue = jf.TDOMValue
		f.TDOMFromHLL = jf.TDOMFromHLL
		f.JoinRelationSet = jf.RelationSet
		f.NumRelations = jf.NumRelations
		f.LeftRelationCard = jf.LeftRelationCard
		f.RightRelationCard = jf.RightRelationCard
		f.LeftDenominator = jf.LeftDenominator
		f.RightDenominator = jf.RightDenominator
		f.ComparisonTypeJoin = jf.ComparisonType
		f.ExtraRatio = jf.ExtraRatio
		f.Numerator = jf.Numerator
		f.Denominator = jf.Denominator
	}
}

func extractAggregate(op *plan.LogicalOperator, f *OperatorFeatures) {
	aggr := op.Aggregate
	if aggr == nil {
		return
	}
	f.NumGroupByColumns = uint64(len(aggr.Groups))
	f.NumAggregateFunctions = uint64(len(aggr.Aggregates))
	f.NumGroupingSets = uint64(len(aggr.GroupingSets))
}

func summarizeConstants(preds []plan.FilterExpr, f *OperatorFeatures) {
	var numericLogSum, stringLogSum float64
	var count uint64
	for _, p := range preds {
		if !p.HasConstant {
			continue
		}
		count++
		numericLogSum += math.Log1p(math.Abs(p.NumericConstant))
		stringLogSum += math.Log1p(float64(len(p.StringConstant)))
	}
	if count > 0 {
		f.FilterConstantCount = count
		f.FilterConstantNumericLogMean = numericLogSum / float64(count)
		f.FilterConstantStringLogMean = stringLogSum / float64(count)
	}
}
