package features

import (
	"hash/fnv"
	"math"
	"sort"
)

// FeatureVectorSize is a frozen binary contract between the extractor and
// the model. Layout:
//
//	[ 0,10)  operator type one-hot
//	[10,34)  table scan block (24)
//	[34,61)  join block (27)
//	[61,65)  aggregate block (4)
//	[65,67)  filter block (2)
//	[67,80)  context features, zero-padded
//
// Changing the layout requires bumping this constant and resetting the
// model; there is no migration path.
const FeatureVectorSize = 80

const (
	scanBlockStart      = 10
	joinBlockStart      = 34
	aggregateBlockStart = 61
	filterBlockStart    = 65
	contextBlockStart   = 67
)

// safeLog encodes a counter as log(1+x): always finite and monotone.
func safeLog(v uint64) float64 {
	return math.Log1p(float64(v))
}

func safeLogF(v float64) float64 {
	if v < 0 {
		v = 0
	}
	return math.Log1p(v)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// normalizedHash maps a categorical string to a stable value in [0,1) by
// hashing modulo 10^4. fnv keeps the layout deterministic across builds.
func normalizedHash(s string) float64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return float64(h.Sum64()%10000) / 10000.0
}

func comparisonOneHot(vec []float64, base int, kinds []string) {
	for _, kind := range kinds {
		switch kind {
		case "EQUAL":
			vec[base] = 1.0
		case "LESSTHAN":
			vec[base+1] = 1.0
		case "GREATERTHAN":
			vec[base+2] = 1.0
		case "LESSTHANOREQUALTO":
			vec[base+3] = 1.0
		case "GREATERTHANOREQUALTO":
			vec[base+4] = 1.0
		case "NOTEQUAL":
			vec[base+5] = 1.0
		}
	}
}

// FeaturesToVector produces the fixed-width dense vector for a feature
// record. Deterministic: equal records yield equal vectors.
func FeaturesToVector(f *OperatorFeatures) []float64 {
	vec := make([]float64, FeatureVectorSize)

	// Operator type one-hot. Slot choice mirrors the blocks the record
	// actually fills so planner-side records without a kind tag still land
	// in the right slot.
	switch {
	case f.TableName != "":
		vec[0] = 1.0 // scan
	case f.JoinType != "":
		vec[1] = 1.0 // join
	case len(f.FilterKinds) > 0:
		vec[2] = 1.0 // filter
	case f.NumGroupByColumns > 0 || f.NumAggregateFunctions > 0:
		vec[3] = 1.0 // aggregate
	default:
		vec[9] = 1.0 // other: projection, top-n, order, ...
	}

	if f.TableName != "" {
		scanBlock(vec, f)
	}
	if f.JoinType != "" {
		joinBlock(vec, f)
	}
	if f.NumGroupByColumns > 0 || f.NumAggregateFunctions > 0 {
		idx := aggregateBlockStart
		vec[idx] = safeLog(f.EstimatedCardinality)
		vec[idx+1] = float64(f.NumGroupByColumns)
		vec[idx+2] = float64(f.NumAggregateFunctions)
		vec[idx+3] = float64(f.NumGroupingSets)
	}
	if len(f.FilterKinds) > 0 && f.TableName == "" {
		idx := filterBlockStart
		vec[idx] = safeLog(f.ChildCardinality)
		vec[idx+1] = float64(len(f.FilterKinds))
	}

	// Context features; the rest of the block stays zero-padded.
	idx := contextBlockStart
	vec[idx] = safeLog(f.EstimatedCardinality)
	vec[idx+1] = float64(f.FilterConstantCount)
	vec[idx+2] = f.FilterConstantNumericLogMean
	vec[idx+3] = f.FilterConstantStringLogMean
	vec[idx+4] = float64(f.JoinConditionCount)
	vec[idx+5] = float64(f.JoinEqualityConditionCount)
	vec[idx+6] = clip01(f.JoinKeySignatureHash)
	vec[idx+7] = clip01(f.JoinKeySameTypeRatio)
	vec[idx+8] = clip01(f.JoinKeySimpleRefRatio)

	return vec
}

func scanBlock(vec []float64, f *OperatorFeatures) {
	idx := scanBlockStart
	vec[idx] = normalizedHash(f.TableName)
	vec[idx+1] = safeLog(f.BaseTableCardinality)
	vec[idx+2] = float64(f.NumTableFilters)
	vec[idx+3] = clip01(f.FilterSelectivity)
	if f.UsedDefaultSelectivity {
		vec[idx+4] = 1.0
	}
	vec[idx+5] = float64(len(f.FilterKinds))
	vec[idx+6] = float64(len(f.ColumnDistinctCounts))
	idx += 7

	// Distinct-count summary over the sketched columns.
	if len(f.ColumnDistinctCounts) > 0 && f.BaseTableCardinality > 0 {
		base := float64(f.BaseTableCardinality)
		sumRatio, minRatio, maxRatio := 0.0, 1.0, 0.0
		sumLog := 0.0
		minDistinct, maxDistinct := f.BaseTableCardinality, uint64(0)
		highCard, lowCard := 0, 0
		// Sum in column-name order so the float sums do not depend on map
		// iteration order.
		columns := make([]string, 0, len(f.ColumnDistinctCounts))
		for col := range f.ColumnDistinctCounts {
			columns = append(columns, col)
		}
		sort.Strings(columns)
		for _, col := range columns {
			distinct := f.ColumnDistinctCounts[col]
			ratio := float64(distinct) / base
			sumRatio += ratio
			sumLog += math.Log(math.Max(1, float64(distinct)))
			minRatio = math.Min(minRatio, ratio)
			maxRatio = math.Max(maxRatio, ratio)
			if distinct < minDistinct {
				minDistinct = distinct
			}
			if distinct > maxDistinct {
				maxDistinct = distinct
			}
			if ratio > 0.5 {
				highCard++
			}
			if ratio < 0.05 {
				lowCard++
			}
		}
		n := float64(len(f.ColumnDistinctCounts))
		vec[idx] = sumRatio / n
		vec[idx+1] = clip01(maxRatio)
		vec[idx+2] = clip01(minRatio)
		vec[idx+3] = sumLog / n
		vec[idx+4] = float64(highCard)
		vec[idx+5] = float64(lowCard)
		vec[idx+6] = safeLog(minDistinct)
		vec[idx+7] = safeLog(maxDistinct)
	}
	idx += 8

	comparisonOneHot(vec, idx, f.ComparisonKinds)
}

func joinBlock(vec []float64, f *OperatorFeatures) {
	idx := joinBlockStart
	vec[idx] = safeLog(f.LeftCardinality)
	vec[idx+1] = safeLog(f.RightCardinality)
	vec[idx+2] = safeLog(f.TDOMValue)
	if f.TDOMFromHLL {
		vec[idx+3] = 1.0
	}
	idx += 4

	switch f.JoinType {
	case "INNER":
		vec[idx] = 1.0
	case "LEFT":
		vec[idx+1] = 1.0
	case "RIGHT":
		vec[idx+2] = 1.0
	case "SEMI":
		vec[idx+3] = 1.0
	case "ANTI":
		vec[idx+4] = 1.0
	}
	idx += 5

	comparisonOneHot(vec, idx, []string{f.ComparisonTypeJoin})
	idx += 6

	vec[idx] = safeLogF(f.ExtraRatio)
	vec[idx+1] = math.Log(math.Max(1, f.Numerator))
	vec[idx+2] = math.Log(math.Max(1, f.Denominator))
	vec[idx+3] = float64(f.NumRelations)
	vec[idx+4] = math.Log(math.Max(1, f.LeftDenominator))
	vec[idx+5] = math.Log(math.Max(1, f.RightDenominator))
	idx += 6

	// Derived selectivity features: they separate high-selectivity joins
	// from cross-product-like joins.
	left, right := float64(f.LeftCardinality), float64(f.RightCardinality)

	// (a) cross-product over denominator.
	crossProduct := left * right
	selectivityFactor := 1.0
	if f.Denominator > 0 {
		selectivityFactor = crossProduct / f.Denominator
	}
	vec[idx] = math.Log(math.Max(1, selectivityFactor))

	// (b) TDOM relative to average input size.
	tdomRatio := 0.0
	if f.LeftCardinality > 0 && f.RightCardinality > 0 && f.TDOMValue > 0 {
		tdomRatio = float64(f.TDOMValue) / ((left + right) / 2)
	}
	vec[idx+1] = tdomRatio

	// (c) denominator over numerator.
	selectivityRatio := 1.0
	if f.Numerator > 0 {
		selectivityRatio = f.Denominator / f.Numerator
	}
	vec[idx+2] = math.Log(math.Max(1, selectivityRatio))

	// (d) input size imbalance.
	sizeImbalance := 1.0
	if f.LeftCardinality > 0 && f.RightCardinality > 0 {
		sizeImbalance = math.Max(left, right) / math.Min(left, right)
	}
	vec[idx+3] = math.Log(math.Max(1, sizeImbalance))

	// (e) low-TDOM indicator.
	if f.TDOMValue > 0 && f.TDOMValue < 1000 {
		vec[idx+4] = 1.0
	}

	// (f) expected output from numerator/denominator.
	expectedOutput := 0.0
	if f.Numerator > 0 && f.Denominator > 0 {
		expectedOutput = f.Numerator / f.Denominator
	}
	vec[idx+5] = math.Log(math.Max(1, expectedOutput))
}
