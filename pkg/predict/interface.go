// Package predict binds the feature extractor to the model. It owns the
// per-goroutine prediction caches, the optimizer-side and execution-side
// prediction caps, tracker attachment, and the end-of-query collection walk
// that turns executed plans into training samples.
package predict

import (
	"math"
	"strconv"
	"strings"

	"cardlearn/pkg/config"
	"cardlearn/pkg/features"
	"cardlearn/pkg/model"
	"cardlearn/pkg/monitor"
	"cardlearn/pkg/plan"
	"cardlearn/pkg/samplelog"
	"cardlearn/pkg/track"
	"cardlearn/pkg/trainbuf"
)

// Interface is the prediction front door shared by the optimizer hook and
// the physical-plan shim.
type Interface struct {
	cfg      config.PredictConfig
	window   int
	minTrain int

	model     *model.Model
	collector *features.Collector
	buffer    *trainbuf.Buffer
	tracker   *track.Tracker
	stats     *monitor.Stats
	samples   *samplelog.Log // nil when the sink is disabled

	physical *goroutineCaches
	planning *goroutineCaches
}

func NewInterface(
	cfg config.PredictConfig,
	bufCfg config.BufferConfig,
	m *model.Model,
	c *features.Collector,
	b *trainbuf.Buffer,
	t *track.Tracker,
	stats *monitor.Stats,
	samples *samplelog.Log,
) *Interface {
	i := &Interface{
		cfg:       cfg,
		window:    bufCfg.WindowSize,
		minTrain:  bufCfg.MinTrainSamples,
		model:     m,
		collector: c,
		buffer:    b,
		tracker:   t,
		stats:     stats,
		samples:   samples,
		physical:  newGoroutineCaches(cfg.CacheCapacity, cfg.MaxPhysicalPredictions),
		planning:  newGoroutineCaches(cfg.CacheCapacity, cfg.MaxPlanningPredictions),
	}
	i.registerJoinPredictor()
	return i
}

// CacheKey builds the fingerprint the per-goroutine caches are keyed by.
// The grammar is per operator kind, delimited by '|'.
func CacheKey(f *features.OperatorFeatures) string {
	var sb strings.Builder
	sb.Grow(128)
	sb.WriteString(f.OperatorType)
	sb.WriteByte('|')

	switch {
	case f.TableName != "":
		sb.WriteString(f.TableName)
		sb.WriteByte('|')
		sb.WriteString(strconv.Itoa(len(f.FilterKinds)))
		sb.WriteByte('|')
		for _, cmp := range f.ComparisonKinds {
			sb.WriteString(cmp)
			sb.WriteByte(',')
		}
	case f.JoinType != "":
		sb.WriteString(f.JoinType)
		sb.WriteByte('|')
		sb.WriteString(f.JoinRelationSet)
		sb.WriteByte('|')
		sb.WriteString(f.ComparisonTypeJoin)
	case len(f.FilterKinds) > 0:
		sb.WriteString(strconv.Itoa(len(f.FilterKinds)))
		sb.WriteByte('|')
		for _, cmp := range f.ComparisonKinds {
			sb.WriteString(cmp)
			sb.WriteByte(',')
		}
	case f.NumGroupByColumns > 0 || f.NumAggregateFunctions > 0:
		sb.WriteString(strconv.FormatUint(f.NumGroupByColumns, 10))
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatUint(f.NumAggregateFunctions, 10))
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatUint(f.NumGroupingSets, 10))
	}
	return sb.String()
}

// PredictCardinality is the physical-plan entry point. It returns the raw
// model prediction, 0 meaning "no prediction, use the engine estimate".
// Beyond the per-query cap it returns the engine estimate directly.
func (i *Interface) PredictCardinality(f *features.OperatorFeatures, queryID uint64) uint64 {
	i.stats.Predictions.Add(1)
	return i.predictCached(i.physical, f, queryID)
}

// PredictPlanningCardinality is the optimizer-side entry point with its own
// cache and cap, so plan exploration cannot evict physical predictions.
func (i *Interface) PredictPlanningCardinality(f *features.OperatorFeatures, queryID uint64) uint64 {
	i.stats.PlanningPredictions.Add(1)
	return i.predictCached(i.planning, f, queryID)
}

func (i *Interface) predictCached(caches *goroutineCaches, f *features.OperatorFeatures, queryID uint64) uint64 {
	c := caches.get(queryID)

	if c.count >= uint64(caches.maxPredictions) {
		i.stats.CapFallbacks.Add(1)
		return f.EstimatedCardinality
	}

	key := CacheKey(f)
	if v, ok := c.entries[key]; ok {
		i.stats.CacheHits.Add(1)
		return v
	}

	vec := features.FeaturesToVector(f)
	predicted := i.model.Predict(vec)
	if predicted <= 0 {
		return 0
	}

	result := uint64(predicted)
	if len(c.entries) >= caches.capacity {
		clear(c.entries)
	}
	c.entries[key] = result
	c.count++
	return result
}

// GetCardinalityEstimate resolves the planning estimate for an operator:
// joins may be overridden by the model, everything else keeps the engine
// estimate (high-impact operators only).
func (i *Interface) GetCardinalityEstimate(f *features.OperatorFeatures, queryID uint64) uint64 {
	if f.JoinType == "" {
		return f.EstimatedCardinality
	}
	predicted := i.PredictCardinality(f, queryID)
	if predicted == 0 {
		return f.EstimatedCardinality
	}
	return predicted
}

// AttachState stores tracker state on a physical operator. Called exactly
// once per participating operator.
func (i *Interface) AttachState(op *plan.PhysicalOperator, f *features.OperatorFeatures, rlPrediction, engineEstimate uint64) {
	state := track.NewOperatorState(features.FeaturesToVector(f), rlPrediction, engineEstimate)
	op.Learn = state
	i.tracker.Register(op, state)
}

// ResetPredictionCachesForGoroutine drops the calling goroutine's caches.
// Engines call it at cross-query boundaries.
func (i *Interface) ResetPredictionCachesForGoroutine() {
	i.physical.reset()
	i.planning.reset()
}

// registerJoinPredictor wires the model into the collector so the
// join-order planner can consult it while exploring plans.
func (i *Interface) registerJoinPredictor() {
	i.collector.RegisterPredictor(func(jf features.JoinFeatures) float64 {
		if i.model.NumTrees() < 2 {
			return 0
		}

		c := i.planning.get(0) // planner exploration shares one epoch
		if v, ok := c.entries[jf.RelationSet]; ok {
			i.stats.CacheHits.Add(1)
			return float64(v)
		}

		f := joinFeaturesToOperatorFeatures(jf)
		vec := features.FeaturesToVector(&f)
		predicted := i.model.Predict(vec)
		if predicted <= 0 {
			return 0
		}
		if len(c.entries) >= i.planning.capacity {
			clear(c.entries)
		}
		c.entries[jf.RelationSet] = uint64(predicted)
		return predicted
	})
}

// joinFeaturesToOperatorFeatures lifts planner-side join features into a
// full record. Sentinel or missing side cardinalities are derived from the
// numerator: for a join it approximates the product of the input sizes, so
// each side is taken as its square root.
func joinFeaturesToOperatorFeatures(jf features.JoinFeatures) features.OperatorFeatures {
	f := features.OperatorFeatures{
		OperatorType:         plan.KindComparisonJoin.String(),
		EstimatedCardinality: jf.EstimatedCardinality,
		JoinType:             jf.JoinType,
		JoinRelationSet:      jf.RelationSet,
		NumRelations:         jf.NumRelations,
		LeftRelationCard:     jf.LeftRelationCard,
		RightRelationCard:    jf.RightRelationCard,
		LeftDenominator:      jf.LeftDenominator,
		RightDenominator:     jf.RightDenominator,
		ComparisonTypeJoin:   jf.ComparisonType,
		TDOMValue:            jf.TDOMValue,
		TDOMFromHLL:          jf.TDOMFromHLL,
		ExtraRatio:           jf.ExtraRatio,
		Numerator:            jf.Numerator,
		Denominator:          jf.Denominator,
	}

	const invalid = math.MaxUint64
	if jf.LeftRelationCard == invalid || jf.LeftRelationCard == 0 ||
		jf.RightRelationCard == invalid || jf.RightRelationCard == 0 {
		if jf.Numerator > 0 {
			side := uint64(math.Sqrt(jf.Numerator))
			f.LeftCardinality = side
			f.RightCardinality = side
		} else {
			f.LeftCardinality = 1
			f.RightCardinality = 1
		}
	} else {
		f.LeftCardinality = jf.LeftRelationCard
		f.RightCardinality = jf.RightRelationCard
	}
	return f
}
