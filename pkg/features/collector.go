package features

import (
	"sync"

	boom "github.com/tylertreat/BoomFilters"

	"cardlearn/pkg/plan"
)

// TableScanFeatures are captured during statistics propagation for a scan.
type TableScanFeatures struct {
	TableName                          string
	BaseCardinality                    uint64
	ColumnDistinctCounts               map[string]uint64
	NumTableFilters                    uint64
	FinalCardinality                   uint64
	FilterSelectivity                  float64
	UsedDefaultSelectivity             bool
	CardinalityAfterDefaultSelectivity uint64
	FilterKinds                        []string
	ComparisonKinds                    []string
	FilterColumnIDs                    []uint64
}

// JoinFeatures are captured while the join-order planner estimates a join.
type JoinFeatures struct {
	JoinType             string
	RelationSet          string
	NumRelations         uint64
	LeftRelationCard     uint64
	RightRelationCard    uint64
	LeftDenominator      float64
	RightDenominator     float64
	ComparisonType       string
	TDOMValue            uint64
	TDOMFromHLL          bool
	ExtraRatio           float64
	Numerator            float64
	Denominator          float64
	EstimatedCardinality uint64
}

// FilterFeatures are captured for standalone filter operators.
type FilterFeatures struct {
	ComparisonKinds       []string
	ConstantCount         uint64
	NumericConstantLogSum float64
	StringConstantLogSum  float64
}

// PredictorCallback lets the join-order planner consult the model directly
// while exploring plans. Returns 0 when no prediction is available.
type PredictorCallback func(JoinFeatures) float64

// Collector is the registry bridging statistics propagation and feature
// extraction. All cross-plan state lives here; the engine clears it after
// each query. Every map has a hard size bound: before an insert into a map
// that already holds more entries than the bound, the map is cleared in full.
//
// Lookups return copies. The internal maps are never exposed.
type Collector struct {
	mu sync.Mutex

	maxEntries int

	tableScans    map[*plan.LogicalOperator]TableScanFeatures
	joins         map[*plan.LogicalOperator]JoinFeatures
	joinsBySet    map[string]JoinFeatures
	joinsByEst    map[uint64]JoinFeatures
	filters       map[*plan.LogicalOperator]FilterFeatures
	columnSketch  map[string]*boom.HyperLogLog
	predictor     PredictorCallback
	sketchClears  uint64
	overflowCount uint64
}

func NewCollector(maxEntries int) *Collector {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	c := &Collector{maxEntries: maxEntries}
	c.reset()
	return c
}

func (c *Collector) reset() {
	c.tableScans = make(map[*plan.LogicalOperator]TableScanFeatures)
	c.joins = make(map[*plan.LogicalOperator]JoinFeatures)
	c.joinsBySet = make(map[string]JoinFeatures)
	c.joinsByEst = make(map[uint64]JoinFeatures)
	c.filters = make(map[*plan.LogicalOperator]FilterFeatures)
	if c.columnSketch == nil {
		c.columnSketch = make(map[string]*boom.HyperLogLog)
	}
}

func (c *Collector) AddTableScanFeatures(op *plan.LogicalOperator, f TableScanFeatures) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tableScans) > c.maxEntries {
		c.tableScans = make(map[*plan.LogicalOperator]TableScanFeatures)
		c.overflowCount++
	}
	c.tableScans[op] = f
}

func (c *Collector) AddJoinFeatures(op *plan.LogicalOperator, f JoinFeatures) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.joins) > c.maxEntries {
		c.joins = make(map[*plan.LogicalOperator]JoinFeatures)
		c.overflowCount++
	}
	c.joins[op] = f
}

// AddJoinFeaturesByRelationSet keys features by the relation-set fingerprint
// and, when an estimate is present, by the estimate fingerprint as well. The
// two maps are cleared together so they never diverge.
func (c *Collector) AddJoinFeaturesByRelationSet(relationSet string, f JoinFeatures) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.joinsBySet) > c.maxEntries {
		c.joinsBySet = make(map[string]JoinFeatures)
		c.joinsByEst = make(map[uint64]JoinFeatures)
		c.overflowCount++
	}
	c.joinsBySet[relationSet] = f
	if f.EstimatedCardinality > 0 {
		c.joinsByEst[f.EstimatedCardinality] = f
	}
}

func (c *Collector) AddFilterFeatures(op *plan.LogicalOperator, f FilterFeatures) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.filters) > c.maxEntries {
		c.filters = make(map[*plan.LogicalOperator]FilterFeatures)
		c.overflowCount++
	}
	c.filters[op] = f
}

func (c *Collector) GetTableScanFeatures(op *plan.LogicalOperator) (TableScanFeatures, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.tableScans[op]
	return f, ok
}

func (c *Collector) GetJoinFeatures(op *plan.LogicalOperator) (JoinFeatures, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.joins[op]
	return f, ok
}

func (c *Collector) GetJoinFeaturesByRelationSet(relationSet string) (JoinFeatures, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.joinsBySet[relationSet]
	return f, ok
}

func (c *Collector) GetJoinFeaturesByEstimate(estimatedCardinality uint64) (JoinFeatures, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.joinsByEst[estimatedCardinality]
	return f, ok
}

func (c *Collector) GetFilterFeatures(op *plan.LogicalOperator) (FilterFeatures, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.filters[op]
	return f, ok
}

// JoinFeatureCount reports the size of the relation-set map.
func (c *Collector) JoinFeatureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.joinsBySet)
}

// OverflowCount reports how many wholesale clears have happened.
func (c *Collector) OverflowCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowCount
}

// Clear drops all per-query state. Must be called once per query by the
// engine. Column sketches survive: they accumulate across queries.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// RegisterPredictor installs the model callback used by PredictCardinality.
func (c *Collector) RegisterPredictor(cb PredictorCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.predictor = cb
}

// PredictCardinality lets the join-order planner consult the model for a
// candidate join. The callback is copied out under the lock and invoked
// without it.
func (c *Collector) PredictCardinality(f JoinFeatures) float64 {
	c.mu.Lock()
	cb := c.predictor
	c.mu.Unlock()
	if cb == nil {
		return 0
	}
	return cb(f)
}
