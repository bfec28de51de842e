// Package plan holds the minimal operator model the learning subsystem
// consumes. The SQL parser, planner and execution engine proper live outside
// this module; they hand over trees of these nodes.
package plan

import "cardlearn/pkg/track"

type OperatorKind int

const (
	KindOther OperatorKind = iota
	KindGet
	KindFilter
	KindComparisonJoin
	KindAnyJoin
	KindCrossProduct
	KindAggregate
	KindProjection
	KindOrder
	KindTopN
	KindLimit
	KindUnion
)

var kindNames = map[OperatorKind]string{
	KindOther:          "LOGICAL_OTHER",
	KindGet:            "LOGICAL_GET",
	KindFilter:         "LOGICAL_FILTER",
	KindComparisonJoin: "LOGICAL_COMPARISON_JOIN",
	KindAnyJoin:        "LOGICAL_ANY_JOIN",
	KindCrossProduct:   "LOGICAL_CROSS_PRODUCT",
	KindAggregate:      "LOGICAL_AGGREGATE_AND_GROUP_BY",
	KindProjection:     "LOGICAL_PROJECTION",
	KindOrder:          "LOGICAL_ORDER_BY",
	KindTopN:           "LOGICAL_TOP_N",
	KindLimit:          "LOGICAL_LIMIT",
	KindUnion:          "LOGICAL_UNION",
}

func (k OperatorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "LOGICAL_OTHER"
}

// Comparison kind tags, shared by filter predicates and join conditions.
const (
	CompareEqual         = "EQUAL"
	CompareNotEqual      = "NOTEQUAL"
	CompareLessThan      = "LESSTHAN"
	CompareGreaterThan   = "GREATERTHAN"
	CompareLessThanEq    = "LESSTHANOREQUALTO"
	CompareGreaterThanEq = "GREATERTHANOREQUALTO"
)

// Filter expression kind tags.
const (
	ExprConstantComparison = "CONSTANT_COMPARISON"
	ExprConjunctionAnd     = "CONJUNCTION_AND"
	ExprConjunctionOr      = "CONJUNCTION_OR"
	ExprIsNull             = "IS_NULL"
	ExprIsNotNull          = "IS_NOT_NULL"
)

// FilterExpr describes a single predicate on a scan or filter node.
type FilterExpr struct {
	Kind       string // expression kind tag
	Comparison string // comparison kind, when Kind is a comparison
	ColumnID   uint64
	// Constant summary, when the predicate compares against a literal.
	NumericConstant float64
	StringConstant  string
	HasConstant     bool
}

// ScanNode is the table-scan payload of a logical Get.
type ScanNode struct {
	Table string
	// BaseCardinality is the scan's cardinality function, when the source
	// can report one.
	BaseCardinality func() (uint64, bool)
	Filters         []FilterExpr
}

type FilterNode struct {
	Predicates []FilterExpr
}

// JoinCondition is one predicate of a comparison join.
type JoinCondition struct {
	Comparison     string
	LeftType       string // operand type tags, e.g. "BIGINT"
	RightType      string
	LeftSimpleRef  bool // operand is a bare column reference
	RightSimpleRef bool
}

type JoinNode struct {
	JoinType   string // "INNER", "LEFT", "RIGHT", "SEMI", "ANTI", ...
	Conditions []JoinCondition
}

type AggregateNode struct {
	Groups       []uint64 // group-by column ids
	Aggregates   []string // aggregate function names
	GroupingSets [][]uint64
}

// LogicalOperator is a node of the logical plan handed to the subsystem.
type LogicalOperator struct {
	Kind     OperatorKind
	Children []*LogicalOperator

	EstimatedCardinality uint64
	HasEstimate          bool

	// Shadow copy of the engine's original estimate, populated by the
	// cardinality rewriter before it overwrites EstimatedCardinality.
	EngineEstimatedCardinality uint64
	HasEngineEstimate          bool

	Scan      *ScanNode
	Filter    *FilterNode
	Join      *JoinNode
	Aggregate *AggregateNode
}

// Physical operator kinds produced by the plan generator shim.
type PhysicalKind int

const (
	PhysOther PhysicalKind = iota
	PhysTableScan
	PhysFilter
	PhysHashJoin
	PhysNestedLoopJoin
	PhysMergeJoin
	PhysBlockwiseNLJoin
	PhysCrossProduct
	PhysHashAggregate
	PhysOrder
	PhysTopN
	PhysLimit
	PhysProjection
	PhysResultCollector
)

var physNames = map[PhysicalKind]string{
	PhysOther:           "OTHER",
	PhysTableScan:       "TABLE_SCAN",
	PhysFilter:          "FILTER",
	PhysHashJoin:        "HASH_JOIN",
	PhysNestedLoopJoin:  "NESTED_LOOP_JOIN",
	PhysMergeJoin:       "PIECEWISE_MERGE_JOIN",
	PhysBlockwiseNLJoin: "BLOCKWISE_NL_JOIN",
	PhysCrossProduct:    "CROSS_PRODUCT",
	PhysHashAggregate:   "HASH_GROUP_BY",
	PhysOrder:           "ORDER_BY",
	PhysTopN:            "TOP_N",
	PhysLimit:           "LIMIT",
	PhysProjection:      "PROJECTION",
	PhysResultCollector: "RESULT_COLLECTOR",
}

func (k PhysicalKind) String() string {
	if s, ok := physNames[k]; ok {
		return s
	}
	return "OTHER"
}

// PhysicalOperator is a node of the executable plan. Learn is the attached
// tracker state; the edge is owning and there are no back edges.
type PhysicalOperator struct {
	Kind     PhysicalKind
	Children []*PhysicalOperator

	EstimatedCardinality uint64

	Learn *track.OperatorState
}

// Walk visits the tree rooted at op in pre-order.
func (op *PhysicalOperator) Walk(visit func(*PhysicalOperator)) {
	visit(op)
	for _, child := range op.Children {
		child.Walk(visit)
	}
}

// WalkLogical visits the logical tree rooted at op in post-order.
func WalkLogical(op *LogicalOperator, visit func(*LogicalOperator)) {
	for _, child := range op.Children {
		WalkLogical(child, visit)
	}
	visit(op)
}
