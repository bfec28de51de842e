// Workload driver: replays synthetic star-join queries through the full
// predict -> execute -> collect -> train loop and compares the learned
// model's q-error against the engine's built-in estimates.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"cardlearn"
	"cardlearn/pkg/config"
	"cardlearn/pkg/features"
	"cardlearn/pkg/plan"
)

type table struct {
	name     string
	rows     uint64
	distinct uint64 // distinct join-key values
}

var catalog = []table{
	{"orders", 1500000, 100000},
	{"lineitem", 6000000, 100000},
	{"customer", 150000, 150000},
	{"part", 200000, 200000},
	{"supplier", 10000, 10000},
}

func main() {
	queries := flag.Int("n", 200, "Number of queries to replay")
	workers := flag.Int("c", 4, "Concurrent query streams")
	configPath := flag.String("config", "", "Config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	system := cardlearn.New(cfg)
	defer system.Close()

	fmt.Printf("cardlearn benchmark (N=%d, C=%d)\n", *queries, *workers)
	fmt.Printf("  trees_per_update=%d  swap_every=%d  objective=%s\n",
		cfg.Model.TreesPerUpdate, cfg.Model.SwapEveryNUpdates, cfg.Model.Objective)
	fmt.Println("---------------------------------------------------")

	var queryIDs atomic.Uint64
	var g errgroup.Group
	perWorker := *queries / *workers
	for w := 0; w < *workers; w++ {
		seed := int64(w + 1)
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed))
			for q := 0; q < perWorker; q++ {
				runQuery(system, rng, queryIDs.Add(1))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("benchmark: %v", err)
	}

	stats := system.Stats()
	fmt.Printf("queries=%d  samples=%d  updates=%d  trees=%d\n",
		*queries, stats.SamplesCollected.Load(), system.Model().TotalUpdates(), system.Model().NumTrees())
	fmt.Printf("predictions=%d  cache_hits=%d  cap_fallbacks=%d\n",
		stats.Predictions.Load(), stats.CacheHits.Load(), stats.CapFallbacks.Load())
	fmt.Println("---------------------------------------------------")
	model, engine := stats.ModelQErrors(), stats.EngineQErrors()
	fmt.Printf("model  q-error: mean=%.2f p50=%.2f p95=%.2f\n",
		model.Mean(), model.Quantile(0.5), model.Quantile(0.95))
	fmt.Printf("engine q-error: mean=%.2f p50=%.2f p95=%.2f\n",
		engine.Mean(), engine.Quantile(0.5), engine.Quantile(0.95))
}

// runQuery builds one synthetic scan-filter-join-aggregate plan, feeds the
// collector the way statistics propagation would, plans it, simulates
// execution with the hidden true cardinalities, and closes the query.
func runQuery(system *cardlearn.System, rng *rand.Rand, queryID uint64) {
	left := catalog[rng.Intn(len(catalog))]
	right := catalog[rng.Intn(len(catalog))]
	selectivity := []float64{0.01, 0.05, 0.1, 0.5}[rng.Intn(4)]

	leftTrue := uint64(float64(left.rows) * selectivity)
	if leftTrue == 0 {
		leftTrue = 1
	}
	tdom := min(left.distinct, right.distinct)
	joinTrue := leftTrue * right.rows / max(tdom, 1)
	if joinTrue == 0 {
		joinTrue = 1
	}

	// The "engine" estimate applies a fixed default selectivity, which is
	// exactly the kind of systematic error the model learns around.
	leftEst := uint64(float64(left.rows) * 0.2)
	joinEst := leftEst * right.rows / max(tdom, 1)

	scan := &plan.LogicalOperator{
		Kind:                 plan.KindGet,
		EstimatedCardinality: leftEst,
		HasEstimate:          true,
		Scan: &plan.ScanNode{
			Table:           left.name,
			BaseCardinality: func() (uint64, bool) { return left.rows, true },
			Filters: []plan.FilterExpr{{
				Kind:            plan.ExprConstantComparison,
				Comparison:      plan.CompareLessThan,
				ColumnID:        1,
				NumericConstant: selectivity * 1000,
				HasConstant:     true,
			}},
		},
	}
	probe := &plan.LogicalOperator{
		Kind:                 plan.KindGet,
		EstimatedCardinality: right.rows,
		HasEstimate:          true,
		Scan: &plan.ScanNode{
			Table:           right.name,
			BaseCardinality: func() (uint64, bool) { return right.rows, true },
		},
	}
	join := &plan.LogicalOperator{
		Kind:                 plan.KindComparisonJoin,
		Children:             []*plan.LogicalOperator{scan, probe},
		EstimatedCardinality: joinEst,
		HasEstimate:          true,
		Join: &plan.JoinNode{
			JoinType: "INNER",
			Conditions: []plan.JoinCondition{{
				Comparison:     plan.CompareEqual,
				LeftType:       "BIGINT",
				RightType:      "BIGINT",
				LeftSimpleRef:  true,
				RightSimpleRef: true,
			}},
		},
	}
	root := &plan.LogicalOperator{
		Kind:                 plan.KindAggregate,
		Children:             []*plan.LogicalOperator{join},
		EstimatedCardinality: max(joinEst/10, 1),
		HasEstimate:          true,
		Aggregate: &plan.AggregateNode{
			Groups:     []uint64{1},
			Aggregates: []string{"count"},
		},
	}

	// What statistics propagation would have recorded.
	collector := system.Collector()
	collector.AddTableScanFeatures(scan, features.TableScanFeatures{
		TableName:              left.name,
		BaseCardinality:        left.rows,
		ColumnDistinctCounts:   map[string]uint64{"k": left.distinct},
		NumTableFilters:        1,
		FinalCardinality:       leftEst,
		FilterSelectivity:      0.2,
		UsedDefaultSelectivity: true,
		FilterKinds:            []string{plan.ExprConstantComparison},
		ComparisonKinds:        []string{plan.CompareLessThan},
		FilterColumnIDs:        []uint64{1},
	})
	relationSet := "[" + left.name + "," + right.name + "]"
	collector.AddJoinFeatures(join, features.JoinFeatures{
		JoinType:             "INNER",
		RelationSet:          relationSet,
		NumRelations:         2,
		LeftRelationCard:     leftEst,
		RightRelationCard:    right.rows,
		LeftDenominator:      1,
		RightDenominator:     float64(tdom),
		ComparisonType:       plan.CompareEqual,
		TDOMValue:            tdom,
		TDOMFromHLL:          true,
		ExtraRatio:           1,
		Numerator:            float64(leftEst) * float64(right.rows),
		Denominator:          float64(tdom),
		EstimatedCardinality: joinEst,
	})

	system.OptimizeLogicalPlan(root, queryID)
	phys := system.CreatePhysicalPlan(root, queryID)

	// Simulate execution: each operator reports its true output.
	truth := map[plan.PhysicalKind]uint64{
		plan.PhysTableScan:     leftTrue,
		plan.PhysHashJoin:      joinTrue,
		plan.PhysHashAggregate: max(joinTrue/10, 1),
	}
	seenScan := false
	phys.Walk(func(op *plan.PhysicalOperator) {
		if op.Learn == nil {
			return
		}
		switch op.Kind {
		case plan.PhysTableScan:
			if !seenScan {
				op.Learn.AddRows(leftTrue)
				seenScan = true
			} else {
				op.Learn.AddRows(right.rows)
			}
		default:
			if rows, ok := truth[op.Kind]; ok {
				op.Learn.AddRows(rows)
			}
		}
	})

	system.EndQuery(phys, queryID)
}
