// Package cardlearn augments an analytical query engine's cardinality
// estimator with an online-learning gradient-boosted-trees model. Features
// are extracted from every operator during compilation, a shared ensemble
// predicts output sizes, and actual row counts collected after execution
// train the model incrementally so the next query sees an updated model.
//
// The subsystem degrades to the engine's built-in estimates whenever the
// model is cold or unavailable; the 0 prediction is the universal "use the
// engine estimate" sentinel.
package cardlearn

import (
	"sync"

	"cardlearn/pkg/config"
	"cardlearn/pkg/features"
	"cardlearn/pkg/model"
	"cardlearn/pkg/monitor"
	"cardlearn/pkg/optimizer"
	"cardlearn/pkg/physical"
	"cardlearn/pkg/plan"
	"cardlearn/pkg/predict"
	"cardlearn/pkg/samplelog"
	"cardlearn/pkg/track"
	"cardlearn/pkg/trainbuf"
)

// System is the process-lifecycle object owning every shared component.
// The engine builds exactly one at startup and closes it after all worker
// threads quiesce.
type System struct {
	cfg *config.Config

	model     *model.Model
	collector *features.Collector
	buffer    *trainbuf.Buffer
	tracker   *track.Tracker
	stats     *monitor.Stats
	samples   *samplelog.Log
	iface     *predict.Interface
	planner   *physical.Planner
	rewriter  *optimizer.CardinalityRewriter
}

// New wires a System from configuration. The sample log is best-effort: if
// it cannot be opened the system runs without it.
func New(cfg *config.Config) *System {
	if cfg == nil {
		cfg = config.Default()
	}

	s := &System{
		cfg:       cfg,
		model:     model.New(cfg.Model),
		collector: features.NewCollector(cfg.Collector.MaxEntries),
		buffer:    trainbuf.NewBuffer(cfg.Buffer.Capacity),
		tracker:   track.NewTracker(),
		stats:     monitor.NewStats(),
	}
	if cfg.SampleLog.Path != "" {
		if l, err := samplelog.Open(cfg.SampleLog.Path); err == nil {
			s.samples = l
		}
	}
	s.iface = predict.NewInterface(
		cfg.Predict, cfg.Buffer,
		s.model, s.collector, s.buffer, s.tracker, s.stats, s.samples,
	)
	s.planner = physical.NewPlanner(s.iface, s.collector)
	s.rewriter = optimizer.NewCardinalityRewriter(s.iface, s.collector, cfg.Optimizer)
	return s
}

func (s *System) Config() *config.Config         { return s.cfg }
func (s *System) Model() *model.Model            { return s.model }
func (s *System) Collector() *features.Collector { return s.collector }
func (s *System) Buffer() *trainbuf.Buffer       { return s.buffer }
func (s *System) Tracker() *track.Tracker        { return s.tracker }
func (s *System) Stats() *monitor.Stats          { return s.stats }
func (s *System) Interface() *predict.Interface  { return s.iface }
func (s *System) Planner() *physical.Planner     { return s.planner }

// OptimizeLogicalPlan applies the cardinality rewriter when it is enabled.
// Physical planning never depends on predictions; this is the one opt-in
// point where they may steer the optimizer.
func (s *System) OptimizeLogicalPlan(root *plan.LogicalOperator, queryID uint64) {
	if !s.cfg.Optimizer.Enabled {
		return
	}
	s.rewriter.Rewrite(root, queryID)
}

// CreatePhysicalPlan lowers the logical plan, attaching tracker state.
func (s *System) CreatePhysicalPlan(root *plan.LogicalOperator, queryID uint64) *plan.PhysicalOperator {
	return s.planner.CreatePlan(root, queryID)
}

// EndQuery is the per-query epilogue: collect actuals into the buffer,
// trigger the incremental update, then clear all cross-plan state.
func (s *System) EndQuery(root *plan.PhysicalOperator, queryID uint64) {
	s.iface.CollectActualCardinalities(root, queryID)
	s.collector.Clear()
	s.iface.ResetPredictionCachesForGoroutine()
}

// Close flushes the optional sample log. The model is in-memory only and
// has no state to persist.
func (s *System) Close() error {
	if s.samples != nil {
		return s.samples.Close()
	}
	return nil
}

var (
	defaultMu     sync.Mutex
	defaultSystem *System
)

// Default lazily builds the process-wide System from ambient configuration.
// Engine startup paths that can should construct a System explicitly and
// keep ownership instead.
func Default() *System {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSystem == nil {
		cfg, err := config.Load("")
		if err != nil {
			cfg = config.FromEnv()
		}
		defaultSystem = New(cfg)
	}
	return defaultSystem
}
