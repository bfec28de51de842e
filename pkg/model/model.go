// Package model owns the shared gradient-boosted-trees ensemble: one active
// booster serving inference and one shadow booster absorbing incremental
// training, swapped periodically under a strict lock order.
package model

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"cardlearn/pkg/config"
	"cardlearn/pkg/features"
	"cardlearn/pkg/trainbuf"
)

// Printf routes model output through the engine's printer. Tests and
// embedders may replace it before first use. Downstream tooling parses the
// "[RL BOOSTING]" lines, so their format is part of the interface.
var Printf = func(format string, args ...any) {
	log.Printf(format, args...)
}

// minTrainSamples is the floor below which an incremental update is a
// silent no-op.
const minTrainSamples = 10

// Model wraps the booster pair with the concurrency discipline the engine's
// parallel execution requires. Lock order: trainMu before predictMu, never
// the other way around.
type Model struct {
	cfg config.ModelConfig

	// trainMu serializes the training path and guards shadow and the
	// training* counters.
	trainMu sync.Mutex
	// predictMu serializes inference and guards publication of active.
	predictMu sync.Mutex

	active *booster
	shadow *booster

	// Visible to inference without locks.
	numTrees     atomic.Uint64
	totalUpdates atomic.Uint64
	initialized  atomic.Bool

	// Shadow-side counters, guarded by trainMu.
	trainingNumTrees     uint64
	trainingTotalUpdates uint64
	trainingUpdateCalls  uint64
}

// New builds and bootstraps a model. Bootstrap trains one dummy tree on a
// zero row labeled 1 so the booster freezes its feature count; the model is
// not ready until a real update lands on top of it.
func New(cfg config.ModelConfig) *Model {
	m := &Model{cfg: cfg}
	m.bootstrapLocked()
	return m
}

// bootstrapLocked (re)creates the active booster. Callers must either hold
// both locks or be the constructor.
func (m *Model) bootstrapLocked() {
	b := newBooster(m.cfg, features.FeatureVectorSize)
	dm, err := newSampleMatrix(
		[][]float64{make([]float64, features.FeatureVectorSize)},
		[]float64{1.0},
		features.FeatureVectorSize,
	)
	if err == nil {
		err = b.updateOneIter(0, dm)
	}
	if err != nil {
		Printf("[RL BOOSTING ERROR] bootstrap failed: %v", err)
		m.initialized.Store(false)
		return
	}
	m.active = b
	m.shadow = nil
	m.numTrees.Store(1)
	m.totalUpdates.Store(0)
	m.trainingNumTrees = 1
	m.trainingTotalUpdates = 0
	m.trainingUpdateCalls = 0
	m.initialized.Store(true)
}

// IsReady reports whether the model has trained beyond its bootstrap tree.
func (m *Model) IsReady() bool {
	return m.initialized.Load() && m.numTrees.Load() > 1
}

func (m *Model) NumTrees() uint64 {
	return m.numTrees.Load()
}

func (m *Model) TotalUpdates() uint64 {
	return m.totalUpdates.Load()
}

// Predict runs single-row inference. It returns 0 - the universal "use the
// engine estimate" sentinel - for wrong-width input, a cold model, or any
// booster error; otherwise the result is >= 1.
func (m *Model) Predict(vec []float64) float64 {
	if len(vec) != features.FeatureVectorSize {
		return 0
	}
	if !m.IsReady() {
		return 0
	}

	m.predictMu.Lock()
	logCard, err := m.active.predictRow(vec)
	m.predictMu.Unlock()
	if err != nil {
		Printf("[RL BOOSTING ERROR] prediction failed: %v", err)
		return 0
	}
	return cardFromLog(logCard)
}

// PredictBatch runs one inference pass over an n x W matrix. Rows of the
// wrong width poison the whole call: the result is all zeros.
func (m *Model) PredictBatch(matrix [][]float64) []float64 {
	out := make([]float64, len(matrix))
	if len(matrix) == 0 || !m.IsReady() {
		return out
	}
	for _, row := range matrix {
		if len(row) != features.FeatureVectorSize {
			return out
		}
	}

	m.predictMu.Lock()
	defer m.predictMu.Unlock()
	for i, row := range matrix {
		logCard, err := m.active.predictRow(row)
		if err != nil {
			Printf("[RL BOOSTING ERROR] batch prediction failed: %v", err)
			return make([]float64, len(matrix))
		}
		out[i] = cardFromLog(logCard)
	}
	return out
}

func cardFromLog(logCard float64) float64 {
	if logCard < 0 {
		logCard = 0
	}
	card := math.Exp(logCard)
	if card < 1 {
		card = 1
	}
	return card
}

// UpdateIncremental trains the shadow booster on the given samples, adding
// at most trees_per_update trees, and periodically publishes the shadow as
// the new active booster. Requires at least 10 valid samples; otherwise a
// silent no-op. Errors abort the update without publishing partial trees.
func (m *Model) UpdateIncremental(samples []trainbuf.Sample) {
	if !m.initialized.Load() {
		return
	}

	rows := make([][]float64, 0, len(samples))
	labels := make([]float64, 0, len(samples))
	var qSum float64
	for _, s := range samples {
		if len(s.Features) != features.FeatureVectorSize {
			continue
		}
		rows = append(rows, s.Features)
		labels = append(labels, math.Log(math.Max(1, float64(s.ActualCard))))
		qSum += s.QError
	}
	if len(rows) < minTrainSamples {
		return
	}

	dm, err := newSampleMatrix(rows, labels, features.FeatureVectorSize)
	if err != nil {
		Printf("[RL BOOSTING ERROR] failed to build training matrix: %v", err)
		return
	}

	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	if m.shadow == nil {
		// Clone the active booster by serialize/deserialize. The active
		// pointer is stable here: it is only replaced under trainMu.
		clone, err := m.active.clone()
		if err != nil {
			Printf("[RL BOOSTING ERROR] failed to clone booster: %v", err)
			return
		}
		m.shadow = clone
	}

	budget := int64(m.cfg.MaxTotalTrees) - int64(m.trainingNumTrees)
	iters := int64(m.cfg.TreesPerUpdate)
	if iters > budget {
		iters = budget
	}
	if iters <= 0 {
		// Ensemble cap reached: silent no-op.
		return
	}

	added := uint64(0)
	for i := int64(0); i < iters; i++ {
		iteration := int64(m.trainingTotalUpdates)*int64(m.cfg.TreesPerUpdate) + i
		if err := m.shadow.updateOneIter(int(iteration), dm); err != nil {
			Printf("[RL BOOSTING ERROR] training iteration failed: %v", err)
			// Discard the shadow so no partial additions can ever publish.
			m.shadow = nil
			return
		}
		added++
	}
	m.trainingNumTrees += added
	m.trainingTotalUpdates++
	m.trainingUpdateCalls++

	if m.trainingUpdateCalls%uint64(m.cfg.SwapEveryNUpdates) != 0 || added == 0 {
		return
	}

	// Publish: swap the shadow in under the predict lock (train before
	// predict, always). Readers see either the old or the new booster with
	// matching counters, never a torn mix.
	m.predictMu.Lock()
	m.active = m.shadow
	m.numTrees.Store(m.trainingNumTrees)
	m.totalUpdates.Store(m.trainingTotalUpdates)
	m.predictMu.Unlock()
	m.shadow = nil

	avgQ := qSum / float64(len(rows))
	Printf("[RL BOOSTING] Incremental update #%d: trained on %d samples, total trees=%d, avg Q-error=%s",
		m.trainingTotalUpdates, len(rows), m.trainingNumTrees, formatQ(avgQ))
}

func formatQ(q float64) string {
	return fmt.Sprintf("%.6f", q)
}

// Reset frees both boosters and re-bootstraps. Recovery path for repeated
// errors or feature-width drift.
func (m *Model) Reset() {
	m.trainMu.Lock()
	defer m.trainMu.Unlock()
	m.predictMu.Lock()
	defer m.predictMu.Unlock()

	m.active = nil
	m.shadow = nil
	m.numTrees.Store(0)
	m.totalUpdates.Store(0)
	m.initialized.Store(false)
	m.bootstrapLocked()
}
