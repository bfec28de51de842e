// Package monitor tracks the subsystem's observable counters and the
// q-error distribution of collected samples. Counters never drive control
// flow.
package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

type Stats struct {
	Predictions         atomic.Uint64
	PlanningPredictions atomic.Uint64
	CacheHits           atomic.Uint64
	CapFallbacks        atomic.Uint64
	SamplesCollected    atomic.Uint64
	TrainingUpdates     atomic.Uint64

	model  QErrorDigest
	engine QErrorDigest
}

func NewStats() *Stats {
	return &Stats{}
}

// RecordSample records the q-errors of one collected sample: the model's
// and, for comparison, the engine's built-in estimate's.
func (s *Stats) RecordSample(modelQ, engineQ float64) {
	s.SamplesCollected.Add(1)
	s.model.Record(modelQ)
	s.engine.Record(engineQ)
}

func (s *Stats) ModelQErrors() *QErrorDigest  { return &s.model }
func (s *Stats) EngineQErrors() *QErrorDigest { return &s.engine }

// digestCap bounds the digest; on overflow it is cleared in full, same as
// the collector maps.
const digestCap = 10000

type qerrItem struct {
	q   float64
	seq uint64
}

func qerrLess(a, b qerrItem) bool {
	if a.q != b.q {
		return a.q < b.q
	}
	return a.seq < b.seq
}

// QErrorDigest is an ordered multiset of q-errors supporting mean and
// quantile queries for reporting.
type QErrorDigest struct {
	mu   sync.Mutex
	tree *btree.BTreeG[qerrItem]
	seq  uint64
	sum  float64
}

func (d *QErrorDigest) Record(q float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tree == nil {
		d.tree = btree.NewG(16, qerrLess)
	}
	if d.tree.Len() >= digestCap {
		d.tree.Clear(false)
		d.sum = 0
	}
	d.seq++
	d.tree.ReplaceOrInsert(qerrItem{q: q, seq: d.seq})
	d.sum += q
}

func (d *QErrorDigest) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tree == nil {
		return 0
	}
	return d.tree.Len()
}

func (d *QErrorDigest) Mean() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tree == nil || d.tree.Len() == 0 {
		return 0
	}
	return d.sum / float64(d.tree.Len())
}

// Quantile returns the q-error at rank p in [0,1].
func (d *QErrorDigest) Quantile(p float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tree == nil || d.tree.Len() == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	rank := int(p * float64(d.tree.Len()-1))
	var out float64
	i := 0
	d.tree.Ascend(func(item qerrItem) bool {
		if i == rank {
			out = item.q
			return false
		}
		i++
		return true
	})
	return out
}
