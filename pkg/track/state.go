package track

import "sync/atomic"

// OperatorState is attached to a physical operator that participates in
// online cardinality learning. It carries the operator's feature vector and
// both predictions across execution so that a training sample can be built
// once actual row counts are known. The state is attached exactly once and
// lives exactly as long as the physical plan.
type OperatorState struct {
	// Features is the fixed-width vector computed at plan time. Immutable.
	Features []float64
	// Predicted is the prediction attached at plan time; the plan generator
	// stores the engine estimate here when the model made none.
	Predicted uint64
	// EngineEstimate is the engine's built-in estimate, kept for comparison.
	EngineEstimate uint64
	// HasPrediction marks states eligible for sample collection.
	HasPrediction bool

	actual    atomic.Uint64
	collected atomic.Bool
}

func NewOperatorState(features []float64, predicted, engineEstimate uint64) *OperatorState {
	return &OperatorState{
		Features:       features,
		Predicted:      predicted,
		EngineEstimate: engineEstimate,
		HasPrediction:  true,
	}
}

// AddRows is called from execution as row batches are emitted.
func (s *OperatorState) AddRows(n uint64) {
	s.actual.Add(n)
}

func (s *OperatorState) GetActualCardinality() uint64 {
	return s.actual.Load()
}

// MarkCollected records that a training sample has been emitted for this
// operator. Returns false if it was already collected.
func (s *OperatorState) MarkCollected() bool {
	return s.collected.CompareAndSwap(false, true)
}

func (s *OperatorState) Collected() bool {
	return s.collected.Load()
}
