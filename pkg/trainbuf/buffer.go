// Package trainbuf holds the experience store: a bounded FIFO ring of
// training samples shared by collection and training.
package trainbuf

import "sync"

// Sample is one training observation. Immutable after insertion.
type Sample struct {
	Features      []float64
	ActualCard    uint64
	PredictedCard uint64
	QError        float64
}

// QError is the canonical accuracy measure: max(actual/predicted,
// predicted/actual) with zeros treated as 1. Always >= 1.
func QError(actual, predicted uint64) float64 {
	a, p := float64(actual), float64(predicted)
	if a < 1 {
		a = 1
	}
	if p < 1 {
		p = 1
	}
	if a > p {
		return a / p
	}
	return p / a
}

// Buffer is a thread-safe ring of up to capacity samples. When full, the
// oldest sample is dropped. Its lifetime is process-wide.
type Buffer struct {
	mu       sync.Mutex
	data     []Sample
	start    int
	size     int
	capacity int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Buffer{
		data:     make([]Sample, capacity),
		capacity: capacity,
	}
}

// AddSample computes the q-error and pushes. The feature vector is copied so
// the sample cannot alias tracker state that dies with the plan.
func (b *Buffer) AddSample(features []float64, actual, predicted uint64) {
	sample := Sample{
		Features:      append([]float64(nil), features...),
		ActualCard:    actual,
		PredictedCard: predicted,
		QError:        QError(actual, predicted),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size < b.capacity {
		b.data[(b.start+b.size)%b.capacity] = sample
		b.size++
		return
	}
	// Full: overwrite the oldest.
	b.data[b.start] = sample
	b.start = (b.start + 1) % b.capacity
}

// GetRecentSamples returns a copy of the tail-most min(k, Size()) samples in
// insertion order.
func (b *Buffer) GetRecentSamples(k int) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if k > b.size {
		k = b.size
	}
	if k <= 0 {
		return nil
	}
	out := make([]Sample, 0, k)
	for i := b.size - k; i < b.size; i++ {
		out = append(out, b.data[(b.start+i)%b.capacity])
	}
	return out
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.size = 0
}
