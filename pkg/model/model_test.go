package model

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardlearn/pkg/config"
	"cardlearn/pkg/features"
	"cardlearn/pkg/trainbuf"
)

func testModelConfig() config.ModelConfig {
	cfg := config.Default().Model
	cfg.TreesPerUpdate = 2
	cfg.SwapEveryNUpdates = 1
	return cfg
}

// makeSamples builds n wide-enough samples whose label correlates with a
// couple of feature slots, so trees have something to split on.
func makeSamples(n int, seed uint64) []trainbuf.Sample {
	samples := make([]trainbuf.Sample, 0, n)
	for i := 0; i < n; i++ {
		actual := (uint64(i)%20 + 1) * 50 * (seed + 1)
		vec := make([]float64, features.FeatureVectorSize)
		vec[1] = 1.0 // join one-hot
		vec[34] = math.Log1p(float64(actual) * 2)
		vec[35] = math.Log1p(float64(actual) / 2)
		vec[67] = math.Log1p(float64(actual))
		samples = append(samples, trainbuf.Sample{
			Features:      vec,
			ActualCard:    actual,
			PredictedCard: actual / 2,
			QError:        trainbuf.QError(actual, actual/2),
		})
	}
	return samples
}

func TestSentinelWhileCold(t *testing.T) {
	m := New(testModelConfig())
	require.Equal(t, uint64(1), m.NumTrees(), "bootstrap leaves one dummy tree")
	require.False(t, m.IsReady())

	assert.Equal(t, 0.0, m.Predict(make([]float64, features.FeatureVectorSize)))
	assert.Equal(t, 0.0, m.Predict(makeSamples(1, 0)[0].Features))
}

func TestWidthGuard(t *testing.T) {
	m := New(testModelConfig())
	m.UpdateIncremental(makeSamples(20, 0))
	require.True(t, m.IsReady())
	before := m.NumTrees()

	assert.Equal(t, 0.0, m.Predict(make([]float64, features.FeatureVectorSize-1)))
	assert.Equal(t, 0.0, m.Predict(make([]float64, features.FeatureVectorSize+1)))
	assert.Equal(t, 0.0, m.Predict(nil))
	assert.Equal(t, before, m.NumTrees())

	// Wrong-width samples are filtered; all-invalid input is a no-op.
	bad := makeSamples(20, 0)
	for i := range bad {
		bad[i].Features = bad[i].Features[:features.FeatureVectorSize-1]
	}
	m.UpdateIncremental(bad)
	assert.Equal(t, before, m.NumTrees())
}

func TestMinimumSampleFloor(t *testing.T) {
	m := New(testModelConfig())
	m.UpdateIncremental(makeSamples(9, 0))
	assert.Equal(t, uint64(1), m.NumTrees())
	assert.Equal(t, uint64(0), m.TotalUpdates())

	m.UpdateIncremental(makeSamples(10, 0))
	assert.Equal(t, uint64(3), m.NumTrees())
	assert.Equal(t, uint64(1), m.TotalUpdates())
}

func TestIncrementalMonotonicity(t *testing.T) {
	cfg := testModelConfig()
	m := New(cfg)
	prev := m.NumTrees()
	for i := 0; i < 5; i++ {
		m.UpdateIncremental(makeSamples(30, uint64(i)))
		now := m.NumTrees()
		added := now - prev
		assert.LessOrEqual(t, added, uint64(cfg.TreesPerUpdate))
		assert.Equal(t, prev+uint64(cfg.TreesPerUpdate), now)
		prev = now
	}
	assert.Equal(t, uint64(5), m.TotalUpdates())
}

func TestPredictClamping(t *testing.T) {
	m := New(testModelConfig())
	for i := 0; i < 10; i++ {
		m.UpdateIncremental(makeSamples(50, uint64(i)))
	}
	require.True(t, m.IsReady())

	inputs := [][]float64{
		make([]float64, features.FeatureVectorSize),
		makeSamples(1, 3)[0].Features,
		makeSamples(1, 9)[0].Features,
	}
	for _, vec := range inputs {
		got := m.Predict(vec)
		assert.True(t, got == 0 || got >= 1, "prediction %f outside {0} u [1,inf)", got)
	}
}

func TestPredictBatchMatchesSingle(t *testing.T) {
	m := New(testModelConfig())
	m.UpdateIncremental(makeSamples(40, 1))
	require.True(t, m.IsReady())

	rows := [][]float64{
		makeSamples(1, 2)[0].Features,
		makeSamples(1, 5)[0].Features,
	}
	batch := m.PredictBatch(rows)
	require.Len(t, batch, 2)
	for i, row := range rows {
		assert.Equal(t, m.Predict(row), batch[i])
	}

	// One bad row poisons the batch.
	rows[1] = rows[1][:10]
	batch = m.PredictBatch(rows)
	assert.Equal(t, []float64{0, 0}, batch)
}

func TestCapEnforcement(t *testing.T) {
	cfg := testModelConfig()
	cfg.MaxTotalTrees = 20
	cfg.TreesPerUpdate = 3
	m := New(cfg)

	for i := 0; i < 10; i++ {
		m.UpdateIncremental(makeSamples(30, uint64(i)))
		assert.LessOrEqual(t, m.NumTrees(), uint64(20))
	}
	assert.Equal(t, uint64(20), m.NumTrees())

	// Further updates are silent no-ops.
	updates := m.TotalUpdates()
	m.UpdateIncremental(makeSamples(30, 99))
	assert.Equal(t, uint64(20), m.NumTrees())
	assert.Equal(t, updates, m.TotalUpdates())
}

func TestSwapVisibilityDelayedUntilPeriod(t *testing.T) {
	cfg := testModelConfig()
	cfg.SwapEveryNUpdates = 5
	m := New(cfg)

	for i := 0; i < 4; i++ {
		m.UpdateIncremental(makeSamples(30, uint64(i)))
		// Shadow trains but nothing publishes until the 5th update.
		assert.Equal(t, uint64(1), m.NumTrees())
		assert.False(t, m.IsReady())
	}
	m.UpdateIncremental(makeSamples(30, 4))
	assert.Equal(t, uint64(1+5*2), m.NumTrees())
	assert.Equal(t, uint64(5), m.TotalUpdates())
	assert.True(t, m.IsReady())
}

func TestSwapUnderLoad(t *testing.T) {
	cfg := testModelConfig()
	m := New(cfg)

	const readers = 8
	const updates = 50
	var stop atomic.Bool
	var wg sync.WaitGroup

	vec := makeSamples(1, 1)[0].Features
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastTrees uint64
			for !stop.Load() {
				trees := m.NumTrees()
				if trees < lastTrees {
					t.Error("num_trees went backwards")
					return
				}
				lastTrees = trees
				got := m.Predict(vec)
				if got != 0 && got < 1 {
					t.Errorf("prediction %f outside {0} u [1,inf)", got)
					return
				}
			}
		}()
	}

	for i := 0; i < updates; i++ {
		m.UpdateIncremental(makeSamples(30, uint64(i)))
	}
	stop.Store(true)
	wg.Wait()

	assert.Equal(t, uint64(1+updates*cfg.TreesPerUpdate), m.NumTrees())
}

func TestReset(t *testing.T) {
	m := New(testModelConfig())
	m.UpdateIncremental(makeSamples(30, 0))
	require.True(t, m.IsReady())

	m.Reset()
	assert.Equal(t, uint64(1), m.NumTrees())
	assert.Equal(t, uint64(0), m.TotalUpdates())
	assert.False(t, m.IsReady())
	assert.Equal(t, 0.0, m.Predict(makeSamples(1, 0)[0].Features))

	// The model trains again after reset.
	m.UpdateIncremental(makeSamples(30, 1))
	assert.True(t, m.IsReady())
}

func TestSwapLogLineFormat(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	orig := Printf
	Printf = func(format string, args ...any) {
		mu.Lock()
		lines = append(lines, fmt.Sprintf(format, args...))
		mu.Unlock()
	}
	defer func() { Printf = orig }()

	m := New(testModelConfig())
	m.UpdateIncremental(makeSamples(12, 0))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]
	assert.True(t, strings.HasPrefix(last,
		"[RL BOOSTING] Incremental update #1: trained on 12 samples, total trees=3, avg Q-error="),
		"got %q", last)
}

func TestLearnsConstantWorkload(t *testing.T) {
	cfg := testModelConfig()
	cfg.TreesPerUpdate = 10
	m := New(cfg)

	// One recurring operator shape with actual cardinality 1000.
	vec := make([]float64, features.FeatureVectorSize)
	vec[1] = 1.0
	vec[34] = math.Log1p(2000)
	vec[67] = math.Log1p(900)
	samples := make([]trainbuf.Sample, 40)
	for i := range samples {
		samples[i] = trainbuf.Sample{Features: vec, ActualCard: 1000, QError: 1}
	}
	for i := 0; i < 30; i++ {
		m.UpdateIncremental(samples)
	}

	got := m.Predict(vec)
	require.Greater(t, got, 0.0)
	q := trainbuf.QError(1000, uint64(got))
	assert.Less(t, q, 2.0, "model should approach the observed cardinality, predicted %f", got)
}
