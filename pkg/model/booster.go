package model

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sort"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"

	"cardlearn/pkg/config"
)

// The booster is a small gradient-boosted regression-tree ensemble with the
// usual second-order split objective. It stands in for an external GBT
// library behind the same handle-style surface: a dense sample matrix goes
// in, one tree is added per UpdateOneIter call.

// sampleMatrix pairs an n x w dense feature matrix with its labels.
type sampleMatrix struct {
	x      *mat.Dense
	labels []float64
}

func newSampleMatrix(rows [][]float64, labels []float64, width int) (*sampleMatrix, error) {
	if len(rows) == 0 {
		return nil, errors.New("booster: empty sample matrix")
	}
	if len(rows) != len(labels) {
		return nil, errors.Newf("booster: %d rows, %d labels", len(rows), len(labels))
	}
	flat := make([]float64, 0, len(rows)*width)
	for _, row := range rows {
		if len(row) != width {
			return nil, errors.Newf("booster: row width %d, want %d", len(row), width)
		}
		flat = append(flat, row...)
	}
	return &sampleMatrix{
		x:      mat.NewDense(len(rows), width, flat),
		labels: append([]float64(nil), labels...),
	}, nil
}

func (m *sampleMatrix) rows() int { return len(m.labels) }

type treeNode struct {
	Feature   int
	Threshold float64
	Left      int32
	Right     int32
	Leaf      bool
	Value     float64
}

type regressionTree struct {
	Nodes []treeNode
}

func (t *regressionTree) predict(row []float64) float64 {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// booster holds the ensemble. Exported fields are the serialized state.
type booster struct {
	Params      config.ModelConfig
	NumFeatures int
	BaseScore   float64
	Trees       []regressionTree
}

func newBooster(params config.ModelConfig, numFeatures int) *booster {
	return &booster{
		Params:      params,
		NumFeatures: numFeatures,
	}
}

func (b *booster) numTrees() int { return len(b.Trees) }

// predictRow returns the raw margin for one row.
func (b *booster) predictRow(row []float64) (float64, error) {
	if len(row) != b.NumFeatures {
		return 0, errors.Newf("booster: feature width %d, want %d", len(row), b.NumFeatures)
	}
	out := b.BaseScore
	for i := range b.Trees {
		out += b.Trees[i].predict(row)
	}
	return out, nil
}

// margin computes raw predictions for every row of the matrix.
func (b *booster) margin(dm *sampleMatrix) []float64 {
	n := dm.rows()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		row := dm.x.RawRowView(i)
		v := b.BaseScore
		for j := range b.Trees {
			v += b.Trees[j].predict(row)
		}
		out[i] = v
	}
	return out
}

// updateOneIter adds one tree fitted to the current gradients. The iteration
// number seeds the row/column sampling so repeated updates do not reuse the
// same subsets.
func (b *booster) updateOneIter(iteration int, dm *sampleMatrix) error {
	if dm == nil || dm.rows() == 0 {
		return errors.New("booster: nil or empty training matrix")
	}
	if c := dm.x.RawMatrix().Cols; c != b.NumFeatures {
		return errors.Newf("booster: matrix width %d, want %d", c, b.NumFeatures)
	}

	preds := b.margin(dm)
	n := dm.rows()
	grad := make([]float64, n)
	hess := make([]float64, n)
	for i := 0; i < n; i++ {
		diff := preds[i] - dm.labels[i]
		switch b.Params.Objective {
		case config.ObjectiveSquaredError:
			grad[i] = diff
		default: // reg:absoluteerror
			if diff > 0 {
				grad[i] = 1
			} else if diff < 0 {
				grad[i] = -1
			}
		}
		hess[i] = 1
	}

	rng := rand.New(rand.NewSource(int64(iteration)*2654435761 + int64(n)))
	rows := subsampleIndices(rng, n, b.Params.Subsample)
	feats := subsampleIndices(rng, b.NumFeatures, b.Params.ColsampleByTree)

	tree := b.buildTree(dm, rows, feats, grad, hess)
	b.Trees = append(b.Trees, tree)
	return nil
}

func subsampleIndices(rng *rand.Rand, n int, fraction float64) []int {
	k := int(math.Ceil(fraction * float64(n)))
	if k < 1 {
		k = 1
	}
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	perm := rng.Perm(n)
	out := perm[:k]
	sort.Ints(out)
	return out
}

type splitResult struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

func (b *booster) buildTree(dm *sampleMatrix, rows, feats []int, grad, hess []float64) regressionTree {
	t := regressionTree{}
	b.buildNode(&t, dm, rows, feats, grad, hess, 0)
	return t
}

// buildNode appends a node for the given row set and returns its index.
func (b *booster) buildNode(t *regressionTree, dm *sampleMatrix, rows, feats []int, grad, hess []float64, depth int) int32 {
	var sumG, sumH float64
	for _, r := range rows {
		sumG += grad[r]
		sumH += hess[r]
	}

	idx := int32(len(t.Nodes))
	if depth >= b.Params.MaxDepth || len(rows) < 2 {
		t.Nodes = append(t.Nodes, treeNode{Leaf: true, Value: b.leafValue(sumG, sumH)})
		return idx
	}

	best := b.bestSplit(dm, rows, feats, grad, hess, sumG, sumH)
	if best == nil {
		t.Nodes = append(t.Nodes, treeNode{Leaf: true, Value: b.leafValue(sumG, sumH)})
		return idx
	}

	t.Nodes = append(t.Nodes, treeNode{Feature: best.feature, Threshold: best.threshold})
	left := b.buildNode(t, dm, best.left, feats, grad, hess, depth+1)
	right := b.buildNode(t, dm, best.right, feats, grad, hess, depth+1)
	t.Nodes[idx].Left = left
	t.Nodes[idx].Right = right
	return idx
}

// leafValue is the regularized Newton step scaled by the learning rate.
func (b *booster) leafValue(sumG, sumH float64) float64 {
	g := thresholdL1(sumG, b.Params.Alpha)
	return -g / (sumH + b.Params.Lambda) * b.Params.LearningRate
}

func thresholdL1(g, alpha float64) float64 {
	if g > alpha {
		return g - alpha
	}
	if g < -alpha {
		return g + alpha
	}
	return 0
}

func (b *booster) scoreHalf(g, h float64) float64 {
	t := thresholdL1(g, b.Params.Alpha)
	return t * t / (h + b.Params.Lambda)
}

func (b *booster) bestSplit(dm *sampleMatrix, rows, feats []int, grad, hess []float64, sumG, sumH float64) *splitResult {
	parentScore := b.scoreHalf(sumG, sumH)

	type valIdx struct {
		val float64
		row int
	}
	var best *splitResult
	order := make([]valIdx, 0, len(rows))

	for _, f := range feats {
		order = order[:0]
		for _, r := range rows {
			order = append(order, valIdx{val: dm.x.At(r, f), row: r})
		}
		sort.Slice(order, func(i, j int) bool { return order[i].val < order[j].val })

		var gl, hl float64
		for i := 0; i < len(order)-1; i++ {
			gl += grad[order[i].row]
			hl += hess[order[i].row]
			if order[i].val == order[i+1].val {
				continue
			}
			gr := sumG - gl
			hr := sumH - hl
			if hl < b.Params.MinChildWeight || hr < b.Params.MinChildWeight {
				continue
			}
			gain := 0.5*(b.scoreHalf(gl, hl)+b.scoreHalf(gr, hr)-parentScore) - b.Params.Gamma
			if gain <= 0 {
				continue
			}
			if best == nil || gain > best.gain {
				threshold := (order[i].val + order[i+1].val) / 2
				best = &splitResult{feature: f, threshold: threshold, gain: gain}
			}
		}
	}
	if best == nil {
		return nil
	}

	for _, r := range rows {
		if dm.x.At(r, best.feature) < best.threshold {
			best.left = append(best.left, r)
		} else {
			best.right = append(best.right, r)
		}
	}
	if len(best.left) == 0 || len(best.right) == 0 {
		return nil
	}
	return best
}

// serialize and deserialize implement clone-by-round-trip, the mechanism
// used to spawn the shadow booster from the active one.
func (b *booster) serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, errors.Wrap(err, "booster: serialize")
	}
	return buf.Bytes(), nil
}

func deserializeBooster(data []byte) (*booster, error) {
	var b booster
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, errors.Wrap(err, "booster: deserialize")
	}
	return &b, nil
}

func (b *booster) clone() (*booster, error) {
	data, err := b.serialize()
	if err != nil {
		return nil, err
	}
	return deserializeBooster(data)
}
