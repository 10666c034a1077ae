package detector

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/miradorstack/mirador-hotspots/internal/codec"
)

// IsolationForest isolates points with random axis-aligned splits. Points that
// isolate in few splits score close to -1; typical points score near -0.5.
type IsolationForest struct{}

type forestNode struct {
	Feature int     `cbor:"f"`
	Split   float64 `cbor:"s"`
	Left    int     `cbor:"l"`
	Right   int     `cbor:"r"`
	Size    int     `cbor:"n"`
}

type forestState struct {
	SampleSize int            `cbor:"sample_size"`
	Features   int            `cbor:"features"`
	Trees      [][]forestNode `cbor:"trees"`
}

// ID implements Model.
func (IsolationForest) ID() string { return "isolation_forest" }

// Fit builds n_estimators trees over random subsamples of max_samples rows.
func (IsolationForest) Fit(samples [][]float64, params Params) ([]byte, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples")
	}
	width := len(samples[0])
	if width == 0 {
		return nil, errors.New("no features")
	}
	if err := checkWidth(samples, width); err != nil {
		return nil, err
	}

	trees := params.Int("n_estimators", 100)
	if trees <= 0 {
		return nil, fmt.Errorf("n_estimators must be positive, got %d", trees)
	}
	sampleSize := params.Int("max_samples", 256)
	if sampleSize <= 0 || sampleSize > len(samples) {
		sampleSize = len(samples)
	}
	rng := rand.New(rand.NewSource(int64(params.Int("seed", 42))))
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	state := forestState{SampleSize: sampleSize, Features: width, Trees: make([][]forestNode, 0, trees)}
	for t := 0; t < trees; t++ {
		sub := subsample(rng, samples, sampleSize)
		b := &treeBuilder{rng: rng, maxDepth: maxDepth}
		b.build(sub, 0)
		state.Trees = append(state.Trees, b.nodes)
	}
	return codec.Marshal(state)
}

// Score returns -2^(-E[h(x)]/c(n)) for each row.
func (IsolationForest) Score(state []byte, samples [][]float64, _ Params) ([]float64, error) {
	if len(state) == 0 {
		return nil, ErrNoState
	}
	var forest forestState
	if err := codec.Unmarshal(state, &forest); err != nil {
		return nil, fmt.Errorf("decode forest: %w", err)
	}
	if len(forest.Trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	if err := checkWidth(samples, forest.Features); err != nil {
		return nil, err
	}

	norm := averagePathLength(forest.SampleSize)
	if norm == 0 {
		norm = 1
	}
	scores := make([]float64, len(samples))
	for i, row := range samples {
		total := 0.0
		for _, tree := range forest.Trees {
			total += pathLength(tree, row)
		}
		mean := total / float64(len(forest.Trees))
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores, nil
}

type treeBuilder struct {
	rng      *rand.Rand
	maxDepth int
	nodes    []forestNode
}

func (b *treeBuilder) build(data [][]float64, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, forestNode{Left: -1, Right: -1, Size: len(data)})
	if len(data) <= 1 || depth >= b.maxDepth {
		return idx
	}

	width := len(data[0])
	feature := b.rng.Intn(width)
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		lo = math.Min(lo, row[feature])
		hi = math.Max(hi, row[feature])
	}
	if lo == hi {
		return idx
	}
	split := lo + b.rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Feature = feature
	b.nodes[idx].Split = split
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

func pathLength(tree []forestNode, row []float64) float64 {
	depth := 0.0
	i := 0
	for {
		n := tree[i]
		if n.Left < 0 {
			return depth + averagePathLength(n.Size)
		}
		if row[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	const eulerGamma = 0.5772156649
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func subsample(rng *rand.Rand, data [][]float64, size int) [][]float64 {
	if size >= len(data) {
		return data
	}
	perm := rng.Perm(len(data))
	out := make([][]float64, size)
	for i := 0; i < size; i++ {
		out[i] = data[perm[i]]
	}
	return out
}
