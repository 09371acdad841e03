package ensemble

import (
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Unsupervised anomaly detector: isolation forest. Points isolated by few
// random partitions (short average path length) score close to 1; points
// deep in dense regions score close to 0.
type isolationForest struct {
	Trees      []*isoNode `json:"trees"`
	SampleSize int        `json:"sampleSize"`
}

type isoNode struct {
	Feature   int      `json:"feature"`
	Threshold float64  `json:"threshold"`
	Left      *isoNode `json:"left,omitempty"`
	Right     *isoNode `json:"right,omitempty"`

	// Size of the subsample at an external node.
	Size int `json:"size,omitempty"`
}

const (
	forestTrees      = 100
	forestSampleSize = 256
)

// trainForest builds the forest over unlabeled feature vectors.
func trainForest(x [][domain.FeatureCount]float64, rng *rand.Rand) *isolationForest {
	sampleSize := forestSampleSize
	if len(x) < sampleSize {
		sampleSize = len(x)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize) + 1)))

	forest := &isolationForest{SampleSize: sampleSize}
	for t := 0; t < forestTrees; t++ {
		sample := make([][domain.FeatureCount]float64, sampleSize)
		for i := range sample {
			sample[i] = x[rng.Intn(len(x))]
		}
		forest.Trees = append(forest.Trees, buildIsoTree(sample, 0, maxDepth, rng))
	}
	return forest
}

func buildIsoTree(sample [][domain.FeatureCount]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(sample) <= 1 {
		return &isoNode{Size: len(sample)}
	}

	// Random feature, random split within its observed range.
	feature := rng.Intn(domain.FeatureCount)
	lo, hi := sample[0][feature], sample[0][feature]
	for _, row := range sample[1:] {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	if lo == hi {
		return &isoNode{Size: len(sample)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][domain.FeatureCount]float64
	for _, row := range sample {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &isoNode{
		Feature:   feature,
		Threshold: split,
		Left:      buildIsoTree(left, depth+1, maxDepth, rng),
		Right:     buildIsoTree(right, depth+1, maxDepth, rng),
	}
}

// pathLength follows a point down one tree, extending external nodes by
// the expected depth of an unbuilt subtree of their size.
func (n *isoNode) pathLength(x [domain.FeatureCount]float64, depth float64) float64 {
	if n.Left == nil && n.Right == nil {
		return depth + avgPathLength(n.Size)
	}
	if x[n.Feature] < n.Threshold {
		return n.Left.pathLength(x, depth+1)
	}
	return n.Right.pathLength(x, depth+1)
}

const eulerMascheroni = 0.5772156649

// avgPathLength is c(n): the average path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

// score returns the anomaly score in (0,1): 2^(-E[h(x)]/c(sampleSize)).
func (f *isolationForest) score(x [domain.FeatureCount]float64) float64 {
	if len(f.Trees) == 0 {
		return 0.5
	}

	var total float64
	for _, tree := range f.Trees {
		total += tree.pathLength(x, 0)
	}
	mean := total / float64(len(f.Trees))

	c := avgPathLength(f.SampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}
