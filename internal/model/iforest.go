// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"math"
	"math/rand"
)

const (
	defaultTrees      = 100
	defaultSampleSize = 256

	// Euler-Mascheroni constant, used in the average-path normalization.
	eulerGamma = 0.5772156649
)

// IsolationForest isolates outliers by building random binary trees and
// measuring how quickly a point reaches a leaf: anomalies sit in sparse
// regions and isolate in short paths. Scores are in [0,1], higher meaning
// more anomalous. A built forest is immutable and safe for concurrent Score
// calls.
type IsolationForest struct {
	trees      []*isoNode
	sampleSize int
	heightLim  int
}

type isoNode struct {
	leaf     bool
	size     int
	dim      int
	splitVal float64
	left     *isoNode
	right    *isoNode
}

// BuildForest trains an isolation forest on the given vectors. trees and
// sampleSize fall back to the usual defaults (100 trees, subsample of 256)
// when non-positive. rng drives subsampling and split selection so training
// is reproducible under a fixed seed.
func BuildForest(vectors [][]float64, trees, sampleSize int, rng *rand.Rand) *IsolationForest {
	if trees <= 0 {
		trees = defaultTrees
	}
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	if sampleSize > len(vectors) {
		sampleSize = len(vectors)
	}

	f := &IsolationForest{
		trees:      make([]*isoNode, trees),
		sampleSize: sampleSize,
		heightLim:  int(math.Ceil(math.Log2(float64(sampleSize)))),
	}
	for i := range f.trees {
		// Subsample without replacement per tree.
		idxs := rng.Perm(len(vectors))[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range idxs {
			sample[j] = vectors[idx]
		}
		f.trees[i] = buildIsoTree(sample, 0, f.heightLim, rng)
	}
	return f
}

func buildIsoTree(vectors [][]float64, height, heightLim int, rng *rand.Rand) *isoNode {
	if len(vectors) <= 1 || height >= heightLim {
		return &isoNode{leaf: true, size: len(vectors)}
	}

	dim := rng.Intn(len(vectors[0]))
	minv, maxv := vectors[0][dim], vectors[0][dim]
	for _, v := range vectors[1:] {
		if v[dim] < minv {
			minv = v[dim]
		}
		if v[dim] > maxv {
			maxv = v[dim]
		}
	}
	if minv == maxv {
		return &isoNode{leaf: true, size: len(vectors)}
	}

	split := minv + rng.Float64()*(maxv-minv)
	var left, right [][]float64
	for _, v := range vectors {
		if v[dim] < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{leaf: true, size: len(vectors)}
	}
	return &isoNode{
		dim:      dim,
		splitVal: split,
		left:     buildIsoTree(left, height+1, heightLim, rng),
		right:    buildIsoTree(right, height+1, heightLim, rng),
	}
}

// avgPathFactor is c(n), the average path length of an unsuccessful search
// in a binary search tree of n nodes. It normalizes raw path lengths.
func avgPathFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2.0*(math.Log(float64(n-1))+eulerGamma) - 2.0*float64(n-1)/float64(n)
}

func pathLength(node *isoNode, v []float64, height int) float64 {
	for !node.leaf {
		if v[node.dim] < node.splitVal {
			node = node.left
		} else {
			node = node.right
		}
		height++
	}
	if node.size <= 1 {
		return float64(height)
	}
	return float64(height) + avgPathFactor(node.size)
}

// Score returns the anomaly score of v in [0,1]: 2^(-E[h(v)]/c(sampleSize)).
func (f *IsolationForest) Score(v []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += pathLength(t, v, 0)
	}
	avg := sum / float64(len(f.trees))
	c := avgPathFactor(f.sampleSize)
	if c <= 0 {
		c = 1
	}
	return math.Pow(2, -avg/c)
}
