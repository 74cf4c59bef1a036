// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "math"

// StandardScaler normalizes feature vectors to zero mean and unit variance.
// A fitted scaler is immutable; the same instance serves training and
// scoring for one model generation so both sides see identical statistics.
type StandardScaler struct {
	mean []float64
	std  []float64
}

// FitScaler computes per-dimension mean and standard deviation over the
// training set. Dimensions with zero variance get std=1 so Transform leaves
// them centered instead of dividing by zero.
func FitScaler(vectors [][]float64) *StandardScaler {
	if len(vectors) == 0 {
		return &StandardScaler{}
	}
	dims := len(vectors[0])
	mean := make([]float64, dims)
	std := make([]float64, dims)

	for _, v := range vectors {
		for d := 0; d < dims; d++ {
			mean[d] += v[d]
		}
	}
	n := float64(len(vectors))
	for d := 0; d < dims; d++ {
		mean[d] /= n
	}

	for _, v := range vectors {
		for d := 0; d < dims; d++ {
			diff := v[d] - mean[d]
			std[d] += diff * diff
		}
	}
	for d := 0; d < dims; d++ {
		std[d] = math.Sqrt(std[d] / n)
		if std[d] == 0 {
			std[d] = 1.0
		}
	}
	return &StandardScaler{mean: mean, std: std}
}

// Dims returns the number of dimensions the scaler was fitted on.
func (s *StandardScaler) Dims() int {
	return len(s.mean)
}

// Transform returns a scaled copy of v. The input is never modified.
func (s *StandardScaler) Transform(v []float64) []float64 {
	out := make([]float64, len(v))
	for d := range v {
		out[d] = (v[d] - s.mean[d]) / s.std[d]
	}
	return out
}

// TransformAll scales a batch of vectors.
func (s *StandardScaler) TransformAll(vectors [][]float64) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		out[i] = s.Transform(v)
	}
	return out
}
