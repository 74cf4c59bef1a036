// Authwatch - Authentication Event Anomaly Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "errors"

var (
	// ErrInsufficientData is returned by Train when the training set is
	// smaller than the configured minimum. The current snapshot, if any,
	// stays published.
	ErrInsufficientData = errors.New("model: insufficient training data")

	// ErrNotTrained is returned by Score before the first snapshot has
	// been published.
	ErrNotTrained = errors.New("model: no trained snapshot available")

	// ErrDimensionMismatch is returned when a vector's length does not
	// match the layout the snapshot was trained on.
	ErrDimensionMismatch = errors.New("model: feature vector dimension mismatch")
)
