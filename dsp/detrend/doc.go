// Package detrend removes slowly varying baselines from fluorescence traces.
//
// Calcium signals are positive-going transients riding on a drifting
// baseline. A high-pass filter zeros the mean rather than the floor, pushing
// the baseline negative and producing spurious detections. A rolling low
// percentile (default q = 0.2) tracks the floor instead, bringing it to ~0
// while preserving the transients.
package detrend
