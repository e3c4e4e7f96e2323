// Package kernel estimates a shared free-form calcium kernel from traces
// and their inferred spike trains.
//
// The estimate solves min_h (1/2)||y - S h||^2 with h >= 0, where S stacks
// the spike-convolution matrices of every contributing cell and y the
// matching normalized traces (y - baseline) / alpha. Pooling cells improves
// conditioning: spikes rarely land on the same positions twice.
//
// The Lipschitz constant of the stacked operator comes from a short power
// iteration; the naive bound sum(s^2) underestimates it on dense or
// correlated spike trains and makes the solve oscillate.
package kernel
