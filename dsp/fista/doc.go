// Package fista implements the fast iterative shrinkage-thresholding
// algorithm (Beck & Teboulle) for constrained least-squares deconvolution.
//
// # Algorithm
//
// The solver minimizes ||K x + b - y||^2 subject to an elementwise
// constraint, where K is any linear operator exposing its forward and
// adjoint application and a Lipschitz bound. Two sequences are kept: the
// solution x and the extrapolation point where the gradient is evaluated.
// Momentum follows the standard t-sequence with adaptive restart
// (O'Donoghue & Candes): when the gradient mapping indicates momentum is
// hurting progress, the t-sequence is reset and the extrapolation point
// snapped back to the solution.
//
// Optional baseline tracking estimates a scalar DC offset b as the mean
// residual each iteration, so traces need not be mean-centered beforehand.
//
// Convergence uses the primal residual: after a 5-iteration grace period,
// ||x_new - x_old||^2 < tol^2 * (||x_old||^2 + 1e-20).
package fista
