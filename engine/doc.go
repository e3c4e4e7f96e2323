// Package engine drives the iterative deconvolution loop.
//
// # Iteration structure
//
// Each iteration runs two strictly ordered phases over a worker pool. First
// one trace-inference job per (cell, subset window) pair, all concurrent,
// warm-started from the previous iteration's per-cell spike counts. Then,
// after a barrier, one kernel-estimation job per subset with detected
// activity, warm-started from that subset's prior kernel and fitted to a
// biexponential inside the job. The consensus time constants are the
// per-parameter medians over the valid subset fits; the loop converges when
// their relative change drops below the tolerance.
//
// Phase barriers trade pipeline parallelism for a reproducible shared kernel
// per phase: kernel estimation for iteration i never observes trace results
// from iteration i+1. Cancelled and errored jobs count toward barriers, so a
// stop mid-phase cannot deadlock.
//
// Unless stopped, the loop ends with a finalization pass inferring every
// dataset cell against the final consensus kernel; those results are the
// authoritative output.
//
// # Lifecycle
//
// Idle -> Running <-> Paused -> {Stopping -> Complete | Complete}. Pause
// suspends at the next phase boundary; Stop cancels outstanding jobs and
// settles in Complete keeping partial results; Reset clears everything back
// to Idle.
package engine
