// Package trace infers binary spike counts from a single fluorescence trace.
//
// # Pipeline
//
// The solver chains upsample, relaxed solve, threshold search and
// downsample:
//
//  1. Optionally remove the slow baseline floor (rolling percentile).
//  2. Upsample by linear interpolation for sub-frame spike placement.
//  3. Solve the box-constrained relaxation s in [0,1]^n with FISTA against
//     the peak-normalized recursive-filter model. No sparsity penalty is
//     used; the box constraint plus the subsequent binarization replace it.
//  4. Search binarization thresholds over the relaxed values. Each candidate
//     binary train is convolved through the model and fit with closed-form
//     least squares for a non-negative amplitude and a baseline; the
//     threshold minimizing interior reconstruction error wins.
//  5. Bin-sum the winning binary train back to the native rate, giving
//     integer spike counts per sample.
//
// Amplitude is rate-independent because the model is peak-normalized: one
// spike always reaches a peak of 1.0 before scaling.
package trace
