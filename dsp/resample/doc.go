// Package resample provides the rate conversions used by spike inference.
//
// Traces are upsampled by linear interpolation to an internal higher rate,
// which reduces the discretization bias of the recursive-filter model and
// allows sub-frame spike placement. Binary spike trains found at the internal
// rate are brought back to the native rate by bin summation, yielding integer
// spike counts per native sample.
//
// [ExpandCounts] is the inverse used for warm starts: native-rate counts are
// expanded into a binary train on the upsampled grid.
package resample
