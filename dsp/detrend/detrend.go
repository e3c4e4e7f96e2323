package detrend

import (
	"math"
	"sort"
)

// DefaultQuantile is the rolling percentile used for floor tracking.
const DefaultQuantile = 0.2

// Window returns the rolling-baseline window in samples:
// 5 * max(1, ceil(5 * tauDecay * fs)).
func Window(tauDecay, sampleRate float64) int {
	kernelLen := int(math.Ceil(5 * tauDecay * sampleRate))
	if kernelLen < 1 {
		kernelLen = 1
	}

	return 5 * kernelLen
}

// RollingPercentile fills dst with the causal rolling quantile of src. At
// position t the window is src[max(0, t-window+1) .. t], so the leading
// samples use a partially filled window. The quantile is the exact k-th
// order statistic with k = round((w-1) * quantile).
func RollingPercentile(dst, src []float64, window int, quantile float64) {
	n := len(src)
	if n == 0 || window <= 0 {
		return
	}

	buf := make([]float64, 0, window)
	for t := 0; t < n; t++ {
		start := t - window + 1
		if start < 0 {
			start = 0
		}

		buf = append(buf[:0], src[start:t+1]...)
		sort.Float64s(buf)

		k := int(math.Round(float64(len(buf)-1) * quantile))
		if k > len(buf)-1 {
			k = len(buf) - 1
		}

		dst[t] = buf[k]
	}
}

// Subtract removes the rolling-percentile baseline from trace in place.
// Baselines are computed from the unmodified trace before subtraction.
// Empty trace or non-positive window is a no-op.
func Subtract(trace []float64, window int, quantile float64) {
	n := len(trace)
	if n == 0 || window <= 0 {
		return
	}

	baseline := make([]float64, n)
	RollingPercentile(baseline, trace, window, quantile)

	for i := range trace {
		trace[i] -= baseline[i]
	}
}
