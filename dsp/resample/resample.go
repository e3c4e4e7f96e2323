package resample

import "math"

// Factor returns the integer upsample factor round(targetRate/rate), at
// least 1.
func Factor(rate, targetRate float64) int {
	if rate <= 0 || targetRate <= 0 {
		return 1
	}

	factor := int(math.Round(targetRate / rate))
	if factor < 1 {
		return 1
	}

	return factor
}

// Upsample stretches trace by the given factor using linear interpolation
// between neighbouring samples. The last sample is held for the remaining
// positions. The result has length len(trace)*factor; factor <= 1 returns a
// copy.
func Upsample(trace []float64, factor int) []float64 {
	if factor <= 1 {
		out := make([]float64, len(trace))
		copy(out, trace)

		return out
	}

	n := len(trace)
	out := make([]float64, n*factor)

	for i := 0; i < n; i++ {
		out[i*factor] = trace[i]

		if i+1 < n {
			v0 := trace[i]
			v1 := trace[i+1]
			for j := 1; j < factor; j++ {
				frac := float64(j) / float64(factor)
				out[i*factor+j] = v0 + (v1-v0)*frac
			}
		} else {
			for j := 1; j < factor; j++ {
				out[i*factor+j] = trace[i]
			}
		}
	}

	return out
}

// DownsampleCounts bin-sums a binary spike train at the upsampled rate into
// integer counts at the native rate. The result has length
// len(binary)/factor (truncating).
func DownsampleCounts(binary []float64, factor int) []int {
	if factor < 1 {
		factor = 1
	}

	outLen := len(binary) / factor
	out := make([]int, outLen)

	for i := 0; i < outLen; i++ {
		sum := 0.0
		for j := 0; j < factor; j++ {
			sum += binary[i*factor+j]
		}
		out[i] = int(math.Round(sum))
	}

	return out
}

// ExpandCounts converts native-rate spike counts into a binary train on the
// upsampled grid: a bin with count c places min(c, factor) leading ones.
func ExpandCounts(counts []int, factor int) []float64 {
	if factor < 1 {
		factor = 1
	}

	out := make([]float64, len(counts)*factor)
	for i, c := range counts {
		if c > factor {
			c = factor
		}
		for j := 0; j < c; j++ {
			out[i*factor+j] = 1
		}
	}

	return out
}
