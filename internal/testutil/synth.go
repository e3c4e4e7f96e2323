package testutil

import "math"

// BiexpKernel samples a unit-peak biexponential response
// exp(-t/tauDecay) - exp(-t/tauRise) at fs Hz.
func BiexpKernel(tauRise, tauDecay, fs float64, length int) []float64 {
	dt := 1.0 / fs
	h := make([]float64, length)

	peak := 0.0
	for t := range h {
		tt := float64(t) * dt
		h[t] = math.Exp(-tt/tauDecay) - math.Exp(-tt/tauRise)
		peak = math.Max(peak, h[t])
	}
	if peak > 0 {
		for t := range h {
			h[t] /= peak
		}
	}

	return h
}

// SpikeTrain returns a binary train of the given length with ones at the
// listed positions; out-of-range positions are ignored.
func SpikeTrain(length int, positions []int) []float64 {
	s := make([]float64, length)
	for _, p := range positions {
		if p >= 0 && p < length {
			s[p] = 1
		}
	}

	return s
}

// ConvolveSpikes convolves a spike train with a kernel, truncated to the
// train's length.
func ConvolveSpikes(spikes, kernel []float64) []float64 {
	n := len(spikes)
	out := make([]float64, n)

	for t, s := range spikes {
		if s == 0 {
			continue
		}
		for k, hv := range kernel {
			if t+k >= n {
				break
			}
			out[t+k] += s * hv
		}
	}

	return out
}
