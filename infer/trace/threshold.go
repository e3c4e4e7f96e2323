package trace

import (
	"math"
	"sort"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-deconv/dsp/ar2"
)

// thresholdResult carries the winning binarization and its least-squares fit.
type thresholdResult struct {
	binary    []float64
	alpha     float64
	baseline  float64
	threshold float64
	pve       float64
	score     float64
}

const (
	coarseCandidates = 50
	fineCandidates   = 50
	earlyStopAfter   = 10
)

// padLength returns the boundary padding excluded from scoring:
// ceil(2 * tauDecay * fsUp). Filter transients at the trace edges would
// otherwise dominate the error.
func padLength(tauDecay, fsUp float64) int {
	return int(math.Ceil(2 * tauDecay * fsUp))
}

// searchThreshold finds the binarization threshold whose binary train, after
// convolution and closed-form (alpha, baseline) refit, best reconstructs y.
// Coarse pass over ~50 order-statistic quantiles of the relaxed values, fine
// pass around the coarse winner, both with early stopping.
func searchThreshold(relaxed, y []float64, filter *ar2.Filter, tauDecay, fsUp float64) thresholdResult {
	n := len(relaxed)
	if n == 0 {
		return thresholdResult{binary: []float64{}, score: math.Inf(1)}
	}

	pad := padLength(tauDecay, fsUp)
	if pad > n/4 {
		pad = n / 4
	}

	vals := make([]float64, 0, n)
	for _, v := range relaxed {
		if v > 1e-10 {
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	vals = dedupNear(vals)

	if len(vals) == 0 {
		return thresholdResult{
			binary:   make([]float64, n),
			baseline: vecmath.Sum(y) / float64(n),
			score:    math.Inf(1),
		}
	}

	binary := make([]float64, n)
	conv := make([]float64, n)

	best := thresholdResult{score: math.Inf(1)}

	// Coarse pass: evenly spaced order statistics of the candidate values.
	coarseN := coarseCandidates
	if coarseN > len(vals) {
		coarseN = len(vals)
	}
	coarseStep := 1.0
	if len(vals) > 1 && coarseN > 1 {
		coarseStep = float64(len(vals)-1) / float64(coarseN-1)
	}

	coarse := make([]float64, 0, coarseN)
	for i := 0; i < coarseN; i++ {
		idx := int(math.Round(float64(i) * coarseStep))
		if idx > len(vals)-1 {
			idx = len(vals) - 1
		}
		coarse = append(coarse, vals[idx])
	}
	coarse = dedupNear(coarse)

	increases := 0
	for _, th := range coarse {
		score := evaluateThreshold(relaxed, y, filter, th, pad, binary, conv)
		if score < best.score {
			best.score = score
			best.threshold = th
			increases = 0
		} else {
			increases++
			if increases >= earlyStopAfter {
				break
			}
		}
	}

	// Fine pass around the coarse winner.
	spread := best.threshold * 0.2
	if len(vals) > 1 {
		spread = (vals[len(vals)-1] - vals[0]) / float64(coarseN) * 2
	}
	fineLo := math.Max(best.threshold-spread, 0)
	fineHi := best.threshold + spread
	fineStep := (fineHi - fineLo) / float64(fineCandidates-1)

	increases = 0
	for i := 0; i < fineCandidates; i++ {
		th := fineLo + float64(i)*fineStep
		if th < 0 {
			continue
		}

		score := evaluateThreshold(relaxed, y, filter, th, pad, binary, conv)
		if score < best.score {
			best.score = score
			best.threshold = th
			increases = 0
		} else {
			increases++
			if increases >= earlyStopAfter {
				break
			}
		}
	}

	// Full result at the winning threshold.
	binarize(binary, relaxed, best.threshold)
	filter.Forward(conv, binary)
	best.alpha, best.baseline = fitScale(conv, y, pad)

	best.binary = make([]float64, n)
	copy(best.binary, binary)

	lo, hi := pad, n-pad
	if hi > lo {
		inner := float64(hi - lo)
		yMean := vecmath.Sum(y[lo:hi]) / inner

		var ssTot, ssRes float64
		for i := lo; i < hi; i++ {
			d := y[i] - yMean
			ssTot += d * d
			r := y[i] - (best.alpha*conv[i] + best.baseline)
			ssRes += r * r
		}

		if ssTot > 1e-20 {
			best.pve = 1 - ssRes/ssTot
		}
	}

	return best
}

// evaluateThreshold scores one candidate: binarize, convolve, refit, and sum
// the squared interior residual.
func evaluateThreshold(relaxed, y []float64, filter *ar2.Filter, threshold float64, pad int, binary, conv []float64) float64 {
	binarize(binary, relaxed, threshold)
	filter.Forward(conv, binary)

	alpha, baseline := fitScale(conv, y, pad)

	n := len(y)
	var score float64
	for i := pad; i < n-pad; i++ {
		d := y[i] - (alpha*conv[i] + baseline)
		score += d * d
	}

	return score
}

func binarize(dst, src []float64, threshold float64) {
	for i, v := range src {
		if v >= threshold {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}

// fitScale solves the 2x2 normal equations for y ~ alpha*conv + baseline over
// the interior [pad, n-pad). Alpha is clamped non-negative; a singular system
// degrades to alpha 0 with the interior mean as baseline.
func fitScale(conv, y []float64, pad int) (float64, float64) {
	n := len(y)
	lo, hi := pad, n-pad
	if hi <= lo {
		return 0, 0
	}
	count := float64(hi - lo)

	sumC := vecmath.Sum(conv[lo:hi])
	sumY := vecmath.Sum(y[lo:hi])
	sumCC := vecmath.DotProduct(conv[lo:hi], conv[lo:hi])
	sumCY := vecmath.DotProduct(conv[lo:hi], y[lo:hi])

	det := sumCC*count - sumC*sumC
	if math.Abs(det) < 1e-30 {
		return 0, sumY / count
	}

	alpha := (sumCY*count - sumC*sumY) / det
	if alpha < 0 {
		return 0, sumY / count
	}
	baseline := (sumCC*sumY - sumC*sumCY) / det

	return alpha, baseline
}

// dedupNear removes adjacent values closer than 1e-10 from a sorted slice.
func dedupNear(sorted []float64) []float64 {
	out := sorted[:0]
	for _, v := range sorted {
		if len(out) == 0 || math.Abs(v-out[len(out)-1]) >= 1e-10 {
			out = append(out, v)
		}
	}

	return out
}
