// Package biexp extracts time constants from a free-form kernel by fitting
// the model h(t) = beta * (exp(-t/tauDecay) - exp(-t/tauRise)).
//
// A 20x20 log-spaced grid over (tauRise, tauDecay) with closed-form beta is
// refined by alternating golden-section searches. Grid bounds scale with the
// sampling rate so the same code fits kernels estimated at any rate.
package biexp

import "math"

const (
	gridSize         = 20
	goldenAlternate  = 20
	goldenHalvings   = 10
	validBoundFactor = 4
)

// Result is a biexponential fit. Valid reports whether the fit is physically
// plausible: tauDecay > tauRise, the model explains at least half the kernel
// energy, and both taus lie within 4x the search bounds.
type Result struct {
	TauRise  float64
	TauDecay float64
	Beta     float64
	Residual float64
	Valid    bool
}

// Fit fits the biexponential model to kernel sampled at fs Hz. An empty
// kernel yields an infinite residual and Valid false.
func Fit(kernel []float64, fs float64) Result {
	if len(kernel) == 0 || fs <= 0 {
		return Result{Residual: math.Inf(1)}
	}

	dt := 1.0 / fs

	// Rate-relative bounds: a rise below half a sample or a decay beyond 50
	// samples is not resolvable from the kernel.
	trLo, trHi := 0.5/fs, 10/fs
	tdLo, tdHi := 1/fs, 50/fs

	var energy float64
	for _, h := range kernel {
		energy += h * h
	}

	best := Result{Residual: math.Inf(1)}

	logTrLo, logTrHi := math.Log(trLo), math.Log(trHi)
	logTdLo, logTdHi := math.Log(tdLo), math.Log(tdHi)

	for i := 0; i < gridSize; i++ {
		tauR := math.Exp(logTrLo + (logTrHi-logTrLo)*float64(i)/float64(gridSize-1))

		for j := 0; j < gridSize; j++ {
			tauD := math.Exp(logTdLo + (logTdHi-logTdLo)*float64(j)/float64(gridSize-1))
			if tauD <= tauR {
				continue
			}

			beta, residual := evalBiexp(kernel, tauR, tauD, dt)
			if residual < best.Residual {
				best = Result{TauRise: tauR, TauDecay: tauD, Beta: beta, Residual: residual}
			}
		}
	}

	if !math.IsInf(best.Residual, 1) {
		tauR, tauD := goldenRefine(kernel, best.TauRise, best.TauDecay, dt)
		beta, residual := evalBiexp(kernel, tauR, tauD, dt)
		if residual < best.Residual {
			best = Result{TauRise: tauR, TauDecay: tauD, Beta: beta, Residual: residual}
		}
	}

	best.Valid = energy > 1e-20 &&
		best.TauDecay > best.TauRise &&
		!math.IsNaN(best.Residual) && !math.IsInf(best.Residual, 0) &&
		best.Residual <= energy/2 &&
		best.TauRise >= trLo/validBoundFactor && best.TauRise <= trHi*validBoundFactor &&
		best.TauDecay >= tdLo/validBoundFactor && best.TauDecay <= tdHi*validBoundFactor

	return best
}

// evalBiexp computes the least-squares beta and residual at one grid point
// in a single pass, using ||h - beta*t||^2 = ||h||^2 - <h,t>^2 / ||t||^2.
func evalBiexp(kernel []float64, tauR, tauD, dt float64) (float64, float64) {
	var dotHT, dotTT, dotHH float64
	for i, h := range kernel {
		t := float64(i) * dt
		template := math.Exp(-t/tauD) - math.Exp(-t/tauR)
		dotHT += h * template
		dotTT += template * template
		dotHH += h * h
	}

	if dotTT < 1e-30 {
		return 0, math.Inf(1)
	}

	beta := dotHT / dotTT

	return beta, dotHH - dotHT*dotHT/dotTT
}

// goldenRefine alternates golden-section searches per time constant around
// the best grid point, keeping tauRise strictly below tauDecay.
func goldenRefine(kernel []float64, tauR, tauD, dt float64) (float64, float64) {
	phi := (math.Sqrt(5) - 1) / 2

	for step := 0; step < goldenAlternate; step++ {
		if step%2 == 0 {
			lo := math.Max(tauR*0.5, 0.001)
			hi := math.Min(tauR*2, tauD*0.99)
			if lo >= hi {
				continue
			}

			for k := 0; k < goldenHalvings; k++ {
				x1 := hi - phi*(hi-lo)
				x2 := lo + phi*(hi-lo)
				_, r1 := evalBiexp(kernel, x1, tauD, dt)
				_, r2 := evalBiexp(kernel, x2, tauD, dt)
				if r1 < r2 {
					hi = x2
				} else {
					lo = x1
				}
			}
			tauR = (lo + hi) / 2
		} else {
			lo := math.Max(tauD*0.5, tauR*1.01)
			hi := tauD * 2
			if lo >= hi {
				continue
			}

			for k := 0; k < goldenHalvings; k++ {
				x1 := hi - phi*(hi-lo)
				x2 := lo + phi*(hi-lo)
				_, r1 := evalBiexp(kernel, tauR, x1, dt)
				_, r2 := evalBiexp(kernel, tauR, x2, dt)
				if r1 < r2 {
					hi = x2
				} else {
					lo = x1
				}
			}
			tauD = (lo + hi) / 2
		}
	}

	return tauR, tauD
}
