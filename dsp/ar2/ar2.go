package ar2

import (
	"errors"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// Errors returned by filter construction.
var (
	ErrInvalidTau        = errors.New("ar2: time constants must satisfy tauDecay > tauRise > 0")
	ErrInvalidSampleRate = errors.New("ar2: sample rate must be positive")
)

const normFFTSize = 4096

// Filter is a peak-normalized causal AR(2) convolution operator.
// It is immutable after construction and safe for concurrent use.
type Filter struct {
	g1, g2     float64
	peak       float64
	norm       float64
	tauDecay   float64
	sampleRate float64
}

// New creates a filter for the given time constants (seconds) and sample rate.
func New(tauRise, tauDecay, sampleRate float64) (*Filter, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, ErrInvalidSampleRate
	}
	if tauRise <= 0 || tauDecay <= tauRise || math.IsNaN(tauRise) || math.IsNaN(tauDecay) {
		return nil, ErrInvalidTau
	}

	dt := 1.0 / sampleRate
	d := math.Exp(-dt / tauDecay)
	r := math.Exp(-dt / tauRise)

	f := &Filter{
		g1:         d + r,
		g2:         -d * r,
		tauDecay:   tauDecay,
		sampleRate: sampleRate,
	}
	f.peak = f.impulsePeak()
	f.norm = f.spectralNorm() / (f.peak * f.peak)

	return f, nil
}

// Coefficients returns the recursion coefficients (g1, g2).
func (f *Filter) Coefficients() (float64, float64) {
	return f.g1, f.g2
}

// Peak returns the raw (un-normalized) impulse response peak.
func (f *Filter) Peak() float64 {
	return f.peak
}

// KernelLength returns the sample count after which the impulse response has
// decayed below 1% of its peak: ceil(5 * tauDecay * sampleRate).
func (f *Filter) KernelLength() int {
	return int(math.Ceil(5 * f.tauDecay * f.sampleRate))
}

// Forward runs the normalized forward convolution dst = (G * src) / peak.
// dst and src must have equal length. An empty src is a no-op.
func (f *Filter) Forward(dst, src []float64) {
	n := len(src)
	if n == 0 {
		return
	}

	dst[0] = src[0]
	if n > 1 {
		dst[1] = f.g1*dst[0] + src[1]
	}
	for t := 2; t < n; t++ {
		dst[t] = f.g1*dst[t-1] + f.g2*dst[t-2] + src[t]
	}

	vecmath.ScaleBlockInPlace(dst[:n], 1/f.peak)
}

// Adjoint runs the normalized adjoint convolution dst = (G^T * src) / peak,
// the time-reversed recursion.
func (f *Filter) Adjoint(dst, src []float64) {
	n := len(src)
	if n == 0 {
		return
	}

	dst[n-1] = src[n-1]
	if n > 1 {
		dst[n-2] = src[n-2] + f.g1*dst[n-1]
	}
	for t := n - 3; t >= 0; t-- {
		dst[t] = src[t] + f.g1*dst[t+1] + f.g2*dst[t+2]
	}

	vecmath.ScaleBlockInPlace(dst[:n], 1/f.peak)
}

// OperatorNorm returns the squared spectral norm of the normalized operator,
// max_w |H(e^jw)|^2 / peak^2. This is the Lipschitz constant of the gradient
// of the least-squares objective built on this operator.
func (f *Filter) OperatorNorm() float64 {
	return f.norm
}

// Impulse returns the first n samples of the normalized impulse response.
func (f *Filter) Impulse(n int) []float64 {
	src := make([]float64, n)
	if n == 0 {
		return src
	}
	src[0] = 1

	dst := make([]float64, n)
	f.Forward(dst, src)

	return dst
}

// impulsePeak runs the raw recursion until the response decays past its
// maximum. The peak is at least 1 (the impulse itself at t=0).
func (f *Filter) impulsePeak() float64 {
	maxSteps := int(math.Ceil(5*f.tauDecay*f.sampleRate)) + 10
	cPrev2 := 0.0
	cPrev1 := 1.0
	peak := 1.0

	for t := 1; t < maxSteps; t++ {
		c := f.g1*cPrev1 + f.g2*cPrev2
		if c > peak {
			peak = c
		}
		if c < peak*0.95 {
			break
		}
		cPrev2, cPrev1 = cPrev1, c
	}

	return math.Max(peak, 1)
}

// spectralNorm computes max_w |H(e^jw)|^2 for the raw operator from the FFT
// of the truncated impulse response. The truncation at 5*tauDecay leaves a
// tail below 1% of the peak, negligible against the DC gain.
func (f *Filter) spectralNorm() float64 {
	irLen := int(math.Ceil(5*f.tauDecay*f.sampleRate)) + 10

	size := normFFTSize
	for size < 2*irLen {
		size *= 2
	}

	ir := make([]complex128, size)
	ir[0] = 1
	cPrev2, cPrev1 := 0.0, 1.0
	for t := 1; t < irLen; t++ {
		c := f.g1*cPrev1 + f.g2*cPrev2
		ir[t] = complex(c, 0)
		cPrev2, cPrev1 = cPrev1, c
	}

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return f.spectralNormScan()
	}

	freq := make([]complex128, size)
	if err := plan.Forward(freq, ir); err != nil {
		return f.spectralNormScan()
	}

	re := make([]float64, size)
	im := make([]float64, size)
	for i, c := range freq {
		re[i] = real(c)
		im[i] = imag(c)
	}

	power := make([]float64, size)
	vecmath.Power(power, re, im)

	return math.Max(vecmath.MaxAbs(power), 1e-10)
}

// spectralNormScan is the direct frequency-response fallback, evaluating
// |H(e^jw)|^2 = 1 / |1 - g1*e^{-jw} - g2*e^{-2jw}|^2 on a dense grid.
func (f *Filter) spectralNormScan() float64 {
	const nFreqs = 4096
	maxPower := 0.0

	for k := 0; k <= nFreqs; k++ {
		w := math.Pi * float64(k) / nFreqs
		cw := math.Cos(w)
		sw := math.Sin(w)
		c2w := 2*cw*cw - 1
		s2w := 2 * sw * cw
		re := 1 - f.g1*cw - f.g2*c2w
		im := f.g1*sw + f.g2*s2w
		denom := re*re + im*im
		if denom > 1e-30 {
			maxPower = math.Max(maxPower, 1/denom)
		}
	}

	return math.Max(maxPower, 1e-10)
}
