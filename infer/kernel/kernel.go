package kernel

import (
	"context"
	"math"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-deconv/dsp/fista"
)

// CellData pairs one cell's trace with its inferred spike train and the
// scale found by the threshold search. Trace and Spikes must have equal
// length; Spikes is binary.
type CellData struct {
	Trace    []float64
	Spikes   []float64
	Alpha    float64
	Baseline float64
}

// Config holds the estimator parameters.
type Config struct {
	MaxIterations int
	Tolerance     float64
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 500,
		Tolerance:     1e-5,
	}
}

// Estimate fits a non-negative kernel of length kernelLen to the pooled
// cells. Cells with |alpha| below 1e-20 carry no usable scale and are
// excluded. A warm kernel of matching length seeds the solve; momentum
// always restarts since the spike trains change between iterations. With no
// usable cell the zero kernel is returned.
func Estimate(ctx context.Context, cells []CellData, kernelLen int, warm []float64, cfg Config) []float64 {
	if kernelLen <= 0 {
		return []float64{}
	}

	op := newSpikeOperator(cells, kernelLen)
	if len(op.target) == 0 {
		return make([]float64, kernelLen)
	}

	res := fista.Solve(ctx, op, op.target, warm, fista.Options{
		MaxIterations: cfg.MaxIterations,
		Tolerance:     cfg.Tolerance,
		Constraint:    fista.NonNegative,
		Unknowns:      kernelLen,
	})

	return res.Solution
}

// spikeOperator is the stacked spike-convolution operator S. Segments are
// convolved independently; spikes never bleed across cell boundaries.
type spikeOperator struct {
	spikes    []float64
	target    []float64
	lengths   []int
	kernelLen int
	norm      float64
}

func newSpikeOperator(cells []CellData, kernelLen int) *spikeOperator {
	op := &spikeOperator{kernelLen: kernelLen}

	for _, c := range cells {
		n := len(c.Trace)
		if n == 0 || len(c.Spikes) != n || math.Abs(c.Alpha) < 1e-20 {
			continue
		}

		for i := 0; i < n; i++ {
			op.target = append(op.target, (c.Trace[i]-c.Baseline)/c.Alpha)
			op.spikes = append(op.spikes, c.Spikes[i])
		}
		op.lengths = append(op.lengths, n)
	}

	if len(op.target) > 0 {
		op.norm = op.powerIterationNorm()
	}

	return op
}

// Forward computes dst = S h by scattering the kernel at every spike. Only
// nonzero spike positions contribute, so the cost scales with spike count.
func (op *spikeOperator) Forward(dst, h []float64) {
	for i := range dst {
		dst[i] = 0
	}

	offset := 0
	for _, n := range op.lengths {
		for t := 0; t < n; t++ {
			s := op.spikes[offset+t]
			if s == 0 {
				continue
			}

			span := op.kernelLen
			if span > n-t {
				span = n - t
			}
			seg := dst[offset+t : offset+t+span]
			if s == 1 {
				vecmath.AddBlockInPlace(seg, h[:span])
			} else {
				for k := 0; k < span; k++ {
					seg[k] += s * h[k]
				}
			}
		}
		offset += n
	}
}

// Adjoint computes dst = S^T r by gathering the residual at every spike.
func (op *spikeOperator) Adjoint(dst, r []float64) {
	for k := range dst {
		dst[k] = 0
	}

	offset := 0
	for _, n := range op.lengths {
		for t := 0; t < n; t++ {
			s := op.spikes[offset+t]
			if s == 0 {
				continue
			}

			span := op.kernelLen
			if span > n-t {
				span = n - t
			}
			seg := r[offset+t : offset+t+span]
			if s == 1 {
				vecmath.AddBlockInPlace(dst[:span], seg)
			} else {
				for k := 0; k < span; k++ {
					dst[k] += s * seg[k]
				}
			}
		}
		offset += n
	}
}

func (op *spikeOperator) OperatorNorm() float64 {
	return op.norm
}

// powerIterationNorm estimates the top eigenvalue of S^T S in 20 steps,
// floored at 1 so degenerate spike trains still yield a usable step size.
func (op *spikeOperator) powerIterationNorm() float64 {
	m := op.kernelLen
	v := make([]float64, m)
	init := 1 / math.Sqrt(float64(m))
	for i := range v {
		v[i] = init
	}

	sv := make([]float64, len(op.target))
	stv := make([]float64, m)
	eigenvalue := 1.0

	for iter := 0; iter < 20; iter++ {
		op.Forward(sv, v)
		op.Adjoint(stv, sv)

		var normSq float64
		for _, x := range stv {
			normSq += x * x
		}
		eigenvalue = math.Sqrt(normSq)
		if eigenvalue < 1e-20 {
			eigenvalue = 1
			break
		}

		for i := range v {
			v[i] = stv[i] / eigenvalue
		}
	}

	return math.Max(eigenvalue, 1)
}
