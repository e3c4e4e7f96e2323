package fista

import (
	"context"
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// Constraint selects the elementwise projection applied after each
// gradient step.
type Constraint int

const (
	// NonNegative projects onto [0, +inf).
	NonNegative Constraint = iota
	// Box01 projects onto [0, 1].
	Box01
)

// Operator is a linear operator with a known Lipschitz bound. Forward maps
// the solution space into the target space and Adjoint maps back; dst and
// src must not alias. Square operators use equal lengths; rectangular ones
// set Options.Unknowns.
type Operator interface {
	Forward(dst, src []float64)
	Adjoint(dst, src []float64)

	// OperatorNorm returns an upper bound on the squared spectral norm,
	// the Lipschitz constant of the least-squares gradient.
	OperatorNorm() float64
}

// Options configures a solve.
type Options struct {
	MaxIterations int
	Tolerance     float64
	Constraint    Constraint

	// TrackBaseline estimates a scalar DC offset alongside the solution.
	TrackBaseline bool

	// CheckEvery is the context poll interval in iterations (default 25).
	CheckEvery int

	// Unknowns is the solution length for rectangular operators. Zero
	// means square: the solution has the target's length.
	Unknowns int
}

// DefaultOptions returns the solver defaults.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 2000,
		Tolerance:     1e-6,
		Constraint:    NonNegative,
		CheckEvery:    25,
	}
}

// Result holds the solver output. On cancellation the current state is
// returned with Converged false.
type Result struct {
	Solution   []float64
	Baseline   float64
	Iterations int
	Converged  bool
}

// Solve runs FISTA on ||op(x) + b - target||^2 under the configured
// constraint. A non-nil warm slice of matching length seeds both the
// solution and the extrapolation point; momentum always starts fresh.
func Solve(ctx context.Context, op Operator, target, warm []float64, opts Options) Result {
	n := len(target)
	if n == 0 {
		return Result{Solution: []float64{}, Converged: true}
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = DefaultOptions().CheckEvery
	}

	m := opts.Unknowns
	if m <= 0 {
		m = n
	}

	x := make([]float64, m)
	y := make([]float64, m)
	if len(warm) == m {
		for i, v := range warm {
			x[i] = project(v, opts.Constraint)
		}
		copy(y, x)
	}

	forward := make([]float64, n)
	residual := make([]float64, n)
	gradient := make([]float64, m)
	xOld := make([]float64, m)

	step := 1.0 / math.Max(op.OperatorNorm(), 1e-20)
	tolSq := opts.Tolerance * opts.Tolerance
	targetSum := vecmath.Sum(target)

	baseline := 0.0
	tMomentum := 1.0
	iterations := 0

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		if iter%opts.CheckEvery == 0 {
			select {
			case <-ctx.Done():
				return Result{Solution: x, Baseline: baseline, Iterations: iterations}
			default:
			}
		}

		// Gradient at the extrapolation point y.
		op.Forward(forward, y)

		if opts.TrackBaseline {
			baseline = (targetSum - vecmath.Sum(forward)) / float64(n)
		}

		for i := 0; i < n; i++ {
			residual[i] = forward[i] + baseline - target[i]
		}
		op.Adjoint(gradient, residual)

		copy(xOld, x)
		for i := 0; i < m; i++ {
			x[i] = project(y[i]-step*gradient[i], opts.Constraint)
		}

		tNew := (1 + math.Sqrt(1+4*tMomentum*tMomentum)) / 2
		momentum := (tMomentum - 1) / tNew

		var diffSq, oldSq, restartDot float64
		for i := 0; i < m; i++ {
			d := x[i] - xOld[i]
			diffSq += d * d
			oldSq += xOld[i] * xOld[i]
			restartDot += (y[i] - x[i]) * d
			y[i] = project(x[i]+momentum*d, opts.Constraint)
		}

		// Adaptive restart: momentum went against the gradient mapping.
		if iter > 1 && restartDot > 0 {
			tMomentum = 1
			copy(y, x)
		} else {
			tMomentum = tNew
		}

		iterations = iter

		if iter > 5 && diffSq < tolSq*(oldSq+1e-20) {
			return Result{Solution: x, Baseline: baseline, Iterations: iterations, Converged: true}
		}
	}

	return Result{Solution: x, Baseline: baseline, Iterations: iterations}
}

func project(v float64, c Constraint) float64 {
	if v < 0 {
		return 0
	}
	if c == Box01 && v > 1 {
		return 1
	}

	return v
}
