package trace

import (
	"context"

	"github.com/cwbudde/algo-deconv/dsp/ar2"
	"github.com/cwbudde/algo-deconv/dsp/detrend"
	"github.com/cwbudde/algo-deconv/dsp/fista"
	"github.com/cwbudde/algo-deconv/dsp/resample"
)

// Config holds the trace solver parameters. Time constants are in seconds,
// rates in Hz.
type Config struct {
	TauRise        float64
	TauDecay       float64
	SampleRate     float64
	UpsampleFactor int
	MaxIterations  int
	Tolerance      float64

	// Detrend removes a rolling-percentile baseline before solving.
	Detrend bool

	// Detrended marks a trace whose floor was already removed upstream.
	// Either flag turns off per-iteration baseline tracking in the
	// relaxed solve: the floor sits at zero and a tracked offset would
	// drift.
	Detrended bool
}

// DefaultConfig returns solver defaults for a typical calcium recording.
func DefaultConfig() Config {
	return Config{
		TauRise:        0.02,
		TauDecay:       0.4,
		SampleRate:     30,
		UpsampleFactor: 1,
		MaxIterations:  2000,
		Tolerance:      1e-4,
	}
}

// Result is the per-trace inference output. Counts has the native trace
// length; Alpha scales the normalized model to trace units.
type Result struct {
	Counts     []int
	Alpha      float64
	Baseline   float64
	Threshold  float64
	PVE        float64
	Iterations int
	Converged  bool
}

// trackBaseline reports whether the relaxed solve should estimate a DC
// offset. It is off whenever the floor was removed, here or upstream.
func (cfg Config) trackBaseline() bool {
	return !cfg.Detrend && !cfg.Detrended
}

// Solve infers spike counts for one trace. warmCounts, when non-nil and of
// matching length, seeds the relaxed solve with the expansion of a previous
// iteration's counts. Cancellation yields the partial state reached so far
// with Converged false; degenerate traces yield zero counts, not errors.
func Solve(ctx context.Context, signal []float64, warmCounts []int, cfg Config) (Result, error) {
	if cfg.UpsampleFactor < 1 {
		cfg.UpsampleFactor = 1
	}

	fsUp := cfg.SampleRate * float64(cfg.UpsampleFactor)
	filter, err := ar2.New(cfg.TauRise, cfg.TauDecay, fsUp)
	if err != nil {
		return Result{}, err
	}

	n := len(signal)
	if n == 0 {
		return Result{Counts: []int{}, Converged: true}, nil
	}

	work := make([]float64, n)
	copy(work, signal)
	if cfg.Detrend {
		detrend.Subtract(work, detrend.Window(cfg.TauDecay, cfg.SampleRate), detrend.DefaultQuantile)
	}

	upsampled := resample.Upsample(work, cfg.UpsampleFactor)

	var warm []float64
	if len(warmCounts) == n {
		warm = resample.ExpandCounts(warmCounts, cfg.UpsampleFactor)
	}

	relaxed := fista.Solve(ctx, filter, upsampled, warm, fista.Options{
		MaxIterations: cfg.MaxIterations,
		Tolerance:     cfg.Tolerance,
		Constraint:    fista.Box01,
		TrackBaseline: cfg.trackBaseline(),
	})

	th := searchThreshold(relaxed.Solution, upsampled, filter, cfg.TauDecay, fsUp)

	return Result{
		Counts:     resample.DownsampleCounts(th.binary, cfg.UpsampleFactor),
		Alpha:      th.alpha,
		Baseline:   th.baseline,
		Threshold:  th.threshold,
		PVE:        th.pve,
		Iterations: relaxed.Iterations,
		Converged:  relaxed.Converged,
	}, nil
}
