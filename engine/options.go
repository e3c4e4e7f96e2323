package engine

import (
	"fmt"
	"log"
)

const (
	defaultSubsets          = 4
	defaultCoverage         = 0.25
	defaultAspect           = 1.0
	defaultSeed             = 1
	defaultMaxIterations    = 20
	defaultTolerance        = 0.01
	defaultTauRise          = 0.1
	defaultTauDecay         = 0.6
	defaultUpsampleFactor   = 1
	defaultSolverIterations = 2000
	defaultSolverTolerance  = 1e-4
)

type config struct {
	subsets          int
	coverage         float64
	aspect           float64
	seed             uint32
	workers          int
	maxIterations    int
	tolerance        float64
	tauRise          float64
	tauDecay         float64
	upsampleFactor   int
	solverIterations int
	solverTolerance  float64
	detrend          bool
	logger           *log.Logger
}

func defaultEngineConfig() config {
	return config{
		subsets:          defaultSubsets,
		coverage:         defaultCoverage,
		aspect:           defaultAspect,
		seed:             defaultSeed,
		maxIterations:    defaultMaxIterations,
		tolerance:        defaultTolerance,
		tauRise:          defaultTauRise,
		tauDecay:         defaultTauDecay,
		upsampleFactor:   defaultUpsampleFactor,
		solverIterations: defaultSolverIterations,
		solverTolerance:  defaultSolverTolerance,
	}
}

// Option configures an [Engine].
type Option func(*config) error

// WithSubsets sets the number of subset windows per iteration (default 4).
func WithSubsets(k int) Option {
	return func(cfg *config) error {
		if k < 1 {
			return fmt.Errorf("engine: subset count must be >= 1: %d", k)
		}

		cfg.subsets = k

		return nil
	}
}

// WithCoverage sets the dataset area fraction each subset window covers
// (default 0.25).
func WithCoverage(fraction float64) Option {
	return func(cfg *config) error {
		if fraction <= 0 || fraction > 1 {
			return fmt.Errorf("engine: coverage must be in (0, 1]: %f", fraction)
		}

		cfg.coverage = fraction

		return nil
	}
}

// WithAspect sets the subset window aspect ratio (default 1.0, proportional
// to the dataset shape).
func WithAspect(aspect float64) Option {
	return func(cfg *config) error {
		if aspect <= 0 {
			return fmt.Errorf("engine: aspect must be > 0: %f", aspect)
		}

		cfg.aspect = aspect

		return nil
	}
}

// WithSeed sets the subset placement seed (default 1).
func WithSeed(seed uint32) Option {
	return func(cfg *config) error {
		cfg.seed = seed
		return nil
	}
}

// WithWorkers sets the worker pool size; zero or negative uses the available
// hardware concurrency.
func WithWorkers(n int) Option {
	return func(cfg *config) error {
		cfg.workers = n
		return nil
	}
}

// WithMaxIterations caps the outer refinement loop (default 20).
func WithMaxIterations(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return fmt.Errorf("engine: max iterations must be >= 1: %d", n)
		}

		cfg.maxIterations = n

		return nil
	}
}

// WithTolerance sets the relative consensus change below which the loop
// converges (default 0.01).
func WithTolerance(tol float64) Option {
	return func(cfg *config) error {
		if tol <= 0 {
			return fmt.Errorf("engine: tolerance must be > 0: %f", tol)
		}

		cfg.tolerance = tol

		return nil
	}
}

// WithInitialTaus sets the starting time constants in seconds (defaults
// 0.1 and 0.6).
func WithInitialTaus(tauRise, tauDecay float64) Option {
	return func(cfg *config) error {
		if tauRise <= 0 || tauDecay <= tauRise {
			return fmt.Errorf("engine: time constants must satisfy tauDecay > tauRise > 0: %f, %f", tauRise, tauDecay)
		}

		cfg.tauRise = tauRise
		cfg.tauDecay = tauDecay

		return nil
	}
}

// WithUpsampleFactor sets the trace solver's internal upsampling (default 1).
func WithUpsampleFactor(factor int) Option {
	return func(cfg *config) error {
		if factor < 1 {
			return fmt.Errorf("engine: upsample factor must be >= 1: %d", factor)
		}

		cfg.upsampleFactor = factor

		return nil
	}
}

// WithSolverLimits sets the per-trace solver iteration cap and tolerance
// (defaults 2000 and 1e-4).
func WithSolverLimits(maxIterations int, tolerance float64) Option {
	return func(cfg *config) error {
		if maxIterations < 1 {
			return fmt.Errorf("engine: solver iterations must be >= 1: %d", maxIterations)
		}
		if tolerance <= 0 {
			return fmt.Errorf("engine: solver tolerance must be > 0: %f", tolerance)
		}

		cfg.solverIterations = maxIterations
		cfg.solverTolerance = tolerance

		return nil
	}
}

// WithDetrend enables rolling-percentile baseline removal before inference.
func WithDetrend(enabled bool) Option {
	return func(cfg *config) error {
		cfg.detrend = enabled
		return nil
	}
}

// WithLogger sets an optional logger for iteration progress and job errors.
func WithLogger(logger *log.Logger) Option {
	return func(cfg *config) error {
		cfg.logger = logger
		return nil
	}
}
