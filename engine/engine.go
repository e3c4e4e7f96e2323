package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cwbudde/algo-deconv/dsp/detrend"
	"github.com/cwbudde/algo-deconv/engine/pool"
	"github.com/cwbudde/algo-deconv/infer/biexp"
	"github.com/cwbudde/algo-deconv/infer/kernel"
	"github.com/cwbudde/algo-deconv/infer/trace"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

var (
	ErrNotIdle    = errors.New("engine: run already started")
	ErrRunActive  = errors.New("engine: cannot reset while a run is active")
	ErrNoDataset  = errors.New("engine: dataset must contain at least one cell with samples")
	ErrRaggedRows = errors.New("engine: all cells must have the same trace length")
)

// Consensus holds the per-parameter medians over the valid subset fits of
// one iteration.
type Consensus struct {
	TauRise  float64
	TauDecay float64
	Beta     float64
	Residual float64
}

// KernelSnapshot is one subset's kernel estimate and its biexponential fit.
type KernelSnapshot struct {
	Subset int
	Kernel []float64
	Fit    biexp.Result
}

// IterationSnapshot is one entry of the convergence history.
type IterationSnapshot struct {
	Iteration int
	Consensus Consensus
	Subsets   []KernelSnapshot
}

// Engine coordinates trace inference and kernel estimation across a worker
// pool. All exported methods are safe for concurrent use; Run itself blocks
// until the loop settles.
type Engine struct {
	dataset [][]float64
	fs      float64
	cfg     config
	rects   []Rectangle

	mu          sync.Mutex
	state       State
	iteration   int
	convergedAt int
	history     []IterationSnapshot
	results     map[int]trace.Result
	warmCounts  map[int][]int
	warmKernels map[int][]float64
	errCount    int

	pauseRequested bool
	stopRequested  bool
	resume         chan struct{}
	pool           *pool.Pool
}

// New validates the dataset (cells x time, rectangular) and applies options.
// The dataset is copied; later mutation of the caller's slices has no effect.
func New(dataset [][]float64, sampleRate float64, opts ...Option) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("engine: sample rate must be positive: %f", sampleRate)
	}
	if len(dataset) == 0 || len(dataset[0]) == 0 {
		return nil, ErrNoDataset
	}

	timepoints := len(dataset[0])
	copied := make([][]float64, len(dataset))
	for i, row := range dataset {
		if len(row) != timepoints {
			return nil, ErrRaggedRows
		}
		copied[i] = make([]float64, timepoints)
		copy(copied[i], row)
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine{
		dataset:     copied,
		fs:          sampleRate,
		cfg:         cfg,
		rects:       Tile(cfg.subsets, len(copied), timepoints, cfg.coverage, cfg.aspect, cfg.seed),
		results:     make(map[int]trace.Result),
		warmCounts:  make(map[int][]int),
		warmKernels: make(map[int][]float64),
	}, nil
}

// Subsets returns the subset windows used this run.
func (e *Engine) Subsets() []Rectangle {
	out := make([]Rectangle, len(e.rects))
	copy(out, e.rects)

	return out
}

// Run executes the refinement loop until convergence, iteration exhaustion
// or Stop, then finalizes (unless stopped) and settles in StateComplete.
// Only one run per engine; Reset re-arms it.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrNotIdle
	}
	e.state = StateRunning
	p := pool.New(e.cfg.workers)
	e.pool = p
	e.mu.Unlock()

	defer func() {
		p.Dispose()

		e.mu.Lock()
		e.pool = nil
		e.state = StateComplete
		e.mu.Unlock()
	}()

	p.Ready()

	working := e.prepareDataset()
	cells := len(working)
	timepoints := len(working[0])

	tauRise, tauDecay := e.cfg.tauRise, e.cfg.tauDecay

	for iter := 1; iter <= e.cfg.maxIterations; iter++ {
		if e.checkpoint(ctx) {
			return nil
		}

		e.mu.Lock()
		e.iteration = iter
		e.mu.Unlock()

		e.logf("iteration %d: tauRise=%.4fs tauDecay=%.4fs, %d subset windows",
			iter, tauRise, tauDecay, len(e.rects))

		subsetFits := e.runTracePhase(p, working, tauRise, tauDecay)
		e.mergeWarmCounts(subsetFits, timepoints)

		if e.checkpoint(ctx) {
			return nil
		}

		snapshots := e.runKernelPhase(p, subsetFits, tauDecay)

		valid := make([]KernelSnapshot, 0, len(snapshots))
		for _, s := range snapshots {
			if s.Fit.Valid {
				valid = append(valid, s)
			}
		}
		if len(valid) == 0 {
			e.logf("iteration %d: no usable subset kernels, stopping refinement", iter)
			break
		}

		cons := clampConsensus(consensusOf(valid))

		sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Subset < snapshots[j].Subset })

		e.mu.Lock()
		e.history = append(e.history, IterationSnapshot{Iteration: iter, Consensus: cons, Subsets: snapshots})
		e.mu.Unlock()

		e.logf("iteration %d: consensus tauRise=%.4fs tauDecay=%.4fs beta=%.3f (%d/%d valid fits)",
			iter, cons.TauRise, cons.TauDecay, cons.Beta, len(valid), len(snapshots))

		prevRise, prevDecay := tauRise, tauDecay
		tauRise, tauDecay = cons.TauRise, cons.TauDecay

		if iter > 1 {
			change := math.Max(
				math.Abs(tauRise-prevRise)/math.Max(prevRise, 1e-12),
				math.Abs(tauDecay-prevDecay)/math.Max(prevDecay, 1e-12),
			)
			if change < e.cfg.tolerance {
				e.mu.Lock()
				if e.convergedAt == 0 {
					e.convergedAt = iter
				}
				e.mu.Unlock()

				e.logf("converged at iteration %d (relative change %.5f)", iter, change)

				break
			}
		}
	}

	if e.checkpoint(ctx) {
		return nil
	}

	e.logf("finalizing %d cells with consensus kernel", cells)
	e.runFinalization(p, working, tauRise, tauDecay)

	return nil
}

// runTracePhase dispatches one trace job per (subset, cell) and waits for
// the barrier. Cancelled and errored jobs count toward it.
func (e *Engine) runTracePhase(p *pool.Pool, working [][]float64, tauRise, tauDecay float64) [][]cellFit {
	solveCfg := e.solveConfig(tauRise, tauDecay)

	subsetFits := make([][]cellFit, len(e.rects))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for si, r := range e.rects {
		for c := r.CellStart; c < r.CellEnd; c++ {
			si, c, r := si, c, r

			segment := make([]float64, r.Timepoints())
			copy(segment, working[c][r.TimeStart:r.TimeEnd])
			warm := e.warmWindow(c, r)

			wg.Add(1)
			_, err := p.Dispatch(pool.Job{
				Run: func(jobCtx context.Context) (any, error) {
					res, err := trace.Solve(jobCtx, segment, warm, solveCfg)
					if err != nil {
						return nil, err
					}
					if jobCtx.Err() != nil {
						return nil, jobCtx.Err()
					}
					return res, nil
				},
				OnComplete: func(v any) {
					mu.Lock()
					subsetFits[si] = append(subsetFits[si], cellFit{cell: c, segment: segment, res: v.(trace.Result)})
					mu.Unlock()
					wg.Done()
				},
				OnCancelled: func() { wg.Done() },
				OnError: func(err error) {
					e.recordError("trace", err)
					wg.Done()
				},
			})
			if err != nil {
				e.recordError("dispatch", err)
				wg.Done()
			}
		}
	}

	wg.Wait()

	return subsetFits
}

type cellFit struct {
	cell    int
	segment []float64
	res     trace.Result
}

// mergeWarmCounts writes each completed window's counts back into the
// full-length per-cell buffers, in subset order so overlaps resolve the same
// way every run.
func (e *Engine) mergeWarmCounts(subsetFits [][]cellFit, timepoints int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for si, r := range e.rects {
		fits := subsetFits[si]
		sort.Slice(fits, func(i, j int) bool { return fits[i].cell < fits[j].cell })

		for _, cf := range fits {
			buf := e.warmCounts[cf.cell]
			if buf == nil {
				buf = make([]int, timepoints)
				e.warmCounts[cf.cell] = buf
			}
			copy(buf[r.TimeStart:r.TimeEnd], cf.res.Counts)
		}
	}
}

// runKernelPhase dispatches one kernel job per subset with detected
// activity; the biexponential fit happens inside the job.
func (e *Engine) runKernelPhase(p *pool.Pool, subsetFits [][]cellFit, tauDecay float64) []KernelSnapshot {
	kernelLen := int(math.Ceil(5 * tauDecay * e.fs))
	estCfg := kernel.DefaultConfig()

	snapshots := make([]KernelSnapshot, 0, len(e.rects))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for si := range e.rects {
		si := si

		cellData := make([]kernel.CellData, 0, len(subsetFits[si]))
		for _, cf := range subsetFits[si] {
			spikes := make([]float64, len(cf.res.Counts))
			total := 0
			for i, cnt := range cf.res.Counts {
				spikes[i] = float64(cnt)
				total += cnt
			}
			if total == 0 {
				continue
			}

			cellData = append(cellData, kernel.CellData{
				Trace:    cf.segment,
				Spikes:   spikes,
				Alpha:    cf.res.Alpha,
				Baseline: cf.res.Baseline,
			})
		}
		if len(cellData) == 0 {
			continue
		}

		warm := e.warmKernel(si, kernelLen)

		wg.Add(1)
		_, err := p.Dispatch(pool.Job{
			Run: func(jobCtx context.Context) (any, error) {
				est := kernel.Estimate(jobCtx, cellData, kernelLen, warm, estCfg)
				if jobCtx.Err() != nil {
					return nil, jobCtx.Err()
				}
				return KernelSnapshot{Subset: si, Kernel: est, Fit: biexp.Fit(est, e.fs)}, nil
			},
			OnComplete: func(v any) {
				mu.Lock()
				snapshots = append(snapshots, v.(KernelSnapshot))
				mu.Unlock()
				wg.Done()
			},
			OnCancelled: func() { wg.Done() },
			OnError: func(err error) {
				e.recordError("kernel", err)
				wg.Done()
			},
		})
		if err != nil {
			e.recordError("dispatch", err)
			wg.Done()
		}
	}

	wg.Wait()

	e.mu.Lock()
	for _, s := range snapshots {
		e.warmKernels[s.Subset] = s.Kernel
	}
	e.mu.Unlock()

	return snapshots
}

// runFinalization infers every dataset cell with the final consensus kernel.
func (e *Engine) runFinalization(p *pool.Pool, working [][]float64, tauRise, tauDecay float64) {
	solveCfg := e.solveConfig(tauRise, tauDecay)

	var wg sync.WaitGroup

	for c := range working {
		c := c

		segment := make([]float64, len(working[c]))
		copy(segment, working[c])

		e.mu.Lock()
		var warm []int
		if buf := e.warmCounts[c]; buf != nil {
			warm = make([]int, len(buf))
			copy(warm, buf)
		}
		e.mu.Unlock()

		wg.Add(1)
		_, err := p.Dispatch(pool.Job{
			Run: func(jobCtx context.Context) (any, error) {
				res, err := trace.Solve(jobCtx, segment, warm, solveCfg)
				if err != nil {
					return nil, err
				}
				if jobCtx.Err() != nil {
					return nil, jobCtx.Err()
				}
				return res, nil
			},
			OnComplete: func(v any) {
				e.mu.Lock()
				e.results[c] = v.(trace.Result)
				e.mu.Unlock()
				wg.Done()
			},
			OnCancelled: func() { wg.Done() },
			OnError: func(err error) {
				e.recordError("finalize", err)
				wg.Done()
			},
		})
		if err != nil {
			e.recordError("dispatch", err)
			wg.Done()
		}
	}

	wg.Wait()
}

// Pause requests suspension at the next phase boundary.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state == StateRunning {
		e.pauseRequested = true
	}
	e.mu.Unlock()
}

// Resume releases a pending or active pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.pauseRequested = false
	if e.resume != nil {
		close(e.resume)
		e.resume = nil
	}
	e.mu.Unlock()
}

// Stop cancels all outstanding jobs, releases any pause and lets the run
// settle in StateComplete with partial results retained.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.stopRequested = true
	e.state = StateStopping
	if e.resume != nil {
		close(e.resume)
		e.resume = nil
	}
	p := e.pool
	e.mu.Unlock()

	if p != nil {
		p.CancelAll()
	}
}

// Reset clears history, warm starts and results back to StateIdle. It fails
// while a run is active.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning || e.state == StatePaused || e.state == StateStopping {
		return ErrRunActive
	}

	e.state = StateIdle
	e.iteration = 0
	e.convergedAt = 0
	e.history = nil
	e.results = make(map[int]trace.Result)
	e.warmCounts = make(map[int][]int)
	e.warmKernels = make(map[int][]float64)
	e.errCount = 0
	e.pauseRequested = false
	e.stopRequested = false

	return nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Iteration returns the latest iteration number started.
func (e *Engine) Iteration() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.iteration
}

// ConvergedAt returns the iteration at which consensus converged, or 0.
func (e *Engine) ConvergedAt() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.convergedAt
}

// History returns a copy of the convergence history.
func (e *Engine) History() []IterationSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]IterationSnapshot, len(e.history))
	copy(out, e.history)

	return out
}

// Results returns a copy of the finalized per-cell results.
func (e *Engine) Results() map[int]trace.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[int]trace.Result, len(e.results))
	for c, r := range e.results {
		out[c] = r
	}

	return out
}

// Errors returns the number of job errors absorbed so far.
func (e *Engine) Errors() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.errCount
}

// checkpoint is the phase-boundary suspension point. It blocks while paused
// and reports whether the run should end.
func (e *Engine) checkpoint(ctx context.Context) bool {
	e.mu.Lock()
	if e.stopRequested || ctx.Err() != nil {
		e.mu.Unlock()
		return true
	}
	if !e.pauseRequested {
		e.mu.Unlock()
		return false
	}

	e.state = StatePaused
	resume := make(chan struct{})
	e.resume = resume
	e.mu.Unlock()

	e.logf("paused")

	select {
	case <-resume:
	case <-ctx.Done():
		e.mu.Lock()
		e.resume = nil
		e.mu.Unlock()

		return true
	}

	e.mu.Lock()
	stopped := e.stopRequested
	if !stopped {
		e.state = StateRunning
		e.pauseRequested = false
	}
	e.mu.Unlock()

	if !stopped {
		e.logf("resumed")
	}

	return stopped
}

// solveConfig builds the per-job trace solver configuration. Detrended is
// set when prepareDataset already removed the baseline, so jobs neither
// re-filter their segment nor track a second offset.
func (e *Engine) solveConfig(tauRise, tauDecay float64) trace.Config {
	return trace.Config{
		TauRise:        tauRise,
		TauDecay:       tauDecay,
		SampleRate:     e.fs,
		UpsampleFactor: e.cfg.upsampleFactor,
		MaxIterations:  e.cfg.solverIterations,
		Tolerance:      e.cfg.solverTolerance,
		Detrended:      e.cfg.detrend,
	}
}

// prepareDataset returns the working copy fed to every job, detrended once
// when enabled so kernel estimation sees the same signals as inference.
func (e *Engine) prepareDataset() [][]float64 {
	working := make([][]float64, len(e.dataset))
	window := detrend.Window(e.cfg.tauDecay, e.fs)

	for i, row := range e.dataset {
		working[i] = make([]float64, len(row))
		copy(working[i], row)
		if e.cfg.detrend {
			detrend.Subtract(working[i], window, detrend.DefaultQuantile)
		}
	}

	return working
}

func (e *Engine) warmWindow(cell int, r Rectangle) []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf := e.warmCounts[cell]
	if buf == nil {
		return nil
	}

	out := make([]int, r.Timepoints())
	copy(out, buf[r.TimeStart:r.TimeEnd])

	return out
}

func (e *Engine) warmKernel(subset, kernelLen int) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := e.warmKernels[subset]
	if len(k) != kernelLen {
		return nil
	}

	out := make([]float64, kernelLen)
	copy(out, k)

	return out
}

func (e *Engine) recordError(phase string, err error) {
	e.mu.Lock()
	e.errCount++
	e.mu.Unlock()

	e.logf("%s job error: %v", phase, err)
}

func (e *Engine) logf(format string, args ...any) {
	if e.cfg.logger != nil {
		e.cfg.logger.Printf("[engine] "+format, args...)
	}
}

// consensusOf takes the per-parameter median; an even count averages the two
// middle values.
func consensusOf(valid []KernelSnapshot) Consensus {
	rises := make([]float64, len(valid))
	decays := make([]float64, len(valid))
	betas := make([]float64, len(valid))
	residuals := make([]float64, len(valid))

	for i, s := range valid {
		rises[i] = s.Fit.TauRise
		decays[i] = s.Fit.TauDecay
		betas[i] = s.Fit.Beta
		residuals[i] = s.Fit.Residual
	}

	return Consensus{
		TauRise:  median(rises),
		TauDecay: median(decays),
		Beta:     median(betas),
		Residual: median(residuals),
	}
}

// clampConsensus restores tauRise < tauDecay when the per-parameter medians
// invert the ordering, which can happen when subset fits disagree. The rise
// is halved relative to the decay so the next iteration's filter stays
// constructible.
func clampConsensus(cons Consensus) Consensus {
	if cons.TauRise >= cons.TauDecay {
		cons.TauRise = cons.TauDecay / 2
	}

	return cons
}

func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}

	return (values[n/2-1] + values[n/2]) / 2
}
