// Package pool runs prioritized, cancellable jobs on a fixed set of workers.
//
// Jobs end in exactly one callback: OnComplete on success, OnCancelled when
// the job was cancelled before or during execution, OnError otherwise.
// Callbacks for running jobs fire on worker goroutines; cancelling a still
// queued job fires OnCancelled synchronously on the caller's goroutine.
package pool

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrDisposed    = errors.New("pool: disposed")
	ErrDuplicateID = errors.New("pool: job id already queued or running")
	ErrMissingRun  = errors.New("pool: job has no run function")
)

// Job describes one unit of work. Lower Priority values run first; a zero
// Priority is treated as the default 1. An empty ID gets a generated uuid.
type Job struct {
	ID       string
	Priority int

	Run         func(ctx context.Context) (any, error)
	OnComplete  func(any)
	OnCancelled func()
	OnError     func(error)
}

// Pool is a fixed-size priority worker pool.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    jobHeap
	queued   map[string]*queuedJob
	running  map[string]context.CancelFunc
	seq      uint64
	disposed bool

	base       context.Context
	cancelBase context.CancelFunc

	ready   sync.WaitGroup
	workers sync.WaitGroup
}

type queuedJob struct {
	job   Job
	seq   uint64
	index int
}

// New starts a pool with the given number of workers; size <= 0 uses
// GOMAXPROCS. Workers report readiness before their first queue pull, so
// Ready returns once every worker is idle and pulling.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		queued:  make(map[string]*queuedJob),
		running: make(map[string]context.CancelFunc),
	}
	p.cond = sync.NewCond(&p.mu)
	p.base, p.cancelBase = context.WithCancel(context.Background())

	p.ready.Add(size)
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}

	return p
}

// Ready blocks until every worker has entered its pull loop.
func (p *Pool) Ready() {
	p.ready.Wait()
}

// Dispatch enqueues a job and returns its ID.
func (p *Pool) Dispatch(job Job) (string, error) {
	if job.Run == nil {
		return "", ErrMissingRun
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Priority == 0 {
		job.Priority = 1
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return "", ErrDisposed
	}
	if _, ok := p.queued[job.ID]; ok {
		p.mu.Unlock()
		return "", ErrDuplicateID
	}
	if _, ok := p.running[job.ID]; ok {
		p.mu.Unlock()
		return "", ErrDuplicateID
	}

	item := &queuedJob{job: job, seq: p.seq}
	p.seq++
	heap.Push(&p.queue, item)
	p.queued[job.ID] = item
	p.mu.Unlock()

	p.cond.Signal()

	return job.ID, nil
}

// Cancel removes a queued job (OnCancelled fires before Cancel returns) or
// signals a running one (its callback fires later on the worker). It reports
// whether the ID was known.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()

	if item, ok := p.queued[id]; ok {
		heap.Remove(&p.queue, item.index)
		delete(p.queued, id)
		p.mu.Unlock()

		if item.job.OnCancelled != nil {
			item.job.OnCancelled()
		}

		return true
	}

	if cancel, ok := p.running[id]; ok {
		p.mu.Unlock()
		cancel()

		return true
	}

	p.mu.Unlock()

	return false
}

// CancelAll cancels every queued and running job.
func (p *Pool) CancelAll() {
	p.mu.Lock()

	dropped := make([]*queuedJob, 0, len(p.queued))
	for _, item := range p.queued {
		dropped = append(dropped, item)
	}
	for _, item := range dropped {
		heap.Remove(&p.queue, item.index)
		delete(p.queued, item.job.ID)
	}

	cancels := make([]context.CancelFunc, 0, len(p.running))
	for _, cancel := range p.running {
		cancels = append(cancels, cancel)
	}
	p.mu.Unlock()

	for _, item := range dropped {
		if item.job.OnCancelled != nil {
			item.job.OnCancelled()
		}
	}
	for _, cancel := range cancels {
		cancel()
	}
}

// Dispose discards all queued jobs without callbacks, cancels running ones
// and waits for the workers to exit. The pool is unusable afterwards.
func (p *Pool) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.queue = nil
	p.queued = make(map[string]*queuedJob)
	p.mu.Unlock()

	p.cancelBase()
	p.cond.Broadcast()
	p.workers.Wait()
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queued)
}

// Running returns the number of jobs currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.running)
}

func (p *Pool) worker() {
	defer p.workers.Done()
	p.ready.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.disposed {
			p.cond.Wait()
		}
		if p.disposed {
			p.mu.Unlock()
			return
		}

		item := heap.Pop(&p.queue).(*queuedJob)
		delete(p.queued, item.job.ID)

		ctx, cancel := context.WithCancel(p.base)
		p.running[item.job.ID] = cancel
		p.mu.Unlock()

		result, err := item.job.Run(ctx)

		p.mu.Lock()
		delete(p.running, item.job.ID)
		p.mu.Unlock()
		cancel()

		switch {
		case err == nil:
			if item.job.OnComplete != nil {
				item.job.OnComplete(result)
			}
		case errors.Is(err, context.Canceled):
			if item.job.OnCancelled != nil {
				item.job.OnCancelled()
			}
		default:
			if item.job.OnError != nil {
				item.job.OnError(err)
			}
		}
	}
}

// jobHeap orders by (priority, dispatch sequence).
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}

	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	item := x.(*queuedJob)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return item
}
