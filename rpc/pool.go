package rpc

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/eth2030/soltrace/metrics"
)

var (
	// ErrTimeout is returned when a request deadline passes before its
	// decode finished.
	ErrTimeout = errors.New("rpc: decode timed out")

	// ErrPoolClosed is returned by Do after Close.
	ErrPoolClosed = errors.New("rpc: worker pool closed")
)

// Pool runs jobs on a fixed set of workers. A job that has started always
// runs to completion; the caller's context only bounds how long it waits.
type Pool struct {
	jobs  chan func()
	quit  chan struct{}
	depth *metrics.Gauge
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPool starts workers goroutines with room for queue waiting jobs.
// workers <= 0 uses one worker per CPU.
func NewPool(workers, queue int) *Pool {
	return newPool(workers, queue, metrics.DecodeQueueDepth)
}

func newPool(workers, queue int, depth *metrics.Gauge) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		jobs:  make(chan func(), queue),
		quit:  make(chan struct{}),
		depth: depth,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.depth.Dec()
			job()
		case <-p.quit:
			return
		}
	}
}

// Do runs fn on a worker and waits for it. It returns ErrTimeout if ctx
// expires first, in which case fn may still run later and must not touch
// state the caller reads afterwards.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}
	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}

	p.depth.Inc()
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		p.depth.Dec()
		return contextError(ctx)
	case <-p.quit:
		p.depth.Dec()
		return ErrPoolClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return contextError(ctx)
	case <-p.quit:
		select {
		case <-done:
			return nil
		default:
			return ErrPoolClosed
		}
	}
}

// Close stops the workers after their current jobs. Queued jobs are
// dropped and their callers get ErrPoolClosed.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.quit)
		p.wg.Wait()
		for {
			select {
			case <-p.jobs:
				p.depth.Dec()
			default:
				return
			}
		}
	})
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
