package transport

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pulsarbroker/internal/wire"
)

// job is one decoded request awaiting processing, together with the
// channel its response is delivered back on (the connection's writer
// goroutine, not the worker, owns writing to the socket).
type job struct {
	ctx   context.Context
	req   wire.Request
	reply chan<- wire.Response
}

// WorkerPool distributes decoded requests across a fixed set of worker
// goroutines, one per CPU, each processing its own channel so that one
// slow request never head-of-line blocks requests routed to other
// workers. Assignment is reverse round robin: the index walks backwards
// and wraps, matching the source pool's next_thread_index scheme.
type WorkerPool struct {
	router  *Router
	workers []chan job
	mu      sync.Mutex
	next    int
}

// NewWorkerPool starts runtime.GOMAXPROCS(0) worker goroutines bound to
// router and returns the pool. Stop via ctx cancellation.
func NewWorkerPool(ctx context.Context, router *Router) *WorkerPool {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{router: router, workers: make([]chan job, n)}
	for i := range p.workers {
		ch := make(chan job, 64)
		p.workers[i] = ch
		go p.runWorker(ctx, ch)
	}
	return p
}

func (p *WorkerPool) runWorker(ctx context.Context, jobs chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			resp := p.router.Dispatch(j.ctx, j.req)
			select {
			case j.reply <- resp:
			case <-j.ctx.Done():
			}
		}
	}
}

// Submit hands req to the next worker in reverse round-robin order.
// Each worker channel is buffered; when the chosen worker's channel is
// full, Submit blocks whichever caller was routed to it until that
// worker drains a job or ctx is cancelled.
func (p *WorkerPool) Submit(ctx context.Context, req wire.Request, reply chan<- wire.Response) {
	idx := p.next
	if p.next == 0 {
		p.next = len(p.workers) - 1
	} else {
		p.next--
	}

	select {
	case p.workers[idx] <- job{ctx: ctx, req: req, reply: reply}:
	case <-ctx.Done():
		log.Debug().Msg("worker pool: submit cancelled")
	}
}
