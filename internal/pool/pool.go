// Package pool runs a fixed set of worker goroutines that talk to a
// coordinator over channels.
//
// Two protocols are offered: broadcast/collect, where every worker gets
// the same message and answers exactly once, and a task queue, where a
// lazy sequence of tasks is spread over idle workers and the answers are
// returned in task order.
package pool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"

	"mocasa/internal/logging"
	"mocasa/internal/metrics"
)

// MinWorkers keeps inter-chain statistics meaningful.
const MinWorkers = 3

var ErrWorkerGone = errors.New("worker gone")

// Response is a worker's answer. It names the worker that sent it.
type Response interface {
	WorkerID() int
}

// Run is a worker's body. It must keep receiving from inbox until it gets
// the shutdown message, and send at most one response per message.
type Run[M any, R Response] func(id int, inbox <-chan M, send func(R))

// DefaultSize is the number of CPUs, but at least MinWorkers.
func DefaultSize() int {
	return max(runtime.NumCPU(), MinWorkers)
}

// Pool owns n worker goroutines.
type Pool[M any, R Response] struct {
	logger   *logging.Logger
	shutdown M
	inboxes  []chan M
	results  chan R
	exits    chan int
	done     []chan struct{}
	crashes  []error
	close    sync.Once
	closeErr error
}

// New starts n workers running run. shutdown is the message that makes a
// worker return.
func New[M any, R Response](n int, shutdown M, logger *logging.Logger, run Run[M, R]) *Pool[M, R] {
	if n < 1 {
		n = 1
	}
	p := &Pool[M, R]{
		logger:   logger,
		shutdown: shutdown,
		inboxes:  make([]chan M, n),
		results:  make(chan R, n),
		exits:    make(chan int, n),
		done:     make([]chan struct{}, n),
		crashes:  make([]error, n),
	}
	send := func(r R) { p.results <- r }
	for id := 0; id < n; id++ {
		p.inboxes[id] = make(chan M, 1)
		p.done[id] = make(chan struct{})
		go func() {
			defer func() {
				if r := recover(); r != nil {
					p.crashes[id] = fmt.Errorf("worker %d panicked: %v", id, r)
				}
				close(p.done[id])
				p.exits <- id
			}()
			run(id, p.inboxes[id], send)
		}()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool[M, R]) Size() int { return len(p.inboxes) }

func (p *Pool[M, R]) gone(id int) error {
	if crash := p.crashes[id]; crash != nil {
		return fmt.Errorf("%w: %w", ErrWorkerGone, crash)
	}
	return fmt.Errorf("worker %d exited: %w", id, ErrWorkerGone)
}

func (p *Pool[M, R]) send(id int, m M) error {
	select {
	case <-p.done[id]:
		return p.gone(id)
	default:
	}
	select {
	case p.inboxes[id] <- m:
		return nil
	case <-p.done[id]:
		return p.gone(id)
	}
}

func (p *Pool[M, R]) receive() (R, error) {
	select {
	case r := <-p.results:
		return r, nil
	case id := <-p.exits:
		var zero R
		return zero, p.gone(id)
	}
}

// Broadcast sends m to every worker without waiting for answers.
func (p *Pool[M, R]) Broadcast(m M) error {
	for id := range p.inboxes {
		if err := p.send(id, m); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastCollect sends m to every worker and waits for one response
// from each. Responses are indexed by worker id.
func (p *Pool[M, R]) BroadcastCollect(m M) ([]R, error) {
	if err := p.Broadcast(m); err != nil {
		return nil, err
	}
	responses := make([]R, p.Size())
	received := make([]bool, p.Size())
	for range p.inboxes {
		r, err := p.receive()
		if err != nil {
			return nil, err
		}
		id := r.WorkerID()
		if id < 0 || id >= p.Size() || received[id] {
			return nil, fmt.Errorf("unexpected response from worker %d", id)
		}
		responses[id] = r
		received[id] = true
	}
	return responses, nil
}

// Observer follows the progress of a task queue.
type Observer[R any] interface {
	GoingToStart()
	Sent(task, worker int)
	Received(task int, response R)
	Draining(inFlight int)
	Completed()
}

// NoOpObserver ignores every event.
type NoOpObserver[R any] struct{}

func (NoOpObserver[R]) GoingToStart()   {}
func (NoOpObserver[R]) Sent(int, int)   {}
func (NoOpObserver[R]) Received(int, R) {}
func (NoOpObserver[R]) Draining(int)    {}
func (NoOpObserver[R]) Completed()      {}

// TaskQueue feeds tasks to idle workers, one outstanding task per worker,
// and returns the responses in task order. If ctx is cancelled no new
// tasks are sent; in-flight tasks are awaited and ctx.Err() is returned
// with the responses received so far.
func (p *Pool[M, R]) TaskQueue(ctx context.Context, tasks iter.Seq[M], observer Observer[R]) ([]R, error) {
	if observer == nil {
		observer = NoOpObserver[R]{}
	}
	next, stop := iter.Pull(tasks)
	defer stop()

	inFlight := make([]int, p.Size())
	idle := make([]int, 0, p.Size())
	for id := p.Size() - 1; id >= 0; id-- {
		inFlight[id] = -1
		idle = append(idle, id)
	}
	var responses []R
	nInFlight := 0
	exhausted := false

	observer.GoingToStart()
	for {
		for !exhausted && len(idle) > 0 {
			var task M
			ok := false
			if ctx.Err() == nil {
				task, ok = next()
			}
			if !ok {
				exhausted = true
				observer.Draining(nInFlight)
				break
			}
			id := idle[len(idle)-1]
			idle = idle[:len(idle)-1]
			if err := p.send(id, task); err != nil {
				return responses, err
			}
			index := len(responses)
			var zero R
			responses = append(responses, zero)
			inFlight[id] = index
			nInFlight++
			metrics.PoolTasks.WithLabelValues("sent").Inc()
			observer.Sent(index, id)
		}
		if nInFlight == 0 {
			break
		}
		r, err := p.receive()
		if err != nil {
			return responses, err
		}
		id := r.WorkerID()
		if id < 0 || id >= p.Size() || inFlight[id] < 0 {
			return responses, fmt.Errorf("unexpected response from idle worker %d", id)
		}
		index := inFlight[id]
		responses[index] = r
		inFlight[id] = -1
		nInFlight--
		idle = append(idle, id)
		metrics.PoolTasks.WithLabelValues("received").Inc()
		observer.Received(index, r)
	}
	if err := ctx.Err(); err != nil {
		return responses, err
	}
	observer.Completed()
	return responses, nil
}

// Close sends the shutdown message to every worker and waits for all of
// them. Workers that cannot be reached or that crashed are logged and
// reported in the joined error; the remaining workers are still shut
// down. Close is idempotent.
func (p *Pool[M, R]) Close() error {
	p.close.Do(func() {
		var errs []error
		for id := range p.inboxes {
			if err := p.send(id, p.shutdown); err != nil {
				p.logger.Warn("could not reach worker for shutdown", "worker", id, "error", err)
			}
		}
		for id, done := range p.done {
			<-done
			if crash := p.crashes[id]; crash != nil {
				p.logger.Error("worker crashed", "worker", id, "error", crash)
				errs = append(errs, crash)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
