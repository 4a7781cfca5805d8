package pool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocasa/internal/logging"
)

type message struct {
	shutdown bool
	value    int
	panic    bool
}

type response struct {
	worker int
	value  int
}

func (r response) WorkerID() int { return r.worker }

func squarer(id int, inbox <-chan message, send func(response)) {
	for m := range inbox {
		if m.shutdown {
			return
		}
		if m.panic {
			panic("boom")
		}
		// uneven work so responses arrive out of order
		time.Sleep(time.Duration((m.value*7+id)%3) * time.Millisecond)
		send(response{worker: id, value: m.value * m.value})
	}
}

func newPool(t *testing.T, n int) *Pool[message, response] {
	t.Helper()
	p := New(n, message{shutdown: true}, logging.Discard(), squarer)
	return p
}

type recordingObserver struct {
	starts, completes, drains int
	sent, received            []int
}

func (o *recordingObserver) GoingToStart()                 { o.starts++ }
func (o *recordingObserver) Sent(task, _ int)              { o.sent = append(o.sent, task) }
func (o *recordingObserver) Received(task int, _ response) { o.received = append(o.received, task) }
func (o *recordingObserver) Draining(int)                  { o.drains++ }
func (o *recordingObserver) Completed()                    { o.completes++ }

func tasks(n int) iter.Seq[message] {
	return func(yield func(message) bool) {
		for i := 0; i < n; i++ {
			if !yield(message{value: i}) {
				return
			}
		}
	}
}

func TestTaskQueue_KeepsTaskOrder(t *testing.T) {
	for _, nWorkers := range []int{1, 2, 3, 8} {
		for _, nTasks := range []int{0, 1, 5, 40} {
			t.Run(fmt.Sprintf("%d workers %d tasks", nWorkers, nTasks), func(t *testing.T) {
				p := newPool(t, nWorkers)
				defer p.Close()

				observer := &recordingObserver{}
				results, err := p.TaskQueue(context.Background(), tasks(nTasks), observer)
				require.NoError(t, err)
				require.Len(t, results, nTasks)
				for i, r := range results {
					assert.Equal(t, i*i, r.value, "task %d", i)
				}
				assert.Equal(t, 1, observer.starts)
				assert.Equal(t, 1, observer.completes)
				assert.Equal(t, 1, observer.drains)
				assert.Len(t, observer.sent, nTasks)
				slices.Sort(observer.received)
				assert.Equal(t, observer.sent, observer.received)
			})
		}
	}
}

func TestTaskQueue_NilObserver(t *testing.T) {
	p := newPool(t, 2)
	defer p.Close()
	results, err := p.TaskQueue(context.Background(), tasks(3), nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestTaskQueue_Cancelled(t *testing.T) {
	p := newPool(t, 2)
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	observer := &recordingObserver{}
	results, err := p.TaskQueue(ctx, tasks(10), observer)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Equal(t, 0, observer.completes)
}

func TestBroadcastCollect_IndexedByWorker(t *testing.T) {
	p := newPool(t, 4)
	defer p.Close()
	for round := 0; round < 3; round++ {
		responses, err := p.BroadcastCollect(message{value: round + 2})
		require.NoError(t, err)
		require.Len(t, responses, 4)
		for id, r := range responses {
			assert.Equal(t, id, r.worker)
			assert.Equal(t, (round+2)*(round+2), r.value)
		}
	}
}

func TestCrashIsReported(t *testing.T) {
	p := newPool(t, 3)
	_, err := p.BroadcastCollect(message{panic: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWorkerGone))
	assert.Contains(t, err.Error(), "boom")

	closeErr := p.Close()
	require.Error(t, closeErr)
	assert.Contains(t, closeErr.Error(), "panicked")
	// idempotent
	assert.Equal(t, closeErr, p.Close())
}

func TestSendToExitedWorker(t *testing.T) {
	p := newPool(t, 2)
	require.NoError(t, p.Close())
	err := p.Broadcast(message{value: 1})
	assert.True(t, errors.Is(err, ErrWorkerGone))
}

func TestDefaultSize(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultSize(), MinWorkers)
}
