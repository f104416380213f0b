package pending

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned by Enqueue after the queue has been settled.
	ErrClosed = errors.New("pending queue closed")
	// ErrFull is returned by Enqueue when the queue is at capacity.
	ErrFull = errors.New("pending queue full")
	// ErrTimeout is delivered to a record abandoned by [Record.Wait].
	ErrTimeout = errors.New("pending request timed out")
)

// ReplayFunc re-executes a held request with the given access token.
type ReplayFunc func(ctx context.Context, token string) (*http.Response, error)

// Outcome is the resolution of a [Record].
type Outcome struct {
	Response *http.Response
	Err      error
	// Rejected is true when the record was never replayed.
	Rejected bool
}

const (
	stateWaiting int32 = iota
	stateClaimed
	stateAbandoned
)

// Record is one held request.
type Record struct {
	ID       string
	QueuedAt time.Time

	ctx    context.Context
	replay ReplayFunc
	state  atomic.Int32
	result chan Outcome
}

// NewRecord returns a waiting record. ctx bounds both the wait and the replay.
func NewRecord(ctx context.Context, replay ReplayFunc) *Record {
	return &Record{
		ID:       uuid.NewString(),
		QueuedAt: time.Now(),
		ctx:      ctx,
		replay:   replay,
		result:   make(chan Outcome, 1),
	}
}

func (r *Record) claim() bool {
	return r.state.CompareAndSwap(stateWaiting, stateClaimed)
}

func (r *Record) deliver(o Outcome) {
	r.result <- o
}

// Wait blocks until the record is resolved. When timeout elapses or the record context ends
// while the record is still waiting, the record is abandoned and a rejected outcome carrying
// [ErrTimeout] or the context error is returned. A record already claimed for replay is always
// waited for. A timeout of zero disables the timer.
func (r *Record) Wait(timeout time.Duration) Outcome {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var cause error
	select {
	case o := <-r.result:
		return o
	case <-timer:
		cause = ErrTimeout
	case <-r.ctx.Done():
		cause = r.ctx.Err()
	}

	if r.state.CompareAndSwap(stateWaiting, stateAbandoned) {
		return Outcome{Err: cause, Rejected: true}
	}
	return <-r.result
}

// Queue collects records for one refresh flight. It is settled exactly once by Resolve or
// Reject; after that Enqueue fails with [ErrClosed].
type Queue struct {
	mu          sync.Mutex
	records     []*Record
	closed      bool
	maxQueued   int
	concurrency int
}

// NewQueue returns an open queue. maxQueued <= 0 means unbounded; concurrency <= 0 replays
// every record at once.
func NewQueue(maxQueued, concurrency int) *Queue {
	return &Queue{maxQueued: maxQueued, concurrency: concurrency}
}

// Enqueue adds r to the queue.
func (q *Queue) Enqueue(r *Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.maxQueued > 0 && len(q.records) >= q.maxQueued {
		q.pruneLocked()
		if len(q.records) >= q.maxQueued {
			return ErrFull
		}
	}
	q.records = append(q.records, r)
	return nil
}

// Len returns the number of records still waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, r := range q.records {
		if r.state.Load() == stateWaiting {
			n++
		}
	}
	return n
}

func (q *Queue) pruneLocked() {
	kept := q.records[:0]
	for _, r := range q.records {
		if r.state.Load() == stateWaiting {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(q.records); i++ {
		q.records[i] = nil
	}
	q.records = kept
}

func (q *Queue) drain() []*Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	out := q.records
	q.records = nil
	return out
}

// Resolve closes the queue and replays every waiting record with token, in order of arrival
// and bounded by the configured concurrency. It returns once every replay has delivered its
// outcome, reporting how many records were replayed.
func (q *Queue) Resolve(token string) int {
	records := q.drain()

	var g errgroup.Group
	if q.concurrency > 0 {
		g.SetLimit(q.concurrency)
	}

	replayed := 0
	for _, r := range records {
		if !r.claim() {
			continue
		}
		replayed++
		g.Go(func() error {
			resp, err := r.replay(r.ctx, token)
			r.deliver(Outcome{Response: resp, Err: err})
			return nil
		})
	}
	_ = g.Wait()
	return replayed
}

// Reject closes the queue and fails every waiting record with err. It reports how many
// records were rejected.
func (q *Queue) Reject(err error) int {
	records := q.drain()

	rejected := 0
	for _, r := range records {
		if !r.claim() {
			continue
		}
		rejected++
		r.deliver(Outcome{Err: err, Rejected: true})
	}
	return rejected
}
