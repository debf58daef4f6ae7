package executor

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFinished is returned by JoinWithTimeout when work is still pending.
	ErrNotFinished = errors.New("queue not finished")
	// ErrClosed is returned when putting into a closed queue.
	ErrClosed = errors.New("queue closed")
)

// Queue is a FIFO of jobs that counts unfinished work: a job is unfinished
// from Put until the worker that took it calls TaskDone.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	capacity   int
	items      []*Job
	unfinished int
	closed     bool
}

// NewQueue creates a queue holding at most capacity waiting jobs. A
// capacity of zero or less means unbounded.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends j, blocking while the queue is full. It gives up when ctx is
// done.
func (q *Queue) Put(ctx context.Context, j *Job) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.capacity > 0 && len(q.items) >= q.capacity && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, j)
	q.unfinished++
	q.cond.Broadcast()
	return nil
}

// Get blocks until a job is available. It returns false once the queue is
// closed and empty.
func (q *Queue) Get() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	j := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.cond.Broadcast()
	return j, true
}

// TaskDone marks a job taken with Get as processed.
func (q *Queue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished > 0 {
		q.unfinished--
	}
	if q.unfinished == 0 {
		q.cond.Broadcast()
	}
}

// Len is the number of jobs not yet taken by a worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Unfinished is the number of jobs put but not yet marked done.
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// JoinWithTimeout waits until every job put so far is done, or d elapses.
func (q *Queue) JoinWithTimeout(d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	timedOut := false
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		timedOut = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	for q.unfinished > 0 {
		if timedOut {
			return ErrNotFinished
		}
		q.cond.Wait()
	}
	return nil
}

// Close wakes idle workers so they can exit once the queue drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
