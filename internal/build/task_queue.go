package build

import (
	"context"
	"sync"
)

// CompilationJob is one package that missed the cache.
type CompilationJob struct {
	Pkg     string
	LibPath string
}

// JobQueue is a bounded FIFO of compilation jobs shared by the workers.
// Enqueue blocks while the queue is full, which throttles the producer to
// the pace of the workers.
type JobQueue struct {
	jobs   chan CompilationJob
	mu     sync.Mutex
	closed bool
}

// NewJobQueue creates a queue holding at most capacity pending jobs.
func NewJobQueue(capacity int) *JobQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &JobQueue{jobs: make(chan CompilationJob, capacity)}
}

// Enqueue adds a job, waiting for room until ctx is done.
func (q *JobQueue) Enqueue(ctx context.Context, job CompilationJob) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs returns the channel workers receive from. It is closed by Close.
func (q *JobQueue) Jobs() <-chan CompilationJob {
	return q.jobs
}

// Close stops accepting jobs. Queued jobs remain receivable. Only the
// producer may call Close.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// Len returns the number of pending jobs.
func (q *JobQueue) Len() int {
	return len(q.jobs)
}

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = &QueueError{Code: "QUEUE_CLOSED", Message: "job queue has been closed"}

// QueueError represents an error in queue operations.
type QueueError struct {
	Code    string
	Message string
}

func (qe *QueueError) Error() string {
	return qe.Message
}
