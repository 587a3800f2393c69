// Package queue schedules page-fetch jobs with bounded concurrency and a
// politeness delay between requests.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrStopped is returned by Enqueue once the queue has been stopped.
var ErrStopped = errors.New("queue stopped")

// Job is one unit of deferred work. It receives the context passed to Run.
type Job func(ctx context.Context)

// Options configures a Queue.
type Options struct {
	// Concurrency caps jobs in flight. Values below 1 mean 1.
	Concurrency int
	// Delay paces job starts. A single-flight queue waits Delay after the
	// previous job finishes; wider queues space starts Delay apart. Zero
	// disables pacing.
	Delay time.Duration
}

// Queue is a FIFO job scheduler. Enqueue never blocks; Run drains the queue.
type Queue struct {
	mu       sync.Mutex
	pending  []Job
	inFlight int
	stopped  bool
	lastDone time.Time

	serial bool
	delay  time.Duration

	wake    chan struct{}
	slots   chan struct{}
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// New builds a Queue.
func New(opts Options) *Queue {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	q := &Queue{
		wake:   make(chan struct{}, 1),
		slots:  make(chan struct{}, opts.Concurrency),
		serial: opts.Concurrency == 1,
		delay:  opts.Delay,
	}
	if opts.Delay > 0 && !q.serial {
		q.limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}
	return q
}

// Enqueue appends job to the tail of the queue.
func (q *Queue) Enqueue(job Job) error {
	if job == nil {
		return errors.New("queue: nil job")
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Stop discards pending jobs and makes Run return once in-flight jobs finish.
// In-flight jobs are not interrupted.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.pending = nil
	q.mu.Unlock()
	q.signal()
}

// Len reports the number of jobs waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight reports the number of running jobs.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Run executes jobs in FIFO order until the queue is stopped or ctx ends. It
// waits for in-flight jobs before returning. A stopped queue returns nil.
func (q *Queue) Run(ctx context.Context) error {
	defer q.wg.Wait()

	for {
		if err := q.waitForWork(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}

		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := q.pace(ctx); err != nil {
			<-q.slots
			return err
		}

		job, ok := q.pop()
		if !ok {
			<-q.slots
			continue
		}
		q.wg.Add(1)
		go q.execute(ctx, job)
	}
}

func (q *Queue) execute(ctx context.Context, job Job) {
	defer func() {
		q.mu.Lock()
		q.inFlight--
		q.lastDone = time.Now()
		q.mu.Unlock()
		<-q.slots
		q.signal()
		q.wg.Done()
	}()
	job(ctx)
}

// pace blocks until the next job may start or ctx ends.
func (q *Queue) pace(ctx context.Context) error {
	if q.serial {
		if q.delay <= 0 {
			return nil
		}
		q.mu.Lock()
		last := q.lastDone
		q.mu.Unlock()
		if last.IsZero() {
			return nil
		}
		return sleep(ctx, time.Until(last.Add(q.delay)))
	}
	if q.limiter == nil {
		return nil
	}
	r := q.limiter.Reserve()
	if err := sleep(ctx, r.Delay()); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) waitForWork(ctx context.Context) error {
	for {
		q.mu.Lock()
		stopped, n := q.stopped, len(q.pending)
		q.mu.Unlock()
		if stopped {
			return ErrStopped
		}
		if n > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || len(q.pending) == 0 {
		return nil, false
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.inFlight++
	return job, true
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
