package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrQueueClosed = errors.New("ingestion queue is stopped")

const maxIngestBackoff = 2 * time.Minute

type IngestJob struct {
	InvoiceId string
	TraceId   string
	Attempt   int
}

// ProcessFunc handles one job attempt.
type ProcessFunc func(ctx context.Context, invoiceId string) error

// AttemptFunc observes the end of an attempt. final is set when the job will
// not be retried.
type AttemptFunc func(ctx context.Context, job IngestJob, err error, final bool)

// IngestQueue runs ingestion jobs on a fixed pool of workers fed by a
// buffered channel. Failed jobs are retried with exponential backoff up to
// MaxAttempts.
type IngestQueue struct {
	Process     ProcessFunc
	OnAttempt   AttemptFunc
	Logger      *logrus.Logger
	Workers     int
	MaxAttempts int
	Backoff     time.Duration

	jobs    chan IngestJob
	mu      sync.Mutex
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	retries sync.WaitGroup
}

func NewIngestQueue(process ProcessFunc, workers, queueSize, maxAttempts int, logger *logrus.Logger) *IngestQueue {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestQueue{
		Process:     process,
		Logger:      logger,
		Workers:     workers,
		MaxAttempts: maxAttempts,
		Backoff:     2 * time.Second,
		jobs:        make(chan IngestJob, queueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Submit enqueues without blocking. A full buffer returns ErrQueueFull.
func (q *IngestQueue) Submit(job IngestJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *IngestQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop cancels pending retries and waits for running jobs to finish. Jobs
// still buffered are dropped; their invoices stay in processing.
func (q *IngestQueue) Stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
	q.retries.Wait()
}

// Len is the number of buffered jobs.
func (q *IngestQueue) Len() int {
	return len(q.jobs)
}

func (q *IngestQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.run(job)
		}
	}
}

func (q *IngestQueue) run(job IngestJob) {
	ctx := context.WithoutCancel(q.ctx)
	err := q.safeProcess(ctx, job)
	final := err == nil || isPermanent(err) || job.Attempt >= q.MaxAttempts
	if q.OnAttempt != nil {
		q.OnAttempt(ctx, job, err, final)
	}
	if err == nil {
		return
	}
	if q.Logger != nil {
		q.Logger.WithFields(logrus.Fields{
			"field":      "IngestQueue",
			"invoice_id": job.InvoiceId,
			"trace_id":   job.TraceId,
			"attempt":    job.Attempt,
			"final":      final,
		}).Error("ingest attempt failed: " + err.Error())
	}
	if !final {
		q.retry(job)
	}
}

func (q *IngestQueue) safeProcess(ctx context.Context, job IngestJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("ingest panic")
			if q.Logger != nil {
				q.Logger.WithField("invoice_id", job.InvoiceId).Errorf("ingest panic: %v", r)
			}
		}
	}()
	return q.Process(ctx, job.InvoiceId)
}

// IngestBackoff is the wait before the given retry attempt: base doubled
// per earlier attempt, capped at two minutes.
func IngestBackoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 2; i < attempt; i++ {
		d *= 2
		if d > maxIngestBackoff {
			return maxIngestBackoff
		}
	}
	return d
}

func (q *IngestQueue) retry(job IngestJob) {
	next := job
	next.Attempt++
	q.retries.Add(1)
	go func() {
		defer q.retries.Done()
		select {
		case <-q.ctx.Done():
			return
		case <-time.After(IngestBackoff(q.Backoff, next.Attempt)):
		}
		if err := q.Submit(next); err != nil && q.OnAttempt != nil {
			q.OnAttempt(context.WithoutCancel(q.ctx), next, err, true)
		}
	}()
}
