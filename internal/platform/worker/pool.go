// Package worker provides a small worker pool for concurrent resource loads.
package worker

import (
	"context"
	"encoding/json"
	"sync"
)

// Job represents one resource load to be executed by a worker.
type Job struct {
	// ID identifies the job in results (typically the resource URL)
	ID string
	// Execute performs the load and returns the parsed payload
	Execute func(ctx context.Context) (json.RawMessage, error)
}

// Result represents the outcome of a job execution.
type Result struct {
	// JobID is the ID of the job that produced this result
	JobID string
	// Payload is the loaded data (nil on error)
	Payload json.RawMessage
	// Err is the error from the load (nil on success)
	Err error
}

// Pool maintains a fixed number of worker goroutines pulling jobs from
// a queue.
type Pool struct {
	workers  int
	jobQueue chan Job
	results  chan Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewPool creates a pool with the given number of workers and queue
// buffer size. Workers start immediately.
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		results:  make(chan Result, queueSize),
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			payload, err := job.Execute(p.ctx)
			select {
			case p.results <- Result{JobID: job.ID, Payload: payload, Err: err}:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit adds a job to the queue, blocking while the queue is full.
// Returns an error if the pool context is cancelled.
func (p *Pool) Submit(job Job) error {
	if p.ctx.Err() != nil {
		return p.ctx.Err()
	}
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		return nil
	}
}

// SubmitAndWait submits all jobs and collects their results.
// Results arrive in completion order, not submission order.
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	done := make(chan struct{})
	results := make([]Result, 0, len(jobs))

	// Collect concurrently so submission never deadlocks against full
	// result buffers.
	go func() {
		defer close(done)
		for i := 0; i < len(jobs); i++ {
			select {
			case <-p.ctx.Done():
				return
			case result := <-p.results:
				results = append(results, result)
			}
		}
	}()

	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			break
		}
	}

	<-done
	return results
}

// Results returns the channel job outcomes are delivered on
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs and waits for workers to finish
func (p *Pool) Close() {
	p.cancel()
	close(p.jobQueue)
	p.wg.Wait()
	close(p.results)
}
