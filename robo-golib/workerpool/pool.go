package workerpool

import (
	"context"
	"sync"
)

// Job is a unit of work to run on the pool.
type Job func() error

// Pool runs jobs on a fixed number of goroutines.
type Pool struct {
	jobs chan Job
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	errM sync.Mutex
	errs []error
}

// New creates a pool with numWorkers goroutines ready to accept jobs.
func New(numWorkers int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		jobs:   make(chan Job),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < numWorkers; i++ {
		go p.work()
	}

	return p
}

// Add the provided jobs to the pool. Blocks until all jobs have been handed to a worker
// or the pool has been stopped.
func (p *Pool) Add(jobs []Job) {
	p.wg.Add(len(jobs))
	for _, job := range jobs {
		select {
		case p.jobs <- job:
		case <-p.ctx.Done():
			p.wg.Done()
		}
	}
}

// Wait blocks until all added jobs have completed, then returns the first job error, if any.
func (p *Pool) Wait() error {
	p.wg.Wait()

	p.errM.Lock()
	defer p.errM.Unlock()
	if len(p.errs) > 0 {
		return p.errs[0]
	}
	return nil
}

// Stop prevents any queued but unstarted jobs from running. In-flight jobs run to completion.
func (p *Pool) Stop() {
	p.cancel()
}

func (p *Pool) work() {
	for {
		select {
		case job := <-p.jobs:
			if err := job(); err != nil {
				p.errM.Lock()
				p.errs = append(p.errs, err)
				p.errM.Unlock()
			}
			p.wg.Done()
		case <-p.ctx.Done():
			return
		}
	}
}
