// Package pool runs fire-and-forget tasks with a bounded concurrency.
package pool

import "sync"

// Pool executes scheduled tasks on background goroutines while at most n of
// them run at once.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

// New builds a pool allowing n concurrent tasks. Values below 1 are clamped
// to 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}

	return &Pool{slots: make(chan struct{}, n)}
}

// Schedule queues task for execution and returns immediately. The spawned
// goroutine waits for a free slot, so callers are never blocked by a full
// pool.
func (p *Pool) Schedule(task func()) {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		p.slots <- struct{}{}
		defer func() { <-p.slots }()

		task()
	}()
}

// Quiesce blocks until every scheduled task has finished. New tasks may
// still be scheduled afterwards.
func (p *Pool) Quiesce() {
	p.wg.Wait()
}

// Cap returns the concurrency limit.
func (p *Pool) Cap() int {
	return cap(p.slots)
}
