package pools

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task represents a unit of work
type Task func()

// WorkerPool runs tasks on a fixed set of goroutines fed by one bounded
// queue. Submit never blocks: a full queue is reported to the caller, which
// is expected to shed the work.
type WorkerPool struct {
	numWorkers int
	tasks      chan Task
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksRejected  atomic.Uint64
		busy           atomic.Int64
	}
}

// NewWorkerPool creates a pool of numWorkers goroutines with a queue of
// queueSize pending tasks
func NewWorkerPool(numWorkers, queueSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueSize < 0 {
		queueSize = 0
	}

	pool := &WorkerPool{
		numWorkers: numWorkers,
		tasks:      make(chan Task, queueSize),
	}

	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.run()
	}

	return pool
}

// Submit enqueues task. It returns false if the queue is full or the pool
// is closed; the task is not run in that case.
func (p *WorkerPool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.stats.tasksRejected.Add(1)
		return false
	}

	select {
	case p.tasks <- task:
		p.stats.tasksSubmitted.Add(1)
		return true
	default:
		p.stats.tasksRejected.Add(1)
		return false
	}
}

func (p *WorkerPool) run() {
	defer p.wg.Done()

	for task := range p.tasks {
		p.stats.busy.Add(1)
		task()
		p.stats.busy.Add(-1)
		p.stats.tasksCompleted.Add(1)
	}
}

// Close stops accepting tasks, lets queued tasks finish and waits for the
// workers to exit
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	submitted := p.stats.tasksSubmitted.Load()
	completed := p.stats.tasksCompleted.Load()
	var pending uint64
	if submitted > completed {
		pending = submitted - completed
	}
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: submitted,
		TasksCompleted: completed,
		TasksRejected:  p.stats.tasksRejected.Load(),
		TasksPending:   pending,
		Busy:           int(p.stats.busy.Load()),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksRejected  uint64
	TasksPending   uint64
	Busy           int
}
