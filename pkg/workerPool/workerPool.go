// Package workerPool runs short CPU bound jobs on a fixed set of goroutines.
// Jobs are grouped in rooms; a room collects the results of its own jobs.
package workerPool

import (
	"runtime"
	"sync"
)

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

type WorkerPool struct {
	config    Config
	taskQueue chan func()
	closeOnce sync.Once
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}
	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	for task := range wp.taskQueue {
		task()
	}
}

// Close stops the workers once the queued tasks are done. Rooms must not be
// used afterwards.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() { close(wp.taskQueue) })
}

// Room collects the results of a group of jobs in submission order.
type Room[T any] struct {
	wp      *WorkerPool
	wg      sync.WaitGroup
	mu      sync.Mutex
	results []T
	err     error
}

func NewRoom[T any](wp *WorkerPool, size int) *Room[T] {
	return &Room[T]{wp: wp, results: make([]T, 0, size)}
}

// NewTask queues job and blocks while the global buffer is full.
func (ro *Room[T]) NewTask(job func() (T, error)) {
	ro.mu.Lock()
	index := len(ro.results)
	var zero T
	ro.results = append(ro.results, zero)
	ro.mu.Unlock()

	ro.wg.Add(1)
	ro.wp.taskQueue <- func() {
		defer ro.wg.Done()
		result, err := job()

		ro.mu.Lock()
		defer ro.mu.Unlock()
		ro.results[index] = result
		if err != nil && ro.err == nil {
			ro.err = err
		}
	}
}

// Collect waits for all jobs of the room and returns their results. The error
// is the first one a job returned.
func (ro *Room[T]) Collect() ([]T, error) {
	ro.wg.Wait()

	ro.mu.Lock()
	defer ro.mu.Unlock()
	return ro.results, ro.err
}
