// Package utils holds small supervised-concurrency helpers shared across
// the process. WorkerPool is adapted from the teacher's internal/worker.go
// (package server), moved to the import path the teacher's own
// internal/net/server.go already referenced (fenrir/internal/utils) but
// never actually placed a file under.
package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// TaskChanSize bounds the number of queued connection-handling tasks
// waiting for a free worker.
const TaskChanSize = 100

// WorkerFunction is the unit of work a pool worker repeatedly invokes.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool runs up to n concurrent instances of a WorkerFunction,
// pulling tasks off a bounded channel, supervised by a tomb.Tomb so the
// whole pool drains cleanly on shutdown.
type WorkerPool struct {
	n     int
	tasks chan any
}

// NewWorkerPool constructs a pool sized for up to size concurrent workers.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, TaskChanSize),
		n:     size,
	}
}

// AddTask enqueues a task for the next available worker.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup keeps the pool topped up to n active workers until t starts
// dying, at which point no further workers are spawned and callers
// should rely on the tomb to wait out the ones already running.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("activeWorkers", pool.n).Msg("worker pool: adding workers")
	activeWorkers := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if activeWorkers < pool.n {
				t.Go(func() error {
					err := pool.worker(t, work)
					activeWorkers--
					return err
				})
				activeWorkers++
			}
		}
	}
}

// worker waits on one task, runs work, then exits; Setup respawns
// replacement workers to keep the pool full.
func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-pool.tasks:
		if err := work(t, task); err != nil {
			log.Error().Err(err).Msg("worker pool: worker exiting with error")
			return err
		}
	}
	return nil
}
