// Package bridge lets strictly synchronous callers drive the agent's
// blocking pipeline without deadlocking when the calling goroutine already
// hosts a scheduler (the isolated I/O loop or one of the bridge's own
// workers). Scheduler-hosting goroutines register themselves; RunAsync
// probes that registry and picks the safe execution path.
package bridge

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/petermattis/goid"
)

// ErrTimeout is returned when a bridged task does not finish in time. The
// task itself keeps running on its worker; callers must not assume
// cancellation.
var ErrTimeout = errors.New("bridge: operation timed out")

var (
	activeMu sync.Mutex
	active   = make(map[int64]struct{})
)

// Enter marks the current goroutine as hosting a scheduler. Paired with
// Leave, typically via defer.
func Enter() {
	id := goid.Get()
	activeMu.Lock()
	active[id] = struct{}{}
	activeMu.Unlock()
}

// Leave clears the current goroutine's scheduler mark.
func Leave() {
	id := goid.Get()
	activeMu.Lock()
	delete(active, id)
	activeMu.Unlock()
}

// Active reports whether the calling goroutine currently hosts a scheduler.
func Active() bool {
	id := goid.Get()
	activeMu.Lock()
	_, ok := active[id]
	activeMu.Unlock()
	return ok
}

// Task is one unit of work handed to the bridge.
type Task func() (any, error)

type job struct {
	fn  Task
	out chan outcome
}

type outcome struct {
	value any
	err   error
}

// Runner executes tasks for synchronous callers. Callers with no scheduler
// on their goroutine run the task inline; callers inside a scheduler hand
// the task to a small dedicated worker pool instead, each worker being an
// independent scheduler host.
type Runner struct {
	workers int
	once    sync.Once
	jobs    chan job
}

// NewRunner creates a Runner with the given worker-pool size. The pool is
// started lazily on first conflicted call.
func NewRunner(workers int) *Runner {
	if workers <= 0 {
		workers = 2
	}
	return &Runner{workers: workers}
}

func (r *Runner) start() {
	r.once.Do(func() {
		r.jobs = make(chan job)
		for i := 0; i < r.workers; i++ {
			go r.worker()
		}
	})
}

func (r *Runner) worker() {
	Enter()
	defer Leave()
	for j := range r.jobs {
		v, err := runGuarded(j.fn)
		j.out <- outcome{value: v, err: err}
	}
}

func runGuarded(fn Task) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("bridge: task panic")
			log.Printf("[bridge] task panic: %v", rec)
		}
	}()
	return fn()
}

// RunAsync runs fn and returns its result, choosing the execution path by
// probing the calling goroutine: no scheduler active means the task runs
// inline to completion; an active scheduler means the task is shipped to a
// pool worker and the caller blocks on its result up to timeout.
func (r *Runner) RunAsync(fn Task, timeout time.Duration) (any, error) {
	if !Active() {
		return runGuarded(fn)
	}

	log.Printf("[bridge] scheduler active on caller, dispatching to worker pool")
	r.start()

	out := make(chan outcome, 1)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r.jobs <- job{fn: fn, out: out}:
	case <-timer.C:
		return nil, ErrTimeout
	}

	select {
	case res := <-out:
		return res.value, res.err
	case <-timer.C:
		return nil, ErrTimeout
	}
}
