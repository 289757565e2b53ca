package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Bigbrotr/bigbrotr/internal/nostr"
	"github.com/Bigbrotr/bigbrotr/internal/relay"
	"github.com/Bigbrotr/bigbrotr/internal/window"
	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

// Task is one relay assignment for the current cycle: sync [Since, Until)
// against Endpoint. At most one task per endpoint exists per cycle.
type Task struct {
	Endpoint relay.Endpoint
	Since    int64 // cursor at cycle start
	Until    int64 // now at cycle start
}

// Result is the outcome of one task, streamed to the persistence path as
// tasks finish.
type Result struct {
	Task      Task
	Events    []nostr.Event
	Truncated []window.Span
	Fetches   int
	Err       error
}

// Runner executes one task end to end (open session, traverse windows).
// Implementations apply the endpoint's total deadline themselves.
type Runner func(ctx context.Context, t Task) Result

// Dispatcher distributes tasks across execution units.
type Dispatcher struct {
	Workers        int           // P
	TasksPerWorker int           // M
	StaggerMax     time.Duration // per-task startup jitter bound
	Limiter        *rate.Limiter // shared dial-rate limiter, may be nil
	QueueSize      int           // bounded result queue
	Logger         log.Logger
}

// Run executes all tasks and returns the result stream. The channel is
// closed once every task has either completed or been abandoned to context
// cancellation. Consumers must drain it.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task, run Runner) <-chan Result {
	out := make(chan Result, d.QueueSize)
	go func() {
		defer close(out)

		var (
			mu      sync.Mutex
			requeue []Task
		)
		var wg sync.WaitGroup
		for _, unitTasks := range partition(tasks, d.Workers) {
			if len(unitTasks) == 0 {
				continue
			}
			wg.Add(1)
			go func(assigned []Task) {
				defer wg.Done()
				d.runUnit(ctx, assigned, run, out, func(t Task) {
					mu.Lock()
					requeue = append(requeue, t)
					mu.Unlock()
				})
			}(unitTasks)
		}
		wg.Wait()

		// Final sequential pass over crashed assignments. Re-fetching an
		// already-fetched range is tolerated: storage is idempotent.
		for _, t := range requeue {
			if ctx.Err() != nil {
				return
			}
			d.Logger.Warn("requeueing crashed task", log.Str("relay", t.Endpoint.URL))
			res, panicked := d.attempt(ctx, t, run)
			if panicked {
				res = Result{Task: t, Err: fmt.Errorf("task for %s crashed twice", t.Endpoint.URL)}
			}
			if !emit(ctx, out, res) {
				return
			}
		}
	}()
	return out
}

// runUnit drains one unit's assignment list with at most M tasks in flight.
func (d *Dispatcher) runUnit(ctx context.Context, assigned []Task, run Runner, out chan<- Result, crashed func(Task)) {
	m := d.TasksPerWorker
	if m < 1 {
		m = 1
	}
	sem := make(chan struct{}, m)
	var wg sync.WaitGroup
	for _, t := range assigned {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer func() { <-sem }()
			res, panicked := d.attempt(ctx, t, run)
			if panicked {
				crashed(t)
				return
			}
			emit(ctx, out, res)
		}(t)
	}
	wg.Wait()
}

// attempt runs one task behind the stagger and rate limiter, converting a
// panic into a requeue signal instead of taking the unit down.
func (d *Dispatcher) attempt(ctx context.Context, t Task, run Runner) (res Result, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Error("task crashed",
				log.Str("relay", t.Endpoint.URL),
				log.Str("panic", fmt.Sprint(r)))
			panicked = true
		}
	}()

	if d.StaggerMax > 0 {
		jitter := time.Duration(rand.Int63n(int64(d.StaggerMax)))
		select {
		case <-ctx.Done():
			return Result{Task: t, Err: ctx.Err()}, false
		case <-time.After(jitter):
		}
	}
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return Result{Task: t, Err: err}, false
		}
	}
	return run(ctx, t), false
}

// emit blocks on the bounded queue for backpressure; cancellation unblocks.
func emit(ctx context.Context, out chan<- Result, res Result) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// partition spreads tasks round-robin across n units.
func partition(tasks []Task, n int) [][]Task {
	if n < 1 {
		n = 1
	}
	units := make([][]Task, n)
	for i, t := range tasks {
		units[i%n] = append(units[i%n], t)
	}
	return units
}
