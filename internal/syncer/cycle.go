package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/Bigbrotr/bigbrotr/internal/dispatch"
	"github.com/Bigbrotr/bigbrotr/internal/relay"
	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

// runCycle executes one full pass: select, dispatch, collect/persist, save.
func (e *Engine) runCycle(ctx context.Context) error {
	started := e.now()
	stats := CycleStats{StartedAt: started}
	defer func() {
		stats.Duration = e.now().Sub(started)
		e.setStats(stats)
	}()

	// State is loaded fresh each cycle so an external reset takes effect at
	// the next cycle boundary.
	persisted, err := e.writer.LoadState(ctx, ServiceName)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	e.cursors.Load(persisted)

	e.setPhase(PhaseSelecting)
	eligible, err := e.sel.ListEligible(ctx, e.cfg.Staleness)
	if err != nil {
		return fmt.Errorf("list eligible relays: %w", err)
	}

	cycleNow := e.now().Unix()
	tasks := e.buildTasks(ctx, eligible, cycleNow)
	stats.Selected = len(tasks)
	e.logger.Info("cycle started",
		log.Int("eligible", len(eligible)),
		log.Int("selected", len(tasks)))

	e.setPhase(PhaseDispatching)
	taskCtx, cancel := e.graceContext(ctx)
	defer cancel()

	results := e.disp.Run(taskCtx, tasks, e.runTask)

	// Persistence must outlive parent cancellation: a task that finishes
	// inside the grace window still gets its events committed and its cursor
	// advanced. Each result gets a bounded write budget instead.
	e.setPhase(PhaseCollecting)
	persistCtx := context.WithoutCancel(ctx)
	for res := range results {
		wctx, wcancel := context.WithTimeout(persistCtx, e.cfg.ShutdownGrace)
		e.persistResult(wctx, res, cycleNow, &stats)
		wcancel()
	}

	e.setPhase(PhasePersisting)
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer saveCancel()
	if err := e.writer.SaveState(saveCtx, ServiceName, e.cursors.Snapshot()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	e.setPhase(PhaseStateSaved)
	e.logger.Info("cycle finished",
		log.Int("completed", stats.Completed),
		log.Int("failed", stats.Failed),
		log.Int("events", stats.EventsInserted),
		log.Dur("took", e.now().Sub(started)))
	return nil
}

// buildTasks dedups the candidate list, drops unreadable relays, and pins
// each task's window to the cycle's shared start instant. One task per
// endpoint per cycle.
func (e *Engine) buildTasks(ctx context.Context, eligible []relay.Endpoint, cycleNow int64) []dispatch.Task {
	seen := make(map[string]struct{}, len(eligible))
	tasks := make([]dispatch.Task, 0, len(eligible))
	for _, ep := range eligible {
		if _, dup := seen[ep.URL]; dup {
			continue
		}
		seen[ep.URL] = struct{}{}
		if e.prober != nil && !e.prober.Readable(ctx, ep) {
			continue
		}
		tasks = append(tasks, dispatch.Task{
			Endpoint: ep,
			Since:    e.cursors.Cursor(ep.URL),
			Until:    cycleNow,
		})
	}
	return tasks
}

// persistResult commits one task's window set. The cursor advances only when
// every leaf window landed durably; a floor-truncated window counts as
// complete by policy.
func (e *Engine) persistResult(ctx context.Context, res dispatch.Result, cycleNow int64, stats *CycleStats) {
	url := res.Task.Endpoint.URL
	if res.Err != nil {
		stats.Failed++
		e.logger.Warn("relay task failed", log.Str("relay", url), log.Err(res.Err))
		return
	}

	inserted, err := e.writer.InsertEvents(ctx, url, res.Events)
	if err != nil {
		stats.Failed++
		e.logger.Error("persist failed, cursor unchanged", log.Str("relay", url), log.Err(err))
		return
	}

	if e.meta != nil {
		if snap, ok := e.meta.Snapshot(ctx, res.Task.Endpoint); ok {
			if _, err := e.writer.InsertMetadata(ctx, snap); err != nil {
				e.logger.Warn("metadata persist failed", log.Str("relay", url), log.Err(err))
			}
		}
	}

	e.cursors.Commit(url, cycleNow)
	stats.Completed++
	stats.EventsInserted += inserted
	stats.Fetches += res.Fetches
	stats.Truncated += len(res.Truncated)
	e.logger.Debug("relay synced",
		log.Str("relay", url),
		log.Int("events", len(res.Events)),
		log.Int("inserted", inserted),
		log.Int("fetches", res.Fetches))
}

// graceContext returns a context that survives parent cancellation for the
// configured shutdown grace, so in-flight tasks can finish before being cut
// off. Cursors for tasks that miss the grace are simply not advanced.
func (e *Engine) graceContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.ShutdownGrace):
			cancel()
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
