package syncer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Bigbrotr/bigbrotr/internal/config"
	"github.com/Bigbrotr/bigbrotr/internal/dispatch"
	"github.com/Bigbrotr/bigbrotr/internal/nostr"
	"github.com/Bigbrotr/bigbrotr/internal/relay"
	"github.com/Bigbrotr/bigbrotr/internal/state"
	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

// ServiceName keys the persisted state blob.
const ServiceName = "bigbrotr-syncer"

// Selector supplies the candidate relay population. Discovery is an external
// collaborator; the engine only consumes this interface.
type Selector interface {
	ListEligible(ctx context.Context, staleness time.Duration) ([]relay.Endpoint, error)
}

// Prober answers whether a relay is currently worth contacting. Supplied by
// the external health-probing collaborator.
type Prober interface {
	Readable(ctx context.Context, ep relay.Endpoint) bool
}

// MetadataSource optionally yields the latest probe document for a relay so
// the cycle can archive it alongside events. May be nil.
type MetadataSource interface {
	Snapshot(ctx context.Context, ep relay.Endpoint) (nostr.MetadataSnapshot, bool)
}

// Writer is the persistence surface the engine drives. *store.Store
// satisfies it.
type Writer interface {
	InsertEvents(ctx context.Context, relayURL string, events []nostr.Event) (int, error)
	InsertMetadata(ctx context.Context, snap nostr.MetadataSnapshot) (string, error)
	LoadState(ctx context.Context, service string) (map[string]int64, error)
	SaveState(ctx context.Context, service string, cursors map[string]int64) error
}

// Phase is the orchestrator's observable state.
type Phase string

// Cycle phases
const (
	PhaseIdle         Phase = "IDLE"
	PhaseSelecting    Phase = "SELECTING"
	PhaseDispatching  Phase = "DISPATCHING"
	PhaseCollecting   Phase = "COLLECTING"
	PhasePersisting   Phase = "PERSISTING"
	PhaseStateSaved   Phase = "STATE_SAVED"
	PhaseWaiting      Phase = "WAITING"
	PhaseShuttingDown Phase = "SHUTTING_DOWN"
)

// CycleStats summarizes the most recent cycle for the ops endpoint.
type CycleStats struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Selected       int           `json:"selected"`
	Completed      int           `json:"completed"`
	Failed         int           `json:"failed"`
	EventsInserted int           `json:"events_inserted"`
	Truncated      int           `json:"truncated_windows"`
	Fetches        int           `json:"fetches"`
}

// Engine ties selector, dispatcher, sessions, and writer together once per
// interval. All collaborators are injected at construction.
type Engine struct {
	cfg     config.Config
	sel     Selector
	prober  Prober
	meta    MetadataSource
	dialer  relay.Dialer
	writer  Writer
	cursors *state.Cursors
	disp    *dispatch.Dispatcher
	logger  log.Logger

	mu    sync.Mutex
	phase Phase
	stats CycleStats

	now func() time.Time
}

// New builds an Engine. meta may be nil when no metadata source exists.
func New(cfg config.Config, sel Selector, prober Prober, meta MetadataSource, dialer relay.Dialer, writer Writer, logger log.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		sel:     sel,
		prober:  prober,
		meta:    meta,
		dialer:  dialer,
		writer:  writer,
		cursors: state.NewCursors(cfg.Lookback),
		disp: &dispatch.Dispatcher{
			Workers:        cfg.Workers,
			TasksPerWorker: cfg.TasksPerWorker,
			StaggerMax:     cfg.StaggerMax,
			Limiter:        rate.NewLimiter(rate.Limit(cfg.DialRate), cfg.Workers),
			QueueSize:      cfg.ResultQueueSize,
			Logger:         logger.With(log.Component("dispatch")),
		},
		logger: logger.With(log.Component("syncer")),
		phase:  PhaseIdle,
		now:    time.Now,
	}
}

// Run loops cycles until ctx is cancelled. It never returns nil while the
// process is healthy; only storage or selection failures surface here, and
// those end the cycle but not the loop.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		if err := e.runCycle(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("cycle failed", log.Err(err))
		}
		if ctx.Err() != nil {
			e.setPhase(PhaseShuttingDown)
			return ctx.Err()
		}
		e.setPhase(PhaseWaiting)
		select {
		case <-ctx.Done():
			e.setPhase(PhaseShuttingDown)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Phase reports the current cycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Stats reports the most recent cycle summary.
func (e *Engine) Stats() CycleStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

func (e *Engine) setStats(s CycleStats) {
	e.mu.Lock()
	e.stats = s
	e.mu.Unlock()
}
