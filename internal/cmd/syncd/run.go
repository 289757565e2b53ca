// Package syncd assembles and runs the sync daemon.
package syncd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Bigbrotr/bigbrotr/internal/config"
	"github.com/Bigbrotr/bigbrotr/internal/nostr"
	"github.com/Bigbrotr/bigbrotr/internal/relay"
	httpserver "github.com/Bigbrotr/bigbrotr/internal/server/http"
	"github.com/Bigbrotr/bigbrotr/internal/store"
	"github.com/Bigbrotr/bigbrotr/internal/syncer"
	logpkg "github.com/Bigbrotr/bigbrotr/pkg/log"
)

// Options carries CLI-level knobs into the daemon.
type Options struct {
	ConfigPath string
	Config     *config.Config // pre-loaded config wins over ConfigPath (tests)
}

// Run starts the engine and ops endpoint and blocks until ctx is cancelled.
// Configuration violations return before any relay or database contact.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}

	pool, err := store.OpenPool(sctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, cfg.Storage, logger.With(logpkg.Component("store")))
	if err := store.EnsureSchema(sctx, pool, cfg.Storage.Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	dialer := relay.NewWSDialer(cfg, logger.With(logpkg.Component("relay")))
	meta := &storeMetadata{st: st, logger: logger.With(logpkg.Component("metadata"))}
	engine := syncer.New(cfg, &storeSelector{st: st}, nil, meta, dialer, st, logger)

	logger.Info("starting bigbrotr syncer",
		logpkg.Dur("interval", cfg.CycleInterval),
		logpkg.Int("workers", cfg.Workers),
		logpkg.Int("tasks_per_worker", cfg.TasksPerWorker),
		logpkg.Str("ops", cfg.OpsAddr))

	var wg sync.WaitGroup
	if cfg.OpsAddr != "" {
		ops := httpserver.New(engine, pool)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ops.ListenAndServe(sctx, cfg.OpsAddr); err != nil && sctx.Err() == nil {
				logger.Error("ops endpoint failed", logpkg.Err(err))
			}
		}()
	}

	err = engine.Run(sctx)
	wg.Wait()
	if sctx.Err() != nil {
		logger.Info("shut down")
		return nil
	}
	return err
}

func loadConfig(opts Options) (config.Config, error) {
	if opts.Config != nil {
		return *opts.Config, opts.Config.Validate()
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	config.FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// storeSelector adapts the discovery table to the engine's Selector
// interface. Readability filtering happens in the query itself.
type storeSelector struct {
	st *store.Store
}

func (s *storeSelector) ListEligible(ctx context.Context, staleness time.Duration) ([]relay.Endpoint, error) {
	rows, err := s.st.EligibleRelays(ctx, staleness)
	if err != nil {
		return nil, err
	}
	eps := make([]relay.Endpoint, 0, len(rows))
	for _, r := range rows {
		eps = append(eps, relay.Endpoint{
			URL:       r.URL,
			Transport: config.TransportClass(r.Transport),
		})
	}
	return eps, nil
}

// storeMetadata surfaces the prober's latest document for each relay so the
// cycle can archive it alongside events. Lookup failures drop the snapshot
// for this cycle; the observation is retried next cycle.
type storeMetadata struct {
	st     *store.Store
	logger logpkg.Logger
}

func (m *storeMetadata) Snapshot(ctx context.Context, ep relay.Endpoint) (nostr.MetadataSnapshot, bool) {
	snap, ok, err := m.st.ProbeSnapshot(ctx, ep.URL)
	if err != nil {
		m.logger.Warn("probe document lookup failed",
			logpkg.Str("relay", ep.URL), logpkg.Err(err))
		return nostr.MetadataSnapshot{}, false
	}
	return snap, ok
}
