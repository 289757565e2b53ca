package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Bigbrotr/bigbrotr/internal/config"
	"github.com/Bigbrotr/bigbrotr/internal/nostr"
	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

// Execer is the slice of pgxpool.Pool the store depends on. Tests substitute
// fakes; production passes the shared pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is the persistence writer. Only this type issues writes.
type Store struct {
	db     Execer
	schema string
	batch  int
	retry  RetryPolicy
	logger log.Logger
}

// New builds a Store over an open pool.
func New(db Execer, cfg config.Storage, logger log.Logger) *Store {
	return &Store{
		db:     db,
		schema: cfg.Schema,
		batch:  cfg.BatchSize,
		retry:  RetryPolicy{MaxAttempts: cfg.RetryMax, BaseBackoff: cfg.RetryBackoff},
		logger: logger,
	}
}

// InsertEvents durably writes a batch of events seen on one relay, returning
// how many event rows were new. Re-inserting a known id is a no-op; the
// relay association row is written either way. Oversized batches are chunked.
func (s *Store) InsertEvents(ctx context.Context, relayURL string, events []nostr.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	eventSQL := fmt.Sprintf(
		`INSERT INTO %q.events (id, pubkey, created_at, kind, tags, content, sig)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO NOTHING`, s.schema)
	seenSQL := fmt.Sprintf(
		`INSERT INTO %q.relay_events (relay_url, event_id)
		 VALUES ($1,$2)
		 ON CONFLICT (relay_url, event_id) DO NOTHING`, s.schema)

	total := 0
	for _, chunk := range chunkEvents(events, s.batch) {
		chunk := chunk
		err := withRetry(ctx, s.retry, s.logger, "insert_events", func() error {
			b := &pgx.Batch{}
			for _, ev := range chunk {
				tags, err := json.Marshal(ev.Tags)
				if err != nil {
					return fmt.Errorf("encode tags of %s: %w", ev.ID, err)
				}
				b.Queue(eventSQL, ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, tags, ev.Content, ev.Sig)
				b.Queue(seenSQL, relayURL, ev.ID)
			}
			br := s.db.SendBatch(ctx, b)
			inserted := 0
			for i := 0; i < len(chunk)*2; i++ {
				tag, err := br.Exec()
				if err != nil {
					_ = br.Close()
					return err
				}
				if i%2 == 0 { // event statement, not the association
					inserted += int(tag.RowsAffected())
				}
			}
			if err := br.Close(); err != nil {
				return err
			}
			total += inserted
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// InsertMetadata stores one probe snapshot. The document row is keyed by its
// canonical content hash and inserted if absent atomically at the storage
// layer, so concurrent identical-content inserts converge on one row. The
// returned identity is the same whether the row was new or pre-existing.
func (s *Store) InsertMetadata(ctx context.Context, snap nostr.MetadataSnapshot) (string, error) {
	hash, err := snap.Hash()
	if err != nil {
		return "", err
	}
	canon, err := nostr.CanonicalJSON(snap.Document)
	if err != nil {
		return "", err
	}
	docSQL := fmt.Sprintf(
		`INSERT INTO %q.relay_metadata (hash, document)
		 VALUES ($1,$2)
		 ON CONFLICT (hash) DO NOTHING`, s.schema)
	obsSQL := fmt.Sprintf(
		`INSERT INTO %q.relay_metadata_observations (relay_url, observed_at, metadata_hash)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (relay_url, observed_at) DO NOTHING`, s.schema)

	err = withRetry(ctx, s.retry, s.logger, "insert_metadata", func() error {
		b := &pgx.Batch{}
		b.Queue(docSQL, hash, canon)
		b.Queue(obsSQL, snap.RelayURL, snap.ObservedAt, hash)
		br := s.db.SendBatch(ctx, b)
		for i := 0; i < 2; i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		return br.Close()
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// OrphanCounts reports what ReclaimOrphans removed.
type OrphanCounts struct {
	Events   int64
	Metadata int64
}

// ReclaimOrphans deletes events and metadata documents no longer referenced
// by any relay association. Periodic maintenance only, never per cycle.
func (s *Store) ReclaimOrphans(ctx context.Context) (OrphanCounts, error) {
	var counts OrphanCounts
	evSQL := fmt.Sprintf(
		`DELETE FROM %[1]q.events e
		 WHERE NOT EXISTS (SELECT 1 FROM %[1]q.relay_events re WHERE re.event_id = e.id)`, s.schema)
	mdSQL := fmt.Sprintf(
		`DELETE FROM %[1]q.relay_metadata m
		 WHERE NOT EXISTS (
		   SELECT 1 FROM %[1]q.relay_metadata_observations o WHERE o.metadata_hash = m.hash)`, s.schema)

	err := withRetry(ctx, s.retry, s.logger, "reclaim_orphans", func() error {
		tag, err := s.db.Exec(ctx, evSQL)
		if err != nil {
			return err
		}
		counts.Events = tag.RowsAffected()
		tag, err = s.db.Exec(ctx, mdSQL)
		if err != nil {
			return err
		}
		counts.Metadata = tag.RowsAffected()
		return nil
	})
	return counts, err
}

// stateBlob is the persisted state layout, one row per service name.
type stateBlob struct {
	CursorMap map[string]int64 `json:"cursor_map"`
}

// LoadState fetches the cursor map persisted under the service name. A
// missing row yields an empty map.
func (s *Store) LoadState(ctx context.Context, service string) (map[string]int64, error) {
	q := fmt.Sprintf(`SELECT state FROM %q.service_state WHERE service = $1`, s.schema)
	var raw []byte
	err := s.db.QueryRow(ctx, q, service).Scan(&raw)
	if err == pgx.ErrNoRows {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	var blob stateBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if blob.CursorMap == nil {
		blob.CursorMap = map[string]int64{}
	}
	return blob.CursorMap, nil
}

// SaveState writes the cursor map under the service name, stamping the
// update time. Idempotent overwrite.
func (s *Store) SaveState(ctx context.Context, service string, cursors map[string]int64) error {
	raw, err := json.Marshal(stateBlob{CursorMap: cursors})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	q := fmt.Sprintf(
		`INSERT INTO %q.service_state (service, state, updated_at)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (service) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		s.schema)
	return withRetry(ctx, s.retry, s.logger, "save_state", func() error {
		_, err := s.db.Exec(ctx, q, service, raw, time.Now().UTC())
		return err
	})
}

// chunkEvents splits a batch into slices of at most size events.
func chunkEvents(events []nostr.Event, size int) [][]nostr.Event {
	if size <= 0 {
		size = 200
	}
	var chunks [][]nostr.Event
	for i := 0; i < len(events); i += size {
		j := i + size
		if j > len(events) {
			j = len(events)
		}
		chunks = append(chunks, events[i:j])
	}
	return chunks
}
