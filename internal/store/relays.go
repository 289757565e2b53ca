package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Bigbrotr/bigbrotr/internal/nostr"
)

// RelayRow is one candidate relay from the discovery table. Discovery and
// health probing populate the table; this engine only reads it.
type RelayRow struct {
	URL       string
	Transport string
}

// EligibleRelays lists readable relays whose last health check is within the
// staleness threshold.
func (s *Store) EligibleRelays(ctx context.Context, staleness time.Duration) ([]RelayRow, error) {
	q := fmt.Sprintf(
		`SELECT url, transport FROM %q.relays
		 WHERE readable AND last_checked >= $1
		 ORDER BY url`, s.schema)
	rows, err := s.db.Query(ctx, q, time.Now().Add(-staleness).UTC())
	if err != nil {
		return nil, fmt.Errorf("list relays: %w", err)
	}
	defer rows.Close()

	var out []RelayRow
	for rows.Next() {
		var r RelayRow
		if err := rows.Scan(&r.URL, &r.Transport); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProbeSnapshot returns the latest probe document the external prober wrote
// for a relay, stamped with the probe instant. ok is false when the relay has
// no recorded document.
func (s *Store) ProbeSnapshot(ctx context.Context, url string) (nostr.MetadataSnapshot, bool, error) {
	q := fmt.Sprintf(
		`SELECT probe_document, extract(epoch FROM last_checked)::bigint
		 FROM %q.relays
		 WHERE url = $1 AND probe_document IS NOT NULL AND last_checked IS NOT NULL`, s.schema)
	var (
		doc      []byte
		observed int64
	)
	err := s.db.QueryRow(ctx, q, url).Scan(&doc, &observed)
	if err == pgx.ErrNoRows {
		return nostr.MetadataSnapshot{}, false, nil
	}
	if err != nil {
		return nostr.MetadataSnapshot{}, false, fmt.Errorf("probe document for %s: %w", url, err)
	}
	return nostr.MetadataSnapshot{RelayURL: url, ObservedAt: observed, Document: doc}, true, nil
}
