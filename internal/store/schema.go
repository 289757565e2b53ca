package store

import (
	"context"
	"fmt"
)

// EnsureSchema creates the engine's tables if absent. Schema provisioning is
// normally an external concern; this covers fresh development databases.
func EnsureSchema(ctx context.Context, db Execer, schema string) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]q.events (
  id         text PRIMARY KEY,
  pubkey     text NOT NULL,
  created_at bigint NOT NULL,
  kind       integer NOT NULL,
  tags       jsonb NOT NULL DEFAULT '[]',
  content    text NOT NULL DEFAULT '',
  sig        text NOT NULL DEFAULT '',
  first_seen timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS %[1]q.relay_events (
  relay_url text NOT NULL,
  event_id  text NOT NULL,
  seen_at   timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (relay_url, event_id)
);
CREATE TABLE IF NOT EXISTS %[1]q.relay_metadata (
  hash       text PRIMARY KEY,
  document   jsonb NOT NULL,
  first_seen timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS %[1]q.relay_metadata_observations (
  relay_url     text NOT NULL,
  observed_at   bigint NOT NULL,
  metadata_hash text NOT NULL,
  PRIMARY KEY (relay_url, observed_at)
);
CREATE TABLE IF NOT EXISTS %[1]q.relays (
  url            text PRIMARY KEY,
  transport      text NOT NULL DEFAULT '',
  readable       boolean NOT NULL DEFAULT false,
  last_checked   timestamptz,
  probe_document jsonb
);
CREATE TABLE IF NOT EXISTS %[1]q.service_state (
  service    text PRIMARY KEY,
  state      jsonb NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT now()
);
`, schema)
	_, err := db.Exec(ctx, ddl)
	return err
}
