package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Bigbrotr/bigbrotr/internal/config"
	"github.com/Bigbrotr/bigbrotr/internal/nostr"
	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *[]byte:
			*p = r.vals[i].([]byte)
		case *int64:
			*p = r.vals[i].(int64)
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

// fakeBatchResults replays command tags in statement order; missing entries
// default to a one-row insert.
type fakeBatchResults struct {
	tags []string
	err  error
	i    int
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := "INSERT 0 1"
	if r.i < len(r.tags) {
		tag = r.tags[r.i]
	}
	r.i++
	return pgconn.NewCommandTag(tag), nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("unused") }
func (r *fakeBatchResults) QueryRow() pgx.Row        { return fakeRow{} }
func (r *fakeBatchResults) Close() error             { return nil }

type fakeDB struct {
	execSQL   []string
	execArgs  [][]any
	execErr   error
	row       fakeRow
	batchTags []string
	batchErr  error
	sent      int
}

func (d *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.execSQL = append(d.execSQL, sql)
	d.execArgs = append(d.execArgs, args)
	if d.execErr != nil {
		return pgconn.CommandTag{}, d.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unused")
}

func (d *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return d.row }

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.sent++
	return &fakeBatchResults{tags: d.batchTags, err: d.batchErr}
}

func testStore(db Execer) *Store {
	return New(db, config.Storage{
		Schema:       "public",
		BatchSize:    200,
		RetryMax:     3,
		RetryBackoff: time.Millisecond,
	}, log.NewLogger(log.WithLevel(log.FatalLevel)))
}

func storeEvents(n int) []nostr.Event {
	out := make([]nostr.Event, n)
	for i := range out {
		out[i] = nostr.Event{
			ID:        fmt.Sprintf("%064d", i),
			PubKey:    fmt.Sprintf("%064d", 1000+i),
			CreatedAt: int64(1_700_000_000 + i),
			Kind:      1,
		}
	}
	return out
}

func TestInsertEventsCountsOnlyNewEventRows(t *testing.T) {
	// Statement order per event: event insert, then relay association. Only
	// the event inserts contribute to the new-row count.
	db := &fakeDB{batchTags: []string{
		"INSERT 0 1", "INSERT 0 1", // event 1 new
		"INSERT 0 0", "INSERT 0 1", // event 2 already archived
		"INSERT 0 1", "INSERT 0 0", // event 3 new, association dup
	}}
	st := testStore(db)
	n, err := st.InsertEvents(context.Background(), "wss://a.example.com", storeEvents(3))
	if err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted = %d, want 2", n)
	}
}

func TestInsertEventsChunksOversizedBatches(t *testing.T) {
	db := &fakeDB{}
	st := testStore(db)
	st.batch = 2
	n, err := st.InsertEvents(context.Background(), "wss://a.example.com", storeEvents(5))
	if err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}
	if db.sent != 3 {
		t.Fatalf("batches sent = %d, want 3 for 5 events at size 2", db.sent)
	}
	if n != 5 {
		t.Fatalf("inserted = %d, want 5", n)
	}
}

func TestInsertEventsEmptyBatchIsNoop(t *testing.T) {
	db := &fakeDB{}
	n, err := testStore(db).InsertEvents(context.Background(), "wss://a.example.com", nil)
	if err != nil || n != 0 {
		t.Fatalf("got (%d, %v), want (0, nil)", n, err)
	}
	if db.sent != 0 {
		t.Fatal("empty batch hit the database")
	}
}

func TestInsertMetadataReturnsHashOnDuplicate(t *testing.T) {
	snap := nostr.MetadataSnapshot{
		RelayURL:   "wss://a.example.com",
		ObservedAt: 1_700_000_000,
		Document:   []byte(`{"supported_nips":[1,11],"name":"a"}`),
	}
	want, err := snap.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	// Document row already present: zero rows affected, identity unchanged.
	db := &fakeDB{batchTags: []string{"INSERT 0 0", "INSERT 0 1"}}
	got, err := testStore(db).InsertMetadata(context.Background(), snap)
	if err != nil {
		t.Fatalf("InsertMetadata: %v", err)
	}
	if got != want {
		t.Fatalf("hash = %s, want %s", got, want)
	}
}

func TestStateRoundTrip(t *testing.T) {
	cursors := map[string]int64{
		"wss://a.example.com": 1_700_000_000,
		"wss://b.example.com": 1_699_990_000,
	}
	db := &fakeDB{}
	st := testStore(db)
	if err := st.SaveState(context.Background(), "svc", cursors); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if len(db.execArgs) != 1 {
		t.Fatalf("execs = %d, want 1", len(db.execArgs))
	}
	raw, ok := db.execArgs[0][1].([]byte)
	if !ok {
		t.Fatalf("state arg is %T, want []byte", db.execArgs[0][1])
	}
	var blob stateBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		t.Fatalf("persisted state is not valid JSON: %v", err)
	}

	db2 := &fakeDB{row: fakeRow{vals: []any{raw}}}
	got, err := testStore(db2).LoadState(context.Background(), "svc")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(got) != 2 || got["wss://a.example.com"] != 1_700_000_000 {
		t.Fatalf("round trip = %v", got)
	}
}

func TestLoadStateMissingRowYieldsEmptyMap(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	got, err := testStore(db).LoadState(context.Background(), "svc")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got %v, want empty map", got)
	}
}

func TestWithRetryRecoversFromTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseBackoff: time.Millisecond}
	calls := 0
	err := withRetry(context.Background(), policy, nil, "op", func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseBackoff: time.Millisecond}
	calls := 0
	perm := &pgconn.PgError{Code: "23505"}
	err := withRetry(context.Background(), policy, nil, "op", func() error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("err = %v, want the constraint violation", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, permanent errors must not retry", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond}
	calls := 0
	err := withRetry(context.Background(), policy, nil, "op", func() error {
		calls++
		return &pgconn.PgError{Code: "08006"}
	})
	if err == nil {
		t.Fatal("want exhaustion error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Hour}
	done := make(chan error, 1)
	go func() {
		done <- withRetry(ctx, policy, nil, "op", func() error {
			return &pgconn.PgError{Code: "08006"}
		})
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock detected", &pgconn.PgError{Code: "40P01"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"network error", &net.OpError{Op: "read", Err: errors.New("connection reset")}, true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestProbeSnapshotReadsLatestProbeDocument(t *testing.T) {
	doc := []byte(`{"name":"a","supported_nips":[1,11]}`)
	db := &fakeDB{row: fakeRow{vals: []any{doc, int64(1_700_000_000)}}}
	snap, ok, err := testStore(db).ProbeSnapshot(context.Background(), "wss://a.example.com")
	if err != nil {
		t.Fatalf("ProbeSnapshot: %v", err)
	}
	if !ok {
		t.Fatal("ok = false for a relay with a recorded document")
	}
	if snap.RelayURL != "wss://a.example.com" || snap.ObservedAt != 1_700_000_000 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if string(snap.Document) != string(doc) {
		t.Fatalf("document = %s", snap.Document)
	}
}

func TestProbeSnapshotMissingDocument(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	_, ok, err := testStore(db).ProbeSnapshot(context.Background(), "wss://a.example.com")
	if err != nil {
		t.Fatalf("ProbeSnapshot: %v", err)
	}
	if ok {
		t.Fatal("ok = true for a relay without a probe document")
	}
}

func TestChunkEvents(t *testing.T) {
	cases := []struct {
		n, size int
		want    []int
	}{
		{0, 10, nil},
		{3, 10, []int{3}},
		{10, 10, []int{10}},
		{11, 10, []int{10, 1}},
		{25, 10, []int{10, 10, 5}},
		{5, 0, []int{5}}, // zero size falls back to the default
	}
	for _, tc := range cases {
		chunks := chunkEvents(storeEvents(tc.n), tc.size)
		if len(chunks) != len(tc.want) {
			t.Fatalf("n=%d size=%d: %d chunks, want %d", tc.n, tc.size, len(chunks), len(tc.want))
		}
		for i, c := range chunks {
			if len(c) != tc.want[i] {
				t.Fatalf("n=%d size=%d chunk %d has %d, want %d", tc.n, tc.size, i, len(c), tc.want[i])
			}
		}
	}
}
