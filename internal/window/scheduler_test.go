package window

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Bigbrotr/bigbrotr/internal/nostr"
)

// fakeRelay serves a fixed event set, honoring since/until/limit the way a
// capped relay does: at most limit events per request, chosen from the
// inclusive [since, until] range.
type fakeRelay struct {
	events  []nostr.Event // sorted by CreatedAt
	fetches int
	failAt  int // fail the nth fetch (1-based), 0 = never
}

func (r *fakeRelay) Fetch(_ context.Context, f nostr.Filter) ([]nostr.Event, error) {
	r.fetches++
	if r.failAt > 0 && r.fetches == r.failAt {
		return nil, errors.New("connection reset")
	}
	var out []nostr.Event
	for _, ev := range r.events {
		if ev.CreatedAt < f.Since || ev.CreatedAt > f.Until {
			continue
		}
		out = append(out, ev)
		if len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func eventsAt(timestamps ...int64) []nostr.Event {
	evs := make([]nostr.Event, len(timestamps))
	for i, ts := range timestamps {
		evs[i] = nostr.Event{ID: fmt.Sprintf("%064d", i), CreatedAt: ts}
	}
	return evs
}

// uniformEvents packs n events into [start, end) from the low end, cycling
// when n exceeds the width.
func uniformEvents(n int, start, end int64) []nostr.Event {
	evs := make([]nostr.Event, n)
	width := end - start
	for i := 0; i < n; i++ {
		evs[i] = nostr.Event{ID: fmt.Sprintf("%064d", i), CreatedAt: start + int64(i)%width}
	}
	return evs
}

// spreadEvents distributes n events evenly across [start, end).
func spreadEvents(n int, start, end int64) []nostr.Event {
	evs := make([]nostr.Event, n)
	stride := (end - start) / int64(n)
	if stride < 1 {
		stride = 1
	}
	for i := 0; i < n; i++ {
		ts := start + int64(i)*stride
		if ts >= end {
			ts = end - 1
		}
		evs[i] = nostr.Event{ID: fmt.Sprintf("%064d", i), CreatedAt: ts}
	}
	return evs
}

func TestCompletenessAcrossCapsAndSizes(t *testing.T) {
	cases := []struct {
		name  string
		total int
		limit int
		start int64
		end   int64
	}{
		{"under cap", 10, 500, 0, 1000},
		{"exactly cap", 500, 500, 0, 1000},
		{"double cap", 1000, 500, 0, 1000},
		{"many splits", 2000, 100, 0, 100000},
		{"tiny cap", 137, 5, 0, 4096},
		{"single second range", 3, 10, 50, 51},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &fakeRelay{events: uniformEvents(tc.total, tc.start, tc.end)}
			s := &Scheduler{Limit: tc.limit, MinWidth: 1}
			res, err := s.Run(context.Background(), r, tc.start, tc.end)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			seen := make(map[string]int)
			for _, ev := range res.Events {
				seen[ev.ID]++
			}
			if len(seen) != tc.total {
				t.Fatalf("collected %d distinct events, want %d", len(seen), tc.total)
			}
			for id, n := range seen {
				if n > 1 {
					t.Fatalf("event %s emitted %d times", id, n)
				}
			}
		})
	}
}

func TestSaturatedWindowSplitsAtMidpoint(t *testing.T) {
	// Exactly L=500 events in [0,1000) forces one split into [0,500) and
	// [500,1000); each half returns under the cap.
	r := &fakeRelay{events: spreadEvents(500, 0, 1000)}
	s := &Scheduler{Limit: 500, MinWidth: 1}
	res, err := s.Run(context.Background(), r, 0, 1000)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Fetches != 3 {
		t.Fatalf("fetches = %d, want 3 (parent + two halves)", res.Fetches)
	}
	if len(res.Events) != 500 {
		t.Fatalf("total events = %d, want 500", len(res.Events))
	}
	if len(res.Truncated) != 0 {
		t.Fatalf("unexpected truncation: %v", res.Truncated)
	}
}

func TestMidpointBoundaryBelongsToUpperHalf(t *testing.T) {
	// Two events at the midpoint of [0,4) and one either side. With L=2 the
	// parent saturates and splits at mid=2; both midpoint events must land
	// in the [2,4) leaf exactly once.
	r := &fakeRelay{events: eventsAt(1, 2, 2, 3)}
	s := &Scheduler{Limit: 2, MinWidth: 1}
	res, err := s.Run(context.Background(), r, 0, 4)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	counts := make(map[string]int)
	for _, ev := range res.Events {
		counts[ev.ID]++
	}
	if len(res.Events) != 4 {
		t.Fatalf("events = %d, want 4", len(res.Events))
	}
	for id, n := range counts {
		if n != 1 {
			t.Fatalf("event %s seen %d times at the split boundary", id, n)
		}
	}
}

func TestEarlierHalfProcessedFirst(t *testing.T) {
	var order []int64
	r := &orderRecorder{inner: &fakeRelay{events: spreadEvents(500, 0, 1000)}, order: &order}
	s := &Scheduler{Limit: 500, MinWidth: 1}
	if _, err := s.Run(context.Background(), r, 0, 1000); err != nil {
		t.Fatalf("run: %v", err)
	}
	// parent, lower half, upper half
	want := []int64{0, 0, 500}
	if len(order) != len(want) {
		t.Fatalf("fetch starts = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("fetch %d started at %d, want %d", i, order[i], want[i])
		}
	}
}

type orderRecorder struct {
	inner *fakeRelay
	order *[]int64
}

func (r *orderRecorder) Fetch(ctx context.Context, f nostr.Filter) ([]nostr.Event, error) {
	*r.order = append(*r.order, f.Since)
	return r.inner.Fetch(ctx, f)
}

func TestFloorWidthSaturationIsAcceptedAndFlagged(t *testing.T) {
	// 10 events share one timestamp; the cap is 5. The window narrows to a
	// single second and is still saturated: accept the partial result, flag
	// it, terminate.
	evs := make([]nostr.Event, 10)
	for i := range evs {
		evs[i] = nostr.Event{ID: fmt.Sprintf("%064d", i), CreatedAt: 100}
	}
	r := &fakeRelay{events: evs}
	s := &Scheduler{Limit: 5, MinWidth: 1}
	res, err := s.Run(context.Background(), r, 100, 101)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Truncated) != 1 {
		t.Fatalf("truncated = %v, want one flagged span", res.Truncated)
	}
	if got := res.Truncated[0]; got.Start != 100 || got.End != 101 {
		t.Fatalf("flagged span [%d,%d), want [100,101)", got.Start, got.End)
	}
	if len(res.Events) != 5 {
		t.Fatalf("events = %d, want the cap's worth (5)", len(res.Events))
	}
}

func TestFetchErrorAbortsWholeTraversal(t *testing.T) {
	r := &fakeRelay{events: uniformEvents(1000, 0, 1000), failAt: 2}
	s := &Scheduler{Limit: 500, MinWidth: 1}
	res, err := s.Run(context.Background(), r, 0, 1000)
	if err == nil {
		t.Fatal("want error from mid-traversal failure")
	}
	if len(res.Events) != 0 {
		t.Fatalf("partial emit of %d events; aborted traversals must emit nothing", len(res.Events))
	}
}

func TestEmptyAndInvertedRanges(t *testing.T) {
	r := &fakeRelay{}
	s := &Scheduler{Limit: 10, MinWidth: 1}
	for _, span := range []Span{{5, 5}, {9, 3}} {
		res, err := s.Run(context.Background(), r, span.Start, span.End)
		if err != nil {
			t.Fatalf("run [%d,%d): %v", span.Start, span.End, err)
		}
		if len(res.Events) != 0 || res.Fetches != 0 {
			t.Fatalf("range [%d,%d) should be a no-op", span.Start, span.End)
		}
	}
}

func TestCancellationStopsTraversal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRelay{events: uniformEvents(100, 0, 100)}
	s := &Scheduler{Limit: 10, MinWidth: 1}
	if _, err := s.Run(ctx, r, 0, 100); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
