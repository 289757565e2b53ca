package window

import (
	"context"
	"fmt"

	"github.com/Bigbrotr/bigbrotr/internal/nostr"
	"github.com/Bigbrotr/bigbrotr/pkg/log"
)

// Fetcher is the session surface the scheduler drives. relay.Session
// satisfies it; tests use fakes.
type Fetcher interface {
	Fetch(ctx context.Context, f nostr.Filter) ([]nostr.Event, error)
}

// Span is one half-open [Start, End) window in unix seconds.
type Span struct {
	Start int64
	End   int64
}

// Width returns End - Start.
func (s Span) Width() int64 { return s.End - s.Start }

// Result is the outcome of one complete window traversal.
type Result struct {
	Events    []nostr.Event
	Fetches   int    // requests issued
	Truncated []Span // floor-width spans that were still saturated
}

// Scheduler traverses one relay's window. A fresh stack lives inside each
// Run call, so one relay's failure cannot corrupt another's traversal.
type Scheduler struct {
	Base     nostr.Filter // kinds/authors/tags restriction applied to every request
	Limit    int          // relay response cap L
	MinWidth int64        // floor width in seconds, >= 1
	Logger   log.Logger
}

// Run covers [start, end) completely. Every timestamp in the range lands in
// exactly one leaf span; saturated leaves at the floor width are emitted
// as-is and reported in Result.Truncated. Any fetch error aborts the whole
// traversal with nothing emitted, leaving the caller's cursor untouched.
func (s *Scheduler) Run(ctx context.Context, fetch Fetcher, start, end int64) (Result, error) {
	var res Result
	if end <= start {
		return res, nil
	}
	if s.Limit <= 0 {
		return res, fmt.Errorf("window: non-positive limit %d", s.Limit)
	}
	minWidth := s.MinWidth
	if minWidth < 1 {
		minWidth = 1
	}

	stack := []Span{{Start: start, End: end}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		span := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		f := nostr.WindowFilter(s.Base, span.Start, span.End, s.Limit)
		events, err := fetch.Fetch(ctx, f)
		if err != nil {
			return Result{}, fmt.Errorf("window [%d,%d): %w", span.Start, span.End, err)
		}
		res.Fetches++

		if len(events) >= s.Limit && span.Width() > minWidth {
			mid := span.Start + span.Width()/2
			// Later half first so the earlier half pops next.
			stack = append(stack, Span{Start: mid, End: span.End})
			stack = append(stack, Span{Start: span.Start, End: mid})
			continue
		}

		if len(events) >= s.Limit {
			res.Truncated = append(res.Truncated, span)
			if s.Logger != nil {
				s.Logger.Warn("window at floor width still saturated, accepting partial result",
					log.I64("start", span.Start),
					log.I64("end", span.End),
					log.Int("count", len(events)))
			}
		}
		res.Events = append(res.Events, events...)
	}
	return res, nil
}
