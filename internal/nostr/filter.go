package nostr

import "encoding/json"

// Filter is the request shape sent to a relay. Since/Until are unix seconds;
// both are inclusive on the wire, so half-open windows subtract one from the
// upper bound before building a Filter.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Tags    []string `json:"#t,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// WindowFilter builds the filter for one half-open window [start, end).
func WindowFilter(base Filter, start, end int64, limit int) Filter {
	f := base
	f.Since = start
	f.Until = end - 1
	f.Limit = limit
	return f
}

// Matches reports whether an event falls inside the filter's time bounds and
// kind/author lists. Used as a local safety partition for relays that ignore
// parts of the filter.
func (f Filter) Matches(ev Event) bool {
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && ev.CreatedAt > f.Until {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, ev.PubKey) {
		return false
	}
	return true
}

// MarshalWire renders the filter as its wire JSON object.
func (f Filter) MarshalWire() ([]byte, error) { return json.Marshal(f) }

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsStr(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
