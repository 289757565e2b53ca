package nostr

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Event is one immutable, identity-addressed archived record. ID is the
// lowercase hex of the event's 32-byte content hash; authenticity of the
// (id, sig) pair is guaranteed upstream and not re-verified here.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Validate reports whether the event is structurally usable. Malformed
// payloads are skipped by callers, never fatal to a fetch stream.
func (e *Event) Validate() error {
	if len(e.ID) != 64 || !isHex(e.ID) {
		return fmt.Errorf("event id %q is not 32-byte hex", e.ID)
	}
	if len(e.PubKey) != 64 || !isHex(e.PubKey) {
		return fmt.Errorf("event pubkey %q is not 32-byte hex", e.PubKey)
	}
	if e.CreatedAt <= 0 {
		return fmt.Errorf("event %s has non-positive created_at %d", e.ID, e.CreatedAt)
	}
	if e.Kind < 0 {
		return fmt.Errorf("event %s has negative kind %d", e.ID, e.Kind)
	}
	return nil
}

// ParseEvent decodes and validates one event payload.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
