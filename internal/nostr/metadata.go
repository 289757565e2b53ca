package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Domain prefix for content-addressed metadata identity. The version suffix
// enables future algorithm migration without colliding with old hashes.
const metadataDomain = "bigbrotr/metadata/v1"

// MetadataSnapshot captures one probe result for one relay at one instant.
// Document is the raw probe payload; its wire format is opaque to the engine.
// Many (relay, observed_at) observations may share one Hash when the relay's
// document has not changed.
type MetadataSnapshot struct {
	RelayURL   string
	ObservedAt int64
	Document   json.RawMessage
}

// Hash returns the snapshot's content-addressed identity: SHA-256 over the
// domain prefix, a null separator, and the canonical form of Document.
func (s MetadataSnapshot) Hash() (string, error) {
	canon, err := CanonicalJSON(s.Document)
	if err != nil {
		return "", fmt.Errorf("canonicalize metadata: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(metadataDomain))
	h.Write([]byte{0x00})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalJSON re-serializes a JSON document deterministically: object keys
// sorted bytewise, no insignificant whitespace, numbers rendered via Go's
// shortest float representation. Two documents with equal content always
// canonicalize to identical bytes.
func CanonicalJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw))
	return appendCanonical(out, v)
}

func appendCanonical(dst []byte, v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(dst, "null"...), nil
	case bool:
		if val {
			return append(dst, "true"...), nil
		}
		return append(dst, "false"...), nil
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return append(dst, b...), nil
	case float64:
		return strconv.AppendFloat(dst, val, 'g', -1, 64), nil
	case []interface{}:
		dst = append(dst, '[')
		for i, item := range val {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			dst, err = appendCanonical(dst, item)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dst = append(dst, '{')
		for i, k := range keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			dst = append(dst, kb...)
			dst = append(dst, ':')
			dst, err = appendCanonical(dst, val[k])
			if err != nil {
				return nil, err
			}
		}
		return append(dst, '}'), nil
	default:
		return nil, fmt.Errorf("unsupported JSON value %T", v)
	}
}
