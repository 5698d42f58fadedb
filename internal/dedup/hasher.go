package dedup

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"beacon/pkg/models"
)

// Hasher computes the two identity keys of an event. Both hashes must be
// stable across process restarts, so inputs are serialized in a fixed field
// order and map keys are sorted before hashing.
type Hasher struct {
	algorithm string
}

// NewHasher creates a hasher using the given algorithm ("sha256" or "md5").
func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// Fingerprint identifies a notification obligation: the same event raised for
// the same entity and recipient by the same producer. Payload content does not
// participate.
func (h *Hasher) Fingerprint(event models.NotificationEvent) (string, error) {
	if missing := event.MissingFields(); len(missing) > 0 {
		return "", fmt.Errorf("cannot fingerprint event, missing fields: %s", strings.Join(missing, ", "))
	}

	var builder strings.Builder
	builder.WriteString(event.EventType)
	builder.WriteByte('|')
	builder.WriteString(event.EntityID)
	builder.WriteByte('|')
	builder.WriteString(event.RecipientID)
	builder.WriteByte('|')
	builder.WriteString(event.SourceID)

	return h.sum(builder.String()), nil
}

// ContentHash identifies the rendered message content, independent of which
// producer raised it. Used to catch two producers phrasing the same event
// under different fingerprints.
func (h *Hasher) ContentHash(payload models.Payload) (string, error) {
	var builder strings.Builder
	builder.WriteString(payload.Title)
	builder.WriteByte('|')
	builder.WriteString(payload.Body)
	builder.WriteByte('|')
	writeCanonicalMap(&builder, payload.Data)

	return h.sum(builder.String()), nil
}

// writeCanonicalMap serializes a data map with sorted keys. Nested maps are
// rendered by fmt, which also sorts map keys, keeping the output
// deterministic.
func writeCanonicalMap(builder *strings.Builder, data map[string]interface{}) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		builder.WriteString(k)
		builder.WriteByte('=')
		fmt.Fprintf(builder, "%v", data[k])
		builder.WriteByte('&')
	}
}

func (h *Hasher) sum(input string) string {
	switch h.algorithm {
	case "md5":
		sum := md5.Sum([]byte(input))
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:])
	}
}
