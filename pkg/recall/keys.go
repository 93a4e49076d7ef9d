package recall

import (
	"fmt"
	"strconv"

	"github.com/driftwood/memcore/pkg/kv"
)

// Key layout (relative to the Index prefix):
//
//	{prefix}:seg:{ts_ns}    → msgpack-encoded Segment
//	{prefix}:sid:{id}       → ASCII decimal of ts_ns (reverse index)
//
// Segments are ordered by nanosecond timestamp alone; bucket lives on the
// decoded Segment, not in the key, so a single time-ordered scan covers
// every bucket. The sid reverse index maps segment ID → ts_ns for O(1)
// lookups by ID.

// segmentKey builds the KV key for a segment.
// Format: {prefix} + "seg" + "{ts_ns}", with ts_ns zero-padded to 19 digits
// so that lexical key order matches timestamp order.
func segmentKey(prefix kv.Key, ts int64) kv.Key {
	k := make(kv.Key, len(prefix)+2)
	copy(k, prefix)
	k[len(prefix)] = "seg"
	k[len(prefix)+1] = fmt.Sprintf("%019d", ts)
	return k
}

// segmentPrefix returns the KV prefix for listing all segments.
// Format: {prefix} + "seg"
func segmentPrefix(prefix kv.Key) kv.Key {
	k := make(kv.Key, len(prefix)+1)
	copy(k, prefix)
	k[len(prefix)] = "seg"
	return k
}

// sidKey returns the KV key for the segment-ID reverse index.
// Format: {prefix} + "sid" + {id}
func sidKey(prefix kv.Key, id string) kv.Key {
	k := make(kv.Key, len(prefix)+2)
	copy(k, prefix)
	k[len(prefix)] = "sid"
	k[len(prefix)+1] = id
	return k
}

// sidValue encodes a timestamp into the sid reverse index value: the ASCII
// decimal of ts_ns.
func sidValue(ts int64) []byte {
	return []byte(strconv.FormatInt(ts, 10))
}

// parseSidValue decodes a sid reverse index value into a timestamp.
func parseSidValue(data []byte) (int64, error) {
	ts, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("recall: malformed sid value: %w", err)
	}
	return ts, nil
}

// graphPrefix returns the KV prefix for the graph sub-store.
// Format: {prefix} + "g"
func graphPrefix(prefix kv.Key) kv.Key {
	k := make(kv.Key, len(prefix)+1)
	copy(k, prefix)
	k[len(prefix)] = "g"
	return k
}
