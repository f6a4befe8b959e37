package transform

import (
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"

	"ingestetl/pkg/record"
)

// HashString returns the stable 32-bit non-cryptographic hash of s, used for
// both insert-id synthesis and dedupe keys. murmur3 is already present
// throughout the dependency tree of the wider example pack (noisefs, storj)
// as a transitive content-addressing hash; we promote it to a direct,
// deterministic 32-bit hash here since neither the teacher nor any directly
// vendored pack dependency ships one.
func HashString(s string) string {
	return strconv.FormatUint(uint64(murmur3.Sum32([]byte(s))), 16)
}

// InsertIDFromTuple builds a deterministic insert-id from an ordered tuple
// of source keys. Keys are looked up first at the top level, then inside
// properties. If every key in the tuple is present, the values are joined
// with "-" and hashed. If any key is missing, ok is false and the caller
// should fall back to hashing the whole record (spec.md §3, §4.3 stage 15).
func InsertIDFromTuple(rec record.Record, tuple []string) (string, bool) {
	props, _ := record.AsMap(rec["properties"])

	parts := make([]string, 0, len(tuple))
	for _, key := range tuple {
		v, found := rec[key]
		if !found && props != nil {
			v, found = props[key]
		}
		if !found {
			return "", false
		}
		parts = append(parts, stringifyForTuple(v))
	}

	return HashString(strings.Join(parts, "-")), true
}

// InsertIDFromRecord hashes the canonical whole-record serialization, the
// fallback path when a tuple cannot be fully assembled.
func InsertIDFromRecord(rec record.Record) string {
	return HashString(record.CanonicalizeRecord(rec))
}

// DedupeKey returns the canonical hash used to key the run-wide dedupe set.
func DedupeKey(rec record.Record) string {
	return HashString(record.CanonicalizeRecord(rec))
}

func stringifyForTuple(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return record.Canonicalize(v)
	}
}
