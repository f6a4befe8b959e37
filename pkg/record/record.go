// Package record defines the record model shared by every pipeline stage:
// the tagged record kind, the dynamic property bag, and the canonicalization
// helpers used for insert-id synthesis and dedupe hashing.
package record

import (
	"sort"
	"strconv"
)

// Kind distinguishes the record variants moving through the pipeline.
type Kind string

const (
	KindEvent         Kind = "event"
	KindUserProfile   Kind = "user_profile"
	KindGroupProfile  Kind = "group_profile"
	KindLookupRow     Kind = "lookup_row"
	KindSCDRow        Kind = "scd_row"
	KindExportRow     Kind = "export_row"
	KindProfileExport Kind = "profile_export"
)

// IsProfile reports whether the kind carries a profile directive.
func (k Kind) IsProfile() bool {
	return k == KindUserProfile || k == KindGroupProfile
}

// Directive is one of the seven profile operations.
type Directive string

const (
	DirectiveSet     Directive = "$set"
	DirectiveSetOnce Directive = "$set_once"
	DirectiveAdd     Directive = "$add"
	DirectiveUnion   Directive = "$union"
	DirectiveAppend  Directive = "$append"
	DirectiveRemove  Directive = "$remove"
	DirectiveUnset   Directive = "$unset"
)

var directiveKeys = []Directive{
	DirectiveSet, DirectiveSetOnce, DirectiveAdd, DirectiveUnion,
	DirectiveAppend, DirectiveRemove, DirectiveUnset,
}

// DirectiveKeys returns the seven recognized profile directive keys, in the
// order they are probed when normalizing a profile record.
func DirectiveKeys() []Directive { return directiveKeys }

// Record is a dynamic property bag: a mapping of string keys to values drawn
// from the conceptual tagged sum {null, bool, int, float, string, sequence,
// mapping}. Go's `any` already models that sum without a wrapper type, so
// the hot path works directly on map[string]any, matching how the teacher's
// cloudtrailprocessor.FilterRecords treats CloudTrail events.
type Record = map[string]any

// Empty reports whether a record is the canonical "drop silently" sentinel:
// a record with no keys.
func Empty(r Record) bool { return len(r) == 0 }

// IsBlank reports whether a value counts as "blank" for null-removal: nil,
// empty string, an empty map, or an empty slice.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// AsString coerces a value to a string if it already is one.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsMap coerces a value to a nested map, if it is one.
func AsMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Canonicalize produces a deterministic string encoding of a value, used as
// input to the insert-id and dedupe hashes. Map keys are sorted; scalars are
// encoded with a type tag so that the int 1 and the string "1" canonicalize
// differently.
func Canonicalize(v any) string {
	switch t := v.(type) {
	case nil:
		return "n:"
	case bool:
		if t {
			return "b:1"
		}
		return "b:0"
	case string:
		return "s:" + t
	case int:
		return "i:" + strconv.Itoa(t)
	case int64:
		return "i:" + strconv.FormatInt(t, 10)
	case float64:
		return "f:" + strconv.FormatFloat(t, 'g', -1, 64)
	case []any:
		out := "a:["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			out += Canonicalize(e)
		}
		return out + "]"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "m:{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += k + "=" + Canonicalize(t[k])
		}
		return out + "}"
	default:
		return "?:" + strconv.Quote(anyToString(t))
	}
}

func anyToString(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

// CanonicalizeRecord canonicalizes a whole record by sorted top-level key.
func CanonicalizeRecord(r Record) string {
	return Canonicalize(map[string]any(r))
}

// Clone performs a shallow copy of the top-level keys of r.
func Clone(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
