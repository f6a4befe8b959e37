package transform

import "ingestetl/pkg/record"

// ComboRule is a composite "property key + property value" allow/deny rule
// (spec.md §4.3 stage 9).
type ComboRule struct {
	Key   string
	Value string
}

// Options configures which stages are active and how each behaves. It is
// assembled once per run from the run-level configuration surface
// (spec.md §6) and handed to Build, which produces the fixed-order Chain.
type Options struct {
	RecordKind record.Kind

	// alias-apply
	Aliases map[string]string

	// insert-id-add
	InsertIDTuple []string

	// v2-compat
	V2Compat bool

	// null-remove
	RemoveNulls bool

	// utc-offset (hours added to properties.time, unix seconds)
	UTCOffsetHours int

	// tag-add
	Tags map[string]any

	// allow/deny-list
	EventWhitelist, EventBlacklist       []string
	PropKeyWhitelist, PropKeyBlacklist   []string
	PropValWhitelist, PropValBlacklist   []string
	ComboWhiteList, ComboBlackList       []ComboRule

	// epoch-filter, in unix ms; zero means unbounded
	EpochStartMS, EpochEndMS int64

	// property-scrub / column-drop
	ScrubProps  []string
	DropColumns []string

	// flatten
	FlattenData bool

	// json-fix
	FixJSON bool

	// token-add
	Token    string
	AddToken bool

	// time-transform: fixData controls coercion in shape-fix; fixTime
	// enables the dedicated final stage, which coerces properties.time to
	// unix ms and drops (counted as unparsable) a record whose time cannot
	// be parsed or is negative.
	FixData bool
	FixTime bool

	// insert-id-add uses InsertIDTuple above; dedupe toggles the dedupe
	// stage, inserted immediately after shape-fix.
	Dedupe bool

	// transformFunc: caller-supplied stage, inserted before batching
	// (after all built-in normalizers), per spec.md §9 Design Notes.
	TransformFunc func(record.Record) record.Record

	Strict bool
}
