package transform

import (
	"sync"

	"ingestetl/pkg/record"
)

// Stats receives counter side effects from stages. job.State implements
// this interface; tests use a local fake. Keeping it narrow here avoids an
// import cycle between pkg/transform and pkg/job.
type Stats interface {
	IncUnparsable()
	IncDuplicates()
	IncOutOfBounds()
	IncWhitelistSkipped()
	IncBlacklistSkipped()
	IncEmpty()
}

// NopStats discards every counter increment; used by tests and by callers
// that only care about the transformed record.
type NopStats struct{}

func (NopStats) IncUnparsable()       {}
func (NopStats) IncDuplicates()       {}
func (NopStats) IncOutOfBounds()      {}
func (NopStats) IncWhitelistSkipped() {}
func (NopStats) IncBlacklistSkipped() {}
func (NopStats) IncEmpty()            {}

// action describes what the chain should do after a stage runs.
type action int

const (
	actionContinue action = iota
	actionDropSilent
	actionDropCounted
)

type stageFn func(rec record.Record, opts *Options, st Stats) (record.Record, action)

type stage struct {
	name string
	fn   stageFn
}

// Chain is the fixed-order, init-time-assembled list of active transform
// stages (spec.md §4.3). Only enabled stages appear in Chain.stages.
type Chain struct {
	opts   *Options
	stages []stage

	// dedupe set, guarded by a single short-critical-section lock
	// (spec.md §5 "Shared-resource policy").
	dedupeMu  sync.Mutex
	dedupeSet map[string]struct{}
}

// Build assembles the active stage list from opts, following the canonical
// order in spec.md §4.3.
func Build(opts *Options) *Chain {
	c := &Chain{opts: opts}

	if len(opts.Aliases) > 0 {
		c.add("alias-apply", stageAliasApply)
	}
	if opts.RecordKind == record.KindSCDRow {
		c.add("scd-transform", stageSCDTransform)
	}
	c.add("shape-fix", stageShapeFix) // always active; synthesizes required fields

	if opts.Dedupe {
		c.dedupeSet = make(map[string]struct{})
		c.add("dedupe", c.stageDedupe)
	}
	if opts.V2Compat {
		c.add("v2-compat", stageV2Compat)
	}
	if opts.RemoveNulls {
		c.add("null-remove", stageNullRemove)
	}
	if opts.UTCOffsetHours != 0 {
		c.add("utc-offset", stageUTCOffset)
	}
	if len(opts.Tags) > 0 {
		c.add("tag-add", stageTagAdd)
	}
	if hasAllowDenyRules(opts) {
		c.add("allow-deny-list", stageAllowDeny)
	}
	if opts.EpochStartMS != 0 || opts.EpochEndMS != 0 {
		c.add("epoch-filter", stageEpochFilter)
	}
	if len(opts.ScrubProps) > 0 {
		c.add("property-scrub", stagePropertyScrub)
	}
	if len(opts.DropColumns) > 0 {
		c.add("column-drop", stageColumnDrop)
	}
	if opts.FlattenData {
		c.add("flatten", stageFlatten)
	}
	if opts.FixJSON {
		c.add("json-fix", stageJSONFix)
	}
	c.add("insert-id-add", stageInsertIDAdd) // always active; invariant-bearing
	if opts.AddToken {
		c.add("token-add", stageTokenAdd)
	}
	if opts.FixTime {
		c.add("time-transform", stageTimeTransform)
	}
	if opts.TransformFunc != nil {
		c.add("transform-func", stageCallerFunc)
	}

	return c
}

func (c *Chain) add(name string, fn stageFn) {
	c.stages = append(c.stages, stage{name: name, fn: fn})
}

func hasAllowDenyRules(o *Options) bool {
	return len(o.EventWhitelist) > 0 || len(o.EventBlacklist) > 0 ||
		len(o.PropKeyWhitelist) > 0 || len(o.PropKeyBlacklist) > 0 ||
		len(o.PropValWhitelist) > 0 || len(o.PropValBlacklist) > 0 ||
		len(o.ComboWhiteList) > 0 || len(o.ComboBlackList) > 0
}

// Apply runs the full chain over rec. It returns the transformed record and
// true if the record survived, or (nil, false) if any stage dropped it
// (silently or with a counter bump, already applied via st).
func (c *Chain) Apply(rec record.Record, st Stats) (record.Record, bool) {
	cur := rec
	for _, s := range c.stages {
		next, act := s.fn(cur, c.opts, st)
		switch act {
		case actionDropSilent:
			st.IncEmpty()
			return nil, false
		case actionDropCounted:
			return nil, false
		default:
			cur = next
		}
	}
	return cur, true
}

// Names returns the active stage names in execution order, for diagnostics
// and tests.
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.name
	}
	return names
}
