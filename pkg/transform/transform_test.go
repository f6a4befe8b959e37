package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestetl/pkg/record"
)

func TestBuildEventShapeFix(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, FixData: true}
	c := Build(opts)

	rec := record.Record{
		"event":     "signup",
		"user_id":   "u1",
		"source":    "web",
		"time":      "2024-01-02T03:04:05Z",
		"plan":      "pro",
	}

	out, ok := c.Apply(rec, NopStats{})
	require.True(t, ok)

	props, ok := record.AsMap(out["properties"])
	require.True(t, ok)
	assert.Equal(t, "u1", props["$user_id"])
	assert.Equal(t, "web", props["$source"])
	assert.Equal(t, "pro", props["plan"])
	assert.NotEmpty(t, props["$insert_id"])

	ms, ok := props["time"].(int64)
	require.True(t, ok)
	assert.Greater(t, ms, int64(0))
}

func TestBuildEventUnparsableTimeDropped(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, FixData: true}
	c := Build(opts)

	rec := record.Record{"event": "signup", "time": "not-a-time"}
	out, ok := c.Apply(rec, NopStats{})
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestInsertIDDeterministicFromTuple(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, InsertIDTuple: []string{"event", "distinct_id", "time"}}
	c := Build(opts)

	rec := record.Record{
		"event": "click",
		"properties": map[string]any{
			"distinct_id": "abc",
			"time":        int64(1000),
		},
	}
	rec2 := record.Clone(rec)
	rec2["properties"] = map[string]any{"distinct_id": "abc", "time": int64(1000)}

	out1, ok1 := c.Apply(rec, NopStats{})
	out2, ok2 := c.Apply(rec2, NopStats{})
	require.True(t, ok1)
	require.True(t, ok2)

	props1 := out1["properties"].(map[string]any)
	props2 := out2["properties"].(map[string]any)
	assert.Equal(t, props1["$insert_id"], props2["$insert_id"])
}

func TestInsertIDFallsBackToWholeRecordHash(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, InsertIDTuple: []string{"event", "distinct_id", "time"}}
	c := Build(opts)

	rec := record.Record{"event": "click", "properties": map[string]any{"time": int64(5)}}
	out, ok := c.Apply(rec, NopStats{})
	require.True(t, ok)
	assert.NotEmpty(t, out["properties"].(map[string]any)["$insert_id"])
}

type countingStats struct {
	duplicates, unparsable, outOfBounds, whitelistSkipped, blacklistSkipped, empty int
}

func (c *countingStats) IncUnparsable()       { c.unparsable++ }
func (c *countingStats) IncDuplicates()       { c.duplicates++ }
func (c *countingStats) IncOutOfBounds()      { c.outOfBounds++ }
func (c *countingStats) IncWhitelistSkipped() { c.whitelistSkipped++ }
func (c *countingStats) IncBlacklistSkipped() { c.blacklistSkipped++ }
func (c *countingStats) IncEmpty()            { c.empty++ }

func TestDedupeDropsRepeats(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, Dedupe: true}
	c := Build(opts)
	st := &countingStats{}

	mkRec := func() record.Record {
		return record.Record{"event": "click", "properties": map[string]any{"distinct_id": "x", "time": int64(1)}}
	}

	_, ok1 := c.Apply(mkRec(), st)
	_, ok2 := c.Apply(mkRec(), st)
	assert.True(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, 1, st.duplicates)
}

func TestAllowDenyEventWhitelist(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, EventWhitelist: []string{"signup"}}
	c := Build(opts)
	st := &countingStats{}

	_, ok := c.Apply(record.Record{"event": "login", "properties": map[string]any{"time": int64(1)}}, st)
	assert.False(t, ok)
	assert.Equal(t, 1, st.whitelistSkipped)

	_, ok2 := c.Apply(record.Record{"event": "signup", "properties": map[string]any{"time": int64(1)}}, st)
	assert.True(t, ok2)
}

func TestAllowDenyEventBlacklist(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, EventBlacklist: []string{"debug_ping"}}
	c := Build(opts)
	st := &countingStats{}

	_, ok := c.Apply(record.Record{"event": "debug_ping", "properties": map[string]any{"time": int64(1)}}, st)
	assert.False(t, ok)
	assert.Equal(t, 1, st.blacklistSkipped)
}

func TestEpochFilterDropsOutOfBounds(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, EpochStartMS: 1000, EpochEndMS: 2000}
	c := Build(opts)
	st := &countingStats{}

	_, ok := c.Apply(record.Record{"event": "e", "properties": map[string]any{"time": int64(500)}}, st)
	assert.False(t, ok)
	assert.Equal(t, 1, st.outOfBounds)

	_, ok2 := c.Apply(record.Record{"event": "e", "properties": map[string]any{"time": int64(1500)}}, st)
	assert.True(t, ok2)
}

func TestRemoveNullsDropsBlankValues(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, RemoveNulls: true}
	c := Build(opts)

	rec := record.Record{"event": "e", "properties": map[string]any{"time": int64(1), "a": "", "b": "kept"}}
	out1, ok1 := c.Apply(rec, NopStats{})
	require.True(t, ok1)
	props1 := out1["properties"].(map[string]any)
	_, hasA := props1["a"]
	assert.False(t, hasA)
	assert.Equal(t, "kept", props1["b"])
}

func TestFlattenNestedProperties(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, FlattenData: true}
	c := Build(opts)

	rec := record.Record{
		"event": "e",
		"properties": map[string]any{
			"time": int64(1),
			"geo":  map[string]any{"city": "nyc", "zip": "10001"},
		},
	}
	out, ok := c.Apply(rec, NopStats{})
	require.True(t, ok)
	props := out["properties"].(map[string]any)
	assert.Equal(t, "nyc", props["geo.city"])
	assert.Equal(t, "10001", props["geo.zip"])
	_, stillNested := props["geo"]
	assert.False(t, stillNested)
}

func TestProfileShapeFixWrapsImplicitSet(t *testing.T) {
	opts := &Options{RecordKind: record.KindUserProfile, Token: "tok123"}
	c := Build(opts)

	rec := record.Record{"distinct_id": "u1", "name": "Ann", "plan": "pro"}
	out, ok := c.Apply(rec, NopStats{})
	require.True(t, ok)

	assert.Equal(t, "u1", out["$distinct_id"])
	assert.Equal(t, "tok123", out["$token"])

	set, ok := record.AsMap(out["$set"])
	require.True(t, ok)
	assert.Equal(t, "Ann", set["$name"])
	assert.Equal(t, "pro", set["plan"])
}

func TestProfileShapeFixPreservesExplicitDirective(t *testing.T) {
	opts := &Options{RecordKind: record.KindUserProfile}
	c := Build(opts)

	rec := record.Record{
		"distinct_id": "u1",
		"$add":        map[string]any{"visits": 1},
	}
	out, ok := c.Apply(rec, NopStats{})
	require.True(t, ok)

	add, ok := record.AsMap(out["$add"])
	require.True(t, ok)
	assert.Equal(t, 1, add["visits"])
	_, hasSet := out["$set"]
	assert.False(t, hasSet)
}

func TestJSONFixParsesStringifiedPayload(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, FixJSON: true}
	c := Build(opts)

	rec := record.Record{
		"event": "e",
		"properties": map[string]any{
			"time":    int64(1),
			"payload": `{"a":1,"b":"two"}`,
		},
	}
	out, ok := c.Apply(rec, NopStats{})
	require.True(t, ok)
	props := out["properties"].(map[string]any)
	parsed, ok := record.AsMap(props["payload"])
	require.True(t, ok)
	assert.Equal(t, float64(1), parsed["a"])
	assert.Equal(t, "two", parsed["b"])
}

func TestChainNamesReflectActiveOptions(t *testing.T) {
	opts := &Options{RecordKind: record.KindEvent, Dedupe: true, FlattenData: true}
	c := Build(opts)
	names := c.Names()
	assert.Contains(t, names, "shape-fix")
	assert.Contains(t, names, "dedupe")
	assert.Contains(t, names, "flatten")
	assert.Contains(t, names, "insert-id-add")
	assert.NotContains(t, names, "scd-transform")
}

func TestTransformFuncEmptyResultDrops(t *testing.T) {
	opts := &Options{
		RecordKind: record.KindEvent,
		TransformFunc: func(r record.Record) record.Record {
			return record.Record{}
		},
	}
	c := Build(opts)
	_, ok := c.Apply(record.Record{"event": "e", "properties": map[string]any{"time": int64(1)}}, NopStats{})
	assert.False(t, ok)
}
