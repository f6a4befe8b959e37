package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"ingestetl/pkg/record"
)

// reservedProfileAttrs are profile fields that get a "$" prefix when they
// land inside a directive payload, mirroring Mixpanel's reserved people
// properties.
var reservedProfileAttrs = map[string]bool{
	"name": true, "email": true, "phone": true, "avatar": true,
	"created": true, "city": true, "region": true,
	"country_code": true, "timezone": true, "unsubscribed": true,
}

func ensureProperties(rec record.Record) map[string]any {
	props, ok := record.AsMap(rec["properties"])
	if !ok {
		props = map[string]any{}
		rec["properties"] = props
	}
	return props
}

// --- 1. alias-apply ---------------------------------------------------

func stageAliasApply(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	for from, to := range opts.Aliases {
		applyAlias(rec, from, to)
		if props, ok := record.AsMap(rec["properties"]); ok {
			applyAlias(props, from, to)
		}
	}
	return rec, actionContinue
}

func applyAlias(m map[string]any, from, to string) {
	if v, ok := m[from]; ok {
		delete(m, from)
		m[to] = v
	}
}

// --- 2. scd-transform ---------------------------------------------------

// stageSCDTransform reshapes a slowly-changing-dimension row into the
// shared event-ingest shape: name stays, everything else becomes
// properties, mirroring the generic event shape the SCD endpoint expects
// (spec.md §6 notes the SCD endpoint is shared with events).
func stageSCDTransform(rec record.Record, _ *Options, _ Stats) (record.Record, action) {
	if _, hasName := rec["name"]; !hasName {
		if ev, ok := rec["event"]; ok {
			rec["name"] = ev
			delete(rec, "event")
		}
	}
	props := ensureProperties(rec)
	for k, v := range rec {
		if k == "name" || k == "properties" {
			continue
		}
		props[k] = v
		delete(rec, k)
	}
	return rec, actionContinue
}

// --- 3. shape-fix ---------------------------------------------------

var topLevelRenames = map[string]string{
	"user_id":   "$user_id",
	"device_id": "$device_id",
	"source":    "$source",
}

func stageShapeFix(rec record.Record, opts *Options, st Stats) (record.Record, action) {
	if opts.RecordKind.IsProfile() {
		return shapeFixProfile(rec, opts)
	}
	return shapeFixEvent(rec, opts, st)
}

func shapeFixEvent(rec record.Record, opts *Options, st Stats) (record.Record, action) {
	for from, to := range topLevelRenames {
		applyAlias(rec, from, to)
	}

	props := ensureProperties(rec)
	for k, v := range rec {
		if k == "event" || k == "properties" {
			continue
		}
		props[k] = v
		delete(rec, k)
	}

	if opts.FixData {
		if raw, ok := props["time"]; ok {
			if ms, ok := coerceTimeMS(raw); ok {
				props["time"] = ms
			} else {
				st.IncUnparsable()
				return nil, actionDropCounted
			}
		}
	}

	return rec, actionContinue
}

func shapeFixProfile(rec record.Record, opts *Options) (record.Record, action) {
	var directive string
	var payload map[string]any

	for _, d := range record.DirectiveKeys() {
		if v, ok := rec[string(d)]; ok {
			directive = string(d)
			payload, _ = record.AsMap(v)
			if payload == nil {
				payload = map[string]any{}
			}
			delete(rec, directive)
			break
		}
	}

	if directive == "" {
		directive = string(record.DirectiveSet)
		payload = map[string]any{}
		for k, v := range rec {
			if isIdentityOrTokenKey(k) {
				continue
			}
			payload[k] = v
			delete(rec, k)
		}
	}

	// promote identity and token keys to the top level, prefixed with $.
	for _, idKey := range []string{"distinct_id", "group_id", "group_key", "token"} {
		if v, ok := takeEither(rec, payload, idKey, "$"+idKey); ok {
			rec["$"+idKey] = v
		}
	}
	if _, ok := rec["$token"]; !ok && opts.Token != "" {
		rec["$token"] = opts.Token
	}

	if opts.RecordKind == record.KindGroupProfile {
		if _, ok := rec["$group_key"]; !ok {
			rec["$group_key"] = ""
		}
	}

	// prefix reserved profile attributes inside the directive payload.
	prefixed := make(map[string]any, len(payload))
	for k, v := range payload {
		if reservedProfileAttrs[k] {
			prefixed["$"+k] = v
		} else {
			prefixed[k] = v
		}
	}

	rec[directive] = prefixed
	return rec, actionContinue
}

func isIdentityOrTokenKey(k string) bool {
	switch strings.TrimPrefix(k, "$") {
	case "distinct_id", "group_id", "group_key", "token":
		return true
	default:
		return false
	}
}

// takeEither looks for key or dollarKey first on rec then on payload,
// removing it from wherever it was found.
func takeEither(rec, payload map[string]any, key, dollarKey string) (any, bool) {
	for _, m := range []map[string]any{rec, payload} {
		if v, ok := m[dollarKey]; ok {
			delete(m, dollarKey)
			return v, true
		}
		if v, ok := m[key]; ok {
			delete(m, key)
			return v, true
		}
	}
	return nil, false
}

func coerceTimeMS(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return int64(f), true
		}
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if tm, err := time.Parse(layout, t); err == nil {
				return tm.UTC().UnixMilli(), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// --- dedupe (inserted after shape-fix when enabled) ---------------------

func (c *Chain) stageDedupe(rec record.Record, _ *Options, st Stats) (record.Record, action) {
	key := DedupeKey(rec)

	c.dedupeMu.Lock()
	_, seen := c.dedupeSet[key]
	if !seen {
		c.dedupeSet[key] = struct{}{}
	}
	c.dedupeMu.Unlock()

	if seen {
		st.IncDuplicates()
		return nil, actionDropCounted
	}
	return rec, actionContinue
}

// --- 5. v2-compat ---------------------------------------------------

func stageV2Compat(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	if opts.RecordKind.IsProfile() {
		return rec, actionContinue
	}
	props, _ := record.AsMap(rec["properties"])
	if props == nil {
		return rec, actionContinue
	}
	if _, ok := props["distinct_id"]; ok {
		return rec, actionContinue
	}
	if v, ok := props["$user_id"]; ok {
		props["distinct_id"] = v
	} else if v, ok := props["$device_id"]; ok {
		props["distinct_id"] = v
	}
	return rec, actionContinue
}

// --- 6. null-remove ---------------------------------------------------

func stageNullRemove(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	if opts.RecordKind.IsProfile() {
		for _, d := range record.DirectiveKeys() {
			if payload, ok := record.AsMap(rec[string(d)]); ok {
				removeBlank(payload)
			}
		}
		return rec, actionContinue
	}
	if props, ok := record.AsMap(rec["properties"]); ok {
		removeBlank(props)
	}
	return rec, actionContinue
}

func removeBlank(m map[string]any) {
	for k, v := range m {
		if record.IsBlank(v) {
			delete(m, k)
		}
	}
}

// --- 7. utc-offset ---------------------------------------------------

func stageUTCOffset(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	if opts.RecordKind.IsProfile() {
		return rec, actionContinue
	}
	props, ok := record.AsMap(rec["properties"])
	if !ok {
		return rec, actionContinue
	}
	raw, ok := props["time"]
	if !ok {
		return rec, actionContinue
	}
	ms, ok := coerceTimeMS(raw)
	if !ok {
		return rec, actionContinue
	}
	props["time"] = ms + int64(opts.UTCOffsetHours)*3600*1000
	return rec, actionContinue
}

// --- 8. tag-add ---------------------------------------------------

func stageTagAdd(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	target := activeDirectiveOrProperties(rec, opts)
	for k, v := range opts.Tags {
		target[k] = v
	}
	return rec, actionContinue
}

func activeDirectiveOrProperties(rec record.Record, opts *Options) map[string]any {
	if opts.RecordKind.IsProfile() {
		for _, d := range record.DirectiveKeys() {
			if payload, ok := record.AsMap(rec[string(d)]); ok {
				return payload
			}
		}
		payload := map[string]any{}
		rec[string(record.DirectiveSet)] = payload
		return payload
	}
	return ensureProperties(rec)
}

// --- 9. allow/deny-list ---------------------------------------------------

func stageAllowDeny(rec record.Record, opts *Options, st Stats) (record.Record, action) {
	name, _ := record.AsString(rec["event"])
	if name == "" {
		name, _ = record.AsString(rec["name"])
	}
	props, _ := record.AsMap(rec["properties"])

	if len(opts.EventWhitelist) > 0 && !contains(opts.EventWhitelist, name) {
		st.IncWhitelistSkipped()
		return nil, actionDropCounted
	}
	if len(opts.EventBlacklist) > 0 && contains(opts.EventBlacklist, name) {
		st.IncBlacklistSkipped()
		return nil, actionDropCounted
	}

	if len(opts.PropKeyWhitelist) > 0 && !anyKeyIn(props, opts.PropKeyWhitelist) {
		st.IncWhitelistSkipped()
		return nil, actionDropCounted
	}
	if len(opts.PropKeyBlacklist) > 0 && anyKeyIn(props, opts.PropKeyBlacklist) {
		st.IncBlacklistSkipped()
		return nil, actionDropCounted
	}

	if len(opts.PropValWhitelist) > 0 && !anyValueIn(props, opts.PropValWhitelist) {
		st.IncWhitelistSkipped()
		return nil, actionDropCounted
	}
	if len(opts.PropValBlacklist) > 0 && anyValueIn(props, opts.PropValBlacklist) {
		st.IncBlacklistSkipped()
		return nil, actionDropCounted
	}

	if len(opts.ComboWhiteList) > 0 && !anyComboIn(props, opts.ComboWhiteList) {
		st.IncWhitelistSkipped()
		return nil, actionDropCounted
	}
	if len(opts.ComboBlackList) > 0 && anyComboIn(props, opts.ComboBlackList) {
		st.IncBlacklistSkipped()
		return nil, actionDropCounted
	}

	return rec, actionContinue
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func anyKeyIn(props map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := props[k]; ok {
			return true
		}
	}
	return false
}

func anyValueIn(props map[string]any, values []string) bool {
	for _, v := range props {
		if s, ok := record.AsString(v); ok && contains(values, s) {
			return true
		}
	}
	return false
}

func anyComboIn(props map[string]any, combos []ComboRule) bool {
	for _, c := range combos {
		if v, ok := props[c.Key]; ok {
			if s, ok := record.AsString(v); ok && s == c.Value {
				return true
			}
		}
	}
	return false
}

// --- 10. epoch-filter ---------------------------------------------------

func stageEpochFilter(rec record.Record, opts *Options, st Stats) (record.Record, action) {
	props, ok := record.AsMap(rec["properties"])
	if !ok {
		return rec, actionContinue
	}
	ms, ok := coerceTimeMS(props["time"])
	if !ok {
		return rec, actionContinue
	}
	if opts.EpochStartMS != 0 && ms < opts.EpochStartMS {
		st.IncOutOfBounds()
		return nil, actionDropCounted
	}
	if opts.EpochEndMS != 0 && ms > opts.EpochEndMS {
		st.IncOutOfBounds()
		return nil, actionDropCounted
	}
	return rec, actionContinue
}

// --- 11. property-scrub ---------------------------------------------------

const maxScrubDepth = 64

func stagePropertyScrub(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	scrub(map[string]any(rec), opts.ScrubProps, 0)
	return rec, actionContinue
}

func scrub(m map[string]any, keys []string, depth int) {
	if depth >= maxScrubDepth {
		return
	}
	for _, k := range keys {
		delete(m, k)
	}
	for _, v := range m {
		switch t := v.(type) {
		case map[string]any:
			scrub(t, keys, depth+1)
		case []any:
			scrubSlice(t, keys, depth+1)
		}
	}
}

func scrubSlice(s []any, keys []string, depth int) {
	if depth >= maxScrubDepth {
		return
	}
	for _, v := range s {
		switch t := v.(type) {
		case map[string]any:
			scrub(t, keys, depth+1)
		case []any:
			scrubSlice(t, keys, depth+1)
		}
	}
}

// --- 12. column-drop ---------------------------------------------------

func stageColumnDrop(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	for _, col := range opts.DropColumns {
		delete(rec, col)
	}
	return rec, actionContinue
}

// --- 13. flatten ---------------------------------------------------

func stageFlatten(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	target := activeDirectiveOrProperties(rec, opts)
	flattened := map[string]any{}
	flattenInto(flattened, "", target)
	for k := range target {
		delete(target, k)
	}
	for k, v := range flattened {
		target[k] = v
	}
	return rec, actionContinue
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// --- 14. json-fix ---------------------------------------------------

func stageJSONFix(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	target := activeDirectiveOrProperties(rec, opts)
	for k, v := range target {
		s, ok := record.AsString(v)
		if !ok {
			continue
		}
		if parsed, ok := tryParseJSON(s); ok {
			target[k] = parsed
		}
	}
	return rec, actionContinue
}

func tryParseJSON(s string) (any, bool) {
	candidate := s
	for attempt := 0; attempt < 2; attempt++ {
		trimmed := strings.TrimSpace(candidate)
		if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[' && trimmed[0] != '"') {
			return nil, false
		}
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if nested, ok := v.(string); ok {
				candidate = nested
				continue
			}
			return v, true
		}
		unescaped := strings.ReplaceAll(trimmed, `\"`, `"`)
		if unescaped != trimmed {
			if err := json.Unmarshal([]byte(unescaped), &v); err == nil {
				return v, true
			}
		}
		return nil, false
	}
	return nil, false
}

// --- 15. insert-id-add ---------------------------------------------------

func defaultInsertIDTuple(opts *Options) []string {
	if len(opts.InsertIDTuple) > 0 {
		return opts.InsertIDTuple
	}
	return []string{"event", "distinct_id", "time"}
}

func stageInsertIDAdd(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	if opts.RecordKind.IsProfile() {
		return rec, actionContinue
	}
	props := ensureProperties(rec)
	if _, ok := props["$insert_id"]; ok {
		return rec, actionContinue
	}

	tuple := defaultInsertIDTuple(opts)
	if id, ok := InsertIDFromTuple(rec, tuple); ok {
		props["$insert_id"] = id
	} else {
		props["$insert_id"] = InsertIDFromRecord(rec)
	}
	return rec, actionContinue
}

// --- 16. token-add ---------------------------------------------------

func stageTokenAdd(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	if opts.Token == "" {
		return rec, actionContinue
	}
	if opts.RecordKind.IsProfile() {
		if _, ok := rec["$token"]; !ok {
			rec["$token"] = opts.Token
		}
		return rec, actionContinue
	}
	props := ensureProperties(rec)
	if _, ok := props["token"]; !ok {
		props["token"] = opts.Token
	}
	return rec, actionContinue
}

// --- 17. time-transform ---------------------------------------------------

func stageTimeTransform(rec record.Record, opts *Options, st Stats) (record.Record, action) {
	if opts.RecordKind.IsProfile() {
		return rec, actionContinue
	}
	props, ok := record.AsMap(rec["properties"])
	if !ok {
		return rec, actionContinue
	}
	ms, ok := coerceTimeMS(props["time"])
	if !ok || ms < 0 {
		st.IncUnparsable()
		return nil, actionDropCounted
	}
	props["time"] = ms
	return rec, actionContinue
}

// --- caller-supplied transformFunc ---------------------------------------------------

func stageCallerFunc(rec record.Record, opts *Options, _ Stats) (record.Record, action) {
	out := opts.TransformFunc(rec)
	if record.Empty(out) {
		return nil, actionDropSilent
	}
	return out, actionContinue
}
