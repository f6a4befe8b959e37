package job

import (
	"fmt"

	"ingestetl/pkg/record"
)

// Region is one of the three ingest regions.
type Region string

const (
	RegionUS Region = "us"
	RegionEU Region = "eu"
	RegionIN Region = "in"
)

// Method is the HTTP method a kind's endpoint expects.
type Method string

const (
	MethodPOST Method = "POST"
	MethodPUT  Method = "PUT"
	MethodGET  Method = "GET"
)

// ContentType is the request body content type a kind's endpoint expects.
type ContentType string

const (
	ContentTypeJSON ContentType = "application/json"
	ContentTypeCSV  ContentType = "text/csv"
)

// RecordType is the run-level recordType configuration value (spec.md §6),
// distinct from record.Kind: it additionally distinguishes table/export/
// profile-export/the two streaming-import aliases, which all map onto one
// of the record.Kind values for transform purposes but select a different
// ingest endpoint.
type RecordType string

const (
	RecordTypeEvent               RecordType = "event"
	RecordTypeUser                RecordType = "user"
	RecordTypeGroup               RecordType = "group"
	RecordTypeTable               RecordType = "table"
	RecordTypeExport              RecordType = "export"
	RecordTypeProfileExport       RecordType = "profile-export"
	RecordTypeSCD                 RecordType = "scd"
	RecordTypeExportImportEvents  RecordType = "export-import-events"
	RecordTypeExportImportProfile RecordType = "export-import-profiles"
)

// Kind maps a RecordType to the record.Kind used by the transform chain.
func (rt RecordType) Kind() record.Kind {
	switch rt {
	case RecordTypeUser:
		return record.KindUserProfile
	case RecordTypeGroup:
		return record.KindGroupProfile
	case RecordTypeTable:
		return record.KindLookupRow
	case RecordTypeSCD:
		return record.KindSCDRow
	case RecordTypeExport, RecordTypeExportImportEvents:
		return record.KindExportRow
	case RecordTypeProfileExport, RecordTypeExportImportProfile:
		return record.KindProfileExport
	default:
		return record.KindEvent
	}
}

// EndpointInfo describes how to dispatch a given (region, recordType) pair.
type EndpointInfo struct {
	URL         string
	Method      Method
	ContentType ContentType
}

// ResolveEndpoint computes the request target for a (region, recordType,
// lookupTableID) triple, per the static table in spec.md §6. lookupTableID
// is only consulted for RecordTypeTable.
func ResolveEndpoint(region Region, rt RecordType, lookupTableID string) (EndpointInfo, error) {
	regionSuffix := map[Region]string{RegionUS: "", RegionEU: "-eu", RegionIN: "-in"}
	dataRegionSuffix := map[Region]string{RegionUS: "", RegionEU: "-eu", RegionIN: "-in"}
	engageRegionPrefix := map[Region]string{RegionUS: "", RegionEU: "eu.", RegionIN: "in."}

	suffix, ok := regionSuffix[region]
	if !ok {
		return EndpointInfo{}, fmt.Errorf("job: unrecognized region %q", region)
	}

	switch rt {
	case RecordTypeEvent, RecordTypeSCD, RecordTypeExportImportEvents:
		return EndpointInfo{
			URL:         fmt.Sprintf("https://api%s.mixpanel.com/import", suffix),
			Method:      MethodPOST,
			ContentType: ContentTypeJSON,
		}, nil
	case RecordTypeUser:
		return EndpointInfo{
			URL:         fmt.Sprintf("https://api%s.mixpanel.com/engage", suffix),
			Method:      MethodPOST,
			ContentType: ContentTypeJSON,
		}, nil
	case RecordTypeGroup:
		return EndpointInfo{
			URL:         fmt.Sprintf("https://api%s.mixpanel.com/groups", suffix),
			Method:      MethodPOST,
			ContentType: ContentTypeJSON,
		}, nil
	case RecordTypeTable:
		if lookupTableID == "" {
			return EndpointInfo{}, fmt.Errorf("job: lookup table recordType requires a table id")
		}
		return EndpointInfo{
			URL:         fmt.Sprintf("https://api%s.mixpanel.com/lookup-tables/%s", suffix, lookupTableID),
			Method:      MethodPUT,
			ContentType: ContentTypeCSV,
		}, nil
	case RecordTypeExport:
		dsuffix := dataRegionSuffix[region]
		return EndpointInfo{
			URL:         fmt.Sprintf("https://data%s.mixpanel.com/api/2.0/export", dsuffix),
			Method:      MethodGET,
			ContentType: ContentTypeJSON,
		}, nil
	case RecordTypeProfileExport, RecordTypeExportImportProfile:
		prefix := engageRegionPrefix[region]
		return EndpointInfo{
			URL:         fmt.Sprintf("https://%smixpanel.com/api/2.0/engage", prefix),
			Method:      MethodGET,
			ContentType: ContentTypeJSON,
		}, nil
	default:
		return EndpointInfo{}, fmt.Errorf("job: unrecognized recordType %q", rt)
	}
}
