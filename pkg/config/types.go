// Package config owns the run-configuration surface (spec.md §6): the YAML-
// loadable Options struct and the loaders that can fetch it from a local
// file or AWS S3/SSM/Secrets Manager, adapted from the teacher's
// pkg/config loader family.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"ingestetl/pkg/job"
	"ingestetl/pkg/record"
	"ingestetl/pkg/transform"
)

// ComboRule mirrors transform.ComboRule for YAML decoding.
type ComboRule struct {
	Key   string `yaml:"key" validate:"required"`
	Value string `yaml:"value" validate:"required"`
}

// Options is the full run-configuration surface (spec.md §6, abbreviated
// list), loadable from YAML and validated with go-playground/validator.
type Options struct {
	RecordType string `yaml:"recordType" validate:"required,oneof=event user group table export profile-export scd export-import-events export-import-profiles"`
	Region     string `yaml:"region" validate:"omitempty,oneof=us eu in"`

	StreamFormat string `yaml:"streamFormat" validate:"omitempty,oneof=jsonl json csv tsv parquet"`
	Source       string `yaml:"source" validate:"required"`
	LookupTableID string `yaml:"lookupTableId"`

	Workers          int `yaml:"workers" validate:"omitempty,min=1,max=1000"`
	RecordsPerBatch  int `yaml:"recordsPerBatch" validate:"omitempty,min=1,max=2000"`
	BytesPerBatch    int `yaml:"bytesPerBatch" validate:"omitempty,min=1"`
	MaxRetries       int `yaml:"maxRetries" validate:"omitempty,min=0"`
	CompressionLevel int `yaml:"compressionLevel" validate:"omitempty,min=-1,max=9"`
	HighWater        int `yaml:"highWater" validate:"omitempty,min=1"`

	Compress       bool `yaml:"compress"`
	Strict         bool `yaml:"strict"`
	FixData        bool `yaml:"fixData"`
	FixTime        bool `yaml:"fixTime"`
	FixJSON        bool `yaml:"fixJson"`
	RemoveNulls    bool `yaml:"removeNulls"`
	FlattenData    bool `yaml:"flattenData"`
	Dedupe         bool `yaml:"dedupe"`
	AddToken       bool `yaml:"addToken"`
	ForceStream    bool `yaml:"forceStream"`
	ForceGzip      bool `yaml:"forceGzip"`
	Abridged       bool `yaml:"abridged"`
	V2Compat       bool `yaml:"v2_compat"`
	KeepBadRecords bool `yaml:"keepBadRecords"`

	EpochStart int64 `yaml:"epochStart"`
	EpochEnd   int64 `yaml:"epochEnd"`
	TimeOffset int   `yaml:"timeOffset"`

	Tags    map[string]any    `yaml:"tags"`
	Aliases map[string]string `yaml:"aliases"`

	VendorName string         `yaml:"vendor" validate:"omitempty,oneof=amplitude heap ga4 mparticle posthog june mixpanel"`
	VendorOpts map[string]any `yaml:"vendorOpts"`

	ScrubProps    []string `yaml:"scrubProps"`
	DropColumns   []string `yaml:"dropColumns"`
	InsertIDTuple []string `yaml:"insertIdTuple"`

	EventWhitelist   []string `yaml:"eventWhitelist"`
	EventBlacklist   []string `yaml:"eventBlacklist"`
	PropKeyWhitelist []string `yaml:"propKeyWhitelist"`
	PropKeyBlacklist []string `yaml:"propKeyBlacklist"`
	PropValWhitelist []string `yaml:"propValWhitelist"`
	PropValBlacklist []string `yaml:"propValBlacklist"`

	ComboWhiteList []ComboRule `yaml:"comboWhiteList"`
	ComboBlackList []ComboRule `yaml:"comboBlackList"`

	ThrottlePauseMB     int64 `yaml:"throttlePauseMB"`
	ThrottleResumeMB    int64 `yaml:"throttleResumeMB"`
	ThrottleMaxBufferMB int64 `yaml:"throttleMaxBufferMB"`

	ServiceAccount string `yaml:"serviceAccount"`
	ServicePass    string `yaml:"servicePass"`
	ProjectID      string `yaml:"projectId"`
	Secret         string `yaml:"secret"`
	Token          string `yaml:"token"`
	Bearer         string `yaml:"bearer"`

	OutputPath string `yaml:"outputPath"`

	// TransformFunc is never set from YAML; callers embedding this package
	// as a library set it after Load returns.
	TransformFunc func(record.Record) record.Record `yaml:"-"`
}

var validate = validator.New()

// Validate runs struct-tag validation over o.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}

// RecordKind maps the configured recordType to the transform-chain kind.
func (o *Options) RecordKind() record.Kind {
	return job.RecordType(o.RecordType).Kind()
}

// TransformOptions builds a transform.Options from the run configuration.
func (o *Options) TransformOptions() *transform.Options {
	combo := func(in []ComboRule) []transform.ComboRule {
		out := make([]transform.ComboRule, len(in))
		for i, c := range in {
			out[i] = transform.ComboRule{Key: c.Key, Value: c.Value}
		}
		return out
	}

	return &transform.Options{
		RecordKind:       o.RecordKind(),
		Aliases:          o.Aliases,
		InsertIDTuple:    o.InsertIDTuple,
		V2Compat:         o.V2Compat,
		RemoveNulls:      o.RemoveNulls,
		UTCOffsetHours:   o.TimeOffset,
		Tags:             o.Tags,
		EventWhitelist:   o.EventWhitelist,
		EventBlacklist:   o.EventBlacklist,
		PropKeyWhitelist: o.PropKeyWhitelist,
		PropKeyBlacklist: o.PropKeyBlacklist,
		PropValWhitelist: o.PropValWhitelist,
		PropValBlacklist: o.PropValBlacklist,
		ComboWhiteList:   combo(o.ComboWhiteList),
		ComboBlackList:   combo(o.ComboBlackList),
		EpochStartMS:     o.EpochStart,
		EpochEndMS:       o.EpochEnd,
		ScrubProps:       o.ScrubProps,
		DropColumns:      o.DropColumns,
		FlattenData:      o.FlattenData,
		FixJSON:          o.FixJSON,
		Token:            o.Token,
		AddToken:         o.AddToken,
		FixData:          o.FixData,
		FixTime:          o.FixTime,
		Dedupe:           o.Dedupe,
		TransformFunc:    o.TransformFunc,
		Strict:           o.Strict,
	}
}

// Credentials extracts the auth inputs for job.ResolveAuth.
func (o *Options) Credentials() job.Credentials {
	rt := job.RecordType(o.RecordType)
	return job.Credentials{
		ServiceAccount: o.ServiceAccount,
		ServicePass:    o.ServicePass,
		ProjectID:      o.ProjectID,
		Secret:         o.Secret,
		Token:          o.Token,
		Bearer:         o.Bearer,
		ProfileOnly:    rt == job.RecordTypeUser || rt == job.RecordTypeGroup,
	}
}
