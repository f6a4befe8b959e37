package batch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestetl/pkg/record"
)

type countingStats struct{ oversize int }

func (c *countingStats) IncOversizeDropped() { c.oversize++ }

func TestBatcherSplitsOnRecordCount(t *testing.T) {
	b := New(Config{MaxRecords: 2, MaxBytes: DefaultMaxBytes})
	st := &countingStats{}

	flushed1, did1 := b.Add(record.Record{"a": 1}, st)
	flushed2, did2 := b.Add(record.Record{"a": 2}, st)
	flushed3, did3 := b.Add(record.Record{"a": 3}, st)

	assert.False(t, did1)
	assert.False(t, did2)
	assert.True(t, did3)
	assert.Nil(t, flushed1)
	assert.Nil(t, flushed2)
	require.Len(t, flushed3, 2)

	rest := b.Flush()
	require.Len(t, rest, 1)
}

func TestBatcherSplitsOnByteSize(t *testing.T) {
	big := strings.Repeat("x", 100)
	b := New(Config{MaxRecords: 1000, MaxBytes: 150})
	st := &countingStats{}

	_, did1 := b.Add(record.Record{"v": big}, st)
	flushed2, did2 := b.Add(record.Record{"v": big}, st)

	assert.False(t, did1)
	assert.True(t, did2)
	require.Len(t, flushed2, 1)
}

func TestBatcherDropsOversizeRecord(t *testing.T) {
	huge := strings.Repeat("x", 1000)
	b := New(Config{MaxRecords: 10, MaxBytes: 100})
	st := &countingStats{}

	flushed, did := b.Add(record.Record{"v": huge}, st)
	assert.False(t, did)
	assert.Nil(t, flushed)
	assert.Equal(t, 1, st.oversize)

	assert.Nil(t, b.Flush())
}

func TestBatcherRecordsEmittedSizesInRing(t *testing.T) {
	b := New(Config{MaxRecords: 1, MaxBytes: DefaultMaxBytes, RingSize: 4})
	st := &countingStats{}

	b.Add(record.Record{"a": 1}, st)
	b.Add(record.Record{"a": 2}, st)
	b.Flush()

	sizes := b.RecentSizes()
	assert.Equal(t, []int{1, 1}, sizes)
}

func TestBatcherMaxRecordsClampedToHardCeiling(t *testing.T) {
	b := New(Config{MaxRecords: 5000})
	assert.Equal(t, DefaultMaxRecords, b.cfg.MaxRecords)
}
