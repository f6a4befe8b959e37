package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopSinkIsSafeToCallEveryMethod(t *testing.T) {
	var s Sink = NopSink{}
	s.RecordsProcessed(1)
	s.RecordsSucceeded(1)
	s.RecordsFailed(1)
	s.BatchesDispatched(1)
	s.RetryCount(1)
	s.RateLimited(1)
	s.DispatchLatency(time.Second)
	s.BytesSent(100)
	s.MemoryRSSBytes(100)
	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestCloudWatchSinkDisabledIsNoop(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "false")
	s := NewCloudWatchSink(nil, "ns", "job-1")
	s.RecordsProcessed(5)
	assert.Empty(t, s.metrics)
	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestCloudWatchSinkDimensionsIncludeJobID(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "false")
	s := NewCloudWatchSink(nil, "ns", "job-42")
	dims := s.dimensions()
	found := false
	for _, d := range dims {
		if *d.Name == "JobID" && *d.Value == "job-42" {
			found = true
		}
	}
	assert.True(t, found)
}
