package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestetl/pkg/config"
	"ingestetl/pkg/job"
)

func writeNDJSON(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	var data string
	for _, l := range lines {
		data += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestRunEmptyDirectoryIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	opts := &config.Options{
		RecordType: "event",
		Source:     dir,
		Token:      "test-token",
		Workers:    1,
	}

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Processed)
}

func TestRunMissingSourceIsTerminal(t *testing.T) {
	opts := &config.Options{
		RecordType: "event",
		Source:     "/no/such/path",
		Token:      "test-token",
		Workers:    1,
	}

	_, err := Run(context.Background(), opts)
	assert.Error(t, err)
}

func TestRunInvalidOptionsRejectedBeforeAnyWork(t *testing.T) {
	opts := &config.Options{RecordType: "not-a-real-type", Source: "x"}
	_, err := Run(context.Background(), opts)
	assert.Error(t, err)
}

func TestRunDispatchesDecodedEventsToConfiguredEndpoint(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := writeNDJSON(t,
		`{"event":"signup","properties":{"distinct_id":"u1","time":1700000000000}}`,
		`{"event":"login","properties":{"distinct_id":"u1","time":1700000001000}}`,
	)

	opts := &config.Options{
		RecordType:      "event",
		Source:          path,
		Token:           "test-token",
		Workers:         1,
		RecordsPerBatch: 10,
	}

	endpoint := job.EndpointInfo{URL: srv.URL, Method: job.MethodPOST, ContentType: job.ContentTypeJSON}
	summary, err := RunWithDeps(context.Background(), opts, Deps{Endpoint: &endpoint})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&hits), int64(1))
	assert.Equal(t, int64(2), summary.Success)
	assert.Equal(t, int64(0), summary.Failed)
}

func TestRunWritesNormalizedBatchToOutputSink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := writeNDJSON(t, `{"event":"signup","properties":{"distinct_id":"u1","time":1700000000000}}`)
	outPath := filepath.Join(t.TempDir(), "out.jsonl")

	opts := &config.Options{
		RecordType:      "event",
		Source:          path,
		Token:           "test-token",
		Workers:         1,
		RecordsPerBatch: 10,
		OutputPath:      outPath,
	}

	endpoint := job.EndpointInfo{URL: srv.URL, Method: job.MethodPOST, ContentType: job.ContentTypeJSON}
	_, err := RunWithDeps(context.Background(), opts, Deps{Endpoint: &endpoint})
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "signup")
}
