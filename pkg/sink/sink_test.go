package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestetl/pkg/record"
)

func TestNewEmptyPathReturnsNoop(t *testing.T) {
	s, err := New("", nil)
	require.NoError(t, err)
	require.NoError(t, s.WriteBatch(context.Background(), []record.Record{{"a": 1}}))
	require.NoError(t, s.Close(context.Background()))
}

func TestLocalSinkAppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	s, err := New(path, nil)
	require.NoError(t, err)

	require.NoError(t, s.WriteBatch(context.Background(), []record.Record{{"event": "a"}, {"event": "b"}}))
	require.NoError(t, s.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "a", rec["event"])
}

func TestNewS3WithoutUploaderErrors(t *testing.T) {
	_, err := New("s3://bucket/prefix", nil)
	assert.Error(t, err)
}

type fakeUploader struct {
	uploaded map[string][]byte
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[*in.Key] = data
	return &manager.UploadOutput{Key: in.Key}, nil
}

func TestS3SinkUploadsGzippedNDJSONPerBatch(t *testing.T) {
	uploader := &fakeUploader{}
	s, err := New("s3://bucket/prefix", uploader)
	require.NoError(t, err)

	require.NoError(t, s.WriteBatch(context.Background(), []record.Record{{"event": "a"}}))
	require.NoError(t, s.WriteBatch(context.Background(), []record.Record{{"event": "b"}}))

	require.Len(t, uploader.uploaded, 2)

	for key, data := range uploader.uploaded {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		require.NoError(t, err, key)
		raw, err := io.ReadAll(gz)
		require.NoError(t, err)
		var rec map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &rec))
		assert.Contains(t, []string{"a", "b"}, rec["event"])
	}
}

func TestSplitS3URI(t *testing.T) {
	bucket, key, err := splitS3URI("s3://my-bucket/path/to/prefix")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "path/to/prefix", key)
}
