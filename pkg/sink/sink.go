// Package sink writes normalized batches to an optional output destination
// — a local file or an s3:// prefix — alongside dispatching them to the
// ingest API. Streaming upload grounded in the teacher's S3Copier.Start
// pipe-writer + pooled gzip pattern (cloudtrailprocessor.go), generalized
// from "upload one filtered CloudTrail file" to "append one batch".
package sink

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"

	"ingestetl/pkg/record"
)

// UploaderAPI is the narrow interface a Sink needs from an S3 uploader.
type UploaderAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Sink accepts normalized record batches and writes them, one NDJSON line
// per record, to a destination. It never blocks the dispatcher: each
// WriteBatch call is independent and safe to call concurrently.
type Sink interface {
	WriteBatch(ctx context.Context, batch []record.Record) error
	Close(ctx context.Context) error
}

var gzipWriterPool = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

// New builds a Sink for the given output path. An empty path returns a
// no-op sink. An "s3://" prefix returns an S3Sink; anything else is treated
// as a local file path.
func New(path string, uploader UploaderAPI) (Sink, error) {
	if path == "" {
		return noopSink{}, nil
	}
	if strings.HasPrefix(path, "s3://") {
		bucket, key, err := splitS3URI(path)
		if err != nil {
			return nil, err
		}
		if uploader == nil {
			return nil, fmt.Errorf("sink: s3 output configured but no uploader available")
		}
		return &S3Sink{bucket: bucket, key: key, uploader: uploader}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: creating %s: %w", path, err)
	}
	return &LocalSink{f: f}, nil
}

type noopSink struct{}

func (noopSink) WriteBatch(context.Context, []record.Record) error { return nil }
func (noopSink) Close(context.Context) error                       { return nil }

// LocalSink appends NDJSON-encoded batches to a local file.
type LocalSink struct {
	mu sync.Mutex
	f  *os.File
}

func (s *LocalSink) WriteBatch(ctx context.Context, batch []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.f)
	for _, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("sink: encoding record: %w", err)
		}
	}
	return nil
}

func (s *LocalSink) Close(context.Context) error { return s.f.Close() }

// S3Sink uploads each batch as its own gzip-compressed NDJSON object under
// the configured key prefix, numbered by arrival order. Each batch streams
// through an io.Pipe with a pooled gzip.Writer exactly as the teacher's
// UploadJob.Start streams filtered CloudTrail records, generalized from a
// single whole-file upload to one object per batch.
type S3Sink struct {
	bucket, key string
	uploader    UploaderAPI
	seq         int64
}

func (s *S3Sink) WriteBatch(ctx context.Context, batch []record.Record) error {
	n := atomic.AddInt64(&s.seq, 1)
	objKey := fmt.Sprintf("%s/batch-%06d.jsonl.gz", strings.TrimSuffix(s.key, "/"), n)

	pr, pw := io.Pipe()
	uploadErr := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				uploadErr <- fmt.Errorf("sink: upload goroutine panic: %v", r)
			}
		}()
		gw := gzipWriterPool.Get().(*gzip.Writer)
		gw.Reset(pw)
		defer gzipWriterPool.Put(gw)

		enc := json.NewEncoder(gw)
		var encErr error
		for _, rec := range batch {
			if err := enc.Encode(rec); err != nil {
				encErr = err
				break
			}
		}
		_ = gw.Close()
		_ = pw.Close()
		uploadErr <- encErr
	}()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
		Body:   pr,
	})
	if err != nil {
		return fmt.Errorf("sink: uploading %s: %w", objKey, err)
	}
	if encErr := <-uploadErr; encErr != nil {
		return fmt.Errorf("sink: encoding batch for %s: %w", objKey, encErr)
	}

	log.Ctx(ctx).Debug().Str("bucket", s.bucket).Str("key", objKey).Int("records", len(batch)).Msg("batch written to output sink")
	return nil
}

func (s *S3Sink) Close(context.Context) error { return nil }

func splitS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("sink: invalid s3 uri %q: missing bucket", uri)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}
