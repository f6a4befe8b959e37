// Package source classifies a run's input, given as a string — "-" for
// stdin, a local path, a directory, an s3:// URI, or a gs:// URI read
// through the same S3 client as s3:// — and produces a lazy sequence of
// named byte streams for the decoder (C2) to consume. A pre-opened stream
// or an in-memory byte buffer is not accepted as input. Remote objects are
// fetched through the same narrow S3API/DownloaderAPI interfaces the
// teacher's cloudtrailprocessor.S3Copier uses for CloudTrail downloads.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Stream is one named byte stream ready for format detection and decoding.
type Stream struct {
	Name string
	Body io.ReadCloser
	// Size is the stream's length in bytes when known in advance (0 when
	// not, e.g. stdin or an unsized remote object).
	Size int64
}

// S3API is the narrow interface the resolver needs from an S3 client for
// listing and small-object reads.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// DownloaderAPI is the narrow interface for multi-part S3 downloads of
// large objects, mirroring the teacher's cloudtrailprocessor.DownloaderAPI.
type DownloaderAPI interface {
	Download(ctx context.Context, w io.WriterAt, in *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

// recognizedExt lists the extensions the decoder package understands;
// anything else is skipped during directory expansion.
var recognizedExt = map[string]bool{
	".jsonl": true, ".ndjson": true, ".json": true,
	".csv": true, ".tsv": true, ".parquet": true, ".gz": true,
}

// Resolver classifies and opens a run's configured source.
type Resolver struct {
	s3            S3API
	downloader    DownloaderAPI
	multipartSize int64 // bytes; objects at or above this size use Downloader
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMultipartThreshold sets the object size, in bytes, at or above which
// S3 objects are fetched with the multi-part Downloader instead of a plain
// GetObject. Zero disables multi-part downloads entirely.
func WithMultipartThreshold(bytes int64) Option {
	return func(r *Resolver) { r.multipartSize = bytes }
}

const defaultMultipartThreshold = 64 * 1024 * 1024

// New builds a Resolver. s3c/downloader may be nil when the run never
// references a remote source; a nil client used against an s3:// source
// fails at resolve time with a terminal error.
func New(s3c S3API, downloader DownloaderAPI, opts ...Option) *Resolver {
	r := &Resolver{s3: s3c, downloader: downloader, multipartSize: defaultMultipartThreshold}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve classifies source and returns a lazy sequence of Streams over a
// channel, plus an error channel carrying at most one terminal error. The
// streams channel is closed when resolution completes or fails; ctx
// cancellation stops directory/prefix expansion early.
func (r *Resolver) Resolve(ctx context.Context, src string) (<-chan Stream, <-chan error) {
	streams := make(chan Stream)
	errs := make(chan error, 1)

	go func() {
		defer close(streams)
		defer close(errs)

		switch {
		case src == "-":
			select {
			case streams <- Stream{Name: "stdin", Body: os.Stdin}:
			case <-ctx.Done():
			}
		case strings.HasPrefix(src, "s3://"):
			r.resolveS3(ctx, src, streams, errs)
		case strings.HasPrefix(src, "gs://"):
			// No GCS SDK is available in the dependency set this module
			// draws from; gs:// is rewritten to s3:// and read through
			// the resolver's S3 client. Which endpoint that client
			// targets is not checked; with no S3 client, gs:// fails.
			if r.s3 == nil {
				errs <- fmt.Errorf("source: gs:// requires an S3-compatible endpoint override, none configured")
				return
			}
			r.resolveS3(ctx, "s3://"+strings.TrimPrefix(src, "gs://"), streams, errs)
		default:
			r.resolveLocal(ctx, src, streams, errs)
		}
	}()

	return streams, errs
}

func (r *Resolver) resolveLocal(ctx context.Context, path string, streams chan<- Stream, errs chan<- error) {
	info, err := os.Stat(path)
	if err != nil {
		errs <- fmt.Errorf("source: stat %s: %w", path, err)
		return
	}

	if !info.IsDir() {
		f, err := os.Open(path)
		if err != nil {
			errs <- fmt.Errorf("source: open %s: %w", path, err)
			return
		}
		select {
		case streams <- Stream{Name: path, Body: f, Size: info.Size()}:
		case <-ctx.Done():
			f.Close()
		}
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		errs <- fmt.Errorf("source: reading directory %s: %w", path, err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if !recognizedExt[strings.ToLower(filepath.Ext(name))] {
			log.Ctx(ctx).Warn().Str("file", name).Msg("skipping file with unrecognized extension")
			continue
		}
		full := filepath.Join(path, name)
		fi, err := os.Stat(full)
		if err != nil {
			errs <- fmt.Errorf("source: stat %s: %w", full, err)
			return
		}
		f, err := os.Open(full)
		if err != nil {
			errs <- fmt.Errorf("source: open %s: %w", full, err)
			return
		}
		select {
		case streams <- Stream{Name: full, Body: f, Size: fi.Size()}:
		case <-ctx.Done():
			f.Close()
			return
		}
	}
}

func (r *Resolver) resolveS3(ctx context.Context, uri string, streams chan<- Stream, errs chan<- error) {
	if r.s3 == nil {
		errs <- fmt.Errorf("source: s3 source configured but no S3 client available")
		return
	}
	bucket, key, err := splitS3URI(uri)
	if err != nil {
		errs <- err
		return
	}

	// A key ending in "/" (or empty) is a prefix; list and expand in
	// lexical key order, skipping unrecognized extensions exactly as the
	// local directory path does.
	if key == "" || strings.HasSuffix(key, "/") {
		out, err := r.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &bucket, Prefix: &key})
		if err != nil {
			errs <- fmt.Errorf("source: listing s3://%s/%s: %w", bucket, key, err)
			return
		}
		objKeys := make([]string, 0, len(out.Contents))
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			objKeys = append(objKeys, *obj.Key)
		}
		sort.Strings(objKeys)
		for _, k := range objKeys {
			if !recognizedExt[strings.ToLower(filepath.Ext(k))] {
				log.Ctx(ctx).Warn().Str("key", k).Msg("skipping s3 object with unrecognized extension")
				continue
			}
			if err := r.fetchOne(ctx, bucket, k, streams); err != nil {
				errs <- err
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		return
	}

	if err := r.fetchOne(ctx, bucket, key, streams); err != nil {
		errs <- err
	}
}

func (r *Resolver) fetchOne(ctx context.Context, bucket, key string, streams chan<- Stream) error {
	name := fmt.Sprintf("s3://%s/%s", bucket, key)

	if r.downloader != nil && r.multipartSize > 0 {
		head, err := r.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
		if err == nil && head.ContentLength != nil && *head.ContentLength >= r.multipartSize {
			head.Body.Close()
			buf := manager.NewWriteAtBuffer(make([]byte, 0, *head.ContentLength))
			if _, err := r.downloader.Download(ctx, buf, &s3.GetObjectInput{Bucket: &bucket, Key: &key}); err != nil {
				return fmt.Errorf("source: multi-part download %s: %w", name, err)
			}
			body := io.NopCloser(bytes.NewReader(buf.Bytes()))
			select {
			case streams <- Stream{Name: name, Body: body, Size: int64(len(buf.Bytes()))}:
			case <-ctx.Done():
			}
			return nil
		}
		if err == nil {
			select {
			case streams <- Stream{Name: name, Body: head.Body, Size: derefInt64(head.ContentLength)}:
			case <-ctx.Done():
				head.Body.Close()
			}
			return nil
		}
	}

	out, err := r.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("source: fetching %s: %w", name, err)
	}
	select {
	case streams <- Stream{Name: name, Body: out.Body, Size: derefInt64(out.ContentLength)}:
	case <-ctx.Done():
		out.Body.Close()
	}
	return nil
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func splitS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("source: invalid s3 uri %q: missing bucket", uri)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}
