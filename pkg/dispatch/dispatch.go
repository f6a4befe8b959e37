// Package dispatch implements the bounded-concurrency HTTP dispatcher (C5):
// a worker pool that serializes batches, optionally gzip-compresses them,
// and issues one HTTP request per batch against the ingest endpoint table,
// routing transient failures to pkg/retry. The worker-pool shape is
// grounded in the teacher's processor.StreamingProcessor.ProcessBatch
// sync.WaitGroup + buffered-channel fan-out/fan-in, generalized from a
// fixed batch size to an N-worker pool pulling off a shared channel, and
// its sync.Pool gzip.Writer reuse.
package dispatch

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"

	"ingestetl/pkg/job"
	"ingestetl/pkg/record"
	"ingestetl/pkg/retry"
)

// maxIdleConnsPerHostWorkerFactor ties the shared transport's connection
// pool cap to the configured worker count (spec.md §5).
const maxIdleConnsPerHostWorkerFactor = 2

// highWorkerCountWarning is the threshold past which a startup warning is
// emitted (spec.md §5: "if workers > 30 under the default transport, emit
// a startup warning").
const highWorkerCountWarning = 30

// Stats receives counter side effects routed from the dispatcher and its
// retry loop into job.State, kept narrow to avoid an import cycle.
type Stats interface {
	IncRequests()
	IncRetries()
	IncRateLimited()
	IncServerErrors()
	IncClientErrors()
	AddBytes(int64)
	RecordBatchOutcome(n int64, resp job.Response)
	RecordFailureMessage(message, sampleRecord string)
}

// Config configures a Dispatcher.
type Config struct {
	Workers           int
	Endpoint          job.EndpointInfo
	AuthHeader        string
	Compress          bool
	CompressionLevel  int
	MaxRetries        int
	RequestTimeout    time.Duration
	KeepBadRecords    bool
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = gzip.DefaultCompression
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Dispatcher owns the worker pool and the shared HTTP client/transport.
type Dispatcher struct {
	cfg    Config
	client *http.Client

	writerPool sync.Pool
	bufferPool sync.Pool
}

// New constructs a Dispatcher. It emits a startup warning when workers
// exceeds the default transport's comfortable connection-pool size.
func New(ctx context.Context, cfg Config) *Dispatcher {
	cfg = cfg.normalized()

	if cfg.Workers > highWorkerCountWarning {
		log.Ctx(ctx).Warn().
			Int("workers", cfg.Workers).
			Msg("worker count exceeds recommended connection-pool sizing")
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: cfg.Workers * maxIdleConnsPerHostWorkerFactor,
		MaxIdleConns:        cfg.Workers * maxIdleConnsPerHostWorkerFactor,
	}

	d := &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
	}
	d.writerPool.New = func() any { w, _ := gzip.NewWriterLevel(nil, cfg.CompressionLevel); return w }
	d.bufferPool.New = func() any { return bytes.NewBuffer(make([]byte, 0, 64*1024)) }
	return d
}

// Job is one unit of dispatcher work: a batch of records, or a raw CSV body
// for a lookup-table upload.
type Job struct {
	Records []record.Record
	RawCSV  []byte // set instead of Records for lookup-table uploads
}

// Run starts cfg.Workers goroutines consuming from jobs until it is closed
// or ctx is canceled, routing outcomes into st. It blocks until all workers
// exit.
func (d *Dispatcher) Run(ctx context.Context, jobs <-chan Job, st Stats) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx, jobs, st)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, jobs <-chan Job, st Stats) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			d.dispatchOne(ctx, j, st)
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, j Job, st Stats) {
	body, contentType, err := d.encode(j)
	n := int64(len(j.Records))
	if j.RawCSV != nil {
		n = 1
	}
	if err != nil {
		st.RecordFailureMessage(err.Error(), "")
		st.RecordBatchOutcome(n, job.Response{Success: false, Body: err.Error()})
		return
	}

	var lastResp job.Response
	retryErr := retry.Do(ctx, func() error {
		resp, outcome, rerr := d.send(ctx, body, contentType)
		st.IncRequests()
		if rerr != nil {
			return rerr
		}
		lastResp = resp
		switch outcome {
		case retry.OutcomeSuccess:
			return nil
		case retry.OutcomeTransient:
			if resp.Status == 429 {
				st.IncRateLimited()
			} else {
				st.IncServerErrors()
			}
			st.IncRetries()
			return fmt.Errorf("transient response: status %d", resp.Status)
		default:
			st.IncClientErrors()
			return retryTerminal{fmt.Errorf("terminal response: status %d body %s", resp.Status, resp.Body)}
		}
	}, retry.WithMaxRetries(d.cfg.MaxRetries), retry.WithRetryableError(func(err error) bool {
		var term retryTerminal
		return !asRetryTerminal(err, &term)
	}))

	if retryErr != nil && lastResp.Body == "" {
		lastResp = job.Response{Success: false, Body: retryErr.Error()}
	}
	lastResp.Success = retryErr == nil

	if !lastResp.Success {
		sample := ""
		if d.cfg.KeepBadRecords && len(j.Records) > 0 {
			if encoded, err := json.Marshal(j.Records[0]); err == nil {
				sample = string(encoded)
			}
		}
		st.RecordFailureMessage(lastResp.Body, sample)
	}

	st.RecordBatchOutcome(n, lastResp)
	st.AddBytes(int64(len(body)))
}

// retryTerminal wraps an error to mark it non-retryable to pkg/retry.Do.
type retryTerminal struct{ err error }

func (r retryTerminal) Error() string { return r.err.Error() }
func (r retryTerminal) Unwrap() error { return r.err }

func asRetryTerminal(err error, target *retryTerminal) bool {
	t, ok := err.(retryTerminal)
	if ok {
		*target = t
	}
	return ok
}

func (d *Dispatcher) encode(j Job) (body []byte, contentType string, err error) {
	if j.RawCSV != nil {
		return d.maybeCompress(j.RawCSV), string(d.cfg.Endpoint.ContentType), nil
	}
	raw, err := json.Marshal(j.Records)
	if err != nil {
		return nil, "", fmt.Errorf("dispatch: encoding batch: %w", err)
	}
	return d.maybeCompress(raw), string(d.cfg.Endpoint.ContentType), nil
}

func (d *Dispatcher) maybeCompress(raw []byte) []byte {
	if !d.cfg.Compress {
		return raw
	}
	buf := d.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer d.bufferPool.Put(buf)

	gz := d.writerPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer d.writerPool.Put(gz)

	if _, err := gz.Write(raw); err != nil {
		return raw
	}
	if err := gz.Close(); err != nil {
		return raw
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func (d *Dispatcher) send(ctx context.Context, body []byte, contentType string) (job.Response, retry.Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, string(d.cfg.Endpoint.Method), d.cfg.Endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return job.Response{}, retry.OutcomeTerminal, fmt.Errorf("dispatch: building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if d.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", d.cfg.AuthHeader)
	}
	if d.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return job.Response{}, retry.OutcomeTransient, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	outcome := retry.ClassifyHTTPStatus(resp.StatusCode)

	if outcome == retry.OutcomeTransient {
		if d, ok := retry.RetryAfter(resp.Header.Get("Retry-After")); ok {
			time.Sleep(d)
		}
	}

	return job.Response{Status: resp.StatusCode, Body: string(respBody), Success: outcome == retry.OutcomeSuccess}, outcome, nil
}
