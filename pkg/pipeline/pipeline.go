// Package pipeline wires the nine components (C1-C9) into one run: it
// resolves the source, decodes records, maps vendor payloads, runs them
// through the transform chain, batches, and dispatches, gated by the
// memory throttle. Stage-to-stage handoff uses a buffered channel sized to
// the configured high-water mark, matching spec.md §5's "object-mode,
// capacity = highWater" backpressure model with Go's native channel
// capacity instead of a library queue.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ingestetl/pkg/batch"
	"ingestetl/pkg/config"
	"ingestetl/pkg/decode"
	"ingestetl/pkg/dispatch"
	"ingestetl/pkg/job"
	"ingestetl/pkg/metrics"
	"ingestetl/pkg/record"
	"ingestetl/pkg/sink"
	"ingestetl/pkg/source"
	"ingestetl/pkg/throttle"
	"ingestetl/pkg/transform"
	"ingestetl/pkg/vendor"
)

const defaultHighWater = 2000

// Deps bundles the external collaborators a Run needs. Every field may be
// left nil for local-file-only, non-AWS, metrics-free runs.
type Deps struct {
	S3API         source.S3API
	Downloader    source.DownloaderAPI
	Uploader      sink.UploaderAPI
	Metrics       metrics.Sink
	OnProgress    func(job.Snapshot)
	ProgressEvery time.Duration
	// Endpoint overrides the region/recordType-resolved ingest endpoint.
	// Used for tests and for self-hosted ingest-API-compatible proxies.
	Endpoint *job.EndpointInfo
}

// Run executes one end-to-end ingest run for opts, returning the final
// Summary. It never panics across the package boundary: every failure is
// reported as an error or folded into a counter per spec.md §7.
func Run(ctx context.Context, opts *config.Options) (job.Summary, error) {
	return RunWithDeps(ctx, opts, Deps{})
}

// RunWithDeps is Run with explicit collaborators, used by cmd/ingest and by
// tests that fake S3/metrics.
func RunWithDeps(ctx context.Context, opts *config.Options, deps Deps) (job.Summary, error) {
	if err := opts.Validate(); err != nil {
		return job.Summary{}, err
	}

	rt := job.RecordType(opts.RecordType)
	region := job.Region(opts.Region)
	if region == "" {
		region = job.RegionUS
	}

	endpoint, err := job.ResolveEndpoint(region, rt, opts.LookupTableID)
	if err != nil {
		return job.Summary{}, fmt.Errorf("pipeline: resolving endpoint: %w", err)
	}
	if deps.Endpoint != nil {
		endpoint = *deps.Endpoint
	}
	auth, err := job.ResolveAuth(opts.Credentials())
	if err != nil {
		return job.Summary{}, fmt.Errorf("pipeline: resolving auth: %w", err)
	}

	st := job.New(string(opts.RecordKind()), opts.Abridged)
	if deps.OnProgress != nil {
		st.OnProgress(deps.OnProgress)
	}

	metricsSink := deps.Metrics
	if metricsSink == nil {
		metricsSink = metrics.NopSink{}
	}

	outSink, err := sink.New(opts.OutputPath, deps.Uploader)
	if err != nil {
		return job.Summary{}, fmt.Errorf("pipeline: constructing output sink: %w", err)
	}
	defer outSink.Close(ctx)

	highWater := opts.HighWater
	if highWater <= 0 {
		highWater = defaultHighWater
	}

	mt := throttle.New(throttle.Config{
		PauseMB:  opts.ThrottlePauseMB,
		ResumeMB: opts.ThrottleResumeMB,
	}, throttle.RuntimeSampler, st.SampleMemory)
	throttleCtx, stopThrottle := context.WithCancel(ctx)
	defer stopThrottle()
	if mt.Enabled() {
		go mt.Run(throttleCtx)
	}

	dispatcher := dispatch.New(ctx, dispatch.Config{
		Workers:          opts.Workers,
		Endpoint:         endpoint,
		AuthHeader:       auth.Value,
		Compress:         opts.Compress,
		CompressionLevel: opts.CompressionLevel,
		MaxRetries:       opts.MaxRetries,
		KeepBadRecords:   opts.KeepBadRecords,
	})

	jobs := make(chan dispatch.Job, highWater/batchHint(opts)+1)
	var dispatchWG sync.WaitGroup
	dispatchWG.Add(1)
	go func() {
		defer dispatchWG.Done()
		dispatcher.Run(ctx, jobs, st)
	}()

	progressStop := startProgressTicker(ctx, st, deps.ProgressEvery)
	defer progressStop()

	resolver := source.New(deps.S3API, deps.Downloader)
	streams, srcErrs := resolver.Resolve(ctx, opts.Source)

	chain := transform.Build(opts.TransformOptions())
	adapter := vendor.Resolve(opts.VendorName)
	batcher := batch.New(batch.Config{MaxRecords: opts.RecordsPerBatch, MaxBytes: opts.BytesPerBatch})

	flush := func(recs []record.Record) {
		if len(recs) == 0 {
			return
		}
		if err := outSink.WriteBatch(ctx, recs); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("writing batch to output sink")
		}
		select {
		case jobs <- dispatch.Job{Records: recs}:
			metricsSink.BatchesDispatched(1)
		case <-ctx.Done():
		}
	}

	processErr := processStreams(ctx, streams, opts, chain, adapter, batcher, st, mt, flush)

	if remaining := batcher.Flush(); len(remaining) > 0 {
		flush(remaining)
	}

	close(jobs)
	dispatchWG.Wait()

	metricsSink.RecordsProcessed(int(st.Snapshot().Processed))
	if flushErr := metricsSink.Flush(ctx); flushErr != nil {
		log.Ctx(ctx).Warn().Err(flushErr).Msg("flushing metrics")
	}

	if processErr != nil {
		st.MarkPartial()
	}
	if srcErr, ok := <-srcErrs; ok && srcErr != nil && processErr == nil {
		processErr = srcErr
		st.MarkPartial()
	}

	summary := st.Finish()
	if processErr != nil {
		return summary, processErr
	}
	return summary, nil
}

// batchHint sizes the jobs channel relative to the configured batch size so
// the producer can stay ~highWater records ahead of the dispatcher without
// unbounded buffering.
func batchHint(opts *config.Options) int {
	if opts.RecordsPerBatch > 0 {
		return opts.RecordsPerBatch
	}
	return batch.DefaultMaxRecords
}

func startProgressTicker(ctx context.Context, st *job.State, every time.Duration) func() {
	if every <= 0 {
		every = 2 * time.Second
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.Emit()
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(stop) }
}

// processStreams drains the resolver's stream sequence, decoding, vendor-
// mapping, transforming, and batching each record, gated by the memory
// throttle between streams.
func processStreams(
	ctx context.Context,
	streams <-chan source.Stream,
	opts *config.Options,
	chain *transform.Chain,
	adapter vendor.Adapter,
	batcher *batch.Batcher,
	st *job.State,
	mt *throttle.Throttle,
	flush func([]record.Record),
) error {
	kind := opts.RecordKind()

	for stream := range streams {
		if err := waitWhilePaused(ctx, mt); err != nil {
			return err
		}

		format, ok := decode.DetectFormat(stream.Name)
		if !ok && opts.StreamFormat != "" {
			format = decode.Format(opts.StreamFormat)
			ok = true
		}
		if !ok {
			log.Ctx(ctx).Warn().Str("source", stream.Name).Msg("could not determine stream format, skipping")
			stream.Body.Close()
			continue
		}

		body, err := decode.Open(stream.Body, opts.ForceGzip, !opts.ForceGzip)
		if err != nil {
			stream.Body.Close()
			return fmt.Errorf("pipeline: opening %s: %w", stream.Name, err)
		}

		it, err := decode.New(format, body, nil, st)
		if err != nil {
			body.Close()
			return fmt.Errorf("pipeline: decoding %s: %w", stream.Name, err)
		}

		for it.Next() {
			raw := it.Record()
			for _, mapped := range mapThroughVendor(raw, kind, adapter) {
				out, ok := chain.Apply(mapped, st)
				if !ok {
					continue
				}
				if flushed, didFlush := batcher.Add(out, st); didFlush {
					flush(flushed)
				}
			}
			if err := waitWhilePaused(ctx, mt); err != nil {
				it.Close()
				return err
			}
		}
		if err := it.Err(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("source", stream.Name).Msg("stream ended with a decode error")
		}
		it.Close()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func mapThroughVendor(rec record.Record, kind record.Kind, adapter vendor.Adapter) []record.Record {
	switch kind {
	case record.KindEvent:
		return adapter.Events(rec)
	case record.KindUserProfile:
		return adapter.UserProfiles(rec)
	case record.KindGroupProfile:
		return adapter.GroupProfiles(rec)
	default:
		return []record.Record{rec}
	}
}

// waitWhilePaused blocks while the memory throttle is gating the producer,
// polling at a short fixed interval since Throttle exposes no wait channel
// (spec.md §4.9: pause/resume is a level, not an edge, signal).
func waitWhilePaused(ctx context.Context, mt *throttle.Throttle) error {
	if !mt.Enabled() {
		return nil
	}
	for mt.Paused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}
