// Package metrics publishes job counters to CloudWatch, adapted from the
// teacher's CloudWatchMetrics collector: same batched-PutMetricData,
// background-flush-ticker shape, rewired to the ingest vocabulary
// (RecordsProcessed, RecordsSucceeded, RecordsFailed, BatchesDispatched,
// RetryCount, RateLimited, DispatchLatency, BytesSent, MemoryRSSBytes)
// instead of CloudTrail filter metrics.
package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog/log"
)

// Sink receives job-level counters. pipeline.RunWithDeps calls into a Sink
// so CloudWatch publishing is optional; NopSink is the test/library default.
type Sink interface {
	RecordsProcessed(count int)
	RecordsSucceeded(count int)
	RecordsFailed(count int)
	BatchesDispatched(count int)
	RetryCount(count int)
	RateLimited(count int)
	DispatchLatency(d time.Duration)
	BytesSent(n int64)
	MemoryRSSBytes(bytes int64)
	Flush(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NopSink discards every metric, mirroring the teacher's
// NopMetricsCollector default for tests and library embedders that don't
// want CloudWatch wired in.
type NopSink struct{}

func (NopSink) RecordsProcessed(int)             {}
func (NopSink) RecordsSucceeded(int)             {}
func (NopSink) RecordsFailed(int)                {}
func (NopSink) BatchesDispatched(int)            {}
func (NopSink) RetryCount(int)                   {}
func (NopSink) RateLimited(int)                  {}
func (NopSink) DispatchLatency(time.Duration)    {}
func (NopSink) BytesSent(int64)                  {}
func (NopSink) MemoryRSSBytes(int64)             {}
func (NopSink) Flush(context.Context) error      { return nil }
func (NopSink) Stop(context.Context) error       { return nil }

// CloudWatchSink batches metrics locally and flushes them to CloudWatch in
// groups of 20 (CloudWatch's per-request maximum), either on a timer or
// when the buffer fills.
type CloudWatchSink struct {
	client    *cloudwatch.Client
	namespace string
	jobID     string

	mu      sync.Mutex
	metrics []types.MetricDatum

	batchSize     int
	flushInterval time.Duration
	enabled       bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCloudWatchSink creates a CloudWatch-backed Sink for one run, tagged
// with jobID as a dimension on every metric.
func NewCloudWatchSink(client *cloudwatch.Client, namespace, jobID string) *CloudWatchSink {
	enabled := os.Getenv("METRICS_ENABLED") != "false"

	s := &CloudWatchSink{
		client:        client,
		namespace:     namespace,
		jobID:         jobID,
		metrics:       make([]types.MetricDatum, 0, 20),
		batchSize:     20,
		flushInterval: 10 * time.Second,
		enabled:       enabled,
		stopCh:        make(chan struct{}),
	}

	if enabled {
		s.startBackgroundFlusher()
	}

	return s
}

func (s *CloudWatchSink) startBackgroundFlusher() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("failed to flush metrics")
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop stops the background flusher and flushes remaining metrics.
func (s *CloudWatchSink) Stop(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	close(s.stopCh)
	s.wg.Wait()
	return s.Flush(ctx)
}

func (s *CloudWatchSink) RecordsProcessed(count int) {
	s.addCount("RecordsProcessed", count)
}

func (s *CloudWatchSink) RecordsSucceeded(count int) {
	s.addCount("RecordsSucceeded", count)
}

func (s *CloudWatchSink) RecordsFailed(count int) {
	s.addCount("RecordsFailed", count)
}

func (s *CloudWatchSink) BatchesDispatched(count int) {
	s.addCount("BatchesDispatched", count)
}

func (s *CloudWatchSink) RetryCount(count int) {
	s.addCount("RetryCount", count)
}

func (s *CloudWatchSink) RateLimited(count int) {
	s.addCount("RateLimited", count)
}

func (s *CloudWatchSink) DispatchLatency(d time.Duration) {
	if !s.enabled {
		return
	}
	s.addMetric(types.MetricDatum{
		MetricName: aws.String("DispatchLatency"),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       types.StandardUnitMilliseconds,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: s.dimensions(),
	})
}

func (s *CloudWatchSink) BytesSent(n int64) {
	if !s.enabled {
		return
	}
	s.addMetric(types.MetricDatum{
		MetricName: aws.String("BytesSent"),
		Value:      aws.Float64(float64(n)),
		Unit:       types.StandardUnitBytes,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: s.dimensions(),
	})
}

func (s *CloudWatchSink) MemoryRSSBytes(bytes int64) {
	if !s.enabled {
		return
	}
	s.addMetric(types.MetricDatum{
		MetricName: aws.String("MemoryRSSBytes"),
		Value:      aws.Float64(float64(bytes)),
		Unit:       types.StandardUnitBytes,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: s.dimensions(),
	})
}

func (s *CloudWatchSink) addCount(name string, count int) {
	if !s.enabled {
		return
	}
	s.addMetric(types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(count)),
		Unit:       types.StandardUnitCount,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: s.dimensions(),
	})
}

func (s *CloudWatchSink) dimensions() []types.Dimension {
	dims := make([]types.Dimension, 0, 2)
	if s.jobID != "" {
		dims = append(dims, types.Dimension{Name: aws.String("JobID"), Value: aws.String(s.jobID)})
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		dims = append(dims, types.Dimension{Name: aws.String("Region"), Value: aws.String(region)})
	}
	return dims
}

func (s *CloudWatchSink) addMetric(metric types.MetricDatum) {
	s.mu.Lock()
	s.metrics = append(s.metrics, metric)
	full := len(s.metrics) >= s.batchSize
	s.mu.Unlock()

	if full {
		go func() {
			if err := s.Flush(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to auto-flush metrics")
			}
		}()
	}
}

// Flush sends all buffered metrics to CloudWatch in batches of 20.
func (s *CloudWatchSink) Flush(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	s.mu.Lock()
	if len(s.metrics) == 0 {
		s.mu.Unlock()
		return nil
	}
	pending := make([]types.MetricDatum, len(s.metrics))
	copy(pending, s.metrics)
	s.metrics = s.metrics[:0]
	s.mu.Unlock()

	for i := 0; i < len(pending); i += s.batchSize {
		end := i + s.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(s.namespace),
			MetricData: pending[i:end],
		})
		if err != nil {
			return fmt.Errorf("metrics: put metric data: %w", err)
		}
	}

	log.Debug().Int("count", len(pending)).Msg("flushed metrics to CloudWatch")
	return nil
}
