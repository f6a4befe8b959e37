// Command ingest is a minimal CLI harness around pkg/pipeline: it loads run
// configuration, wires real AWS clients, and runs one ingest job to
// completion. It does not implement a UI or WebSocket progress feed; the
// library in pkg/pipeline is the thing meant to be embedded.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	myaws "ingestetl/pkg/aws"
	"ingestetl/pkg/config"
	"ingestetl/pkg/job"
	"ingestetl/pkg/metrics"
	"ingestetl/pkg/pipeline"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	initializeLogger()

	log.Info().Str("version", version).Str("commit", commit).Msg("ingest starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("ingest run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("ingest: loading AWS config: %w", err)
	}

	loader := config.FromEnv(&awsCfg)
	log.Info().Str("loader", loader.String()).Msg("loading run configuration")

	opts, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("ingest: loading run configuration: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 64 * 1024 * 1024
	})
	downloader := manager.NewDownloader(s3Client, func(d *manager.Downloader) {
		d.PartSize = 64 * 1024 * 1024
	})

	conn, err := myaws.New(&awsCfg, getEnv("SQS_QUEUE_URL", ""), getEnv("SNS_TOPIC_ARN", ""))
	if err != nil {
		return fmt.Errorf("ingest: building AWS connection: %w", err)
	}
	ctx = myaws.Inject(ctx, conn)

	jobID := fmt.Sprintf("ingest-%d", time.Now().UnixNano())
	var metricsSink metrics.Sink = metrics.NopSink{}
	if getEnv("METRICS_ENABLED", "true") == "true" {
		metricsSink = metrics.NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg), getEnv("METRICS_NAMESPACE", "IngestETL"), jobID)
	}

	deps := pipeline.Deps{
		S3API:      s3Client,
		Downloader: downloader,
		Uploader:   uploader,
		Metrics:    metricsSink,
		OnProgress: func(snap job.Snapshot) {
			log.Info().
				Int64("processed", snap.Processed).
				Int64("success", snap.Success).
				Int64("failed", snap.Failed).
				Msg("progress")
		},
	}

	summary, runErr := pipeline.RunWithDeps(ctx, opts, deps)

	log.Info().
		Int64("processed", summary.Processed).
		Int64("success", summary.Success).
		Int64("failed", summary.Failed).
		Bool("partial", summary.Partial).
		Float64("durationSeconds", summary.DurationSeconds).
		Msg("ingest finished")

	completionConn, connErr := myaws.GetConnectionFromContext(ctx)
	if connErr != nil {
		log.Warn().Err(connErr).Msg("no AWS connection in context, skipping completion broadcast")
	} else if broadcastErr := completionConn.BroadCastEvent(ctx, fmt.Sprintf("ingest job %s finished: %d processed, %d failed", jobID, summary.Processed, summary.Failed)); broadcastErr != nil {
		log.Warn().Err(broadcastErr).Msg("broadcasting job completion")
	}

	return runErr
}

func initializeLogger() {
	logLevelStr := getEnv("LOG_LEVEL", "info")
	logLevel, err := zerolog.ParseLevel(logLevelStr)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(logLevel)

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
