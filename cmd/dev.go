//go:build dev
// +build dev

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"

	"ingestetl/pkg/config"
	"ingestetl/pkg/decode"
	"ingestetl/pkg/record"
	"ingestetl/pkg/transform"
	"ingestetl/pkg/vendor"
)

var (
	ctx           context.Context
	allExamples   *bool
	examplesDir   string
	testFileName  string
	configFile    string
	outputFolder  string
	outputRecords *bool
)

func init() {
	logLevelStr := os.Getenv("LOG_LEVEL")
	logLevel, err := zerolog.ParseLevel(logLevelStr)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(logLevel)

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx = logger.WithContext(context.Background())

	allExamples = flag.Bool("all", false, "run every file in -folder instead of -file")
	outputRecords = flag.Bool("output", true, "write transformed records to -out")
	flag.StringVar(&examplesDir, "folder", "./examples", "folder of example record files")
	flag.StringVar(&configFile, "config", "./ingest.yaml", "run configuration yaml file")
	flag.StringVar(&testFileName, "file", "./examples/events.jsonl", "single file to process")
	flag.StringVar(&outputFolder, "out", "./out_test", "output folder for transformed records")
	flag.Parse()

	if *outputRecords {
		if err := os.MkdirAll(outputFolder, 0o755); err != nil {
			log.Error().Err(err).Msg("failed to create output folder")
		}
	}
}

// runFile decodes and transforms one local file through the same vendor and
// transform stages RunWithDeps uses, without dispatching anything over the
// network. Useful for trying out a run configuration against sample data.
func runFile(opts *config.Options, fileName string) error {
	start := time.Now()

	f, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("opening %s: %w", fileName, err)
	}
	defer f.Close()

	format, ok := decode.DetectFormat(fileName)
	if !ok {
		return fmt.Errorf("could not detect stream format for %s", fileName)
	}

	body, err := decode.Open(f, opts.ForceGzip, !opts.ForceGzip)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer body.Close()

	it, err := decode.New(format, body, nil, transform.NopStats{})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	defer it.Close()

	chain := transform.Build(opts.TransformOptions())
	adapter := vendor.Resolve(opts.VendorName)
	kind := opts.RecordKind()

	var kept, dropped int
	var out []record.Record
	for it.Next() {
		for _, mapped := range mapThroughVendor(it.Record(), kind, adapter) {
			rec, ok := chain.Apply(mapped, transform.NopStats{})
			if !ok {
				dropped++
				continue
			}
			kept++
			out = append(out, rec)
		}
	}
	if err := it.Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("stream ended with a decode error")
	}

	log.Warn().
		Int("kept", kept).
		Int("dropped", dropped).
		Str("exeTime", time.Since(start).String()).
		Str("fileName", fileName).
		Msg("completed")

	if *outputRecords {
		base := fileName
		if idx := strings.LastIndex(fileName, "/"); idx >= 0 {
			base = fileName[idx+1:]
		}
		base = strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ".jsonl")
		outPath := fmt.Sprintf("%s/%s_transformed.jsonl", outputFolder, base)
		if err := writeRecords(outPath, out); err != nil {
			log.Error().Err(err).Str("file", outPath).Msg("failed to write output")
		} else {
			log.Info().Str("output", outPath).Msg("wrote transformed records")
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

func writeRecords(path string, recs []record.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	start := time.Now()

	loader := config.NewLocalLoader(configFile)
	opts, err := loader.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("config", configFile).Msg("failed to load run configuration")
	}

	if *allExamples {
		files, err := os.ReadDir(examplesDir)
		if err != nil {
			log.Fatal().Err(err).Str("folder", examplesDir).Msg("failed to read directory")
		}
		for _, file := range files {
			name := fmt.Sprintf("%s/%s", examplesDir, file.Name())
			if err := runFile(opts, name); err != nil {
				log.Error().Err(err).Str("file", name).Msg("failed to process file")
			}
		}
	} else if err := runFile(opts, testFileName); err != nil {
		log.Fatal().Err(err).Str("file", testFileName).Msg("failed to process file")
	}

	fmt.Printf("\nExecution time: %s\n", time.Since(start))
	fmt.Printf("Output folder: %s\n", outputFolder)
}
