// Command config-export loads a run configuration yaml file, validates it,
// and re-emits it as JSON or YAML — useful for checking a config before
// handing it to cmd/ingest, or for converting a YAML config into the JSON
// shape an S3/SSM-backed config.Loader expects.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/segmentio/encoding/json"
	"gopkg.in/yaml.v2"

	"ingestetl/pkg/config"
)

func main() {
	var (
		inputFile  = flag.String("input", "ingest.yaml", "input run-configuration yaml file")
		outputFile = flag.String("output", "", "output file (if empty, prints to stdout)")
		format     = flag.String("format", "json", "output format: json or yaml")
	)
	flag.Parse()

	loader := config.NewLocalLoader(*inputFile)
	opts, err := loader.Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	var output []byte
	switch *format {
	case "json":
		output, err = json.MarshalIndent(opts, "", "  ")
	case "yaml":
		output, err = yaml.Marshal(opts)
	default:
		err = fmt.Errorf("unknown format %q, want json or yaml", *format)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting configuration: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, output, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration exported to %s\n", *outputFile)
		return
	}
	fmt.Print(string(output))
}
