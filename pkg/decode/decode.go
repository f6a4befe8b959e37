// Package decode turns a byte stream into a lazy sequence of records (C2).
// The RecordIterator shape is grounded in the forward-only, Next/Record/
// Err/Close iterator pattern used across the example pack's streaming
// decoders (Carlodf-cetl's transform.RecordIterator), specialized here to
// yield record.Record directly instead of a generic field-indexed
// Extractor, since every supported format in this domain already decodes
// to a named mapping.
package decode

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/encoding/json"

	"ingestetl/pkg/record"
)

// Format is one of the recognized on-wire shapes.
type Format string

const (
	FormatNDJSON  Format = "jsonl"
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatParquet Format = "parquet"
)

// ParseErrorHandler is invoked on a per-record decode failure. It may
// return a substitute record (ok=true) to recover (e.g. for vendor-
// specific double-escaping), or ok=false to drop the record. Every decode
// failure is counted as unparsable, whether or not a substitute is
// returned.
type ParseErrorHandler func(raw []byte, err error) (substitute record.Record, ok bool)

// RecordIterator is a forward-only iterator over decoded records, mirroring
// the example pack's streaming-decoder contract: Next/Record/Err/Close.
type RecordIterator interface {
	Next() bool
	Record() record.Record
	Err() error
	Close() error
}

// Stats receives counter side effects from a decoder's parse-error path.
type Stats interface {
	IncUnparsable()
}

// DetectFormat infers a Format from a file extension, stripping a trailing
// ".gz" first. It returns ok=false for unrecognized extensions, leaving
// format selection to explicit configuration.
func DetectFormat(name string) (Format, bool) {
	n := strings.ToLower(name)
	n = strings.TrimSuffix(n, ".gz")
	switch {
	case strings.HasSuffix(n, ".jsonl"), strings.HasSuffix(n, ".ndjson"):
		return FormatNDJSON, true
	case strings.HasSuffix(n, ".json"):
		return FormatJSON, true
	case strings.HasSuffix(n, ".csv"):
		return FormatCSV, true
	case strings.HasSuffix(n, ".tsv"):
		return FormatTSV, true
	case strings.HasSuffix(n, ".parquet"):
		return FormatParquet, true
	default:
		return "", false
	}
}

// IsGzip sniffs a reader for the gzip magic bytes. It only peeks, so the
// sniffed bytes are still there for the next read from r. Used when
// forceGzip is not set and detection must happen from content rather than
// extension.
func IsGzip(r *bufio.Reader) (bool, error) {
	magic, err := r.Peek(2)
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	return magic[0] == 0x1f && magic[1] == 0x8b, nil
}

// Open wraps r in a gzip.Reader when gz is true, or forces detection from
// content when detect is true and gz is false.
func Open(r io.Reader, gz bool, detect bool) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	if detect && !gz {
		sniffed, err := IsGzip(br)
		if err != nil {
			return nil, err
		}
		gz = sniffed
	}
	if !gz {
		return io.NopCloser(br), nil
	}
	gzr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("decode: opening gzip stream: %w", err)
	}
	return gzr, nil
}

// New constructs the RecordIterator for the given format.
func New(format Format, r io.ReadCloser, onParseError ParseErrorHandler, st Stats) (RecordIterator, error) {
	switch format {
	case FormatNDJSON:
		return newNDJSONIterator(r, onParseError, st), nil
	case FormatJSON:
		return newJSONArrayIterator(r, onParseError, st)
	case FormatCSV:
		return newDelimitedIterator(r, ',', st)
	case FormatTSV:
		return newDelimitedIterator(r, '\t', st)
	case FormatParquet:
		return newParquetIterator(r, st)
	default:
		return nil, fmt.Errorf("decode: unsupported format %q", format)
	}
}

// --- NDJSON -------------------------------------------------

type ndjsonIterator struct {
	scanner *bufio.Scanner
	closer  io.Closer
	onErr   ParseErrorHandler
	st      Stats

	cur record.Record
	err error
}

func newNDJSONIterator(r io.ReadCloser, onErr ParseErrorHandler, st Stats) *ndjsonIterator {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	return &ndjsonIterator{scanner: scanner, closer: r, onErr: onErr, st: st}
}

func (it *ndjsonIterator) Next() bool {
	for it.scanner.Scan() {
		line := it.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec record.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			it.st.IncUnparsable()
			if it.onErr != nil {
				if sub, ok := it.onErr(line, err); ok {
					it.cur = sub
					return true
				}
			}
			continue
		}
		it.cur = rec
		return true
	}
	it.err = it.scanner.Err()
	return false
}

func (it *ndjsonIterator) Record() record.Record { return it.cur }
func (it *ndjsonIterator) Err() error             { return it.err }
func (it *ndjsonIterator) Close() error           { return it.closer.Close() }

// --- JSON array -------------------------------------------------

type jsonArrayIterator struct {
	dec    *json.Decoder
	closer io.Closer
	onErr  ParseErrorHandler
	st     Stats

	cur record.Record
	err error
	done bool
}

func newJSONArrayIterator(r io.ReadCloser, onErr ParseErrorHandler, st Stats) (*jsonArrayIterator, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode: reading json array opening token: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("decode: expected top-level json array")
	}
	return &jsonArrayIterator{dec: dec, closer: r, onErr: onErr, st: st}, nil
}

func (it *jsonArrayIterator) Next() bool {
	if it.done {
		return false
	}
	for it.dec.More() {
		var raw json.RawMessage
		if err := it.dec.Decode(&raw); err != nil {
			it.err = err
			it.done = true
			return false
		}
		var rec record.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			it.st.IncUnparsable()
			if it.onErr != nil {
				if sub, ok := it.onErr(raw, err); ok {
					it.cur = sub
					return true
				}
			}
			continue
		}
		it.cur = rec
		return true
	}
	it.done = true
	return false
}

func (it *jsonArrayIterator) Record() record.Record { return it.cur }
func (it *jsonArrayIterator) Err() error             { return it.err }
func (it *jsonArrayIterator) Close() error           { return it.closer.Close() }

// --- CSV/TSV -------------------------------------------------

type delimitedIterator struct {
	reader  *csv.Reader
	closer  io.Closer
	header  []string
	st      Stats

	cur record.Record
	err error
}

func newDelimitedIterator(r io.ReadCloser, comma rune, st Stats) (*delimitedIterator, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return &delimitedIterator{reader: cr, closer: r, st: st}, nil
		}
		return nil, fmt.Errorf("decode: reading header row: %w", err)
	}
	return &delimitedIterator{reader: cr, closer: r, header: header, st: st}, nil
}

func (it *delimitedIterator) Next() bool {
	row, err := it.reader.Read()
	if err != nil {
		if err != io.EOF {
			it.st.IncUnparsable()
			it.err = err
		}
		return false
	}
	rec := make(record.Record, len(it.header))
	for i, col := range it.header {
		if i < len(row) {
			rec[col] = row[i]
		}
	}
	it.cur = rec
	return true
}

func (it *delimitedIterator) Record() record.Record { return it.cur }
func (it *delimitedIterator) Err() error             { return it.err }
func (it *delimitedIterator) Close() error           { return it.closer.Close() }
