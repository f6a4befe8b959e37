package job

import "sync"

const (
	defaultMaxBadRecordMessages  = 50
	defaultMaxBadRecordsPerMsg   = 20
	defaultMaxVerboseResponses   = 1000
)

// Response is a single per-request outcome recorded by the dispatcher.
type Response struct {
	Status  int
	Body    string
	Success bool
}

// ResponsesBuffer holds per-request outcomes, either as a verbose bounded
// list or, in abridged mode, as an error-message-to-count map with a capped
// number of distinct messages and a capped number of record samples per
// message. Eviction is FIFO (spec.md §3 ResponsesBuffer).
type ResponsesBuffer struct {
	mu       sync.Mutex
	abridged bool

	verbose    []Response
	verboseCap int

	// abridged mode: message -> count, plus message -> sample records,
	// insertion-ordered for FIFO eviction once maxMessages is hit.
	counts      map[string]int
	samples     map[string][]string
	order       []string
	maxMessages int
	maxSamples  int
}

// NewResponsesBuffer constructs a buffer in verbose or abridged mode.
func NewResponsesBuffer(abridged bool) *ResponsesBuffer {
	return &ResponsesBuffer{
		abridged:    abridged,
		verboseCap:  defaultMaxVerboseResponses,
		counts:      map[string]int{},
		samples:     map[string][]string{},
		maxMessages: defaultMaxBadRecordMessages,
		maxSamples:  defaultMaxBadRecordsPerMsg,
	}
}

// Record stores a per-batch response: every response in verbose mode, only
// failures (aggregated by body) in abridged mode.
func (b *ResponsesBuffer) Record(resp Response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.abridged {
		b.appendVerbose(resp)
		return
	}
	if resp.Success {
		return
	}
	b.aggregateFailure(resp.Body, "")
}

// RecordFailure stores a terminal per-record failure message, optionally
// with a sample record payload (used for keepBadRecords).
func (b *ResponsesBuffer) RecordFailure(message, sampleRecord string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.abridged {
		b.appendVerbose(Response{Body: message, Success: false})
		return
	}
	b.aggregateFailure(message, sampleRecord)
}

func (b *ResponsesBuffer) appendVerbose(resp Response) {
	b.verbose = append(b.verbose, resp)
	if len(b.verbose) > b.verboseCap {
		b.verbose = b.verbose[len(b.verbose)-b.verboseCap:]
	}
}

func (b *ResponsesBuffer) aggregateFailure(message, sampleRecord string) {
	if _, known := b.counts[message]; !known {
		if len(b.order) >= b.maxMessages {
			oldest := b.order[0]
			b.order = b.order[1:]
			delete(b.counts, oldest)
			delete(b.samples, oldest)
		}
		b.order = append(b.order, message)
	}
	b.counts[message]++
	if sampleRecord != "" && len(b.samples[message]) < b.maxSamples {
		b.samples[message] = append(b.samples[message], sampleRecord)
	}
}

// Verbose returns the full response list, only meaningful in verbose mode.
func (b *ResponsesBuffer) Verbose() []Response {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Response(nil), b.verbose...)
}

// Abridged returns the error-message -> count map, only meaningful in
// abridged mode.
func (b *ResponsesBuffer) Abridged() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.counts))
	for k, v := range b.counts {
		out[k] = v
	}
	return out
}

// Samples returns the bounded record samples collected for a given
// abridged-mode error message.
func (b *ResponsesBuffer) Samples(message string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.samples[message]...)
}
