// Package job owns the run-scoped aggregate: configuration resolution,
// atomic counters, bounded sample buffers, and progress-callback fan-out
// (spec.md §3, §4.8). It is constructed fresh per run, never a process
// global.
package job

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is the read-only view handed to the progress callback.
type Snapshot struct {
	Kind           string
	Processed      int64
	Success        int64
	Failed         int64
	Requests       int64
	Batches        int64
	Retries        int64
	RateLimited    int64
	ServerErrors   int64
	ClientErrors   int64
	Empty          int64
	Duplicates     int64
	OutOfBounds    int64
	WhiteListSkip  int64
	BlackListSkip  int64
	Unparsable     int64
	OversizeDrop   int64
	BytesProcessed int64
	MemoryBytes    int64
	EPS            float64
	Elapsed        time.Duration
}

// Summary is the final report produced at run end.
type Summary struct {
	Snapshot
	DurationSeconds    float64
	EventsPerSecond    float64
	RequestsPerSecond  float64
	MiBPerSecond       float64
	AverageBatchLength float64
	Partial            bool
	VerboseResponses   []Response
	AbridgedResponses  map[string]int
}

const (
	defaultRingSize = 200
)

// State is the run-scoped counters, sample buffers, and callback fan-out
// aggregate. All counters are atomic; ring buffers and the bad-record map
// use their own short-critical-section locks (spec.md §5 "Shared-resource
// policy").
type State struct {
	Kind string

	processed      int64
	success        int64
	failed         int64
	requests       int64
	batches        int64
	retries        int64
	rateLimited    int64
	serverErrors   int64
	clientErrors   int64
	empty          int64
	duplicates     int64
	outOfBounds    int64
	whiteListSkip  int64
	blackListSkip  int64
	unparsable     int64
	oversizeDrop   int64
	bytesProcessed int64

	startedAt time.Time
	endedAt   time.Time
	partial   int32

	responses *ResponsesBuffer

	batchSizesMu sync.Mutex
	batchSizes   []int64
	batchRingPos int
	batchRingLen int

	memSamplesMu sync.Mutex
	memSamples   []int64
	memRingPos   int
	memRingLen   int

	progressMu       sync.Mutex
	progressCallback func(Snapshot)
	progressBusy     int32
}

// New constructs a fresh State for one run.
func New(kind string, abridged bool) *State {
	return &State{
		Kind:       kind,
		startedAt:  time.Now(),
		responses:  NewResponsesBuffer(abridged),
		batchSizes: make([]int64, defaultRingSize),
		memSamples: make([]int64, defaultRingSize),
	}
}

// OnProgress registers the caller-supplied progress callback. It is invoked
// non-blockingly: a single in-flight invocation is allowed at a time, and a
// new snapshot is dropped (not queued) if the previous callback hasn't
// returned, matching the "must be non-blocking; the engine does not await
// it" contract (spec.md §6).
func (s *State) OnProgress(fn func(Snapshot)) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	s.progressCallback = fn
}

// Emit fires the progress callback with the current snapshot, if one is
// registered and not already running.
func (s *State) Emit() {
	s.progressMu.Lock()
	cb := s.progressCallback
	s.progressMu.Unlock()
	if cb == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&s.progressBusy, 0, 1) {
		return
	}
	snap := s.Snapshot()
	go func() {
		defer atomic.StoreInt32(&s.progressBusy, 0)
		cb(snap)
	}()
}

// --- transform.Stats -------------------------------------------------

func (s *State) IncUnparsable()       { atomic.AddInt64(&s.unparsable, 1); atomic.AddInt64(&s.processed, 1) }
func (s *State) IncDuplicates()       { atomic.AddInt64(&s.duplicates, 1); atomic.AddInt64(&s.processed, 1) }
func (s *State) IncOutOfBounds()      { atomic.AddInt64(&s.outOfBounds, 1); atomic.AddInt64(&s.processed, 1) }
func (s *State) IncWhitelistSkipped() { atomic.AddInt64(&s.whiteListSkip, 1); atomic.AddInt64(&s.processed, 1) }
func (s *State) IncBlacklistSkipped() { atomic.AddInt64(&s.blackListSkip, 1); atomic.AddInt64(&s.processed, 1) }

// --- batch.Stats -------------------------------------------------

// IncOversizeDropped does not advance processed: an oversize record never
// reached the batcher as a counted unit, so §8's
// processed = success+failed+empty+duplicates+outOfBounds+white+black+unparsable
// invariant deliberately excludes it.
func (s *State) IncOversizeDropped() { atomic.AddInt64(&s.oversizeDrop, 1) }

// --- dispatcher/retry counters -------------------------------------------------

func (s *State) IncRequests()              { atomic.AddInt64(&s.requests, 1) }
func (s *State) IncRetries()               { atomic.AddInt64(&s.retries, 1) }
func (s *State) IncRateLimited()           { atomic.AddInt64(&s.rateLimited, 1) }
func (s *State) IncServerErrors()          { atomic.AddInt64(&s.serverErrors, 1) }
func (s *State) IncClientErrors()          { atomic.AddInt64(&s.clientErrors, 1) }
func (s *State) AddBytes(n int64)          { atomic.AddInt64(&s.bytesProcessed, n) }
func (s *State) MarkPartial()              { atomic.StoreInt32(&s.partial, 1) }

// RecordBatchOutcome advances processed and either success or failed by n
// (the batch's record count) and the batches counter by one, and stores the
// per-batch response outcome.
func (s *State) RecordBatchOutcome(n int64, resp Response) {
	atomic.AddInt64(&s.batches, 1)
	atomic.AddInt64(&s.processed, n)
	if resp.Success {
		atomic.AddInt64(&s.success, n)
	} else {
		atomic.AddInt64(&s.failed, n)
	}
	s.responses.Record(resp)
	s.recordBatchSize(n)
}

// RecordFailureMessage stores a terminal per-record failure message into
// the bounded bad-record map (abridged mode) or verbose log.
func (s *State) RecordFailureMessage(message, sampleRecord string) {
	s.responses.RecordFailure(message, sampleRecord)
}

// IncEmpty counts a record filtered by a stage returning {} (drop silent).
func (s *State) IncEmpty() {
	atomic.AddInt64(&s.empty, 1)
	atomic.AddInt64(&s.processed, 1)
}

func (s *State) recordBatchSize(n int64) {
	s.batchSizesMu.Lock()
	defer s.batchSizesMu.Unlock()
	s.batchSizes[s.batchRingPos] = n
	s.batchRingPos = (s.batchRingPos + 1) % len(s.batchSizes)
	if s.batchRingLen < len(s.batchSizes) {
		s.batchRingLen++
	}
}

// SampleMemory records an RSS/heap sample into the bounded ring.
func (s *State) SampleMemory(bytes int64) {
	s.memSamplesMu.Lock()
	defer s.memSamplesMu.Unlock()
	s.memSamples[s.memRingPos] = bytes
	s.memRingPos = (s.memRingPos + 1) % len(s.memSamples)
	if s.memRingLen < len(s.memSamples) {
		s.memRingLen++
	}
}

func (s *State) latestMemorySample() int64 {
	s.memSamplesMu.Lock()
	defer s.memSamplesMu.Unlock()
	if s.memRingLen == 0 {
		return 0
	}
	idx := (s.memRingPos - 1 + len(s.memSamples)) % len(s.memSamples)
	return s.memSamples[idx]
}

func (s *State) averageBatchLength() float64 {
	s.batchSizesMu.Lock()
	defer s.batchSizesMu.Unlock()
	if s.batchRingLen == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < s.batchRingLen; i++ {
		sum += s.batchSizes[i]
	}
	return float64(sum) / float64(s.batchRingLen)
}

// Snapshot builds a point-in-time view for the progress callback.
func (s *State) Snapshot() Snapshot {
	elapsed := time.Since(s.startedAt)
	processed := atomic.LoadInt64(&s.processed)
	eps := 0.0
	if elapsed.Seconds() > 0 {
		eps = float64(processed) / elapsed.Seconds()
	}
	return Snapshot{
		Kind:           s.Kind,
		Processed:      processed,
		Success:        atomic.LoadInt64(&s.success),
		Failed:         atomic.LoadInt64(&s.failed),
		Requests:       atomic.LoadInt64(&s.requests),
		Batches:        atomic.LoadInt64(&s.batches),
		Retries:        atomic.LoadInt64(&s.retries),
		RateLimited:    atomic.LoadInt64(&s.rateLimited),
		ServerErrors:   atomic.LoadInt64(&s.serverErrors),
		ClientErrors:   atomic.LoadInt64(&s.clientErrors),
		Empty:          atomic.LoadInt64(&s.empty),
		Duplicates:     atomic.LoadInt64(&s.duplicates),
		OutOfBounds:    atomic.LoadInt64(&s.outOfBounds),
		WhiteListSkip:  atomic.LoadInt64(&s.whiteListSkip),
		BlackListSkip:  atomic.LoadInt64(&s.blackListSkip),
		Unparsable:     atomic.LoadInt64(&s.unparsable),
		OversizeDrop:   atomic.LoadInt64(&s.oversizeDrop),
		BytesProcessed: atomic.LoadInt64(&s.bytesProcessed),
		MemoryBytes:    s.latestMemorySample(),
		EPS:            eps,
		Elapsed:        elapsed,
	}
}

// Finish freezes end time and produces the final Summary.
func (s *State) Finish() Summary {
	s.endedAt = time.Now()
	snap := s.Snapshot()
	duration := s.endedAt.Sub(s.startedAt).Seconds()

	sum := Summary{
		Snapshot:           snap,
		DurationSeconds:    duration,
		AverageBatchLength: s.averageBatchLength(),
		Partial:            atomic.LoadInt32(&s.partial) == 1,
	}
	if duration > 0 {
		sum.EventsPerSecond = float64(snap.Processed) / duration
		sum.RequestsPerSecond = float64(snap.Requests) / duration
		sum.MiBPerSecond = float64(snap.BytesProcessed) / duration / (1024 * 1024)
	}
	if s.responses.abridged {
		sum.AbridgedResponses = s.responses.Abridged()
	} else {
		sum.VerboseResponses = s.responses.Verbose()
	}
	return sum
}
