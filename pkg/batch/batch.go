// Package batch implements the bounded batcher (C4): it accumulates encoded
// records into size- and count-bounded batches, grounded in the teacher's
// cloudtrailprocessor.FilterRecords batch-of-N accumulation loop generalized
// from a fixed size to dual count/byte bounds.
package batch

import (
	"github.com/segmentio/encoding/json"

	"ingestetl/pkg/record"
)

const (
	// DefaultMaxRecords is the default per-batch record cap. It is also the
	// hard ceiling: callers may lower it but never raise it past 2000 for
	// event/user/group record kinds (spec.md §4.5).
	DefaultMaxRecords = 2000
	// DefaultMaxBytes is the default per-batch encoded-size cap.
	DefaultMaxBytes = 10 * 1024 * 1024

	hardMaxRecords = 2000
)

// Stats receives counter side effects from the batcher.
type Stats interface {
	IncOversizeDropped()
}

// NopStats discards counter increments.
type NopStats struct{}

func (NopStats) IncOversizeDropped() {}

// Config bounds a Batcher.
type Config struct {
	MaxRecords int
	MaxBytes   int
	// RingSize bounds the number of recent emitted-batch sizes retained for
	// statistics.
	RingSize int
}

func (c Config) normalized() Config {
	if c.MaxRecords <= 0 || c.MaxRecords > hardMaxRecords {
		c.MaxRecords = DefaultMaxRecords
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.RingSize <= 0 {
		c.RingSize = 100
	}
	return c
}

// Batcher accumulates records into count/byte-bounded batches.
type Batcher struct {
	cfg Config

	cur      []record.Record
	curBytes int

	sizes     []int
	ringStart int
	ringFull  bool
}

// New constructs a Batcher from cfg, applying defaults for zero fields.
func New(cfg Config) *Batcher {
	cfg = cfg.normalized()
	return &Batcher{
		cfg:   cfg,
		sizes: make([]int, cfg.RingSize),
	}
}

// Add appends rec to the in-progress batch, encoding it to measure its
// byte size. Whenever adding rec would exceed either bound, it returns the
// pending batch (without rec) with didFlush=true and starts a new batch
// holding rec. If rec alone exceeds MaxBytes it is dropped, counted via
// st.IncOversizeDropped, and Add returns (nil, false).
func (b *Batcher) Add(rec record.Record, st Stats) (flushed []record.Record, didFlush bool) {
	encoded, err := json.Marshal(rec)
	size := len(encoded)
	if err != nil {
		size = estimateSize(rec)
	}

	if size > b.cfg.MaxBytes {
		st.IncOversizeDropped()
		return nil, false
	}

	wouldExceedCount := len(b.cur)+1 > b.cfg.MaxRecords
	wouldExceedBytes := b.curBytes+size > b.cfg.MaxBytes

	if (wouldExceedCount || wouldExceedBytes) && len(b.cur) > 0 {
		out := b.drain()
		b.cur = append(b.cur, rec)
		b.curBytes = size
		return out, true
	}

	b.cur = append(b.cur, rec)
	b.curBytes += size
	return nil, false
}

// Flush emits whatever partial batch is pending, or nil if empty.
func (b *Batcher) Flush() []record.Record {
	if len(b.cur) == 0 {
		return nil
	}
	return b.drain()
}

func (b *Batcher) drain() []record.Record {
	out := b.cur
	b.recordSize(len(out))
	b.cur = nil
	b.curBytes = 0
	return out
}

func (b *Batcher) recordSize(n int) {
	b.sizes[b.ringStart] = n
	b.ringStart = (b.ringStart + 1) % len(b.sizes)
	if b.ringStart == 0 {
		b.ringFull = true
	}
}

// RecentSizes returns the batch sizes retained in the ring buffer, oldest
// first.
func (b *Batcher) RecentSizes() []int {
	if !b.ringFull {
		return append([]int(nil), b.sizes[:b.ringStart]...)
	}
	out := make([]int, 0, len(b.sizes))
	out = append(out, b.sizes[b.ringStart:]...)
	out = append(out, b.sizes[:b.ringStart]...)
	return out
}

// estimateSize is the fallback path when json.Marshal fails (a non-JSON
// value made it into the record bag); it avoids crashing the batcher on a
// malformed record by charging it a nominal size.
func estimateSize(rec record.Record) int {
	return 64 + 16*len(rec)
}
