package bam2fastq

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	gbam "github.com/grailbio/bamtofastq/encoding/bam"
	"github.com/grailbio/bamtofastq/encoding/fastq"
	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// PairWriter receives completed pairs. Implementations used with more than
// one worker are thread safe, and each Write is atomic with respect to the
// others: R1 and R2 of one pair are written before any other pair starts.
type PairWriter interface {
	// Write emits one pair. The records may be passed in either order; the
	// one with the Read1 flag goes to the R1 output.
	Write(a, b *sam.Record) error
	// PairsWritten returns the number of successful Write calls.
	PairsWritten() int64
	// Close flushes and closes the outputs.
	Close() error
}

// orderPair returns (r1, r2) for a pair. It fails unless exactly one of the
// records has the Read1 flag.
func orderPair(a, b *sam.Record) (*sam.Record, *sam.Record, error) {
	aR1 := gbam.IsFirstOfPair(a)
	bR1 := gbam.IsFirstOfPair(b)
	if aR1 == bR1 {
		return nil, nil, errors.E(errors.Invalid, fmt.Sprintf(
			"read %s: expected exactly one first-of-pair mate, got flags %v and %v", a.Name, a.Flags, b.Flags))
	}
	if aR1 {
		return a, b, nil
	}
	return b, a, nil
}

// unsyncPairWriter writes FASTQ pairs without locking. It is used when a
// single worker runs on the calling goroutine.
type unsyncPairWriter struct {
	r1, r2   *fastq.Writer
	closers  []io.Closer
	format   *fastqFormatter
	nWritten int64
	err      error
}

func newUnsyncPairWriter(r1, r2 io.Writer, opts Opts, closers ...io.Closer) *unsyncPairWriter {
	return &unsyncPairWriter{
		r1:      fastq.NewWriter(r1),
		r2:      fastq.NewWriter(r2),
		closers: closers,
		format:  newFastqFormatter(opts),
	}
}

func (w *unsyncPairWriter) Write(a, b *sam.Record) error {
	if w.err != nil {
		return w.err
	}
	r1, r2, err := orderPair(a, b)
	if err != nil {
		w.err = err
		return err
	}
	if err := w.format.write(w.r1, r1, 1); err != nil {
		w.err = errors.E(err, "write R1")
		return w.err
	}
	if err := w.format.write(w.r2, r2, 2); err != nil {
		w.err = errors.E(err, "write R2")
		return w.err
	}
	w.nWritten++
	return nil
}

func (w *unsyncPairWriter) PairsWritten() int64 {
	return w.nWritten
}

func (w *unsyncPairWriter) Close() error {
	var err errorreporter.T
	for _, c := range w.closers {
		err.Set(c.Close())
	}
	w.closers = nil
	return err.Err()
}

// syncPairWriter serializes whole pairs through one mutex.
type syncPairWriter struct {
	mu sync.Mutex
	w  *unsyncPairWriter
}

func (w *syncPairWriter) Write(a, b *sam.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(a, b)
}

func (w *syncPairWriter) PairsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.PairsWritten()
}

func (w *syncPairWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Close()
}

// countingPairWriter writes nothing. It still checks the pair flags so that
// a dry run fails where a real one would.
type countingPairWriter struct {
	nWritten int64
}

func (w *countingPairWriter) Write(a, b *sam.Record) error {
	if _, _, err := orderPair(a, b); err != nil {
		return err
	}
	atomic.AddInt64(&w.nWritten, 1)
	return nil
}

func (w *countingPairWriter) PairsWritten() int64 {
	return atomic.LoadInt64(&w.nWritten)
}

func (w *countingPairWriter) Close() error { return nil }

// newPairWriter creates the writer selected by opts. Outputs are created
// through fastq.Create, so their compression follows the path suffix.
func newPairWriter(ctx context.Context, opts Opts) (PairWriter, error) {
	if opts.NoWrite {
		return &countingPairWriter{}, nil
	}
	r1, err := fastq.Create(ctx, opts.R1Path)
	if err != nil {
		return nil, errors.E(err, "create R1 output", opts.R1Path)
	}
	r2, err := fastq.Create(ctx, opts.R2Path)
	if err != nil {
		_ = r1.Close()
		return nil, errors.E(err, "create R2 output", opts.R2Path)
	}
	w := newUnsyncPairWriter(r1, r2, opts, r1, r2)
	if opts.Threads <= 1 {
		return w, nil
	}
	return &syncPairWriter{w: w}, nil
}
