package bam2fastq

import (
	"context"
	"sync"
	"time"

	gbam "github.com/grailbio/bamtofastq/encoding/bam"
	"github.com/grailbio/bamtofastq/encoding/bamprovider"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
)

// Converter runs one conversion. A Converter is used once.
type Converter struct {
	opts     Opts
	provider bamprovider.Provider

	mu          sync.Mutex
	state       State
	transitions []State
}

// NewConverter creates a converter that reads from provider. opts.BAMPath is
// only used for messages; the records come from provider.
func NewConverter(opts Opts, provider bamprovider.Provider) *Converter {
	return &Converter{opts: opts, provider: provider, state: StateInit, transitions: []State{StateInit}}
}

// State returns the current state.
func (c *Converter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transitions returns every state the converter has been in, in order.
func (c *Converter) Transitions() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.transitions...)
}

func (c *Converter) setState(s State) {
	c.mu.Lock()
	log.Debug.Printf("%s: %v -> %v", c.opts.BAMPath, c.state, s)
	c.state = s
	c.transitions = append(c.transitions, s)
	c.mu.Unlock()
}

// Run converts the whole file. It fails if the options are invalid, if any
// worker fails, or if any accepted record is left without a mate. Outputs are
// closed before Run returns, on success and on failure.
func (c *Converter) Run(ctx context.Context) (stats Stats, err error) {
	if c.State() != StateInit {
		return stats, errors.E(errors.Invalid, "converter already ran")
	}
	start := time.Now()
	defer func() {
		if err != nil {
			c.setState(StateFailed)
		}
	}()

	if err = c.opts.Validate(); err != nil {
		return stats, err
	}
	opts := c.opts
	header, err := c.provider.GetHeader()
	if err != nil {
		return stats, errors.E(err, "read header", opts.BAMPath)
	}
	if opts.ReferencePath != "" {
		if err = bamprovider.CheckReference(ctx, header, opts.ReferencePath); err != nil {
			return stats, err
		}
	}
	partitions, err := gbam.PartitionGenome(header, opts.PartitionSize)
	if err != nil {
		return stats, err
	}
	queue := gbam.NewPartitionQueue(partitions)
	log.Printf("%s: %d partitions of %d bases, %d threads", opts.BAMPath, queue.Len(), opts.PartitionSize, opts.Threads)

	writer, err := newPairWriter(ctx, opts)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = errors.E(cerr, "close outputs")
		}
	}()
	cache := newReadPairCache(opts.CacheStrategy, opts.Threads, opts.ShardedCacheMinThreads, writer)

	c.setState(StateRunning)
	ws, err := c.runWorkers(opts, queue, cache)
	c.setState(StateDraining)
	if err != nil {
		return stats, err
	}

	c.setState(StateValidating)
	if err = cache.Flush(); err != nil {
		return stats, err
	}
	stats = newStats(opts.Threads, ws, writer.PairsWritten(), cache.Len(), time.Since(start))
	if !cache.IsEmpty() {
		err = orphanError(cache)
		if opts.OrphansPath != "" {
			if werr := writeOrphans(ctx, opts.OrphansPath, header, cache); werr != nil {
				log.Error.Printf("%v", werr)
			}
		}
		return stats, err
	}
	if err = logStats(stats); err != nil {
		return stats, err
	}
	if opts.MetricsPath != "" {
		if err = writeMetrics(ctx, opts.MetricsPath, stats); err != nil {
			return stats, err
		}
	}
	c.setState(StateDone)
	return stats, nil
}

// runWorkers runs opts.Threads workers over the queue and sums their stats.
// A single worker runs on the calling goroutine.
func (c *Converter) runWorkers(opts Opts, queue *gbam.PartitionQueue, cache ReadPairCache) (workerStats, error) {
	var (
		failed   int32
		progress = newProgressReporter(opts.Progress, queue.Len(), opts.ProgressInterval)
		results  = make([]workerStats, opts.Threads)
		e        errors.Once
	)
	newWorker := func(id int) *regionWorker {
		return &regionWorker{
			id:              id,
			provider:        c.provider,
			queue:           queue,
			cache:           cache,
			progress:        progress,
			retainConsensus: opts.RetainConsensus,
			consensusTag:    sam.NewTag(opts.ConsensusTag),
			failed:          &failed,
		}
	}
	if opts.Threads == 1 {
		var err error
		results[0], err = newWorker(0).run()
		e.Set(err)
	} else {
		e.Set(traverse.Each(opts.Threads, func(i int) error {
			var err error
			results[i], err = newWorker(i).run()
			e.Set(err)
			return err
		}))
	}
	done := progress.Stop()
	var total workerStats
	for _, r := range results {
		total.add(r)
	}
	log.Debug.Printf("workers done: %d of %d partitions", done, queue.Len())
	return total, e.Err()
}

// Convert reads opts.BAMPath and writes the FASTQ pairs named by opts.
func Convert(ctx context.Context, opts Opts) (stats Stats, err error) {
	provider := bamprovider.NewProvider(opts.BAMPath, bamprovider.ProviderOpts{
		Index:      opts.IndexPath,
		Validation: opts.Validation,
	})
	defer func() {
		if cerr := provider.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return NewConverter(opts, provider).Run(ctx)
}
