package bam2fastq

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	gbam "github.com/grailbio/bamtofastq/encoding/bam"
	"github.com/grailbio/bamtofastq/encoding/bamprovider"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// regionWorker pulls partitions from the queue until it is drained, and feeds
// the records that start in each partition to the pairing cache. Each worker
// opens its own reader.
type regionWorker struct {
	id       int
	provider bamprovider.Provider
	queue    *gbam.PartitionQueue
	cache    ReadPairCache
	progress progressReporter

	retainConsensus bool
	consensusTag    sam.Tag

	// failed is shared by all workers. Once set, workers stop pulling
	// partitions.
	failed *int32
}

// run processes partitions until the queue is empty or a worker fails. A
// panic is turned into an error.
func (w *regionWorker) run() (stats workerStats, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.E(fmt.Sprintf("worker %d panicked: %v\n%s", w.id, p, debug.Stack()))
		}
		if err != nil {
			atomic.StoreInt32(w.failed, 1)
		}
	}()
	reader, err := w.provider.Open()
	if err != nil {
		return stats, errors.E(err, fmt.Sprintf("worker %d: open reader", w.id))
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil && err == nil {
			err = errors.E(cerr, fmt.Sprintf("worker %d: close reader", w.id))
		}
	}()
	for atomic.LoadInt32(w.failed) == 0 {
		p, ok := w.queue.Poll()
		if !ok {
			break
		}
		log.Debug.Printf("worker %d: starting partition %d (%v)", w.id, p.Index, p)
		if err = w.processPartition(reader, p, &stats); err != nil {
			return stats, errors.E(err, fmt.Sprintf("worker %d: partition %v", w.id, p))
		}
		stats.partitions++
		w.progress.PartitionDone()
	}
	log.Debug.Printf("worker %d: done after %d partitions, %d records accepted", w.id, stats.partitions, stats.accepted)
	return stats, nil
}

func (w *regionWorker) processPartition(reader bamprovider.Reader, p gbam.Partition, stats *workerStats) error {
	iter := p.Slice(reader)
	for iter.Scan() {
		r := iter.Record()
		stats.recordsSeen++
		// Records spanning a window boundary are yielded by both windows.
		if !p.ContainsAlignmentStart(r) {
			sam.PutInFreePool(r)
			continue
		}
		stats.readsProcessed++
		if !gbam.IsPrimary(r) {
			stats.secondaryDropped++
			sam.PutInFreePool(r)
			continue
		}
		if !w.retainConsensus && gbam.HasAux(r, w.consensusTag) {
			stats.consensusDropped++
			sam.PutInFreePool(r)
			continue
		}
		stats.accepted++
		if err := w.cache.Accept(w.id, r); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}
