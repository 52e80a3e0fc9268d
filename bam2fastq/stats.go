package bam2fastq

import (
	"context"
	"strconv"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
)

// workerStats counts what one worker did. Each worker owns its copy; the
// converter sums them after the workers exit.
type workerStats struct {
	partitions int64
	// records yielded by the reader, including boundary records that belong
	// to a neighboring partition.
	recordsSeen int64
	// records whose alignment start lies in the partition.
	readsProcessed   int64
	secondaryDropped int64
	consensusDropped int64
	accepted         int64
}

func (s *workerStats) add(o workerStats) {
	s.partitions += o.partitions
	s.recordsSeen += o.recordsSeen
	s.readsProcessed += o.readsProcessed
	s.secondaryDropped += o.secondaryDropped
	s.consensusDropped += o.consensusDropped
	s.accepted += o.accepted
}

// Stats summarizes a conversion.
type Stats struct {
	Threads    int
	Partitions int64
	// ReadsProcessed counts records attributed to a partition, each exactly
	// once.
	ReadsProcessed   int64
	SecondaryDropped int64
	ConsensusDropped int64
	// RecordsAccepted counts records handed to the pairing cache.
	RecordsAccepted int64
	PairsWritten    int64
	// Orphans is the number of records left without a mate.
	Orphans  int64
	WallTime time.Duration
	// CPUTime approximates compute time as Threads * WallTime.
	CPUTime time.Duration
}

func newStats(threads int, ws workerStats, pairs int64, orphans int, wall time.Duration) Stats {
	return Stats{
		Threads:          threads,
		Partitions:       ws.partitions,
		ReadsProcessed:   ws.readsProcessed,
		SecondaryDropped: ws.secondaryDropped,
		ConsensusDropped: ws.consensusDropped,
		RecordsAccepted:  ws.accepted,
		PairsWritten:     pairs,
		Orphans:          int64(orphans),
		WallTime:         wall,
		CPUTime:          time.Duration(threads) * wall,
	}
}

// logStats logs the summary, and checks that every accepted record either
// went out in a pair or is reported as an orphan.
func logStats(s Stats) error {
	log.Printf("processed %d reads in %d partitions, accepted %d, dropped %d consensus and %d secondary/supplementary",
		s.ReadsProcessed, s.Partitions, s.RecordsAccepted, s.ConsensusDropped, s.SecondaryDropped)
	log.Printf("wrote %d pairs in %v (%v cpu with %d threads)", s.PairsWritten, s.WallTime, s.CPUTime, s.Threads)
	if want := (s.RecordsAccepted - s.Orphans) / 2; s.PairsWritten != want {
		return errors.E(errors.Integrity,
			"wrote "+strconv.FormatInt(s.PairsWritten, 10)+" pairs, expected "+strconv.FormatInt(want, 10))
	}
	return nil
}

// writeMetrics writes s as a two-column TSV to path.
func writeMetrics(ctx context.Context, path string, s Stats) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create metrics file", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	w.WriteString("#metric")
	w.WriteString("value")
	if err = w.EndLine(); err != nil {
		return errors.E(err, "write metrics file", path)
	}
	for _, row := range []struct {
		name  string
		value int64
	}{
		{"threads", int64(s.Threads)},
		{"partitions", s.Partitions},
		{"reads_processed", s.ReadsProcessed},
		{"secondary_dropped", s.SecondaryDropped},
		{"consensus_dropped", s.ConsensusDropped},
		{"records_accepted", s.RecordsAccepted},
		{"pairs_written", s.PairsWritten},
		{"orphans", s.Orphans},
		{"wall_time_ms", s.WallTime.Milliseconds()},
		{"cpu_time_ms", s.CPUTime.Milliseconds()},
	} {
		w.WriteString(row.name)
		w.WriteString(strconv.FormatInt(row.value, 10))
		if err = w.EndLine(); err != nil {
			return errors.E(err, "write metrics file", path)
		}
	}
	if err = w.Flush(); err != nil {
		return errors.E(err, "write metrics file", path)
	}
	return nil
}
