package bam2fastq

import (
	"fmt"
	"runtime"
	"time"

	gbam "github.com/grailbio/bamtofastq/encoding/bam"
	"github.com/grailbio/bamtofastq/encoding/bamprovider"
	"github.com/grailbio/base/errors"
)

// CacheStrategy selects the ReadPairCache implementation.
type CacheStrategy int

const (
	// CacheAuto uses CacheMap below Opts.ShardedCacheMinThreads threads and
	// CacheSharded at or above it.
	CacheAuto CacheStrategy = iota
	// CacheMap is a single map guarded by one mutex.
	CacheMap
	// CacheSharded gives each worker its own map, merged at the end.
	CacheSharded
)

func (c CacheStrategy) String() string {
	switch c {
	case CacheAuto:
		return "auto"
	case CacheMap:
		return "map"
	case CacheSharded:
		return "sharded"
	}
	return fmt.Sprintf("CacheStrategy(%d)", int(c))
}

// ParseCacheStrategy parses "auto", "map" or "sharded".
func ParseCacheStrategy(s string) (CacheStrategy, error) {
	for _, c := range []CacheStrategy{CacheAuto, CacheMap, CacheSharded} {
		if s == c.String() {
			return c, nil
		}
	}
	return CacheAuto, errors.E(errors.Invalid, fmt.Sprintf("unknown cache strategy %q, want one of auto, map, sharded", s))
}

// ProgressMode selects how progress is reported while workers run.
type ProgressMode int

const (
	// ProgressLog logs the number of partitions done every ProgressInterval.
	ProgressLog ProgressMode = iota
	// ProgressBar draws a terminal progress bar.
	ProgressBar
	// ProgressNone reports nothing.
	ProgressNone
)

func (p ProgressMode) String() string {
	switch p {
	case ProgressLog:
		return "log"
	case ProgressBar:
		return "bar"
	case ProgressNone:
		return "none"
	}
	return fmt.Sprintf("ProgressMode(%d)", int(p))
}

// ParseProgressMode parses "log", "bar" or "none".
func ParseProgressMode(s string) (ProgressMode, error) {
	for _, p := range []ProgressMode{ProgressLog, ProgressBar, ProgressNone} {
		if s == p.String() {
			return p, nil
		}
	}
	return ProgressLog, errors.E(errors.Invalid, fmt.Sprintf("unknown progress mode %q, want one of log, bar, none", s))
}

// Opts configures a conversion.
type Opts struct {
	// BAMPath is the coordinate-sorted input. Must be nonempty.
	BAMPath string
	// IndexPath is the .bai index of BAMPath. If "", BAMPath + ".bai".
	IndexPath string
	// ReferencePath, if set, is a FASTA or .fai file whose sequence
	// dictionary must cover every reference of the BAM header.
	ReferencePath string
	// PartitionSize is the width, in bases, of each genome window.
	PartitionSize int
	// Threads is the number of workers. Zero means runtime.NumCPU().
	Threads int

	// R1Path and R2Path are the FASTQ outputs. Both must be set unless
	// NoWrite is true.
	R1Path, R2Path string
	// NoWrite runs the full pipeline but only counts the pairs.
	NoWrite bool

	// RetainConsensus keeps records carrying ConsensusTag. By default they
	// are dropped.
	RetainConsensus bool
	// ConsensusTag is the two-character aux tag that marks consensus reads.
	ConsensusTag string

	// Validation sets the treatment of malformed records.
	Validation bamprovider.ValidationStringency

	// CacheStrategy selects the pairing cache.
	CacheStrategy CacheStrategy
	// ShardedCacheMinThreads is the thread count at which CacheAuto switches
	// to the sharded cache.
	ShardedCacheMinThreads int

	// KeepOrientation writes reverse-strand reads as stored in the BAM
	// instead of restoring the sequenced orientation.
	KeepOrientation bool
	// MateSuffix appends /1 and /2 to read names.
	MateSuffix bool

	// MetricsPath, if set, receives a TSV of the run statistics.
	MetricsPath string
	// OrphansPath, if set, receives the orphaned records as SAM when the
	// conversion fails for that reason.
	OrphansPath string

	Progress         ProgressMode
	ProgressInterval time.Duration
}

// DefaultOpts holds the default values of Opts.
var DefaultOpts = Opts{
	PartitionSize:          gbam.DefaultPartitionSize,
	Threads:                1,
	ConsensusTag:           "cD",
	Validation:             bamprovider.Strict,
	CacheStrategy:          CacheAuto,
	ShardedCacheMinThreads: 8,
	MateSuffix:             true,
	Progress:               ProgressLog,
	ProgressInterval:       30 * time.Second,
}

// Validate checks the options and fills in defaults. Every error it returns
// has kind errors.Invalid.
func (o *Opts) Validate() error {
	if o.BAMPath == "" {
		return errors.E(errors.Invalid, "no input BAM file")
	}
	if o.PartitionSize <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("partition size must be positive, got %d", o.PartitionSize))
	}
	if o.Threads == 0 {
		o.Threads = runtime.NumCPU()
	}
	if o.Threads < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("thread count must be positive, got %d", o.Threads))
	}
	switch {
	case o.NoWrite && (o.R1Path != "" || o.R2Path != ""):
		return errors.E(errors.Invalid, "output paths must not be set in no-write mode")
	case !o.NoWrite && (o.R1Path == "" || o.R2Path == ""):
		return errors.E(errors.Invalid, "both R1 and R2 output paths must be set, or no-write mode enabled")
	case !o.NoWrite && o.R1Path == o.R2Path:
		return errors.E(errors.Invalid, fmt.Sprintf("R1 and R2 outputs are both %s", o.R1Path))
	}
	if len(o.ConsensusTag) != 2 {
		return errors.E(errors.Invalid, fmt.Sprintf("consensus tag must be two characters, got %q", o.ConsensusTag))
	}
	if _, err := bamprovider.ParseValidationStringency(o.Validation.String()); err != nil {
		return errors.E(errors.Invalid, err)
	}
	if o.CacheStrategy < CacheAuto || o.CacheStrategy > CacheSharded {
		return errors.E(errors.Invalid, fmt.Sprintf("unknown cache strategy %v", o.CacheStrategy))
	}
	if o.ShardedCacheMinThreads < 1 {
		o.ShardedCacheMinThreads = DefaultOpts.ShardedCacheMinThreads
	}
	if o.Progress < ProgressLog || o.Progress > ProgressNone {
		return errors.E(errors.Invalid, fmt.Sprintf("unknown progress mode %v", o.Progress))
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultOpts.ProgressInterval
	}
	return nil
}
