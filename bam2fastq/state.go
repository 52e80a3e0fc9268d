package bam2fastq

import "fmt"

// State is the lifecycle phase of a Converter.
type State int

const (
	// StateInit covers option validation, partitioning and output setup.
	StateInit State = iota
	// StateRunning means workers are consuming partitions.
	StateRunning
	// StateDraining means the converter is waiting for workers to exit.
	StateDraining
	// StateValidating means the cache is being flushed and checked for
	// orphans.
	StateValidating
	// StateDone is terminal: every pair was written.
	StateDone
	// StateFailed is terminal: the run stopped on an error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateValidating:
		return "VALIDATING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
