// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// DefaultPartitionSize is the default width, in bases, of a ChromosomeWindow.
const DefaultPartitionSize = 1000000

// PartitionKind distinguishes the two kinds of Partition.
type PartitionKind int

const (
	// ChromosomeWindow covers a closed coordinate range of one reference.
	ChromosomeWindow PartitionKind = iota
	// Unmapped covers every record that has no reference.
	Unmapped
)

// String implements fmt.Stringer.
func (k PartitionKind) String() string {
	switch k {
	case ChromosomeWindow:
		return "window"
	case Unmapped:
		return "unmapped"
	}
	return fmt.Sprintf("PartitionKind(%d)", int(k))
}

// Partition is one unit of work. A ChromosomeWindow partition covers the
// 1-based, closed interval [Start, End] of Ref. An Unmapped partition has a
// nil Ref and zero Start and End.
//
// A Partition is immutable once created, and each Partition is processed by
// exactly one worker.
type Partition struct {
	Kind  PartitionKind
	Ref   *sam.Reference
	Start int
	End   int
	// Index is the position of the partition in the list returned by
	// PartitionGenome.
	Index int
}

// UnmappedPartition returns the sentinel partition for reads without a
// reference.
func UnmappedPartition() Partition {
	return Partition{Kind: Unmapped}
}

// String returns a samtools-style region string, e.g., "chr1:1-1000000".
func (p Partition) String() string {
	switch p.Kind {
	case ChromosomeWindow:
		return fmt.Sprintf("%s:%d-%d", p.Ref.Name(), p.Start, p.End)
	case Unmapped:
		return "*unmapped*"
	}
	return fmt.Sprintf("invalid partition %d", int(p.Kind))
}

// Len returns the number of bases covered by a ChromosomeWindow. It returns 0
// for the Unmapped partition.
func (p Partition) Len() int {
	if p.Kind != ChromosomeWindow {
		return 0
	}
	return p.End - p.Start + 1
}

// Slice returns an iterator over the records that the partition may own.
// ChromosomeWindow yields every record overlapping [Start, End], so a record
// spanning a window boundary is yielded by both windows; use
// ContainsAlignmentStart to decide which of them owns it. Unmapped yields every
// record that has no reference.
func (p Partition) Slice(s Slicer) Iterator {
	switch p.Kind {
	case ChromosomeWindow:
		return s.Overlapping(p.Ref, p.Start-1, p.End)
	case Unmapped:
		return s.Unmapped()
	}
	return NewErrorIterator(errors.E(errors.Invalid, fmt.Sprintf("slice: invalid partition %+v", p)))
}

// ContainsAlignmentStart reports whether the partition owns r. The Unmapped
// partition owns every record given to it. A ChromosomeWindow owns r iff r is
// on the window's reference and r's leftmost aligned base is within
// [Start, End].
func (p Partition) ContainsAlignmentStart(r *sam.Record) bool {
	switch p.Kind {
	case Unmapped:
		return true
	case ChromosomeWindow:
		if r.Ref == nil || r.Ref.ID() != p.Ref.ID() {
			return false
		}
		pos := AlignmentStart(r)
		return pos >= p.Start && pos <= p.End
	}
	return false
}

// PartitionGenome splits the references in header into windows of
// partitionSize bases. The result starts with the Unmapped partition, followed
// by the windows of each reference in header order. The windows of a
// reference tile [1, length] without gaps or overlaps; the last one may be
// shorter than partitionSize.
func PartitionGenome(header *sam.Header, partitionSize int) ([]Partition, error) {
	if partitionSize <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("partition size must be positive, got %d", partitionSize))
	}
	parts := []Partition{UnmappedPartition()}
	for _, ref := range header.Refs() {
		for start := 1; start <= ref.Len(); start += partitionSize {
			end := start + partitionSize - 1
			if end > ref.Len() {
				end = ref.Len()
			}
			parts = append(parts, Partition{
				Kind:  ChromosomeWindow,
				Ref:   ref,
				Start: start,
				End:   end,
				Index: len(parts),
			})
		}
	}
	return parts, nil
}
