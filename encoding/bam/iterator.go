package bam

import "github.com/grailbio/hts/sam"

// Iterator iterates over sam.Records in coordinate order. Thread compatible.
type Iterator interface {
	// Scan returns whether there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If an error occurs,
	// Scan returns false and the error can be retrieved by calling Err.
	Scan() bool

	// Record returns the current record. It must be called only after a call
	// to Scan returns true.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil. io.EOF is
	// translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err.
	Close() error
}

// Slicer reads the records of a genomic range. It is implemented by the
// reader handles in package bamprovider. A Slicer supports one active
// Iterator at a time.
type Slicer interface {
	// Overlapping returns the records on ref that overlap the 0-based,
	// half-open range [start, end).
	Overlapping(ref *sam.Reference, start, end int) Iterator

	// Unmapped returns the records that have no reference.
	Unmapped() Iterator
}

type errorIterator struct {
	err error
}

func (i *errorIterator) Scan() bool          { return false }
func (i *errorIterator) Record() *sam.Record { panic("shall not be called") }
func (i *errorIterator) Err() error          { return i.err }
func (i *errorIterator) Close() error        { return i.err }

// NewErrorIterator creates an Iterator that yields no record and returns "err"
// in Err and Close. A nil err creates an empty iterator.
func NewErrorIterator(err error) Iterator {
	return &errorIterator{err: err}
}
