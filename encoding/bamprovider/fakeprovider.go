package bamprovider

import (
	"fmt"
	"sync"

	gbam "github.com/grailbio/bamtofastq/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// FakeProvider is only for unittests. It yields the given records, which
// must be sorted by coordinate with unmapped records last.
type FakeProvider struct {
	header *sam.Header
	recs   []*sam.Record
	opts   ProviderOpts

	// ReadErr, if non-nil, is reported by the iterator of the partition that
	// contains the first record named ReadErrRecord.
	ReadErr       error
	ReadErrRecord string

	mu      sync.Mutex
	nOpened int
	nActive int
}

type fakeReader struct {
	p      *FakeProvider
	active bool
}

type fakeIterator struct {
	p    *FakeProvider
	recs []*sam.Record
	rec  *sam.Record
	err  error
}

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader() call, and recs through the readers created by Open.
func NewFakeProvider(header *sam.Header, recs []*sam.Record, optList ...ProviderOpts) *FakeProvider {
	return &FakeProvider{header: header, recs: recs, opts: mergeOpts(optList)}
}

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *FakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Open implements the Provider interface.
func (b *FakeProvider) Open() (Reader, error) {
	b.mu.Lock()
	b.nOpened++
	b.nActive++
	b.mu.Unlock()
	return &fakeReader{p: b, active: true}, nil
}

// Close implements the Provider interface.
func (b *FakeProvider) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nActive != 0 {
		return fmt.Errorf("%d readers still active", b.nActive)
	}
	return nil
}

// NumOpened returns the number of readers created so far.
func (b *FakeProvider) NumOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nOpened
}

// Overlapping implements the gbam.Slicer interface.
func (r *fakeReader) Overlapping(ref *sam.Reference, start, end int) gbam.Iterator {
	var recs []*sam.Record
	for _, rec := range r.p.recs {
		if rec.Ref == nil || rec.Ref.ID() != ref.ID() {
			continue
		}
		if rec.Pos < end && gbam.AlignmentEnd(rec) > start {
			recs = append(recs, rec)
		}
	}
	return NewValidatingIterator(&fakeIterator{p: r.p, recs: recs}, r.p.opts.Validation)
}

// Unmapped implements the gbam.Slicer interface.
func (r *fakeReader) Unmapped() gbam.Iterator {
	var recs []*sam.Record
	for _, rec := range r.p.recs {
		if rec.Ref == nil {
			recs = append(recs, rec)
		}
	}
	return NewValidatingIterator(&fakeIterator{p: r.p, recs: recs}, r.p.opts.Validation)
}

// Close implements the Reader interface.
func (r *fakeReader) Close() error {
	if !r.active {
		panic("fake reader closed twice")
	}
	r.active = false
	r.p.mu.Lock()
	r.p.nActive--
	r.p.mu.Unlock()
	return nil
}

func (i *fakeIterator) Scan() bool {
	if i.err != nil || len(i.recs) == 0 {
		return false
	}
	i.rec = i.recs[0]
	i.recs = i.recs[1:]
	if i.p.ReadErr != nil && i.rec.Name == i.p.ReadErrRecord {
		i.err = i.p.ReadErr
		return false
	}
	return true
}

func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	copy := sam.GetFromFreePool()
	*copy = *i.rec
	return copy
}

// Err implements the gbam.Iterator interface.
func (i *fakeIterator) Err() error {
	return i.err
}

// Close implements the gbam.Iterator interface.
func (i *fakeIterator) Close() error {
	return i.err
}
