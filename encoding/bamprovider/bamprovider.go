package bamprovider

import (
	"io"
	"sync"

	gbam "github.com/grailbio/bamtofastq/encoding/bam"
	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
)

// BAMProvider implements Provider for BAM files. Both BAM and the index
// filenames are allowed to be S3 URLs, in which case the data will be read from
// S3. Otherwise the data will be read from the local filesystem.
type BAMProvider struct {
	// Path of the *.bam file. Must be nonempty.
	Path string
	// Index is the pathname of *.bam.bai file. If "", Path + ".bai"
	Index string
	// Validation controls the treatment of malformed records.
	Validation ValidationStringency

	err errorreporter.T

	mu      sync.Mutex
	nActive int
	header  *sam.Header
}

// bamReader is a private handle on the BAM file: its own file descriptor,
// decompressor and index.
type bamReader struct {
	provider *BAMProvider
	in       file.File
	reader   *bam.Reader
	// index is nil if no reference has any reads.
	index *bam.Index
	// Offset of the first record in the file.
	firstRecord bgzf.Offset
	active      bool
}

// bamIterator reads records from its reader until it leaves the requested
// range. An iterator with a nil ref reads unmapped records.
type bamIterator struct {
	r          *bamReader
	ref        *sam.Reference
	start, end int

	rec *sam.Record
	err error
}

func (b *BAMProvider) indexPath() string {
	index := b.Index
	if index == "" {
		index = b.Path + ".bai"
	}
	return index
}

// GetHeader implements the Provider interface.
func (b *BAMProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}

	ctx := vcontext.Background()
	reader, err := file.Open(ctx, b.Path)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	defer reader.Close(ctx)
	bamReader, err := bam.NewReader(reader.Reader(ctx), 1)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	defer bamReader.Close()
	b.header = bamReader.Header()
	return b.header, nil
}

// Open implements the Provider interface.
func (b *BAMProvider) Open() (Reader, error) {
	ctx := vcontext.Background()
	r := &bamReader{provider: b, active: true}
	var err error
	if r.in, err = file.Open(ctx, b.Path); err != nil {
		b.err.Set(err)
		return nil, err
	}
	indexIn, err := file.Open(ctx, b.indexPath())
	if err != nil {
		r.internalClose()
		b.err.Set(err)
		return nil, err
	}
	defer indexIn.Close(ctx)
	if r.index, err = bam.ReadIndex(indexIn.Reader(ctx)); err != nil {
		r.internalClose()
		b.err.Set(err)
		return nil, err
	}
	if r.reader, err = bam.NewReader(r.in.Reader(ctx), 1); err != nil {
		r.internalClose()
		b.err.Set(err)
		return nil, err
	}
	r.firstRecord = r.reader.LastChunk().End
	b.mu.Lock()
	b.nActive++
	b.mu.Unlock()
	return r, nil
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nActive > 0 {
		log.Panicf("%d readers still active for %s", b.nActive, b.Path)
	}
	return b.err.Err()
}

// Overlapping implements the gbam.Slicer interface.
func (r *bamReader) Overlapping(ref *sam.Reference, start, end int) gbam.Iterator {
	if r.index == nil {
		return gbam.NewErrorIterator(nil)
	}
	chunks, err := r.index.Chunks(ref, start, end)
	if err == index.ErrInvalid || (err == nil && len(chunks) == 0) {
		// No reads for this interval.
		return gbam.NewErrorIterator(nil)
	}
	if err != nil {
		return gbam.NewErrorIterator(err)
	}
	iter := &bamIterator{r: r, ref: ref, start: start, end: end}
	iter.err = r.reader.Seek(chunks[0].Begin)
	return NewValidatingIterator(iter, r.provider.Validation)
}

// Unmapped implements the gbam.Slicer interface.
func (r *bamReader) Unmapped() gbam.Iterator {
	iter := &bamIterator{r: r}
	offset, err := r.findUnmappedOffset()
	if err != nil {
		return gbam.NewErrorIterator(err)
	}
	iter.err = r.reader.Seek(offset)
	return NewValidatingIterator(iter, r.provider.Validation)
}

// Find the the file offset at which the first unmapped sequence is
// stored. This function is conservative; it may return an offset that's smaller
// than absolutely necessary.
func (r *bamReader) findUnmappedOffset() (bgzf.Offset, error) {
	if r.index == nil {
		return r.firstRecord, nil
	}
	// Iterate through the endpoint of each reference to find the
	// largest offset.
	var lastOffset bgzf.Offset
	foundRefs := false
	for _, ref := range r.reader.Header().Refs() {
		chunks, err := r.index.Chunks(ref, 0, ref.Len())
		if err == index.ErrInvalid {
			// There are no reads on this reference.
			continue
		}
		if err != nil {
			return lastOffset, err
		}
		if len(chunks) == 0 {
			continue
		}
		foundRefs = true
		c := chunks[len(chunks)-1]
		if c.End.File > lastOffset.File ||
			(c.End.File == lastOffset.File && c.End.Block > lastOffset.Block) {
			lastOffset = c.End
		}
	}
	if !foundRefs {
		return r.firstRecord, nil
	}
	return lastOffset, nil
}

// Close implements the Reader interface.
func (r *bamReader) Close() error {
	if !r.active {
		log.Panicf("reader for %s closed twice", r.provider.Path)
	}
	r.active = false
	err := r.internalClose()
	r.provider.mu.Lock()
	r.provider.nActive--
	r.provider.mu.Unlock()
	return err
}

func (r *bamReader) internalClose() error {
	var err errorreporter.T
	if r.reader != nil {
		err.Set(r.reader.Close())
		r.reader = nil
	}
	if r.in != nil {
		err.Set(r.in.Close(vcontext.Background()))
		r.in = nil
	}
	r.provider.err.Set(err.Err())
	return err.Err()
}

// Scan implements the gbam.Iterator interface.
func (i *bamIterator) Scan() bool {
	if i.err != nil {
		return false
	}
	for {
		i.rec, i.err = i.r.reader.Read()
		if i.err != nil {
			return false
		}
		if i.ref == nil {
			if i.rec.Ref == nil {
				return true
			}
			continue
		}
		// Records are sorted by (refid, pos) with unmapped records last.
		if i.rec.Ref == nil || i.rec.Ref.ID() > i.ref.ID() || i.rec.Pos >= i.end {
			i.err = io.EOF
			return false
		}
		if i.rec.Ref.ID() < i.ref.ID() || gbam.AlignmentEnd(i.rec) <= i.start {
			continue
		}
		return true
	}
}

// Record implements the gbam.Iterator interface.
func (i *bamIterator) Record() *sam.Record {
	return i.rec
}

// Err implements the gbam.Iterator interface.
func (i *bamIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the gbam.Iterator interface. The underlying reader stays
// open for the next iterator.
func (i *bamIterator) Close() error {
	err := i.Err()
	i.r.provider.err.Set(err)
	return err
}
