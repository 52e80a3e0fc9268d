package bam2fastq

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/grailbio/bamtofastq/encoding/fastq"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/require"
)

func newTestHeader(t testing.TB, lens ...int) *sam.Header {
	var refs []*sam.Reference
	for i, n := range lens {
		ref, err := sam.NewReference(fmt.Sprintf("chr%d", i+1), "", "", n, nil, nil)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	h, err := sam.NewHeader(nil, refs)
	require.NoError(t, err)
	return h
}

// newTestRecord creates a 10-base record. A nil ref creates an unmapped
// record.
func newTestRecord(t testing.TB, name string, ref *sam.Reference, pos int, flags sam.Flags, aux ...sam.Aux) *sam.Record {
	var cigar []sam.CigarOp
	if ref == nil {
		pos = -1
	} else {
		cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 10)}
	}
	r, err := sam.NewRecord(name, ref, nil, pos, -1, 0, 60, cigar,
		[]byte("AACCGGTTAC"), []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, aux)
	require.NoError(t, err)
	r.Flags = flags
	if ref == nil {
		r.Flags |= sam.Unmapped
	}
	return r
}

// sortRecords sorts by coordinate with unmapped records last.
func sortRecords(recs []*sam.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if (a.Ref == nil) != (b.Ref == nil) {
			return b.Ref == nil
		}
		if a.Ref == nil {
			return false
		}
		if a.Ref.ID() != b.Ref.ID() {
			return a.Ref.ID() < b.Ref.ID()
		}
		return a.Pos < b.Pos
	})
}

// pairRecorder is a PairWriter that remembers "r1name,r2name" for every
// pair. Records are released to the pool after Write returns, so only names
// are kept.
type pairRecorder struct {
	mu    sync.Mutex
	pairs []string
	err   error
}

func (w *pairRecorder) Write(a, b *sam.Record) error {
	r1, r2, err := orderPair(a, b)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.pairs = append(w.pairs, r1.Name+","+r2.Name)
	return nil
}

func (w *pairRecorder) PairsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.pairs))
}

func (w *pairRecorder) Close() error { return nil }

func (w *pairRecorder) sorted() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := append([]string(nil), w.pairs...)
	sort.Strings(p)
	return p
}

// readFASTQ returns the records of path, sorted by ID, one
// "id seq qual" string per record.
func readFASTQ(t testing.TB, ctx context.Context, path string) []string {
	in, err := fastq.Open(ctx, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, in.Close()) }()
	s := fastq.NewScanner(in, fastq.All)
	var (
		r    fastq.Read
		recs []string
	)
	for s.Scan(&r) {
		recs = append(recs, strings.Join([]string{r.ID, r.Seq, r.Qual}, " "))
	}
	require.NoError(t, s.Err())
	sort.Strings(recs)
	return recs
}

// writeTestBAM writes recs, sorted by coordinate, to path together with a
// .bai index built by hts.
func writeTestBAM(t testing.TB, path string, h *sam.Header, recs []*sam.Record) {
	sortRecords(recs)
	out, err := os.Create(path)
	require.NoError(t, err)
	w, err := bam.NewWriter(out, h, 1)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())

	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()
	br, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	var idx bam.Index
	for {
		r, err := br.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if r.Ref != nil {
			require.NoError(t, idx.Add(r, br.LastChunk()))
		}
	}
	require.NoError(t, br.Close())
	indexOut, err := os.Create(path + ".bai")
	require.NoError(t, err)
	require.NoError(t, bam.WriteIndex(indexOut, &idx))
	require.NoError(t, indexOut.Close())
}
