package bam2fastq

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/bamtofastq/encoding/bamprovider"
	"github.com/grailbio/bamtofastq/encoding/fastq"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpts(dir string) Opts {
	opts := DefaultOpts
	opts.BAMPath = "test.bam"
	opts.R1Path = filepath.Join(dir, "r1.fastq")
	opts.R2Path = filepath.Join(dir, "r2.fastq")
	opts.Progress = ProgressNone
	return opts
}

func runConverter(t *testing.T, opts Opts, p *bamprovider.FakeProvider) (Stats, *Converter, error) {
	c := NewConverter(opts, p)
	stats, err := c.Run(vcontext.Background())
	require.NoError(t, p.Close())
	return stats, c, err
}

func TestScenarioSinglePair(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 1000)
	chr1 := h.Refs()[0]
	recs := []*sam.Record{
		newTestRecord(t, "R1", chr1, 100, sam.Read1),
		newTestRecord(t, "R1", chr1, 300, sam.Read2|sam.Reverse),
	}
	opts := testOpts(tmpDir)
	p := bamprovider.NewFakeProvider(h, recs)
	stats, c, err := runConverter(t, opts, p)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.PairsWritten)
	assert.EqualValues(t, 2, stats.RecordsAccepted)
	assert.EqualValues(t, 0, stats.Orphans)
	assert.EqualValues(t, 2, stats.Partitions)
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, []State{StateInit, StateRunning, StateDraining, StateValidating, StateDone}, c.Transitions())
	assert.Equal(t, 1, p.NumOpened())

	ctx := vcontext.Background()
	assert.Equal(t, []string{"@R1/1 AACCGGTTAC !\"#$%&'()*"}, readFASTQ(t, ctx, opts.R1Path))
	assert.Equal(t, []string{"@R1/2 GTAACCGGTT *)('&%$#\"!"}, readFASTQ(t, ctx, opts.R2Path))
}

func TestScenarioOrphan(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 1000)
	chr1 := h.Refs()[0]
	recs := []*sam.Record{
		newTestRecord(t, "P", chr1, 10, sam.Paired|sam.Read1),
		newTestRecord(t, "R2a", chr1, 20, sam.Paired|sam.Read1),
		newTestRecord(t, "P", chr1, 30, sam.Paired|sam.Read2),
	}
	for _, strategy := range []CacheStrategy{CacheMap, CacheSharded} {
		opts := testOpts(tmpDir)
		opts.CacheStrategy = strategy
		opts.OrphansPath = filepath.Join(tmpDir, "orphans.sam")
		stats, c, err := runConverter(t, opts, bamprovider.NewFakeProvider(h, recs))
		require.Error(t, err)
		assert.True(t, errors.Is(errors.Integrity, err))
		assert.Contains(t, err.Error(), "orphaned")
		assert.Contains(t, err.Error(), "R2a")
		assert.EqualValues(t, 1, stats.Orphans)
		assert.EqualValues(t, 1, stats.PairsWritten)
		assert.Equal(t, StateFailed, c.State())

		dump, err := os.ReadFile(opts.OrphansPath)
		require.NoError(t, err)
		assert.Contains(t, string(dump), "R2a\t")
		assert.NotContains(t, string(dump), "P\t")
	}
}

// randomRecords creates nPairs pairs spread over the references, including
// pairs with one or both mates unmapped, plus secondary alignments. The
// result is sorted by coordinate.
func randomRecords(t *testing.T, h *sam.Header, nPairs int, seed int64) []*sam.Record {
	rnd := rand.New(rand.NewSource(seed))
	refs := h.Refs()
	place := func() (*sam.Reference, int) {
		if rnd.Intn(10) == 0 {
			return nil, -1
		}
		ref := refs[rnd.Intn(len(refs))]
		return ref, rnd.Intn(ref.Len() - 10)
	}
	var recs []*sam.Record
	for i := 0; i < nPairs; i++ {
		name := fmt.Sprintf("frag%04d", i)
		for _, flag := range []sam.Flags{sam.Read1, sam.Read2} {
			ref, pos := place()
			if rnd.Intn(2) == 0 {
				flag |= sam.Reverse
			}
			recs = append(recs, newTestRecord(t, name, ref, pos, sam.Paired|flag))
			if ref != nil && rnd.Intn(20) == 0 {
				ref2, pos2 := refs[0], rnd.Intn(refs[0].Len()-10)
				recs = append(recs, newTestRecord(t, name, ref2, pos2, sam.Paired|sam.Secondary|flag))
			}
		}
	}
	sortRecords(recs)
	return recs
}

// TestThreadInvariance runs the same input with different thread counts,
// cache strategies and partition sizes. The set of pairs written must not
// change.
func TestThreadInvariance(t *testing.T) {
	const nPairs = 500
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	h := newTestHeader(t, 1000, 517, 33)
	recs := randomRecords(t, h, nPairs, 1)

	var wantR1, wantR2 []string
	for _, test := range []struct {
		threads       int
		strategy      CacheStrategy
		partitionSize int
	}{
		{1, CacheAuto, 1000000},
		{1, CacheMap, 37},
		{2, CacheMap, 37},
		{2, CacheSharded, 101},
		{8, CacheAuto, 37},
		{8, CacheMap, 1},
		{16, CacheSharded, 7},
	} {
		name := fmt.Sprintf("threads=%d,cache=%v,partition=%d", test.threads, test.strategy, test.partitionSize)
		opts := testOpts(tmpDir)
		opts.Threads = test.threads
		opts.CacheStrategy = test.strategy
		opts.PartitionSize = test.partitionSize
		p := bamprovider.NewFakeProvider(h, recs)
		stats, _, err := runConverter(t, opts, p)
		require.NoError(t, err, name)
		assert.EqualValues(t, nPairs, stats.PairsWritten, name)
		assert.EqualValues(t, 2*nPairs, stats.RecordsAccepted, name)
		assert.EqualValues(t, stats.ReadsProcessed-2*nPairs, stats.SecondaryDropped, name)
		assert.Equal(t, test.threads, p.NumOpened(), name)

		r1, r2 := readFASTQ(t, ctx, opts.R1Path), readFASTQ(t, ctx, opts.R2Path)
		require.Len(t, r1, nPairs, name)
		for i := range r1 {
			assert.True(t, strings.HasPrefix(r1[i], fmt.Sprintf("@frag%04d/1 ", i)), name)
			assert.True(t, strings.HasPrefix(r2[i], fmt.Sprintf("@frag%04d/2 ", i)), name)
		}
		if wantR1 == nil {
			wantR1, wantR2 = r1, r2
		}
		assert.Equal(t, wantR1, r1, name)
		assert.Equal(t, wantR2, r2, name)

		in1, err := fastq.Open(ctx, opts.R1Path)
		require.NoError(t, err)
		in2, err := fastq.Open(ctx, opts.R2Path)
		require.NoError(t, err)
		n, err := fastq.VerifyPairs(in1, in2)
		require.NoError(t, err, name)
		assert.EqualValues(t, nPairs, n, name)
		require.NoError(t, in1.Close())
		require.NoError(t, in2.Close())
	}
}

func TestConsensusFilter(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 1000)
	chr1 := h.Refs()[0]
	cd, err := sam.NewAux(sam.NewTag("cD"), "1")
	require.NoError(t, err)
	recs := []*sam.Record{
		newTestRecord(t, "plain", chr1, 10, sam.Paired|sam.Read1),
		newTestRecord(t, "consensus", chr1, 15, sam.Paired|sam.Read1, cd),
		newTestRecord(t, "plain", chr1, 20, sam.Paired|sam.Read2),
		newTestRecord(t, "consensus", chr1, 25, sam.Paired|sam.Read2, cd),
	}
	for _, threads := range []int{1, 4} {
		opts := testOpts(tmpDir)
		opts.Threads = threads
		opts.PartitionSize = 12
		stats, _, err := runConverter(t, opts, bamprovider.NewFakeProvider(h, recs))
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.PairsWritten)
		assert.EqualValues(t, 2, stats.ConsensusDropped)
		r1 := readFASTQ(t, vcontext.Background(), opts.R1Path)
		require.Len(t, r1, 1)
		assert.True(t, strings.HasPrefix(r1[0], "@plain/1"))

		opts.RetainConsensus = true
		stats, _, err = runConverter(t, opts, bamprovider.NewFakeProvider(h, recs))
		require.NoError(t, err)
		assert.EqualValues(t, 2, stats.PairsWritten)
		assert.EqualValues(t, 0, stats.ConsensusDropped)
	}
}

func TestNoWrite(t *testing.T) {
	h := newTestHeader(t, 1000, 500)
	opts := DefaultOpts
	opts.BAMPath = "test.bam"
	opts.NoWrite = true
	opts.Threads = 4
	opts.PartitionSize = 50
	opts.Progress = ProgressNone
	stats, c, err := runConverter(t, opts, bamprovider.NewFakeProvider(h, randomRecords(t, h, 100, 2)))
	require.NoError(t, err)
	assert.EqualValues(t, 100, stats.PairsWritten)
	assert.Equal(t, StateDone, c.State())
}

func TestInvalidOpts(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 1000)
	for _, mutate := range []func(*Opts){
		func(o *Opts) { o.NoWrite = true },
		func(o *Opts) { o.R2Path = "" },
		func(o *Opts) { o.R1Path, o.R2Path = "", "" },
		func(o *Opts) { o.R2Path = o.R1Path },
		func(o *Opts) { o.PartitionSize = 0 },
		func(o *Opts) { o.Threads = -1 },
		func(o *Opts) { o.ConsensusTag = "cDx" },
		func(o *Opts) { o.Validation = bamprovider.ValidationStringency(7) },
		func(o *Opts) { o.BAMPath = "" },
	} {
		opts := testOpts(tmpDir)
		mutate(&opts)
		p := bamprovider.NewFakeProvider(h, nil)
		_, c, err := runConverter(t, opts, p)
		require.Error(t, err, "opts=%+v", opts)
		assert.True(t, errors.Is(errors.Invalid, err), "opts=%+v: %v", opts, err)
		assert.Equal(t, StateFailed, c.State())
		assert.Equal(t, 0, p.NumOpened())
	}
}

func TestConverterRunsOnce(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 1000)
	p := bamprovider.NewFakeProvider(h, nil)
	c := NewConverter(testOpts(tmpDir), p)
	_, err := c.Run(vcontext.Background())
	require.NoError(t, err)
	_, err = c.Run(vcontext.Background())
	assert.Error(t, err)
	require.NoError(t, p.Close())
}

func TestReadErrorAborts(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 1000, 1000)
	recs := randomRecords(t, h, 200, 3)
	for _, threads := range []int{1, 4} {
		opts := testOpts(tmpDir)
		opts.Threads = threads
		opts.PartitionSize = 100
		p := bamprovider.NewFakeProvider(h, recs)
		p.ReadErr = errors.New("disk on fire")
		p.ReadErrRecord = "frag0100"
		_, c, err := runConverter(t, opts, p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk on fire")
		assert.NotContains(t, err.Error(), "orphaned")
		assert.Equal(t, StateFailed, c.State())
	}
}

func TestStrictValidationAborts(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 1000)
	chr1 := h.Refs()[0]
	recs := []*sam.Record{
		newTestRecord(t, "a", chr1, 10, sam.Paired|sam.Read1),
		newTestRecord(t, "bad", chr1, 15, sam.Paired),
		newTestRecord(t, "a", chr1, 20, sam.Paired|sam.Read2),
	}
	opts := testOpts(tmpDir)
	_, _, err := runConverter(t, opts, bamprovider.NewFakeProvider(h, recs))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed record")

	// Lenient lets the record through, and it is then left without a mate.
	lenient := bamprovider.NewFakeProvider(h, recs, bamprovider.ProviderOpts{Validation: bamprovider.Lenient})
	_, _, err = runConverter(t, opts, lenient)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orphaned")
}

func TestReferenceCheck(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 20)
	faPath := filepath.Join(tmpDir, "ref.fa")
	require.NoError(t, os.WriteFile(faPath, []byte(">chr1\nACGTACGTAC\nACGTACGTAC\n"), 0644))
	badPath := filepath.Join(tmpDir, "bad.fa")
	require.NoError(t, os.WriteFile(badPath, []byte(">chr1\nACGTACGTAC\n"), 0644))

	opts := testOpts(tmpDir)
	opts.ReferencePath = faPath
	_, _, err := runConverter(t, opts, bamprovider.NewFakeProvider(h, nil))
	require.NoError(t, err)

	opts.ReferencePath = badPath
	p := bamprovider.NewFakeProvider(h, nil)
	_, _, err = runConverter(t, opts, p)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err))
	assert.Equal(t, 0, p.NumOpened())
}

func TestMetricsAndCompressedOutput(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	h := newTestHeader(t, 1000)
	opts := testOpts(tmpDir)
	opts.R1Path = filepath.Join(tmpDir, "r1.fastq.gz")
	opts.R2Path = filepath.Join(tmpDir, "r2.fastq.zst")
	opts.MetricsPath = filepath.Join(tmpDir, "metrics.tsv")
	opts.Threads = 3
	stats, _, err := runConverter(t, opts, bamprovider.NewFakeProvider(h, randomRecords(t, h, 50, 4)))
	require.NoError(t, err)
	assert.EqualValues(t, 50, stats.PairsWritten)
	assert.Len(t, readFASTQ(t, ctx, opts.R1Path), 50)
	assert.Len(t, readFASTQ(t, ctx, opts.R2Path), 50)

	metrics, err := os.ReadFile(opts.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "#metric\tvalue\n")
	assert.Contains(t, string(metrics), "pairs_written\t50\n")
	assert.Contains(t, string(metrics), "threads\t3\n")
}

func TestConvertUnmappedOnlyBAM(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	h := newTestHeader(t, 1000, 2000)
	bamPath := filepath.Join(tmpDir, "unmapped.bam")
	writeTestBAM(t, bamPath, h, []*sam.Record{
		newTestRecord(t, "u0", nil, 0, sam.Paired|sam.Read1|sam.MateUnmapped),
		newTestRecord(t, "u0", nil, 0, sam.Paired|sam.Read2|sam.MateUnmapped),
		newTestRecord(t, "u1", nil, 0, sam.Paired|sam.Read2|sam.MateUnmapped),
		newTestRecord(t, "u1", nil, 0, sam.Paired|sam.Read1|sam.MateUnmapped),
	})

	ctx := vcontext.Background()
	for _, threads := range []int{1, 4} {
		opts := testOpts(tmpDir)
		opts.BAMPath = bamPath
		opts.Threads = threads
		opts.PartitionSize = 500
		stats, err := Convert(ctx, opts)
		require.NoError(t, err, "threads=%d", threads)
		assert.EqualValues(t, 2, stats.PairsWritten, "threads=%d", threads)
		assert.EqualValues(t, 0, stats.Orphans)
		assert.Equal(t, []string{
			"@u0/1 AACCGGTTAC !\"#$%&'()*",
			"@u1/1 AACCGGTTAC !\"#$%&'()*",
		}, readFASTQ(t, ctx, opts.R1Path))

		opts.NoWrite = true
		opts.R1Path, opts.R2Path = "", ""
		stats, err = Convert(ctx, opts)
		require.NoError(t, err)
		assert.EqualValues(t, 2, stats.PairsWritten)
	}
}
