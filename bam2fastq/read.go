package bam2fastq

import (
	"github.com/grailbio/bamtofastq/encoding/fastq"
	"github.com/grailbio/base/simd"
	"github.com/grailbio/hts/sam"
)

const (
	phredOffset = 33
	// missingQual is written for bases without a quality score (0xff in
	// BAM), Phred 30.
	missingQual = '?'
)

// complement maps an IUPAC base to its complement. Bytes outside the IUPAC
// alphabet map to 'N'.
var complement [256]byte

func init() {
	for i := range complement {
		complement[i] = 'N'
	}
	for _, p := range []string{
		"AT", "CG", "MK", "RY", "WW", "SS", "VB", "HD", "NN", "==",
		"at", "cg", "mk", "ry", "ww", "ss", "vb", "hd", "nn",
	} {
		complement[p[0]] = p[1]
		complement[p[1]] = p[0]
	}
}

// reverseComplement reverse-complements seq in place.
func reverseComplement(seq []byte) {
	simd.Reverse8Inplace(seq)
	for i, b := range seq {
		seq[i] = complement[b]
	}
}

// fastqFormatter renders sam records as FASTQ. It reuses its buffers, so it
// must not be shared between goroutines.
type fastqFormatter struct {
	keepOrientation bool
	mateSuffix      bool

	name []byte
	qual []byte
}

func newFastqFormatter(opts Opts) *fastqFormatter {
	return &fastqFormatter{keepOrientation: opts.KeepOrientation, mateSuffix: opts.MateSuffix}
}

// write emits r as mate 1 or 2 to w. Reverse-strand records are restored to
// the orientation in which they were sequenced unless keepOrientation is set.
func (f *fastqFormatter) write(w *fastq.Writer, r *sam.Record, mate byte) error {
	f.name = append(f.name[:0], r.Name...)
	if f.mateSuffix {
		f.name = append(f.name, '/', '0'+mate)
	}

	seq := r.Seq.Expand()
	n := len(seq)
	if cap(f.qual) < n {
		f.qual = make([]byte, n)
	}
	qual := f.qual[:n]
	// BAM stores a missing quality string as all 0xff.
	if len(r.Qual) == n && n > 0 && r.Qual[0] != 0xff {
		simd.AddConst8(qual, r.Qual, phredOffset)
	} else {
		simd.Memset8(qual, missingQual)
	}
	if r.Flags&sam.Reverse != 0 && !f.keepOrientation {
		reverseComplement(seq)
		simd.Reverse8Inplace(qual)
	}
	return w.WriteFields(string(f.name), seq, qual)
}
