package bamprovider

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/bamtofastq/encoding/fasta"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/sam"
)

// CheckReference verifies that every reference in header is present in the
// sequence dictionary of refPath with the same length. refPath is either a
// FASTA file or its samtools .fai index. Extra sequences in the reference are
// allowed.
func CheckReference(ctx context.Context, header *sam.Header, refPath string) (err error) {
	in, err := file.Open(ctx, refPath)
	if err != nil {
		return errors.E(err, "open reference", refPath)
	}
	defer file.CloseAndReport(ctx, in, &err)

	var seqs []fasta.Sequence
	if strings.HasSuffix(refPath, ".fai") {
		seqs, err = fasta.ReadFaiDictionary(in.Reader(ctx))
	} else {
		seqs, err = fasta.ReadDictionary(in.Reader(ctx))
	}
	if err != nil {
		return errors.E(errors.Invalid, err, "read reference dictionary", refPath)
	}
	lengths := make(map[string]uint64, len(seqs))
	for _, s := range seqs {
		lengths[s.Name] = s.Len
	}
	for _, ref := range header.Refs() {
		n, ok := lengths[ref.Name()]
		if !ok {
			return errors.E(errors.Invalid,
				fmt.Sprintf("reference %s of the BAM header is missing from %s", ref.Name(), refPath))
		}
		if n != uint64(ref.Len()) {
			return errors.E(errors.Invalid,
				fmt.Sprintf("reference %s has length %d in the BAM header but %d in %s", ref.Name(), ref.Len(), n, refPath))
		}
	}
	return nil
}
