package bamprovider

import (
	"fmt"

	gbam "github.com/grailbio/bamtofastq/encoding/bam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// ValidateRecord checks the fields of r that FASTQ conversion depends on. It
// returns nil if r is well formed.
func ValidateRecord(r *sam.Record) error {
	if r.Name == "" {
		return errors.E(errors.Invalid, fmt.Sprintf("record at %s:%d has no name", r.Ref.Name(), r.Pos))
	}
	if len(r.Qual) != 0 && len(r.Qual) != r.Seq.Length {
		return errors.E(errors.Invalid, fmt.Sprintf("%s: sequence length %d does not match quality length %d",
			r.Name, r.Seq.Length, len(r.Qual)))
	}
	if (r.Flags & sam.Paired) != 0 {
		r1 := (r.Flags & sam.Read1) != 0
		r2 := (r.Flags & sam.Read2) != 0
		if r1 == r2 {
			return errors.E(errors.Invalid, fmt.Sprintf("%s: paired read must be exactly one of first or second of pair, flags %v",
				r.Name, r.Flags))
		}
	}
	return nil
}

type validatingIterator struct {
	gbam.Iterator
	stringency ValidationStringency
	err        error
}

// NewValidatingIterator wraps iter so that every record is checked with
// ValidateRecord. Under Strict, the first malformed record stops the
// iteration with an error. Lenient logs malformed records, and Silent lets
// them through unchanged.
func NewValidatingIterator(iter gbam.Iterator, stringency ValidationStringency) gbam.Iterator {
	if stringency == Silent {
		return iter
	}
	return &validatingIterator{Iterator: iter, stringency: stringency}
}

func (i *validatingIterator) Scan() bool {
	if i.err != nil || !i.Iterator.Scan() {
		return false
	}
	if err := ValidateRecord(i.Iterator.Record()); err != nil {
		if i.stringency == Strict {
			i.err = errors.E(err, "malformed record")
			return false
		}
		log.Error.Printf("ignoring malformed record: %v", err)
	}
	return true
}

func (i *validatingIterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.Iterator.Err()
}

func (i *validatingIterator) Close() error {
	err := i.Iterator.Close()
	if i.err != nil {
		return i.err
	}
	return err
}
