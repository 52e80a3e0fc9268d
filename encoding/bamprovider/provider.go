package bamprovider

import (
	"fmt"

	gbam "github.com/grailbio/bamtofastq/encoding/bam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// ValidationStringency controls how readers treat malformed records.
type ValidationStringency int

const (
	// Strict turns a malformed record into a read error.
	Strict ValidationStringency = iota
	// Lenient logs a malformed record and yields it anyway.
	Lenient
	// Silent yields malformed records without logging.
	Silent
)

// String implements fmt.Stringer.
func (v ValidationStringency) String() string {
	switch v {
	case Strict:
		return "strict"
	case Lenient:
		return "lenient"
	case Silent:
		return "silent"
	}
	return fmt.Sprintf("ValidationStringency(%d)", int(v))
}

// ParseValidationStringency parses "strict", "lenient" or "silent".
func ParseValidationStringency(name string) (ValidationStringency, error) {
	switch name {
	case "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	case "silent":
		return Silent, nil
	}
	return Strict, errors.E(errors.Invalid,
		fmt.Sprintf("unknown validation stringency %q, want one of strict, lenient, silent", name))
}

// ProviderOpts defines options for NewProvider.
type ProviderOpts struct {
	// Index specifies the name of the BAM index file. If Index=="", it
	// defaults to path + ".bai".
	Index string

	// Validation controls the treatment of malformed records.
	Validation ValidationStringency
}

// Provider allows reading a BAM file in parallel. Thread safe.
type Provider interface {
	// GetHeader returns the header of the BAM file. The callee must not modify
	// the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*sam.Header, error)

	// Open creates a private reader handle. A Reader is not thread safe;
	// each goroutine that reads records must open its own.
	//
	// REQUIRES: Close has not been called.
	Open() (Reader, error)

	// Close must be called exactly once. It returns any error encountered by
	// the provider, or any reader created by the provider.
	//
	// REQUIRES: All the readers created by Open have been closed.
	Close() error
}

// Reader is a handle on the underlying file. It hands out iterators over
// genomic ranges, one at a time. Thread compatible.
type Reader interface {
	gbam.Slicer

	// Close releases the handle. It must be called exactly once, after the
	// last iterator has been closed.
	Close() error
}

func mergeOpts(optList []ProviderOpts) ProviderOpts {
	opts := ProviderOpts{}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
		if o.Validation != Strict {
			opts.Validation = o.Validation
		}
	}
	return opts
}

// NewProvider creates a Provider for the BAM file at "path".
func NewProvider(path string, optList ...ProviderOpts) Provider {
	opts := mergeOpts(optList)
	return &BAMProvider{Path: path, Index: opts.Index, Validation: opts.Validation}
}
