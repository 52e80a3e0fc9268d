package fastq

import (
	"io"
	"strings"

	"github.com/pkg/errors"
)

// MateName returns the read name of a FASTQ ID line: the leading '@' and
// anything after the first space or tab are removed, as is a trailing "/1" or
// "/2" mate suffix.
func MateName(id string) string {
	id = strings.TrimPrefix(id, "@")
	if i := strings.IndexAny(id, " \t"); i >= 0 {
		id = id[:i]
	}
	if n := len(id); n >= 2 && id[n-2] == '/' && (id[n-1] == '1' || id[n-1] == '2') {
		id = id[:n-2]
	}
	return id
}

// VerifyPairs reads r1 and r2 to the end and checks that both hold the same
// number of records, and that record k of r1 and record k of r2 carry the same
// read name. It returns the number of pairs read. A mismatch is reported as
// an error wrapping ErrDiscordant.
func VerifyPairs(r1, r2 io.Reader) (int64, error) {
	var (
		s      = NewPairScanner(r1, r2, ID)
		a, b   Read
		nPairs int64
	)
	for s.Scan(&a, &b) {
		if na, nb := MateName(a.ID), MateName(b.ID); na != nb {
			return nPairs, errors.Wrapf(ErrDiscordant, "pair %d: read names %q and %q differ", nPairs, na, nb)
		}
		nPairs++
	}
	if err := s.Err(); err != nil {
		return nPairs, errors.Wrapf(err, "after %d pairs", nPairs)
	}
	return nPairs, nil
}
