// Package fasta reads the sequence dictionary of a FASTA file, either by
// scanning the FASTA data itself or from its samtools .fai index.  See
// http://www.htslib.org/doc/faidx.html.  Briefly, FASTA files consist of a
// number of named sequences that may be interrupted by newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Any text appear after a space are ignored.
// For example, '>chr1 A viral sequence' becomes 'chr1'.
package fasta

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

const (
	maxLineSize = 1024 * 1024 * 300 // 300 MB
)

// Index files consist of one tab-separated line per sequence in the associated
// FASTA file.  The format is: "<sequence name>\t<length>\t<byte
// offset>\t<bases per line>\t<bytes per line>".
// For example: "chr3\t12345\t9000\t80\t81".
var indexRegExp = regexp.MustCompile(`^(\S+)\t(\d+)\t(\d+)\t(\d+)\t(\d+)`)

// Sequence is one entry of a sequence dictionary.
type Sequence struct {
	Name string
	Len  uint64
}

// ReadDictionary scans FASTA data and returns the name and length of each
// sequence, in the order of appearance. Bases are counted, not stored.
func ReadDictionary(r io.Reader) ([]Sequence, error) {
	var seqs []Sequence
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			name := line[1:]
			if i := bytes.IndexAny(name, " \t"); i >= 0 {
				name = name[:i]
			}
			if len(name) == 0 {
				return nil, errors.Errorf("malformed FASTA file: empty sequence name at sequence %d", len(seqs))
			}
			seqs = append(seqs, Sequence{Name: string(name)})
			continue
		}
		if len(seqs) == 0 {
			return nil, errors.Errorf("malformed FASTA file: bases before the first sequence name")
		}
		seqs[len(seqs)-1].Len += uint64(len(bytes.TrimRight(line, "\r")))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if len(seqs) == 0 {
		return nil, errors.Errorf("empty FASTA file")
	}
	return seqs, nil
}

// ReadFaiDictionary reads a .fai index and returns the name and length of
// each sequence, in file order. This doesn't require reading in the fasta
// itself.
func ReadFaiDictionary(index io.Reader) ([]Sequence, error) {
	var seqs []Sequence
	scanner := bufio.NewScanner(index)
	for scanner.Scan() {
		matches := indexRegExp.FindStringSubmatch(scanner.Text())
		if len(matches) != 6 {
			return nil, errors.Errorf("invalid index line: %s", scanner.Text())
		}
		length, err := strconv.ParseUint(matches[2], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid length in index line: %s", scanner.Text())
		}
		seqs = append(seqs, Sequence{Name: matches[1], Len: length})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA index")
	}
	return seqs, nil
}
