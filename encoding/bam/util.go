package bam

import "github.com/grailbio/hts/sam"

// IsPrimary returns false for secondary and supplementary alignments.
func IsPrimary(record *sam.Record) bool {
	return (record.Flags&sam.Secondary) == 0 && (record.Flags&sam.Supplementary) == 0
}

// IsFirstOfPair returns true if record is R1 of a pair.
func IsFirstOfPair(record *sam.Record) bool {
	return (record.Flags & sam.Read1) != 0
}

// AlignmentStart returns the 1-based position of the leftmost aligned base of
// record. For a record without a position it returns 0.
func AlignmentStart(record *sam.Record) int {
	return record.Pos + 1
}

// AlignmentEnd returns the 0-based, exclusive end of record on its
// reference. A record whose CIGAR consumes no reference bases is treated as
// covering one base, so that it overlaps the window containing its start.
func AlignmentEnd(record *sam.Record) int {
	end := record.End()
	if end <= record.Pos {
		end = record.Pos + 1
	}
	return end
}

// HasAux returns true if record carries the given aux tag.
func HasAux(record *sam.Record, tag sam.Tag) bool {
	return record.AuxFields.Get(tag) != nil
}
