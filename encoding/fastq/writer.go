package fastq

import "io"

var newline = []byte{'\n'}

// Writer is a FASTQ file writer. Errors are sticky: once a write fails, all
// later writes return the same error.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter constructs a new FASTQ writer
// that writes reads to the underlying writer w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFields writes one FASTQ record from raw fields. id is written after
// an '@', and line 3 is a bare '+'. seq and qual must have the same length.
func (w *Writer) WriteFields(id string, seq, qual []byte) error {
	w.write([]byte{'@'})
	w.writeln(id)
	w.write(seq)
	w.write(newline)
	w.write(plusLine)
	w.write(qual)
	w.write(newline)
	return w.err
}

var plusLine = []byte("+\n")

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

func (w *Writer) writeln(line string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, line)
	if w.err == nil {
		_, w.err = w.w.Write(newline)
	}
}
