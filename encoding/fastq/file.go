package fastq

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Compression identifies the encoding of a FASTQ file on disk.
type Compression int

const (
	// Plain is uncompressed FASTQ.
	Plain Compression = iota
	// Gzip is gzip compressed FASTQ, suffix ".gz".
	Gzip
	// Zstd is zstandard compressed FASTQ, suffix ".zst".
	Zstd
	// Snappy is a framed snappy stream, suffix ".sz".
	Snappy
)

const bufferSize = 1 << 20

// CompressionForPath picks the compression from the path suffix.
func CompressionForPath(path string) Compression {
	switch {
	case fileio.DetermineType(path) == fileio.Gzip:
		return Gzip
	case strings.HasSuffix(path, ".zst"):
		return Zstd
	case strings.HasSuffix(path, ".sz"):
		return Snappy
	}
	return Plain
}

type writeCloser struct {
	ctx  context.Context
	path string
	out  file.File
	buf  *bufio.Writer
	// Compressor, nil for Plain.
	z io.WriteCloser
}

// Create opens path for writing. Path may be local or on S3. The data is
// buffered and compressed according to CompressionForPath. Close must be
// called to flush the data and finalize the file.
func Create(ctx context.Context, path string) (io.WriteCloser, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	w := &writeCloser{ctx: ctx, path: path, out: out}
	var dst io.Writer = out.Writer(ctx)
	switch CompressionForPath(path) {
	case Gzip:
		w.z = gzip.NewWriter(dst)
	case Zstd:
		if w.z, err = zstd.NewWriter(dst); err != nil {
			_ = out.Close(ctx)
			return nil, errors.Wrapf(err, "zstd writer for %s", path)
		}
	case Snappy:
		w.z = snappy.NewBufferedWriter(dst)
	}
	if w.z != nil {
		dst = w.z
	}
	w.buf = bufio.NewWriterSize(dst, bufferSize)
	return w, nil
}

func (w *writeCloser) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *writeCloser) Close() error {
	var err errorreporter.T
	err.Set(w.buf.Flush())
	if w.z != nil {
		err.Set(w.z.Close())
	}
	err.Set(w.out.Close(w.ctx))
	if err.Err() != nil {
		return errors.Wrapf(err.Err(), "close %s", w.path)
	}
	return nil
}

type readCloser struct {
	io.Reader
	ctx   context.Context
	in    file.File
	close func()
}

// Open opens path for reading, decompressing according to
// CompressionForPath.
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	r := &readCloser{ctx: ctx, in: in}
	src := bufio.NewReaderSize(in.Reader(ctx), bufferSize)
	switch CompressionForPath(path) {
	case Gzip:
		gz, err := gzip.NewReader(src)
		if err != nil {
			_ = in.Close(ctx)
			return nil, errors.Wrapf(err, "gzip reader for %s", path)
		}
		r.Reader = gz
	case Zstd:
		zr, err := zstd.NewReader(src)
		if err != nil {
			_ = in.Close(ctx)
			return nil, errors.Wrapf(err, "zstd reader for %s", path)
		}
		r.Reader, r.close = zr, zr.Close
	case Snappy:
		r.Reader = snappy.NewReader(src)
	default:
		r.Reader = src
	}
	return r, nil
}

func (r *readCloser) Close() error {
	if r.close != nil {
		r.close()
	}
	return r.in.Close(r.ctx)
}
