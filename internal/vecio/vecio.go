// Package vecio reads and writes the fvecs / ivecs vector file formats:
// a concatenation of ⟨int32 d⟩⟨payload × d⟩ records, little-endian, where
// every record shares the same dimension.
package vecio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// ErrBadFormat reports a malformed vector file.
var ErrBadFormat = errors.New("malformed vector file")

// maxDim is the sanity bound on a record's dimension header.
const maxDim = 1_000_000

// ReadFvecs reads an .fvecs file and returns the vectors as one contiguous
// row-major float32 buffer together with the dimension and vector count.
func ReadFvecs(path string) (data []float32, dim, n int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("stat %s: %w", path, err)
	}

	r := &stickyReader{r: bufio.NewReader(f)}
	d := r.readI32()
	if r.err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %s: empty or truncated header", ErrBadFormat, path)
	}
	if d <= 0 || d >= maxDim {
		return nil, 0, 0, fmt.Errorf("%w: %s: unreasonable dimension %d", ErrBadFormat, path, d)
	}
	dim = int(d)

	recSize := int64(dim+1) * 4
	if fi.Size()%recSize != 0 {
		return nil, 0, 0, fmt.Errorf("%w: %s: size %d not a multiple of record size %d", ErrBadFormat, path, fi.Size(), recSize)
	}
	n = int(fi.Size() / recSize)

	data = make([]float32, n*dim)
	for i := 0; i < n; i++ {
		if i > 0 {
			if got := r.readI32(); r.err == nil && got != d {
				return nil, 0, 0, fmt.Errorf("%w: %s: record %d has dimension %d, want %d", ErrBadFormat, path, i, got, d)
			}
		}
		r.readF32s(data[i*dim : (i+1)*dim])
	}
	if r.err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %s: %v", ErrBadFormat, path, r.err)
	}
	return data, dim, n, nil
}

// ReadIvecs reads an .ivecs file; same layout as fvecs with int32 payloads.
func ReadIvecs(path string) (data []int32, dim, n int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("stat %s: %w", path, err)
	}

	r := &stickyReader{r: bufio.NewReader(f)}
	d := r.readI32()
	if r.err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %s: empty or truncated header", ErrBadFormat, path)
	}
	if d <= 0 || d >= maxDim {
		return nil, 0, 0, fmt.Errorf("%w: %s: unreasonable dimension %d", ErrBadFormat, path, d)
	}
	dim = int(d)

	recSize := int64(dim+1) * 4
	if fi.Size()%recSize != 0 {
		return nil, 0, 0, fmt.Errorf("%w: %s: size %d not a multiple of record size %d", ErrBadFormat, path, fi.Size(), recSize)
	}
	n = int(fi.Size() / recSize)

	data = make([]int32, n*dim)
	for i := 0; i < n; i++ {
		if i > 0 {
			if got := r.readI32(); r.err == nil && got != d {
				return nil, 0, 0, fmt.Errorf("%w: %s: record %d has dimension %d, want %d", ErrBadFormat, path, i, got, d)
			}
		}
		r.readI32s(data[i*dim : (i+1)*dim])
	}
	if r.err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %s: %v", ErrBadFormat, path, r.err)
	}
	return data, dim, n, nil
}

// WriteFvecs writes a contiguous row-major buffer as an .fvecs file.
func WriteFvecs(path string, data []float32, dim int) error {
	if dim <= 0 || len(data)%dim != 0 {
		return fmt.Errorf("%w: buffer of %d floats is not a multiple of dim %d", ErrBadFormat, len(data), dim)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	w := &stickyWriter{w: bw}
	for i := 0; i < len(data); i += dim {
		w.writeI32(int32(dim))
		w.writeF32s(data[i : i+dim])
	}
	if w.err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, w.err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteIvecs writes a contiguous row-major buffer as an .ivecs file.
func WriteIvecs(path string, data []int32, dim int) error {
	if dim <= 0 || len(data)%dim != 0 {
		return fmt.Errorf("%w: buffer of %d ints is not a multiple of dim %d", ErrBadFormat, len(data), dim)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	w := &stickyWriter{w: bw}
	for i := 0; i < len(data); i += dim {
		w.writeI32(int32(dim))
		w.writeI32s(data[i : i+dim])
	}
	if w.err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, w.err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// stickyReader wraps an io.Reader and accumulates the first error.
type stickyReader struct {
	r   *bufio.Reader
	err error
}

func (sr *stickyReader) read(v any) {
	if sr.err != nil {
		return
	}
	sr.err = binary.Read(sr.r, binary.LittleEndian, v)
}

func (sr *stickyReader) readI32() int32 {
	var v int32
	sr.read(&v)
	return v
}

func (sr *stickyReader) readF32s(dst []float32) { sr.read(dst) }
func (sr *stickyReader) readI32s(dst []int32)   { sr.read(dst) }

// stickyWriter wraps an io.Writer and accumulates the first error.
type stickyWriter struct {
	w   *bufio.Writer
	err error
}

func (sw *stickyWriter) write(v any) {
	if sw.err != nil {
		return
	}
	sw.err = binary.Write(sw.w, binary.LittleEndian, v)
}

func (sw *stickyWriter) writeI32(v int32)        { sw.write(v) }
func (sw *stickyWriter) writeF32s(src []float32) { sw.write(src) }
func (sw *stickyWriter) writeI32s(src []int32)   { sw.write(src) }
