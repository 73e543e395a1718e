// Package npy reads and writes float32 arrays in the NumPy .npy format.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrBadMagic         = errors.New("not a .npy file")
	ErrUnsupportedDtype = errors.New("unsupported .npy dtype")
	ErrShapeMismatch    = errors.New("shape does not match data length")
)

const (
	magic     = "\x93NUMPY"
	alignment = 64
	descrF32  = "<f4"

	maxHeaderLen = 1 << 20
	maxElements  = math.MaxInt32
	readChunk    = 1 << 14
)

// Write encodes data as a C-ordered little-endian float32 array of the given
// shape, using format version 1.0.
func Write(w io.Writer, shape []int, data []float32) error {
	if product(shape) != len(data) {
		return fmt.Errorf("%w: %v vs %d values", ErrShapeMismatch, shape, len(data))
	}

	header := headerDict(shape)
	// magic(6) + version(2) + header length(2) + dict + '\n'
	total := len(magic) + 4 + len(header) + 1
	if pad := total % alignment; pad != 0 {
		header += strings.Repeat(" ", alignment-pad)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long: %d bytes", len(header))
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(magic)
	bw.Write([]byte{1, 0})
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	bw.Write(hlen[:])
	bw.WriteString(header)

	var buf [4]byte
	for _, v := range data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		bw.Write(buf[:])
	}
	return bw.Flush()
}

// WriteFile writes the array to path, creating parent directories.
func WriteFile(path string, shape []int, data []float32) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, shape, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read decodes a little-endian float32 C-ordered array (format 1.x or 2.x).
func Read(r io.Reader) ([]int, []float32, error) {
	return read(r, -1)
}

// ReadFile reads the array stored at path. The declared shape is checked
// against the file size before any data is read.
func ReadFile(path string) ([]int, []float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	return read(f, st.Size())
}

// read decodes an array from r. size is the total input length, or -1 when
// unknown.
func read(r io.Reader, size int64) ([]int, []float32, error) {
	br := bufio.NewReader(r)

	pre := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(br, pre); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if !bytes.Equal(pre[:len(magic)], []byte(magic)) {
		return nil, nil, ErrBadMagic
	}

	var hlen int
	consumed := int64(len(pre))
	switch major := pre[len(magic)]; major {
	case 1:
		var b [2]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return nil, nil, err
		}
		hlen = int(binary.LittleEndian.Uint16(b[:]))
		consumed += 2
	case 2, 3:
		var b [4]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return nil, nil, err
		}
		hlen = int(binary.LittleEndian.Uint32(b[:]))
		consumed += 4
	default:
		return nil, nil, fmt.Errorf("unsupported .npy version %d", major)
	}
	if hlen > maxHeaderLen {
		return nil, nil, fmt.Errorf("npy header of %d bytes exceeds %d", hlen, maxHeaderLen)
	}

	header := make([]byte, hlen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	consumed += int64(hlen)
	shape, err := parseHeader(string(header))
	if err != nil {
		return nil, nil, err
	}

	n, ok := elements(shape)
	if !ok {
		return nil, nil, fmt.Errorf("%w: shape %v is too large", ErrShapeMismatch, shape)
	}
	if size >= 0 && 4*int64(n) > size-consumed {
		return nil, nil, fmt.Errorf("%w: shape %v needs %d bytes, %d remain", ErrShapeMismatch, shape, 4*int64(n), size-consumed)
	}

	// grow with the data actually read rather than the declared shape
	data := make([]float32, 0, min(n, readChunk))
	buf := make([]byte, 4*min(n, readChunk))
	for len(data) < n {
		chunk := buf[:4*min(n-len(data), readChunk)]
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, nil, fmt.Errorf("read data: %w", err)
		}
		for i := 0; i < len(chunk); i += 4 {
			data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(chunk[i:])))
		}
	}
	return shape, data, nil
}

func headerDict(shape []int) string {
	return fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descrF32, shapeTuple(shape))
}

// shapeTuple renders shape the way Python prints a tuple.
func shapeTuple(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

func parseHeader(h string) ([]int, error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return nil, fmt.Errorf("npy header has no descr: %q", h)
	}
	if m[1] != descrF32 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDtype, m[1])
	}
	if m := fortranRe.FindStringSubmatch(h); m == nil || m[1] != "False" {
		return nil, fmt.Errorf("%w: fortran order", ErrUnsupportedDtype)
	}
	m = shapeRe.FindStringSubmatch(h)
	if m == nil {
		return nil, fmt.Errorf("npy header has no shape: %q", h)
	}

	shape := []int{}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("bad shape dimension %q", part)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

// elements returns the element count of shape, or false when it exceeds
// maxElements.
func elements(shape []int) (int, bool) {
	n := 1
	for _, d := range shape {
		if d != 0 && n > maxElements/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
