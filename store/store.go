// Package store keeps embeddings in a tinyv vector store file.
//
// The file is little-endian: an int32 format version and an int32 vector
// count, then for each vector an int32 length followed by that many float32
// values.
package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/gomithril/textembed"
)

const FormatVersion int32 = 1

var (
	ErrDimMismatch     = textembed.ErrDimMismatch
	ErrEmptyStore      = errors.New("vector store is empty")
	ErrBadVersion      = errors.New("unsupported vector store version")
	ErrCorruptStore    = errors.New("corrupt vector store")
	ErrIndexOutOfRange = errors.New("vector index out of range")
)

// Metric scores a stored vector against a query; higher is closer.
type Metric string

const (
	MetricDot    Metric = "dot"
	MetricCosine Metric = "cosine"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricDot, MetricCosine:
		return m, nil
	case "":
		return MetricDot, nil
	default:
		return "", fmt.Errorf("unknown metric %q (want dot or cosine)", s)
	}
}

// Store is an in-memory list of vectors with file persistence.
type Store struct {
	vectors []textembed.Embedding
}

func New() *Store {
	return &Store{}
}

func (s *Store) Len() int { return len(s.vectors) }

// Add appends a copy of v and returns its index.
func (s *Store) Add(v textembed.Embedding) int {
	c := make(textembed.Embedding, len(v))
	copy(c, v)
	s.vectors = append(s.vectors, c)
	return len(s.vectors) - 1
}

func (s *Store) Get(i int) (textembed.Embedding, error) {
	if i < 0 || i >= len(s.vectors) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return s.vectors[i], nil
}

// Match is a ranked search result.
type Match struct {
	Index int
	Score float32
}

// Nearest returns up to k vectors ordered by descending score, so the most
// similar vector comes first. Ties keep insertion order. Older tinyv tools
// pick the vector with the smallest dot product instead; files are
// compatible but rankings from them are reversed.
func (s *Store) Nearest(query textembed.Embedding, k int, metric Metric) ([]Match, error) {
	if len(s.vectors) == 0 {
		return nil, ErrEmptyStore
	}
	if k <= 0 {
		k = 1
	}

	score := textembed.Embedding.Dot
	if metric == MetricCosine {
		score = textembed.Embedding.Cosine
	}

	matches := make([]Match, 0, len(s.vectors))
	for i, v := range s.vectors {
		sc, err := score(query, v)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		matches = append(matches, Match{Index: i, Score: sc})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	put := func(v any) error {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
		n += int64(binary.Size(v))
		return nil
	}

	if len(s.vectors) > math.MaxInt32 {
		return 0, fmt.Errorf("too many vectors: %d", len(s.vectors))
	}
	if err := put([2]int32{FormatVersion, int32(len(s.vectors))}); err != nil {
		return n, err
	}
	for _, v := range s.vectors {
		if err := put(int32(len(v))); err != nil {
			return n, err
		}
		if err := put([]float32(v)); err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// Read decodes a store from r.
func Read(r io.Reader) (*Store, error) {
	return read(r, -1)
}

// Load reads the store at path. Declared vector sizes are checked against
// the file size before they are read.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return read(f, st.Size())
}

// read decodes a store. size is the input length in bytes, or -1 when
// unknown.
func read(r io.Reader, size int64) (*Store, error) {
	br := bufio.NewReader(r)
	remaining := size

	var header [2]int32
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptStore, err)
	}
	if header[0] != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, header[0])
	}
	if header[1] < 0 {
		return nil, fmt.Errorf("%w: negative vector count", ErrCorruptStore)
	}
	remaining -= 8
	// every vector carries at least its int32 size
	if size >= 0 && 4*int64(header[1]) > remaining {
		return nil, fmt.Errorf("%w: %d vectors cannot fit in %d bytes", ErrCorruptStore, header[1], size)
	}

	s := &Store{vectors: make([]textembed.Embedding, 0, min(header[1], 1024))}
	for i := int32(0); i < header[1]; i++ {
		var n int32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: vector %d header: %v", ErrCorruptStore, i, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: vector %d has negative size", ErrCorruptStore, i)
		}
		remaining -= 4
		if size >= 0 && 4*int64(n) > remaining {
			return nil, fmt.Errorf("%w: vector %d declares %d values, %d bytes remain", ErrCorruptStore, i, n, remaining)
		}

		v, err := readVector(br, int(n))
		if err != nil {
			return nil, fmt.Errorf("%w: vector %d data: %v", ErrCorruptStore, i, err)
		}
		remaining -= 4 * int64(n)
		s.vectors = append(s.vectors, v)
	}
	return s, nil
}

// readVector reads n float32 values in bounded chunks so a corrupt size
// cannot force a large allocation ahead of the data.
func readVector(r io.Reader, n int) (textembed.Embedding, error) {
	const chunk = 4096
	v := make(textembed.Embedding, 0, min(n, chunk))
	buf := make([]float32, min(n, chunk))
	for len(v) < n {
		part := buf[:min(n-len(v), chunk)]
		if err := binary.Read(r, binary.LittleEndian, part); err != nil {
			return nil, err
		}
		v = append(v, part...)
	}
	return v, nil
}

// Open loads the store at path, or returns an empty store if the file does
// not exist yet.
func Open(path string) (*Store, error) {
	s, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return s, err
}

// Save writes the store to a temporary file next to path and renames it into
// place.
func (s *Store) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := s.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
