// Package export writes embeddings in the output formats supported by the
// command line and server.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomithril/textembed"
	"github.com/gomithril/textembed/npy"
	"github.com/gomithril/textembed/store"
	"github.com/rs/zerolog/log"
)

type Format string

const (
	FormatNPY   Format = "npy"
	FormatJSON  Format = "json"
	FormatArrow Format = "arrow"
	FormatTinyV Format = "tinyv"
)

var (
	ErrNoRecords     = errors.New("no records to export")
	ErrMixedDims     = errors.New("records have different dimensions")
	ErrUnknownFormat = errors.New("unknown output format")
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatNPY, FormatJSON, FormatArrow, FormatTinyV:
		return f, nil
	case "":
		return FormatNPY, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatFromPath guesses the format from the file extension, falling back to
// npy.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".arrow", ".ipc", ".feather":
		return FormatArrow
	case ".bin", ".tinyv":
		return FormatTinyV
	default:
		return FormatNPY
	}
}

// Record is one embedded text.
type Record struct {
	Text      string              `json:"text"`
	Embedding textembed.Embedding `json:"embedding"`
}

// Dim returns the shared dimension of records.
func Dim(records []Record) (int, error) {
	if len(records) == 0 {
		return 0, ErrNoRecords
	}
	dim := len(records[0].Embedding)
	for i, r := range records {
		if len(r.Embedding) != dim {
			return 0, fmt.Errorf("%w: record %d has %d, want %d", ErrMixedDims, i, len(r.Embedding), dim)
		}
	}
	return dim, nil
}

// Write stores records at path. npy produces an (n, dim) array, tinyv appends
// to an existing store.
func Write(path string, format Format, records []Record) error {
	dim, err := Dim(records)
	if err != nil {
		return err
	}

	switch format {
	case FormatNPY:
		data := make([]float32, 0, len(records)*dim)
		for _, r := range records {
			data = append(data, r.Embedding...)
		}
		err = npy.WriteFile(path, []int{len(records), dim}, data)
	case FormatJSON:
		err = writeJSON(path, records)
	case FormatArrow:
		err = WriteArrowFile(path, records)
	case FormatTinyV:
		err = appendTinyV(path, records)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}

	log.Debug().Str("path", path).Str("format", string(format)).Int("records", len(records)).Int("dim", dim).Msg("embeddings written")
	return nil
}

func writeJSON(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func appendTinyV(path string, records []Record) error {
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	for _, r := range records {
		s.Add(r.Embedding)
	}
	return s.Save(path)
}
