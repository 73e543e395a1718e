package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/gomithril/textembed"
	"github.com/gomithril/textembed/npy"
	"github.com/gomithril/textembed/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var sample = []Record{
	{Text: "Some example text.", Embedding: textembed.Embedding{0.1, 0.2, 0.3}},
	{Text: "Another one", Embedding: textembed.Embedding{-1, 0, 1}},
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"npy", FormatNPY, false},
		{"JSON", FormatJSON, false},
		{"arrow", FormatArrow, false},
		{"tinyv", FormatTinyV, false},
		{"", FormatNPY, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("ParseFormat(%q) error = %v, want ErrUnknownFormat", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	cases := map[string]Format{
		"embedding.npy":   FormatNPY,
		"out.json":        FormatJSON,
		"vectors.arrow":   FormatArrow,
		"vectorstore.bin": FormatTinyV,
		"noext":           FormatNPY,
	}
	for path, want := range cases {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWriteNPYSingle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedding.npy")
	if err := Write(path, FormatNPY, sample[:1]); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	shape, data, err := npy.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(shape, []int{1, 3}) {
		t.Errorf("shape = %v, want [1 3]", shape)
	}
	if !reflect.DeepEqual(data, []float32{0.1, 0.2, 0.3}) {
		t.Errorf("data = %v", data)
	}
}

func TestWriteNPYMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.npy")
	if err := Write(path, FormatNPY, sample); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	shape, data, err := npy.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(shape, []int{2, 3}) || len(data) != 6 || data[3] != -1 {
		t.Errorf("shape = %v data = %v", shape, data)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := Write(path, FormatJSON, sample); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []Record
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, sample) {
		t.Errorf("got %v, want %v", got, sample)
	}
}

func TestWriteArrowRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.arrow")
	if err := Write(path, FormatArrow, sample); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := ReadArrowFile(path)
	if err != nil {
		t.Fatalf("ReadArrowFile() error = %v", err)
	}
	if !reflect.DeepEqual(got, sample) {
		t.Errorf("got %v, want %v", got, sample)
	}
}

func TestNewRecordSchema(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec, err := NewRecord(mem, sample)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()

	if rec.NumRows() != 2 || rec.NumCols() != 2 {
		t.Fatalf("rows=%d cols=%d", rec.NumRows(), rec.NumCols())
	}
	if !rec.Schema().Equal(Schema(3)) {
		t.Errorf("schema = %s", rec.Schema())
	}
}

func TestWriteTinyVAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectorstore.bin")
	if err := Write(path, FormatTinyV, sample[:1]); err != nil {
		t.Fatal(err)
	}
	if err := Write(path, FormatTinyV, sample[1:]); err != nil {
		t.Fatal(err)
	}

	s, err := store.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	v, _ := s.Get(1)
	if !reflect.DeepEqual(v, sample[1].Embedding) {
		t.Errorf("Get(1) = %v", v)
	}
}

func TestWriteRejects(t *testing.T) {
	dir := t.TempDir()

	if err := Write(filepath.Join(dir, "a.npy"), FormatNPY, nil); !errors.Is(err, ErrNoRecords) {
		t.Errorf("empty error = %v", err)
	}

	mixed := []Record{{Embedding: textembed.Embedding{1}}, {Embedding: textembed.Embedding{1, 2}}}
	if err := Write(filepath.Join(dir, "b.npy"), FormatNPY, mixed); !errors.Is(err, ErrMixedDims) {
		t.Errorf("mixed error = %v", err)
	}

	if err := Write(filepath.Join(dir, "c.out"), Format("csv"), sample); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("format error = %v", err)
	}
}

func TestFlightPushRequiresConnect(t *testing.T) {
	p := NewFlightPusher("localhost:3000")
	if err := p.Push(context.Background(), sample); err == nil {
		t.Fatal("expected error before Connect")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !reflect.DeepEqual(p.path, []string{"embeddings"}) {
		t.Errorf("default path = %v", p.path)
	}
}

func TestWriteIsQuietAtInfo(t *testing.T) {
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	if err := Write(filepath.Join(t.TempDir(), "e.npy"), FormatNPY, sample); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("Write logged at info level: %s", buf.String())
	}
}
