package codec

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type staticTokenizer struct {
	enc *Encoding
}

func (s staticTokenizer) Encode(string) (*Encoding, error) { return s.enc, nil }

func TestNewCodecErrors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "weights.bin")
	if err := os.WriteFile(unknown, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"empty path", "", nil},
		{"missing file", filepath.Join(dir, "vocab.txt"), os.ErrNotExist},
		{"unknown extension", unknown, ErrUnknownTokenizer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCodec(tt.path, 0)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewCodecWordPiece(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(testVocab, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewCodec(path, 512)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	defer c.Close()

	enc, err := c.Encode("Some example text.")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := []int64{2, 4, 5, 6, 7, 3}
	if !reflect.DeepEqual(enc.IDs, want) {
		t.Errorf("ids = %v, want %v", enc.IDs, want)
	}
}

func TestCodecEmptyEncoding(t *testing.T) {
	c := New(staticTokenizer{enc: &Encoding{}})
	if _, err := c.Encode("anything"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Encode() error = %v, want ErrEmptyText", err)
	}
}

func TestFromIDs(t *testing.T) {
	enc := fromIDs([]int64{5, 6, 7, 8}, []string{"a", "b", "c", "d"}, 3)

	if !reflect.DeepEqual(enc.IDs, []int64{5, 6, 7}) {
		t.Errorf("ids = %v", enc.IDs)
	}
	if !reflect.DeepEqual(enc.AttentionMask, []int64{1, 1, 1}) {
		t.Errorf("mask = %v", enc.AttentionMask)
	}
	if !reflect.DeepEqual(enc.TypeIDs, []int64{0, 0, 0}) {
		t.Errorf("type ids = %v", enc.TypeIDs)
	}
	if len(enc.Tokens) != 3 || !enc.Truncated {
		t.Errorf("tokens = %v truncated = %v", enc.Tokens, enc.Truncated)
	}
}

func TestTruncateKeepLast(t *testing.T) {
	enc := &Encoding{
		IDs:           []int64{101, 1, 2, 3, 4, 102},
		TypeIDs:       []int64{0, 0, 0, 0, 0, 0},
		AttentionMask: []int64{1, 1, 1, 1, 1, 1},
		Tokens:        []string{"[CLS]", "a", "b", "c", "d", "[SEP]"},
	}
	truncateKeepLast(enc, 4)

	if !reflect.DeepEqual(enc.IDs, []int64{101, 1, 2, 102}) {
		t.Errorf("ids = %v", enc.IDs)
	}
	if !reflect.DeepEqual(enc.Tokens, []string{"[CLS]", "a", "b", "[SEP]"}) {
		t.Errorf("tokens = %v", enc.Tokens)
	}
	if len(enc.AttentionMask) != 4 || len(enc.TypeIDs) != 4 || !enc.Truncated {
		t.Errorf("unexpected encoding %+v", enc)
	}
}
