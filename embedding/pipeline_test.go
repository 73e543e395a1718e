package embedding

import (
	"context"
	"strings"
	"testing"

	"github.com/gomithril/textembed"
	"github.com/gomithril/textembed/codec"
)

func newTestPipeline(t *testing.T) (*Pipeline, *fakeForwarder) {
	t.Helper()
	vocab := "[PAD]\n[UNK]\n[CLS]\n[SEP]\nsome\nexample\ntext\n.\n"
	wp, err := codec.NewWordPiece(strings.NewReader(vocab), 512)
	if err != nil {
		t.Fatal(err)
	}
	svc, fwd := newTestService(t, nil)
	return NewPipeline(wp, svc), fwd
}

func TestPipelineEmbed(t *testing.T) {
	p, fwd := newTestPipeline(t)

	got, err := p.Embed(context.Background(), "Some example text.")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	// ids 2 4 5 6 7 3
	mean := float32(27) / 6
	if !closeTo(got, textembed.Embedding{mean, 2 * mean, 3 * mean}) {
		t.Errorf("Embed() = %v", got)
	}
	if fwd.seqLens[0] != 6 {
		t.Errorf("seqLen = %d, want 6", fwd.seqLens[0])
	}
}

func TestPipelineEmbedAll(t *testing.T) {
	p, _ := newTestPipeline(t)

	got, err := p.EmbedAll(context.Background(), []string{"some", "text", "example text"})
	if err != nil {
		t.Fatalf("EmbedAll() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// [CLS] some [SEP] -> (2+4+3)/3
	if !closeTo(got[0], textembed.Embedding{3, 6, 9}) {
		t.Errorf("got[0] = %v", got[0])
	}
	// [CLS] example text [SEP] -> (2+5+6+3)/4
	if !closeTo(got[2], textembed.Embedding{4, 8, 12}) {
		t.Errorf("got[2] = %v", got[2])
	}
}

func TestPipelineChunksLongText(t *testing.T) {
	vocab := "[PAD]\n[UNK]\n[CLS]\n[SEP]\nsome\nexample\ntext\n.\n"
	wp, err := codec.NewWordPiece(strings.NewReader(vocab), 0)
	if err != nil {
		t.Fatal(err)
	}
	svc, fwd := newTestService(t, func(c *Config) {
		c.MaxSeqLen = 4
		c.Chunk = true
	})
	p := NewPipeline(wp, svc)

	got, err := p.EmbedAll(context.Background(), []string{"Some example text.", "some"})
	if err != nil {
		t.Fatalf("EmbedAll() error = %v", err)
	}
	// windows [CLS] some example [SEP] and [CLS] text . [SEP] average to
	// (3.5 + 4.5) / 2
	if !closeTo(got[0], textembed.Embedding{4, 8, 12}) {
		t.Errorf("got[0] = %v", got[0])
	}
	if !closeTo(got[1], textembed.Embedding{3, 6, 9}) {
		t.Errorf("got[1] = %v", got[1])
	}
	if fwd.calls != 1 || fwd.seqLens[0] != 4 {
		t.Errorf("calls = %d, seqLens = %v; want one batch of length 4", fwd.calls, fwd.seqLens)
	}

	single, err := p.Embed(context.Background(), "Some example text.")
	if err != nil || !closeTo(single, got[0]) {
		t.Errorf("Embed() = %v, %v", single, err)
	}
}

func TestPipelineClose(t *testing.T) {
	p, fwd := newTestPipeline(t)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !fwd.closed {
		t.Error("service forwarder not closed")
	}
}
