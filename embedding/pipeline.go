package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gomithril/textembed"
	"github.com/gomithril/textembed/codec"
)

// Pipeline tokenizes text and embeds it with a Service.
type Pipeline struct {
	tokenizer codec.Tokenizer
	service   *Service
}

func NewPipeline(tokenizer codec.Tokenizer, service *Service) *Pipeline {
	return &Pipeline{tokenizer: tokenizer, service: service}
}

// Embed returns the pooled embedding of a single text.
func (p *Pipeline) Embed(ctx context.Context, text string) (textembed.Embedding, error) {
	if p.service.config.Chunk {
		embs, err := p.EmbedAll(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return embs[0], nil
	}
	enc, err := p.tokenizer.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	return p.service.Generate(ctx, enc)
}

// EmbedAll embeds texts in batches, preserving order.
func (p *Pipeline) EmbedAll(ctx context.Context, texts []string) ([]textembed.Embedding, error) {
	encodings := make([]*codec.Encoding, len(texts))
	for i, text := range texts {
		enc, err := p.tokenizer.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("tokenize text %d: %w", i, err)
		}
		encodings[i] = enc
	}
	if !p.service.config.Chunk {
		return p.service.GenerateConcurrently(ctx, encodings, p.service.config.BatchSize)
	}
	return p.embedChunked(ctx, encodings)
}

// embedChunked embeds every window of every encoding in one concurrent run
// and folds the windows back into one vector per text.
func (p *Pipeline) embedChunked(ctx context.Context, encodings []*codec.Encoding) ([]textembed.Embedding, error) {
	framed := false
	if f, ok := p.tokenizer.(interface{ Framed() bool }); ok {
		framed = f.Framed()
	}

	var (
		windows []*codec.Encoding
		owner   []int
	)
	for i, enc := range encodings {
		for _, w := range p.service.ChunkEncoding(enc, framed) {
			windows = append(windows, w)
			owner = append(owner, i)
		}
	}

	embs, err := p.service.GenerateConcurrently(ctx, windows, p.service.config.BatchSize)
	if err != nil {
		return nil, err
	}

	out := make([]textembed.Embedding, len(encodings))
	for start := 0; start < len(windows); {
		end := start + 1
		for end < len(windows) && owner[end] == owner[start] {
			end++
		}
		weights := make([]int, 0, end-start)
		for _, w := range windows[start:end] {
			weights = append(weights, w.Len())
		}
		e := average(embs[start:end], weights)
		if p.service.config.Normalize && end-start > 1 {
			e = e.Normalize()
		}
		out[owner[start]] = e
		start = end
	}
	return out, nil
}

// Close releases the model session and the tokenizer.
func (p *Pipeline) Close() error {
	var errs []error
	if err := p.service.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := p.tokenizer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
