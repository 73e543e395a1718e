package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gomithril/textembed"
	"github.com/gomithril/textembed/codec"
	"github.com/gomithril/textembed/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrEmptyBatch = errors.New("empty batch")

// Config holds embedding service configuration. With Chunk set, texts longer
// than MaxSeqLen are embedded window by window and the windows averaged
// instead of truncated.
type Config struct {
	MaxSeqLen   int64
	Pooling     Pooling
	Normalize   bool
	BatchSize   int
	Concurrency int
	PadID       int64
	Chunk       bool
}

// DefaultConfig returns default embedding configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSeqLen:   512,
		Pooling:     PoolingMean,
		BatchSize:   8,
		Concurrency: 1,
	}
}

func (c *Config) Validate() error {
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("invalid max sequence length: %d (must be positive)", c.MaxSeqLen)
	}
	if _, err := ParsePooling(string(c.Pooling)); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d (must be positive)", c.BatchSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("invalid concurrency: %d (must be positive)", c.Concurrency)
	}
	return nil
}

// Forwarder runs the encoder on a padded [batch, seqLen] input and returns
// the last hidden state as [batch, seqLen, dim] along with dim.
type Forwarder interface {
	Forward(ctx context.Context, ids, typeIDs, mask []int64, batch, seqLen int64) ([]float32, int, error)
}

// Service handles embedding operations
type Service struct {
	config    *Config
	forwarder Forwarder
}

// NewService creates a new embedding service
func NewService(config *Config, forwarder Forwarder) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if forwarder == nil {
		return nil, fmt.Errorf("forwarder is nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		config:    config,
		forwarder: forwarder,
	}, nil
}

func (s *Service) Config() Config { return *s.config }

func (s *Service) Close() error {
	if c, ok := s.forwarder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// batchInput is a padded, row-major model input.
type batchInput struct {
	ids     []int64
	typeIDs []int64
	mask    []int64
	size    int64
	seqLen  int64
	tokens  int
}

// prepareBatch pads every encoding to the longest one in the batch, capped at
// MaxSeqLen.
func (s *Service) prepareBatch(batch []*codec.Encoding) batchInput {
	var seqLen int64
	for _, enc := range batch {
		seqLen = max(seqLen, int64(enc.Len()))
	}
	seqLen = min(seqLen, s.config.MaxSeqLen)
	batchSize := int64(len(batch))

	in := batchInput{
		ids:     make([]int64, batchSize*seqLen),
		typeIDs: make([]int64, batchSize*seqLen),
		mask:    make([]int64, batchSize*seqLen),
		size:    batchSize,
		seqLen:  seqLen,
	}

	for b, enc := range batch {
		if enc.Truncated || int64(enc.Len()) > seqLen {
			metrics.RecordTruncation()
		}
		base := int64(b) * seqLen
		for i := int64(0); i < seqLen; i++ {
			if i >= int64(enc.Len()) {
				in.ids[base+i] = s.config.PadID
				continue
			}
			in.ids[base+i] = enc.IDs[i]
			if i < int64(len(enc.TypeIDs)) {
				in.typeIDs[base+i] = enc.TypeIDs[i]
			}
			m := int64(1)
			if i < int64(len(enc.AttentionMask)) {
				m = enc.AttentionMask[i]
			}
			in.mask[base+i] = m
			if m != 0 {
				in.tokens++
			}
		}
	}
	return in
}

// Generate creates the embedding for one encoded text
func (s *Service) Generate(ctx context.Context, enc *codec.Encoding) (textembed.Embedding, error) {
	out, err := s.GenerateBatch(ctx, []*codec.Encoding{enc})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateBatch runs one forward pass over all encodings and pools each row.
func (s *Service) GenerateBatch(ctx context.Context, batch []*codec.Encoding) ([]textembed.Embedding, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	in := s.prepareBatch(batch)

	start := time.Now()
	hidden, dim, err := s.forwarder.Forward(ctx, in.ids, in.typeIDs, in.mask, in.size, in.seqLen)
	if err != nil {
		metrics.RecordInferenceError()
		return nil, err
	}
	elapsed := time.Since(start)

	if dim <= 0 || int64(len(hidden)) != in.size*in.seqLen*int64(dim) {
		metrics.RecordInferenceError()
		return nil, fmt.Errorf("hidden state has %d values, want %d x %d x %d", len(hidden), in.size, in.seqLen, dim)
	}
	metrics.RecordInference(int(in.size), int(in.seqLen), in.tokens, elapsed)

	log.Debug().
		Int64("batch", in.size).
		Int64("seq_len", in.seqLen).
		Int("tokens", in.tokens).
		Int("dim", dim).
		Dur("elapsed", elapsed).
		Msg("forward pass complete")

	seq := int(in.seqLen)
	results := make([]textembed.Embedding, len(batch))
	for b := range batch {
		rows := hidden[b*seq*dim : (b+1)*seq*dim]
		mask := in.mask[b*seq : (b+1)*seq]
		e := Pool(rows, mask, seq, dim, s.config.Pooling)
		if s.config.Normalize {
			e = e.Normalize()
		}
		results[b] = e
	}
	return results, nil
}

// ChunkText splits a long id sequence into windows of at most MaxSeqLen ids.
func (s *Service) ChunkText(ids []int64) [][]int64 {
	return chunkIDs(ids, int(s.config.MaxSeqLen))
}

func chunkIDs(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}

// ChunkEncoding splits enc into encodings of at most MaxSeqLen tokens. When
// framed is set the first and last ids ([CLS] and [SEP]) are repeated around
// every window.
func (s *Service) ChunkEncoding(enc *codec.Encoding, framed bool) []*codec.Encoding {
	maxLen := int(s.config.MaxSeqLen)
	if enc.Len() <= maxLen {
		return []*codec.Encoding{enc}
	}

	var head, tail []int64
	var windows [][]int64
	if framed && maxLen > 2 {
		n := enc.Len()
		head, tail = enc.IDs[:1], enc.IDs[n-1:]
		windows = chunkIDs(enc.IDs[1:n-1], maxLen-2)
	} else {
		windows = s.ChunkText(enc.IDs)
	}

	out := make([]*codec.Encoding, len(windows))
	for i, w := range windows {
		ids := make([]int64, 0, len(head)+len(w)+len(tail))
		ids = append(ids, head...)
		ids = append(ids, w...)
		ids = append(ids, tail...)

		c := &codec.Encoding{
			IDs:           ids,
			TypeIDs:       make([]int64, len(ids)),
			AttentionMask: make([]int64, len(ids)),
		}
		for j := range c.AttentionMask {
			c.AttentionMask[j] = 1
		}
		out[i] = c
	}
	return out
}

// average combines window embeddings weighted by their token counts.
func average(embs []textembed.Embedding, weights []int) textembed.Embedding {
	if len(embs) == 1 {
		return embs[0]
	}
	sum := make([]float64, len(embs[0]))
	total := 0.0
	for i, e := range embs {
		w := float64(weights[i])
		for d, v := range e {
			sum[d] += w * float64(v)
		}
		total += w
	}
	out := make(textembed.Embedding, len(sum))
	for d := range sum {
		out[d] = float32(sum[d] / total)
	}
	return out
}

// GenerateConcurrently splits encodings into batches of batchSize and runs up
// to Concurrency of them at once. Results keep the input order; the first
// failure cancels the remaining batches.
func (s *Service) GenerateConcurrently(ctx context.Context, encodings []*codec.Encoding, batchSize int) ([]textembed.Embedding, error) {
	if len(encodings) == 0 {
		return nil, ErrEmptyBatch
	}
	if batchSize <= 0 {
		batchSize = s.config.BatchSize
	}

	results := make([]textembed.Embedding, len(encodings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for i := 0; i < len(encodings); i += batchSize {
		start, end := i, min(i+batchSize, len(encodings))
		g.Go(func() error {
			log.Debug().Msgf("Worker started for chunks %d to %d", start, end-1)
			out, err := s.GenerateBatch(gctx, encodings[start:end])
			if err != nil {
				log.Error().Err(err).Msgf("Inference failed for batch %d-%d", start, end-1)
				return fmt.Errorf("batch %d-%d: %w", start, end-1, err)
			}
			copy(results[start:end], out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debug().Int("texts", len(encodings)).Msg("All batches processed successfully")
	return results, nil
}
