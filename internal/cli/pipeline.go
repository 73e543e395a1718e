package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gomithril/textembed"
	"github.com/gomithril/textembed/codec"
	"github.com/gomithril/textembed/embedding"
	"github.com/gomithril/textembed/export"
	"github.com/gomithril/textembed/internal/config"
	"github.com/gomithril/textembed/onnx"
	"github.com/rs/zerolog/log"
)

type embedder interface {
	Embed(ctx context.Context, text string) (textembed.Embedding, error)
	EmbedAll(ctx context.Context, texts []string) ([]textembed.Embedding, error)
	Close() error
}

// newEmbedder builds the tokenizer, ONNX session and embedding service.
// Tests replace it to run commands without a model.
var newEmbedder = func(cfg *config.Config) (embedder, error) {
	tok, err := codec.NewCodec(cfg.TokenizerPath, cfg.TokenizerMaxLen())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize text codec: %w", err)
	}

	sess, err := onnx.NewSession(cfg.Session())
	if err != nil {
		tok.Close()
		return nil, err
	}

	ec := cfg.Embedding()
	if pad, ok := tok.PadID(); ok {
		ec.PadID = pad
	}
	svc, err := embedding.NewService(ec, sess)
	if err != nil {
		sess.Close()
		tok.Close()
		return nil, err
	}

	log.Info().
		Str("tokenizer", cfg.TokenizerPath).
		Str("model", cfg.ModelPath).
		Str("pooling", cfg.Pooling).
		Bool("chunk", cfg.Chunk).
		Msg("model loaded")
	return embedding.NewPipeline(tok, svc), nil
}

// inputTexts returns the positional texts, the contents of file, or the
// default example sentence.
func inputTexts(args []string, file string, lines bool) ([]string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		if !lines {
			return []string{string(data)}, nil
		}
		var texts []string
		for _, l := range strings.Split(string(data), "\n") {
			if l = strings.TrimSpace(l); l != "" {
				texts = append(texts, l)
			}
		}
		if len(texts) == 0 {
			return nil, fmt.Errorf("%s has no non-empty lines", file)
		}
		return texts, nil
	}
	if len(args) > 0 {
		return args, nil
	}
	return []string{config.DefaultText}, nil
}

func records(texts []string, embs []textembed.Embedding) []export.Record {
	out := make([]export.Record, len(texts))
	for i := range texts {
		out[i] = export.Record{Text: texts[i], Embedding: embs[i]}
	}
	return out
}
