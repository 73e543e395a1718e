package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyText        = errors.New("text produced no tokens")
	ErrUnknownTokenizer = errors.New("unrecognized tokenizer file")
)

// Encoding is the model input for a single text.
type Encoding struct {
	IDs           []int64
	TypeIDs       []int64
	AttentionMask []int64
	Tokens        []string
	Truncated     bool
}

// Len returns the number of tokens.
func (e *Encoding) Len() int { return len(e.IDs) }

// Tokenizer turns text into model input ids.
type Tokenizer interface {
	Encode(text string) (*Encoding, error)
}

// Codec wraps the tokenizer backend selected for a model directory.
type Codec struct {
	tokenizer Tokenizer
	path      string
}

// NewCodec loads the tokenizer at path, picking the backend from the file
// name: *.txt is a WordPiece vocabulary, *.json a HuggingFace tokenizer and
// *.model a SentencePiece model. maxLen bounds the encoded length including
// special tokens; zero disables truncation.
func NewCodec(path string, maxLen int) (*Codec, error) {
	if path == "" {
		return nil, fmt.Errorf("tokenizer path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tokenizer file not found at %s: %w", path, err)
	}

	var (
		tok Tokenizer
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		tok, err = NewWordPieceFromFile(path, maxLen)
	case ".json":
		tok, err = NewHFTokenizer(path, maxLen)
	case ".model":
		tok, err = NewSentencePiece(path, maxLen)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTokenizer, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	log.Debug().Str("path", path).Int("max_len", maxLen).Msg("tokenizer loaded")
	return &Codec{tokenizer: tok, path: path}, nil
}

// New wraps an already constructed tokenizer.
func New(tok Tokenizer) *Codec {
	return &Codec{tokenizer: tok}
}

func (c *Codec) Encode(text string) (*Encoding, error) {
	enc, err := c.tokenizer.Encode(text)
	if err != nil {
		return nil, err
	}
	if enc.Len() == 0 {
		return nil, ErrEmptyText
	}
	return enc, nil
}

// Framed reports whether encodings start and end with special tokens
// ([CLS] ... [SEP]) that belong around every window of a chunked text.
func (c *Codec) Framed() bool {
	f, ok := c.tokenizer.(interface{ Framed() bool })
	return ok && f.Framed()
}

// PadID returns the padding token id when the backend defines one.
func (c *Codec) PadID() (int64, bool) {
	if p, ok := c.tokenizer.(interface{ PadID() int64 }); ok {
		return p.PadID(), true
	}
	return 0, false
}

func (c *Codec) Close() error {
	if cl, ok := c.tokenizer.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// fromIDs builds an encoding with a full attention mask and zero segment ids,
// truncated to maxLen.
func fromIDs(ids []int64, tokens []string, maxLen int) *Encoding {
	enc := &Encoding{IDs: ids, Tokens: tokens}
	if maxLen > 0 && len(enc.IDs) > maxLen {
		enc.IDs = enc.IDs[:maxLen]
		if len(enc.Tokens) > maxLen {
			enc.Tokens = enc.Tokens[:maxLen]
		}
		enc.Truncated = true
	}
	enc.TypeIDs = make([]int64, len(enc.IDs))
	enc.AttentionMask = make([]int64, len(enc.IDs))
	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}
	return enc
}
