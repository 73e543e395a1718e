package codec

import (
	"fmt"

	tokenizers "github.com/amikos-tech/pure-tokenizers"
)

// HFTokenizer encodes with a HuggingFace tokenizer.json through the
// tokenizers shared library.
type HFTokenizer struct {
	tk     *tokenizers.Tokenizer
	maxLen int
}

func NewHFTokenizer(path string, maxLen int) (*HFTokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer.json: %w", err)
	}
	return &HFTokenizer{tk: tk, maxLen: maxLen}, nil
}

func (h *HFTokenizer) Encode(text string) (*Encoding, error) {
	res, err := h.tk.Encode(text,
		tokenizers.WithAddSpecialTokens(),
		tokenizers.WithReturnTypeIDs(),
		tokenizers.WithReturnAttentionMask(),
		tokenizers.WithReturnTokens(),
	)
	if err != nil {
		return nil, fmt.Errorf("encode failed: %w", err)
	}

	enc := &Encoding{
		IDs:           widen(res.IDs),
		TypeIDs:       widen(res.TypeIDs),
		AttentionMask: widen(res.AttentionMask),
		Tokens:        res.Tokens,
	}
	n := len(enc.IDs)
	if len(enc.TypeIDs) != n {
		enc.TypeIDs = make([]int64, n)
	}
	if len(enc.AttentionMask) != n {
		enc.AttentionMask = make([]int64, n)
		for i := range enc.AttentionMask {
			enc.AttentionMask[i] = 1
		}
	}
	if h.maxLen > 0 && n > h.maxLen {
		truncateKeepLast(enc, h.maxLen)
	}
	return enc, nil
}

// Framed is true: special tokens are always requested from the tokenizer.
func (h *HFTokenizer) Framed() bool { return true }

func (h *HFTokenizer) Close() error {
	return h.tk.Close()
}

func widen(in []uint32) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

// truncateKeepLast cuts enc to maxLen tokens while keeping the final token,
// which for BERT-style tokenizers is the separator.
func truncateKeepLast(enc *Encoding, maxLen int) {
	n := enc.Len()
	cut := func(s []int64) []int64 {
		out := append(s[:maxLen-1:maxLen-1], s[n-1])
		return out
	}
	enc.IDs = cut(enc.IDs)
	enc.TypeIDs = cut(enc.TypeIDs)
	enc.AttentionMask = cut(enc.AttentionMask)
	if len(enc.Tokens) == n {
		enc.Tokens = append(enc.Tokens[:maxLen-1:maxLen-1], enc.Tokens[n-1])
	}
	enc.Truncated = true
}
