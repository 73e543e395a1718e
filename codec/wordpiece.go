package codec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	tokenCLS  = "[CLS]"
	tokenSEP  = "[SEP]"
	tokenUNK  = "[UNK]"
	tokenPAD  = "[PAD]"
	tokenMASK = "[MASK]"

	subwordPrefix     = "##"
	maxRunesPerWord   = 100
	specialTokenCount = 2
)

// WordPiece is the BERT uncased tokenizer: basic cleanup and lowercasing,
// accent stripping, punctuation splitting and greedy longest-match-first
// subword lookup, framed by [CLS] and [SEP].
type WordPiece struct {
	vocab   map[string]int64
	special map[string]bool // never split when found in the input
	cls     int64
	sep     int64
	unk     int64
	pad     int64
	maxLen  int
	// Lowercase also strips accents, matching uncased checkpoints.
	Lowercase bool
}

// NewWordPieceFromFile reads a vocab.txt with one token per line; the line
// number is the token id.
func NewWordPieceFromFile(path string, maxLen int) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewWordPiece(f, maxLen)
}

func NewWordPiece(r io.Reader, maxLen int) (*WordPiece, error) {
	vocab := make(map[string]int64)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var id int64
	for sc.Scan() {
		tok := strings.TrimRight(sc.Text(), "\r")
		vocab[tok] = id
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	wp := &WordPiece{vocab: vocab, special: make(map[string]bool), maxLen: maxLen, Lowercase: true}
	for _, tok := range []string{tokenCLS, tokenSEP, tokenUNK, tokenPAD, tokenMASK} {
		if _, ok := vocab[tok]; ok {
			wp.special[tok] = true
		}
	}
	for _, sp := range []struct {
		tok string
		dst *int64
	}{
		{tokenCLS, &wp.cls},
		{tokenSEP, &wp.sep},
		{tokenUNK, &wp.unk},
		{tokenPAD, &wp.pad},
	} {
		v, ok := vocab[sp.tok]
		if !ok {
			return nil, fmt.Errorf("vocabulary has no %s token", sp.tok)
		}
		*sp.dst = v
	}
	if maxLen > 0 && maxLen < specialTokenCount {
		return nil, fmt.Errorf("max length %d leaves no room for [CLS] and [SEP]", maxLen)
	}
	return wp, nil
}

func (w *WordPiece) PadID() int64 { return w.pad }

func (w *WordPiece) Framed() bool { return true }

func (w *WordPiece) Encode(text string) (*Encoding, error) {
	var pieces []string
	for _, word := range w.basicTokenize(text) {
		if w.special[word] {
			pieces = append(pieces, word)
			continue
		}
		pieces = append(pieces, w.wordpiece(word)...)
	}

	truncated := false
	if w.maxLen > 0 && len(pieces) > w.maxLen-specialTokenCount {
		pieces = pieces[:w.maxLen-specialTokenCount]
		truncated = true
	}

	tokens := make([]string, 0, len(pieces)+specialTokenCount)
	tokens = append(tokens, tokenCLS)
	tokens = append(tokens, pieces...)
	tokens = append(tokens, tokenSEP)

	ids := make([]int64, len(tokens))
	for i, tok := range tokens {
		ids[i] = w.id(tok)
	}

	enc := fromIDs(ids, tokens, 0)
	enc.Truncated = truncated
	return enc, nil
}

func (w *WordPiece) id(tok string) int64 {
	if v, ok := w.vocab[tok]; ok {
		return v
	}
	return w.unk
}

// basicTokenize splits text into words and punctuation marks.
func (w *WordPiece) basicTokenize(text string) []string {
	text = cleanText(text)
	text = padCJK(text)

	var out []string
	for _, word := range strings.Fields(text) {
		if w.special[word] {
			out = append(out, word)
			continue
		}
		if w.Lowercase {
			word = stripAccents(strings.ToLower(word))
		}
		out = append(out, splitPunct(word)...)
	}
	return out
}

// wordpiece splits one word into vocabulary subwords, or [UNK] when no
// complete segmentation exists.
func (w *WordPiece) wordpiece(word string) []string {
	rs := []rune(word)
	if len(rs) > maxRunesPerWord {
		return []string{tokenUNK}
	}

	var out []string
	start := 0
	for start < len(rs) {
		end := len(rs)
		match := ""
		for start < end {
			sub := string(rs[start:end])
			if start > 0 {
				sub = subwordPrefix + sub
			}
			if _, ok := w.vocab[sub]; ok {
				match = sub
				break
			}
			end--
		}
		if match == "" {
			return []string{tokenUNK}
		}
		out = append(out, match)
		start = end
	}
	return out
}

func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 || r == unicode.ReplacementChar || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func padCJK(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isCJK(r) {
			b.WriteByte(' ')
			b.WriteRune(r)
			b.WriteByte(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func splitPunct(word string) []string {
	var out []string
	var cur []rune
	for _, r := range word {
		if isPunct(r) {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			out = append(out, string(r))
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	if unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs) {
		return true
	}
	// unassigned (Cn)
	return !unicode.In(r, unicode.L, unicode.M, unicode.N, unicode.P, unicode.S, unicode.Z)
}

// isPunct treats every non-alphanumeric ASCII symbol as punctuation, as BERT
// does, in addition to the Unicode P categories.
func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
