package codec

import (
	"fmt"
	"sync"

	"github.com/eliben/go-sentencepiece"
)

var (
	procMu sync.Mutex
	procs  = map[string]*sentencepiece.Processor{}
)

// loadProcessor parses each SentencePiece model once per process.
func loadProcessor(modelPath string) (*sentencepiece.Processor, error) {
	procMu.Lock()
	defer procMu.Unlock()

	if p, ok := procs[modelPath]; ok {
		return p, nil
	}
	p, err := sentencepiece.NewProcessorFromPath(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load SentencePiece processor: %w", err)
	}
	procs[modelPath] = p
	return p, nil
}

// SentencePiece encodes text with a SentencePiece model and adds no special
// tokens.
type SentencePiece struct {
	processor *sentencepiece.Processor
	maxLen    int
}

func NewSentencePiece(modelPath string, maxLen int) (*SentencePiece, error) {
	proc, err := loadProcessor(modelPath)
	if err != nil {
		return nil, err
	}
	return &SentencePiece{processor: proc, maxLen: maxLen}, nil
}

func (s *SentencePiece) Encode(text string) (*Encoding, error) {
	tokens := s.processor.Encode(text)

	ids := make([]int64, len(tokens))
	pieces := make([]string, len(tokens))
	for i, token := range tokens {
		ids[i] = int64(token.ID)
		pieces[i] = token.Text
	}
	return fromIDs(ids, pieces, s.maxLen), nil
}
