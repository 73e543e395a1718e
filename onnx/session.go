package onnx

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	InputIDs      = "input_ids"
	AttentionMask = "attention_mask"
	TokenTypeIDs  = "token_type_ids"

	LastHiddenState = "last_hidden_state"
)

// SessionConfig describes an encoder model exported to ONNX.
type SessionConfig struct {
	ModelPath      string
	RuntimePath    string
	InputNames     []string
	OutputName     string
	IntraOpThreads int
}

// DefaultSessionConfig matches a BERT export from HuggingFace optimum.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ModelPath:  "models/bert-base-uncased/model.onnx",
		InputNames: []string{InputIDs, AttentionMask, TokenTypeIDs},
		OutputName: LastHiddenState,
	}
}

// Session runs an encoder and returns its last hidden state.
type Session struct {
	config  SessionConfig
	session *ort.DynamicAdvancedSession
}

// NewSession initializes the runtime and creates a dynamic session, so batch
// and sequence dimensions may vary between calls.
func NewSession(config SessionConfig) (*Session, error) {
	for _, name := range config.InputNames {
		switch name {
		case InputIDs, AttentionMask, TokenTypeIDs:
		default:
			return nil, fmt.Errorf("unsupported model input %q", name)
		}
	}
	if config.OutputName == "" {
		config.OutputName = LastHiddenState
	}

	if err := InitRuntime(config.RuntimePath); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		ReleaseRuntime()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if config.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
			ReleaseRuntime()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		config.InputNames,
		[]string{config.OutputName},
		options,
	)
	if err != nil {
		ReleaseRuntime()
		return nil, fmt.Errorf("failed to create dynamic session: %w", err)
	}

	return &Session{config: config, session: session}, nil
}

func (s *Session) Close() error {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return ReleaseRuntime()
}

// Forward runs the encoder on a padded batch laid out row-major as
// [batch, seqLen] and returns the hidden states as [batch, seqLen, dim].
func (s *Session) Forward(ctx context.Context, ids, typeIDs, mask []int64, batch, seqLen int64) ([]float32, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if int64(len(ids)) != batch*seqLen || len(mask) != len(ids) || len(typeIDs) != len(ids) {
		return nil, 0, fmt.Errorf("input length %d does not match batch %d x seq %d", len(ids), batch, seqLen)
	}

	io, err := newEncoderIO(s.config.InputNames, ids, typeIDs, mask, batch, seqLen)
	if err != nil {
		return nil, 0, err
	}
	defer io.Destroy()

	if err := s.session.Run(io.InputTensors, io.OutputTensors); err != nil {
		return nil, 0, fmt.Errorf("inference failed: %w", err)
	}
	return io.hiddenState(s.config.OutputName, batch, seqLen)
}
