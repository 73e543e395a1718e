package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gomithril/textembed/embedding"
	"github.com/gomithril/textembed/export"
	"github.com/gomithril/textembed/onnx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultModelDir = "models/bert-base-uncased"
	DefaultText     = "Some example text."
	DefaultOutput   = "embedding.npy"

	TokenizerFile = "tokenizer.json"
	VocabFile     = "vocab.txt"
)

// Config is the resolved runtime configuration.
type Config struct {
	// ModelDir is the checkpoint directory; TokenizerPath and ModelPath
	// default to files inside it (see Resolve).
	ModelDir      string `yaml:"model_dir"`
	TokenizerPath string `yaml:"tokenizer"`
	ModelPath     string `yaml:"model"`
	RuntimePath   string `yaml:"runtime"`

	InputNames     []string `yaml:"input_names"`
	OutputName     string   `yaml:"output_name"`
	IntraOpThreads int      `yaml:"intra_op_threads"`

	MaxSeqLen   int    `yaml:"max_seq_len"`
	Pooling     string `yaml:"pooling"`
	Normalize   bool   `yaml:"normalize"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
	Chunk       bool   `yaml:"chunk"`

	Output string `yaml:"output"`
	// Format is empty unless chosen explicitly; OutputFormat then infers it
	// from the Output extension.
	Format string `yaml:"format"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		ModelDir:    DefaultModelDir,
		InputNames:  []string{onnx.InputIDs, onnx.AttentionMask, onnx.TokenTypeIDs},
		OutputName:  onnx.LastHiddenState,
		MaxSeqLen:   512,
		Pooling:     string(embedding.PoolingMean),
		BatchSize:   8,
		Concurrency: 1,
		Output:      DefaultOutput,
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// Load builds a config from defaults, an optional YAML file, a .env file in
// the working directory and the process environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.LoadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) LoadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	str("MODEL_DIR", &c.ModelDir)
	str("MODELPATH", &c.TokenizerPath)
	str("ONNX_MODEL", &c.ModelPath)
	str("ONNX_RUNTIME", &c.RuntimePath)
	str("POOLING", &c.Pooling)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	for key, dst := range map[string]*int{
		"MAX_SEQ_LEN":           &c.MaxSeqLen,
		"BATCH_SIZE":            &c.BatchSize,
		"CONCURRENCY":           &c.Concurrency,
		"ONNX_INTRA_OP_THREADS": &c.IntraOpThreads,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	for key, dst := range map[string]*bool{
		"NORMALIZE": &c.Normalize,
		"CHUNK":     &c.Chunk,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = b
	}
	if v, ok := lookup("ONNX_INPUTS"); ok && v != "" {
		c.InputNames = splitList(v)
	}
	return nil
}

// Resolve fills model file paths from ModelDir. The tokenizer is the
// directory's tokenizer.json; vocab.txt is used only for checkpoints that
// ship a vocabulary without a tokenizer.json.
func (c *Config) Resolve() {
	if c.TokenizerPath == "" && c.ModelDir != "" {
		c.TokenizerPath = filepath.Join(c.ModelDir, TokenizerFile)
		vocab := filepath.Join(c.ModelDir, VocabFile)
		if !exists(c.TokenizerPath) && exists(vocab) {
			c.TokenizerPath = vocab
		}
	}
	if c.ModelPath == "" && c.ModelDir != "" {
		c.ModelPath = filepath.Join(c.ModelDir, "model.onnx")
	}
}

func (c *Config) Validate() error {
	if c.TokenizerPath == "" {
		return fmt.Errorf("tokenizer path is empty")
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model path is empty")
	}
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("invalid max_seq_len: %d (must be positive)", c.MaxSeqLen)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", c.BatchSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("invalid concurrency: %d (must be positive)", c.Concurrency)
	}
	if c.IntraOpThreads < 0 {
		return fmt.Errorf("invalid intra_op_threads: %d", c.IntraOpThreads)
	}
	if len(c.InputNames) == 0 {
		return fmt.Errorf("no model inputs configured")
	}
	if _, err := embedding.ParsePooling(c.Pooling); err != nil {
		return err
	}
	if _, err := export.ParseFormat(c.Format); err != nil {
		return err
	}
	return nil
}

// Embedding returns the embedding service settings.
func (c *Config) Embedding() *embedding.Config {
	pooling, _ := embedding.ParsePooling(c.Pooling)
	return &embedding.Config{
		MaxSeqLen:   int64(c.MaxSeqLen),
		Pooling:     pooling,
		Normalize:   c.Normalize,
		BatchSize:   c.BatchSize,
		Concurrency: c.Concurrency,
		Chunk:       c.Chunk,
	}
}

// TokenizerMaxLen is the truncation length handed to the tokenizer. Chunked
// embedding needs the full token sequence.
func (c *Config) TokenizerMaxLen() int {
	if c.Chunk {
		return 0
	}
	return c.MaxSeqLen
}

// OutputFormat returns the explicit Format, or the one implied by Output.
func (c *Config) OutputFormat() (export.Format, error) {
	if c.Format == "" {
		return export.FormatFromPath(c.Output), nil
	}
	return export.ParseFormat(c.Format)
}

// Session returns the ONNX session settings.
func (c *Config) Session() onnx.SessionConfig {
	return onnx.SessionConfig{
		ModelPath:      c.ModelPath,
		RuntimePath:    c.RuntimePath,
		InputNames:     c.InputNames,
		OutputName:     c.OutputName,
		IntraOpThreads: c.IntraOpThreads,
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
