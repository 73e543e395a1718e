package cli

import (
	"os"

	"github.com/gomithril/textembed/internal/config"
	ilog "github.com/gomithril/textembed/internal/log"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// app carries the configuration resolved before any subcommand runs.
type app struct {
	configPath string
	cfg        *config.Config

	modelDir       string
	tokenizerPath  string
	modelPath      string
	runtimePath    string
	maxSeqLen      int
	pooling        string
	normalize      bool
	chunk          bool
	batchSize      int
	concurrency    int
	intraOpThreads int
	logLevel       string
	logFormat      string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "textembed",
		Short:         "Embed text with a pretrained transformer encoder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML config file")
	f.StringVar(&a.modelDir, "model-dir", config.DefaultModelDir, "checkpoint directory holding tokenizer.json (or vocab.txt) and model.onnx")
	f.StringVar(&a.tokenizerPath, "tokenizer", "", "tokenizer file (tokenizer.json, vocab.txt or *.model)")
	f.StringVar(&a.modelPath, "onnx", "", "ONNX model file")
	f.StringVar(&a.runtimePath, "runtime", "", "path to the onnxruntime shared library")
	f.IntVar(&a.maxSeqLen, "max-seq-len", 512, "maximum tokens per text including special tokens")
	f.StringVar(&a.pooling, "pooling", "mean", "pooling over token states: mean, cls or max")
	f.BoolVar(&a.normalize, "normalize", false, "L2-normalize embeddings")
	f.BoolVar(&a.chunk, "chunk", false, "embed texts longer than max-seq-len window by window and average the windows")
	f.IntVar(&a.batchSize, "batch-size", 8, "texts per forward pass")
	f.IntVar(&a.concurrency, "concurrency", 1, "forward passes in flight")
	f.IntVar(&a.intraOpThreads, "threads", 0, "onnxruntime intra-op threads (0 = runtime default)")
	f.StringVar(&a.logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&a.logFormat, "log-format", "console", "console or json")

	cmd.AddCommand(
		newEmbedCmd(a),
		newSearchCmd(a),
		newServeCmd(a),
		newPushCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// load applies defaults, the config file and environment, then any flag the
// user set explicitly.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	if f.Changed("model-dir") {
		cfg.ModelDir = a.modelDir
	}
	if f.Changed("tokenizer") {
		cfg.TokenizerPath = a.tokenizerPath
	}
	if f.Changed("onnx") {
		cfg.ModelPath = a.modelPath
	}
	if f.Changed("runtime") {
		cfg.RuntimePath = a.runtimePath
	}
	if f.Changed("max-seq-len") {
		cfg.MaxSeqLen = a.maxSeqLen
	}
	if f.Changed("pooling") {
		cfg.Pooling = a.pooling
	}
	if f.Changed("normalize") {
		cfg.Normalize = a.normalize
	}
	if f.Changed("chunk") {
		cfg.Chunk = a.chunk
	}
	if f.Changed("batch-size") {
		cfg.BatchSize = a.batchSize
	}
	if f.Changed("concurrency") {
		cfg.Concurrency = a.concurrency
	}
	if f.Changed("threads") {
		cfg.IntraOpThreads = a.intraOpThreads
	}
	if f.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}

	ilog.Init(cfg.LogLevel, cfg.LogFormat)

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}
