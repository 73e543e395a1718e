package cli

import (
	"fmt"

	"github.com/gomithril/textembed/export"
	"github.com/spf13/cobra"
)

func newEmbedCmd(a *app) *cobra.Command {
	var (
		out    string
		format string
		file   string
		lines  bool
	)

	cmd := &cobra.Command{
		Use:   "embed [text...]",
		Short: "Embed text and write the vectors to a file",
		Long: "Embed each argument (or --file, or the example sentence when neither is given)\n" +
			"and write the mean-pooled vectors to --out. npy output has shape (n, dim).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("out") {
				cfg.Output = out
			}

			if cmd.Flags().Changed("format") {
				cfg.Format = format
			}
			f, err := cfg.OutputFormat()
			if err != nil {
				return err
			}

			texts, err := inputTexts(args, file, lines)
			if err != nil {
				return err
			}

			emb, err := newEmbedder(cfg)
			if err != nil {
				return err
			}
			defer emb.Close()

			embs, err := emb.EmbedAll(cmd.Context(), texts)
			if err != nil {
				return fmt.Errorf("unable to generate embeddings: %w", err)
			}
			if err := export.Write(cfg.Output, f, records(texts, embs)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d embedding(s) of dim %d to %s\n", len(embs), len(embs[0]), cfg.Output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "embedding.npy", "output file")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: npy, json, arrow or tinyv (default: from --out extension)")
	cmd.Flags().StringVar(&file, "file", "", "read input text from a file")
	cmd.Flags().BoolVar(&lines, "lines", false, "with --file, embed each non-empty line separately")
	return cmd
}
