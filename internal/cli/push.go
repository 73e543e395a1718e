package cli

import (
	"fmt"
	"strings"

	"github.com/gomithril/textembed/export"
	"github.com/spf13/cobra"
)

func newPushCmd(a *app) *cobra.Command {
	var (
		addr  string
		path  string
		file  string
		lines bool
	)

	cmd := &cobra.Command{
		Use:   "push [text...]",
		Short: "Embed text and upload the vectors to an Arrow Flight server",
		RunE: func(cmd *cobra.Command, args []string) error {
			texts, err := inputTexts(args, file, lines)
			if err != nil {
				return err
			}

			emb, err := newEmbedder(a.cfg)
			if err != nil {
				return err
			}
			defer emb.Close()

			embs, err := emb.EmbedAll(cmd.Context(), texts)
			if err != nil {
				return fmt.Errorf("unable to generate embeddings: %w", err)
			}

			p := export.NewFlightPusher(addr, strings.Split(path, "/")...)
			if err := p.Connect(); err != nil {
				return err
			}
			defer p.Close()

			if err := p.Push(cmd.Context(), records(texts, embs)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d embedding(s) to %s\n", len(embs), addr)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", fmt.Sprintf("localhost:%d", export.DefaultFlightPort), "Flight server host:port")
	cmd.Flags().StringVar(&path, "path", "embeddings", "descriptor path, '/'-separated")
	cmd.Flags().StringVar(&file, "file", "", "read input text from a file")
	cmd.Flags().BoolVar(&lines, "lines", false, "with --file, embed each non-empty line separately")
	return cmd
}
