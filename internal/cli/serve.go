package cli

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gomithril/textembed/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve embeddings over HTTP with Prometheus metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			emb, err := newEmbedder(a.cfg)
			if err != nil {
				return err
			}
			defer emb.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(emb, filepath.Base(a.cfg.ModelDir)).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
