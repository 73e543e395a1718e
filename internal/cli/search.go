package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/gomithril/textembed/store"
	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		storePath string
		k         int
		metric    string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank the vectors of a tinyv store against a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := store.ParseMetric(metric)
			if err != nil {
				return err
			}
			s, err := store.Load(storePath)
			if err != nil {
				return fmt.Errorf("failed to load store: %w", err)
			}

			emb, err := newEmbedder(a.cfg)
			if err != nil {
				return err
			}
			defer emb.Close()

			q, err := emb.Embed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			matches, err := s.Nearest(q, k, m)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tINDEX\tSCORE")
			for i, match := range matches {
				fmt.Fprintf(tw, "%d\t%d\t%.6f\n", i+1, match.Index, match.Score)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "vectorstore.bin", "tinyv store file")
	cmd.Flags().IntVarP(&k, "top", "k", 5, "number of results")
	cmd.Flags().StringVar(&metric, "metric", "dot", "dot or cosine")
	return cmd
}
