package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stritefax/heelixchat/internal/similarity"
)

func NewSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Save the similarity index snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(a *app) error {
				err := a.handle.With(func(s *similarity.Search) error {
					return s.SyncWait(cmd.Context())
				})
				if err != nil {
					return fmt.Errorf("sync: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Index saved")
				return nil
			})
		},
	}
}

func NewReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the similarity index from stored documents",
		Long: `Discard the saved similarity index and embed every stored document again.
Use after changing the embedding provider or dimension, or when the index files are damaged.`,
		Args: cobra.NoArgs,
		RunE: runReindex,
	}
	cmd.Flags().Int("concurrency", 4, "Documents embedded in parallel")
	return cmd
}

func runReindex(cmd *cobra.Command, _ []string) error {
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	return run(cmd, func(a *app) error {
		n, err := a.engine.Reindex(cmd.Context(), a.credential, concurrency)
		if err != nil {
			return fmt.Errorf("reindex after %d documents: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reindexed %d documents\n", n)
		return nil
	})
}
