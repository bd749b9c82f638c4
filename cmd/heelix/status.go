package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stritefax/heelixchat/internal/cli"
	"github.com/stritefax/heelixchat/internal/similarity"
	"github.com/stritefax/heelixchat/internal/storage"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show document and index counts",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return run(cmd, func(a *app) error {
		ctx := cmd.Context()
		st := &cli.Status{}
		var err error
		if st.Documents, err = a.store.CountDocuments(ctx); err != nil {
			return fmt.Errorf("count documents: %w", err)
		}
		err = a.handle.With(func(s *similarity.Search) error {
			st.Index, err = s.Stats(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("index stats: %w", err)
		}
		paths := a.cfg.Storage
		if st.Store, err = storage.MeasureDiskUsage(paths.DatabasePath, paths.KeywordIndexPath); err != nil {
			return fmt.Errorf("measure disk usage: %w", err)
		}
		if st.Snapshot, err = similarity.MeasureSnapshot(paths.IndexDir, st.Index.Collection); err != nil {
			return fmt.Errorf("measure snapshot: %w", err)
		}
		st.DiskUsageBytes = st.Store.Total() + st.Snapshot.Total()
		return cli.WriteStatus(cmd.OutOrStdout(), st, a.format)
	})
}
