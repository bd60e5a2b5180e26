package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/martinemde/stepline/eventlog"
	"github.com/martinemde/stepline/history"
)

func newReindexCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the historical index from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closer, err := buildLogger(flags)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			prof, err := loadProfile(flags)
			if err != nil {
				return err
			}

			events, err := eventlog.OpenSQLiteLog(filepath.Join(prof.DataDir, "events.db"))
			if err != nil {
				return err
			}
			defer events.Close()

			store, err := history.NewSQLiteStore(filepath.Join(prof.DataDir, "history.db"))
			if err != nil {
				return err
			}
			defer store.Close()
			index := history.NewIndex(history.WithStore(store), history.WithLogger(logger))

			n, err := eventlog.Reindex(cmd.Context(), events, index, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d examples (%d total indexed)\n", n, index.Len())
			return nil
		},
	}
}
