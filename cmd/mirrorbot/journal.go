package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"mirrorbot/internal/journal"

	"github.com/spf13/cobra"
)

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the exchange journal",
		Long:  "Reads the SQLite journal written by serve when journal.enabled is true.",
	}

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal()
			if err != nil {
				return err
			}
			defer store.Close()

			exchanges, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tREQUEST\tFROM\tPATH\tIMAGES\tFALLBACK\tSTEP\tLATENCY\tERROR")
			for _, ex := range exchanges {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%t\t%s\t%dms\t%s\n",
					ex.CreatedAt.Local().Format(time.DateTime), ex.RequestID, ex.From, ex.Path,
					ex.Images, ex.Images+ex.Dropped, ex.Fallback, ex.Step, ex.LatencyMs, ex.Error)
			}
			return tw.Flush()
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "number of exchanges to show")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("prune journal: %w", err)
			}
			logger.Info("journal pruned", "removed", n, "older_than", olderThan)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "remove exchanges older than this")

	cmd.AddCommand(recent, prune)
	return cmd
}

func openJournal() (*journal.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := os.Stat(cfg.Journal.DBPath); err != nil {
		return nil, fmt.Errorf("journal not found at %s (enable journal.enabled and run serve first)", cfg.Journal.DBPath)
	}
	return journal.Open(cfg.Journal.DBPath, logger)
}
