package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/docchat/internal/ingest"
)

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestFileCmd, ingestDirCmd, ingestListCmd, ingestWatchCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index documents for retrieval",
}

var ingestFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Index a single document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		ix, err := a.indexer()
		if err != nil {
			return err
		}
		doc, err := ix.IndexFile(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("index %s: %w", args[0], err)
		}
		fmt.Printf("Indexed %q as document %s (%d chunks)\n", doc.Title, doc.ID, doc.Chunks)
		return nil
	},
}

var ingestDirCmd = &cobra.Command{
	Use:   "dir <path>",
	Short: "Index every supported document in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		ix, err := a.indexer()
		if err != nil {
			return err
		}
		indexed, err := ix.IndexDir(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("index %s: %w", args[0], err)
		}
		fmt.Printf("Indexed %d documents\n", indexed)
		return nil
	},
}

var ingestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		docs, err := a.documents.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		if len(docs) == 0 {
			fmt.Println("No documents indexed.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tCHUNKS\tPATH\tINDEXED")
		for _, doc := range docs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				doc.ID, doc.Title, doc.Chunks, doc.Path,
				doc.IndexedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var ingestWatchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a directory and re-index documents as they change",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestWatch,
}

func runIngestWatch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	ix, err := a.indexer()
	if err != nil {
		return err
	}

	// Catch up before watching so pre-existing files are indexed too.
	if _, err := ix.IndexDir(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("initial index: %w", err)
	}

	if cfg.Ingest.ReindexSchedule != "" {
		sched := ingest.NewScheduler(ix, args[0])
		if err := sched.Start(cfg.Ingest.ReindexSchedule); err != nil {
			return fmt.Errorf("start re-index schedule: %w", err)
		}
		defer sched.Stop()
	}

	watcher, err := ingest.NewWatcher(ix)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Stop()
	return watcher.Watch(cmd.Context(), args[0])
}
