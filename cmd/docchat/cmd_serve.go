package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/docchat/internal/httpapi"
	"github.com/user/docchat/internal/ingest"
)

var serveWatchDir string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "directory to watch and index while serving")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docchat HTTP daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "docchat.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if serveWatchDir != "" {
		ix, err := a.indexer()
		if err != nil {
			return err
		}
		if _, err := ix.IndexDir(ctx, serveWatchDir); err != nil {
			return fmt.Errorf("initial index: %w", err)
		}
		watcher, err := ingest.NewWatcher(ix)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer watcher.Stop()
		go func() {
			if err := watcher.Watch(ctx, serveWatchDir); err != nil && ctx.Err() == nil {
				slog.Error("watcher stopped", "error", err)
			}
		}()

		if cfg.Ingest.ReindexSchedule != "" {
			sched := ingest.NewScheduler(ix, serveWatchDir)
			if err := sched.Start(cfg.Ingest.ReindexSchedule); err != nil {
				return fmt.Errorf("start re-index schedule: %w", err)
			}
			defer sched.Stop()
		}
	}

	server := httpapi.NewServer(a.agentFor, a.conversations, a.messages, int64(cfg.MaxConcurrent))
	server.Start(ctx)
	defer server.Stop()
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: server}

	go func() {
		slog.Info("docchat started",
			"addr", cfg.HTTP.Addr,
			"data_dir", cfg.DataDir,
			"engine", cfg.Engine,
			"llm_model", cfg.LLM.Model,
			"vector_backend", cfg.Vector.Backend,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	return httpServer.Shutdown(context.Background())
}
