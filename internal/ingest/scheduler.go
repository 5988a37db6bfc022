package ingest

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs periodic full re-indexes of a document directory so the
// index converges even when filesystem events are missed.
type Scheduler struct {
	indexer *Indexer
	dir     string
	cron    *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func NewScheduler(indexer *Indexer, dir string) *Scheduler {
	return &Scheduler{
		indexer: indexer,
		dir:     dir,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the re-index job under the given schedule and starts
// the cron ticker.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		slog.Info("cron firing re-index", "dir", s.dir)
		indexed, err := s.indexer.IndexDir(context.Background(), s.dir)
		if err != nil {
			slog.Error("scheduled re-index failed", "dir", s.dir, "error", err)
			return
		}
		slog.Info("scheduled re-index complete", "dir", s.dir, "documents", indexed)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("scheduled re-index", "dir", s.dir, "schedule", schedule)
	return nil
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
