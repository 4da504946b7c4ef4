package archive

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
)

// PurgeJobArgs is the periodic sweep job. It carries no parameters beyond
// "now", which the worker takes from the clock.
type PurgeJobArgs struct{}

func (PurgeJobArgs) Kind() string { return "purge_archived_accounts" }

type PurgeWorker struct {
	river.WorkerDefaults[PurgeJobArgs]
	svc *Service
	log *slog.Logger
}

func NewPurgeWorker(svc *Service, log *slog.Logger) *PurgeWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PurgeWorker{svc: svc, log: log}
}

func (w *PurgeWorker) Work(ctx context.Context, job *river.Job[PurgeJobArgs]) error {
	purged, err := w.svc.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	w.log.Info("archive purge sweep finished", "purged", purged)
	return nil
}
