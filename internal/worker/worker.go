// Package worker consumes sync jobs and applies them to sync targets.
package worker

import (
	"context"
	"log/slog"

	"boxtrack/internal/domain"
	"boxtrack/internal/sheets"
)

// SheetManager applies item changes to one sync target.
type SheetManager interface {
	HandleCreate(ctx context.Context, snapshot *domain.Snapshot) error
	HandleUpdate(ctx context.Context, before, after *domain.Snapshot) error
	HandleDelete(ctx context.Context, snapshot *domain.Snapshot) error
}

// StatusRecorder keeps the operator visible last error.
type StatusRecorder interface {
	RecordLastError(ctx context.Context, message string) error
	ClearLastError(ctx context.Context) error
}

type Outcome int

const (
	Succeeded Outcome = iota
	Skipped
	Failed
)

type Worker struct {
	managers *Managers
	status   StatusRecorder
	logger   *slog.Logger
}

func New(managers *Managers, status StatusRecorder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		managers: managers,
		status:   status,
		logger:   logger,
	}
}

// Handle applies job to its sync target. Configuration problems are logged
// and swallowed since retrying cannot fix them. Authorization failures are
// recorded as the last error and returned so the job is retried, as is any
// other failure.
func (w *Worker) Handle(ctx context.Context, job domain.SyncJob) error {
	_, err := w.handle(ctx, job)
	return err
}

func (w *Worker) handle(ctx context.Context, job domain.SyncJob) (Outcome, error) {
	if !job.Action.Valid() {
		w.logger.Warn("unknown sync action, skipping", "action", job.Action)
		return Skipped, nil
	}
	target := job.Target()
	if target == "" {
		return Skipped, nil
	}

	manager := w.managers.Get(target)
	var err error
	switch job.Action {
	case domain.SyncActionCreate:
		err = manager.HandleCreate(ctx, job.Snapshot)
	case domain.SyncActionUpdate:
		err = manager.HandleUpdate(ctx, job.Before, job.After)
	case domain.SyncActionDelete:
		err = manager.HandleDelete(ctx, job.Snapshot)
	}

	switch {
	case err == nil:
		if cerr := w.status.ClearLastError(ctx); cerr != nil {
			w.logger.Error("failed to clear last sync error", "error", cerr)
		}
		return Succeeded, nil
	case sheets.IsConfigurationError(err):
		w.logger.Warn("sync skipped", "target", target, "action", job.Action, "reason", err)
		return Skipped, nil
	case sheets.IsAuthError(err):
		if rerr := w.status.RecordLastError(ctx, err.Error()); rerr != nil {
			w.logger.Error("failed to record last sync error", "error", rerr)
		}
		w.logger.Error("sync authorization failed", "target", target, "action", job.Action, "error", err)
		return Failed, err
	default:
		w.logger.Error("sync failed", "target", target, "action", job.Action, "error", err)
		return Failed, err
	}
}
