package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"kasirinaja/register/internal/failure"
)

type BackupImporter interface {
	ImportLocalBackups(ctx context.Context) (failure.ImportReport, error)
}

// ImportBackupsJob drains the local backup directory into the failure ledger.
type ImportBackupsJob struct {
	Importer BackupImporter
	Logger   *slog.Logger
	Timeout  time.Duration
}

func NewImportBackupsJob(importer BackupImporter, logger *slog.Logger) *ImportBackupsJob {
	return &ImportBackupsJob{Importer: importer, Logger: logger, Timeout: 2 * time.Minute}
}

func (j *ImportBackupsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Importer == nil {
		return errors.New("import backups: handler not configured")
	}
	var payload ImportBackupsPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	logger := j.logger().With(slog.String("requested_by", payload.RequestedBy))
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	started := time.Now()
	report, err := j.Importer.ImportLocalBackups(ctx)
	attrs := []any{
		slog.Int("imported", report.Imported),
		slog.Int("rejected", report.Rejected),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(started)),
	}
	if err != nil {
		logger.Error("backup import incomplete", append(attrs, slog.Any("error", err))...)
		return err
	}
	if report.Imported+report.Rejected > 0 {
		logger.Info("backup import finished", attrs...)
	} else {
		logger.Debug("no backups to import")
	}
	return nil
}

func (j *ImportBackupsJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskImportBackups))
	}
	return slog.Default().With(slog.String("job", TaskImportBackups))
}
