package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kasirinaja/register/internal/domain"
	"kasirinaja/register/internal/xid"
)

const (
	processedDir = "processed"
	rejectedDir  = "rejected"
)

type ImportReport struct {
	Imported int     `json:"imported"`
	Rejected int     `json:"rejected"`
	Failed   int     `json:"failed"`
	IDs      []int64 `json:"ids"`
}

func (l *Ledger) BackupDir() string {
	return l.backupDir
}

// writeBackup writes the entry to <backupDir>/failed-<uuid>.json. The file
// appears under its final name only once fully written.
func (l *Ledger) writeBackup(failed domain.FailedTransaction) (string, error) {
	if strings.TrimSpace(l.backupDir) == "" {
		return "", errors.New("backup directory not configured")
	}
	if err := os.MkdirAll(l.backupDir, 0o755); err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(l.backupDir, xid.New("failed")+".json")
	tmp, err := os.CreateTemp(l.backupDir, ".failed-*.tmp")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// ImportLocalBackups inserts every backup file as a failed transaction and
// moves it to processed/. Files that cannot be decoded go to rejected/.
// Files whose insert fails stay in place for the next pass.
func (l *Ledger) ImportLocalBackups(ctx context.Context) (ImportReport, error) {
	report := ImportReport{IDs: []int64{}}
	if strings.TrimSpace(l.backupDir) == "" {
		return report, nil
	}

	entries, err := os.ReadDir(l.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return report, fmt.Errorf("read backup dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		path := filepath.Join(l.backupDir, name)

		failed, err := readBackup(path)
		if err != nil {
			l.logger.Warn("backup file rejected", slog.String("file", name), slog.Any("error", err))
			if err := moveTo(path, filepath.Join(l.backupDir, rejectedDir)); err != nil {
				errs = append(errs, err)
			}
			report.Rejected++
			continue
		}

		failed.ID = 0
		failed.State = domain.FailedStateFailed
		created, err := l.store.CreateFailedTransaction(ctx, failed)
		if err != nil {
			l.logger.Warn("backup import failed", slog.String("file", name), slog.Any("error", err))
			report.Failed++
			errs = append(errs, fmt.Errorf("import %s: %w", name, err))
			continue
		}
		report.Imported++
		report.IDs = append(report.IDs, created.ID)

		if err := moveTo(path, filepath.Join(l.backupDir, processedDir)); err != nil {
			// the row exists; a second import of this file would duplicate it
			l.logger.Error("imported backup could not be moved aside", slog.String("file", name), slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	if report.Imported+report.Rejected+report.Failed > 0 {
		l.logger.Info("backup import finished",
			slog.Int("imported", report.Imported),
			slog.Int("rejected", report.Rejected),
			slog.Int("failed", report.Failed),
		)
	}
	return report, errors.Join(errs...)
}

func readBackup(path string) (domain.FailedTransaction, error) {
	var failed domain.FailedTransaction
	payload, err := os.ReadFile(path)
	if err != nil {
		return failed, err
	}
	if err := json.Unmarshal(payload, &failed); err != nil {
		return failed, err
	}
	if len(failed.Items) == 0 {
		return failed, errors.New("backup has no cart items")
	}
	return failed, nil
}

func moveTo(path string, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}
