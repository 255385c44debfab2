package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
)

const retentionSweepInterval = 24 * time.Hour

// StartLogRetentionCleaner deletes *.log files older than retentionDays from
// logDir, once at startup and then daily until ctx is cancelled. A
// non-positive retentionDays disables the cleaner.
func StartLogRetentionCleaner(ctx context.Context, retentionDays int, logDir string) {
	if retentionDays <= 0 {
		Logger.Debug("log retention disabled",
			zap.Int("log_retention_days", retentionDays))
		return
	}
	if strings.TrimSpace(logDir) == "" {
		Logger.Warn("log retention enabled but no log directory configured",
			zap.Int("log_retention_days", retentionDays))
		return
	}

	sweep := func() {
		if err := removeExpiredLogs(logDir, retentionDays); err != nil {
			Logger.Warn("log retention sweep failed", zap.Error(err))
		}
	}
	sweep()

	go func() {
		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				Logger.Info("log retention cleaner stopped", zap.Error(ctx.Err()))
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()

	Logger.Info("log retention cleaner started",
		zap.Int("log_retention_days", retentionDays),
		zap.String("log_dir", logDir))
}

func removeExpiredLogs(logDir string, retentionDays int) error {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read log directory")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".log") {
			continue
		}

		path := filepath.Join(logDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			Logger.Warn("skip log file without metadata",
				zap.String("log_path", path), zap.Error(err))
			continue
		}
		if !info.ModTime().UTC().Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			Logger.Warn("failed to delete expired log file",
				zap.String("log_path", path), zap.Error(err))
			continue
		}
		Logger.Info("deleted expired log file", zap.String("log_path", path),
			zap.Time("modified_at", info.ModTime().UTC()))
	}
	return nil
}
