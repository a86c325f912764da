package documents

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// BackupTimeLayout is the timestamp embedded in backup file names.
const BackupTimeLayout = "20060102_150405"

// BackupSuffix terminates every backup file name.
const BackupSuffix = ".bak"

const maxBackupAttempts = 100

// BackupName returns the backup path for path taken at t:
// <path>.<YYYYMMDD_HHMMSS>.bak
func BackupName(path string, t time.Time) string {
	return path + "." + t.Format(BackupTimeLayout) + BackupSuffix
}

// Backup copies path to a new timestamped backup next to it and returns the
// backup path. A missing source is not an error: Backup returns "" and nil.
// Backups are never overwritten; if a backup for the same second already
// exists a counter is added before the suffix.
func Backup(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	dst, name, err := createBackupFile(path, now, info.Mode().Perm())
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("copy: %w", err)
	}
	if err := syncFile(dst); err != nil {
		_ = dst.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("fsync backup: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close backup: %w", err)
	}

	// Keep the source modification time, like cp -p.
	_ = os.Chtimes(name, info.ModTime(), info.ModTime())

	return name, nil
}

func createBackupFile(path string, now time.Time, perm fs.FileMode) (*os.File, string, error) {
	base := path + "." + now.Format(BackupTimeLayout)
	for i := 0; i < maxBackupAttempts; i++ {
		name := base + BackupSuffix
		if i > 0 {
			name = base + "." + strconv.Itoa(i) + BackupSuffix
		}

		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create backup: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create backup: too many backups for %s", base)
}
