package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the maximum number of config backups to keep
	MaxBackups = 3

	// BackupSuffix is the file extension for backup files
	BackupSuffix = ".bak"
)

// BackupFile copies path to a timestamped sibling (path.bak.<ts>) and prunes
// older backups beyond MaxBackups. Returns "" when path does not exist.
func BackupFile(path string) (string, error) {
	if !fileExists(path) {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s%s.%s", path, BackupSuffix, time.Now().Format("20060102-150405.000"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Pruning is best-effort once the backup itself succeeded.
	_ = pruneBackups(path)

	return backupPath, nil
}

// ListBackups returns backups of path, newest first.
func ListBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}

	// Timestamp suffixes sort lexically.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

func pruneBackups(path string) error {
	backups, err := ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	for _, b := range backups[MaxBackups:] {
		_ = os.Remove(b)
	}
	return nil
}
