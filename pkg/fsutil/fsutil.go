package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

// LatestModTime returns the newest modification time among the entries
// directly inside dir. The boolean is false when dir has no entries.
func LatestModTime(dir string) (time.Time, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var (
		latest time.Time
		found  bool
	)

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// Entry removed between listing and stat.
			if os.IsNotExist(err) {
				continue
			}

			return time.Time{}, false, fmt.Errorf(
				"stat %s: %w", filepath.Join(dir, e.Name()), err,
			)
		}

		if !found || info.ModTime().After(latest) {
			latest = info.ModTime()
			found = true
		}
	}

	return latest, found, nil
}
