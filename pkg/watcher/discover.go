package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mentat25/Metrix/pkg/fsutil"
)

// discover returns the run directories directly under root. Hidden entries
// and plain files are ignored. A root that is missing or not a directory
// yields no runs.
func discover(root string) ([]string, error) {
	if !fsutil.IsDir(root) {
		return nil, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading watch root: %w", err)
	}

	dirs := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		dirs = append(dirs, filepath.Join(root, e.Name()))
	}

	return dirs, nil
}
