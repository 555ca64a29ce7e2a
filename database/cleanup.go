package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phuslu/log"

	"x-keeper/utils"
)

// CleanupTempFiles removes temp documents older than maxAge that an interrupted
// ledger write left in dir. It returns how many files were removed.
func CleanupTempFiles(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !isLedgerTemp(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("failed to remove stale temp file")
			continue
		}
		removed++
	}

	if removed > 0 {
		utils.Info("CleanupTempFiles", "Cleanup", fmt.Sprintf("Removed %d stale ledger temp files from %s", removed, dir))
	}
	return removed, nil
}

func isLedgerTemp(name string) bool {
	if !strings.HasSuffix(name, ".tmp") {
		return false
	}
	return strings.HasPrefix(name, IDsFileName+".") || strings.HasPrefix(name, URLsFileName+".")
}
