package cli

import (
	"os"
	"path/filepath"
)

// localConfigExts are the extensions tried, in order, for a .jcc config
// file at each directory level.
var localConfigExts = []string{"yml", "yaml", "json", "toml"}

// FindLocalConfig walks from dir toward the filesystem root and returns the
// first .jcc config file it finds, or "" when there is none.
func FindLocalConfig(dir string) string {
	for prev := ""; dir != prev; prev, dir = dir, filepath.Dir(dir) {
		for _, ext := range localConfigExts {
			candidate := filepath.Join(dir, ".jcc."+ext)

			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}

	return ""
}
