package transfer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// mediaExtensions are the file types whose presence marks a cache entry
// as usable even when entry.json is missing.
var mediaExtensions = []string{".m4s", ".mp4", ".blv", ".m4a"}

// CacheEntryExists reports whether a completed transfer already lives at
// dir. A non-empty entry.json is the primary marker; any media file is
// accepted as a looser fallback because older cache layouts shipped
// without metadata.
func CacheEntryExists(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}

	if fi, err := os.Stat(filepath.Join(dir, "entry.json")); err == nil && fi.Size() > 0 {
		return true
	}

	found := false
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		for _, ext := range mediaExtensions {
			if strings.HasSuffix(d.Name(), ext) {
				found = true
				return fs.SkipAll
			}
		}
		return nil
	})
	return found
}
