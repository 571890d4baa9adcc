package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// OutputDir returns where a project's deliverables go: subdir inside the
// source directory. A single-file source gets subdir/<name without extension>
// next to it, so files sharing a directory never share an output folder.
func OutputDir(sourcePath, subdir string) string {
	if info, err := os.Stat(sourcePath); err == nil && !info.IsDir() {
		name := filepath.Base(sourcePath)
		if stem := strings.TrimSuffix(name, filepath.Ext(name)); stem != "" {
			name = stem
		}
		return filepath.Join(filepath.Dir(sourcePath), subdir, name)
	}
	return filepath.Join(sourcePath, subdir)
}

// collectArtifacts merges executor-reported paths with regular files under
// outputDir modified at or after since. The result is absolute, sorted and
// free of duplicates.
func collectArtifacts(outputDir string, reported []string, since time.Time) ([]string, error) {
	out := make([]string, 0, len(reported))
	for _, p := range reported {
		if !filepath.IsAbs(p) {
			p = filepath.Join(outputDir, p)
		}
		out = append(out, filepath.Clean(p))
	}

	// mtime granularity is one second on some filesystems.
	cutoff := since.Truncate(time.Second)
	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == outputDir {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}
