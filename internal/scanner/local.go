// Package scanner provides the local filesystem walker and the remote
// asynchronous scanner, both producing a stream of PathFingerprint
// values.
//
// Grounded on the teacher's sub_app/agent/internal/indexer/indexer.go
// BuildIndex (filepath.WalkDir-based walk emitting per-entry metadata),
// generalized to emit mtime+size-only fingerprints (no content hash — the
// spec's decider never reads file bytes) and to consult an ignore.Matcher
// per entry the way the teacher's own walks consult IgnoreCache.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"

	"gosync/internal/fingerprint"
	"gosync/internal/ignore"
)

// Entry pairs a POSIX-relative path with its observed fingerprint.
type Entry struct {
	Path string
	FP   fingerprint.Fingerprint
}

// WarnFunc receives a non-fatal scan warning (e.g. a broken symlink).
type WarnFunc func(format string, args ...interface{})

// Local walks root and returns one Entry per regular file not excluded by
// matcher. Directories are never emitted. Symlinks are followed only if
// their target is a regular file; broken links are skipped with a
// warning.
func Local(root string, matcher ignore.Matcher, warn WarnFunc) ([]Entry, error) {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	fm, _ := matcher.(*ignore.FileMatcher)

	var entries []Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			warn("scanner: local: %s: %v", p, err)
			return nil
		}
		if p == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matcher.Matches(rel) {
				return filepath.SkipDir
			}
			if fm != nil {
				fm.AddDir(rel)
			}
			return nil
		}

		info, statErr := entryInfo(p, d)
		if statErr != nil {
			warn("scanner: local: skipping broken entry %s: %v", rel, statErr)
			return nil
		}
		if info == nil {
			// symlink whose target is not a regular file
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if matcher.Matches(rel) {
			return nil
		}

		entries = append(entries, Entry{
			Path: rel,
			FP: fingerprint.Fingerprint{
				Mtime: float64(info.ModTime().UnixNano()) / 1e9,
				Size:  info.Size(),
			},
		})
		return nil
	})
	return entries, err
}

// entryInfo resolves a directory entry's FileInfo, following a symlink
// once to its target. A symlink whose target is not a regular file
// returns (nil, nil) so the caller silently skips it without treating it
// as an error; a symlink whose target cannot be stat'd (broken link)
// returns a non-nil error so the caller can warn.
func entryInfo(p string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&os.ModeSymlink != 0 {
		info, err := os.Stat(p) // Stat follows symlinks
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
		return info, nil
	}
	return d.Info()
}
