// Package ignore interprets an ignore-pattern file (similar in spirit to
// .gitignore) and answers whether a relative path is excluded from sync.
//
// Grounded on the cascading-ignore-file matcher in the teacher's
// internal/syncdata/ignore.go (IgnoreCache), simplified to the distilled
// spec's single-ignore-file-per-root contract: one compiled matcher built
// from the root's ignore file plus any ignore files found in subdirectories
// during a walk, each scoped to its own subtree the way the teacher's
// ancestor-cascading cache scopes per-directory patterns.
package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ig "github.com/sabhiram/go-gitignore"
)

// pruneCandidates names common heavy subtrees the remote scanner can skip
// walking altogether, best-effort, before the authoritative Matches filter
// ever sees the returned paths.
var pruneCandidates = []string{
	".git", "node_modules", "vendor", "dist", "build", ".sync_temp",
	"target", "__pycache__", ".venv", ".cache",
}

// Matcher answers whether a relative path is ignored.
type Matcher interface {
	// Matches reports whether path (POSIX-relative to the sync root) is
	// excluded from sync.
	Matches(path string) bool
	// RemotePruneArgs returns command-line fragments the remote scanner
	// splices into its directory-walk command to skip whole subtrees
	// bearing common heavy names. This is a best-effort pre-prune; Matches
	// remains the authoritative filter applied to returned paths.
	RemotePruneArgs() []string
}

// FileMatcher compiles an ignore file (default ignores always apply) plus
// any additional ignore files discovered under subdirectories of root.
type FileMatcher struct {
	root    string
	ignores map[string]*ig.GitIgnore // directory (relative to root, "" = root) -> compiled matcher
	warn    func(format string, args ...interface{})
}

// defaultIgnores are always excluded regardless of ignore-file content,
// mirroring the teacher's hardcoded default-ignore list for its own
// temp/config artifacts, generalized to this engine's artifact names.
var defaultIgnores = []string{".sync_temp", ".sync_state.csv", ".sync_progress.json", ".syncignore"}

// IgnoreFileName is the name of the ignore-pattern file read from the sync
// root (and any subdirectory visited by the local scanner).
const IgnoreFileName = ".syncignore"

// New compiles a Matcher rooted at absRoot. warn receives a message for
// each malformed pattern line encountered (malformed lines are skipped,
// never fatal, per spec).
func New(absRoot string, warn func(format string, args ...interface{})) *FileMatcher {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}
	m := &FileMatcher{root: absRoot, ignores: map[string]*ig.GitIgnore{}, warn: warn}
	m.compileDir("")
	return m
}

// AddDir compiles and registers the ignore file found in a subdirectory
// (relative to root), if any. The local scanner calls this as it descends
// so nested .syncignore files are picked up cascading-gitignore style.
func (m *FileMatcher) AddDir(relDir string) {
	relDir = filepath.ToSlash(relDir)
	if _, ok := m.ignores[relDir]; ok {
		return
	}
	m.compileDir(relDir)
}

func (m *FileMatcher) compileDir(relDir string) {
	dir := m.root
	if relDir != "" {
		dir = filepath.Join(m.root, filepath.FromSlash(relDir))
	}
	path := filepath.Join(dir, IgnoreFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		m.ignores[relDir] = nil
		return
	}
	lines, lineErrs := preprocessLines(string(data))
	for _, le := range lineErrs {
		m.warn("ignore: %s:%d: %s", path, le.line, le.reason)
	}
	if len(lines) == 0 {
		m.ignores[relDir] = nil
		return
	}
	m.ignores[relDir] = ig.CompileIgnoreLines(lines...)
}

type lineError struct {
	line   int
	reason string
}

// preprocessLines validates and normalizes ignore lines. Blank and
// #-prefixed lines are dropped; everything else is passed through to the
// gitignore compiler, which already understands *, ?, [...], **, and
// leading-! negation.
func preprocessLines(content string) ([]string, []lineError) {
	var out []string
	var errs []lineError
	for i, raw := range strings.Split(content, "\n") {
		l := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.ContainsAny(trimmed, "\x00") {
			errs = append(errs, lineError{i + 1, "contains NUL byte, skipped"})
			continue
		}
		out = append(out, trimmed)
	}
	return out, errs
}

// Matches implements Matcher. path must be POSIX-relative to root.
func (m *FileMatcher) Matches(path string) bool {
	path = filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, di := range defaultIgnores {
		if strings.EqualFold(di, base) {
			return true
		}
	}
	if strings.Contains(path, ".sync_temp/") || strings.HasPrefix(path, ".sync_temp/") {
		return true
	}

	// Evaluate every ancestor directory's matcher (closest first, since a
	// child .syncignore wins ties the way later lines win in a single
	// gitignore file); the first matcher that produces a decision governs.
	dir := filepath.Dir(path)
	if dir == "." {
		dir = ""
	}
	for {
		if mm, ok := m.ignores[dir]; ok && mm != nil {
			rel, err := relTo(dir, path)
			if err == nil && mm.MatchesPath(rel) {
				return true
			}
		}
		if dir == "" {
			break
		}
		parent := filepath.ToSlash(filepath.Dir(dir))
		if parent == "." {
			parent = ""
		}
		if parent == dir {
			break
		}
		dir = parent
	}
	return false
}

func relTo(dir, path string) (string, error) {
	if dir == "" {
		return path, nil
	}
	if !strings.HasPrefix(path, dir+"/") {
		return "", fmt.Errorf("path %q not under %q", path, dir)
	}
	return strings.TrimPrefix(path, dir+"/"), nil
}

// RemotePruneArgs implements Matcher. A candidate name is emitted only when
// Matches ignores the contents of a directory of that name both at the
// root and nested, so the pre-prune does not hide paths Matches keeps.
func (m *FileMatcher) RemotePruneArgs() []string {
	args := make([]string, 0, len(pruneCandidates)*4)
	for _, name := range pruneCandidates {
		if !m.Matches(name+"/f") || !m.Matches("d/"+name+"/f") {
			continue
		}
		args = append(args, "-name", name, "-prune", "-o")
	}
	return args
}
