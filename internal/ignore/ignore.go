// Package ignore decides whether a path is excluded from scanning and
// planning. It combines three layers, checked in order:
//
//	(a) static excluded directory names, matched at any depth; an
//	    excluded ancestor prunes the whole subtree before any rule
//	    evaluation, and negation patterns cannot resurrect it;
//	(b) static excluded file names, matched by exact name anywhere;
//	(c) scoped ignore files (.driftignore) with gitignore-like patterns
//	    applying to the declaring directory and all descendants, where
//	    the last matching pattern wins within a file and deeper files
//	    override shallower ones.
//
// The matcher is designed for prune-before-descent: scanners ask about a
// directory before walking into it and skip the entire subtree on a match.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// IgnoreFileName is the scoped ignore file honored during traversal.
const IgnoreFileName = ".driftignore"

// ruleCacheSize bounds the parsed ignore-file cache. Subtree rescans
// reload the same ancestor files repeatedly; the cache keeps that cheap.
const ruleCacheSize = 1000

// Rule is a single parsed ignore pattern.
type Rule struct {
	// Pattern is the glob with prefixes/suffixes stripped.
	Pattern string
	// Negate re-includes a previously excluded path.
	Negate bool
	// DirOnly restricts the pattern to directories (trailing slash).
	DirOnly bool
	// Anchored pins the pattern to the declaring directory (leading slash).
	Anchored bool
}

// Matcher evaluates the exclusion layers for one root.
type Matcher struct {
	dirNames  map[string]struct{}
	fileNames map[string]struct{}
	globs     []string

	mu     sync.RWMutex
	scopes map[string][]Rule // declaring dir relpath ("." = root) -> rules

	fileCache *lru.Cache[string, []Rule]
}

// New creates a matcher with the given static name sets and extra
// doublestar globs from configuration.
func New(dirNames, fileNames, globs []string) (*Matcher, error) {
	cache, err := lru.New[string, []Rule](ruleCacheSize)
	if err != nil {
		return nil, err
	}
	m := &Matcher{
		dirNames:  make(map[string]struct{}, len(dirNames)),
		fileNames: make(map[string]struct{}, len(fileNames)),
		globs:     globs,
		scopes:    make(map[string][]Rule),
		fileCache: cache,
	}
	for _, name := range dirNames {
		m.dirNames[name] = struct{}{}
	}
	for _, name := range fileNames {
		m.fileNames[name] = struct{}{}
	}
	return m, nil
}

// IsExcludedDirName reports whether a bare directory name is statically
// excluded. Scanners use this to prune before descending.
func (m *Matcher) IsExcludedDirName(name string) bool {
	_, ok := m.dirNames[name]
	return ok
}

// IsExcludedFileName reports whether a bare file name is statically excluded.
func (m *Matcher) IsExcludedFileName(name string) bool {
	_, ok := m.fileNames[name]
	return ok
}

// AddRules registers parsed ignore rules scoped to the declaring
// directory (root-relative, "." for the root itself).
func (m *Matcher) AddRules(baseRel string, lines []string) {
	rules := ParseRules(lines)
	if len(rules) == 0 {
		return
	}
	m.mu.Lock()
	m.scopes[normScope(baseRel)] = rules
	m.mu.Unlock()
}

// LoadDir reads relDir/.driftignore under rootAbs if it exists and
// registers its rules. Parsed files are cached per absolute path.
func (m *Matcher) LoadDir(rootAbs, relDir string) {
	scope := normScope(relDir)
	abs := filepath.Join(rootAbs, filepath.FromSlash(scope), IgnoreFileName)
	if scope == "." {
		abs = filepath.Join(rootAbs, IgnoreFileName)
	}

	if rules, ok := m.fileCache.Get(abs); ok {
		if len(rules) > 0 {
			m.mu.Lock()
			m.scopes[scope] = rules
			m.mu.Unlock()
		}
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		// Missing ignore files are the common case.
		m.fileCache.Add(abs, nil)
		return
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	rules := ParseRules(lines)
	m.fileCache.Add(abs, rules)
	if len(rules) > 0 {
		m.mu.Lock()
		m.scopes[scope] = rules
		m.mu.Unlock()
	}
}

// PrimeSubtree loads the ignore files of the root and every ancestor of
// subtree, so a scoped rescan honors rules declared above its start point.
func (m *Matcher) PrimeSubtree(rootAbs, subtree string) {
	m.LoadDir(rootAbs, ".")
	subtree = strings.Trim(subtree, "/")
	if subtree == "" || subtree == "." {
		return
	}
	parts := strings.Split(subtree, "/")
	current := ""
	for _, part := range parts[:len(parts)-1] {
		if current == "" {
			current = part
		} else {
			current = current + "/" + part
		}
		m.LoadDir(rootAbs, current)
	}
}

// Match reports whether the root-relative path is excluded, and which
// rule matched. Order: static ancestor directory names, static file
// names, config globs, then scoped ignore rules (deepest scope wins).
func (m *Matcher) Match(relpath string, isDir bool) (bool, string) {
	relpath = strings.Trim(path.Clean(strings.ReplaceAll(relpath, "\\", "/")), "/")
	if relpath == "" || relpath == "." {
		return false, ""
	}

	segs := strings.Split(relpath, "/")

	// (a) static directory names: the path itself when it is a directory,
	// and every ancestor segment regardless. No rule below can override.
	for i, seg := range segs {
		isAncestor := i < len(segs)-1
		if isAncestor || isDir {
			if _, ok := m.dirNames[seg]; ok {
				return true, "dir:" + seg
			}
		}
	}

	// (b) static file names by exact basename.
	if !isDir {
		if _, ok := m.fileNames[segs[len(segs)-1]]; ok {
			return true, "file:" + segs[len(segs)-1]
		}
	}

	// Config-level extra globs.
	for _, g := range m.globs {
		if ok, _ := doublestar.Match(g, relpath); ok {
			return true, "glob:" + g
		}
	}

	// (c) scoped ignore rules. Walk scopes from the root downward so a
	// deeper file's verdict overrides a shallower one.
	m.mu.RLock()
	defer m.mu.RUnlock()

	excluded := false
	matched := ""
	ancestors := scopeChain(segs)
	for _, scope := range ancestors {
		rules, ok := m.scopes[scope]
		if !ok {
			continue
		}
		local := relpath
		if scope != "." {
			local = relpath[len(scope)+1:]
		}
		if verdict, rule := evalRules(local, isDir, rules); verdict != nil {
			excluded = *verdict
			matched = IgnoreFileName + ":" + scope + ":" + rule
		}
	}
	if !excluded {
		matched = ""
	}
	return excluded, matched
}

// ParseRules parses ignore-file lines into rules. Blank lines and
// comments are dropped.
func ParseRules(lines []string) []Rule {
	var rules []Rule
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r := Rule{Pattern: line}
		if strings.HasPrefix(r.Pattern, "!") {
			r.Negate = true
			r.Pattern = r.Pattern[1:]
		}
		if strings.HasSuffix(r.Pattern, "/") {
			r.DirOnly = true
			r.Pattern = strings.TrimSuffix(r.Pattern, "/")
		}
		if strings.HasPrefix(r.Pattern, "/") {
			r.Anchored = true
			r.Pattern = strings.TrimPrefix(r.Pattern, "/")
		}
		if r.Pattern == "" {
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

// evalRules applies one scope's rules in order; the last match wins.
// Returns nil when no rule matched.
func evalRules(local string, isDir bool, rules []Rule) (*bool, string) {
	var verdict *bool
	var matched string
	for _, r := range rules {
		if r.DirOnly && !isDir {
			continue
		}
		if patternMatches(local, r.Pattern, r.Anchored) {
			v := !r.Negate
			verdict = &v
			matched = r.Pattern
		}
	}
	return verdict, matched
}

// patternMatches implements the gitignore-like match against a
// scope-local target path.
func patternMatches(local, pattern string, anchored bool) bool {
	if anchored {
		ok, _ := doublestar.Match(pattern, local)
		return ok
	}

	segs := strings.Split(local, "/")

	if !strings.Contains(pattern, "/") {
		// Bare pattern: match the basename or any path segment, so
		// "build" also excludes everything under a build directory.
		for _, seg := range segs {
			if ok, _ := doublestar.Match(pattern, seg); ok {
				return true
			}
		}
		return false
	}

	if ok, _ := doublestar.Match(pattern, local); ok {
		return true
	}
	// Unanchored multi-segment patterns float: try every suffix.
	for i := 1; i < len(segs); i++ {
		if ok, _ := doublestar.Match(pattern, strings.Join(segs[i:], "/")); ok {
			return true
		}
	}
	return false
}

// scopeChain lists "." and every ancestor directory of the path,
// shallowest first.
func scopeChain(segs []string) []string {
	scopes := []string{"."}
	for i := 0; i < len(segs)-1; i++ {
		scopes = append(scopes, strings.Join(segs[:i+1], "/"))
	}
	return scopes
}

func normScope(rel string) string {
	rel = strings.Trim(strings.ReplaceAll(rel, "\\", "/"), "/")
	if rel == "" {
		return "."
	}
	return rel
}
