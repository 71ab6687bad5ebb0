package risk

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Rule is one entry of the built-in taxonomy. Path patterns are regular
// expressions evaluated against the lowercased, slash-normalized path.
// File and folder patterns are shell globs matched against the base name.
// Size bounds are bytes; age bounds compare against LastAccessed.
type Rule struct {
	Name            string
	Level           Level
	PathPatterns    []string
	FilePatterns    []string
	FolderPatterns  []string
	ExcludePatterns []string
	MinSize         int64 // 0 means unset
	MaxSize         int64 // 0 means unset
	OlderThanDays   int   // matches only items idle at least this long
	NewerThanDays   int   // matches only items idle at most this long
}

type compiledRule struct {
	Rule
	paths    []*regexp.Regexp
	excludes []*regexp.Regexp
}

// Engine evaluates cleanup candidates against the taxonomy. Dangerous
// rules are checked first, then suspicious, then safe; an item matching
// nothing defaults to suspicious. Per-path user overrides win over
// everything.
type Engine struct {
	mu        sync.RWMutex
	rules     []compiledRule
	overrides map[string]Level
}

// Match describes the rule verdict for one item.
type Match struct {
	Level    Level
	RuleName string // empty when no rule matched
	Override bool
}

// NewEngine builds an engine with the built-in taxonomy plus any extra
// rules, which take precedence within their tier.
func NewEngine(extra ...Rule) *Engine {
	e := &Engine{overrides: make(map[string]Level)}
	for _, r := range extra {
		e.rules = append(e.rules, compile(r))
	}
	for _, r := range builtinRules() {
		e.rules = append(e.rules, compile(r))
	}
	return e
}

// SetOverride pins a path to a risk tier, learned from user feedback.
func (e *Engine) SetOverride(path string, level Level) {
	e.mu.Lock()
	e.overrides[normalizePath(path)] = level
	e.mu.Unlock()
}

// RemoveOverride drops a previously learned override.
func (e *Engine) RemoveOverride(path string) {
	e.mu.Lock()
	delete(e.overrides, normalizePath(path))
	e.mu.Unlock()
}

// Evaluate classifies one item. It never fails; unknown items come back
// suspicious.
func (e *Engine) Evaluate(item ScanItem) Match {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if level, ok := e.overrides[normalizePath(item.Path)]; ok {
		return Match{Level: level, RuleName: "user_override", Override: true}
	}

	for _, tier := range []Level{LevelDangerous, LevelSuspicious, LevelSafe} {
		for i := range e.rules {
			r := &e.rules[i]
			if r.Level != tier {
				continue
			}
			if r.matches(item) {
				return Match{Level: tier, RuleName: r.Name}
			}
		}
	}
	return Match{Level: LevelSuspicious}
}

func compile(r Rule) compiledRule {
	c := compiledRule{Rule: r}
	for _, p := range r.PathPatterns {
		c.paths = append(c.paths, regexp.MustCompile("(?i)"+p))
	}
	for _, p := range r.ExcludePatterns {
		c.excludes = append(c.excludes, regexp.MustCompile("(?i)"+p))
	}
	return c
}

func (r *compiledRule) matches(item ScanItem) bool {
	path := filepath.ToSlash(item.Path)
	for _, ex := range r.excludes {
		if ex.MatchString(path) {
			return false
		}
	}

	if len(r.paths) > 0 {
		for _, p := range r.paths {
			if p.MatchString(path) {
				return r.sizeOK(item.SizeBytes) && r.ageOK(item.LastAccessed)
			}
		}
		return false
	}

	if len(r.FilePatterns) > 0 || len(r.FolderPatterns) > 0 {
		patterns := r.FilePatterns
		if item.IsDir {
			patterns = r.FolderPatterns
		}
		base := strings.ToLower(filepath.Base(path))
		for _, p := range patterns {
			if ok, _ := filepath.Match(strings.ToLower(p), base); ok {
				return r.sizeOK(item.SizeBytes) && r.ageOK(item.LastAccessed)
			}
		}
		return false
	}

	// Bare rules constrain only size and age.
	return r.sizeOK(item.SizeBytes) && r.ageOK(item.LastAccessed)
}

func (r *compiledRule) sizeOK(size int64) bool {
	if r.MaxSize > 0 && size > r.MaxSize {
		return false
	}
	if r.MinSize > 0 && size < r.MinSize {
		return false
	}
	return true
}

func (r *compiledRule) ageOK(lastAccessed time.Time) bool {
	if r.OlderThanDays == 0 && r.NewerThanDays == 0 {
		return true
	}
	if lastAccessed.IsZero() {
		return false
	}
	days := int(time.Since(lastAccessed).Hours() / 24)
	if r.OlderThanDays > 0 && days < r.OlderThanDays {
		return false
	}
	if r.NewerThanDays > 0 && days > r.NewerThanDays {
		return false
	}
	return true
}

func builtinRules() []Rule {
	return []Rule{
		// Dangerous tier.
		{
			Name:  "system_core",
			Level: LevelDangerous,
			PathPatterns: []string{
				`/windows/system32/`, `/windows/system`, `/windows/syswow64/`,
				`^/(etc|usr|bin|sbin|lib)/`,
			},
		},
		{
			Name:         "boot_files",
			Level:        LevelDangerous,
			PathPatterns: []string{`/boot`, `bootmgr`},
		},
		{
			Name:         "system_config",
			Level:        LevelDangerous,
			PathPatterns: []string{`/config`, `/settings`},
			FilePatterns: []string{"*.cfg", "*.config", "*.settings"},
		},
		{
			Name:         "executables",
			Level:        LevelDangerous,
			FilePatterns: []string{"*.exe", "*.dll", "*.sys", "*.bat", "*.cmd", "*.ps1", "*.so"},
		},
		{
			Name:         "drivers",
			Level:        LevelDangerous,
			PathPatterns: []string{`/drivers/`, `/driverstore/`},
		},
		{
			Name:    "large_files",
			Level:   LevelDangerous,
			MinSize: 100 * 1024 * 1024,
		},
		{
			Name:  "user_documents",
			Level: LevelDangerous,
			PathPatterns: []string{
				`/documents/`, `/desktop/`, `/downloads/`,
				`/pictures/`, `/music/`, `/videos/`,
			},
		},
		{
			Name:         "registry_export",
			Level:        LevelDangerous,
			FilePatterns: []string{"*.reg"},
		},

		// Suspicious tier.
		{
			Name:         "config_files",
			Level:        LevelSuspicious,
			FilePatterns: []string{"*.ini", "*.conf", "*.json", "*.xml", "*.yaml", "*.yml"},
			MaxSize:      10 * 1024,
		},
		{
			Name:         "user_data_dirs",
			Level:        LevelSuspicious,
			PathPatterns: []string{`/data`, `/user`, `/userdata`},
		},
		{
			Name:            "database_files",
			Level:           LevelSuspicious,
			FilePatterns:    []string{"*.db", "*.sqlite", "*.sqlite3", "*.mdb"},
			ExcludePatterns: []string{`/cache`},
		},
		{
			Name:    "medium_files",
			Level:   LevelSuspicious,
			MinSize: 1024 * 1024,
			MaxSize: 10 * 1024 * 1024,
		},
		{
			Name:            "document_files",
			Level:           LevelSuspicious,
			FilePatterns:    []string{"*.doc", "*.docx", "*.xls", "*.xlsx", "*.ppt", "*.pdf", "*.txt"},
			ExcludePatterns: []string{`/logs`},
		},

		// Safe tier.
		{
			Name:         "cache_dirs",
			Level:        LevelSafe,
			PathPatterns: []string{`/cache`, `/temp`, `/tmp`, `cache/`},
		},
		{
			Name:         "log_dirs",
			Level:        LevelSafe,
			PathPatterns: []string{`/logs`, `/log/`},
		},
		{
			Name:         "prefetch",
			Level:        LevelSafe,
			PathPatterns: []string{`/prefetch/`},
		},
		{
			Name:    "leftover_stub",
			Level:   LevelSafe,
			MaxSize: 1024,
		},
		{
			Name:          "long_unused",
			Level:         LevelSafe,
			OlderThanDays: 90,
		},
		{
			Name:         "thumbnail_cache",
			Level:        LevelSafe,
			PathPatterns: []string{`/thumbnail cache/`, `/iconcache`},
		},
		{
			Name:         "thumbnail_files",
			Level:        LevelSafe,
			FilePatterns: []string{"*.db", "*.thumb", "*.thumbs"},
		},
		{
			Name:         "temp_files",
			Level:        LevelSafe,
			FilePatterns: []string{"*.tmp", "*.temp", "*.bak", "*.old"},
		},
		{
			Name:  "browser_cache",
			Level: LevelSafe,
			PathPatterns: []string{
				`/chrome/.*cache`, `/edge/.*cache`,
				`/firefox/.*cache`, `/opera/.*cache`,
			},
		},
		{
			Name:         "update_cache",
			Level:        LevelSafe,
			PathPatterns: []string{`/softwaredistribution/download/`},
		},
	}
}
