// Package specsheet resolves BOM components to specification sheet PDFs in a
// local cache directory.
//
// Resolution policy, first success wins:
//
//  1. exact part number in the catalog
//  2. exact part name in the catalog
//  3. <normalised id>_spec.pdf present in the cache (part number, then name)
//  4. substring fallback over cache file names in lexicographic order
//
// The fallback is a heuristic and may pick the wrong sheet when several files
// share a word with the part name. Its message reports the candidate count so
// a reviewer can check it. It tests only the stem of a file name: the
// _spec.pdf suffix (or a bare .pdf extension) is removed first, so name words
// such as "spec" or "pdf" do not match every cached sheet.
package specsheet

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hazyhaar/permitpack/bom"
)

// Status is the outcome of resolving one component.
type Status string

const (
	StatusFoundExact    Status = "found_exact"
	StatusFoundPattern  Status = "found_pattern"
	StatusFoundFallback Status = "found_fallback"
	StatusNotFound      Status = "not_found"
)

// Origin records where a resolved sheet came from.
type Origin string

const (
	OriginCache   Origin = "cache"
	OriginNetwork Origin = "network"
)

// MatchResult is the resolution of one component. ResolvedPath is empty
// when Status is StatusNotFound.
type MatchResult struct {
	Component    bom.Component `json:"component"`
	Status       Status        `json:"status"`
	ResolvedPath string        `json:"resolved_path,omitempty"`
	Origin       Origin        `json:"origin,omitempty"`
	Message      string        `json:"message"`
}

// Found reports whether the match resolved to a file.
func (m MatchResult) Found() bool { return m.Status != StatusNotFound && m.ResolvedPath != "" }

// Config configures a Locator.
type Config struct {
	// CacheDir holds the specification sheets.
	CacheDir string

	// Catalog defaults to DefaultCatalog().
	Catalog *Catalog

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Catalog == nil {
		c.Catalog = DefaultCatalog()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Locator resolves components against a snapshot of the cache directory
// taken at construction. It is safe for concurrent use.
type Locator struct {
	cfg   Config
	files []string // sorted .pdf base names
	set   map[string]struct{}
}

// NewLocator lists the cache directory once. A missing directory is treated
// as empty; any other listing failure is returned.
func NewLocator(cfg Config) (*Locator, error) {
	cfg.defaults()
	l := &Locator{cfg: cfg, set: make(map[string]struct{})}

	entries, err := os.ReadDir(cfg.CacheDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.Logger.Warn("specsheet: cache directory missing", "dir", cfg.CacheDir)
			return l, nil
		}
		return nil, fmt.Errorf("specsheet: list cache %s: %w", cfg.CacheDir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			continue
		}
		l.files = append(l.files, name)
		l.set[name] = struct{}{}
	}
	sort.Strings(l.files)
	return l, nil
}

// CacheDir returns the directory the locator resolves against.
func (l *Locator) CacheDir() string { return l.cfg.CacheDir }

// Catalog returns the catalog in use.
func (l *Locator) Catalog() *Catalog { return l.cfg.Catalog }

// Files returns the cached sheet names in lexicographic order.
func (l *Locator) Files() []string { return append([]string(nil), l.files...) }

// Locate resolves one component.
func (l *Locator) Locate(c bom.Component) MatchResult {
	res := l.locate(c)
	log := l.cfg.Logger.With("row", c.RowIndex, "part_number", c.PartNumber, "status", string(res.Status))
	if res.Status == StatusNotFound {
		log.Warn("specsheet: no sheet", "part_name", c.PartName)
	} else {
		log.Info("specsheet: resolved", "path", res.ResolvedPath)
	}
	return res
}

// LocateAll resolves every component, preserving BOM order.
func (l *Locator) LocateAll(comps []bom.Component) []MatchResult {
	out := make([]MatchResult, len(comps))
	for i, c := range comps {
		out[i] = l.Locate(c)
	}
	return out
}

func (l *Locator) locate(c bom.Component) MatchResult {
	res := MatchResult{Component: c, Status: StatusNotFound}

	if f, ok := l.cfg.Catalog.ByPartNumber(c.PartNumber); ok {
		return l.exact(res, f, "part number")
	}
	if f, ok := l.cfg.Catalog.ByPartName(c.PartName); ok {
		return l.exact(res, f, "part name")
	}

	for _, id := range []string{c.PartNumber, c.PartName} {
		name := SpecFileName(id)
		if name == "" {
			continue
		}
		if _, ok := l.set[name]; ok {
			res.Status = StatusFoundPattern
			res.ResolvedPath = filepath.Join(l.cfg.CacheDir, name)
			res.Origin = OriginCache
			res.Message = "matched cache file " + name
			return res
		}
	}

	if name, n := l.fallback(c); n > 0 {
		res.Status = StatusFoundFallback
		res.ResolvedPath = filepath.Join(l.cfg.CacheDir, name)
		res.Origin = OriginCache
		res.Message = fmt.Sprintf("fuzzy match %s (%d candidate(s), first in name order)", name, n)
		return res
	}

	res.Message = "no specification sheet for " + c.Label()
	return res
}

func (l *Locator) exact(res MatchResult, file, key string) MatchResult {
	res.Status = StatusFoundExact
	res.ResolvedPath = filepath.Join(l.cfg.CacheDir, file)
	res.Origin = OriginCache
	res.Message = "catalog " + key + " match " + file
	if _, ok := l.set[file]; !ok {
		res.Message += " (file not present in cache)"
	}
	return res
}

// fallback returns the first matching file name and the total number of
// matching files.
func (l *Locator) fallback(c bom.Component) (string, int) {
	compact := CompactID(c.PartNumber)
	words := nameWords(c.PartName)
	if compact == "" && len(words) == 0 {
		return "", 0
	}

	var first string
	n := 0
	for _, f := range l.files {
		if matchesFile(fileStem(f), compact, words) {
			if n == 0 {
				first = f
			}
			n++
		}
	}
	return first, n
}

// fileStem lower-cases name and drops the cache suffix or .pdf extension.
func fileStem(name string) string {
	lower := strings.ToLower(name)
	if stem, ok := strings.CutSuffix(lower, SpecSuffix); ok {
		return stem
	}
	return strings.TrimSuffix(lower, ".pdf")
}

func matchesFile(lower, compact string, words []string) bool {
	if compact != "" && strings.Contains(lower, compact) {
		return true
	}
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
