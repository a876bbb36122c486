package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const patternExt = ".funscript"

// PatternSet is an immutable snapshot of the patterns of one category.
type PatternSet struct {
	Category string
	Patterns []*Pattern
}

// Len returns the number of patterns in the set (nil-safe).
func (s *PatternSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Patterns)
}

// PatternSource is what the Stream Scheduler draws patterns from.
type PatternSource interface {
	SelectNext(history []string, rng *rand.Rand) (*Pattern, bool)
}

// PatternStore holds the active pattern set and the climax pool.
//
// Category folders live directly under the store root, each holding *.funscript files.
// The active set is replaced wholesale with a single pointer swap, so a selection
// running concurrently with a reload sees either the old or the new set, never a mix.
type PatternStore struct {
	fsys   fs.FS
	logger *slog.Logger

	current atomic.Pointer[PatternSet]
	climax  atomic.Pointer[PatternSet]

	catMu      sync.Mutex
	categories []string
}

// NewPatternStore creates an empty store reading from fsys.
func NewPatternStore(fsys fs.FS, logger *slog.Logger) *PatternStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternStore{fsys: fsys, logger: logger}
}

// LoadSet reads and parses every pattern of category without touching the active set.
// Files that fail to parse are skipped with a warning; the set is valid as long as
// at least one pattern survives.
func (s *PatternStore) LoadSet(category string) (*PatternSet, error) {
	if category == "" || strings.ContainsAny(category, `/\`) || category == "." || category == ".." {
		return nil, fmt.Errorf("invalid category name %q", category)
	}

	entries, err := fs.ReadDir(s.fsys, category)
	if err != nil {
		return nil, fmt.Errorf("read category %q: %w", category, err)
	}

	set := &PatternSet{Category: category}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), patternExt) {
			continue
		}
		data, err := fs.ReadFile(s.fsys, path.Join(category, e.Name()))
		if err != nil {
			s.logger.Warn("pattern read failed", "category", category, "file", e.Name(), "error", err)
			continue
		}
		id := category + "_" + strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		p, err := ParsePattern(id, category, data)
		if err != nil {
			s.logger.Warn("pattern skipped", "category", category, "file", e.Name(), "error", err)
			continue
		}
		set.Patterns = append(set.Patterns, p)
	}

	if len(set.Patterns) == 0 {
		return nil, fmt.Errorf("category %q: %w", category, ErrNoPatterns)
	}
	return set, nil
}

// Load replaces the active set with the patterns of category.
// On failure the previous set stays active.
func (s *PatternStore) Load(category string) error {
	set, err := s.LoadSet(category)
	if err != nil {
		return err
	}
	s.Swap(set)
	return nil
}

// Swap installs set as the active pattern set.
func (s *PatternStore) Swap(set *PatternSet) {
	s.current.Store(set)
	s.logger.Info("patterns loaded", "category", set.Category, "count", set.Len())
}

// Current returns the active set, or nil before the first successful load.
func (s *PatternStore) Current() *PatternSet {
	return s.current.Load()
}

// LoadClimax loads the pool used for climax injection.
func (s *PatternStore) LoadClimax(category string) error {
	set, err := s.LoadSet(category)
	if err != nil {
		return err
	}
	s.climax.Store(set)
	return nil
}

// SelectNext picks a random pattern not among history. When fewer than
// minCandidatePool candidates remain, the full pool is used instead.
func (s *PatternStore) SelectNext(history []string, rng *rand.Rand) (*Pattern, bool) {
	return selectFrom(s.current.Load(), history, rng)
}

// ClimaxPattern picks a random pattern from the climax pool.
func (s *PatternStore) ClimaxPattern(rng *rand.Rand) (*Pattern, bool) {
	return selectFrom(s.climax.Load(), nil, rng)
}

func selectFrom(set *PatternSet, history []string, rng *rand.Rand) (*Pattern, bool) {
	if set.Len() == 0 {
		return nil, false
	}

	recent := make(map[string]struct{}, len(history))
	for _, id := range history {
		recent[id] = struct{}{}
	}

	candidates := make([]*Pattern, 0, len(set.Patterns))
	for _, p := range set.Patterns {
		if _, seen := recent[p.ID]; !seen {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) < minCandidatePool {
		candidates = set.Patterns
	}

	return candidates[rng.IntN(len(candidates))], true
}

// Categories lists the category folders that contain at least one pattern file.
// The result is cached; RefreshCategories rescans the root.
func (s *PatternStore) Categories() ([]string, error) {
	s.catMu.Lock()
	cached := s.categories
	s.catMu.Unlock()
	if cached != nil {
		return append([]string(nil), cached...), nil
	}
	return s.RefreshCategories()
}

// RefreshCategories rescans the store root for category folders.
func (s *PatternStore) RefreshCategories() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read pattern root: %w", err)
	}

	cats := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := fs.ReadDir(s.fsys, e.Name())
		if err != nil {
			s.logger.Warn("category scan failed", "category", e.Name(), "error", err)
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(strings.ToLower(f.Name()), patternExt) {
				cats = append(cats, e.Name())
				break
			}
		}
	}
	sort.Strings(cats)

	s.catMu.Lock()
	s.categories = cats
	s.catMu.Unlock()

	return append([]string(nil), cats...), nil
}
