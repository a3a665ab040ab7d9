package reader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	maxNameResults    = 200
	maxContentFiles   = 100
	maxMatchesPerFile = 20
	snippetLimit      = 200
)

// LineMatch is one matching line within a file.
type LineMatch struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// ContentResult groups the matches found in a single file.
type ContentResult struct {
	Path    string      `json:"path"`
	Matches []LineMatch `json:"matches"`
}

// SearchNames finds entries whose base name contains q
// (case-insensitive). An optional doublestar glob narrows matches by
// relative path. Results are capped and served through the TTL cache.
func (s *Service) SearchNames(ctx context.Context, q, glob string) ([]Entry, error) {
	q = strings.TrimSpace(q)
	if q == "" && glob == "" {
		return nil, ErrInvalidPath
	}
	if glob != "" && !doublestar.ValidatePattern(glob) {
		return nil, fmt.Errorf("%w: bad glob pattern", ErrInvalidPath)
	}

	key := "name\x00" + strings.ToLower(q) + "\x00" + glob
	v, err := s.cached(ctx, key, "name", func() (any, error) {
		return s.searchNames(ctx, strings.ToLower(q), glob)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

// SearchContent scans markdown files for lines containing q
// (case-insensitive), in parallel, with per-file and global caps.
func (s *Service) SearchContent(ctx context.Context, q string) ([]ContentResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrInvalidPath
	}

	key := "content\x00" + strings.ToLower(q)
	v, err := s.cached(ctx, key, "content", func() (any, error) {
		return s.searchContent(ctx, strings.ToLower(q))
	})
	if err != nil {
		return nil, err
	}
	return v.([]ContentResult), nil
}

func (s *Service) searchNames(ctx context.Context, q, glob string) ([]Entry, error) {
	root := s.sandbox.Root()
	var (
		mu      sync.Mutex
		matches []Entry
	)
	conf := fastwalk.Config{Follow: s.sandbox.followSymlinks}

	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || p == root {
			return nil
		}

		name := d.Name()
		if s.sandbox.Hidden(name) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !isMarkdown(name) {
			return nil
		}

		rel := s.sandbox.Rel(p)
		if q != "" && !strings.Contains(strings.ToLower(name), q) {
			return nil
		}
		if glob != "" {
			if ok, _ := doublestar.Match(glob, rel); !ok {
				return nil
			}
		}

		fi, ferr := d.Info()
		if ferr != nil {
			return nil
		}
		e := Entry{
			Name:     name,
			Path:     rel,
			IsDir:    d.IsDir(),
			Modified: fi.ModTime().Unix(),
		}
		if !d.IsDir() {
			e.Size = fi.Size()
			e.Extension = strings.ToLower(filepath.Ext(name))
		}

		mu.Lock()
		defer mu.Unlock()
		if len(matches) >= maxNameResults {
			return filepath.SkipAll
		}
		matches = append(matches, e)
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return nil, err
	}

	sortEntries(matches)
	return matches, nil
}

func (s *Service) searchContent(ctx context.Context, q string) ([]ContentResult, error) {
	files, err := s.markdownFiles(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []ContentResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			mu.Lock()
			full := len(results) >= maxContentFiles
			mu.Unlock()
			if full {
				return nil
			}

			matches, err := s.scanFile(rel, q)
			if err != nil || len(matches) == 0 {
				return nil
			}

			mu.Lock()
			if len(results) < maxContentFiles {
				results = append(results, ContentResult{Path: rel, Matches: matches})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortContentResults(results)
	return results, nil
}

// scanFile collects case-insensitive line matches from one file.
func (s *Service) scanFile(rel, q string) ([]LineMatch, error) {
	f, err := s.sandbox.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []LineMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !strings.Contains(strings.ToLower(text), q) {
			continue
		}
		matches = append(matches, LineMatch{Line: line, Text: snippet(text)})
		if len(matches) >= maxMatchesPerFile {
			break
		}
	}
	return matches, scanner.Err()
}

// markdownFiles lists every visible markdown file under the root.
func (s *Service) markdownFiles(ctx context.Context) ([]string, error) {
	root := s.sandbox.Root()
	var (
		mu    sync.Mutex
		files []string
	)
	conf := fastwalk.Config{Follow: s.sandbox.followSymlinks}

	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}
		if s.sandbox.Hidden(d.Name()) && p != root {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isMarkdown(d.Name()) {
			return nil
		}
		rel := s.sandbox.Rel(p)
		mu.Lock()
		files = append(files, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= snippetLimit {
		return text
	}
	// Back the cut up to a rune boundary so the snippet stays valid UTF-8.
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func sortContentResults(results []ContentResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Path < results[j-1].Path; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// cached serves fn through the TTL cache with singleflight collapsing
// concurrent identical queries: the server-side analogue of debounce.
func (s *Service) cached(ctx context.Context, key, mode string, fn func() (any, error)) (any, error) {
	if v, ok := s.cache.get(key); ok {
		if s.metrics != nil {
			s.metrics.SearchCacheHits.Inc()
		}
		return v, nil
	}
	if s.metrics != nil {
		s.metrics.SearchCacheMiss.Inc()
	}

	start := time.Now()
	v, err, _ := s.cache.group.Do(key, func() (any, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		s.cache.put(key, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSearch(mode, time.Since(start))
	}
	return v, ctx.Err()
}

// searchCache is a minimal TTL cache for search results. Entries are
// invalidated wholesale on any filesystem change.
type searchCache struct {
	ttl   time.Duration
	mu    sync.Mutex
	items map[string]cacheItem
	group singleflight.Group
}

type cacheItem struct {
	value   any
	expires time.Time
}

func newSearchCache(ttl time.Duration) *searchCache {
	return &searchCache{
		ttl:   ttl,
		items: make(map[string]cacheItem),
	}
}

func (c *searchCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || time.Now().After(item.expires) {
		delete(c.items, key)
		return nil, false
	}
	return item.value, true
}

func (c *searchCache) put(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{value: v, expires: time.Now().Add(c.ttl)}
}

func (c *searchCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]cacheItem)
}
