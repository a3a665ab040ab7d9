package reader

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// Entry is one node of the reader tree. Path is root-relative with
// forward slashes, the form clients echo back in later requests.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IsDir       bool   `json:"is_dir"`
	Modified    int64  `json:"modified"`
	Extension   string `json:"extension,omitempty"`
	HasChildren bool   `json:"has_children,omitempty"`
}

// List returns a single directory level: the lazy-load unit the tree UI
// expands one directory at a time. Directories sort before files, each
// group case-insensitively by name. Files outside the markdown set are
// omitted; directories always appear.
func (s *Service) List(ctx context.Context, rel string) ([]Entry, error) {
	abs, err := s.sandbox.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := d.Name()
		if s.sandbox.Hidden(name) {
			continue
		}
		if !d.IsDir() && !isMarkdown(name) {
			continue
		}

		fi, err := d.Info()
		if err != nil {
			continue
		}
		e := Entry{
			Name:     name,
			Path:     joinRel(rel, name),
			IsDir:    d.IsDir(),
			Modified: fi.ModTime().Unix(),
		}
		if d.IsDir() {
			e.HasChildren = s.hasVisibleChildren(filepath.Join(abs, name))
		} else {
			e.Size = fi.Size()
			e.Extension = strings.ToLower(filepath.Ext(name))
		}
		entries = append(entries, e)
	}

	sortEntries(entries)
	if s.metrics != nil {
		s.metrics.TreeLists.Inc()
	}
	return entries, nil
}

// Walk returns entries beneath rel up to maxDepth levels (0 means
// unlimited), used for prefetch and archive export. The result is a
// flat list sorted by path.
func (s *Service) Walk(ctx context.Context, rel string, maxDepth int) ([]Entry, error) {
	abs, err := s.sandbox.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	var (
		mu      sync.Mutex
		entries []Entry
	)
	conf := fastwalk.Config{Follow: s.sandbox.followSymlinks}

	err = fastwalk.Walk(&conf, abs, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil || p == abs {
			return nil
		}

		name := d.Name()
		if s.sandbox.Hidden(name) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		relPath, rerr := filepath.Rel(abs, p)
		if rerr != nil {
			return nil
		}
		depth := strings.Count(relPath, string(filepath.Separator)) + 1
		if maxDepth > 0 && depth > maxDepth {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !isMarkdown(name) {
			return nil
		}

		fi, ferr := d.Info()
		if ferr != nil {
			return nil
		}
		e := Entry{
			Name:     name,
			Path:     joinRel(rel, filepath.ToSlash(relPath)),
			IsDir:    d.IsDir(),
			Modified: fi.ModTime().Unix(),
		}
		if !d.IsDir() {
			e.Size = fi.Size()
			e.Extension = strings.ToLower(filepath.Ext(name))
		}

		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// hasVisibleChildren peeks one level into dir without a full listing.
func (s *Service) hasVisibleChildren(dir string) bool {
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()

	for {
		batch, err := f.ReadDir(16)
		for _, d := range batch {
			if s.sandbox.Hidden(d.Name()) {
				continue
			}
			if d.IsDir() || isMarkdown(d.Name()) {
				return true
			}
		}
		if err != nil {
			return false
		}
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

func joinRel(base, name string) string {
	if base == "" {
		return name
	}
	return path.Join(base, name)
}
