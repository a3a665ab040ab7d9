package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

// MaxRecent caps the per-profile recent file list.
const MaxRecent = 10

// ErrNotFound is returned when a profile has no stored preferences.
var ErrNotFound = errors.New("profile not found")

// Preferences holds one profile's reader preferences: the JSON blob the
// frontend persists between sessions.
type Preferences struct {
	Theme        string   `json:"theme"`
	SortOrder    string   `json:"sort_order"`
	ShowHidden   bool     `json:"show_hidden"`
	ExpandedDirs []string `json:"expanded_dirs"`
	LastOpened   string   `json:"last_opened"`
	RecentFiles  []string `json:"recent_files"`
}

// Patch is a partial preferences update; nil fields are left untouched.
type Patch struct {
	Theme        *string   `json:"theme"`
	SortOrder    *string   `json:"sort_order"`
	ShowHidden   *bool     `json:"show_hidden"`
	ExpandedDirs *[]string `json:"expanded_dirs"`
	LastOpened   *string   `json:"last_opened"`
}

// Default returns the preferences a new profile starts with.
func Default() Preferences {
	return Preferences{
		Theme:        "system",
		SortOrder:    "name",
		ExpandedDirs: []string{},
		RecentFiles:  []string{},
	}
}

// Store persists preference profiles in a single JSON file. All access
// is guarded by an RWMutex; writes go through a temp file and rename so
// a crash never leaves a torn file behind.
type Store struct {
	path string

	mu       sync.RWMutex
	profiles map[string]Preferences
}

// NewStore opens (or initializes) the store at path. A missing file is
// an empty store; the parent directory is created on demand.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		profiles: make(map[string]Preferences),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to open preference store: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := sonic.Unmarshal(data, &s.profiles); err != nil {
		return nil, fmt.Errorf("corrupt preference store %s: %w", path, err)
	}
	return s, nil
}

// Get returns the profile's preferences, or defaults when absent.
func (s *Store) Get(profile string) Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[profile]; ok {
		return clone(p)
	}
	return Default()
}

// Put replaces the profile's preferences wholesale.
func (s *Store) Put(profile string, p Preferences) error {
	normalize(&p)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile] = p
	return s.save()
}

// Apply merges a partial update into the profile, creating it from
// defaults when absent.
func (s *Store) Apply(profile string, patch Patch) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profile]
	if !ok {
		p = Default()
	}
	if patch.Theme != nil {
		p.Theme = *patch.Theme
	}
	if patch.SortOrder != nil {
		p.SortOrder = *patch.SortOrder
	}
	if patch.ShowHidden != nil {
		p.ShowHidden = *patch.ShowHidden
	}
	if patch.ExpandedDirs != nil {
		p.ExpandedDirs = *patch.ExpandedDirs
	}
	if patch.LastOpened != nil {
		p.LastOpened = *patch.LastOpened
	}
	normalize(&p)

	s.profiles[profile] = p
	if err := s.save(); err != nil {
		return Preferences{}, err
	}
	return clone(p), nil
}

// Delete removes the profile. Deleting an absent profile is an error so
// the API can distinguish reset from no-op.
func (s *Store) Delete(profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile]; !ok {
		return ErrNotFound
	}
	delete(s.profiles, profile)
	return s.save()
}

// Touch records that the profile opened path: it becomes LastOpened and
// moves to the front of RecentFiles, deduplicated and capped.
func (s *Store) Touch(profile, path string) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profile]
	if !ok {
		p = Default()
	}
	p.LastOpened = path

	recent := make([]string, 0, MaxRecent)
	recent = append(recent, path)
	for _, r := range p.RecentFiles {
		if r == path {
			continue
		}
		recent = append(recent, r)
		if len(recent) == MaxRecent {
			break
		}
	}
	p.RecentFiles = recent

	s.profiles[profile] = p
	if err := s.save(); err != nil {
		return Preferences{}, err
	}
	return clone(p), nil
}

// save writes the whole store atomically. Callers hold the write lock.
func (s *Store) save() error {
	data, err := sonic.Marshal(s.profiles)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func normalize(p *Preferences) {
	if p.ExpandedDirs == nil {
		p.ExpandedDirs = []string{}
	}
	if p.RecentFiles == nil {
		p.RecentFiles = []string{}
	}
	if len(p.RecentFiles) > MaxRecent {
		p.RecentFiles = p.RecentFiles[:MaxRecent]
	}
}

func clone(p Preferences) Preferences {
	out := p
	out.ExpandedDirs = append([]string(nil), p.ExpandedDirs...)
	out.RecentFiles = append([]string(nil), p.RecentFiles...)
	normalize(&out)
	return out
}
