package reader

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Sentinel errors returned by sandbox and reader operations.
var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrOutsideRoot  = errors.New("path escapes reader root")
	ErrNotFound     = errors.New("not found")
	ErrNotDirectory = errors.New("not a directory")
	ErrNotFile      = errors.New("not a regular file")
	ErrTooLarge     = errors.New("file exceeds size limit")
	ErrUnsupported  = errors.New("unsupported file type")
)

// Sandbox confines every filesystem access to a single root directory.
// All client-supplied paths are root-relative; Resolve is the only way
// to turn one into an absolute path, and it guarantees the result stays
// inside the root regardless of traversal sequences, absolute prefixes,
// alternate separators, or symlinks planted inside the tree.
type Sandbox struct {
	root           string
	followSymlinks bool
	showHidden     bool
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// FollowSymlinks permits symlinks whose resolved targets remain inside
// the root. Off by default: any symlink component is rejected.
func FollowSymlinks(follow bool) SandboxOption {
	return func(s *Sandbox) { s.followSymlinks = follow }
}

// ShowHidden makes dot-prefixed entries resolvable and listable.
func ShowHidden(show bool) SandboxOption {
	return func(s *Sandbox) { s.showHidden = show }
}

// NewSandbox creates a sandbox rooted at dir. The root itself is
// symlink-resolved once so later containment checks compare against
// its physical location.
func NewSandbox(dir string, opts ...SandboxOption) (*Sandbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	s := &Sandbox{root: resolved}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a root-relative path to an absolute path inside the root.
// The empty path resolves to the root itself. The returned path may not
// exist; callers that need an existing file use Stat or Open.
func (s *Sandbox) Resolve(rel string) (string, error) {
	clean, err := s.normalize(rel)
	if err != nil {
		return "", err
	}

	abs := filepath.Join(s.root, filepath.FromSlash(clean))
	if !s.contains(abs) {
		return "", ErrOutsideRoot
	}
	if err := s.verifyAncestry(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// Rel converts an absolute path under the root back to the root-relative
// slash form used on the wire. Paths outside the root yield "".
func (s *Sandbox) Rel(abs string) string {
	if !s.contains(abs) {
		return ""
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Stat resolves rel and stats the result.
func (s *Sandbox) Stat(rel string) (os.FileInfo, error) {
	abs, err := s.Resolve(rel)
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
	return info, nil
}

// Open resolves rel and opens the file for reading.
func (s *Sandbox) Open(rel string) (*os.File, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Hidden reports whether the entry name is hidden under the sandbox policy.
func (s *Sandbox) Hidden(name string) bool {
	return !s.showHidden && strings.HasPrefix(name, ".")
}

// normalize validates and canonicalizes a client path into a clean,
// slash-separated relative path with no "..", hidden, or empty segments.
func (s *Sandbox) normalize(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) || !utf8.ValidString(rel) {
		return "", ErrInvalidPath
	}

	// Clients may send either separator; canonicalize before splitting.
	slashed := strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.VolumeName(slashed) != "" {
		return "", ErrInvalidPath
	}

	segments := strings.Split(slashed, "/")
	kept := segments[:0]
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", ErrOutsideRoot
		}
		if s.Hidden(seg) {
			// Hidden entries are not addressable; report as absent
			// rather than revealing the policy distinction.
			return "", ErrNotFound
		}
		kept = append(kept, seg)
	}
	return path.Clean(strings.Join(kept, "/")), nil
}

// contains reports whether abs is the root or beneath it, with a
// separator-boundary check so /root never matches /rootx.
func (s *Sandbox) contains(abs string) bool {
	if abs == s.root {
		return true
	}
	return strings.HasPrefix(abs, s.root+string(filepath.Separator))
}

// verifyAncestry walks each existing component between the root and abs
// and enforces the symlink policy. Lexical checks alone cannot catch a
// symlink inside the tree pointing outside it.
func (s *Sandbox) verifyAncestry(abs string) error {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return ErrOutsideRoot
	}
	if rel == "." {
		return nil
	}

	cur := s.root
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, seg)
		info, err := os.Lstat(cur)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Remaining components don't exist yet; nothing to verify.
				return nil
			}
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		if !s.followSymlinks {
			return ErrInvalidPath
		}
		resolved, err := filepath.EvalSymlinks(cur)
		if err != nil {
			return ErrNotFound
		}
		if !s.contains(resolved) {
			return ErrOutsideRoot
		}
	}
	return nil
}
