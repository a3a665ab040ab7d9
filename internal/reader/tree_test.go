package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree lays out a documentation fixture:
//
//	README.md
//	guide.md
//	notes.txt        (not markdown, filtered from listings)
//	.drafts/wip.md   (hidden)
//	empty/           (directory with nothing visible)
//	sub/inner.md
//	sub/deep/leaf.md
func writeTree(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"README.md":        "# Readme\n",
		"guide.md":         "# Guide\n",
		"notes.txt":        "plain text\n",
		".drafts/wip.md":   "# WIP\n",
		"sub/inner.md":     "# Inner\n",
		"sub/deep/leaf.md": "# Leaf\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
}

func newTestService(t *testing.T, opts ...SandboxOption) *Service {
	t.Helper()
	sandbox, root := newTestSandbox(t, opts...)
	writeTree(t, root)
	return NewService(sandbox, Options{}, nil, nil)
}

func TestListRootLevel(t *testing.T) {
	svc := newTestService(t)

	entries, err := svc.List(context.Background(), "")
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	// Directories first, then files, both case-insensitively sorted.
	// notes.txt and .drafts are filtered out.
	assert.Equal(t, []string{"empty", "sub", "README.md", "guide.md"}, names)
}

func TestListEntryFields(t *testing.T) {
	svc := newTestService(t)

	entries, err := svc.List(context.Background(), "")
	require.NoError(t, err)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	sub := byName["sub"]
	assert.True(t, sub.IsDir)
	assert.True(t, sub.HasChildren)
	assert.Equal(t, "sub", sub.Path)

	empty := byName["empty"]
	assert.True(t, empty.IsDir)
	assert.False(t, empty.HasChildren)

	readme := byName["README.md"]
	assert.False(t, readme.IsDir)
	assert.Equal(t, ".md", readme.Extension)
	assert.Equal(t, "README.md", readme.Path)
	assert.Greater(t, readme.Size, int64(0))
}

func TestListSubdirectory(t *testing.T) {
	svc := newTestService(t)

	entries, err := svc.List(context.Background(), "sub")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "deep", entries[0].Name)
	assert.Equal(t, "sub/deep", entries[0].Path)
	assert.Equal(t, "sub/inner.md", entries[1].Path)
}

func TestListErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.List(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.List(ctx, "README.md")
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = svc.List(ctx, "../elsewhere")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestListShowHidden(t *testing.T) {
	svc := newTestService(t, ShowHidden(true))

	entries, err := svc.List(context.Background(), ".drafts")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".drafts/wip.md", entries[0].Path)
}

func TestWalkDepthBound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	shallow, err := svc.Walk(ctx, "", 1)
	require.NoError(t, err)
	paths := entryPaths(shallow)
	assert.Contains(t, paths, "sub")
	assert.NotContains(t, paths, "sub/inner.md")

	full, err := svc.Walk(ctx, "", 0)
	require.NoError(t, err)
	paths = entryPaths(full)
	assert.Contains(t, paths, "sub/inner.md")
	assert.Contains(t, paths, "sub/deep/leaf.md")
	assert.NotContains(t, paths, "notes.txt")
	assert.NotContains(t, paths, ".drafts/wip.md")
}

func TestWalkSubtree(t *testing.T) {
	svc := newTestService(t)

	entries, err := svc.Walk(context.Background(), "sub", 0)
	require.NoError(t, err)
	paths := entryPaths(entries)
	assert.Equal(t, []string{"sub/deep", "sub/deep/leaf.md", "sub/inner.md"}, paths)
}

func TestWalkCancellation(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Walk(ctx, "", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func entryPaths(entries []Entry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths
}
