package reader

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchNamesSubstring(t *testing.T) {
	svc := newTestService(t)

	results, err := svc.SearchNames(context.Background(), "ReAdMe", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "README.md", results[0].Path)
}

func TestSearchNamesGlob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	results, err := svc.SearchNames(ctx, "", "sub/**")
	require.NoError(t, err)
	paths := entryPaths(results)
	assert.Contains(t, paths, "sub/inner.md")
	assert.Contains(t, paths, "sub/deep")
	assert.NotContains(t, paths, "README.md")

	_, err = svc.SearchNames(ctx, "x", "[bad")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestSearchNamesSkipsHiddenAndNonMarkdown(t *testing.T) {
	svc := newTestService(t)

	results, err := svc.SearchNames(context.Background(), "wip", "")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = svc.SearchNames(context.Background(), "notes", "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchNamesEmptyQuery(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SearchNames(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestSearchContent(t *testing.T) {
	svc := newTestService(t)
	writeDoc(t, svc, "recipes.md", "# Recipes\n\nPancakes need flour.\nWaffles need flour too.\n")

	results, err := svc.SearchContent(context.Background(), "FLOUR")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "recipes.md", results[0].Path)
	require.Len(t, results[0].Matches, 2)
	assert.Equal(t, 3, results[0].Matches[0].Line)
	assert.Equal(t, "Pancakes need flour.", results[0].Matches[0].Text)
	assert.Equal(t, 4, results[0].Matches[1].Line)
}

func TestSearchContentNoMatches(t *testing.T) {
	svc := newTestService(t)

	results, err := svc.SearchContent(context.Background(), "zyzzyva")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchCacheServesStaleUntilInvalidated(t *testing.T) {
	sandbox, root := newTestSandbox(t)
	writeTree(t, root)
	svc := NewService(sandbox, Options{CacheTTL: time.Hour}, nil, nil)
	ctx := context.Background()

	first, err := svc.SearchNames(ctx, "guide", "")
	require.NoError(t, err)
	require.Len(t, first, 1)

	writeDoc(t, svc, "guide-two.md", "# Another\n")

	// Within the TTL the cached result is returned unchanged.
	cached, err := svc.SearchNames(ctx, "guide", "")
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	// The watcher hook drops the cache; the new file appears.
	svc.InvalidateCache()
	fresh, err := svc.SearchNames(ctx, "guide", "")
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestConcurrentIdenticalQueriesCollapse(t *testing.T) {
	svc := newTestService(t)

	// Hold the in-flight query open until every caller has piled up
	// behind it, then count how many scans actually ran.
	var scans atomic.Int32
	gate := make(chan struct{})
	scan := func() (any, error) {
		scans.Add(1)
		<-gate
		return []ContentResult{{Path: "recipes.md"}}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.cached(context.Background(), "content\x00flour", "content", scan)
			assert.NoError(t, err)
			assert.Len(t, v.([]ContentResult), 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), scans.Load())
}

func TestConcurrentSearchContentAgrees(t *testing.T) {
	svc := newTestService(t)
	writeDoc(t, svc, "recipes.md", "# Recipes\n\nPancakes need flour.\n")

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := svc.SearchContent(context.Background(), "flour")
			assert.NoError(t, err)
			assert.Len(t, results, 1)
		}()
	}
	wg.Wait()
}

func TestSnippetKeepsRuneBoundary(t *testing.T) {
	svc := newTestService(t)
	// The truncation limit lands in the middle of the two-byte rune.
	writeDoc(t, svc, "long.md", "# Long\n\n"+strings.Repeat("a", snippetLimit-1)+"émore\n")

	results, err := svc.SearchContent(context.Background(), "aaa")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Matches, 1)

	text := results[0].Matches[0].Text
	assert.True(t, utf8.ValidString(text))
	assert.Equal(t, snippetLimit-1, len(text))
}

func TestSearchCancellation(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.SearchContent(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
