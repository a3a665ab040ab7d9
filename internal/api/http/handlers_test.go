package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthapp/hearth/internal/infrastructure/monitoring"
	"github.com/hearthapp/hearth/internal/prefs"
	"github.com/hearthapp/hearth/internal/reader"
)

// Prometheus collectors register against the default registry, so the
// whole test binary shares one Metrics instance.
var testMetrics = monitoring.New()

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"README.md":    "# Household Docs\n\nWelcome home.\n",
		"guide.md":     "---\ntitle: House Guide\n---\n\n# Guide\n\nThe boiler hums.\n",
		"notes.txt":    "plain text\n",
		"sub/inner.md": "# Inner\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	sandbox, err := reader.NewSandbox(root)
	require.NoError(t, err)
	svc := reader.NewService(sandbox, reader.Options{}, nil, testMetrics)

	store, err := prefs.NewStore(filepath.Join(t.TempDir(), "prefs.json"))
	require.NoError(t, err)

	h := NewHandlers(svc, store, nil, testMetrics)

	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/reader/tree", h.Tree)
	router.GET("/reader/file", h.File)
	router.GET("/reader/raw", h.RawFile)
	router.GET("/reader/search", h.Search)
	router.GET("/reader/archive", h.Archive)
	router.GET("/prefs/:profile", h.GetPrefs)
	router.PUT("/prefs/:profile", h.PutPrefs)
	router.PATCH("/prefs/:profile", h.PatchPrefs)
	router.DELETE("/prefs/:profile", h.DeletePrefs)
	router.POST("/prefs/:profile/recent", h.TouchRecent)
	return router
}

func do(router *gin.Engine, method, target string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hearth-reader", decode(t, w)["service"])

	w = do(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestTreeEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/reader/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	// sub/, README.md, guide.md; notes.txt is filtered.
	assert.Equal(t, float64(3), body["count"])

	w = do(router, http.MethodGet, "/reader/tree?path=sub", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = do(router, http.MethodGet, "/reader/tree?path=sub&depth=0", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/reader/tree?depth=99", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTreeRejectsTraversal(t *testing.T) {
	router := newTestRouter(t)

	for _, target := range []string{
		"/reader/tree?path=..%2F..%2Fetc",
		"/reader/file?path=..%2Fsecret.md",
		"/reader/raw?path=%2Fetc%2Fpasswd",
	} {
		w := do(router, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "invalid path", decode(t, w)["error"], target)
	}
}

func TestFileEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/reader/file?path=guide.md", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "House Guide", body["title"])
	assert.Contains(t, body["html"], "The boiler hums.")

	w = do(router, http.MethodGet, "/reader/file?path=missing.md", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/reader/file?path=notes.txt", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/reader/file", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRawEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/reader/raw?path=notes.txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "plain text\n", w.Body.String())
}

func TestSearchEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/reader/search?q=guide", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = do(router, http.MethodGet, "/reader/search?q=boiler&mode=content", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = do(router, http.MethodGet, "/reader/search?q=x&mode=regex", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/reader/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArchiveEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/reader/archive?path=sub", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="sub.zip"`)

	w = do(router, http.MethodGet, "/reader/archive?format=tar.gz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	w = do(router, http.MethodGet, "/reader/archive?format=rar", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrefsLifecycle(t *testing.T) {
	router := newTestRouter(t)
	profile := uuid.NewString()

	// Fresh profile reads as defaults.
	w := do(router, http.MethodGet, "/prefs/"+profile, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)["preferences"].(map[string]any)
	assert.Equal(t, "system", got["theme"])

	// Replace wholesale.
	w = do(router, http.MethodPut, "/prefs/"+profile,
		[]byte(`{"theme":"dark","sort_order":"modified"}`))
	require.Equal(t, http.StatusOK, w.Code)

	// Merge a patch; untouched fields survive.
	w = do(router, http.MethodPatch, "/prefs/"+profile, []byte(`{"show_hidden":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	got = decode(t, w)["preferences"].(map[string]any)
	assert.Equal(t, "dark", got["theme"])
	assert.Equal(t, true, got["show_hidden"])

	// Reset.
	w = do(router, http.MethodDelete, "/prefs/"+profile, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(router, http.MethodDelete, "/prefs/"+profile, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrefsRejectsNonUUIDProfile(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, http.MethodGet, "/prefs/alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTouchRecent(t *testing.T) {
	router := newTestRouter(t)
	profile := uuid.NewString()

	w := do(router, http.MethodPost, "/prefs/"+profile+"/recent",
		[]byte(`{"path":"guide.md"}`))
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)["preferences"].(map[string]any)
	assert.Equal(t, "guide.md", got["last_opened"])

	// Paths that fail sandbox validation never enter the recent list.
	w = do(router, http.MethodPost, "/prefs/"+profile+"/recent",
		[]byte(`{"path":"../outside.md"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/prefs/"+profile+"/recent",
		[]byte(`{"path":"missing.md"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/prefs/"+profile+"/recent", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
