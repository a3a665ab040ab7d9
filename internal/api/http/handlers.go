package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hearthapp/hearth/internal/infrastructure/logging"
	"github.com/hearthapp/hearth/internal/infrastructure/monitoring"
	"github.com/hearthapp/hearth/internal/prefs"
	"github.com/hearthapp/hearth/internal/reader"
)

// Version reported by the info and health endpoints.
const Version = "0.3.0"

// Handlers contains all HTTP handlers for the reader API.
type Handlers struct {
	reader  *reader.Service
	prefs   *prefs.Store
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandlers creates the handler set.
func NewHandlers(svc *reader.Service, store *prefs.Store, log *logging.Logger, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		reader:  svc,
		prefs:   store,
		log:     log,
		metrics: metrics,
	}
}

// Root reports basic service info.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "hearth-reader",
		"version": Version,
	})
}

// Health reports service health and uptime.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"version":        Version,
		"uptime_seconds": int64(h.metrics.Uptime().Seconds()),
	})
}

// Tree lists one directory level, or a bounded subtree when depth > 1.
func (h *Handlers) Tree(c *gin.Context) {
	rel := c.Query("path")
	depth := 1
	if d := c.Query("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 || n > 16 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be between 0 and 16"})
			return
		}
		depth = n
	}

	var (
		entries []reader.Entry
		err     error
	)
	if depth == 1 {
		entries, err = h.reader.List(c.Request.Context(), rel)
	} else {
		entries, err = h.reader.Walk(c.Request.Context(), rel, depth)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":    rel,
		"entries": entries,
		"count":   len(entries),
	})
}

// File returns a rendered markdown document.
func (h *Handlers) File(c *gin.Context) {
	rel := c.Query("path")
	if rel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path parameter required"})
		return
	}

	doc, err := h.reader.Load(c.Request.Context(), rel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// RawFile serves raw file bytes with the detected content type, used for
// images and other assets referenced by documents.
func (h *Handlers) RawFile(c *gin.Context) {
	rel := c.Query("path")
	if rel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path parameter required"})
		return
	}

	asset, err := h.reader.Raw(c.Request.Context(), rel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, asset.MIME, asset.Data)
}

// Search runs a name or content search.
func (h *Handlers) Search(c *gin.Context) {
	q := c.Query("q")
	mode := c.DefaultQuery("mode", "name")

	switch mode {
	case "name":
		entries, err := h.reader.SearchNames(c.Request.Context(), q, c.Query("glob"))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"query": q, "mode": mode, "results": entries, "count": len(entries)})
	case "content":
		results, err := h.reader.SearchContent(c.Request.Context(), q)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"query": q, "mode": mode, "results": results, "count": len(results)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be name or content"})
	}
}

// Archive streams a subtree as a downloadable archive.
func (h *Handlers) Archive(c *gin.Context) {
	rel := c.Query("path")
	format := c.DefaultQuery("format", "zip")

	name := "docs"
	if rel != "" {
		name = pathBase(rel)
	}

	switch format {
	case "zip":
		c.Header("Content-Type", "application/zip")
		c.Header("Content-Disposition", `attachment; filename="`+name+`.zip"`)
		if err := h.reader.WriteZip(c.Request.Context(), rel, c.Writer); err != nil {
			h.archiveFail(c, err)
		}
	case "tar.gz":
		c.Header("Content-Type", "application/gzip")
		c.Header("Content-Disposition", `attachment; filename="`+name+`.tar.gz"`)
		if err := h.reader.WriteTarGz(c.Request.Context(), rel, c.Writer); err != nil {
			h.archiveFail(c, err)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be zip or tar.gz"})
	}
}

// GetPrefs returns a profile's preferences (defaults when unset).
func (h *Handlers) GetPrefs(c *gin.Context) {
	profile, ok := h.profileID(c)
	if !ok {
		return
	}
	h.metrics.PrefsReads.Inc()
	c.JSON(http.StatusOK, gin.H{"profile": profile, "preferences": h.prefs.Get(profile)})
}

// PutPrefs replaces a profile's preferences.
func (h *Handlers) PutPrefs(c *gin.Context) {
	profile, ok := h.profileID(c)
	if !ok {
		return
	}

	var p prefs.Preferences
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.prefs.Put(profile, p); err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.PrefsWrites.Inc()
	c.JSON(http.StatusOK, gin.H{"profile": profile, "preferences": h.prefs.Get(profile)})
}

// PatchPrefs merges a partial update into a profile's preferences.
func (h *Handlers) PatchPrefs(c *gin.Context) {
	profile, ok := h.profileID(c)
	if !ok {
		return
	}

	var patch prefs.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.prefs.Apply(profile, patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.PrefsWrites.Inc()
	c.JSON(http.StatusOK, gin.H{"profile": profile, "preferences": updated})
}

// DeletePrefs resets a profile back to defaults.
func (h *Handlers) DeletePrefs(c *gin.Context) {
	profile, ok := h.profileID(c)
	if !ok {
		return
	}
	if err := h.prefs.Delete(profile); err != nil {
		if errors.Is(err, prefs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		h.fail(c, err)
		return
	}
	h.metrics.PrefsWrites.Inc()
	c.JSON(http.StatusOK, gin.H{"profile": profile, "deleted": true})
}

// TouchRecent records a document open for the profile. The path is
// validated through the sandbox so bogus entries never enter the
// recent list.
func (h *Handlers) TouchRecent(c *gin.Context) {
	profile, ok := h.profileID(c)
	if !ok {
		return
	}

	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.reader.Sandbox().Stat(req.Path); err != nil {
		h.fail(c, err)
		return
	}

	updated, err := h.prefs.Touch(profile, req.Path)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.PrefsWrites.Inc()
	c.JSON(http.StatusOK, gin.H{"profile": profile, "preferences": updated})
}

// profileID validates the :profile parameter as a UUID.
func (h *Handlers) profileID(c *gin.Context) (string, bool) {
	id := c.Param("profile")
	parsed, err := uuid.Parse(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profile must be a UUID"})
		return "", false
	}
	return parsed.String(), true
}

// fail maps reader errors to status codes. Sandbox rejections are
// reported without echoing any resolved path, so the root location
// never leaks.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reader.ErrInvalidPath), errors.Is(err, reader.ErrOutsideRoot):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
	case errors.Is(err, reader.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, reader.ErrNotDirectory), errors.Is(err, reader.ErrNotFile), errors.Is(err, reader.ErrUnsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, reader.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds size limit"})
	default:
		h.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// archiveFail handles errors after archive streaming may have begun,
// when headers can no longer be rewritten.
func (h *Handlers) archiveFail(c *gin.Context, err error) {
	if c.Writer.Written() {
		h.log.Warn("archive stream aborted", zap.Error(err))
		c.Abort()
		return
	}
	h.fail(c, err)
}

func pathBase(rel string) string {
	base := rel
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	if base == "" {
		return "docs"
	}
	return base
}
