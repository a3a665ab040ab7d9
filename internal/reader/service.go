package reader

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/hearthapp/hearth/internal/infrastructure/logging"
	"github.com/hearthapp/hearth/internal/infrastructure/monitoring"
)

// markdownExts are the document types the reader renders.
var markdownExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".mdown":    true,
}

// Options configure a reader Service.
type Options struct {
	MaxFileSize int64
	CacheTTL    time.Duration
}

// Service implements the sandboxed reader: lazy tree listing, document
// loading, search, and archive export, all confined by a Sandbox.
type Service struct {
	sandbox *Sandbox
	opts    Options
	log     *logging.Logger
	metrics *monitoring.Metrics
	cache   *searchCache
}

// NewService creates a reader service over the given sandbox.
func NewService(sandbox *Sandbox, opts Options, log *logging.Logger, metrics *monitoring.Metrics) *Service {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 << 20
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Second
	}
	return &Service{
		sandbox: sandbox,
		opts:    opts,
		log:     log,
		metrics: metrics,
		cache:   newSearchCache(opts.CacheTTL),
	}
}

// Sandbox returns the sandbox backing this service.
func (s *Service) Sandbox() *Sandbox {
	return s.sandbox
}

// InvalidateCache drops all cached search results. Wired to the watcher
// so results never outlive a filesystem change by more than one event.
func (s *Service) InvalidateCache() {
	s.cache.invalidate()
}

// isMarkdown reports whether the file name is a renderable document.
func isMarkdown(name string) bool {
	return markdownExts[strings.ToLower(filepath.Ext(name))]
}
