package reader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-yaml"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pelletier/go-toml/v2"
	"github.com/saintfish/chardet"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html/charset"
)

// Document is a rendered markdown file.
type Document struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	HTML        string         `json:"html"`
	FrontMatter map[string]any `json:"front_matter,omitempty"`
	TOC         []Heading      `json:"toc,omitempty"`
	Size        int64          `json:"size"`
	Modified    int64          `json:"modified"`
	Charset     string         `json:"charset"`
}

// Heading is one table-of-contents entry derived from rendered HTML.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	ID    string `json:"id,omitempty"`
}

// Asset is a raw sandboxed file, served for images and other resources
// referenced by documents.
type Asset struct {
	Path     string `json:"path"`
	MIME     string `json:"mime"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
	Modified int64  `json:"modified"`
}

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		// Raw HTML passes through the renderer; bluemonday is the
		// single sanitization point.
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)
	sanitizer = newSanitizer()
)

func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	// Heading anchors are needed for the TOC; UGC strips id attributes.
	p.AllowAttrs("id").OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	return p
}

// Load reads, decodes, and renders a markdown document.
func (s *Service) Load(ctx context.Context, rel string) (*Document, error) {
	if !isMarkdown(rel) {
		s.countDocumentError("unsupported")
		return nil, ErrUnsupported
	}
	raw, info, err := s.readCapped(rel)
	if err != nil {
		s.countDocumentError(errReason(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, detected, err := decodeText(raw)
	if err != nil {
		s.countDocumentError("binary")
		return nil, ErrUnsupported
	}

	front, body := splitFrontMatter(text)

	var buf bytes.Buffer
	if err := markdown.Convert(body, &buf); err != nil {
		s.countDocumentError("render")
		return nil, fmt.Errorf("render failed: %w", err)
	}
	safe := sanitizer.SanitizeBytes(buf.Bytes())

	toc, err := extractTOC(safe)
	if err != nil {
		toc = nil
	}

	doc := &Document{
		Path:        rel,
		Title:       documentTitle(front, toc, rel),
		HTML:        string(safe),
		FrontMatter: front,
		TOC:         toc,
		Size:        info.Size(),
		Modified:    info.ModTime().Unix(),
		Charset:     detected,
	}
	if s.metrics != nil {
		s.metrics.DocumentReads.Inc()
	}
	return doc, nil
}

// Raw returns the bytes of any sandboxed file with its detected MIME type.
func (s *Service) Raw(ctx context.Context, rel string) (*Asset, error) {
	raw, info, err := s.readCapped(rel)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Asset{
		Path:     rel,
		MIME:     mimetype.Detect(raw).String(),
		Size:     info.Size(),
		Data:     raw,
		Modified: info.ModTime().Unix(),
	}, nil
}

// readCapped reads a regular file through the sandbox, enforcing the
// configured size cap before touching file contents.
func (s *Service) readCapped(rel string) ([]byte, os.FileInfo, error) {
	info, err := s.sandbox.Stat(rel)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, ErrNotFile
	}
	if !info.Mode().IsRegular() {
		return nil, nil, ErrNotFile
	}
	if info.Size() > s.opts.MaxFileSize {
		return nil, nil, ErrTooLarge
	}

	f, err := s.sandbox.Open(rel)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	// Cap the reader too: the file may have grown since Stat.
	raw, err := io.ReadAll(io.LimitReader(f, s.opts.MaxFileSize+1))
	if err != nil {
		return nil, nil, err
	}
	if int64(len(raw)) > s.opts.MaxFileSize {
		return nil, nil, ErrTooLarge
	}
	return raw, info, nil
}

// decodeText detects the charset and transcodes to UTF-8. Content that
// looks binary (NUL bytes) is rejected.
func decodeText(raw []byte) ([]byte, string, error) {
	if bytes.IndexByte(raw, 0) >= 0 {
		return nil, "", ErrUnsupported
	}

	if utf8.Valid(raw) {
		return raw, "utf-8", nil
	}

	detected := "utf-8"
	if result, err := chardet.NewTextDetector().DetectBest(raw); err == nil && result != nil {
		detected = strings.ToLower(result.Charset)
	}

	r, err := charset.NewReaderLabel(detected, bytes.NewReader(raw))
	if err != nil {
		// Unknown label; serve the bytes as-is rather than failing the read.
		return raw, detected, nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return raw, detected, nil
	}
	return decoded, detected, nil
}

// splitFrontMatter strips a leading YAML (---) or TOML (+++) front
// matter block. Malformed blocks degrade to no front matter; the
// document body is still rendered.
func splitFrontMatter(text []byte) (map[string]any, []byte) {
	parse := func(delim string, unmarshal func([]byte, any) error) (map[string]any, []byte, bool) {
		open := delim + "\n"
		if !bytes.HasPrefix(text, []byte(open)) {
			return nil, nil, false
		}
		rest := text[len(open):]
		end := bytes.Index(rest, []byte("\n"+delim))
		if end < 0 {
			return nil, nil, false
		}
		block := rest[:end]
		body := rest[end+len(delim)+1:]
		body = bytes.TrimPrefix(body, []byte("\n"))

		var meta map[string]any
		if err := unmarshal(block, &meta); err != nil {
			return nil, body, true
		}
		return meta, body, true
	}

	if meta, body, ok := parse("---", yaml.Unmarshal); ok {
		return meta, body
	}
	if meta, body, ok := parse("+++", toml.Unmarshal); ok {
		return meta, body
	}
	return nil, text
}

// extractTOC pulls headings out of sanitized HTML.
func extractTOC(safeHTML []byte) ([]Heading, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(safeHTML))
	if err != nil {
		return nil, err
	}

	var toc []Heading
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		level := int(sel.Nodes[0].Data[1] - '0')
		id, _ := sel.Attr("id")
		toc = append(toc, Heading{
			Level: level,
			Text:  strings.TrimSpace(sel.Text()),
			ID:    id,
		})
	})
	return toc, nil
}

// documentTitle picks the title: front matter, then first heading, then
// the file name without extension.
func documentTitle(front map[string]any, toc []Heading, rel string) string {
	if t, ok := front["title"].(string); ok && t != "" {
		return t
	}
	if len(toc) > 0 && toc[0].Text != "" {
		return toc[0].Text
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *Service) countDocumentError(reason string) {
	if s.metrics != nil {
		s.metrics.DocumentErrors.WithLabelValues(reason).Inc()
	}
}

func errReason(err error) string {
	switch {
	case err == ErrNotFound:
		return "not_found"
	case err == ErrTooLarge:
		return "too_large"
	case err == ErrOutsideRoot, err == ErrInvalidPath:
		return "rejected"
	case err == ErrNotFile:
		return "not_file"
	default:
		return "io"
	}
}
