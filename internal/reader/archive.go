package reader

import (
	"archive/tar"
	"archive/zip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// WriteZip streams the subtree at rel as a ZIP archive. Hidden entries
// and non-regular files are skipped; entry names preserve the layout
// relative to rel.
func (s *Service) WriteZip(ctx context.Context, rel string, w io.Writer) error {
	files, err := s.archiveFiles(ctx, rel)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		hdr := &zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: f.info.ModTime(),
		}
		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			zw.Close()
			return err
		}
		if err := copyFile(entry, f.abs); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ArchiveExports.WithLabelValues("zip").Inc()
	}
	return nil
}

// WriteTarGz streams the subtree at rel as a gzip-compressed tarball.
func (s *Service) WriteTarGz(ctx context.Context, rel string, w io.Writer) error {
	files, err := s.archiveFiles(ctx, rel)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			tw.Close()
			gz.Close()
			return err
		}
		hdr := &tar.Header{
			Name:    f.name,
			Mode:    0o644,
			Size:    f.info.Size(),
			ModTime: f.info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tw.Close()
			gz.Close()
			return err
		}
		if err := copyFile(tw, f.abs); err != nil {
			tw.Close()
			gz.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ArchiveExports.WithLabelValues("tar.gz").Inc()
	}
	return nil
}

type archiveFile struct {
	name string // archive entry name, relative to the export root
	abs  string
	info os.FileInfo
}

// archiveFiles walks the subtree and resolves every regular markdown
// file through the sandbox. Walk already applies the hidden policy.
func (s *Service) archiveFiles(ctx context.Context, rel string) ([]archiveFile, error) {
	entries, err := s.Walk(ctx, rel, 0)
	if err != nil {
		return nil, err
	}

	base := path.Clean(rel)
	files := make([]archiveFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		abs, err := s.sandbox.Resolve(e.Path)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		name := e.Path
		if base != "." && base != "" {
			if r, err := filepath.Rel(base, e.Path); err == nil {
				name = filepath.ToSlash(r)
			}
		}
		files = append(files, archiveFile{name: name, abs: abs, info: info})
	}
	return files, nil
}

func copyFile(dst io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}
