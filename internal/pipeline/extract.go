package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Source copies new images into the raw directory.
type Source interface {
	Name() string
	// Extract copies images absent from rawDir and returns how many it copied.
	Extract(ctx context.Context, rawDir string) (int, error)
}

// IsImageFile reports whether name has an extension the pipeline reads.
func IsImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// LocalSource reads images from a directory on disk.
type LocalSource struct {
	dir    string
	logger *zap.Logger
}

// NewLocalSource returns a source over dir.
func NewLocalSource(dir string, logger *zap.Logger) *LocalSource {
	return &LocalSource{dir: dir, logger: logger.Named("local_source")}
}

func (s *LocalSource) Name() string { return "local" }

func (s *LocalSource) Extract(ctx context.Context, rawDir string) (int, error) {
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read input dir: %w", err)
	}

	copied := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		dst := filepath.Join(rawDir, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(s.dir, e.Name()), dst); err != nil {
			return copied, err
		}
		copied++
	}
	s.logger.Info("extract complete", zap.String("input_dir", s.dir), zap.Int("copied", copied))
	return copied, nil
}

// copyFile writes through a temp file so a crash never leaves a partial
// image that later runs would skip as already extracted.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".extract-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
