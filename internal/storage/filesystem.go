// Package storage keeps attachment blobs in a single directory on disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

// FileStore saves and removes attachment files.
type FileStore interface {
	// Save writes r under a sanitized, collision-free version of name and
	// returns the stored path.
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

// FilesystemStore implements FileStore under one base directory.
type FilesystemStore struct {
	basePath string
}

var _ FileStore = (*FilesystemStore)(nil)

// NewFilesystemStore creates the base directory if needed.
func NewFilesystemStore(basePath string) (*FilesystemStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	return &FilesystemStore{basePath: basePath}, nil
}

// BasePath returns the directory files are stored in.
func (f *FilesystemStore) BasePath() string { return f.basePath }

// Save implements FileStore. Collisions are resolved with a _N suffix
// before the extension; O_EXCL makes the reservation atomic.
func (f *FilesystemStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	clean := SanitizeFileName(name)
	ext := filepath.Ext(clean)
	stem := strings.TrimSuffix(clean, ext)

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := clean
		if i > 0 {
			candidate = stem + "_" + strconv.Itoa(i) + ext
		}
		path := filepath.Join(f.basePath, candidate)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create file: %w", err)
		}
		if _, err := io.Copy(file, r); err != nil {
			file.Close()
			os.Remove(path)
			return "", fmt.Errorf("failed to write file: %w", err)
		}
		if err := file.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("failed to close file: %w", err)
		}
		return path, nil
	}
}

// Open implements FileStore.
func (f *FilesystemStore) Open(path string) (io.ReadCloser, error) {
	if err := f.contains(path); err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove implements FileStore. A missing file is not an error.
func (f *FilesystemStore) Remove(path string) error {
	if err := f.contains(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func (f *FilesystemStore) contains(path string) error {
	rel, err := filepath.Rel(f.basePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q is outside storage", path)
	}
	return nil
}

var underscores = regexp.MustCompile(`_+`)

// SanitizeFileName replaces everything except letters, digits, '_', '-'
// and '.' with '_', collapses runs of '_' and trims them from both ends.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			return r
		}
		return '_'
	}, name)
	mapped = strings.Trim(underscores.ReplaceAllString(mapped, "_"), "_")
	if mapped == "" || mapped == "." || mapped == ".." {
		return "file"
	}
	return mapped
}

// DetectFileType classifies an upload as image or document from its
// content type, falling back to the extension.
func DetectFileType(contentType, name string) models.FileType {
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	}
	if strings.HasPrefix(contentType, "image/") {
		return models.FileImage
	}
	return models.FileDocument
}
