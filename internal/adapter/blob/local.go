// Package blob stores generated artifacts such as teaching-aid images.
package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"teacher-agent/internal/domain"
)

// LocalStore writes blobs under a root directory and serves them from a
// base URL. Directory structure: <root>/<key>
type LocalStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewLocalStore creates a store rooted at dir. baseURL is the public prefix
// the gateway serves dir under, e.g. "/media".
func NewLocalStore(dir, baseURL string, logger *slog.Logger) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve blob dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, domain.NewSubSystemError("blob", "NewLocalStore", domain.ErrBlobStore, err.Error())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{
		root:    abs,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "blob"),
	}, nil
}

// Root returns the absolute directory blobs are written to.
func (s *LocalStore) Root() string { return s.root }

// Put implements domain.BlobStore. The write goes through a temp file so a
// reader never observes a partial blob.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", domain.NewSubSystemError("blob", "LocalStore.Put", domain.ErrBlobStore, err.Error())
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", domain.NewSubSystemError("blob", "LocalStore.Put", domain.ErrBlobStore, err.Error())
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", domain.NewSubSystemError("blob", "LocalStore.Put", domain.ErrBlobStore, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", domain.NewSubSystemError("blob", "LocalStore.Put", domain.ErrBlobStore, err.Error())
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", domain.NewSubSystemError("blob", "LocalStore.Put", domain.ErrBlobStore, err.Error())
	}

	s.logger.Debug("blob stored", "key", clean, "bytes", len(data), "content_type", contentType)
	return s.baseURL + "/" + clean, nil
}

// cleanKey rejects keys that would escape the root.
func cleanKey(key string) (string, error) {
	k := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if k == "" {
		return "", domain.NewDomainError("LocalStore.Put", domain.ErrInvalidInput, "blob key is required")
	}
	clean := path.Clean("/" + k)[1:]
	if clean == "" || clean != strings.TrimPrefix(k, "/") || strings.HasPrefix(k, "/") {
		return "", domain.NewDomainError("LocalStore.Put", domain.ErrInvalidInput,
			fmt.Sprintf("invalid blob key %q", key))
	}
	return clean, nil
}

var _ domain.BlobStore = (*LocalStore)(nil)
