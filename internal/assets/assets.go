// Package assets stores uploaded PDFs and extracted figures on local disk
// and maps their keys to public URLs.
package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"manual-rag/internal/helper"
	"manual-rag/internal/models"

	"github.com/rs/zerolog/log"
)

// FileStore keeps assets under a root directory. Keys are slash separated
// relative paths such as "images/<user>/<document>/page-1-img-0.png".
type FileStore struct {
	root      string
	urlPrefix string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root, urlPrefix string) (*FileStore, error) {
	if err := helper.CreateFolder(root); err != nil {
		return nil, err
	}
	return &FileStore{root: root, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Root is the directory assets are served from.
func (s *FileStore) Root() string { return s.root }

// Put writes data under key and returns its public URL.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := helper.CreateFolder(filepath.Dir(full)); err != nil {
		return "", err
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write asset %s: %w", key, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write asset %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Get reads the asset stored under key.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("asset %s: %w", key, models.ErrNotFound)
	}
	return data, err
}

// DeletePrefix removes every asset under prefix. A missing prefix is not
// an error.
func (s *FileStore) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.path(prefix)
	if err != nil {
		return err
	}
	if full == filepath.Clean(s.root) {
		return models.InvalidInput("refusing to delete the asset root")
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("delete assets %s: %w", prefix, err)
	}
	log.Debug().Str("prefix", prefix).Msg("Deleted assets")
	return nil
}

// URL maps a key to the URL it is served under.
func (s *FileStore) URL(key string) string {
	return s.urlPrefix + "/" + strings.TrimLeft(path.Clean("/"+key), "/")
}

// KeyFromURL is the inverse of URL. It reports false for foreign URLs.
func (s *FileStore) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.urlPrefix+"/")
	return key, ok && key != ""
}

func (s *FileStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", models.InvalidInput(fmt.Sprintf("invalid asset key %q", key))
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// ImageKey is where an extracted figure is stored.
func ImageKey(userID, documentID string, page, index int, ext string) string {
	return fmt.Sprintf("%s/%s/page-%d-img-%d%s", UserImagePrefix(userID), documentID, page, index, ext)
}

// UserImagePrefix holds every figure of a user.
func UserImagePrefix(userID string) string {
	return "images/" + userID
}

// DocumentKey is where an uploaded PDF is stored.
func DocumentKey(userID, documentID, filename string) string {
	name := filepath.Base(filename)
	if name == "." || name == "/" || name == "" {
		name = "document.pdf"
	}
	return fmt.Sprintf("documents/%s/%s-%s", userID, documentID, name)
}

// UserDocumentPrefix holds every uploaded PDF of a user.
func UserDocumentPrefix(userID string) string {
	return "documents/" + userID
}

// ExtensionFor returns a file extension for an image MIME type.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/tiff":
		return ".tif"
	default:
		return ".png"
	}
}
