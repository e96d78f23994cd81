// Package blob is the object-storage collaborator: original uploads,
// content-addressed assets, offloaded chunk payloads and job output
// artifacts, stored on the local filesystem under a root directory.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Put writes data under key, creating parent directories as needed. Writing
// the same key twice overwrites, so puts are idempotent.
func (s *Store) Put(key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, true, nil
}

func (s *Store) Has(key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a blob. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

func (s *Store) resolve(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	if cleaned == "/" {
		return "", fmt.Errorf("empty blob key")
	}
	return filepath.Join(s.root, cleaned), nil
}

// ContentHash returns the hex sha256 of data, the content address used for
// assets and chunk IDs.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AssetKey derives the storage key of an asset from its content hash.
func AssetKey(jobID, hash, mediaType string) string {
	return fmt.Sprintf("jobs/%s/assets/%s%s", jobID, hash, extensionFor(mediaType))
}

// UploadKey derives the storage key of an original uploaded file.
func UploadKey(uploadID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s", uploadID, filepath.Base(filename))
}

// ArtifactKey derives the storage key of a job output artifact
// (bundle, assembled, approved).
func ArtifactKey(jobID, name string) string {
	return fmt.Sprintf("jobs/%s/artifacts/%s", jobID, name)
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
