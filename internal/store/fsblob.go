package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSBlobStore writes blobs beneath a root directory. The returned
// hash is the SHA-1 of the payload.
type FSBlobStore struct {
	root string
}

func NewFSBlobStore(root string) *FSBlobStore {
	return &FSBlobStore{root: root}
}

func (s *FSBlobStore) Put(_ context.Context, path string, payload []byte, opts BlobOptions) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("blob path %q escapes the store root", path)
	}
	target := filepath.Join(s.root, clean)

	if !opts.Overwrite {
		if _, err := os.Stat(target); err == nil {
			return "", fmt.Errorf("blob %q already exists", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}

	mode := os.FileMode(0o600)
	if opts.Public {
		mode = 0o644
	}
	if err := os.WriteFile(target, payload, mode); err != nil {
		return "", err
	}

	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:]), nil
}
