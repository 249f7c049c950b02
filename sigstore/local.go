// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package sigstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mschwaig/laut/errs"
)

// LocalStore is a directory-backed signature store, the local lookup
// fallback: blobs live at <dir>/traces/<hash>.
type LocalStore struct {
	dir string
}

// NewLocalStore returns a store rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) path(resolvedInputHash string) string {
	return filepath.Join(s.dir, filepath.FromSlash(objectKey(resolvedInputHash)))
}

func (s *LocalStore) Fetch(ctx context.Context, resolvedInputHash string) ([]string, error) {
	data, err := os.ReadFile(s.path(resolvedInputHash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local signature store: %w: %w", errs.ErrTransport, err)
	}
	blob, err := parseBlob(data)
	if err != nil {
		return nil, fmt.Errorf("local signature store %s: %w", resolvedInputHash, err)
	}
	return blob.Signatures, nil
}

// Upload adds a signature to the local blob. The read-modify-write is
// guarded by writing to a temporary file and renaming into place;
// concurrent writers on the same filesystem serialize on the rename.
func (s *LocalStore) Upload(ctx context.Context, resolvedInputHash, signature string) error {
	path := s.path(resolvedInputHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("local signature store: %w", err)
	}

	blob := new(Blob)
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local signature store: %w", err)
	}
	if err == nil {
		blob, err = parseBlob(data)
		if err != nil {
			return fmt.Errorf("local signature store %s: %w", resolvedInputHash, err)
		}
	}

	updated, ok, err := appendSignature(blob, signature)
	if err != nil {
		return fmt.Errorf("local signature store %s: %w", resolvedInputHash, err)
	}
	if !ok {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".laut-upload-*")
	if err != nil {
		return fmt.Errorf("local signature store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(updated); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("local signature store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("local signature store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("local signature store: %w", err)
	}
	return nil
}
