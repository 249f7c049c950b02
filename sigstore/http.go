// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package sigstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mschwaig/laut/errs"
)

// HTTPStore talks to a signature cache over plain HTTP: GET and PUT on
// <base>/traces/<hash>, with ETag-based optimistic concurrency on
// updates.
type HTTPStore struct {
	base   string
	client *http.Client
}

// NewHTTPStore returns a store for the given base URL using
// [http.DefaultClient]. Use [HTTPStore.WithClient] to supply a client
// with custom timeouts or a connection pool.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: http.DefaultClient,
	}
}

// WithClient returns a copy of the store that issues requests through
// client.
func (s *HTTPStore) WithClient(client *http.Client) *HTTPStore {
	return &HTTPStore{base: s.base, client: client}
}

func (s *HTTPStore) url(resolvedInputHash string) string {
	return s.base + "/" + objectKey(resolvedInputHash)
}

// get fetches the blob and its ETag. A missing key yields a nil blob.
func (s *HTTPStore) get(ctx context.Context, resolvedInputHash string) (*Blob, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url(resolvedInputHash), nil)
	if err != nil {
		return nil, "", fmt.Errorf("http signature store: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http signature store: %w: %w", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", nil
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("http signature store: %w: GET %s: %s", errs.ErrTransport, s.url(resolvedInputHash), resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("http signature store: %w: %w", errs.ErrTransport, err)
	}
	blob, err := parseBlob(data)
	if err != nil {
		return nil, "", fmt.Errorf("http signature store %s: %w", resolvedInputHash, err)
	}
	return blob, resp.Header.Get("ETag"), nil
}

func (s *HTTPStore) Fetch(ctx context.Context, resolvedInputHash string) ([]string, error) {
	blob, _, err := s.get(ctx, resolvedInputHash)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	return blob.Signatures, nil
}

// Upload implements read-modify-write with optimistic concurrency: the
// PUT carries If-Match with the ETag observed on read (or If-None-Match
// for a fresh key), and a precondition failure triggers a re-read and
// retry, up to [maxUploadAttempts] times.
func (s *HTTPStore) Upload(ctx context.Context, resolvedInputHash, signature string) error {
	for attempt := 0; attempt < maxUploadAttempts; attempt++ {
		blob, etag, err := s.get(ctx, resolvedInputHash)
		if err != nil {
			return err
		}
		updated, ok, err := appendSignature(blob, signature)
		if err != nil {
			return fmt.Errorf("http signature store %s: %w", resolvedInputHash, err)
		}
		if !ok {
			return nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url(resolvedInputHash), bytes.NewReader(updated))
		if err != nil {
			return fmt.Errorf("http signature store: %w", err)
		}
		req.Header.Set("Content-Type", blobContentType)
		if etag != "" {
			req.Header.Set("If-Match", etag)
		} else {
			req.Header.Set("If-None-Match", "*")
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("http signature store: %w: %w", errs.ErrTransport, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusPreconditionFailed:
			continue
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		default:
			return fmt.Errorf("http signature store: %w: PUT %s: %s", errs.ErrTransport, s.url(resolvedInputHash), resp.Status)
		}
	}
	return fmt.Errorf("upload signature for %s: %w after %d attempts", resolvedInputHash, errs.ErrUploadConflict, maxUploadAttempts)
}
