// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package sigstore retrieves and publishes trace-signature blobs: flat
// key/value objects stored at "traces/<resolved_input_hash>" in one or
// more caches (S3 bucket, HTTP server, or local directory).
package sigstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"
)

// Blob is the stored object format: a JSON document listing compact JWS
// tokens.
type Blob struct {
	Signatures []string `json:"signatures"`
}

// objectKey returns the store key for a resolved input hash.
func objectKey(resolvedInputHash string) string {
	return "traces/" + resolvedInputHash
}

const blobContentType = "application/json"

// maxUploadAttempts bounds the optimistic-concurrency retry loop in
// [HTTPStore.Upload] and [S3Store.Upload].
const maxUploadAttempts = 5

// Store is one signature cache.
type Store interface {
	// Fetch returns the raw signature strings stored for a resolved
	// input hash. A missing key is not an error: it yields an empty
	// slice. Signatures are not deduplicated; the verifier deduplicates
	// by value.
	Fetch(ctx context.Context, resolvedInputHash string) ([]string, error)

	// Upload adds a signature to the blob at the given key using
	// read-modify-write with optimistic concurrency. Storing a
	// signature the blob already contains verbatim is a no-op. After
	// exhausting retries the error wraps [errs.ErrUploadConflict].
	Upload(ctx context.Context, resolvedInputHash, signature string) error
}

// Group fans a fetch out to an ordered list of caches and merges the
// results. A transport failure in one cache is logged and absorbed;
// remaining caches are still consulted.
type Group []Store

// Fetch queries every cache concurrently and concatenates their
// signatures in cache order, so the merged result is deterministic
// regardless of response timing.
func (g Group) Fetch(ctx context.Context, resolvedInputHash string) ([]string, error) {
	results := make([][]string, len(g))
	eg, groupCtx := errgroup.WithContext(ctx)
	for i, store := range g {
		eg.Go(func() error {
			sigs, err := store.Fetch(groupCtx, resolvedInputHash)
			if err != nil {
				log.Warnf(groupCtx, "fetch signatures for %s from cache %d: %v", resolvedInputHash, i, err)
				return nil
			}
			results[i] = sigs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

// parseBlob decodes a stored signature blob.
func parseBlob(data []byte) (*Blob, error) {
	blob := new(Blob)
	if err := json.Unmarshal(data, blob); err != nil {
		return nil, fmt.Errorf("parse signature blob: %w", err)
	}
	return blob, nil
}

// appendSignature returns the blob's new serialized content after
// adding signature, or ok=false if the blob already contains it.
func appendSignature(blob *Blob, signature string) (data []byte, ok bool, err error) {
	if blob == nil {
		blob = new(Blob)
	}
	if slices.Contains(blob.Signatures, signature) {
		return nil, false, nil
	}
	updated := Blob{Signatures: append(slices.Clone(blob.Signatures), signature)}
	data, err = json.Marshal(updated)
	if err != nil {
		return nil, false, fmt.Errorf("encode signature blob: %w", err)
	}
	return data, true, nil
}

// Open constructs a Store from a cache URL:
//
//	s3://bucket?endpoint=https://...&region=...  S3-compatible object store
//	https://host/prefix                          HTTP server
//	file:///path or /path                        local directory
func Open(ctx context.Context, cacheURL string) (Store, error) {
	if strings.HasPrefix(cacheURL, "/") {
		return NewLocalStore(cacheURL), nil
	}
	u, err := url.Parse(cacheURL)
	if err != nil {
		return nil, fmt.Errorf("open signature store %q: %w", cacheURL, err)
	}
	switch u.Scheme {
	case "s3":
		return NewS3Store(ctx, cacheURL)
	case "http", "https":
		return NewHTTPStore(cacheURL), nil
	case "file":
		return NewLocalStore(u.Path), nil
	default:
		return nil, fmt.Errorf("open signature store %q: unsupported scheme %q", cacheURL, u.Scheme)
	}
}
