// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package sigstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mschwaig/laut/errs"
)

const testHash = "0c6rn30q4frawknapgwq386zq358m8r6msvywcvc89n6m5p2dgbz"

func TestLocalStoreFetchMissingIsEmpty(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	sigs, err := store.Fetch(context.Background(), testHash)
	if err != nil {
		t.Fatalf("Fetch of missing key: %v", err)
	}
	if len(sigs) != 0 {
		t.Errorf("Fetch of missing key = %v; want empty", sigs)
	}
}

func TestLocalStoreUploadAndFetch(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	if err := store.Upload(ctx, testHash, "sig-one"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := store.Upload(ctx, testHash, "sig-two"); err != nil {
		t.Fatalf("Upload second signature: %v", err)
	}
	// Re-uploading an existing signature is a no-op.
	if err := store.Upload(ctx, testHash, "sig-one"); err != nil {
		t.Fatalf("Upload duplicate: %v", err)
	}

	sigs, err := store.Fetch(ctx, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"sig-one", "sig-two"}, sigs); diff != "" {
		t.Errorf("Fetch after uploads (-want +got):\n%s", diff)
	}
}

// blobServer is a minimal ETag-aware blob server for exercising the
// HTTP store's optimistic concurrency.
type blobServer struct {
	mu       sync.Mutex
	body     []byte
	version  int
	rejected int
}

func (b *blobServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			if b.body == nil {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("ETag", fmt.Sprintf(`"%d"`, b.version))
			w.Write(b.body)
		case http.MethodPut:
			current := fmt.Sprintf(`"%d"`, b.version)
			if match := r.Header.Get("If-Match"); match != "" && (b.body == nil || match != current) {
				b.rejected++
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			if r.Header.Get("If-None-Match") == "*" && b.body != nil {
				b.rejected++
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b.body = body
			b.version++
			w.WriteHeader(http.StatusCreated)
		}
	}
}

func TestHTTPStoreUploadMergesWithExisting(t *testing.T) {
	server := &blobServer{}
	existing, _ := json.Marshal(Blob{Signatures: []string{"sig-old"}})
	server.body = existing
	server.version = 1
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	store := NewHTTPStore(ts.URL)
	ctx := context.Background()
	if err := store.Upload(ctx, testHash, "sig-new"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	sigs, err := store.Fetch(ctx, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"sig-old", "sig-new"}, sigs); diff != "" {
		t.Errorf("Fetch after merge upload (-want +got):\n%s", diff)
	}
}

func TestHTTPStoreUploadConflictExhaustsRetries(t *testing.T) {
	// A server that always fails the precondition forces the retry
	// budget to run out.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", `"stale"`)
			json.NewEncoder(w).Encode(Blob{Signatures: []string{"other"}})
		case http.MethodPut:
			w.WriteHeader(http.StatusPreconditionFailed)
		}
	}))
	defer ts.Close()

	store := NewHTTPStore(ts.URL)
	err := store.Upload(context.Background(), testHash, "sig")
	if !errors.Is(err, errs.ErrUploadConflict) {
		t.Errorf("Upload against permanent conflict: err = %v; want wrapping ErrUploadConflict", err)
	}
}

func TestHTTPStoreFetchTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	store := NewHTTPStore(ts.URL)
	_, err := store.Fetch(context.Background(), testHash)
	if !errors.Is(err, errs.ErrTransport) {
		t.Errorf("Fetch from failing server: err = %v; want wrapping ErrTransport", err)
	}
}

func TestGroupMergesAndAbsorbsFailures(t *testing.T) {
	ctx := context.Background()

	good := NewLocalStore(t.TempDir())
	if err := good.Upload(ctx, testHash, "sig-good"); err != nil {
		t.Fatal(err)
	}
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	group := Group{NewHTTPStore(failing.URL), good}
	sigs, err := group.Fetch(ctx, testHash)
	if err != nil {
		t.Fatalf("Group.Fetch with one failing cache: %v", err)
	}
	if diff := cmp.Diff([]string{"sig-good"}, sigs); diff != "" {
		t.Errorf("Group.Fetch (-want +got):\n%s", diff)
	}
}

func TestOpenDispatchesByScheme(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		url  string
		want string
	}{
		{"/var/lib/laut/sigs", "*sigstore.LocalStore"},
		{"file:///var/lib/laut/sigs", "*sigstore.LocalStore"},
		{"https://cache.example.org/laut", "*sigstore.HTTPStore"},
	}
	for _, test := range tests {
		store, err := Open(ctx, test.url)
		if err != nil {
			t.Errorf("Open(%q): %v", test.url, err)
			continue
		}
		if got := fmt.Sprintf("%T", store); got != test.want {
			t.Errorf("Open(%q) = %s; want %s", test.url, got, test.want)
		}
	}
	if _, err := Open(ctx, "gopher://nope"); err == nil {
		t.Error("Open with unsupported scheme did not fail")
	}
}
