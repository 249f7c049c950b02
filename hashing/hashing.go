// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package hashing implements the deterministic canonicalization and
// digest operations every other laut package builds on: RFC 8785 JSON
// canonicalization of derivation attribute records, the nixbase32
// encoding used for store path digests and upstream-output placeholders,
// and the restricted ATerm grammar used for derivation preimages.
package hashing

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"encoding/json"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/mschwaig/laut/errs"
	"github.com/mschwaig/laut/internal/aterm"
	"github.com/mschwaig/laut/storepath"
	"zombiezen.com/go/nix/nixbase32"
)

// CanonicalJSON serializes v to its RFC 8785 (JSON Canonicalization
// Scheme) byte form: lexicographic object key order, minimal number
// forms, UTF-8, no insignificant whitespace.
//
// v is first marshalled with the standard library (so Go struct tags are
// honored), then transformed into canonical form by
// github.com/gowebpki/jcs.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w: %w", errs.ErrInvalidJSON, err)
	}
	return canon, nil
}

// SHA256URLSafeNoPad returns the SHA-256 digest of data encoded as
// URL-safe base64 without "=" padding: the form of the JSON-preimage
// resolved input hash (a payload's in.rdrv_json).
func SHA256URLSafeNoPad(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NixBase32Encode returns the nixbase32 encoding of data: a
// reverse-chunked 5-bits-per-digit encoding over the 32-character
// alphabet "0-9a-z" minus {e,o,u,t}, matching the scheme Nix itself uses
// for store path digests.
func NixBase32Encode(data []byte) string {
	return nixbase32.EncodeToString(data)
}

// ExtractStoreHash returns the 32-character digest of a store path of
// the form "<root>/<digest>-<name>".
func ExtractStoreHash(path string) (string, error) {
	return storepath.ExtractStoreHash(path)
}

// DefaultOutputName is the output name that is omitted from placeholder
// and path suffixes.
const DefaultOutputName = "out"

// UpstreamPlaceholder computes the placeholder token that appears inside
// a dependent derivation's preimage wherever drvPath's outputName output
// is referenced:
//
//	"/" + nixbase32(sha256("nix-upstream-output:" || drv_hash || ":" || drv_name || suffix))
//
// where suffix is empty for the "out" output and "-"+outputName
// otherwise.
func UpstreamPlaceholder(drvPath, outputName string) string {
	digest := storepath.Path(drvPath).Digest()
	name := strings.TrimSuffix(storepath.Path(drvPath).Name(), ".drv")

	h := sha256.New()
	h.Write([]byte("nix-upstream-output:"))
	h.Write([]byte(digest))
	h.Write([]byte(":"))
	h.Write([]byte(name))
	if outputName != DefaultOutputName {
		h.Write([]byte("-"))
		h.Write([]byte(outputName))
	}
	return "/" + NixBase32Encode(h.Sum(nil))
}

// ParseATerm parses the restricted Derive(...) ATerm grammar.
func ParseATerm(text []byte) (*aterm.Derivation, error) {
	d, err := aterm.ParseDerivation(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidATerm, err)
	}
	return d, nil
}

// FormatATerm serializes d back to ATerm text format.
func FormatATerm(d *aterm.Derivation) []byte {
	return aterm.Format(d)
}
