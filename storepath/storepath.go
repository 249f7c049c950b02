// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package storepath provides the store path value type shared by the
// derivation model, resolver, and engine: a content-addressed or
// input-addressed build system path of the form
// "<store-root>/<32-char-digest>-<name>".
//
// This mirrors the role zbstore.Path plays in zb, trimmed to the
// subset laut actually needs: parsing and digest extraction, not NAR
// export or store-directory-relative rewriting.
package storepath

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/mschwaig/laut/errs"
	"zombiezen.com/go/nix"
	"zombiezen.com/go/nix/nixbase32"
)

// digestAlphabet is the nixbase32 alphabet used for store path digests:
// the 32 lowercase alphanumeric characters excluding e, o, u, t.
const digestAlphabet = "0123456789abcdfghijklmnpqrsvwxyz"

// DigestLength is the fixed length of a store path digest.
const DigestLength = 32

// IsValidDigest reports whether s is a syntactically valid store path
// digest: exactly [DigestLength] characters, all drawn from the
// restricted nixbase32 alphabet.
func IsValidDigest(s string) bool {
	if len(s) != DigestLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(digestAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// Path is a store object path, e.g.
// "/nix/store/fxz942i5pzia8cgha06swhq216l01p8d-bootstrap-stage1-stdenv-linux.drv".
type Path string

// Base returns the last path component (digest-name), without the
// directory prefix.
func (p Path) Base() string {
	s := string(p)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Digest returns the store path's digest: the 32-character prefix of the
// base name, before the "-".
func (p Path) Digest() string {
	base := p.Base()
	if i := strings.IndexByte(base, '-'); i >= 0 {
		return base[:i]
	}
	return base
}

// Name returns the store path's name: the portion of the base name after
// the digest and its separating "-".
func (p Path) Name() string {
	base := p.Base()
	if i := strings.IndexByte(base, '-'); i >= 0 {
		return base[i+1:]
	}
	return ""
}

// Dir returns the store directory the path belongs to, e.g. "/nix/store".
func (p Path) Dir() string {
	s := string(p)
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return ""
	}
	return s[:i]
}

// ExtractStoreHash parses a store path of the form
// "<root>/<32-char-digest>-<name>" and returns the 32-char digest.
//
// It fails with an error wrapping [ErrInvalidStorePath] if the path does
// not have this shape or if the purported digest is not drawn from the
// restricted nixbase32 alphabet.
func ExtractStoreHash(path string) (string, error) {
	base := Path(path).Base()
	i := strings.IndexByte(base, '-')
	if i < 0 || i != DigestLength {
		return "", fmt.Errorf("extract store hash from %q: %w", path, errs.ErrInvalidStorePath)
	}
	digest := base[:i]
	if !IsValidDigest(digest) {
		return "", fmt.Errorf("extract store hash from %q: %w", path, errs.ErrInvalidStorePath)
	}
	return digest, nil
}

// ComputeDerivationPath computes the store path that a .drv file's own
// text content address assigns it, following the "text" store-path
// scheme: sha256 the ATerm bytes, fold them into the fingerprint
// "text:<ref>...:sha256:<hex>:<dir>:<name>", sha256 the fingerprint,
// and compress the result to 20 bytes before nixbase32-encoding it.
//
// references is the full set of store paths the derivation's ATerm
// mentions (its inputSrcs plus every input-drv path); it need not be
// sorted, as this function sorts a copy.
func ComputeDerivationPath(storeDir, name string, atermText []byte, references []string) (Path, error) {
	sum := sha256.Sum256(atermText)

	refs := append([]string(nil), references...)
	sort.Strings(refs)

	fingerprint := sha256.New()
	fingerprint.Write([]byte("text"))
	for _, ref := range refs {
		fingerprint.Write([]byte(":"))
		fingerprint.Write([]byte(ref))
	}
	fingerprint.Write([]byte(":sha256:"))
	fingerprint.Write([]byte(fmt.Sprintf("%x", sum)))
	fingerprint.Write([]byte(":"))
	fingerprint.Write([]byte(storeDir))
	fingerprint.Write([]byte(":"))
	fingerprint.Write([]byte(name))

	compressed := make([]byte, 20)
	nix.CompressHash(compressed, fingerprint.Sum(nil))
	digest := nixbase32.EncodeToString(compressed)

	return Path(strings.TrimSuffix(storeDir, "/") + "/" + digest + "-" + name), nil
}
