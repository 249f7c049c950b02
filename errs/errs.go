// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package errs defines the sentinel error values used across laut's
// packages, matching the error taxonomy in the design: most errors are
// ordinary wrapped errors (fmt.Errorf("...: %w", err)), checked with
// errors.Is against one of these sentinels where callers need to
// distinguish absorbable per-signature/per-cache failures from fatal
// setup failures.
package errs

import "errors"

var (
	// ErrInvalidStorePath indicates a store path did not match the
	// "<root>/<32-char-digest>-<name>" shape, or the digest was not
	// drawn from the restricted nixbase32 alphabet.
	ErrInvalidStorePath = errors.New("invalid store path")

	// ErrInvalidATerm indicates malformed ATerm derivation text.
	ErrInvalidATerm = errors.New("invalid aterm derivation")

	// ErrInvalidJSON indicates a malformed derivation JSON attribute record.
	ErrInvalidJSON = errors.New("invalid derivation json")

	// ErrUnsupportedInputAddressed indicates an input-addressed derivation
	// was encountered without allow_ia enabled.
	ErrUnsupportedInputAddressed = errors.New("input-addressed derivations not enabled")

	// ErrUnresolvedDependency indicates the resolver was asked to resolve
	// an interior node without a complete input assignment.
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// ErrDanglingPlaceholder reports that a referenced input's
	// placeholder survived substitution. Diagnostic only, never fatal:
	// the resolver keeps the preimage as-is and the resulting hash
	// simply matches no signature. A derivation's own floating-output
	// placeholders are legitimately unbound and are not reported.
	ErrDanglingPlaceholder = errors.New("dangling placeholder after substitution")

	// ErrSignatureMalformed indicates a JWS token could not be parsed, or
	// its header/payload shape did not match the v2 signature schema.
	ErrSignatureMalformed = errors.New("malformed signature")

	// ErrSignatureUntrusted indicates a signature's kid did not name the
	// candidate trusted key's thumbprint, or its Ed25519 signature did
	// not verify under that key.
	ErrSignatureUntrusted = errors.New("signature not trusted")

	// ErrSignatureMismatch indicates a signature verified cryptographically
	// but its committed input hash did not match the expected one.
	ErrSignatureMismatch = errors.New("signature input hash mismatch")

	// ErrTransport indicates a per-cache transport failure. Absorbable:
	// callers should log and continue with remaining caches.
	ErrTransport = errors.New("signature store transport error")

	// ErrUploadConflict indicates an upload lost the optimistic-concurrency
	// race after exhausting its retry budget.
	ErrUploadConflict = errors.New("signature upload conflict")

	// ErrTrustNotSatisfied indicates the trust model reasoner could not
	// produce any accepted root resolution.
	ErrTrustNotSatisfied = errors.New("trust model not satisfied")

	// ErrConfig indicates missing trusted keys or malformed configuration.
	ErrConfig = errors.New("configuration error")
)
