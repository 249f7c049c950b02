// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package trust holds the key material and trust policy types the
// verification engine decides with: trusted Ed25519 public keys, their
// JWS key identifiers, and the composable threshold-of-keys model.
package trust

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/mschwaig/laut/errs"
)

// TrustedKey is a named Ed25519 public key a verifier is willing to
// accept trace signatures from.
type TrustedKey struct {
	Name      string
	PublicKey ed25519.PublicKey
}

// Thumbprint returns the key's full thumbprint: lowercase hex SHA-256
// of the DER SubjectPublicKeyInfo encoding of the public key.
func (k TrustedKey) Thumbprint() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.PublicKey)
	if err != nil {
		return "", fmt.Errorf("thumbprint of key %q: %w", k.Name, err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

// ShortThumbprint returns the first 8 hex characters of the thumbprint,
// the form a signature's kid is matched against.
func (k TrustedKey) ShortThumbprint() (string, error) {
	t, err := k.Thumbprint()
	if err != nil {
		return "", err
	}
	return t[:8], nil
}

// KeyID returns the canonical kid for this key: "<name>:<thumbprint16>".
func (k TrustedKey) KeyID() (string, error) {
	t, err := k.Thumbprint()
	if err != nil {
		return "", err
	}
	return k.Name + ":" + t[:16], nil
}

// Equal reports whether two trusted keys have the same name and raw key
// bytes.
func (k TrustedKey) Equal(other TrustedKey) bool {
	return k.Name == other.Name && k.PublicKey.Equal(other.PublicKey)
}

// ParsePublicKey parses the "<name>:<base64 raw key>" public key file
// content format.
func ParsePublicKey(content string) (TrustedKey, error) {
	name, raw, err := splitKeyFile(content)
	if err != nil {
		return TrustedKey{}, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return TrustedKey{}, fmt.Errorf("parse public key %q: %w: key is %d bytes, want %d", name, errs.ErrConfig, len(raw), ed25519.PublicKeySize)
	}
	return TrustedKey{Name: name, PublicKey: ed25519.PublicKey(raw)}, nil
}

// ReadPublicKeyFile reads and parses a public key file.
func ReadPublicKeyFile(path string) (TrustedKey, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return TrustedKey{}, fmt.Errorf("read public key: %w: %w", errs.ErrConfig, err)
	}
	k, err := ParsePublicKey(string(content))
	if err != nil {
		return TrustedKey{}, fmt.Errorf("read public key %s: %w", path, err)
	}
	return k, nil
}

// ParsePrivateKey parses the "<name>:<base64 32- or 64-byte
// seed/keypair>" private key file content format. The first 32 bytes of
// the decoded material are the Ed25519 seed.
func ParsePrivateKey(content string) (string, ed25519.PrivateKey, error) {
	name, raw, err := splitKeyFile(content)
	if err != nil {
		return "", nil, err
	}
	if len(raw) != ed25519.SeedSize && len(raw) != ed25519.PrivateKeySize {
		return "", nil, fmt.Errorf("parse private key %q: %w: key is %d bytes, want %d or %d", name, errs.ErrConfig, len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	return name, ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize]), nil
}

// ReadPrivateKeyFile reads and parses a private key file.
func ReadPrivateKeyFile(path string) (string, ed25519.PrivateKey, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read private key: %w: %w", errs.ErrConfig, err)
	}
	name, key, err := ParsePrivateKey(string(content))
	if err != nil {
		return "", nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	return name, key, nil
}

func splitKeyFile(content string) (name string, raw []byte, err error) {
	content = strings.TrimSpace(content)
	name, b64, ok := strings.Cut(content, ":")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("parse key: %w: want \"<name>:<base64>\"", errs.ErrConfig)
	}
	raw, err = base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("parse key %q: %w: %w", name, errs.ErrConfig, err)
	}
	return name, raw, nil
}
