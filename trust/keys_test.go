// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/mschwaig/laut/errs"
)

func TestParsePublicKeyRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	content := "builder1:" + base64.StdEncoding.EncodeToString(pub)

	key, err := ParsePublicKey(content)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if key.Name != "builder1" {
		t.Errorf("Name = %q; want %q", key.Name, "builder1")
	}
	if !key.PublicKey.Equal(pub) {
		t.Error("parsed key bytes differ from the generated key")
	}
}

func TestParsePublicKeyRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"no-colon",
		"name:not-base64!!!",
		"name:" + base64.StdEncoding.EncodeToString(make([]byte, 16)), // short key
	}
	for _, content := range tests {
		if _, err := ParsePublicKey(content); !errors.Is(err, errs.ErrConfig) {
			t.Errorf("ParsePublicKey(%q): err = %v; want wrapping ErrConfig", content, err)
		}
	}
}

func TestParsePrivateKeySeedAndKeypairForms(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	seed := priv.Seed()

	for _, material := range [][]byte{seed, priv} {
		content := "signer:" + base64.StdEncoding.EncodeToString(material)
		name, parsed, err := ParsePrivateKey(content)
		if err != nil {
			t.Fatalf("ParsePrivateKey(%d bytes): %v", len(material), err)
		}
		if name != "signer" {
			t.Errorf("name = %q; want %q", name, "signer")
		}
		if !parsed.Public().(ed25519.PublicKey).Equal(pub) {
			t.Errorf("ParsePrivateKey(%d bytes): derived public key differs", len(material))
		}
	}
}

func TestThumbprintShape(t *testing.T) {
	key := generateKey(t, "builder1")
	thumb, err := key.Thumbprint()
	if err != nil {
		t.Fatal(err)
	}
	if len(thumb) != 64 || strings.ToLower(thumb) != thumb {
		t.Errorf("Thumbprint = %q; want 64 lowercase hex chars", thumb)
	}
	kid, err := key.KeyID()
	if err != nil {
		t.Fatal(err)
	}
	if want := "builder1:" + thumb[:16]; kid != want {
		t.Errorf("KeyID = %q; want %q", kid, want)
	}
	short, err := key.ShortThumbprint()
	if err != nil {
		t.Fatal(err)
	}
	if short != thumb[:8] {
		t.Errorf("ShortThumbprint = %q; want %q", short, thumb[:8])
	}
}
