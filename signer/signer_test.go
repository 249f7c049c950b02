// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mschwaig/laut/drv"
	"github.com/mschwaig/laut/errs"
	"github.com/mschwaig/laut/sigverify"
	"github.com/mschwaig/laut/trust"
)

const caDrvPath = "/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-demo.drv"

// selfPlaceholder is the floating-output placeholder for "out"
// (nixbase32(sha256("nix-output:out"))), present in any real
// content-addressed derivation's env and preserved in the preimage.
const selfPlaceholder = "/1rz4g4znpzjwh1xymhjpm42vipw92pr73vdgl6xs1hycac8kf2n9"

const caDrvJSON = `{
	"name": "demo",
	"outputs": {"out": {"hashAlgo": "r:sha256"}},
	"inputDrvs": {},
	"inputSrcs": [],
	"system": "x86_64-linux",
	"builder": "/bin/sh",
	"args": ["-c", "true"],
	"env": {"name": "demo", "out": "` + selfPlaceholder + `"}
}`

const caDrvATerm = `Derive([("out","","r:sha256","")],[],[],"x86_64-linux","/bin/sh",["-c","true"],[("name","demo"),("out","` + selfPlaceholder + `")])`

func testRequest(t *testing.T) Request {
	t.Helper()
	attrs, err := drv.ParseAttrs(json.RawMessage(caDrvJSON))
	if err != nil {
		t.Fatal(err)
	}
	return Request{
		DrvPath: caDrvPath,
		Attrs:   attrs,
		ATerm:   []byte(caDrvATerm),
		Outputs: map[string]BuiltOutput{
			"out": {
				Path: "/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-demo",
				Hash: "sha256:1jyz6snd63xjn6skk7za6psgidsd53k05cr3lksqybi0q6936syq",
			},
		},
		StoreDir:  "/nix/store",
		StoreRoot: "/nix/store",
		Debug:     true,
	}
}

func TestAttestVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	att, err := Attest(context.Background(), testRequest(t), "builder1", priv)
	if err != nil {
		t.Fatalf("Attest: %v", err)
	}
	if att.InputHash == "" {
		t.Fatal("Attest returned empty input hash")
	}

	key := trust.TrustedKey{Name: "builder1", PublicKey: pub}
	payload, kid, err := sigverify.Verify(att.Token, key, att.InputHash)
	if err != nil {
		t.Fatalf("Verify of freshly signed token: %v", err)
	}
	if !strings.HasPrefix(kid, "builder1:") {
		t.Errorf("kid = %q; want prefix %q", kid, "builder1:")
	}
	if payload.In.RdrvATermCA != att.InputHash {
		t.Errorf("payload rdrv_aterm_ca = %q; want %q", payload.In.RdrvATermCA, att.InputHash)
	}
	if payload.In.RdrvJSON == "" {
		t.Error("payload rdrv_json is empty; the signer emits both hash variants")
	}
	if got := payload.Out.Nix["out"].Path; got != "/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-demo" {
		t.Errorf("out.nix[out].path = %q", got)
	}
	if payload.In.Debug == nil {
		t.Fatal("payload has no debug section although the request asked for one")
	}
	if !strings.Contains(payload.In.Debug.RdrvATermCAPreimage, selfPlaceholder) {
		t.Error("signed ATerm preimage does not preserve the derivation's own output placeholder")
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	att, err := Attest(context.Background(), testRequest(t), "builder1", priv)
	if err != nil {
		t.Fatal(err)
	}
	key := trust.TrustedKey{Name: "builder1", PublicKey: pub}

	// Flip one payload byte; the token must no longer verify.
	parts := strings.SplitN(att.Token, ".", 3)
	body := []byte(parts[1])
	if body[10] == 'A' {
		body[10] = 'B'
	} else {
		body[10] = 'A'
	}
	tampered := parts[0] + "." + string(body) + "." + parts[2]

	if _, _, err := sigverify.Verify(tampered, key, att.InputHash); err == nil {
		t.Error("Verify accepted a tampered token")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	att, err := Attest(context.Background(), testRequest(t), "builder1", priv)
	if err != nil {
		t.Fatal(err)
	}
	other := trust.TrustedKey{Name: "builder1", PublicKey: otherPub}
	_, _, err = sigverify.Verify(att.Token, other, att.InputHash)
	if !errors.Is(err, errs.ErrSignatureUntrusted) {
		t.Errorf("Verify with wrong key: err = %v; want wrapping ErrSignatureUntrusted", err)
	}
}

func TestVerifyRejectsWrongInputHash(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	att, err := Attest(context.Background(), testRequest(t), "builder1", priv)
	if err != nil {
		t.Fatal(err)
	}
	key := trust.TrustedKey{Name: "builder1", PublicKey: pub}
	_, _, err = sigverify.Verify(att.Token, key, "not-the-hash")
	if !errors.Is(err, errs.ErrSignatureMismatch) {
		t.Errorf("Verify with wrong input hash: err = %v; want wrapping ErrSignatureMismatch", err)
	}
}

func TestAttestSkipsUnresolvedDerivation(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest(t)
	attrs, err := drv.ParseAttrs(json.RawMessage(`{
		"name": "demo",
		"outputs": {"out": {"hashAlgo": "r:sha256"}},
		"inputDrvs": {"/nix/store/fxz942i5pzia8cgha06swhq216l01p8d-dep.drv": {"outputs": ["out"]}},
		"inputSrcs": []
	}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Attrs = attrs
	_, err = Attest(context.Background(), req, "builder1", priv)
	if !errors.Is(err, ErrSkipUnresolved) {
		t.Errorf("Attest on unresolved derivation: err = %v; want wrapping ErrSkipUnresolved", err)
	}
}

func TestAttestRejectsFixedOutput(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest(t)
	attrs, err := drv.ParseAttrs(json.RawMessage(`{
		"name": "fod",
		"outputs": {"out": {
			"path": "/nix/store/1rz4g4znpzjwh1xymhjpm42vipw92pr73vdgl6xs1hycac8kf2n9-fod",
			"hash": "deadbeef",
			"hashAlgo": "sha256"
		}},
		"inputDrvs": {},
		"inputSrcs": []
	}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Attrs = attrs
	if _, err := Attest(context.Background(), req, "builder1", priv); err == nil || errors.Is(err, ErrSkipUnresolved) {
		t.Errorf("Attest on fixed-output derivation: err = %v; want a hard error", err)
	}
}
