// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package signer produces build-trace attestations: compact EdDSA JWS
// tokens binding a fully resolved derivation's input hash to the
// content hashes of its locally built outputs, in exactly the shape
// package sigverify accepts.
package signer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mschwaig/laut/drv"
	"github.com/mschwaig/laut/resolve"
	"github.com/mschwaig/laut/sigverify"
	"github.com/mschwaig/laut/trust"
)

// ErrSkipUnresolved reports that the derivation still has input
// derivations, so there is nothing to attest yet. Build systems invoke
// the post-build hook twice, once before resolution and once after;
// the pre-resolution call must exit successfully without a signature
// (CLI exit code 117).
var ErrSkipUnresolved = errors.New("derivation is unresolved, nothing to sign")

// BuiltOutput is one locally built output to attest: its final store
// path and content hash.
type BuiltOutput struct {
	Path string
	Hash string
}

// Request describes one attestation.
type Request struct {
	DrvPath string
	Attrs   drv.Attrs

	// ATerm is the derivation's raw ATerm text, used for the
	// ATerm-based input hash and resolved path.
	ATerm []byte

	// Outputs maps output name to its built path and content hash.
	Outputs map[string]BuiltOutput

	// StoreDir is the store directory resolved derivation paths are
	// computed under.
	StoreDir string

	// StoreRoot is recorded in the payload's builder section.
	StoreRoot string

	// Debug attaches the in.debug preimage section to the payload.
	Debug bool
}

// Attestation is a produced signature and the store key it should be
// uploaded under.
type Attestation struct {
	// InputHash is the ATerm-based resolved input hash: the cache key
	// verifiers look the signature up by.
	InputHash string

	// Token is the compact JWS.
	Token string
}

// Attest signs req with the named Ed25519 key.
//
// It fails with [ErrSkipUnresolved] if the derivation still has input
// derivations, and rejects fixed-output derivations (their declared
// hash is trusted by construction, there is nothing to attest) and
// input-addressed derivations.
func Attest(ctx context.Context, req Request, keyName string, key ed25519.PrivateKey) (*Attestation, error) {
	inputDrvs, err := req.Attrs.InputDrvs()
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", req.DrvPath, err)
	}
	if len(inputDrvs) > 0 {
		return nil, fmt.Errorf("sign %s: %w", req.DrvPath, ErrSkipUnresolved)
	}

	outputMap, order, err := req.Attrs.Outputs()
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", req.DrvPath, err)
	}
	isFixedOutput, isContentAddressed := drv.DerivationKind(outputMap, order)
	if isFixedOutput {
		return nil, fmt.Errorf("sign %s: fixed-output derivation declares its own hash, nothing to attest", req.DrvPath)
	}
	if !isContentAddressed {
		return nil, fmt.Errorf("sign %s: input-addressed derivations are not signable", req.DrvPath)
	}

	ud, err := unresolvedNode(ctx, req.DrvPath, req.Attrs)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", req.DrvPath, err)
	}

	jsonResult, err := resolve.JSONPreimage(ud, nil)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", req.DrvPath, err)
	}
	atermResult, resolvedPath, err := resolve.ATermPreimage(ctx, ud, nil, staticATerm(req.ATerm), req.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", req.DrvPath, err)
	}

	name, err := req.Attrs.Name()
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", req.DrvPath, err)
	}

	payload := sigverify.Payload{
		In: sigverify.InputClaim{
			RdrvJSON:    jsonResult.InputHash,
			RdrvATermCA: atermResult.InputHash,
		},
		Out: sigverify.OutputClaims{
			Nix: make(map[string]sigverify.OutputClaim, len(req.Outputs)),
		},
		Builder: sigverify.BuilderInfo{
			RebuildID: rand.Uint32(),
			StoreRoot: req.StoreRoot,
		},
	}
	for outName, built := range req.Outputs {
		payload.Out.Nix[outName] = sigverify.OutputClaim{Path: built.Path, Hash: built.Hash}
	}
	if req.Debug {
		payload.In.Debug = &sigverify.DebugInfo{
			DrvName:             name,
			RdrvPath:            resolvedPath,
			RdrvJSONPreimage:    string(jsonResult.Preimage),
			RdrvComputedPath:    resolvedPath,
			RdrvATermCAPreimage: string(atermResult.Preimage),
		}
	}

	token, err := sign(payload, keyName, key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", req.DrvPath, err)
	}
	return &Attestation{InputHash: atermResult.InputHash, Token: token}, nil
}

// sign wraps payload into the v2 JWS header shape and signs it.
func sign(payload sigverify.Payload, keyName string, key ed25519.PrivateKey) (string, error) {
	pub := trust.TrustedKey{Name: keyName, PublicKey: key.Public().(ed25519.PublicKey)}
	kid, err := pub.KeyID()
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"in":      payload.In,
		"out":     payload.Out,
		"builder": payload.Builder,
	})
	token.Header["type"] = "laut"
	token.Header["crv"] = "Ed25519"
	token.Header["v"] = "2"
	token.Header["kid"] = kid

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign jws: %w", err)
	}
	return signed, nil
}

// unresolvedNode builds the single-node derivation model for a fully
// resolved derivation: no inputs, outputs derived from the attrs.
func unresolvedNode(ctx context.Context, drvPath string, attrs drv.Attrs) (*drv.UnresolvedDerivation, error) {
	b := drv.NewBuilder(singleAttrs{drvPath: drvPath, attrs: attrs})
	return b.Build(ctx, drvPath)
}

type singleAttrs struct {
	drvPath string
	attrs   drv.Attrs
}

func (s singleAttrs) DerivationAttrs(ctx context.Context, drvPath string) (drv.Attrs, error) {
	if drvPath != s.drvPath {
		return drv.Attrs{}, fmt.Errorf("unexpected derivation %s", drvPath)
	}
	return s.attrs, nil
}

type staticATerm []byte

func (s staticATerm) DerivationATerm(ctx context.Context, drvPath string) ([]byte, error) {
	return []byte(s), nil
}
