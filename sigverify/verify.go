// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package sigverify

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mschwaig/laut/errs"
	"github.com/mschwaig/laut/trust"
)

// signatureClaims adapts Payload to golang-jwt's Claims interface. The
// embedded RegisteredClaims are all absent in trace signatures; they
// exist only to satisfy the interface.
type signatureClaims struct {
	jwt.RegisteredClaims
	In      InputClaim   `json:"in"`
	Out     OutputClaims `json:"out"`
	Builder BuilderInfo  `json:"builder"`
}

// Verify validates one compact JWS token against one trusted key and an
// expected resolved input hash, per the v2 signature procedure:
//
//  1. Parse the header without verifying; require alg "EdDSA" and a kid.
//  2. Reject unless the kid's portion after ":" matches the key's short
//     thumbprint (the candidate key simply isn't the signer; callers try
//     each trusted key in turn).
//  3. Verify the Ed25519 signature over the signing input.
//  4. Require the payload's committed input hash (ATerm- or JSON-based)
//     to equal resolvedInputHash.
//  5. Require out.nix values to carry a path and/or hash.
//
// On success it returns the validated payload and the token's kid.
func Verify(token string, key trust.TrustedKey, resolvedInputHash string) (*Payload, string, error) {
	kid, err := matchKid(token, key)
	if err != nil {
		return nil, "", err
	}

	claims := new(signatureClaims)
	_, err = jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return key.PublicKey, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
	)
	if err != nil {
		return nil, "", fmt.Errorf("verify signature %s: %w: %w", kid, errs.ErrSignatureUntrusted, err)
	}

	payload := &Payload{In: claims.In, Out: claims.Out, Builder: claims.Builder}
	if err := payload.checkShape(); err != nil {
		return nil, "", fmt.Errorf("verify signature %s: %w", kid, err)
	}
	if !payload.In.Matches(resolvedInputHash) {
		return nil, "", fmt.Errorf("verify signature %s: committed hash %q does not match %q: %w",
			kid, payload.In.RdrvATermCA, resolvedInputHash, errs.ErrSignatureMismatch)
	}
	return payload, kid, nil
}

// matchKid parses the token's header without verification and checks
// that the kid names the candidate key.
func matchKid(token string, key trust.TrustedKey) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrSignatureMalformed, err)
	}
	if alg, _ := parsed.Header["alg"].(string); alg != "EdDSA" {
		return "", fmt.Errorf("%w: alg %q, want EdDSA", errs.ErrSignatureMalformed, parsed.Header["alg"])
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return "", fmt.Errorf("%w: no kid in header", errs.ErrSignatureMalformed)
	}

	_, suffix, ok := strings.Cut(kid, ":")
	if !ok {
		return "", fmt.Errorf("%w: kid %q has no thumbprint suffix", errs.ErrSignatureMalformed, kid)
	}
	short, err := key.ShortThumbprint()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(suffix, short) {
		return "", fmt.Errorf("kid %q does not name this key: %w", kid, errs.ErrSignatureUntrusted)
	}
	return kid, nil
}
