// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package resolve computes the resolved input hash of a derivation given
// an assignment of its dependencies to resolved derivations.
//
// Two preimage encodings are supported: [JSONPreimage] hashes the
// canonical resolved JSON as URL-safe-base64 SHA-256, and
// [ATermPreimage] yields the 32-char store-path digest of the resolved
// ATerm text.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mschwaig/laut/drv"
	"github.com/mschwaig/laut/errs"
	"github.com/mschwaig/laut/hashing"
	"github.com/mschwaig/laut/internal/aterm"
	"github.com/mschwaig/laut/storepath"
)

// Resolutions maps a dependency's drv_path to the resolution assigned
// to it. Keyed by path rather than node identity, since paths are what
// is available across a resolver call boundary.
type Resolutions map[string]*drv.TrustlesslyResolvedDerivation

// Result is a computed resolution: its hash and the exact preimage bytes
// that were hashed (useful for debug logging and for the signer, which
// embeds the preimage in its payload when configured to).
type Result struct {
	InputHash string
	Preimage  []byte
}

// DanglingPlaceholders returns the upstream placeholders of ud's
// referenced inputs that are still present in preimage after
// substitution. A derivation's own floating-output placeholders are
// legitimately unbound and are not reported; a referenced input's
// placeholder surviving substitution is a diagnostic (the computed hash
// will simply match no signature), never a hard failure.
func DanglingPlaceholders(preimage []byte, ud *drv.UnresolvedDerivation) []string {
	var dangling []string
	text := string(preimage)
	for _, ref := range ud.Inputs {
		if ref.Derivation.IsFixedOutput {
			continue
		}
		for _, out := range ref.Inputs {
			if p := out.Placeholder(); strings.Contains(text, p) {
				dangling = append(dangling, p)
			}
		}
	}
	sort.Strings(dangling)
	return dangling
}

// JSONPreimage computes the resolved input hash of ud by substituting
// resolutions into ud's canonical JSON attribute record.
//
// Only referenced inputs' placeholders are substituted; a derivation's
// own floating-output placeholders stay in the preimage and are hashed
// over, so signer and verifier agree on the bytes. Use
// [DanglingPlaceholders] to diagnose a referenced placeholder that
// survived substitution.
//
// Fixed-output derivations need no resolution: their resolved input hash
// is their own unresolved input hash, and the caller should use
// ud.InputHash directly rather than calling JSONPreimage.
func JSONPreimage(ud *drv.UnresolvedDerivation, resolutions Resolutions) (Result, error) {
	if len(ud.Inputs) > 0 && len(resolutions) == 0 {
		return Result{}, fmt.Errorf("resolve %s: %w", ud.DrvPath, errs.ErrUnresolvedDependency)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(ud.Attrs.Raw(), &obj); err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w: %w", ud.DrvPath, errs.ErrInvalidJSON, err)
	}

	inputSrcs, err := ud.Attrs.InputSrcs()
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", ud.DrvPath, err)
	}

	for _, ref := range ud.Inputs {
		if ref.Derivation.IsFixedOutput {
			continue
		}
		res, ok := resolutions[ref.Derivation.DrvPath]
		if !ok {
			return Result{}, fmt.Errorf("resolve %s: input %s: %w", ud.DrvPath, ref.Derivation.DrvPath, errs.ErrUnresolvedDependency)
		}
		for name := range ref.Inputs {
			contentHash, ok := res.Outputs[name]
			if !ok {
				return Result{}, fmt.Errorf("resolve %s: input %s: no resolved output %q", ud.DrvPath, ref.Derivation.DrvPath, name)
			}
			inputSrcs = append(inputSrcs, contentHash)
		}
	}
	sort.Strings(inputSrcs)

	rawSrcs, err := json.Marshal(inputSrcs)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", ud.DrvPath, err)
	}
	obj["inputSrcs"] = rawSrcs
	obj["inputDrvs"] = json.RawMessage(`{}`)

	canon, err := hashing.CanonicalJSON(obj)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", ud.DrvPath, err)
	}

	text := substitutePlaceholders(string(canon), ud, resolutions)

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w: %w", ud.DrvPath, errs.ErrInvalidJSON, err)
	}
	finalCanon, err := hashing.CanonicalJSON(v)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", ud.DrvPath, err)
	}

	return Result{
		InputHash: hashing.SHA256URLSafeNoPad(finalCanon),
		Preimage:  finalCanon,
	}, nil
}

// substitutePlaceholders replaces every occurrence of a referenced
// output's upstream placeholder with its resolved content hash.
func substitutePlaceholders(text string, ud *drv.UnresolvedDerivation, resolutions Resolutions) string {
	for _, ref := range ud.Inputs {
		if ref.Derivation.IsFixedOutput {
			continue
		}
		res, ok := resolutions[ref.Derivation.DrvPath]
		if !ok {
			continue
		}
		for name, out := range ref.Inputs {
			contentHash, ok := res.Outputs[name]
			if !ok {
				continue
			}
			text = strings.ReplaceAll(text, out.Placeholder(), contentHash)
		}
	}
	return text
}

// ATermSource resolves a derivation path to its raw ATerm text, the
// source internal/evaluator supplies in production.
type ATermSource interface {
	DerivationATerm(ctx context.Context, drvPath string) ([]byte, error)
}

// ATermPreimage computes the resolved input hash of ud by parsing its
// ATerm, substituting resolutions, reassembling it, and deriving the
// resulting text's own drv store path. As with [JSONPreimage], the
// derivation's own floating-output placeholders stay in the preimage.
//
// Unlike [JSONPreimage], this also yields a resolved drv_path: the store
// path the resolved (post-substitution) derivation text would occupy.
func ATermPreimage(ctx context.Context, ud *drv.UnresolvedDerivation, resolutions Resolutions, source ATermSource, storeDir string) (Result, string, error) {
	if len(ud.Inputs) > 0 && len(resolutions) == 0 {
		return Result{}, "", fmt.Errorf("resolve %s: %w", ud.DrvPath, errs.ErrUnresolvedDependency)
	}

	text, err := source.DerivationATerm(ctx, ud.DrvPath)
	if err != nil {
		return Result{}, "", fmt.Errorf("resolve %s: %w", ud.DrvPath, err)
	}
	parsed, err := aterm.ParseDerivation(text)
	if err != nil {
		return Result{}, "", fmt.Errorf("resolve %s: %w: %w", ud.DrvPath, errs.ErrInvalidATerm, err)
	}

	var inputSrcs []string
	inputSrcs = append(inputSrcs, parsed.InputSrcs...)

	for _, ref := range ud.Inputs {
		if ref.Derivation.IsFixedOutput {
			continue
		}
		res, ok := resolutions[ref.Derivation.DrvPath]
		if !ok {
			return Result{}, "", fmt.Errorf("resolve %s: input %s: %w", ud.DrvPath, ref.Derivation.DrvPath, errs.ErrUnresolvedDependency)
		}
		for name := range ref.Inputs {
			contentHash, ok := res.Outputs[name]
			if !ok {
				return Result{}, "", fmt.Errorf("resolve %s: input %s: no resolved output %q", ud.DrvPath, ref.Derivation.DrvPath, name)
			}
			inputSrcs = append(inputSrcs, contentHash)
		}
	}
	sort.Strings(inputSrcs)

	parsed.InputSrcs = inputSrcs
	parsed.InputDrvs = nil

	resolvedText := string(aterm.Format(parsed))
	resolvedText = substitutePlaceholders(resolvedText, ud, resolutions)

	name, err := ud.Attrs.Name()
	if err != nil {
		return Result{}, "", fmt.Errorf("resolve %s: %w", ud.DrvPath, err)
	}

	resolvedPath, err := storepath.ComputeDerivationPath(storeDir, name+".drv", []byte(resolvedText), inputSrcs)
	if err != nil {
		return Result{}, "", fmt.Errorf("resolve %s: %w", ud.DrvPath, err)
	}
	digest, err := storepath.ExtractStoreHash(string(resolvedPath))
	if err != nil {
		return Result{}, "", fmt.Errorf("resolve %s: %w", ud.DrvPath, err)
	}

	return Result{
		InputHash: digest,
		Preimage:  []byte(resolvedText),
	}, string(resolvedPath), nil
}

// FixedOutputResolution returns the resolution for a fixed-output leaf:
// its own unresolved input hash and its declared outputs, with no
// substitution needed. A fixed-output derivation declares its result up
// front, so the unresolved and resolved input hashes coincide.
func FixedOutputResolution(ud *drv.UnresolvedDerivation) (*drv.TrustlesslyResolvedDerivation, error) {
	outputMap, order, err := ud.Attrs.Outputs()
	if err != nil {
		return nil, fmt.Errorf("resolve fixed-output %s: %w", ud.DrvPath, err)
	}
	outputs := make(map[string]string, len(outputMap))
	for _, name := range order {
		outputs[name] = outputMap[name].Path
	}
	return &drv.TrustlesslyResolvedDerivation{
		Resolves:  ud,
		DrvPath:   "",
		InputHash: ud.InputHash,
		Outputs:   outputs,
	}, nil
}
