// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package engine implements the verification traversal: the post-order,
// memoized walk over an unresolved derivation DAG that enumerates
// candidate resolutions per node, fetches and verifies trace signatures
// for each resolved input hash, and asks the trust-model reasoner for
// the accepted root resolutions.
package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"

	"github.com/mschwaig/laut/drv"
	"github.com/mschwaig/laut/errs"
	"github.com/mschwaig/laut/resolve"
	"github.com/mschwaig/laut/sigstore"
	"github.com/mschwaig/laut/sigverify"
	"github.com/mschwaig/laut/trust"
)

// Fetcher is the slice of the signature store the engine needs. In
// production this is a [sigstore.Group] over the configured caches.
type Fetcher interface {
	Fetch(ctx context.Context, resolvedInputHash string) ([]string, error)
}

// defaultFetchConcurrency bounds how many signature lookups one node's
// resolution combinations issue at a time.
const defaultFetchConcurrency = 8

// Engine wires the DAG builder, resolver, signature store, and trust
// model into one verification entry point. All fields are set once and
// the Engine may then serve any number of Verify calls; per-call state
// (memo, reasoner) lives in the verification struct.
type Engine struct {
	Attrs drv.AttrsSource
	ATerm resolve.ATermSource
	Store Fetcher
	Model trust.Model

	// StoreDir is the store directory resolved derivation paths are
	// computed under, e.g. "/nix/store".
	StoreDir string

	// AllowInputAddressed permits traversal of input-addressed
	// derivations, treating them like content-addressed ones.
	AllowInputAddressed bool

	// FetchConcurrency bounds concurrent signature lookups per node;
	// zero means the default.
	FetchConcurrency int

	// PreimageIndex, when set, is consulted for signer-side preimages
	// whenever a resolved input hash has no signatures, and the
	// comparison is logged. Diagnostic only.
	PreimageIndex *sigstore.PreimageIndex
}

// Result is the outcome of one verification call.
type Result struct {
	// Roots is the set of root resolutions accepted by the trust
	// model, sorted by (drv_path, resolved_input_hash). Empty means
	// the trust model was not satisfied.
	Roots []RootResolution

	// Plausible is every resolution of the root the engine found a
	// verified signature for, before the reasoner applied quorum and
	// chain-consistency requirements. Useful for diagnostics.
	Plausible []*drv.TrustlesslyResolvedDerivation
}

// Satisfied reports whether the trust model accepted at least one root
// resolution.
func (r *Result) Satisfied() bool {
	return len(r.Roots) > 0
}

// Verify builds the unresolved DAG rooted at rootDrvPath and runs the
// verification traversal over it.
//
// Verification never fails fast on missing or mismatching signatures:
// it gathers all plausible resolutions so the reasoner can pick a
// consistent chain even when multiple builds disagree. A Result with no
// accepted roots is not an error; only setup and evaluator I/O failures
// are.
func (e *Engine) Verify(ctx context.Context, rootDrvPath string) (*Result, error) {
	builder := drv.NewBuilder(e.Attrs)
	builder.AllowInputAddressed = e.AllowInputAddressed
	root, err := builder.Build(ctx, rootDrvPath)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", rootDrvPath, err)
	}

	v := &verification{
		engine:   e,
		memo:     make(map[string][]*drv.TrustlesslyResolvedDerivation),
		reasoner: newReasoner(e.Model, rootDrvPath),
	}
	plausible, err := v.resolveNode(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", rootDrvPath, err)
	}

	return &Result{
		Roots:     v.reasoner.computeResult(),
		Plausible: plausible,
	}, nil
}

// verification is the state of one Verify call: the traversal memo and
// the fact-accumulating reasoner. Both die with the call.
type verification struct {
	engine   *Engine
	memo     map[string][]*drv.TrustlesslyResolvedDerivation
	reasoner *reasoner
}

// resolveNode returns every plausible resolution of ud, memoized by
// drv_path for the duration of this verification.
func (v *verification) resolveNode(ctx context.Context, ud *drv.UnresolvedDerivation) ([]*drv.TrustlesslyResolvedDerivation, error) {
	if cached, ok := v.memo[ud.DrvPath]; ok {
		return cached, nil
	}
	resolutions, err := v.resolveNodeUncached(ctx, ud)
	if err != nil {
		return nil, err
	}
	v.memo[ud.DrvPath] = resolutions
	return resolutions, nil
}

func (v *verification) resolveNodeUncached(ctx context.Context, ud *drv.UnresolvedDerivation) ([]*drv.TrustlesslyResolvedDerivation, error) {
	if ud.IsFixedOutput {
		res, err := resolve.FixedOutputResolution(ud)
		if err != nil {
			return nil, err
		}
		v.reasoner.addFOD(ud.DrvPath, res.InputHash, res.OutputSet())
		return []*drv.TrustlesslyResolvedDerivation{res}, nil
	}

	// Recurse into every input first; an unresolvable dependency makes
	// this node unresolvable too.
	childSets := make([][]*drv.TrustlesslyResolvedDerivation, len(ud.Inputs))
	for i, input := range ud.Inputs {
		set, err := v.resolveNode(ctx, input.Derivation)
		if err != nil {
			return nil, err
		}
		if len(set) == 0 {
			log.Debugf(ctx, "%s: no resolutions for input %s", ud.DrvPath, input.Derivation.DrvPath)
			return nil, nil
		}
		childSets[i] = set
	}

	candidates, err := v.enumerateResolutions(ctx, ud, childSets)
	if err != nil {
		return nil, err
	}
	return v.checkResolutions(ctx, ud, candidates)
}

// candidateResolution is one Cartesian combination of the children's
// resolutions together with the resolved input hash it yields.
type candidateResolution struct {
	inputHash  string
	drvPath    string
	signatures []string
}

// enumerateResolutions computes the resolved input hash for every
// combination of child resolutions and registers each with the
// reasoner. A combination whose preimage cannot be computed is logged
// and dropped, losing only that one candidate; a preimage that still
// carries a referenced input's placeholder is kept (its hash simply
// matches no signature) and the survivor is logged as a diagnostic.
func (v *verification) enumerateResolutions(ctx context.Context, ud *drv.UnresolvedDerivation, childSets [][]*drv.TrustlesslyResolvedDerivation) ([]*candidateResolution, error) {
	var candidates []*candidateResolution

	indices := make([]int, len(childSets))
	for {
		assignment := make(resolve.Resolutions, len(ud.Inputs))
		for i, input := range ud.Inputs {
			assignment[input.Derivation.DrvPath] = childSets[i][indices[i]]
		}

		result, resolvedPath, err := resolve.ATermPreimage(ctx, ud, assignment, v.engine.ATerm, v.engine.StoreDir)
		if err != nil {
			log.Debugf(ctx, "%s: dropping resolution candidate: %v", ud.DrvPath, err)
		} else {
			for _, p := range resolve.DanglingPlaceholders(result.Preimage, ud) {
				// Diagnostic only: the hash simply matches no signature.
				log.Debugf(ctx, "%s: %v: %s", ud.DrvPath, errs.ErrDanglingPlaceholder, p)
			}
			edges := make([]childEdge, 0, len(ud.Inputs))
			for _, input := range ud.Inputs {
				res := assignment[input.Derivation.DrvPath]
				edges = append(edges, childEdge{
					drvPath:   input.Derivation.DrvPath,
					inputHash: res.InputHash,
					outputs:   res.OutputSet(),
				})
			}
			v.reasoner.addResolvedDerivation(ud.DrvPath, result.InputHash, edges)
			candidates = append(candidates, &candidateResolution{
				inputHash: result.InputHash,
				drvPath:   resolvedPath,
			})
		}

		// Advance the mixed-radix combination counter.
		i := len(indices) - 1
		for ; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(childSets[i]) {
				break
			}
			indices[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return candidates, nil
}

// checkResolutions fetches signatures for every candidate concurrently,
// then verifies them in candidate order so the outcome is independent
// of response timing.
func (v *verification) checkResolutions(ctx context.Context, ud *drv.UnresolvedDerivation, candidates []*candidateResolution) ([]*drv.TrustlesslyResolvedDerivation, error) {
	limit := v.engine.FetchConcurrency
	if limit <= 0 {
		limit = defaultFetchConcurrency
	}
	eg, fetchCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, c := range candidates {
		eg.Go(func() error {
			sigs, err := v.engine.Store.Fetch(fetchCtx, c.inputHash)
			if err != nil {
				log.Warnf(fetchCtx, "%s: fetch signatures for %s: %v", ud.DrvPath, c.inputHash, err)
				return nil
			}
			c.signatures = sigs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var accepted []*drv.TrustlesslyResolvedDerivation
	for _, c := range candidates {
		if len(c.signatures) == 0 {
			v.logMissingSignature(ctx, ud, c)
			continue
		}
		for _, res := range v.verifyCandidate(ctx, ud, c) {
			accepted = appendResolution(accepted, res)
		}
	}
	return accepted, nil
}

// verifyCandidate tests every fetched signature against every trusted
// key, registers a build-output claim for each success, and returns the
// resulting resolutions.
func (v *verification) verifyCandidate(ctx context.Context, ud *drv.UnresolvedDerivation, c *candidateResolution) []*drv.TrustlesslyResolvedDerivation {
	type verified struct {
		kid     string
		token   string
		key     trust.TrustedKey
		payload *sigverify.Payload
	}
	var hits []verified
	for _, key := range v.engine.Model.Keys() {
		for _, token := range dedupe(c.signatures) {
			payload, kid, err := sigverify.Verify(token, key, c.inputHash)
			if err != nil {
				log.Debugf(ctx, "%s: signature rejected for %s: %v", ud.DrvPath, c.inputHash, err)
				continue
			}
			hits = append(hits, verified{kid: kid, token: token, key: key, payload: payload})
		}
	}
	// Output-map selection is deterministic: consider signatures in
	// (kid, serialized payload) order.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].kid != hits[j].kid {
			return hits[i].kid < hits[j].kid
		}
		return hits[i].token < hits[j].token
	})

	var out []*drv.TrustlesslyResolvedDerivation
	for _, hit := range hits {
		outputs := make(map[string]string, len(hit.payload.Out.Nix))
		skip := false
		for name, claim := range hit.payload.Out.Nix {
			if _, ok := ud.Outputs[name]; !ok {
				log.Debugf(ctx, "%s: signature %s names unknown output %q", ud.DrvPath, hit.kid, name)
				skip = true
				break
			}
			outputs[name] = claim.Path
		}
		if skip {
			continue
		}
		v.reasoner.addBuildOutputClaim(c.inputHash, outputs, hit.key)
		out = appendResolution(out, &drv.TrustlesslyResolvedDerivation{
			Resolves:  ud,
			DrvPath:   c.drvPath,
			InputHash: c.inputHash,
			Outputs:   outputs,
		})
	}
	return out
}

// logMissingSignature surfaces the signer-side preimage from the debug
// index, if one is configured, next to the hash the verifier computed.
func (v *verification) logMissingSignature(ctx context.Context, ud *drv.UnresolvedDerivation, c *candidateResolution) {
	log.Debugf(ctx, "%s: no signatures at %s", ud.DrvPath, c.inputHash)
	if v.engine.PreimageIndex == nil {
		return
	}
	name, err := ud.Attrs.Name()
	if err != nil {
		return
	}
	indexed, err := v.engine.PreimageIndex.Lookup(name)
	if err != nil {
		log.Debugf(ctx, "%s: preimage index lookup: %v", ud.DrvPath, err)
		return
	}
	for _, entry := range indexed {
		log.Debugf(ctx, "%s: signer-side preimage for %s (verifier computed %s):\n%s",
			ud.DrvPath, entry.RdrvPath, c.inputHash, entry.Preimage)
	}
}

// appendResolution adds res unless an equal resolution is already
// present.
func appendResolution(set []*drv.TrustlesslyResolvedDerivation, res *drv.TrustlesslyResolvedDerivation) []*drv.TrustlesslyResolvedDerivation {
	for _, existing := range set {
		if existing.Equal(res) {
			return set
		}
	}
	return append(set, res)
}

func dedupe(sigs []string) []string {
	var out []string
	seen := make(map[string]bool, len(sigs))
	for _, s := range sigs {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
