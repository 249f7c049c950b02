// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package engine

import (
	"sort"
	"strings"

	"github.com/mschwaig/laut/trust"
)

// reasoner accumulates facts during one verification traversal and
// computes the set of root resolutions the trust model accepts. It is a
// builder-style append-only structure owned by a single verification
// call: facts go in while the engine walks the DAG, computeResult runs
// once at the end, then the reasoner is discarded.
//
// This is the in-process fixed-point rendition of the reference
// system's external Datalog-style solver; the fact vocabulary
// (unresolved_derivation, resolved_derivation, build_output_claim, fod)
// is carried over unchanged.
type reasoner struct {
	model        trust.Model
	expectedRoot string

	// resolved holds one entry per (drv_path, resolved_input_hash)
	// registered by the engine, with the input-resolution edges the
	// hash was computed from.
	resolved []resolvedFact

	// claims maps resolved input hash to the verified build-output
	// claims found for it.
	claims map[string][]trust.Claim

	// fods holds the trivially accepted fixed-output leaves.
	fods []fodFact
}

type resolvedFact struct {
	drvPath   string
	inputHash string
	children  []childEdge
}

// childEdge records which resolution of a child derivation a parent's
// resolved input hash was computed under.
type childEdge struct {
	drvPath   string
	inputHash string
	outputs   map[string]string
}

type fodFact struct {
	drvPath   string
	inputHash string
	outputs   map[string]string
}

// RootResolution is one accepted resolution of the verification root.
type RootResolution struct {
	DrvPath   string
	InputHash string
	Outputs   map[string]string
}

func newReasoner(model trust.Model, expectedRoot string) *reasoner {
	return &reasoner{
		model:        model,
		expectedRoot: expectedRoot,
		claims:       make(map[string][]trust.Claim),
	}
}

func (r *reasoner) addFOD(drvPath, inputHash string, outputs map[string]string) {
	r.fods = append(r.fods, fodFact{drvPath: drvPath, inputHash: inputHash, outputs: outputs})
}

func (r *reasoner) addResolvedDerivation(drvPath, inputHash string, children []childEdge) {
	r.resolved = append(r.resolved, resolvedFact{drvPath: drvPath, inputHash: inputHash, children: children})
}

func (r *reasoner) addBuildOutputClaim(inputHash string, outputs map[string]string, key trust.TrustedKey) {
	r.claims[inputHash] = append(r.claims[inputHash], trust.Claim{Key: key, Outputs: outputs})
}

// acceptKey is the identity of an accepted (drv_path, input_hash,
// output_map) triple in the fixed point below.
func acceptKey(drvPath, inputHash string, outputs map[string]string) string {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(drvPath)
	b.WriteByte(0)
	b.WriteString(inputHash)
	for _, name := range names {
		b.WriteByte(0)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(outputs[name])
	}
	return b.String()
}

// computeResult runs the trust model bottom-up over the accumulated
// facts and returns the accepted resolutions of the expected root,
// sorted by (drv_path, resolved_input_hash) so the choice among equally
// valid chains is deterministic.
//
// A resolved derivation is accepted iff (i) every child edge of its
// resolution is itself accepted (fixed-output leaves are accepted a
// priori with their declared outputs), and (ii) the trust model is
// satisfied by the verified claims at its resolved input hash agreeing
// on some output map. Acceptance never removes anything, so iterating
// to a fixed point terminates.
func (r *reasoner) computeResult() []RootResolution {
	accepted := make(map[string]bool)
	for _, fod := range r.fods {
		accepted[acceptKey(fod.drvPath, fod.inputHash, fod.outputs)] = true
	}

	type acceptedRes struct {
		drvPath   string
		inputHash string
		outputs   map[string]string
	}
	var results []acceptedRes

	for changed := true; changed; {
		changed = false
		for _, fact := range r.resolved {
			childrenOK := true
			for _, edge := range fact.children {
				if !accepted[acceptKey(edge.drvPath, edge.inputHash, edge.outputs)] {
					childrenOK = false
					break
				}
			}
			if !childrenOK {
				continue
			}
			for _, claim := range r.claims[fact.inputHash] {
				key := acceptKey(fact.drvPath, fact.inputHash, claim.Outputs)
				if accepted[key] {
					continue
				}
				if !r.model.Accepts(r.claims[fact.inputHash], claim.Outputs) {
					continue
				}
				accepted[key] = true
				changed = true
				results = append(results, acceptedRes{fact.drvPath, fact.inputHash, claim.Outputs})
			}
		}
	}

	var roots []RootResolution
	for _, fod := range r.fods {
		if fod.drvPath == r.expectedRoot {
			roots = append(roots, RootResolution{DrvPath: fod.drvPath, InputHash: fod.inputHash, Outputs: fod.outputs})
		}
	}
	for _, res := range results {
		if res.drvPath == r.expectedRoot {
			roots = append(roots, RootResolution{DrvPath: res.drvPath, InputHash: res.inputHash, Outputs: res.outputs})
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		if roots[i].DrvPath != roots[j].DrvPath {
			return roots[i].DrvPath < roots[j].DrvPath
		}
		return roots[i].InputHash < roots[j].InputHash
	})
	return roots
}
