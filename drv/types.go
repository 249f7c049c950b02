// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package drv models build derivations before and after dependency
// resolution, and builds the dependency DAG between them.
//
// An [UnresolvedDerivation] is everything knowable about a derivation
// from its own JSON attribute record and store path alone. Resolving one
// (package resolve) walks its [UnresolvedReferencedInputs] and produces a
// TrustlesslyResolvedDerivation whose input_hash is stable under
// upstream-output substitution.
package drv

import "github.com/mschwaig/laut/hashing"

// UnresolvedOutput is one named output of an [UnresolvedDerivation]: its
// declared path (input-addressed) or its drv-relative placeholder path
// (content-addressed), not yet resolved to a built content hash.
type UnresolvedOutput struct {
	OutputName string
	DrvPath    string

	// InputHash is the unresolved store-path digest of this output, or
	// the empty string for content-addressed outputs (which have none
	// until resolved).
	InputHash string

	// UnresolvedPath is the input-addressed output path as declared in
	// the derivation, or "drvPath$name" for content-addressed outputs
	// that have no path until built.
	UnresolvedPath string
}

// Placeholder returns the nixbase32 token that stands in for this output
// wherever it is referenced from a dependent derivation's preimage.
func (o UnresolvedOutput) Placeholder() string {
	return hashing.UpstreamPlaceholder(o.DrvPath, o.OutputName)
}

// Equal reports whether o and other identify the same output. Per the
// derivation model, the output name already factors into a content-
// addressed input_hash, so equality is name, declared path, and
// input_hash together.
func (o UnresolvedOutput) Equal(other UnresolvedOutput) bool {
	return o.OutputName == other.OutputName &&
		o.UnresolvedPath == other.UnresolvedPath &&
		o.InputHash == other.InputHash
}

// UnresolvedDerivation is a node in the build-time dependency DAG: a
// derivation's own shape (outputs, fixed-output/content-addressed
// classification) plus pointers to the UnresolvedDerivation of every
// input it depends on.
//
// Two UnresolvedDerivations with equal InputHash are considered
// identical regardless of any other field; the DAG builder relies on
// this to memoize by drv_path.
type UnresolvedDerivation struct {
	DrvPath string
	Attrs   Attrs

	// InputHash is the unresolved, path-derived 32-char digest extracted
	// from DrvPath.
	InputHash string

	// Inputs holds one UnresolvedReferencedInputs per distinct
	// dependency derivation.
	Inputs []UnresolvedReferencedInputs

	// Outputs maps output name to UnresolvedOutput.
	Outputs map[string]UnresolvedOutput

	IsFixedOutput      bool
	IsContentAddressed bool
}

// Equal reports whether d and other are the same derivation node, by
// input_hash alone.
func (d *UnresolvedDerivation) Equal(other *UnresolvedDerivation) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.InputHash == other.InputHash
}

// OutputNames returns the derivation's output names in no particular
// order; unlike [Attrs.Outputs], it does not preserve JSON key order.
func (d *UnresolvedDerivation) OutputNames() []string {
	names := make([]string, 0, len(d.Outputs))
	for name := range d.Outputs {
		names = append(names, name)
	}
	return names
}

// UnresolvedReferencedInputs is the subset of one dependency
// derivation's outputs that a dependent derivation actually references.
type UnresolvedReferencedInputs struct {
	Derivation *UnresolvedDerivation
	Inputs     map[string]UnresolvedOutput
}

// Equal compares by (derivation, inputs): the referenced derivation's
// identity and the referenced-output set, order independent.
func (r UnresolvedReferencedInputs) Equal(other UnresolvedReferencedInputs) bool {
	if !r.Derivation.Equal(other.Derivation) {
		return false
	}
	if len(r.Inputs) != len(other.Inputs) {
		return false
	}
	for name, out := range r.Inputs {
		o, ok := other.Inputs[name]
		if !ok || !out.Equal(o) {
			return false
		}
	}
	return true
}

// ContentHash is the content hash or resolved store path recorded for a
// built output.
type ContentHash = string

// TrustlesslyResolvedDerivation is the result of resolving an
// UnresolvedDerivation's dependencies: a derivation whose input_hash is
// computed over the preimage with every referenced input's placeholder
// substituted (its own floating-output placeholders stay in place).
//
// ResolvedDerivation is the public name used throughout the verification
// engine and trust model.
type TrustlesslyResolvedDerivation struct {
	Resolves *UnresolvedDerivation

	// DrvPath is the canonical path of the resolved (post-substitution)
	// derivation. It is empty for fixed-output leaves, which have no
	// separate resolved derivation text to point to.
	DrvPath string

	// InputHash is the resolved input hash. The verification engine
	// sets it to the 32-char store-path digest of the resolved ATerm
	// (see resolve.ATermPreimage); for fixed-output leaves it is the
	// unresolved input hash.
	InputHash string

	// Outputs maps output name (matching a key of Resolves.Outputs) to
	// its built content hash or store path.
	Outputs map[string]ContentHash
}

// ResolvedDerivation is the name used by the trust model and engine for
// a [TrustlesslyResolvedDerivation]; laut has exactly one resolution
// strategy, so the two names refer to the same type.
type ResolvedDerivation = TrustlesslyResolvedDerivation

// Equal compares by (input_hash, outputs): two resolutions are
// equivalent if they hash the same preimage and assign the same content
// to every output, regardless of which unresolved derivation produced
// them.
func (r *TrustlesslyResolvedDerivation) Equal(other *TrustlesslyResolvedDerivation) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.InputHash != other.InputHash {
		return false
	}
	if len(r.Outputs) != len(other.Outputs) {
		return false
	}
	for name, hash := range r.Outputs {
		if other.Outputs[name] != hash {
			return false
		}
	}
	return true
}

// OutputSet returns the {output_name: content_hash} pairing used by the
// trust model's output-map equality check, as a comparable map value.
func (r *TrustlesslyResolvedDerivation) OutputSet() map[string]ContentHash {
	set := make(map[string]ContentHash, len(r.Outputs))
	for k, v := range r.Outputs {
		set[k] = v
	}
	return set
}
