// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package drv

import (
	"context"
	"fmt"

	"github.com/mschwaig/laut/errs"
	"github.com/mschwaig/laut/hashing"
)

// AttrsSource resolves a derivation path to its JSON attribute record.
// In production this is backed by the external evaluator (package
// internal/evaluator); tests can supply a plain map.
type AttrsSource interface {
	DerivationAttrs(ctx context.Context, drvPath string) (Attrs, error)
}

// Builder constructs the unresolved dependency DAG for a derivation and
// memoizes nodes by drv_path, so a derivation referenced by multiple
// dependents is parsed and classified exactly once.
type Builder struct {
	Source AttrsSource

	// AllowInputAddressed permits building the DAG for non-fixed-output,
	// non-content-addressed (input-addressed) derivations. Default
	// false: such derivations fail with [errs.ErrUnsupportedInputAddressed].
	AllowInputAddressed bool

	memo map[string]*UnresolvedDerivation
}

// NewBuilder returns a Builder backed by source.
func NewBuilder(source AttrsSource) *Builder {
	return &Builder{Source: source, memo: make(map[string]*UnresolvedDerivation)}
}

// Build constructs the UnresolvedDerivation rooted at drvPath, recursing
// into every input derivation via post-order traversal.
//
// A derivation already seen earlier in this Builder's lifetime (by
// drv_path) is returned from the memo rather than rebuilt, so shared
// dependencies are represented by a single node.
func (b *Builder) Build(ctx context.Context, drvPath string) (*UnresolvedDerivation, error) {
	if node, ok := b.memo[drvPath]; ok {
		return node, nil
	}

	attrs, err := b.Source.DerivationAttrs(ctx, drvPath)
	if err != nil {
		return nil, fmt.Errorf("build unresolved tree for %s: %w", drvPath, err)
	}

	outputMap, order, err := attrs.Outputs()
	if err != nil {
		return nil, fmt.Errorf("build unresolved tree for %s: %w", drvPath, err)
	}
	isFixedOutput, isContentAddressed := DerivationKind(outputMap, order)

	outputs, err := unresolvedOutputs(drvPath, outputMap, isContentAddressed)
	if err != nil {
		return nil, fmt.Errorf("build unresolved tree for %s: %w", drvPath, err)
	}

	inputHash, err := hashing.ExtractStoreHash(drvPath)
	if err != nil {
		return nil, fmt.Errorf("build unresolved tree for %s: %w", drvPath, err)
	}

	node := &UnresolvedDerivation{
		DrvPath:            drvPath,
		Attrs:              attrs,
		InputHash:          inputHash,
		Outputs:            outputs,
		IsFixedOutput:      isFixedOutput,
		IsContentAddressed: isContentAddressed,
	}
	if !isFixedOutput && !isContentAddressed && !b.AllowInputAddressed {
		return nil, fmt.Errorf("build unresolved tree for %s: %w", drvPath, errs.ErrUnsupportedInputAddressed)
	}
	// Insert into the memo before recursing: a derivation cannot
	// reference itself (the graph is a DAG), but inserting early keeps
	// behavior correct if the evaluator ever emits a degenerate cycle
	// rather than spinning forever.
	b.memo[drvPath] = node

	if isFixedOutput {
		return node, nil
	}

	inputDrvs, err := attrs.InputDrvs()
	if err != nil {
		return nil, fmt.Errorf("build unresolved tree for %s: %w", drvPath, err)
	}

	referenced := make([]UnresolvedReferencedInputs, 0, len(inputDrvs))
	for depPath, spec := range inputDrvs {
		depNode, err := b.Build(ctx, depPath)
		if err != nil {
			return nil, err
		}
		inputs := make(map[string]UnresolvedOutput, len(spec.Outputs))
		for _, outName := range spec.Outputs {
			out, ok := depNode.Outputs[outName]
			if !ok {
				return nil, fmt.Errorf("build unresolved tree for %s: input drv %s has no output %q: %w", drvPath, depPath, outName, errs.ErrInvalidJSON)
			}
			inputs[outName] = out
		}
		referenced = append(referenced, UnresolvedReferencedInputs{Derivation: depNode, Inputs: inputs})
	}
	node.Inputs = referenced

	return node, nil
}

// unresolvedOutputs builds the UnresolvedOutput set for one derivation's
// outputs: content-addressed outputs get no input_hash and a
// "drvPath$name" placeholder path; input-addressed outputs carry the
// store hash extracted from their declared path.
func unresolvedOutputs(drvPath string, outputMap map[string]OutputSpec, isContentAddressed bool) (map[string]UnresolvedOutput, error) {
	outputs := make(map[string]UnresolvedOutput, len(outputMap))
	for name, spec := range outputMap {
		if isContentAddressed {
			outputs[name] = UnresolvedOutput{
				OutputName:     name,
				DrvPath:        drvPath,
				InputHash:      "",
				UnresolvedPath: drvPath + "$" + name,
			}
			continue
		}
		digest, err := hashing.ExtractStoreHash(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		outputs[name] = UnresolvedOutput{
			OutputName:     name,
			DrvPath:        drvPath,
			InputHash:      digest,
			UnresolvedPath: spec.Path,
		}
	}
	return outputs, nil
}
