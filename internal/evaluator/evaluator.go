// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package evaluator shells out to the external derivation evaluator:
// the collaborator that turns a derivation path or flake reference into
// JSON attribute records and that knows the content hashes of built
// store paths. laut never evaluates package expressions itself.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"zombiezen.com/go/log"

	"github.com/mschwaig/laut/drv"
	"github.com/mschwaig/laut/errs"
)

// Evaluator invokes a nix-compatible evaluator binary.
type Evaluator struct {
	// Bin is the evaluator executable, "nix" by default.
	Bin string
}

func (e *Evaluator) bin() string {
	if e.Bin == "" {
		return "nix"
	}
	return e.Bin
}

func (e *Evaluator) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.bin(), args...)
	log.Debugf(ctx, "running %s %s", e.bin(), strings.Join(args, " "))
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s %s: %w: %s", e.bin(), strings.Join(args, " "), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("%s %s: %w", e.bin(), strings.Join(args, " "), err)
	}
	return out, nil
}

// ResolveFlake resolves a flake-style reference ("<flake>#<attr>") to a
// derivation path.
func (e *Evaluator) ResolveFlake(ctx context.Context, flakeRef string) (string, error) {
	out, err := e.run(ctx, "eval", "--raw", flakeRef+".drvPath")
	if err != nil {
		return "", fmt.Errorf("resolve flake reference %q: %w", flakeRef, err)
	}
	drvPath := strings.TrimSpace(string(out))
	if drvPath == "" {
		return "", fmt.Errorf("resolve flake reference %q: evaluator returned no derivation path", flakeRef)
	}
	return drvPath, nil
}

// LoadClosure runs "derivation show -r" on the root and returns the
// flat drv_path -> attrs mapping for its whole closure.
func (e *Evaluator) LoadClosure(ctx context.Context, rootDrvPath string) (*DerivationSet, error) {
	out, err := e.run(ctx, "derivation", "show", "-r", rootDrvPath)
	if err != nil {
		return nil, err
	}
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(out, &attrs); err != nil {
		return nil, fmt.Errorf("derivation show %s: %w: %w", rootDrvPath, errs.ErrInvalidJSON, err)
	}
	return &DerivationSet{attrs: attrs}, nil
}

// LoadDerivation runs "derivation show" on a single (already resolved)
// derivation and returns its attrs.
func (e *Evaluator) LoadDerivation(ctx context.Context, drvPath string) (drv.Attrs, error) {
	set, err := e.LoadClosure(ctx, drvPath)
	if err != nil {
		return drv.Attrs{}, err
	}
	return set.DerivationAttrs(ctx, drvPath)
}

// PathContentHash queries the content hash of a built store path.
func (e *Evaluator) PathContentHash(ctx context.Context, storePath string) (string, error) {
	out, err := e.run(ctx, "path-info", "--json", storePath)
	if err != nil {
		return "", err
	}
	// "nix path-info --json" emits either a list of info objects or a
	// path-keyed object, depending on version; accept both.
	var asList []struct {
		NarHash string `json:"narHash"`
	}
	if err := json.Unmarshal(out, &asList); err == nil && len(asList) > 0 {
		return asList[0].NarHash, nil
	}
	var asMap map[string]struct {
		NarHash string `json:"narHash"`
	}
	if err := json.Unmarshal(out, &asMap); err == nil {
		for _, info := range asMap {
			return info.NarHash, nil
		}
	}
	return "", fmt.Errorf("path-info %s: unrecognized output shape", storePath)
}

// DerivationSet is an evaluator-produced drv_path -> attrs mapping. It
// implements [drv.AttrsSource] for the DAG builder and serves ATerm
// text by reading the .drv files themselves, which live on disk next to
// their outputs.
type DerivationSet struct {
	attrs map[string]json.RawMessage
}

func (s *DerivationSet) DerivationAttrs(ctx context.Context, drvPath string) (drv.Attrs, error) {
	raw, ok := s.attrs[drvPath]
	if !ok {
		return drv.Attrs{}, fmt.Errorf("derivation %s not in evaluated closure", drvPath)
	}
	return drv.ParseAttrs(raw)
}

func (s *DerivationSet) DerivationATerm(ctx context.Context, drvPath string) ([]byte, error) {
	data, err := os.ReadFile(drvPath)
	if err != nil {
		return nil, fmt.Errorf("read derivation aterm: %w", err)
	}
	return data, nil
}
