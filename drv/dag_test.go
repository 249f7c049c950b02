// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package drv

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mschwaig/laut/errs"
)

type mapSource map[string]string

func (m mapSource) DerivationAttrs(ctx context.Context, drvPath string) (Attrs, error) {
	text, ok := m[drvPath]
	if !ok {
		return Attrs{}, errors.New("no such derivation")
	}
	return ParseAttrs(json.RawMessage(text))
}

const leafDrv = `/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-dep.drv`
const rootDrv = `/nix/store/fxz942i5pzia8cgha06swhq216l01p8d-root.drv`

func fixtureSource() mapSource {
	return mapSource{
		leafDrv: `{
			"name": "dep",
			"outputs": {"out": {"path": "/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-dep"}},
			"inputDrvs": {},
			"inputSrcs": []
		}`,
		rootDrv: `{
			"name": "root",
			"outputs": {"out": {"path": "/nix/store/ghbjxpkawsmg17bl7sv03h2cgms1qh12-root"}},
			"inputDrvs": {"` + leafDrv + `": {"outputs": ["out"]}},
			"inputSrcs": []
		}`,
	}
}

func TestBuilderBuildTwoLevel(t *testing.T) {
	b := NewBuilder(fixtureSource())
	b.AllowInputAddressed = true
	root, err := b.Build(context.Background(), rootDrv)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if root.IsFixedOutput || root.IsContentAddressed {
		t.Errorf("root: isFixedOutput=%v isContentAddressed=%v; want both false (input-addressed)", root.IsFixedOutput, root.IsContentAddressed)
	}
	if len(root.Inputs) != 1 {
		t.Fatalf("root.Inputs: len = %d; want 1", len(root.Inputs))
	}
	dep := root.Inputs[0]
	if dep.Derivation.DrvPath != leafDrv {
		t.Errorf("dep drv path = %q; want %q", dep.Derivation.DrvPath, leafDrv)
	}
	if _, ok := dep.Inputs["out"]; !ok {
		t.Errorf("dep.Inputs missing %q", "out")
	}
}

func TestBuilderMemoizesByDrvPath(t *testing.T) {
	b := NewBuilder(fixtureSource())
	b.AllowInputAddressed = true
	ctx := context.Background()
	first, err := b.Build(ctx, leafDrv)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(ctx, leafDrv)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("Build called twice for %s returned distinct nodes; want the same memoized pointer", leafDrv)
	}
}

func TestBuilderRejectsInputAddressedByDefault(t *testing.T) {
	iaDrv := `/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-ia.drv`
	src := mapSource{
		iaDrv: `{
			"name": "ia",
			"outputs": {"out": {"path": "/nix/store/1jyz6snd63xjn6skk7za6psgidsd53k0-ia"}},
			"inputDrvs": {},
			"inputSrcs": []
		}`,
	}
	b := NewBuilder(src)
	_, err := b.Build(context.Background(), iaDrv)
	if err == nil {
		t.Fatal("Build: want error for input-addressed derivation when AllowInputAddressed is false")
	}
	if !errors.Is(err, errs.ErrUnsupportedInputAddressed) {
		t.Errorf("Build error = %v; want wrapping ErrUnsupportedInputAddressed", err)
	}

	b2 := NewBuilder(src)
	b2.AllowInputAddressed = true
	node, err := b2.Build(context.Background(), iaDrv)
	if err != nil {
		t.Fatalf("Build with AllowInputAddressed: %v", err)
	}
	if node.IsFixedOutput {
		t.Errorf("node.IsFixedOutput = true; want false")
	}
}

func TestBuilderFixedOutputHasNoInputs(t *testing.T) {
	fodDrv := `/nix/store/fxz942i5pzia8cgha06swhq216l01p8d-fod.drv`
	src := mapSource{
		fodDrv: `{
			"name": "fod",
			"outputs": {"out": {
				"path": "/nix/store/13a1arglc9dcx5p77nr8pbhd3m7xhgbc-fod",
				"hash": "deadbeef",
				"hashAlgo": "sha256"
			}},
			"inputDrvs": {"` + leafDrv + `": {"outputs": ["out"]}},
			"inputSrcs": []
		}`,
	}
	b := NewBuilder(src)
	node, err := b.Build(context.Background(), fodDrv)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !node.IsFixedOutput {
		t.Error("IsFixedOutput = false; want true")
	}
	if len(node.Inputs) != 0 {
		t.Errorf("fixed-output derivation has %d inputs; want 0 even though inputDrvs was non-empty", len(node.Inputs))
	}
}
