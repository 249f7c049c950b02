// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package aterm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const exampleDerivationText = `Derive([("out","/nix/store/1rz4g4znpzjwh1xymhjpm42vipw92pr73vdgl6xs1hycac8kf2n9","r:sha256","")],[("/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-bash.drv",["out"])],["/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-builder.sh"],"x86_64-linux","/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-bash/bin/bash",["-e","/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-builder.sh"],[("builder","/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-bash/bin/bash"),("name","hello"),("out","/nix/store/1rz4g4znpzjwh1xymhjpm42vipw92pr73vdgl6xs1hycac8kf2n9"),("system","x86_64-linux")])`

func TestParseDerivationRoundTrip(t *testing.T) {
	drv, err := ParseDerivation([]byte(exampleDerivationText))
	if err != nil {
		t.Fatalf("ParseDerivation: %v", err)
	}

	want := &Derivation{
		Outputs: []Output{
			{Name: "out", Path: "/nix/store/1rz4g4znpzjwh1xymhjpm42vipw92pr73vdgl6xs1hycac8kf2n9", HashAlgo: "r:sha256", Hash: ""},
		},
		InputDrvs: []InputDerivation{
			{Path: "/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-bash.drv", Outputs: []string{"out"}},
		},
		InputSrcs: []string{"/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-builder.sh"},
		System:    "x86_64-linux",
		Builder:   "/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-bash/bin/bash",
		Args:      []string{"-e", "/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-builder.sh"},
		Env: []EnvVar{
			{Key: "builder", Value: "/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-bash/bin/bash"},
			{Key: "name", Value: "hello"},
			{Key: "out", Value: "/nix/store/1rz4g4znpzjwh1xymhjpm42vipw92pr73vdgl6xs1hycac8kf2n9"},
			{Key: "system", Value: "x86_64-linux"},
		},
	}

	if diff := cmp.Diff(want, drv); diff != "" {
		t.Errorf("ParseDerivation(...) (-want +got):\n%s", diff)
	}

	got := string(Format(drv))
	if got != exampleDerivationText {
		t.Errorf("Format(ParseDerivation(t)) != t\ngot:  %s\nwant: %s", got, exampleDerivationText)
	}
}

func TestParseDerivationEscaping(t *testing.T) {
	text := `Derive([],[],[],"sys","/bin/sh",["-c","echo \"hi\"\n\t\\done"],[])`
	drv, err := ParseDerivation([]byte(text))
	if err != nil {
		t.Fatalf("ParseDerivation: %v", err)
	}
	want := "echo \"hi\"\n\t\\done"
	if got := drv.Args[1]; got != want {
		t.Errorf("Args[1] = %q; want %q", got, want)
	}
	if got := string(Format(drv)); got != text {
		t.Errorf("Format round-trip mismatch:\ngot:  %s\nwant: %s", got, text)
	}
}

func TestParseDerivationRejectsGarbage(t *testing.T) {
	tests := []string{
		``,
		`NotDerive([],[],[],"","",[],[])`,
		`Derive([],[],[],"","",[],[]) trailing`,
		`Derive([("out","p","h","h")` + `,[],[],"","",[],[])`, // unterminated output list
	}
	for _, text := range tests {
		if _, err := ParseDerivation([]byte(text)); err == nil {
			t.Errorf("ParseDerivation(%q): want error, got nil", text)
		}
	}
}
