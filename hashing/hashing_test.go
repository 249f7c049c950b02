// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package hashing

import (
	"encoding/hex"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNixBase32Encode(t *testing.T) {
	data, err := hex.DecodeString("d86b3392c1202e8ff5a423b302e6284db7f8f435ea9f39b5b1b20fd3ac36dfcb")
	if err != nil {
		t.Fatal(err)
	}
	got := NixBase32Encode(data)
	want := "1jyz6snd63xjn6skk7za6psgidsd53k05cr3lksqybi0q6936syq"
	if got != want {
		t.Errorf("NixBase32Encode(...) = %q; want %q", got, want)
	}
}

func TestUpstreamPlaceholder(t *testing.T) {
	tests := []struct {
		drvPath string
		output  string
		want    string
	}{
		{
			drvPath: "/nix/store/g1w7hy3qg1w7hy3qg1w7hy3qg1w7hy3q-foo.drv",
			output:  "out",
			want:    "/0c6rn30q4frawknapgwq386zq358m8r6msvywcvc89n6m5p2dgbz",
		},
	}
	for _, test := range tests {
		got := UpstreamPlaceholder(test.drvPath, test.output)
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("UpstreamPlaceholder(%q, %q) (-want +got):\n%s", test.drvPath, test.output, diff)
		}
	}
}

func TestExtractStoreHash(t *testing.T) {
	got, err := ExtractStoreHash("/nix/store/fxz942i5pzia8cgha06swhq216l01p8d-bootstrap-stage1-stdenv-linux.drv")
	if err != nil {
		t.Fatal(err)
	}
	want := "fxz942i5pzia8cgha06swhq216l01p8d"
	if got != want {
		t.Errorf("ExtractStoreHash(...) = %q; want %q", got, want)
	}
}

func TestExtractStoreHashInvalid(t *testing.T) {
	if _, err := ExtractStoreHash("/nix/store/not-a-valid-path"); err == nil {
		t.Error("ExtractStoreHash(invalid) = nil error; want error")
	}
}

func TestCanonicalJSONKeyOrder(t *testing.T) {
	v := map[string]any{
		"b": 1,
		"a": map[string]any{"z": 1, "y": 2},
	}
	got, err := CanonicalJSON(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":{"y":2,"z":1},"b":1}`
	if string(got) != want {
		t.Errorf("CanonicalJSON(...) = %s; want %s", got, want)
	}
}
