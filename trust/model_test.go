// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func generateKey(t *testing.T, name string) TrustedKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return TrustedKey{Name: name, PublicKey: pub}
}

func TestLeafAccepts(t *testing.T) {
	keyA := generateKey(t, "a")
	keyB := generateKey(t, "b")
	outputs := map[string]string{"out": "/nix/store/9krlzvny65gdc8s7kpb6lkx8cd02c25b-x"}

	model := Leaf{Key: keyA}
	claims := []Claim{{Key: keyA, Outputs: outputs}}
	if !model.Accepts(claims, outputs) {
		t.Error("Leaf rejects its own key's claim")
	}
	if model.Accepts([]Claim{{Key: keyB, Outputs: outputs}}, outputs) {
		t.Error("Leaf accepts a claim from a different key")
	}
	other := map[string]string{"out": "/nix/store/1jyz6snd63xjn6skk7za6psgidsd53k0-y"}
	if model.Accepts(claims, other) {
		t.Error("Leaf accepts a claim whose output map differs from the candidate")
	}
}

func TestThresholdSoundness(t *testing.T) {
	keyA := generateKey(t, "a")
	keyB := generateKey(t, "b")
	outputs := map[string]string{"out": "h1"}
	mismatch := map[string]string{"out": "h2"}

	model := NewThreshold(2, Leaf{Key: keyA}, Leaf{Key: keyB})

	tests := []struct {
		name   string
		claims []Claim
		want   bool
	}{
		{"both agree", []Claim{{Key: keyA, Outputs: outputs}, {Key: keyB, Outputs: outputs}}, true},
		{"one missing", []Claim{{Key: keyA, Outputs: outputs}}, false},
		{"disagree", []Claim{{Key: keyA, Outputs: outputs}, {Key: keyB, Outputs: mismatch}}, false},
		{"no claims", nil, false},
	}
	for _, test := range tests {
		if got := model.Accepts(test.claims, outputs); got != test.want {
			t.Errorf("%s: Accepts = %v; want %v", test.name, got, test.want)
		}
	}
}

func TestTrustMonotonicity(t *testing.T) {
	keyA := generateKey(t, "a")
	keyB := generateKey(t, "b")
	outputs := map[string]string{"out": "h1"}

	model := NewThreshold(1, Leaf{Key: keyA}, Leaf{Key: keyB})
	claims := []Claim{{Key: keyA, Outputs: outputs}}
	if !model.Accepts(claims, outputs) {
		t.Fatal("threshold 1-of-2 rejects a single matching claim")
	}
	// Adding a verified signature never turns an accepted resolution
	// into a rejected one, even if it disagrees.
	more := append(claims, Claim{Key: keyB, Outputs: map[string]string{"out": "h2"}})
	if !model.Accepts(more, outputs) {
		t.Error("adding a claim turned an accepted resolution into a rejected one")
	}
}

func TestNewThresholdPanicsOutOfRange(t *testing.T) {
	keyA := generateKey(t, "a")
	for _, bad := range []int{0, 2} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("NewThreshold(%d, one component) did not panic", bad)
				}
			}()
			NewThreshold(bad, Leaf{Key: keyA})
		}()
	}
}

func TestThresholdKeysDeduplicates(t *testing.T) {
	keyA := generateKey(t, "a")
	keyB := generateKey(t, "b")
	model := NewThreshold(1,
		Leaf{Key: keyA},
		NewThreshold(1, Leaf{Key: keyA}, Leaf{Key: keyB}),
	)
	keys := model.Keys()
	if len(keys) != 2 {
		t.Errorf("Keys() returned %d keys; want 2 after deduplication", len(keys))
	}
}
