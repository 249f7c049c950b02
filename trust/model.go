// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package trust

import "fmt"

// Claim is one verified build-output claim at a single resolved input
// hash: the key that verified the signature and the output map the
// signature attests to.
type Claim struct {
	Key     TrustedKey
	Outputs map[string]string
}

// Model is the composable trust predicate: a single trusted key, or a
// threshold over sub-models. It runs after the engine has selected a
// candidate resolution and never invents output hashes, only accepts or
// rejects a candidate output map against the verified claims.
type Model interface {
	// Accepts reports whether the model is satisfied by claims agreeing
	// on the candidate output map.
	Accepts(claims []Claim, outputs map[string]string) bool

	// Keys returns every leaf key in the model, the set of keys
	// signatures are verified against.
	Keys() []TrustedKey
}

// Leaf is a trust model satisfied by a single key's signature.
type Leaf struct {
	Key TrustedKey
}

func (l Leaf) Accepts(claims []Claim, outputs map[string]string) bool {
	for _, c := range claims {
		if c.Key.Equal(l.Key) && OutputsEqual(c.Outputs, outputs) {
			return true
		}
	}
	return false
}

func (l Leaf) Keys() []TrustedKey {
	return []TrustedKey{l.Key}
}

// Threshold is satisfied when at least T of its components accept the
// same output map.
type Threshold struct {
	T          int
	Components []Model
}

// NewThreshold constructs a Threshold and panics if t is outside
// [1, len(components)]. A malformed threshold is a programming error in
// the caller's policy construction, not a runtime condition.
func NewThreshold(t int, components ...Model) Threshold {
	if t < 1 || t > len(components) {
		panic(fmt.Sprintf("trust: threshold %d outside [1, %d]", t, len(components)))
	}
	return Threshold{T: t, Components: components}
}

func (th Threshold) Accepts(claims []Claim, outputs map[string]string) bool {
	accepted := 0
	for _, m := range th.Components {
		if m.Accepts(claims, outputs) {
			accepted++
			if accepted >= th.T {
				return true
			}
		}
	}
	return false
}

func (th Threshold) Keys() []TrustedKey {
	var keys []TrustedKey
	for _, m := range th.Components {
	next:
		for _, k := range m.Keys() {
			for _, seen := range keys {
				if seen.Equal(k) {
					continue next
				}
			}
			keys = append(keys, k)
		}
	}
	return keys
}

// AllOf is the trust model the CLI constructs by default from its
// --trusted-key flags: every key must have signed the same output map.
func AllOf(keys ...TrustedKey) Model {
	if len(keys) == 1 {
		return Leaf{Key: keys[0]}
	}
	components := make([]Model, len(keys))
	for i, k := range keys {
		components[i] = Leaf{Key: k}
	}
	return NewThreshold(len(components), components...)
}

// OutputsEqual reports {output_name: content_hash} set equality.
func OutputsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for name, hash := range a {
		if b[name] != hash {
			return false
		}
	}
	return true
}
