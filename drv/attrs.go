// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package drv

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mschwaig/laut/errs"
)

// Attrs is a derivation's JSON attribute record as produced by the
// external evaluator: a flat JSON object with at least
// "outputs", "inputDrvs", "inputSrcs", "env", and "name" fields.
//
// Attrs is kept as raw, opaque key/value pairs rather than a concrete
// struct: the engine and resolver only ever inspect the handful of
// fields called out below, and preserving the rest verbatim (including
// key order, via [Attrs.Raw]) is what lets [hashing.CanonicalJSON]
// reproduce the exact preimage a signer hashed.
type Attrs struct {
	raw json.RawMessage
}

// ParseAttrs wraps a single derivation's raw JSON attribute object.
func ParseAttrs(raw json.RawMessage) (Attrs, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Attrs{}, fmt.Errorf("parse derivation attrs: %w: %w", errs.ErrInvalidJSON, err)
	}
	return Attrs{raw: raw}, nil
}

// Raw returns the underlying JSON bytes.
func (a Attrs) Raw() json.RawMessage { return a.raw }

// field extracts one named field's raw JSON value.
func (a Attrs) field(name string) (json.RawMessage, bool, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(a.raw, &obj); err != nil {
		return nil, false, fmt.Errorf("derivation attrs: %w: %w", errs.ErrInvalidJSON, err)
	}
	v, ok := obj[name]
	return v, ok, nil
}

// Name returns the "name" field.
func (a Attrs) Name() (string, error) {
	raw, ok, err := a.field("name")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("derivation attrs: %w: missing name", errs.ErrInvalidJSON)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("derivation attrs: name: %w: %w", errs.ErrInvalidJSON, err)
	}
	return s, nil
}

// OutputSpec is one entry of the "outputs" field.
type OutputSpec struct {
	Path     string `json:"path,omitempty"`
	Hash     string `json:"hash,omitempty"`
	HashAlgo string `json:"hashAlgo,omitempty"`
}

// Outputs returns the "outputs" field along with the output names in
// their original JSON key order (Go maps do not preserve key order, and
// [FirstOutputName] depends on it to mirror the reference
// implementation's "iterate the dict in insertion order" behavior).
func (a Attrs) Outputs() (map[string]OutputSpec, []string, error) {
	raw, ok, err := a.field("outputs")
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("derivation attrs: %w: missing outputs", errs.ErrInvalidJSON)
	}
	var m map[string]OutputSpec
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("derivation attrs: outputs: %w: %w", errs.ErrInvalidJSON, err)
	}
	order, err := objectKeyOrder(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("derivation attrs: outputs: %w", err)
	}
	return m, order, nil
}

// InputDrvSpec is one entry of the "inputDrvs" field: the subset of a
// referenced derivation's outputs actually used.
type InputDrvSpec struct {
	Outputs []string `json:"outputs"`
}

// InputDrvs returns the "inputDrvs" field.
func (a Attrs) InputDrvs() (map[string]InputDrvSpec, error) {
	raw, ok, err := a.field("inputDrvs")
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]InputDrvSpec{}, nil
	}
	var m map[string]InputDrvSpec
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("derivation attrs: inputDrvs: %w: %w", errs.ErrInvalidJSON, err)
	}
	return m, nil
}

// InputSrcs returns the "inputSrcs" field.
func (a Attrs) InputSrcs() ([]string, error) {
	raw, ok, err := a.field("inputSrcs")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var s []string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("derivation attrs: inputSrcs: %w: %w", errs.ErrInvalidJSON, err)
	}
	return s, nil
}

// FirstOutputName returns the name of the first output in JSON key
// order, used by [DerivationKind] to classify the derivation by its
// first declared output.
func FirstOutputName(order []string) (string, bool) {
	if len(order) == 0 {
		return "", false
	}
	return order[0], true
}

// DerivationKind reports whether a derivation is fixed-output and/or
// content-addressed: fixed-output iff the first
// output carries a hash; content-addressed iff the first output carries
// neither a path nor a hash.
func DerivationKind(outputs map[string]OutputSpec, order []string) (isFixedOutput, isContentAddressed bool) {
	name, ok := FirstOutputName(order)
	if !ok {
		return false, false
	}
	first := outputs[name]
	hasPath := first.Path != ""
	hasHash := first.Hash != ""
	return hasHash, !hasPath && !hasHash
}

// objectKeyOrder returns the top-level key order of a JSON object,
// which encoding/json's map decoding otherwise discards.
func objectKeyOrder(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidJSON, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected object", errs.ErrInvalidJSON)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrInvalidJSON, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string key", errs.ErrInvalidJSON)
		}
		keys = append(keys, key)
		// Skip the value.
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrInvalidJSON, err)
		}
	}
	return keys, nil
}
