// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package sigverify validates detached build-trace signatures: compact
// EdDSA JWS tokens whose payload binds a resolved input hash to a map
// of output content hashes.
package sigverify

import (
	"encoding/json"
	"fmt"

	"github.com/mschwaig/laut/errs"
)

// InputClaim is the "in" section of a trace signature payload: the
// resolved input hash(es) the signer committed to. v2 signatures carry
// both the ATerm-based and the JSON-based hash; verifiers accept a
// match on either.
type InputClaim struct {
	RdrvJSON    string     `json:"rdrv_json,omitempty"`
	RdrvATermCA string     `json:"rdrv_aterm_ca,omitempty"`
	Debug       *DebugInfo `json:"debug,omitempty"`
}

// Matches reports whether either committed hash equals the expected
// resolved input hash.
func (c InputClaim) Matches(resolvedInputHash string) bool {
	if c.RdrvATermCA != "" && c.RdrvATermCA == resolvedInputHash {
		return true
	}
	return c.RdrvJSON != "" && c.RdrvJSON == resolvedInputHash
}

// DebugInfo carries the signer's preimages for diagnostic use only. It
// never participates in the trust decision.
type DebugInfo struct {
	DrvName             string `json:"drv_name,omitempty"`
	RdrvPath            string `json:"rdrv_path,omitempty"`
	RdrvJSONPreimage    string `json:"rdrv_json_preimage,omitempty"`
	RdrvComputedPath    string `json:"rdrv_computed_path,omitempty"`
	RdrvATermCAPreimage string `json:"rdrv_aterm_ca_preimage,omitempty"`
}

// OutputClaim is one built output's location and content hash. At least
// one of the two fields must be set.
type OutputClaim struct {
	Path string `json:"path,omitempty"`
	Hash string `json:"hash,omitempty"`
}

// OutputClaims is the "out" section: the "nix" namespace the verifier
// interprets, plus any other namespaces (e.g. content-addressable
// object store hashes) carried through unchanged. Re-encoding emits
// them as compact JSON, without insignificant whitespace.
type OutputClaims struct {
	Nix   map[string]OutputClaim
	Extra map[string]json.RawMessage
}

func (o OutputClaims) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(o.Extra)+1)
	for ns, raw := range o.Extra {
		m[ns] = raw
	}
	m["nix"] = o.Nix
	return json.Marshal(m)
}

func (o *OutputClaims) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	nix, ok := m["nix"]
	if !ok {
		return fmt.Errorf("%w: out.nix missing", errs.ErrSignatureMalformed)
	}
	if err := json.Unmarshal(nix, &o.Nix); err != nil {
		return fmt.Errorf("%w: out.nix: %w", errs.ErrSignatureMalformed, err)
	}
	delete(m, "nix")
	if len(m) > 0 {
		o.Extra = m
	}
	return nil
}

// BuilderInfo is the "builder" section: metadata about the build that
// produced the attested outputs.
type BuilderInfo struct {
	RebuildID uint32 `json:"rebuild_id"`
	StoreRoot string `json:"store_root"`
}

// Payload is a v2 trace signature payload.
type Payload struct {
	In      InputClaim   `json:"in"`
	Out     OutputClaims `json:"out"`
	Builder BuilderInfo  `json:"builder"`
}

// OutputPaths returns the {output_name: store_path} mapping the trust
// model compares, matching the reference behavior of treating the
// attested path as the output's content identity.
func (p *Payload) OutputPaths() map[string]string {
	out := make(map[string]string, len(p.Out.Nix))
	for name, claim := range p.Out.Nix {
		out[name] = claim.Path
	}
	return out
}

// checkShape validates the payload requirements that do not depend on
// the expected input hash: at least one committed input hash, and a
// non-empty out.nix whose every value carries a path and/or hash.
func (p *Payload) checkShape() error {
	if p.In.RdrvATermCA == "" && p.In.RdrvJSON == "" {
		return fmt.Errorf("%w: no committed input hash", errs.ErrSignatureMalformed)
	}
	if len(p.Out.Nix) == 0 {
		return fmt.Errorf("%w: out.nix is empty", errs.ErrSignatureMalformed)
	}
	for name, claim := range p.Out.Nix {
		if claim.Path == "" && claim.Hash == "" {
			return fmt.Errorf("%w: out.nix[%q] carries neither path nor hash", errs.ErrSignatureMalformed, name)
		}
	}
	return nil
}
