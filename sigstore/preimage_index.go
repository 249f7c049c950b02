// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package sigstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mschwaig/laut/sigverify"
)

// PreimageIndex is a debugging aid: a flat JSON file mapping derivation
// names to signature payloads whose in.debug sections carry the
// signer's preimages. When verification finds no signature for a
// resolved input hash, the engine can look the derivation up here and
// log the signer-side preimage next to the resolved input hash the
// verifier computed.
//
// The index never participates in the trust decision.
type PreimageIndex struct {
	entries map[string]json.RawMessage
}

// IndexedPreimage is one signer-side preimage recovered from the index.
type IndexedPreimage struct {
	RdrvPath string
	Preimage string
}

// LoadPreimageIndex reads an index file.
func LoadPreimageIndex(path string) (*PreimageIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load preimage index: %w", err)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("load preimage index %s: %w", path, err)
	}
	return &PreimageIndex{entries: entries}, nil
}

// Lookup returns the signer-side preimages recorded for a derivation
// name. An index entry may hold one payload or a list of them.
func (idx *PreimageIndex) Lookup(drvName string) ([]IndexedPreimage, error) {
	raw, ok := idx.entries[drvName]
	if !ok {
		return nil, nil
	}

	var payloads []sigverify.Payload
	var many []sigverify.Payload
	if err := json.Unmarshal(raw, &many); err == nil {
		payloads = many
	} else {
		var one sigverify.Payload
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("preimage index entry %q: %w", drvName, err)
		}
		payloads = []sigverify.Payload{one}
	}

	var out []IndexedPreimage
	for _, p := range payloads {
		if p.In.Debug == nil {
			continue
		}
		out = append(out, IndexedPreimage{
			RdrvPath: p.In.Debug.RdrvPath,
			Preimage: p.In.Debug.RdrvATermCAPreimage,
		})
	}
	return out, nil
}
