// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package config loads laut's configuration file and merges it with
// command-line overrides. All fields are optional; the zero Config is
// usable with flag-supplied caches and keys.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mschwaig/laut/errs"
)

// Config is the laut.yaml schema.
type Config struct {
	// Caches lists signature cache URLs, queried in order.
	Caches []string `yaml:"caches"`

	// TrustedKeys lists public key file paths.
	TrustedKeys []string `yaml:"trusted_keys"`

	// Threshold is the number of trusted keys that must agree on an
	// output map. Zero means all of them.
	Threshold int `yaml:"threshold"`

	// AllowIA permits verification of input-addressed derivations,
	// treated like content-addressed ones.
	AllowIA bool `yaml:"allow_ia"`

	// Debug enables diagnostic output, including preimage embedding in
	// produced signatures.
	Debug bool `yaml:"debug"`

	// StoreDir is the store directory, "/nix/store" by default.
	StoreDir string `yaml:"store_dir"`

	// EvaluatorBin is the external evaluator executable, "nix" by
	// default.
	EvaluatorBin string `yaml:"evaluator"`

	// PreimageIndex is an optional path to a signer-side preimage
	// index used for diagnostics when signatures are missing.
	PreimageIndex string `yaml:"preimage_index"`
}

// DefaultStoreDir is used when neither the config file nor a flag sets
// a store directory.
const DefaultStoreDir = "/nix/store"

// Load reads a config file. A missing file is not an error unless
// required is set: it yields the zero Config.
func Load(path string, required bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w: %w", errs.ErrConfig, err)
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w: %w", path, errs.ErrConfig, err)
	}
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("load config %s: %w: negative threshold", path, errs.ErrConfig)
	}
	return cfg, nil
}

// EffectiveStoreDir returns the configured store directory or the
// default.
func (c *Config) EffectiveStoreDir() string {
	if c.StoreDir != "" {
		return c.StoreDir
	}
	return DefaultStoreDir
}
