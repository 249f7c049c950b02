// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/mschwaig/laut/signer"
	"github.com/mschwaig/laut/sigstore"
	"github.com/mschwaig/laut/trust"
)

type signOptions struct {
	drvPath        string
	secretKeyFiles []string
	outPaths       string
	to             string
}

func newSignCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "sign [options] DRV_PATH",
		Short:                 "sign a derivation's build outputs and print the JWS",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(signOptions)
	c.Flags().StringArrayVar(&opts.secretKeyFiles, "secret-key-file", nil, "`path` to a private key file (repeatable)")
	c.Flags().StringVar(&opts.outPaths, "out-paths", "", "space-separated built output `paths` (default: $OUT_PATHS)")
	c.Flags().StringVar(&opts.to, "to", "", "cache `url` to upload the signature to")
	c.MarkFlagRequired("secret-key-file")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.drvPath = args[0]
		return runSign(cmd.Context(), g, opts)
	}
	return c
}

func runSign(ctx context.Context, g *globalConfig, opts *signOptions) error {
	outPaths := opts.outPaths
	if outPaths == "" {
		outPaths = os.Getenv("OUT_PATHS")
	}
	paths := strings.Fields(outPaths)
	if len(paths) == 0 {
		return fmt.Errorf("no output paths given (use --out-paths or $OUT_PATHS)")
	}

	attrs, err := g.eval.LoadDerivation(ctx, opts.drvPath)
	if err != nil {
		return err
	}
	aterm, err := os.ReadFile(opts.drvPath)
	if err != nil {
		return fmt.Errorf("read derivation: %w", err)
	}

	_, order, err := attrs.Outputs()
	if err != nil {
		return err
	}
	outputs := make(map[string]signer.BuiltOutput, len(paths))
	for _, path := range paths {
		name := matchOutputName(path, order)
		if name == "" {
			return fmt.Errorf("output path %s matches none of the derivation's outputs %v", path, order)
		}
		hash, err := g.eval.PathContentHash(ctx, path)
		if err != nil {
			return err
		}
		outputs[name] = signer.BuiltOutput{Path: path, Hash: hash}
	}

	req := signer.Request{
		DrvPath:   opts.drvPath,
		Attrs:     attrs,
		ATerm:     aterm,
		Outputs:   outputs,
		StoreDir:  g.cfg.EffectiveStoreDir(),
		StoreRoot: g.cfg.EffectiveStoreDir(),
		Debug:     g.cfg.Debug,
	}

	for _, keyFile := range opts.secretKeyFiles {
		keyName, key, err := trust.ReadPrivateKeyFile(keyFile)
		if err != nil {
			return err
		}
		att, err := signer.Attest(ctx, req, keyName, key)
		if errors.Is(err, signer.ErrSkipUnresolved) {
			return &exitCodeError{code: exitUnresolvedDerivation, msg: "laut: derivation is unresolved, nothing to sign"}
		}
		if err != nil {
			return err
		}
		fmt.Println(att.Token)

		if opts.to != "" {
			store, err := sigstore.Open(ctx, opts.to)
			if err != nil {
				return err
			}
			if err := store.Upload(ctx, att.InputHash, att.Token); err != nil {
				return err
			}
			log.Infof(ctx, "uploaded signature for %s to %s", att.InputHash, opts.to)
		}
	}
	return nil
}

// matchOutputName maps a built output path to the derivation output it
// belongs to: non-default outputs are suffixed "-<name>", anything else
// is the "out" output.
func matchOutputName(path string, names []string) string {
	for _, name := range names {
		if name != "out" && strings.HasSuffix(path, "-"+name) {
			return name
		}
	}
	for _, name := range names {
		if name == "out" {
			return name
		}
	}
	return ""
}
