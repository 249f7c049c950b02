// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/mschwaig/laut/engine"
	"github.com/mschwaig/laut/sigstore"
	"github.com/mschwaig/laut/trust"
)

type verifyOptions struct {
	target      string
	caches      []string
	trustedKeys []string
	threshold   int
	allowIA     bool
}

func newVerifyCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "verify [options] TARGET",
		Short:                 "verify the build-trace signature chain of a derivation or flake reference",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(verifyOptions)
	c.Flags().StringArrayVar(&opts.caches, "cache", nil, "signature cache `url` (repeatable)")
	c.Flags().StringArrayVar(&opts.trustedKeys, "trusted-key", nil, "`path` to a trusted public key file (repeatable)")
	c.Flags().IntVar(&opts.threshold, "threshold", 0, "`number` of trusted keys that must agree (default: all)")
	c.Flags().BoolVar(&opts.allowIA, "allow-ia", false, "verify input-addressed derivations as if content-addressed")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.target = args[0]
		return runVerify(cmd.Context(), g, opts)
	}
	return c
}

func runVerify(ctx context.Context, g *globalConfig, opts *verifyOptions) error {
	storeDir := g.cfg.EffectiveStoreDir()

	drvPath, err := resolveTarget(ctx, g, storeDir, opts.target)
	if err != nil {
		return err
	}

	model, err := buildTrustModel(g, opts)
	if err != nil {
		return err
	}
	store, err := openCaches(ctx, g, opts)
	if err != nil {
		return err
	}

	set, err := g.eval.LoadClosure(ctx, drvPath)
	if err != nil {
		return err
	}

	e := &engine.Engine{
		Attrs:               set,
		ATerm:               set,
		Store:               store,
		Model:               model,
		StoreDir:            storeDir,
		AllowInputAddressed: opts.allowIA || g.cfg.AllowIA,
	}
	if g.cfg.PreimageIndex != "" {
		idx, err := sigstore.LoadPreimageIndex(g.cfg.PreimageIndex)
		if err != nil {
			return err
		}
		e.PreimageIndex = idx
	}

	result, err := e.Verify(ctx, drvPath)
	if err != nil {
		return err
	}
	if !result.Satisfied() {
		return &exitCodeError{
			code: exitTrustNotSatisfied,
			msg:  fmt.Sprintf("laut: %s is not resolvable under the trust model", drvPath),
		}
	}
	for _, root := range result.Roots {
		fmt.Printf("%s %s\n", root.DrvPath, root.InputHash)
		for name, hash := range root.Outputs {
			fmt.Printf("  %s -> %s\n", name, hash)
		}
	}
	return nil
}

// resolveTarget turns the verify TARGET argument into a derivation
// path: either it already is one, or it is a flake-style reference the
// external evaluator resolves.
func resolveTarget(ctx context.Context, g *globalConfig, storeDir, target string) (string, error) {
	drvPattern := regexp.MustCompile("^" + regexp.QuoteMeta(storeDir) + `/.*\.drv$`)
	switch {
	case drvPattern.MatchString(target):
		return target, nil
	case strings.Contains(target, "#"):
		drvPath, err := g.eval.ResolveFlake(ctx, target)
		if err != nil {
			return "", err
		}
		log.Debugf(ctx, "resolved %s to %s", target, drvPath)
		return drvPath, nil
	default:
		return "", fmt.Errorf("target %q is neither a %s derivation path nor a flake reference", target, storeDir)
	}
}

func buildTrustModel(g *globalConfig, opts *verifyOptions) (trust.Model, error) {
	keyFiles := opts.trustedKeys
	if len(keyFiles) == 0 {
		keyFiles = g.cfg.TrustedKeys
	}
	if len(keyFiles) == 0 {
		return nil, fmt.Errorf("no trusted keys given (use --trusted-key or the config file)")
	}
	keys := make([]trust.TrustedKey, 0, len(keyFiles))
	for _, path := range keyFiles {
		key, err := trust.ReadPublicKeyFile(path)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	threshold := opts.threshold
	if threshold == 0 {
		threshold = g.cfg.Threshold
	}
	if threshold == 0 || threshold == len(keys) {
		return trust.AllOf(keys...), nil
	}
	if threshold > len(keys) {
		return nil, fmt.Errorf("threshold %d exceeds the %d trusted keys", threshold, len(keys))
	}
	components := make([]trust.Model, len(keys))
	for i, k := range keys {
		components[i] = trust.Leaf{Key: k}
	}
	return trust.NewThreshold(threshold, components...), nil
}

func openCaches(ctx context.Context, g *globalConfig, opts *verifyOptions) (sigstore.Group, error) {
	urls := opts.caches
	if len(urls) == 0 {
		urls = g.cfg.Caches
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no signature caches given (use --cache or the config file)")
	}
	group := make(sigstore.Group, 0, len(urls))
	for _, url := range urls {
		store, err := sigstore.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		group = append(group, store)
	}
	return group, nil
}
