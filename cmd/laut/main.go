// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// laut issues and verifies build-trace signatures for content-addressed
// derivations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/mschwaig/laut/internal/config"
	"github.com/mschwaig/laut/internal/evaluator"
)

// Exit codes beyond the conventional 0/1, part of the CLI contract with
// the build system's post-build hook.
const (
	// exitUnresolvedDerivation reports that sign was invoked on a
	// derivation that still has input derivations; a no-op, not a
	// failure.
	exitUnresolvedDerivation = 117

	// exitTrustNotSatisfied reports that verification completed but no
	// root resolution satisfied the trust model.
	exitTrustNotSatisfied = 118
)

// exitCodeError carries a specific process exit code through cobra's
// error return.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

type globalConfig struct {
	configPath string
	cfg        *config.Config
	eval       *evaluator.Evaluator
}

func main() {
	rootCommand := &cobra.Command{
		Use:           "laut",
		Short:         "build-trace signatures for content-addressed derivations",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := new(globalConfig)
	rootCommand.PersistentFlags().StringVar(&g.configPath, "config", "", "`path` to laut.yaml")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(g.configPath, g.configPath != "")
		if err != nil {
			return err
		}
		g.cfg = cfg
		g.eval = &evaluator.Evaluator{Bin: cfg.EvaluatorBin}
		initLogging(*showDebug || cfg.Debug)
		return nil
	}

	rootCommand.AddCommand(
		newSignCommand(g),
		newVerifyCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), interruptSignals...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			if exitErr.msg != "" {
				fmt.Fprintln(os.Stderr, exitErr.msg)
			}
			os.Exit(exitErr.code)
		}
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "laut: ", log.StdFlags, nil),
		})
	})
}
