// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

//go:build windows

package main

import "os"

var interruptSignals = []os.Signal{os.Interrupt}
