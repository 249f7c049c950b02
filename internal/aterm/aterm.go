// Copyright 2024 The zb Authors
// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

// Package aterm implements the restricted subset of the ASCII ATerm format
// used by Nix-style derivations: the grammar accepted by
// Derive(outputs, inputDrvs, inputSrcs, system, builder, args, env).
//
// The parser is a small recursive-descent reader over the raw bytes; it
// never evaluates the input as code.
package aterm

import "slices"

// AppendString appends the string to dst as an ATerm text format double-quoted string.
func AppendString(dst []byte, s string) []byte {
	size := len(s) + len(`""`)
	for _, c := range []byte(s) {
		if c == '"' || c == '\\' || c == '\n' || c == '\r' || c == '\t' {
			size++
		}
	}

	dst = slices.Grow(dst, size)
	dst = append(dst, '"')
	for _, c := range []byte(s) {
		switch c {
		case '"', '\\':
			dst = append(dst, '\\', c)
		case '\n':
			dst = append(dst, `\n`...)
		case '\r':
			dst = append(dst, `\r`...)
		case '\t':
			dst = append(dst, `\t`...)
		default:
			dst = append(dst, c)
		}
	}
	dst = append(dst, '"')
	return dst
}
