// Copyright 2026 The laut Authors
// SPDX-License-Identifier: MIT

package aterm

import (
	"bytes"
	"fmt"
)

// Output is one entry of a Derive(...) outputs list.
type Output struct {
	Name     string
	Path     string
	HashAlgo string
	Hash     string
}

// InputDerivation is one entry of a Derive(...) inputDrvs list:
// a referenced derivation path and the subset of its output names in use.
type InputDerivation struct {
	Path    string
	Outputs []string
}

// EnvVar is one key/value pair of a Derive(...) env list.
// Order is preserved exactly as parsed so that [Format] can round-trip
// a derivation that was never resolved.
type EnvVar struct {
	Key   string
	Value string
}

// Derivation is the parsed form of the restricted ATerm grammar
//
//	Derive(outputs, inputDrvs, inputSrcs, system, builder, args, env)
//
// that Nix-style derivation evaluators emit.
type Derivation struct {
	Outputs   []Output
	InputDrvs []InputDerivation
	InputSrcs []string
	System    string
	Builder   string
	Args      []string
	Env       []EnvVar
}

// ParseDerivation parses the restricted Derive(...) ATerm grammar.
//
// This is a recursive-descent parser over the raw bytes; it never
// treats the input as executable code and rejects anything outside the
// grammar.
func ParseDerivation(data []byte) (*Derivation, error) {
	const header = "Derive("
	if !bytes.HasPrefix(data, []byte(header)) {
		return nil, fmt.Errorf("parse aterm derivation: missing %q header", header)
	}
	p := &parser{data: data, pos: len(header)}

	d := new(Derivation)
	var err error

	d.Outputs, err = p.parseOutputs()
	if err != nil {
		return nil, fmt.Errorf("parse aterm derivation: outputs: %w", err)
	}
	if err := p.expect(','); err != nil {
		return nil, fmt.Errorf("parse aterm derivation: %w", err)
	}

	d.InputDrvs, err = p.parseInputDrvs()
	if err != nil {
		return nil, fmt.Errorf("parse aterm derivation: inputDrvs: %w", err)
	}
	if err := p.expect(','); err != nil {
		return nil, fmt.Errorf("parse aterm derivation: %w", err)
	}

	d.InputSrcs, err = p.parseStringList()
	if err != nil {
		return nil, fmt.Errorf("parse aterm derivation: inputSrcs: %w", err)
	}
	if err := p.expect(','); err != nil {
		return nil, fmt.Errorf("parse aterm derivation: %w", err)
	}

	d.System, err = p.parseString()
	if err != nil {
		return nil, fmt.Errorf("parse aterm derivation: system: %w", err)
	}
	if err := p.expect(','); err != nil {
		return nil, fmt.Errorf("parse aterm derivation: %w", err)
	}

	d.Builder, err = p.parseString()
	if err != nil {
		return nil, fmt.Errorf("parse aterm derivation: builder: %w", err)
	}
	if err := p.expect(','); err != nil {
		return nil, fmt.Errorf("parse aterm derivation: %w", err)
	}

	d.Args, err = p.parseStringList()
	if err != nil {
		return nil, fmt.Errorf("parse aterm derivation: args: %w", err)
	}
	if err := p.expect(','); err != nil {
		return nil, fmt.Errorf("parse aterm derivation: %w", err)
	}

	d.Env, err = p.parseEnv()
	if err != nil {
		return nil, fmt.Errorf("parse aterm derivation: env: %w", err)
	}

	if err := p.expect(')'); err != nil {
		return nil, fmt.Errorf("parse aterm derivation: %w", err)
	}
	if p.pos != len(p.data) {
		return nil, fmt.Errorf("parse aterm derivation: trailing data")
	}
	return d, nil
}

// Format serializes d to the exact ATerm text format Nix-style evaluators
// produce: no whitespace, fields in declaration order.
func Format(d *Derivation) []byte {
	var buf []byte
	buf = append(buf, "Derive(["...)
	for i, o := range d.Outputs {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '(')
		buf = AppendString(buf, o.Name)
		buf = append(buf, ',')
		buf = AppendString(buf, o.Path)
		buf = append(buf, ',')
		buf = AppendString(buf, o.HashAlgo)
		buf = append(buf, ',')
		buf = AppendString(buf, o.Hash)
		buf = append(buf, ')')
	}

	buf = append(buf, "],["...)
	for i, in := range d.InputDrvs {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '(')
		buf = AppendString(buf, in.Path)
		buf = append(buf, ",["...)
		for j, o := range in.Outputs {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = AppendString(buf, o)
		}
		buf = append(buf, "])"...)
	}

	buf = append(buf, "],["...)
	for i, s := range d.InputSrcs {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = AppendString(buf, s)
	}

	buf = append(buf, "],"...)
	buf = AppendString(buf, d.System)
	buf = append(buf, ',')
	buf = AppendString(buf, d.Builder)

	buf = append(buf, ",["...)
	for i, a := range d.Args {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = AppendString(buf, a)
	}

	buf = append(buf, "],["...)
	for i, e := range d.Env {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '(')
		buf = AppendString(buf, e.Key)
		buf = append(buf, ',')
		buf = AppendString(buf, e.Value)
		buf = append(buf, ')')
	}
	buf = append(buf, "])"...)

	return buf
}

// parser is a cursor over raw ATerm bytes. The grammar always has a
// known shape (a 7-tuple of specific field types), so a direct
// recursive-descent reader suffices; there is no generic term reader.
type parser struct {
	data []byte
	pos  int
}

func (p *parser) atEnd() bool {
	return p.pos >= len(p.data)
}

func (p *parser) expect(b byte) error {
	if p.atEnd() || p.data[p.pos] != b {
		return fmt.Errorf("expected %q at offset %d", b, p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) parseString() (string, error) {
	if err := p.expect('"'); err != nil {
		return "", err
	}
	var sb []byte
	for {
		if p.atEnd() {
			return "", fmt.Errorf("unterminated string at offset %d", p.pos)
		}
		c := p.data[p.pos]
		p.pos++
		if c == '"' {
			return string(sb), nil
		}
		if c == '\\' {
			if p.atEnd() {
				return "", fmt.Errorf("unterminated escape at offset %d", p.pos)
			}
			e := p.data[p.pos]
			p.pos++
			switch e {
			case '\\', '"':
				sb = append(sb, e)
			case 'n':
				sb = append(sb, '\n')
			case 'r':
				sb = append(sb, '\r')
			case 't':
				sb = append(sb, '\t')
			default:
				return "", fmt.Errorf("unknown escape sequence '\\%c' at offset %d", e, p.pos-1)
			}
			continue
		}
		sb = append(sb, c)
	}
}

// parseList parses a bracketed, comma-separated list using elem to read
// each element. It handles the empty-list case itself.
func parseList[T any](p *parser, open, close byte, elem func(*parser) (T, error)) ([]T, error) {
	if err := p.expect(open); err != nil {
		return nil, err
	}
	var out []T
	if !p.atEnd() && p.data[p.pos] == close {
		p.pos++
		return out, nil
	}
	for {
		v, err := elem(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		if p.atEnd() {
			return nil, fmt.Errorf("unterminated list at offset %d", p.pos)
		}
		if p.data[p.pos] == ',' {
			p.pos++
			continue
		}
		if err := p.expect(close); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (p *parser) parseStringList() ([]string, error) {
	return parseList(p, '[', ']', (*parser).parseString)
}

func (p *parser) parseOutputs() ([]Output, error) {
	return parseList(p, '[', ']', func(p *parser) (Output, error) {
		if err := p.expect('('); err != nil {
			return Output{}, err
		}
		name, err := p.parseString()
		if err != nil {
			return Output{}, err
		}
		if err := p.expect(','); err != nil {
			return Output{}, err
		}
		path, err := p.parseString()
		if err != nil {
			return Output{}, err
		}
		if err := p.expect(','); err != nil {
			return Output{}, err
		}
		hashAlgo, err := p.parseString()
		if err != nil {
			return Output{}, err
		}
		if err := p.expect(','); err != nil {
			return Output{}, err
		}
		hash, err := p.parseString()
		if err != nil {
			return Output{}, err
		}
		if err := p.expect(')'); err != nil {
			return Output{}, err
		}
		return Output{Name: name, Path: path, HashAlgo: hashAlgo, Hash: hash}, nil
	})
}

func (p *parser) parseInputDrvs() ([]InputDerivation, error) {
	return parseList(p, '[', ']', func(p *parser) (InputDerivation, error) {
		if err := p.expect('('); err != nil {
			return InputDerivation{}, err
		}
		path, err := p.parseString()
		if err != nil {
			return InputDerivation{}, err
		}
		if err := p.expect(','); err != nil {
			return InputDerivation{}, err
		}
		outputs, err := p.parseStringList()
		if err != nil {
			return InputDerivation{}, err
		}
		if err := p.expect(')'); err != nil {
			return InputDerivation{}, err
		}
		return InputDerivation{Path: path, Outputs: outputs}, nil
	})
}

func (p *parser) parseEnv() ([]EnvVar, error) {
	return parseList(p, '[', ']', func(p *parser) (EnvVar, error) {
		if err := p.expect('('); err != nil {
			return EnvVar{}, err
		}
		key, err := p.parseString()
		if err != nil {
			return EnvVar{}, err
		}
		if err := p.expect(','); err != nil {
			return EnvVar{}, err
		}
		value, err := p.parseString()
		if err != nil {
			return EnvVar{}, err
		}
		if err := p.expect(')'); err != nil {
			return EnvVar{}, err
		}
		return EnvVar{Key: key, Value: value}, nil
	})
}
