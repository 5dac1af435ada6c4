// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"io"
	"strconv"
	"strings"
)

// TSRGv1 is the tab-indented successor of SRG, fixed at two namespaces.
var TSRGv1 Format = &tsrgFormat{}

// TSRGv2 is the multi-namespace TSRG revision with a tsrg2 header.
var TSRGv2 Format = &tsrgFormat{v2: true}

// TSRGMeta tags mappings parsed from TSRG input.
type TSRGMeta struct {
	V2 bool
}

// Format selects the TSRG v1 or v2 writer depending on V2.
func (m TSRGMeta) Format() Format {
	if m.V2 {
		return TSRGv2
	}
	return TSRGv1
}

const tsrg2Header = "tsrg2"

type tsrgFormat struct {
	v2 bool
}

func (f *tsrgFormat) Name() string {
	if f.v2 {
		return "tsrg2"
	}
	return "tsrg"
}

// Detect recognizes v2 by its header. The v1 fingerprint is weak: an
// unindented two-token first line followed by an indented member line.
// Callers that know the format should select it explicitly.
func (f *tsrgFormat) Detect(lines []string) bool {
	nonEmpty := make([]string, 0, 2)
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		nonEmpty = append(nonEmpty, l)
		if len(nonEmpty) == 2 {
			break
		}
	}
	if len(nonEmpty) == 0 {
		return false
	}
	if f.v2 {
		return strings.HasPrefix(nonEmpty[0], tsrg2Header+" ")
	}
	if strings.HasPrefix(nonEmpty[0], "\t") || len(strings.Fields(nonEmpty[0])) != 2 {
		return false
	}
	return len(nonEmpty) > 1 && strings.HasPrefix(nonEmpty[1], "\t")
}

func (f *tsrgFormat) Parse(r io.Reader) (*Mappings, error) {
	lr := newLineReader(r)
	namespaces := append([]string(nil), srgNamespaces...)
	sawHeader := false
	var classes []MappedClass
	var class *MappedClass
	var method *MappedMethod
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if f.v2 && !sawHeader {
			fields := strings.Fields(line)
			if len(fields) < 3 || fields[0] != tsrg2Header {
				return nil, parseErrorf(lr.n, "missing tsrg2 header: %q", line)
			}
			namespaces = fields[1:]
			sawHeader = true
			continue
		}
		depth := indentDepth(line)
		parts := materializeNames(strings.Split(line[depth:], " "))
		switch depth {
		case 0:
			if len(parts) != len(namespaces) {
				return nil, parseErrorf(lr.n, "class record with %d names for %d namespaces", len(parts), len(namespaces))
			}
			classes = append(classes, MappedClass{Names: parts})
			class = &classes[len(classes)-1]
			method = nil
		case 1:
			if class == nil {
				return nil, parseErrorf(lr.n, "member record before any class: %q", line)
			}
			method = nil
			if len(parts) >= 2 && strings.HasPrefix(parts[1], "(") {
				if len(parts) != len(namespaces)+1 {
					return nil, parseErrorf(lr.n, "method record with %d names for %d namespaces", len(parts)-1, len(namespaces))
				}
				if _, _, ok := splitMethodDesc(parts[1]); !ok {
					return nil, parseErrorf(lr.n, "malformed method descriptor %q", parts[1])
				}
				names := append([]string{parts[0]}, parts[2:]...)
				class.Methods = append(class.Methods, MappedMethod{Names: names, Desc: parts[1]})
				method = &class.Methods[len(class.Methods)-1]
				break
			}
			// Field, with an optional descriptor in second position.
			if len(parts) == len(namespaces)+1 && isValidDesc(parts[1]) {
				names := append([]string{parts[0]}, parts[2:]...)
				class.Fields = append(class.Fields, MappedField{Names: names, Desc: parts[1]})
				break
			}
			if len(parts) != len(namespaces) {
				return nil, parseErrorf(lr.n, "field record with %d names for %d namespaces", len(parts), len(namespaces))
			}
			class.Fields = append(class.Fields, MappedField{Names: parts})
		case 2:
			if !f.v2 {
				return nil, parseErrorf(lr.n, "unexpected indent depth 2: %q", line)
			}
			if method == nil {
				return nil, parseErrorf(lr.n, "parameter record outside a method: %q", line)
			}
			if len(parts) == 1 && parts[0] == "static" {
				// Static marker; the model does not track it.
				break
			}
			idx, err := strconv.ParseUint(parts[0], 10, 16)
			if err != nil {
				return nil, parseErrorf(lr.n, "malformed parameter index %q", parts[0])
			}
			if len(parts) != len(namespaces)+1 {
				return nil, parseErrorf(lr.n, "parameter record with %d names for %d namespaces", len(parts)-1, len(namespaces))
			}
			method.Parameters = append(method.Parameters, MappedParameter{
				Index: uint16(idx),
				Names: parts[1:],
			})
		default:
			return nil, parseErrorf(lr.n, "unexpected indent depth %d: %q", depth, line)
		}
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	if !f.v2 && len(namespaces) != 2 {
		return nil, invariantErrorf("tsrg supports exactly two namespaces")
	}
	m := &Mappings{Namespaces: namespaces, Classes: classes, Meta: TSRGMeta{V2: f.v2}}
	if err := m.validate(false); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *tsrgFormat) Write(w io.Writer, m *Mappings) error {
	if !f.v2 && len(m.Namespaces) != 2 {
		return invariantErrorf("tsrg supports exactly two namespaces, got %d", len(m.Namespaces))
	}
	if f.v2 {
		if err := writeLine(w, tsrg2Header, " ", strings.Join(m.Namespaces, " ")); err != nil {
			return err
		}
	}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		if err := writeLine(w, strings.Join(c.Names, " ")); err != nil {
			return err
		}
		for fi := range c.Fields {
			fd := &c.Fields[fi]
			parts := []string{fd.Names[0]}
			if f.v2 && fd.Desc != "" {
				parts = append(parts, fd.Desc)
			}
			parts = append(parts, fd.Names[1:]...)
			if err := writeLine(w, "\t", strings.Join(parts, " ")); err != nil {
				return err
			}
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			parts := append([]string{md.Names[0], md.Desc}, md.Names[1:]...)
			if err := writeLine(w, "\t", strings.Join(parts, " ")); err != nil {
				return err
			}
			if !f.v2 {
				continue
			}
			for _, p := range md.Parameters {
				pp := append([]string{strconv.Itoa(int(p.Index))}, p.Names...)
				if err := writeLine(w, "\t\t", strings.Join(pp, " ")); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// indentDepth counts leading tabs.
func indentDepth(line string) int {
	n := 0
	for n < len(line) && line[n] == '\t' {
		n++
	}
	return n
}

// materializeNames resolves the name-elision shorthand: an empty token takes
// the value of the closest previous non-empty one.
func materializeNames(parts []string) []string {
	last := ""
	for i, p := range parts {
		if p == "" {
			parts[i] = last
		} else {
			last = p
		}
	}
	return parts
}
