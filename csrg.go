// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"io"
	"strings"
)

// CSRG is the compact SRG format. It has no fingerprint of its own and must
// be selected explicitly.
var CSRG Format = &csrgFormat{}

// CSRGMeta tags mappings parsed from CSRG input.
type CSRGMeta struct{}

// Format selects the CSRG writer.
func (CSRGMeta) Format() Format { return CSRG }

type csrgFormat struct{}

func (*csrgFormat) Name() string { return "csrg" }

func (*csrgFormat) Parse(r io.Reader) (*Mappings, error) {
	lr := newLineReader(r)
	cc := newClassCollector(2)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		switch len(fields) {
		case 2:
			cc.addClass([]string{fields[0], fields[1]})
		case 3:
			cc.addField(fields[0], MappedField{Names: []string{fields[1], fields[2]}})
		case 4:
			if _, _, ok := splitMethodDesc(fields[2]); !ok {
				return nil, parseErrorf(lr.n, "malformed method descriptor %q", fields[2])
			}
			cc.addMethod(fields[0], MappedMethod{Names: []string{fields[1], fields[3]}, Desc: fields[2]})
		default:
			return nil, parseErrorf(lr.n, "record arity %d not recognized: %q", len(fields), line)
		}
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	m := &Mappings{
		Namespaces: append([]string(nil), srgNamespaces...),
		Classes:    cc.finish(),
		Meta:       CSRGMeta{},
	}
	if err := m.validate(false); err != nil {
		return nil, err
	}
	return m, nil
}

func (*csrgFormat) Write(w io.Writer, m *Mappings) error {
	if len(m.Namespaces) != 2 {
		return invariantErrorf("csrg supports exactly two namespaces, got %d", len(m.Namespaces))
	}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		if err := writeLine(w, c.Names[0], " ", c.Names[1]); err != nil {
			return err
		}
		for fi := range c.Fields {
			fd := &c.Fields[fi]
			if err := writeLine(w, c.Names[0], " ", fd.Names[0], " ", fd.Names[1]); err != nil {
				return err
			}
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			if err := writeLine(w, c.Names[0], " ", md.Names[0], " ", md.Desc, " ", md.Names[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
