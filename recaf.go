// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"io"
	"strings"
)

// Recaf is the flat mapping format of the Recaf bytecode editor. It carries
// no fingerprint and must be selected explicitly.
var Recaf Format = &recafFormat{}

// RecafMeta tags mappings parsed from Recaf input.
type RecafMeta struct{}

// Format selects the Recaf writer.
func (RecafMeta) Format() Format { return Recaf }

type recafFormat struct{}

func (*recafFormat) Name() string { return "recaf" }

func (*recafFormat) Parse(r io.Reader) (*Mappings, error) {
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
			if open := strings.IndexByte(fields[0], '('); open >= 0 {
				// Method: "owner.name(desc) mapped"
				ref, desc := fields[0][:open], fields[0][open:]
				owner, name, ok := cutMemberDot(ref)
				if !ok {
					return nil, parseErrorf(lr.n, "malformed method reference %q", fields[0])
				}
				if _, _, ok := splitMethodDesc(desc); !ok {
					return nil, parseErrorf(lr.n, "malformed method descriptor %q", desc)
				}
				cc.addMethod(owner, MappedMethod{Names: []string{name, fields[1]}, Desc: desc})
				continue
			}
			cc.addClass([]string{fields[0], fields[1]})
		case 3:
			owner, name, ok := cutMemberDot(fields[0])
			if !ok {
				return nil, parseErrorf(lr.n, "malformed field reference %q", fields[0])
			}
			if !isValidDesc(fields[1]) {
				return nil, parseErrorf(lr.n, "malformed field descriptor %q", fields[1])
			}
			cc.addField(owner, MappedField{Names: []string{name, fields[2]}, Desc: fields[1]})
		default:
			return nil, parseErrorf(lr.n, "record arity %d not recognized: %q", len(fields), line)
		}
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	m := &Mappings{
		Namespaces: append([]string(nil), enigmaNamespaces...),
		Classes:    cc.finish(),
		Meta:       RecafMeta{},
	}
	if err := m.validate(true); err != nil {
		return nil, err
	}
	return m, nil
}

func (*recafFormat) Write(w io.Writer, m *Mappings) error {
	if len(m.Namespaces) != 2 {
		return invariantErrorf("recaf supports exactly two namespaces, got %d", len(m.Namespaces))
	}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		if err := writeLine(w, c.Names[0], " ", c.Names[1]); err != nil {
			return err
		}
		for fi := range c.Fields {
			fd := &c.Fields[fi]
			if fd.Desc == "" {
				return invariantErrorf("field %s.%s: %v", c.Names[0], fd.Names[0], ErrMissingFieldDesc)
			}
			if err := writeLine(w, c.Names[0], ".", fd.Names[0], " ", fd.Desc, " ", fd.Names[1]); err != nil {
				return err
			}
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			if err := writeLine(w, c.Names[0], ".", md.Names[0], md.Desc, " ", md.Names[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

// cutMemberDot splits "owner.member" at the last dot.
func cutMemberDot(ref string) (owner, name string, ok bool) {
	i := strings.LastIndexByte(ref, '.')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}
