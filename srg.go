// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"io"
	"strings"
)

// SRG is the classic Searge mapping format (CL:/FD:/MD:/PK: records).
var SRG Format = &srgFormat{}

// XSRG is the extended SRG variant carrying field descriptors on FD: lines.
var XSRG Format = &srgFormat{extended: true}

// SRGMeta tags mappings parsed from SRG or XSRG input.
type SRGMeta struct {
	Extended bool
}

// Format selects the SRG or XSRG writer depending on Extended.
func (m SRGMeta) Format() Format {
	if m.Extended {
		return XSRG
	}
	return SRG
}

var srgNamespaces = []string{"obf", "srg"}

type srgFormat struct {
	extended bool
}

func (f *srgFormat) Name() string {
	if f.extended {
		return "xsrg"
	}
	return "srg"
}

// Detect accepts input whose records all use the SRG prefixes. SRG and XSRG
// are told apart by the token count of their FD: records, every one of which
// must match.
func (f *srgFormat) Detect(lines []string) bool {
	any := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "PK:", "CL:":
		case "MD:":
			if len(fields) != 5 {
				return false
			}
		case "FD:":
			want := 3
			if f.extended {
				want = 5
			}
			if len(fields) != want {
				return false
			}
		default:
			return false
		}
		any = true
	}
	return any
}

func (f *srgFormat) Parse(r io.Reader) (*Mappings, error) {
	lr := newLineReader(r)
	cc := newClassCollector(2)
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		switch fields[0] {
		case "PK:":
			// Package records carry no class information.
		case "CL:":
			if len(fields) != 3 {
				return nil, parseErrorf(lr.n, "CL: record needs 2 arguments: %q", line)
			}
			cc.addClass([]string{fields[1], fields[2]})
		case "FD:":
			if f.extended {
				if len(fields) != 5 {
					return nil, parseErrorf(lr.n, "FD: record needs 4 arguments: %q", line)
				}
				owner, name, ok := splitMemberRef(fields[1])
				if !ok {
					return nil, parseErrorf(lr.n, "malformed field reference %q", fields[1])
				}
				_, mapped, ok := splitMemberRef(fields[3])
				if !ok {
					return nil, parseErrorf(lr.n, "malformed field reference %q", fields[3])
				}
				if !isValidDesc(fields[2]) {
					return nil, parseErrorf(lr.n, "malformed field descriptor %q", fields[2])
				}
				cc.addField(owner, MappedField{Names: []string{name, mapped}, Desc: fields[2]})
			} else {
				if len(fields) != 3 {
					return nil, parseErrorf(lr.n, "FD: record needs 2 arguments: %q", line)
				}
				owner, name, ok := splitMemberRef(fields[1])
				if !ok {
					return nil, parseErrorf(lr.n, "malformed field reference %q", fields[1])
				}
				_, mapped, ok := splitMemberRef(fields[2])
				if !ok {
					return nil, parseErrorf(lr.n, "malformed field reference %q", fields[2])
				}
				cc.addField(owner, MappedField{Names: []string{name, mapped}})
			}
		case "MD:":
			if len(fields) != 5 {
				return nil, parseErrorf(lr.n, "MD: record needs 4 arguments: %q", line)
			}
			owner, name, ok := splitMemberRef(fields[1])
			if !ok {
				return nil, parseErrorf(lr.n, "malformed method reference %q", fields[1])
			}
			_, mapped, ok := splitMemberRef(fields[3])
			if !ok {
				return nil, parseErrorf(lr.n, "malformed method reference %q", fields[3])
			}
			if _, _, ok := splitMethodDesc(fields[2]); !ok {
				return nil, parseErrorf(lr.n, "malformed method descriptor %q", fields[2])
			}
			cc.addMethod(owner, MappedMethod{Names: []string{name, mapped}, Desc: fields[2]})
		default:
			return nil, parseErrorf(lr.n, "unknown record type %q", fields[0])
		}
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	m := &Mappings{
		Namespaces: append([]string(nil), srgNamespaces...),
		Classes:    cc.finish(),
		Meta:       SRGMeta{Extended: f.extended},
	}
	if err := m.validate(f.extended); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *srgFormat) Write(w io.Writer, m *Mappings) error {
	if len(m.Namespaces) != 2 {
		return invariantErrorf("%s supports exactly two namespaces, got %d", f.Name(), len(m.Namespaces))
	}
	nameMap := m.classNameMap(0, 1)
	for ci := range m.Classes {
		c := &m.Classes[ci]
		if err := writeLine(w, "CL: ", c.Names[0], " ", c.Names[1]); err != nil {
			return err
		}
	}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		for fi := range c.Fields {
			fd := &c.Fields[fi]
			if f.extended {
				if fd.Desc == "" {
					return invariantErrorf("field %s.%s: %v", c.Names[0], fd.Names[0], ErrMissingFieldDesc)
				}
				err := writeLine(w, "FD: ", c.Names[0], "/", fd.Names[0], " ", fd.Desc,
					" ", c.Names[1], "/", fd.Names[1], " ", MapType(fd.Desc, nameMap))
				if err != nil {
					return err
				}
			} else {
				err := writeLine(w, "FD: ", c.Names[0], "/", fd.Names[0],
					" ", c.Names[1], "/", fd.Names[1])
				if err != nil {
					return err
				}
			}
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			err := writeLine(w, "MD: ", c.Names[0], "/", md.Names[0], " ", md.Desc,
				" ", c.Names[1], "/", md.Names[1], " ", MapMethodDesc(md.Desc, nameMap))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// splitMemberRef cuts an owner-qualified member reference ("a/b/C/member")
// at its last slash.
func splitMemberRef(ref string) (owner, name string, ok bool) {
	i := strings.LastIndexByte(ref, '/')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}
