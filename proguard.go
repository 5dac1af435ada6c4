// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"io"
	"strings"
)

// Proguard is the mapping.txt format emitted by the ProGuard obfuscator.
// It relates exactly two namespaces, deobfuscated before obfuscated.
var Proguard Format = &proguardFormat{}

// ProguardMeta tags mappings parsed from ProGuard input.
type ProguardMeta struct{}

// Format selects the ProGuard writer.
func (ProguardMeta) Format() Format { return Proguard }

var proguardNamespaces = []string{"named", "official"}

type proguardFormat struct{}

func (*proguardFormat) Name() string { return "proguard" }

// Detect looks for the "name -> name:" class header on the first
// non-comment line.
func (*proguardFormat) Detect(lines []string) bool {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			return false
		}
		return strings.HasSuffix(trimmed, ":") && strings.Contains(trimmed, " -> ")
	}
	return false
}

func (*proguardFormat) Parse(r io.Reader) (*Mappings, error) {
	lr := newLineReader(r)
	var classes []MappedClass
	var class *MappedClass
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indented := line[0] == ' ' || line[0] == '\t'
		if !indented {
			// Class header: "com.example.Main -> a:"
			if !strings.HasSuffix(trimmed, ":") {
				return nil, parseErrorf(lr.n, "malformed class record: %q", line)
			}
			from, to, ok := strings.Cut(strings.TrimSuffix(trimmed, ":"), " -> ")
			if !ok {
				return nil, parseErrorf(lr.n, "malformed class record: %q", line)
			}
			classes = append(classes, MappedClass{
				Names: []string{dotsToSlashes(from), dotsToSlashes(to)},
			})
			class = &classes[len(classes)-1]
			continue
		}
		if class == nil {
			return nil, parseErrorf(lr.n, "member record before any class: %q", line)
		}
		decl, mapped, ok := strings.Cut(trimmed, " -> ")
		if !ok {
			return nil, parseErrorf(lr.n, "malformed member record: %q", line)
		}
		// Strip the "a:b:" line number prefix of method records.
		if i := strings.LastIndexByte(decl, ':'); i >= 0 {
			decl = decl[i+1:]
		}
		typ, rest, ok := strings.Cut(decl, " ")
		if !ok {
			return nil, parseErrorf(lr.n, "malformed member record: %q", line)
		}
		if open := strings.IndexByte(rest, '('); open >= 0 {
			// Method: "returnType name(argType,argType)"
			if !strings.HasSuffix(rest, ")") {
				return nil, parseErrorf(lr.n, "malformed method record: %q", line)
			}
			name := rest[:open]
			argList := rest[open+1 : len(rest)-1]
			desc, err := proguardMethodDesc(argList, typ)
			if err != nil {
				return nil, parseErrorf(lr.n, "%v: %q", err, line)
			}
			class.Methods = append(class.Methods, MappedMethod{
				Names: []string{name, mapped},
				Desc:  desc,
			})
			continue
		}
		fieldDesc, err := javaTypeToDesc(typ)
		if err != nil {
			return nil, parseErrorf(lr.n, "%v: %q", err, line)
		}
		class.Fields = append(class.Fields, MappedField{
			Names: []string{rest, mapped},
			Desc:  fieldDesc,
		})
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	m := &Mappings{
		Namespaces: append([]string(nil), proguardNamespaces...),
		Classes:    classes,
		Meta:       ProguardMeta{},
	}
	if err := m.validate(true); err != nil {
		return nil, err
	}
	return m, nil
}

func (*proguardFormat) Write(w io.Writer, m *Mappings) error {
	if len(m.Namespaces) != 2 {
		return invariantErrorf("proguard supports exactly two namespaces, got %d", len(m.Namespaces))
	}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		err := writeLine(w, slashesToDots(c.Names[0]), " -> ", slashesToDots(c.Names[1]), ":")
		if err != nil {
			return err
		}
		for fi := range c.Fields {
			fd := &c.Fields[fi]
			if fd.Desc == "" {
				return invariantErrorf("field %s.%s: %v", c.Names[0], fd.Names[0], ErrMissingFieldDesc)
			}
			typ, err := descToJavaType(fd.Desc)
			if err != nil {
				return err
			}
			if err := writeLine(w, "    ", typ, " ", fd.Names[0], " -> ", fd.Names[1]); err != nil {
				return err
			}
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			args, ret, ok := splitMethodDesc(md.Desc)
			if !ok {
				return invariantErrorf("malformed method descriptor %q", md.Desc)
			}
			retType, err := descToJavaType(ret)
			if err != nil {
				return err
			}
			argTypes := make([]string, len(args))
			for i, a := range args {
				if argTypes[i], err = descToJavaType(a); err != nil {
					return err
				}
			}
			// Line numbers are not modeled; emit a placeholder range.
			err = writeLine(w, "    1:1:", retType, " ", md.Names[0],
				"(", strings.Join(argTypes, ","), ") -> ", md.Names[1])
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func dotsToSlashes(name string) string { return strings.ReplaceAll(name, ".", "/") }
func slashesToDots(name string) string { return strings.ReplaceAll(name, "/", ".") }

var javaPrimitives = map[string]byte{
	"byte": 'B', "char": 'C', "double": 'D', "float": 'F',
	"int": 'I', "long": 'J', "short": 'S', "boolean": 'Z', "void": 'V',
}

// javaTypeToDesc translates a source-style type ("int", "java.lang.String",
// "byte[][]") into a descriptor.
func javaTypeToDesc(typ string) (string, error) {
	dims := 0
	for strings.HasSuffix(typ, "[]") {
		typ = typ[:len(typ)-2]
		dims++
	}
	if typ == "" {
		return "", invariantErrorf("empty type")
	}
	var base string
	if prim, ok := javaPrimitives[typ]; ok {
		base = string(prim)
	} else {
		base = "L" + dotsToSlashes(typ) + ";"
	}
	return strings.Repeat("[", dims) + base, nil
}

// descToJavaType is the inverse of javaTypeToDesc.
func descToJavaType(desc string) (string, error) {
	dims := 0
	for strings.HasPrefix(desc, "[") {
		desc = desc[1:]
		dims++
	}
	var base string
	switch {
	case desc == "":
		return "", invariantErrorf("empty descriptor")
	case desc[0] == 'L' && desc[len(desc)-1] == ';':
		base = slashesToDots(desc[1 : len(desc)-1])
	default:
		found := false
		for name, prim := range javaPrimitives {
			if len(desc) == 1 && desc[0] == prim {
				base, found = name, true
				break
			}
		}
		if !found {
			return "", invariantErrorf("malformed descriptor %q", desc)
		}
	}
	return base + strings.Repeat("[]", dims), nil
}

func proguardMethodDesc(argList, retType string) (string, error) {
	var sb strings.Builder
	sb.WriteByte('(')
	if argList != "" {
		for _, arg := range strings.Split(argList, ",") {
			d, err := javaTypeToDesc(strings.TrimSpace(arg))
			if err != nil {
				return "", err
			}
			sb.WriteString(d)
		}
	}
	sb.WriteByte(')')
	ret, err := javaTypeToDesc(retType)
	if err != nil {
		return "", err
	}
	sb.WriteString(ret)
	return sb.String(), nil
}
