// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"io"
	"strconv"
	"strings"
)

// TinyV1 is the first revision of the tiny format: a v1 header followed by
// flat CLASS/FIELD/METHOD records.
var TinyV1 Format = &tinyV1Format{}

// TinyV2 is the second tiny revision: tab-indented records with comments,
// parameters, local variables and header metadata.
var TinyV2 Format = &tinyV2Format{}

// TinyV2Compact behaves like TinyV2 but elides names equal to the previous
// name in the tuple when writing.
var TinyV2Compact Format = &tinyV2Format{compact: true}

// TinyProperty is one metadata key/value pair of a tiny v2 header block.
type TinyProperty struct {
	Key   string
	Value string
}

// TinyV1Meta tags mappings parsed from tiny v1 input.
type TinyV1Meta struct{}

// Format selects the tiny v1 writer.
func (TinyV1Meta) Format() Format { return TinyV1 }

// TinyV2Meta tags mappings parsed from tiny v2 input and carries the header
// metadata block.
type TinyV2Meta struct {
	Properties []TinyProperty
}

// Format selects the tiny v2 writer.
func (TinyV2Meta) Format() Format { return TinyV2 }

const escapedNamesProperty = "escaped-names"

type tinyV1Format struct{}

func (*tinyV1Format) Name() string { return "tiny" }

// Detect requires the v1 header and, as the header is shared with unrelated
// files, every data record to use a known keyword. Whitespace-only lines are
// tolerated.
func (*tinyV1Format) Detect(lines []string) bool {
	sawHeader := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !sawHeader {
			if !strings.HasPrefix(line, "v1\t") {
				return false
			}
			sawHeader = true
			continue
		}
		if !strings.HasPrefix(line, "CLASS\t") &&
			!strings.HasPrefix(line, "FIELD\t") &&
			!strings.HasPrefix(line, "METHOD\t") {
			return false
		}
	}
	return sawHeader
}

func (*tinyV1Format) Parse(r io.Reader) (*Mappings, error) {
	lr := newLineReader(r)
	var namespaces []string
	var cc *classCollector
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if namespaces == nil {
			if parts[0] != "v1" || len(parts) < 3 {
				return nil, parseErrorf(lr.n, "missing tiny v1 header: %q", line)
			}
			namespaces = parts[1:]
			cc = newClassCollector(len(namespaces))
			continue
		}
		switch parts[0] {
		case "CLASS":
			if len(parts) != len(namespaces)+1 {
				return nil, parseErrorf(lr.n, "CLASS record with %d names for %d namespaces", len(parts)-1, len(namespaces))
			}
			cc.addClass(materializeNames(parts[1:]))
		case "FIELD":
			if len(parts) != len(namespaces)+3 {
				return nil, parseErrorf(lr.n, "FIELD record with %d names for %d namespaces", len(parts)-3, len(namespaces))
			}
			if !isValidDesc(parts[2]) {
				return nil, parseErrorf(lr.n, "malformed field descriptor %q", parts[2])
			}
			cc.addField(parts[1], MappedField{Names: materializeNames(parts[3:]), Desc: parts[2]})
		case "METHOD":
			if len(parts) != len(namespaces)+3 {
				return nil, parseErrorf(lr.n, "METHOD record with %d names for %d namespaces", len(parts)-3, len(namespaces))
			}
			if _, _, ok := splitMethodDesc(parts[2]); !ok {
				return nil, parseErrorf(lr.n, "malformed method descriptor %q", parts[2])
			}
			cc.addMethod(parts[1], MappedMethod{Names: materializeNames(parts[3:]), Desc: parts[2]})
		default:
			return nil, parseErrorf(lr.n, "unknown record type %q", parts[0])
		}
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	if namespaces == nil {
		return nil, parseErrorf(1, "missing tiny v1 header")
	}
	m := &Mappings{Namespaces: namespaces, Classes: cc.finish(), Meta: TinyV1Meta{}}
	if err := m.validate(true); err != nil {
		return nil, err
	}
	return m, nil
}

func (*tinyV1Format) Write(w io.Writer, m *Mappings) error {
	if err := writeLine(w, "v1\t", strings.Join(m.Namespaces, "\t")); err != nil {
		return err
	}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		if err := writeLine(w, "CLASS\t", strings.Join(c.Names, "\t")); err != nil {
			return err
		}
	}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		for fi := range c.Fields {
			fd := &c.Fields[fi]
			if fd.Desc == "" {
				return invariantErrorf("field %s.%s: %v", c.Names[0], fd.Names[0], ErrMissingFieldDesc)
			}
			err := writeLine(w, "FIELD\t", c.Names[0], "\t", fd.Desc, "\t", strings.Join(fd.Names, "\t"))
			if err != nil {
				return err
			}
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			err := writeLine(w, "METHOD\t", c.Names[0], "\t", md.Desc, "\t", strings.Join(md.Names, "\t"))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

type tinyV2Format struct {
	compact bool
}

func (*tinyV2Format) Name() string { return "tinyv2" }

// Detect looks at the first non-empty line only.
func (*tinyV2Format) Detect(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return strings.HasPrefix(line, "tiny\t2\t")
	}
	return false
}

// tiny v2 parse states
const (
	tinyStateTop = iota
	tinyStateClass
	tinyStateField
	tinyStateMethod
	tinyStateParam
	tinyStateLocal
)

func (f *tinyV2Format) Parse(r io.Reader) (*Mappings, error) {
	lr := newLineReader(r)
	var namespaces []string
	var classes []MappedClass
	var props []TinyProperty
	escaped := false
	state := tinyStateTop
	var class *MappedClass
	var field *MappedField
	var method *MappedMethod
	unescapeName := func(s string) string {
		if escaped {
			return tinyUnescape(s)
		}
		return s
	}
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if namespaces == nil {
			if len(parts) < 5 || parts[0] != "tiny" || parts[1] != "2" {
				return nil, parseErrorf(lr.n, "missing tiny v2 header: %q", line)
			}
			namespaces = parts[3:]
			continue
		}
		depth := 0
		for depth < len(parts) && parts[depth] == "" {
			depth++
		}
		parts = parts[depth:]
		if len(parts) == 0 {
			continue
		}
		switch depth {
		case 0:
			if parts[0] != "c" {
				return nil, parseErrorf(lr.n, "unknown record type %q", parts[0])
			}
			if len(parts) != len(namespaces)+1 {
				return nil, parseErrorf(lr.n, "class record with %d names for %d namespaces", len(parts)-1, len(namespaces))
			}
			classes = append(classes, MappedClass{Names: mapNames(materializeNames(parts[1:]), unescapeName)})
			class = &classes[len(classes)-1]
			field, method = nil, nil
			state = tinyStateClass
		case 1:
			if class == nil {
				// Header metadata block: key, optionally a value.
				if len(parts) > 2 {
					return nil, parseErrorf(lr.n, "malformed metadata record: %q", line)
				}
				p := TinyProperty{Key: parts[0]}
				if len(parts) == 2 {
					p.Value = parts[1]
				}
				if p.Key == escapedNamesProperty {
					escaped = true
				}
				props = append(props, p)
				continue
			}
			switch parts[0] {
			case "c":
				class.Comments = append(class.Comments, tinyUnescape(strings.Join(parts[1:], "\t")))
			case "f":
				if len(parts) != len(namespaces)+2 {
					return nil, parseErrorf(lr.n, "field record with %d names for %d namespaces", len(parts)-2, len(namespaces))
				}
				if !isValidDesc(parts[1]) {
					return nil, parseErrorf(lr.n, "malformed field descriptor %q", parts[1])
				}
				class.Fields = append(class.Fields, MappedField{
					Names: mapNames(materializeNames(parts[2:]), unescapeName),
					Desc:  parts[1],
				})
				field, method = &class.Fields[len(class.Fields)-1], nil
				state = tinyStateField
			case "m":
				if len(parts) != len(namespaces)+2 {
					return nil, parseErrorf(lr.n, "method record with %d names for %d namespaces", len(parts)-2, len(namespaces))
				}
				if _, _, ok := splitMethodDesc(parts[1]); !ok {
					return nil, parseErrorf(lr.n, "malformed method descriptor %q", parts[1])
				}
				class.Methods = append(class.Methods, MappedMethod{
					Names: mapNames(materializeNames(parts[2:]), unescapeName),
					Desc:  parts[1],
				})
				method, field = &class.Methods[len(class.Methods)-1], nil
				state = tinyStateMethod
			default:
				return nil, parseErrorf(lr.n, "unknown record type %q", parts[0])
			}
		case 2:
			switch {
			case parts[0] == "c" && state == tinyStateField && field != nil:
				field.Comments = append(field.Comments, tinyUnescape(strings.Join(parts[1:], "\t")))
			case parts[0] == "c" && (state == tinyStateMethod || state == tinyStateParam || state == tinyStateLocal) && method != nil:
				method.Comments = append(method.Comments, tinyUnescape(strings.Join(parts[1:], "\t")))
			case parts[0] == "p" && method != nil:
				if len(parts) != len(namespaces)+2 {
					return nil, parseErrorf(lr.n, "parameter record with %d names for %d namespaces", len(parts)-2, len(namespaces))
				}
				idx, err := strconv.ParseUint(parts[1], 10, 16)
				if err != nil {
					return nil, parseErrorf(lr.n, "malformed parameter index %q", parts[1])
				}
				method.Parameters = append(method.Parameters, MappedParameter{
					Index: uint16(idx),
					Names: mapNames(materializeNames(parts[2:]), unescapeName),
				})
				state = tinyStateParam
			case parts[0] == "v" && method != nil:
				if len(parts) != len(namespaces)+4 {
					return nil, parseErrorf(lr.n, "variable record with %d names for %d namespaces", len(parts)-4, len(namespaces))
				}
				idx, err := strconv.ParseUint(parts[1], 10, 16)
				if err != nil {
					return nil, parseErrorf(lr.n, "malformed variable index %q", parts[1])
				}
				start, err := strconv.ParseUint(parts[2], 10, 16)
				if err != nil {
					return nil, parseErrorf(lr.n, "malformed variable offset %q", parts[2])
				}
				lvt, err := strconv.ParseInt(parts[3], 10, 32)
				if err != nil {
					return nil, parseErrorf(lr.n, "malformed lvt index %q", parts[3])
				}
				method.Variables = append(method.Variables, MappedLocal{
					Index:       uint16(idx),
					StartOffset: uint16(start),
					LVTIndex:    int32(lvt),
					Names:       mapNames(materializeNames(parts[4:]), unescapeName),
				})
				state = tinyStateLocal
			default:
				return nil, parseErrorf(lr.n, "unexpected record %q at depth 2", parts[0])
			}
		case 3:
			// Comments on parameters and locals; the model does not keep them.
			if parts[0] != "c" || (state != tinyStateParam && state != tinyStateLocal) {
				return nil, parseErrorf(lr.n, "unexpected record %q at depth 3", parts[0])
			}
		default:
			return nil, parseErrorf(lr.n, "unexpected indent depth %d: %q", depth, line)
		}
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	if namespaces == nil {
		return nil, parseErrorf(1, "missing tiny v2 header")
	}
	m := &Mappings{Namespaces: namespaces, Classes: classes, Meta: TinyV2Meta{Properties: props}}
	if err := m.validate(true); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *tinyV2Format) Write(w io.Writer, m *Mappings) error {
	if err := writeLine(w, "tiny\t2\t0\t", strings.Join(m.Namespaces, "\t")); err != nil {
		return err
	}
	if meta, ok := m.Meta.(TinyV2Meta); ok {
		for _, p := range meta.Properties {
			if p.Value == "" {
				if err := writeLine(w, "\t", p.Key); err != nil {
					return err
				}
				continue
			}
			if err := writeLine(w, "\t", p.Key, "\t", p.Value); err != nil {
				return err
			}
		}
	}
	names := func(ns []string) string {
		if f.compact {
			return strings.Join(elideNames(ns), "\t")
		}
		return strings.Join(ns, "\t")
	}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		if err := writeLine(w, "c\t", names(c.Names)); err != nil {
			return err
		}
		for _, cm := range c.Comments {
			if err := writeLine(w, "\tc\t", tinyEscape(cm)); err != nil {
				return err
			}
		}
		for fi := range c.Fields {
			fd := &c.Fields[fi]
			if fd.Desc == "" {
				return invariantErrorf("field %s.%s: %v", c.Names[0], fd.Names[0], ErrMissingFieldDesc)
			}
			if err := writeLine(w, "\tf\t", fd.Desc, "\t", names(fd.Names)); err != nil {
				return err
			}
			for _, cm := range fd.Comments {
				if err := writeLine(w, "\t\tc\t", tinyEscape(cm)); err != nil {
					return err
				}
			}
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			if err := writeLine(w, "\tm\t", md.Desc, "\t", names(md.Names)); err != nil {
				return err
			}
			for _, cm := range md.Comments {
				if err := writeLine(w, "\t\tc\t", tinyEscape(cm)); err != nil {
					return err
				}
			}
			for _, p := range md.Parameters {
				err := writeLine(w, "\t\tp\t", strconv.Itoa(int(p.Index)), "\t", names(p.Names))
				if err != nil {
					return err
				}
			}
			for _, v := range md.Variables {
				err := writeLine(w, "\t\tv\t", strconv.Itoa(int(v.Index)), "\t",
					strconv.Itoa(int(v.StartOffset)), "\t", strconv.Itoa(int(v.LVTIndex)),
					"\t", names(v.Names))
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func mapNames(names []string, fn func(string) string) []string {
	for i, n := range names {
		names[i] = fn(n)
	}
	return names
}

// elideNames writes a name equal to its predecessor as the empty string.
func elideNames(names []string) []string {
	out := make([]string, len(names))
	last := ""
	for i, n := range names {
		if i > 0 && n == last {
			out[i] = ""
			continue
		}
		out[i] = n
		last = n
	}
	return out
}

const tinyToEscape = "\\\n\r\x00\t"
const tinyEscaped = `\nr0t`

func tinyEscape(s string) string {
	if !strings.ContainsAny(s, tinyToEscape) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if j := strings.IndexByte(tinyToEscape, s[i]); j >= 0 {
			sb.WriteByte('\\')
			sb.WriteByte(tinyEscaped[j])
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func tinyUnescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			sb.WriteByte(s[i])
			continue
		}
		i++
		if j := strings.IndexByte(tinyEscaped, s[i]); j >= 0 {
			sb.WriteByte(tinyToEscape[j])
		} else {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
