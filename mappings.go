// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"hash/fnv"
	"strconv"
)

// All names held by the model are JVM internal names (slash separated).
// Descriptors always refer to class names in the first namespace of the
// enclosing Mappings; transformations that change the first namespace are
// responsible for rewriting them.

// MappedParameter is a named method parameter.
type MappedParameter struct {
	Index uint16   `json:"index"`
	Names []string `json:"names"`
}

// MappedLocal is a named local variable of a method. LVTIndex below zero
// means the local variable table index is unknown.
type MappedLocal struct {
	Index       uint16   `json:"index"`
	StartOffset uint16   `json:"start_offset"`
	LVTIndex    int32    `json:"lvt_index"`
	Names       []string `json:"names"`
}

// MappedField is a field with a name per namespace. Desc is the field
// descriptor in the first namespace, or empty when the source format did not
// carry one.
type MappedField struct {
	Names    []string `json:"names"`
	Comments []string `json:"comments,omitempty"`
	Desc     string   `json:"desc,omitempty"`
}

// MappedMethod is a method with a name per namespace. Desc is the method
// descriptor in the first namespace and is always present.
type MappedMethod struct {
	Names      []string          `json:"names"`
	Comments   []string          `json:"comments,omitempty"`
	Desc       string            `json:"desc"`
	Parameters []MappedParameter `json:"parameters,omitempty"`
	Variables  []MappedLocal     `json:"variables,omitempty"`
}

// MappedClass is a class with a name per namespace and its mapped members.
type MappedClass struct {
	Names    []string       `json:"names"`
	Comments []string       `json:"comments,omitempty"`
	Fields   []MappedField  `json:"fields,omitempty"`
	Methods  []MappedMethod `json:"methods,omitempty"`
}

// Mappings relates names across namespaces. Values are immutable snapshots
// once produced; every transformation returns a new value.
type Mappings struct {
	Namespaces []string      `json:"namespaces"`
	Classes    []MappedClass `json:"classes"`

	// Meta carries per-format flags and drives writer dispatch.
	Meta FormatMeta `json:"-"`
}

// FormatMeta tags a Mappings value with the format it was read from, plus
// whatever per-format extras the codec tracks.
type FormatMeta interface {
	Format() Format
}

// GenericMeta marks mappings built in memory rather than parsed.
type GenericMeta struct{}

// Format returns nil; generic mappings have no native writer.
func (GenericMeta) Format() Format { return nil }

// GenericMappings builds an in-memory mappings value, validating the §3
// invariants shared by all formats.
func GenericMappings(namespaces []string, classes []MappedClass) (*Mappings, error) {
	m := &Mappings{Namespaces: namespaces, Classes: classes, Meta: GenericMeta{}}
	if err := m.validate(false); err != nil {
		return nil, err
	}
	return m, nil
}

// EmptyMappings returns a mappings value with no namespaces and no classes.
func EmptyMappings() *Mappings {
	return &Mappings{Meta: GenericMeta{}}
}

// IsEmpty reports whether m holds no classes.
func (m *Mappings) IsEmpty() bool {
	return m == nil || len(m.Classes) == 0
}

// validate checks the model invariants. requireFieldDesc enforces the
// per-format rule that every field carries a descriptor.
func (m *Mappings) validate(requireFieldDesc bool) error {
	n := len(m.Namespaces)
	for ci := range m.Classes {
		c := &m.Classes[ci]
		if len(c.Names) != n {
			return invariantErrorf("class %q: %d names for %d namespaces",
				first(c.Names), len(c.Names), n)
		}
		if n > 0 && c.Names[0] == "" {
			return invariantErrorf("class with empty name in namespace %q", m.Namespaces[0])
		}
		for fi := range c.Fields {
			f := &c.Fields[fi]
			if len(f.Names) != n {
				return invariantErrorf("field %q: %d names for %d namespaces",
					first(f.Names), len(f.Names), n)
			}
			if n > 0 && f.Names[0] == "" {
				return invariantErrorf("field of class %q with empty first name", c.Names[0])
			}
			if requireFieldDesc && f.Desc == "" {
				return invariantErrorf("field %s.%s: %v", c.Names[0], f.Names[0], ErrMissingFieldDesc)
			}
		}
		for mi := range c.Methods {
			mm := &c.Methods[mi]
			if len(mm.Names) != n {
				return invariantErrorf("method %q: %d names for %d namespaces",
					first(mm.Names), len(mm.Names), n)
			}
			if n > 0 && mm.Names[0] == "" {
				return invariantErrorf("method of class %q with empty first name", c.Names[0])
			}
		}
	}
	return nil
}

func first(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// NamespaceIndex returns the position of ns, or an ErrNamespaceMissing
// error.
func (m *Mappings) NamespaceIndex(ns string) (int, error) {
	if i := indexOf(m.Namespaces, ns); i >= 0 {
		return i, nil
	}
	return -1, &Error{Kind: KindNamespaceMissing, Msg: "namespace " + strconv.Quote(ns) + " not in " + strconv.Quote(joinNames(m.Namespaces)), Err: ErrNamespaceMissing}
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// classNameMap derives the class rename table between two namespace columns.
// Identity entries are kept; callers that need a sparse table filter
// themselves.
func (m *Mappings) classNameMap(from, to int) map[string]string {
	out := make(map[string]string, len(m.Classes))
	for ci := range m.Classes {
		c := &m.Classes[ci]
		out[c.Names[from]] = c.Names[to]
	}
	return out
}

// Equal reports semantic equality of two mappings values, ignoring format
// metadata.
func (m *Mappings) Equal(o *Mappings) bool {
	if m == nil || o == nil {
		return m == o
	}
	if !stringsEqual(m.Namespaces, o.Namespaces) || len(m.Classes) != len(o.Classes) {
		return false
	}
	for i := range m.Classes {
		if !m.Classes[i].Equal(&o.Classes[i]) {
			return false
		}
	}
	return true
}

// Equal reports structural equality of two classes.
func (c *MappedClass) Equal(o *MappedClass) bool {
	if !stringsEqual(c.Names, o.Names) || !stringsEqual(c.Comments, o.Comments) {
		return false
	}
	if len(c.Fields) != len(o.Fields) || len(c.Methods) != len(o.Methods) {
		return false
	}
	for i := range c.Fields {
		f, g := &c.Fields[i], &o.Fields[i]
		if f.Desc != g.Desc || !stringsEqual(f.Names, g.Names) || !stringsEqual(f.Comments, g.Comments) {
			return false
		}
	}
	for i := range c.Methods {
		a, b := &c.Methods[i], &o.Methods[i]
		if a.Desc != b.Desc || !stringsEqual(a.Names, b.Names) || !stringsEqual(a.Comments, b.Comments) {
			return false
		}
		if len(a.Parameters) != len(b.Parameters) || len(a.Variables) != len(b.Variables) {
			return false
		}
		for j := range a.Parameters {
			if a.Parameters[j].Index != b.Parameters[j].Index ||
				!stringsEqual(a.Parameters[j].Names, b.Parameters[j].Names) {
				return false
			}
		}
		for j := range a.Variables {
			v, w := &a.Variables[j], &b.Variables[j]
			if v.Index != w.Index || v.StartOffset != w.StartOffset || v.LVTIndex != w.LVTIndex ||
				!stringsEqual(v.Names, w.Names) {
				return false
			}
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Hash computes a structural fnv-1a hash over the whole value, consistent
// with Equal.
func (m *Mappings) Hash() uint64 {
	h := fnv.New64a()
	writeStrings := func(ss []string) {
		for _, s := range ss {
			h.Write([]byte(s))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	writeStrings(m.Namespaces)
	for ci := range m.Classes {
		c := &m.Classes[ci]
		writeStrings(c.Names)
		writeStrings(c.Comments)
		for fi := range c.Fields {
			writeStrings(c.Fields[fi].Names)
			writeStrings(c.Fields[fi].Comments)
			h.Write([]byte(c.Fields[fi].Desc))
			h.Write([]byte{2})
		}
		for mi := range c.Methods {
			mm := &c.Methods[mi]
			writeStrings(mm.Names)
			writeStrings(mm.Comments)
			h.Write([]byte(mm.Desc))
			for _, p := range mm.Parameters {
				var b [2]byte
				b[0], b[1] = byte(p.Index>>8), byte(p.Index)
				h.Write(b[:])
				writeStrings(p.Names)
			}
			for _, v := range mm.Variables {
				var b [8]byte
				b[0], b[1] = byte(v.Index>>8), byte(v.Index)
				b[2], b[3] = byte(v.StartOffset>>8), byte(v.StartOffset)
				u := uint32(v.LVTIndex)
				b[4], b[5], b[6], b[7] = byte(u>>24), byte(u>>16), byte(u>>8), byte(u)
				h.Write(b[:])
				writeStrings(v.Names)
			}
			h.Write([]byte{3})
		}
	}
	return h.Sum64()
}
