// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"strings"
)

// SimpleRemapper resolves mapped names through a flat key table plus an
// inheritance provider. Keys take three shapes:
//
//	class:  "owner"
//	field:  "owner.name"
//	method: "owner.name(args)ret"
//
// Missing inheritance data is never an error; the hierarchy walk simply
// stops and the original name survives.
type SimpleRemapper struct {
	mapping map[string]string
	inh     InheritanceProvider
}

// NewSimpleRemapper builds a remapper over a key table, typically produced
// by Mappings.ASMMapping. inh may be nil when no hierarchy is available.
func NewSimpleRemapper(mapping map[string]string, inh InheritanceProvider) *SimpleRemapper {
	return &SimpleRemapper{mapping: mapping, inh: inh}
}

// NewRemapper derives the key table between two namespaces of m and wraps
// it in a SimpleRemapper.
func NewRemapper(m *Mappings, from, to string, inh InheritanceProvider) (*SimpleRemapper, error) {
	table, err := m.ASMMapping(from, to, true, true)
	if err != nil {
		return nil, err
	}
	return NewSimpleRemapper(table, inh), nil
}

// ASMMapping flattens m into a remapping key table between two namespaces.
// Method descriptors in keys are normalized into the "from" namespace.
// Identity entries are omitted; mapping a namespace onto itself yields an
// empty table.
func (m *Mappings) ASMMapping(from, to string, includeMethods, includeFields bool) (map[string]string, error) {
	if from == to {
		return map[string]string{}, nil
	}
	fromIdx, err := m.NamespaceIndex(from)
	if err != nil {
		return nil, err
	}
	toIdx, err := m.NamespaceIndex(to)
	if err != nil {
		return nil, err
	}
	// Descriptors live in the first namespace; keys need them in "from".
	var descNorm map[string]string
	if fromIdx != 0 {
		descNorm = m.classNameMap(0, fromIdx)
	}
	out := map[string]string{}
	for ci := range m.Classes {
		c := &m.Classes[ci]
		ownerFrom, ownerTo := c.Names[fromIdx], c.Names[toIdx]
		if ownerFrom != ownerTo {
			out[ownerFrom] = ownerTo
		}
		if includeFields {
			for fi := range c.Fields {
				f := &c.Fields[fi]
				if f.Names[fromIdx] != f.Names[toIdx] {
					out[ownerFrom+"."+f.Names[fromIdx]] = f.Names[toIdx]
				}
			}
		}
		if includeMethods {
			for mi := range c.Methods {
				md := &c.Methods[mi]
				if md.Names[fromIdx] == md.Names[toIdx] {
					continue
				}
				desc := md.Desc
				if descNorm != nil {
					desc = MapMethodDesc(desc, descNorm)
				}
				out[ownerFrom+"."+md.Names[fromIdx]+desc] = md.Names[toIdx]
			}
		}
	}
	return out, nil
}

// Map translates a class internal name. Unmapped inner classes inherit the
// mapping of their outer class.
func (r *SimpleRemapper) Map(internalName string) string {
	if mapped, ok := r.mapping[internalName]; ok {
		return mapped
	}
	if i := strings.LastIndexByte(internalName, '$'); i > 0 {
		outer := r.Map(internalName[:i])
		if outer != internalName[:i] {
			return outer + internalName[i:]
		}
	}
	return internalName
}

// mapClassConst translates the payload of a CONSTANT_Class entry, which may
// be an array descriptor instead of a plain internal name.
func (r *SimpleRemapper) mapClassConst(name string) string {
	if strings.HasPrefix(name, "[") {
		return r.MapDesc(name)
	}
	return r.Map(name)
}

// MapDesc rewrites a field/type descriptor.
func (r *SimpleRemapper) MapDesc(desc string) string {
	return MapType(desc, descLookup(desc, r.Map))
}

// MapMethodDesc rewrites a method descriptor.
func (r *SimpleRemapper) MapMethodDesc(desc string) string {
	return MapType(desc, descLookup(desc, r.Map))
}

// MapMethodName resolves a method name against the owner and its transitive
// super types. Constructors and class initializers never change; a
// field-style descriptor falls through to the field lookup.
func (r *SimpleRemapper) MapMethodName(owner, name, desc string) string {
	if name == "<init>" || name == "<clinit>" {
		return name
	}
	if !strings.HasPrefix(desc, "(") {
		return r.MapFieldName(owner, name, desc)
	}
	suffix := "." + name + desc
	if mapped, ok := r.mapping[owner+suffix]; ok {
		return mapped
	}
	if r.inh != nil {
		w := NewParentWalk(r.inh, owner)
		for {
			parent, ok := w.Next()
			if !ok {
				break
			}
			if mapped, ok := r.mapping[parent+suffix]; ok {
				return mapped
			}
		}
	}
	return name
}

// MapFieldName resolves a field name against the owner and its transitive
// super types.
func (r *SimpleRemapper) MapFieldName(owner, name, desc string) string {
	suffix := "." + name
	if mapped, ok := r.mapping[owner+suffix]; ok {
		return mapped
	}
	if r.inh != nil {
		w := NewParentWalk(r.inh, owner)
		for {
			parent, ok := w.Next()
			if !ok {
				break
			}
			if mapped, ok := r.mapping[parent+suffix]; ok {
				return mapped
			}
		}
	}
	return name
}

// MapRecordComponentName resolves a record component like a field.
func (r *SimpleRemapper) MapRecordComponentName(owner, name, desc string) string {
	return r.MapFieldName(owner, name, desc)
}

// MapSignature rewrites every class reference of a generic signature.
// Empty input stays empty.
func (r *SimpleRemapper) MapSignature(sig string) string {
	if sig == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(sig))
	i := 0
	if strings.HasPrefix(sig, "<") {
		// Formal type parameter section: identifiers and bounds.
		sb.WriteByte('<')
		i = 1
		for i < len(sig) && sig[i] != '>' {
			colon := strings.IndexByte(sig[i:], ':')
			if colon < 0 {
				// Malformed; keep the rest untouched.
				sb.WriteString(sig[i:])
				return sb.String()
			}
			sb.WriteString(sig[i : i+colon+1])
			i += colon + 1
			// Class bound, possibly empty, then interface bounds.
			if i < len(sig) && sig[i] != ':' && sig[i] != '>' {
				i = r.mapTypeSig(sig, i, &sb)
			}
			for i < len(sig) && sig[i] == ':' {
				sb.WriteByte(':')
				i++
				i = r.mapTypeSig(sig, i, &sb)
			}
		}
		if i < len(sig) {
			sb.WriteByte('>')
			i++
		}
	}
	for i < len(sig) {
		switch sig[i] {
		case '(', ')', '^':
			sb.WriteByte(sig[i])
			i++
		default:
			i = r.mapTypeSig(sig, i, &sb)
		}
	}
	return sb.String()
}

func (r *SimpleRemapper) mapTypeSig(sig string, i int, sb *strings.Builder) int {
	if i >= len(sig) {
		return i
	}
	switch sig[i] {
	case '[':
		sb.WriteByte('[')
		return r.mapTypeSig(sig, i+1, sb)
	case 'T':
		end := strings.IndexByte(sig[i:], ';')
		if end < 0 {
			sb.WriteString(sig[i:])
			return len(sig)
		}
		sb.WriteString(sig[i : i+end+1])
		return i + end + 1
	case 'L':
		return r.mapClassTypeSig(sig, i, sb)
	default:
		sb.WriteByte(sig[i])
		return i + 1
	}
}

func (r *SimpleRemapper) mapClassTypeSig(sig string, i int, sb *strings.Builder) int {
	i++ // consume 'L'
	start := i
	for i < len(sig) && sig[i] != '<' && sig[i] != ';' && sig[i] != '.' {
		i++
	}
	full := sig[start:i]
	sb.WriteByte('L')
	sb.WriteString(r.Map(full))
	for i < len(sig) {
		if sig[i] == '<' {
			sb.WriteByte('<')
			i++
			for i < len(sig) && sig[i] != '>' {
				switch sig[i] {
				case '*':
					sb.WriteByte('*')
					i++
				case '+', '-':
					sb.WriteByte(sig[i])
					i++
				default:
					i = r.mapTypeSig(sig, i, sb)
				}
			}
			if i < len(sig) {
				sb.WriteByte('>')
				i++
			}
			continue
		}
		if sig[i] == '.' {
			// Inner class segment; mapped relative to the mapped outer.
			i++
			start = i
			for i < len(sig) && sig[i] != '<' && sig[i] != ';' && sig[i] != '.' {
				i++
			}
			outer := full
			full = full + "$" + sig[start:i]
			rel := strings.TrimPrefix(r.Map(full), r.Map(outer)+"$")
			sb.WriteByte('.')
			sb.WriteString(rel)
			continue
		}
		break
	}
	if i < len(sig) && sig[i] == ';' {
		sb.WriteByte(';')
		i++
	}
	return i
}
