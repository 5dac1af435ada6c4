// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

// Transformations never mutate their receiver; every operation returns a
// fresh Mappings value.

// RenameNamespaces relabels the namespaces without touching any names.
func (m *Mappings) RenameNamespaces(to ...string) (*Mappings, error) {
	if len(to) != len(m.Namespaces) {
		return nil, invariantErrorf("renaming %d namespaces with %d labels", len(m.Namespaces), len(to))
	}
	out := *m
	out.Namespaces = append([]string(nil), to...)
	return &out, nil
}

// ReorderNamespaces permutes the namespace columns into the given order and
// rewrites member descriptors into the new first namespace.
func (m *Mappings) ReorderNamespaces(order ...string) (*Mappings, error) {
	perm := make([]int, len(order))
	for i, ns := range order {
		idx, err := m.NamespaceIndex(ns)
		if err != nil {
			return nil, err
		}
		perm[i] = idx
	}
	return m.selectNamespaces(order, perm), nil
}

// FilterNamespaces keeps only the columns whose namespace is in allowed.
// Unless allowDuplicates is set, repeated namespace labels keep their first
// column only.
func (m *Mappings) FilterNamespaces(allowed []string, allowDuplicates bool) (*Mappings, error) {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, ns := range allowed {
		allowedSet[ns] = struct{}{}
	}
	kept := make(map[string]struct{}, len(allowed))
	var names []string
	var perm []int
	for i, ns := range m.Namespaces {
		if _, ok := allowedSet[ns]; !ok {
			continue
		}
		if !allowDuplicates {
			if _, dup := kept[ns]; dup {
				continue
			}
			kept[ns] = struct{}{}
		}
		names = append(names, ns)
		perm = append(perm, i)
	}
	return m.selectNamespaces(names, perm), nil
}

// DeduplicateNamespaces drops repeated namespace columns, first one wins.
func (m *Mappings) DeduplicateNamespaces() (*Mappings, error) {
	return m.FilterNamespaces(uniqueStrings(m.Namespaces), false)
}

// ExtractNamespaces reduces the mappings to the two given namespaces, in
// that order.
func (m *Mappings) ExtractNamespaces(from, to string) (*Mappings, error) {
	return m.ReorderNamespaces(from, to)
}

// selectNamespaces builds a new mappings value whose column i is the old
// column perm[i], rewriting descriptors when the first column changes.
func (m *Mappings) selectNamespaces(namespaces []string, perm []int) *Mappings {
	var descMap map[string]string
	if len(perm) > 0 && perm[0] != 0 {
		descMap = m.classNameMap(0, perm[0])
	}
	pick := func(names []string) []string {
		out := make([]string, len(perm))
		for i, p := range perm {
			out[i] = names[p]
		}
		return out
	}
	classes := make([]MappedClass, len(m.Classes))
	for ci := range m.Classes {
		c := &m.Classes[ci]
		nc := MappedClass{
			Names:    pick(c.Names),
			Comments: append([]string(nil), c.Comments...),
		}
		for fi := range c.Fields {
			f := &c.Fields[fi]
			nf := MappedField{
				Names:    pick(f.Names),
				Comments: append([]string(nil), f.Comments...),
				Desc:     f.Desc,
			}
			if descMap != nil && nf.Desc != "" {
				nf.Desc = MapType(nf.Desc, descMap)
			}
			nc.Fields = append(nc.Fields, nf)
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			nm := MappedMethod{
				Names:    pick(md.Names),
				Comments: append([]string(nil), md.Comments...),
				Desc:     md.Desc,
			}
			if descMap != nil {
				nm.Desc = MapMethodDesc(nm.Desc, descMap)
			}
			for _, p := range md.Parameters {
				nm.Parameters = append(nm.Parameters, MappedParameter{Index: p.Index, Names: pick(p.Names)})
			}
			for _, v := range md.Variables {
				nm.Variables = append(nm.Variables, MappedLocal{
					Index: v.Index, StartOffset: v.StartOffset, LVTIndex: v.LVTIndex,
					Names: pick(v.Names),
				})
			}
			nc.Methods = append(nc.Methods, nm)
		}
		classes[ci] = nc
	}
	return &Mappings{Namespaces: append([]string(nil), namespaces...), Classes: classes, Meta: m.Meta}
}

// MapClasses applies fn to every class, producing a new mappings value.
func (m *Mappings) MapClasses(fn func(MappedClass) MappedClass) *Mappings {
	classes := make([]MappedClass, len(m.Classes))
	for i, c := range m.Classes {
		classes[i] = fn(c)
	}
	return &Mappings{Namespaces: m.Namespaces, Classes: classes, Meta: m.Meta}
}

// FilterClasses keeps the classes matching pred.
func (m *Mappings) FilterClasses(pred func(*MappedClass) bool) *Mappings {
	classes := make([]MappedClass, 0, len(m.Classes))
	for i := range m.Classes {
		if pred(&m.Classes[i]) {
			classes = append(classes, m.Classes[i])
		}
	}
	return &Mappings{Namespaces: m.Namespaces, Classes: classes, Meta: m.Meta}
}
