// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"sort"
)

// Join aligns two mappings by the namespace both share, producing a value
// spanning the namespaces of both sides. Classes are matched by their name
// in the intermediate namespace, fields by intermediate name, methods by
// intermediate name plus intermediate descriptor. Parameter and local
// variable data does not survive a join.
//
// When requireMatch is set, both sides must cover exactly the same classes
// and members.
func (m *Mappings) Join(other *Mappings, intermediate string, requireMatch bool) (*Mappings, error) {
	selfInter, err := m.NamespaceIndex(intermediate)
	if err != nil {
		return nil, err
	}
	otherInter, err := other.NamespaceIndex(intermediate)
	if err != nil {
		return nil, err
	}

	// Output column layout: self columns, the intermediate, other columns.
	selfCols := pickColumns(m.Namespaces, intermediate)
	otherCols := pickColumns(other.Namespaces, intermediate)
	outNS := make([]string, 0, len(selfCols)+1+len(otherCols))
	for _, c := range selfCols {
		outNS = append(outNS, c.ns)
	}
	outNS = append(outNS, intermediate)
	for _, c := range otherCols {
		outNS = append(outNS, c.ns)
	}
	interOut := len(selfCols)

	selfByInter := indexClasses(m, selfInter)
	otherByInter := indexClasses(other, otherInter)
	if requireMatch {
		if err := matchKeys(selfByInter, otherByInter); err != nil {
			return nil, err
		}
	}

	// Descriptor tables normalizing each side's first namespace into the
	// intermediate one.
	selfDescMap := m.classNameMap(0, selfInter)
	otherDescMap := other.classNameMap(0, otherInter)

	keys := make([]string, 0, len(selfByInter))
	seen := map[string]struct{}{}
	for ci := range m.Classes {
		k := m.Classes[ci].Names[selfInter]
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for ci := range other.Classes {
		k := other.Classes[ci].Names[otherInter]
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	classes := make([]MappedClass, 0, len(keys))
	for _, key := range keys {
		selfC := selfByInter[key]
		otherC := otherByInter[key]
		var selfNames, otherNames []string
		if selfC != nil {
			selfNames = selfC.Names
		}
		if otherC != nil {
			otherNames = otherC.Names
		}
		nc := MappedClass{Names: joinTuple(key, selfNames, otherNames, selfCols, otherCols)}
		if selfC != nil {
			nc.Comments = append(nc.Comments, selfC.Comments...)
		}
		if otherC != nil {
			nc.Comments = append(nc.Comments, otherC.Comments...)
		}

		type fieldSlot struct {
			self, other *MappedField
		}
		fieldOrder := []string{}
		fieldsByName := map[string]*fieldSlot{}
		if selfC != nil {
			for fi := range selfC.Fields {
				f := &selfC.Fields[fi]
				k := f.Names[selfInter]
				fieldsByName[k] = &fieldSlot{self: f}
				fieldOrder = append(fieldOrder, k)
			}
		}
		if otherC != nil {
			for fi := range otherC.Fields {
				f := &otherC.Fields[fi]
				k := f.Names[otherInter]
				if slot, ok := fieldsByName[k]; ok {
					slot.other = f
					continue
				}
				fieldsByName[k] = &fieldSlot{other: f}
				fieldOrder = append(fieldOrder, k)
			}
		}
		if requireMatch {
			for k, slot := range fieldsByName {
				if slot.self == nil || slot.other == nil {
					return nil, &Error{Kind: KindInvariantViolation,
						Msg: "field " + key + "." + k + " present on one side only", Err: ErrJoinMismatch}
				}
			}
		}
		for _, fk := range fieldOrder {
			slot := fieldsByName[fk]
			var sn, on []string
			if slot.self != nil {
				sn = slot.self.Names
			}
			if slot.other != nil {
				on = slot.other.Names
			}
			nf := MappedField{Names: joinTuple(fk, sn, on, selfCols, otherCols)}
			// First side wins descriptor ties.
			switch {
			case slot.self != nil && slot.self.Desc != "":
				nf.Desc = MapType(slot.self.Desc, selfDescMap)
			case slot.other != nil && slot.other.Desc != "":
				nf.Desc = MapType(slot.other.Desc, otherDescMap)
			}
			if slot.self != nil {
				nf.Comments = append(nf.Comments, slot.self.Comments...)
			}
			if slot.other != nil {
				nf.Comments = append(nf.Comments, slot.other.Comments...)
			}
			nc.Fields = append(nc.Fields, nf)
		}

		type methodSlot struct {
			self, other *MappedMethod
		}
		methodOrder := []string{}
		methodsByKey := map[string]*methodSlot{}
		methodName := map[string]string{}
		if selfC != nil {
			for mi := range selfC.Methods {
				md := &selfC.Methods[mi]
				k := md.Names[selfInter] + MapMethodDesc(md.Desc, selfDescMap)
				methodsByKey[k] = &methodSlot{self: md}
				methodName[k] = md.Names[selfInter]
				methodOrder = append(methodOrder, k)
			}
		}
		if otherC != nil {
			for mi := range otherC.Methods {
				md := &otherC.Methods[mi]
				k := md.Names[otherInter] + MapMethodDesc(md.Desc, otherDescMap)
				if slot, ok := methodsByKey[k]; ok {
					slot.other = md
					continue
				}
				methodsByKey[k] = &methodSlot{other: md}
				methodName[k] = md.Names[otherInter]
				methodOrder = append(methodOrder, k)
			}
		}
		if requireMatch {
			for k, slot := range methodsByKey {
				if slot.self == nil || slot.other == nil {
					return nil, &Error{Kind: KindInvariantViolation,
						Msg: "method " + key + "." + k + " present on one side only", Err: ErrJoinMismatch}
				}
			}
		}
		for _, mk := range methodOrder {
			slot := methodsByKey[mk]
			var sn, on []string
			if slot.self != nil {
				sn = slot.self.Names
			}
			if slot.other != nil {
				on = slot.other.Names
			}
			nm := MappedMethod{Names: joinTuple(methodName[mk], sn, on, selfCols, otherCols)}
			if slot.self != nil {
				nm.Desc = MapMethodDesc(slot.self.Desc, selfDescMap)
			} else {
				nm.Desc = MapMethodDesc(slot.other.Desc, otherDescMap)
			}
			if slot.self != nil {
				nm.Comments = append(nm.Comments, slot.self.Comments...)
			}
			if slot.other != nil {
				nm.Comments = append(nm.Comments, slot.other.Comments...)
			}
			nc.Methods = append(nc.Methods, nm)
		}
		classes = append(classes, nc)
	}

	out := &Mappings{Namespaces: outNS, Classes: classes, Meta: GenericMeta{}}
	// Descriptors were normalized to the intermediate namespace; rewrite
	// them into the first namespace of the result.
	if interOut != 0 {
		descMap := out.classNameMap(interOut, 0)
		for ci := range out.Classes {
			c := &out.Classes[ci]
			for fi := range c.Fields {
				if c.Fields[fi].Desc != "" {
					c.Fields[fi].Desc = MapType(c.Fields[fi].Desc, descMap)
				}
			}
			for mi := range c.Methods {
				c.Methods[mi].Desc = MapMethodDesc(c.Methods[mi].Desc, descMap)
			}
		}
	}
	return out, nil
}

// JoinAll left-folds Join over every non-empty input. An empty input list
// yields EmptyMappings.
func JoinAll(list []*Mappings, intermediate string, requireMatch bool) (*Mappings, error) {
	var acc *Mappings
	for _, m := range list {
		if m.IsEmpty() {
			continue
		}
		if acc == nil {
			acc = m
			continue
		}
		var err error
		if acc, err = acc.Join(m, intermediate, requireMatch); err != nil {
			return nil, err
		}
	}
	if acc == nil {
		return EmptyMappings(), nil
	}
	return acc, nil
}

// column names a namespace together with its index on its source side.
type column struct {
	ns  string
	idx int
}

// pickColumns lists the unique namespaces of ns except the intermediate,
// keeping first occurrences.
func pickColumns(ns []string, intermediate string) []column {
	var out []column
	seen := map[string]struct{}{intermediate: {}}
	for i, n := range ns {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, column{ns: n, idx: i})
	}
	return out
}

func indexClasses(m *Mappings, inter int) map[string]*MappedClass {
	out := make(map[string]*MappedClass, len(m.Classes))
	for ci := range m.Classes {
		c := &m.Classes[ci]
		if _, ok := out[c.Names[inter]]; !ok {
			out[c.Names[inter]] = c
		}
	}
	return out
}

func matchKeys(a, b map[string]*MappedClass) error {
	var missing []string
	for k := range a {
		if _, ok := b[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &Error{Kind: KindInvariantViolation,
			Msg: "classes present on one side only: " + joinNames(missing), Err: ErrJoinMismatch}
	}
	return nil
}

// joinTuple assembles an output names tuple: the self columns, the
// intermediate name, the other columns. A side missing the entity falls
// back to the intermediate name.
func joinTuple(key string, selfNames, otherNames []string, selfCols, otherCols []column) []string {
	out := make([]string, 0, len(selfCols)+1+len(otherCols))
	for _, c := range selfCols {
		if selfNames != nil {
			out = append(out, selfNames[c.idx])
		} else {
			out = append(out, key)
		}
	}
	out = append(out, key)
	for _, c := range otherCols {
		if otherNames != nil {
			out = append(out, otherNames[c.idx])
		} else {
			out = append(out, key)
		}
	}
	return out
}
