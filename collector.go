// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

// classCollector accumulates classes and members during a flat-format parse.
// Several formats (SRG, CSRG, Recaf, Tiny v1) allow member records before or
// without the class record of their owner; finish synthesizes a class entry
// for every such orphan owner, mapped to itself.
type classCollector struct {
	namespaces int
	order      []string
	seen       map[string]struct{}
	classes    map[string]*MappedClass
	fields     map[string][]MappedField
	methods    map[string][]MappedMethod
}

func newClassCollector(namespaces int) *classCollector {
	return &classCollector{
		namespaces: namespaces,
		seen:       map[string]struct{}{},
		classes:    map[string]*MappedClass{},
		fields:     map[string][]MappedField{},
		methods:    map[string][]MappedMethod{},
	}
}

// addClass records a class by its first-namespace name. A repeated class
// record overwrites the names but keeps collected members.
func (cc *classCollector) addClass(names []string) {
	key := names[0]
	if c, ok := cc.classes[key]; ok {
		c.Names = names
		return
	}
	cc.classes[key] = &MappedClass{Names: names}
	cc.touch(key)
}

func (cc *classCollector) addField(owner string, f MappedField) {
	cc.fields[owner] = append(cc.fields[owner], f)
	cc.touch(owner)
}

func (cc *classCollector) addMethod(owner string, m MappedMethod) {
	cc.methods[owner] = append(cc.methods[owner], m)
	cc.touch(owner)
}

// touch makes sure owner appears in the output order even when only member
// records mention it.
func (cc *classCollector) touch(owner string) {
	if _, ok := cc.seen[owner]; ok {
		return
	}
	cc.seen[owner] = struct{}{}
	cc.order = append(cc.order, owner)
}

// finish materializes the collected classes in first-seen order, running the
// hole fix-up for owners known only through members.
func (cc *classCollector) finish() []MappedClass {
	out := make([]MappedClass, 0, len(cc.order))
	for _, key := range cc.order {
		c, ok := cc.classes[key]
		if !ok {
			names := make([]string, cc.namespaces)
			for i := range names {
				names[i] = key
			}
			c = &MappedClass{Names: names}
		}
		c.Fields = cc.fields[key]
		c.Methods = cc.methods[key]
		out = append(out, *c)
	}
	return out
}
