// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"github.com/jvmtools/mappings/classfile"
)

// FieldDescSource resolves the descriptor a class declares for a field,
// both identified by first-namespace names.
type FieldDescSource func(owner, field string) (string, bool)

// FieldDescsFromLoader derives a FieldDescSource from class bytes.
func FieldDescsFromLoader(loader ClasspathLoader) FieldDescSource {
	headers := map[string]*classfile.Header{}
	return func(owner, field string) (string, bool) {
		h, cached := headers[owner]
		if !cached {
			if data := loader.LoadClass(owner); data != nil {
				h, _ = classfile.ParseHeader(data)
			}
			headers[owner] = h
		}
		if h == nil {
			return "", false
		}
		for _, f := range h.Fields {
			if f.Name == field {
				return f.Desc, true
			}
		}
		return "", false
	}
}

// RecoverFieldDescriptors fills in missing field descriptors from the given
// source. Fields whose descriptor cannot be recovered are dropped.
func (m *Mappings) RecoverFieldDescriptors(source FieldDescSource) *Mappings {
	return m.MapClasses(func(c MappedClass) MappedClass {
		out := c
		out.Fields = nil
		for _, f := range c.Fields {
			if f.Desc == "" {
				desc, ok := source(c.Names[0], f.Names[0])
				if !ok {
					continue
				}
				f.Desc = desc
			}
			out.Fields = append(out.Fields, f)
		}
		return out
	})
}

// dataMethods holds the canonical Object triplet. Together with constructors
// and class initializers (see isDataMethod) these are the data methods that
// RemoveRedundancy always drops.
var dataMethods = map[string]struct{}{
	"equals(Ljava/lang/Object;)Z":  {},
	"hashCode()I":                  {},
	"toString()Ljava/lang/String;": {},
}

func isDataMethod(name, desc string) bool {
	if name == "<init>" || name == "<clinit>" {
		return true
	}
	_, ok := dataMethods[name+desc]
	return ok
}

// RemoveRedundancy keeps only the method mappings that matter for their
// declaring class: methods locally declared, not inherited from any super
// type, and not data methods. Classes are identified by first-namespace
// names on the provider.
func (m *Mappings) RemoveRedundancy(inh InheritanceProvider) *Mappings {
	return m.MapClasses(func(c MappedClass) MappedClass {
		owner := c.Names[0]
		declared := map[string]struct{}{}
		for _, sig := range inh.DeclaredMethods(owner, false) {
			declared[sig] = struct{}{}
		}
		inherited := map[string]struct{}{}
		for _, parent := range Parents(inh, owner) {
			for _, sig := range inh.DeclaredMethods(parent, true) {
				inherited[sig] = struct{}{}
			}
		}
		out := c
		out.Methods = nil
		for _, md := range c.Methods {
			sig := md.Names[0] + md.Desc
			if isDataMethod(md.Names[0], md.Desc) {
				continue
			}
			if _, ok := declared[sig]; !ok {
				continue
			}
			if _, ok := inherited[sig]; ok {
				continue
			}
			out.Methods = append(out.Methods, md)
		}
		return out
	})
}
