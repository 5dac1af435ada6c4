// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package classfile

import "errors"

// MemberInfo is the access/name/descriptor triple of a declared member.
type MemberInfo struct {
	Access uint16
	Name   string
	Desc   string
}

// Header is the hierarchy-relevant slice of a class file: super type,
// interfaces and declared members. Attribute payloads are never touched.
type Header struct {
	Access     uint16
	Name       string
	Super      string
	Interfaces []string
	Fields     []MemberInfo
	Methods    []MemberInfo
}

// ParseHeader reads just the class header and member declarations, skipping
// code and debug attributes. It backs inheritance lookups, where full
// parsing would be wasted work.
func ParseHeader(data []byte) (*Header, error) {
	r := &reader{data: data}
	if r.u4() != Magic {
		return nil, errors.New("not a class file: bad magic")
	}
	r.u2() // minor
	r.u2() // major
	cp, err := parsePool(r)
	if err != nil {
		return nil, err
	}
	h := &Header{}
	h.Access = r.u2()
	h.Name = cp.ClassName(r.u2())
	superIdx := r.u2()
	if superIdx != 0 {
		h.Super = cp.ClassName(superIdx)
	}
	ifaceCount := int(r.u2())
	h.Interfaces = make([]string, 0, ifaceCount)
	for i := 0; i < ifaceCount; i++ {
		h.Interfaces = append(h.Interfaces, cp.ClassName(r.u2()))
	}
	for _, members := range []*[]MemberInfo{&h.Fields, &h.Methods} {
		count := int(r.u2())
		*members = make([]MemberInfo, 0, count)
		for i := 0; i < count; i++ {
			var m MemberInfo
			m.Access = r.u2()
			m.Name = cp.Utf8(r.u2())
			m.Desc = cp.Utf8(r.u2())
			if err := skipAttrs(r); err != nil {
				return nil, err
			}
			*members = append(*members, m)
		}
		if r.failed() {
			return nil, r.error()
		}
	}
	return h, nil
}

func skipAttrs(r *reader) error {
	count := int(r.u2())
	for i := 0; i < count; i++ {
		r.u2() // name
		length := int(r.u4())
		r.bytes(length)
		if r.failed() {
			return r.error()
		}
	}
	return nil
}
