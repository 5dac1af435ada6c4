// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package classfile

import (
	"errors"
	"fmt"
)

// Constant pool entry tags, JVMS table 4.4-B.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// ErrPoolOverflow is returned when a rewrite would push the constant pool
// past the u16 entry limit.
var ErrPoolOverflow = errors.New("constant pool exceeds 65535 entries")

// Entry is one constant pool slot. Utf8 payloads stay as raw (modified
// UTF-8) bytes inside Str so unusual encodings survive a round trip; numeric
// constants keep their raw big-endian bytes in Raw.
type Entry struct {
	Tag  byte
	Str  string
	Raw  []byte
	Ref1 uint16 // class index, name index, or method-handle kind
	Ref2 uint16 // name-and-type index, descriptor index
}

// ConstPool is an indexable constant pool. Index 0 is unused per the class
// file format; the slot after a long or double entry holds a zero Entry.
type ConstPool struct {
	Entries []Entry
}

// Count returns the constant_pool_count value (number of slots, including
// the unused zero slot).
func (cp *ConstPool) Count() int { return len(cp.Entries) }

func (cp *ConstPool) valid(i uint16) bool {
	return int(i) > 0 && int(i) < len(cp.Entries)
}

// Utf8 resolves a CONSTANT_Utf8 entry, returning "" for anything else.
func (cp *ConstPool) Utf8(i uint16) string {
	if !cp.valid(i) || cp.Entries[i].Tag != TagUtf8 {
		return ""
	}
	return cp.Entries[i].Str
}

// ClassName resolves a CONSTANT_Class entry to its internal name.
func (cp *ConstPool) ClassName(i uint16) string {
	if !cp.valid(i) || cp.Entries[i].Tag != TagClass {
		return ""
	}
	return cp.Utf8(cp.Entries[i].Ref1)
}

// NameAndType resolves a CONSTANT_NameAndType entry.
func (cp *ConstPool) NameAndType(i uint16) (name, desc string) {
	if !cp.valid(i) || cp.Entries[i].Tag != TagNameAndType {
		return "", ""
	}
	return cp.Utf8(cp.Entries[i].Ref1), cp.Utf8(cp.Entries[i].Ref2)
}

// RefOwnerNameDesc resolves a field/method/interface-method reference into
// its owner internal name, member name and descriptor.
func (cp *ConstPool) RefOwnerNameDesc(i uint16) (owner, name, desc string) {
	if !cp.valid(i) {
		return "", "", ""
	}
	e := &cp.Entries[i]
	switch e.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		owner = cp.ClassName(e.Ref1)
		name, desc = cp.NameAndType(e.Ref2)
	}
	return owner, name, desc
}

// AddUtf8 interns s, appending a new entry when absent.
func (cp *ConstPool) AddUtf8(s string) (uint16, error) {
	for i := 1; i < len(cp.Entries); i++ {
		if cp.Entries[i].Tag == TagUtf8 && cp.Entries[i].Str == s {
			return uint16(i), nil
		}
	}
	return cp.append(Entry{Tag: TagUtf8, Str: s})
}

// AddClass interns a CONSTANT_Class for the given internal name.
func (cp *ConstPool) AddClass(name string) (uint16, error) {
	for i := 1; i < len(cp.Entries); i++ {
		if cp.Entries[i].Tag == TagClass && cp.Utf8(cp.Entries[i].Ref1) == name {
			return uint16(i), nil
		}
	}
	utf, err := cp.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	return cp.append(Entry{Tag: TagClass, Ref1: utf})
}

// AddNameAndType interns a CONSTANT_NameAndType pair.
func (cp *ConstPool) AddNameAndType(name, desc string) (uint16, error) {
	nameIdx, err := cp.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	descIdx, err := cp.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	for i := 1; i < len(cp.Entries); i++ {
		e := &cp.Entries[i]
		if e.Tag == TagNameAndType && e.Ref1 == nameIdx && e.Ref2 == descIdx {
			return uint16(i), nil
		}
	}
	return cp.append(Entry{Tag: TagNameAndType, Ref1: nameIdx, Ref2: descIdx})
}

func (cp *ConstPool) append(e Entry) (uint16, error) {
	if len(cp.Entries) >= 0xFFFF {
		return 0, ErrPoolOverflow
	}
	cp.Entries = append(cp.Entries, e)
	return uint16(len(cp.Entries) - 1), nil
}

func parsePool(r *reader) (*ConstPool, error) {
	count := int(r.u2())
	if r.failed() {
		return nil, r.error()
	}
	if count < 1 {
		return nil, fmt.Errorf("malformed constant pool count %d", count)
	}
	cp := &ConstPool{Entries: make([]Entry, 1, count)}
	for len(cp.Entries) < count {
		tag := r.u1()
		var e Entry
		e.Tag = tag
		switch tag {
		case TagUtf8:
			n := int(r.u2())
			e.Str = string(r.bytes(n))
		case TagInteger, TagFloat:
			e.Raw = append([]byte(nil), r.bytes(4)...)
		case TagLong, TagDouble:
			e.Raw = append([]byte(nil), r.bytes(8)...)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			e.Ref1 = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
			TagDynamic, TagInvokeDynamic:
			e.Ref1 = r.u2()
			e.Ref2 = r.u2()
		case TagMethodHandle:
			e.Ref1 = uint16(r.u1())
			e.Ref2 = r.u2()
		default:
			return nil, fmt.Errorf("unknown constant pool tag %d at entry %d", tag, len(cp.Entries))
		}
		if r.failed() {
			return nil, r.error()
		}
		cp.Entries = append(cp.Entries, e)
		if tag == TagLong || tag == TagDouble {
			// Longs and doubles burn a second slot.
			cp.Entries = append(cp.Entries, Entry{})
		}
	}
	return cp, nil
}

func (cp *ConstPool) write(w *writer) error {
	if len(cp.Entries) > 0xFFFF {
		return ErrPoolOverflow
	}
	w.u2(uint16(len(cp.Entries)))
	for i := 1; i < len(cp.Entries); i++ {
		e := &cp.Entries[i]
		if e.Tag == 0 {
			// Second slot of a long or double.
			continue
		}
		w.u1(e.Tag)
		switch e.Tag {
		case TagUtf8:
			w.u2(uint16(len(e.Str)))
			w.raw([]byte(e.Str))
		case TagInteger, TagFloat, TagLong, TagDouble:
			w.raw(e.Raw)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(e.Ref1)
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
			TagDynamic, TagInvokeDynamic:
			w.u2(e.Ref1)
			w.u2(e.Ref2)
		case TagMethodHandle:
			w.u1(byte(e.Ref1))
			w.u2(e.Ref2)
		default:
			return fmt.Errorf("unknown constant pool tag %d at entry %d", e.Tag, i)
		}
	}
	return nil
}
