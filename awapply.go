// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jvmtools/mappings/classfile"
)

// ApplyBytes applies the tree to raw class bytes and returns the rewritten
// class. It is the streaming-shaped surface over ApplyNode; both produce
// identical output.
func (t *AccessWidenerTree) ApplyBytes(data []byte) ([]byte, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing class for access widening")
	}
	if err := t.ApplyNode(cf); err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// ApplyNode mutates the access flags of a parsed class according to the
// tree, promotes invokespecial call sites whose targets were widened on
// this class, and drops the sealed-class list when the class itself became
// extendable.
func (t *AccessWidenerTree) ApplyNode(cf *classfile.ClassFile) error {
	thisName := cf.Name()
	class := t.Classes[thisName]
	isInterface := cf.Access&classfile.AccInterface != 0

	if class != nil {
		cf.Access = widenClassAccess(cf.Access, class.Total())

		for fi := range cf.Fields {
			f := &cf.Fields[fi]
			id := MemberIdentifier{cf.Pool.Utf8(f.NameIndex), cf.Pool.Utf8(f.DescIndex)}
			mask, ok := class.Fields[id]
			if !ok {
				continue
			}
			f.Access = widenFieldAccess(f.Access, mask, isInterface)
		}
		for mi := range cf.Methods {
			m := &cf.Methods[mi]
			id := MemberIdentifier{cf.Pool.Utf8(m.NameIndex), cf.Pool.Utf8(m.DescIndex)}
			mask, ok := class.Methods[id]
			if !ok {
				continue
			}
			m.Access = widenMethodAccess(m.Access, mask, id.Name, isInterface)
		}

		if err := t.promoteCallSites(cf, class, thisName); err != nil {
			return err
		}

		if class.Mask.Has(Extendable) {
			cf.Attrs = dropAttr(cf, cf.Attrs, classfile.AttrPermittedSubclasses)
		}
	}

	// Inner-class table entries mirror the access flags of classes that may
	// have been widened, whether or not this class was.
	for ai := range cf.Attrs {
		a := &cf.Attrs[ai]
		if cf.AttrName(a) != classfile.AttrInnerClasses {
			continue
		}
		data := append([]byte(nil), a.Data...)
		if len(data) < 2 {
			continue
		}
		count := int(binary.BigEndian.Uint16(data))
		for i := 0; i < count; i++ {
			off := 2 + i*8
			if off+8 > len(data) {
				break
			}
			innerIdx := binary.BigEndian.Uint16(data[off:])
			inner := t.Classes[cf.Pool.ClassName(innerIdx)]
			if inner == nil {
				continue
			}
			access := binary.BigEndian.Uint16(data[off+6:])
			binary.BigEndian.PutUint16(data[off+6:], widenClassAccess(access, inner.Total()))
		}
		a.Data = data
	}
	return nil
}

// widenClassAccess applies a class-level mask: Accessible publishes the
// class, Extendable additionally unseals it.
func widenClassAccess(access uint16, mask AccessMask) uint16 {
	if mask.Has(Accessible) {
		access = makePublic(access)
	}
	if mask.Has(Extendable) {
		access = makePublic(access)
		access &^= classfile.AccFinal
	}
	return access
}

func widenFieldAccess(access uint16, mask AccessMask, ownerInterface bool) uint16 {
	if mask.Has(Accessible) {
		access = makePublic(access)
	}
	if mask.Has(Mutable) {
		// A static final interface field is a constant and stays one.
		if !(ownerInterface && access&classfile.AccStatic != 0) {
			access &^= classfile.AccFinal
		}
	}
	return access
}

func widenMethodAccess(access uint16, mask AccessMask, name string, ownerInterface bool) uint16 {
	if mask.Has(Accessible) {
		wasPrivate := access&classfile.AccPrivate != 0
		access = makePublic(access)
		if wasPrivate && name != "<init>" && !ownerInterface && access&classfile.AccStatic == 0 {
			// A private instance method could not be overridden; keep it
			// that way once it turns public.
			access |= classfile.AccFinal
		}
	}
	if mask.Has(Extendable) {
		if access&classfile.AccPublic == 0 {
			access &^= classfile.AccPrivate
			access |= classfile.AccProtected
		}
		access &^= classfile.AccFinal
	}
	return access
}

func makePublic(access uint16) uint16 {
	access &^= classfile.AccPrivate | classfile.AccProtected
	return access | classfile.AccPublic
}

// promoteCallSites turns invokespecial instructions and H_INVOKESPECIAL
// bootstrap arguments into their virtual forms when they target a method
// widened on this very class. The compiler picked the special form because
// the target was private; once it is not, virtual dispatch must return.
func (t *AccessWidenerTree) promoteCallSites(cf *classfile.ClassFile, class *AccessedClass, thisName string) error {
	widened := func(refIdx uint16) bool {
		owner, name, desc := cf.Pool.RefOwnerNameDesc(refIdx)
		if owner != thisName || name == "<init>" {
			return false
		}
		_, ok := class.Methods[MemberIdentifier{name, desc}]
		return ok
	}

	for mi := range cf.Methods {
		for ai := range cf.Methods[mi].Attrs {
			code := cf.Methods[mi].Attrs[ai].Code
			if code == nil {
				continue
			}
			err := classfile.WalkInstructions(code.Bytecode, func(offset int, opcode byte) {
				if opcode != classfile.OpInvokeSpecial || offset+2 >= len(code.Bytecode) {
					return
				}
				refIdx := binary.BigEndian.Uint16(code.Bytecode[offset+1:])
				if widened(refIdx) {
					code.Bytecode[offset] = classfile.OpInvokeVirtual
				}
			})
			if err != nil {
				return errors.Wrap(err, "scanning bytecode for call-site promotion")
			}
		}
	}

	for _, bsm := range parseBootstrapMethods(cf) {
		for _, arg := range bsm.args {
			if int(arg) >= cf.Pool.Count() {
				continue
			}
			e := &cf.Pool.Entries[arg]
			if e.Tag != classfile.TagMethodHandle || e.Ref1 != classfile.HInvokeSpecial {
				continue
			}
			if widened(e.Ref2) {
				e.Ref1 = classfile.HInvokeVirtual
			}
		}
	}
	return nil
}

func dropAttr(cf *classfile.ClassFile, attrs []classfile.Attribute, name string) []classfile.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if cf.AttrName(&a) == name {
			continue
		}
		out = append(out, a)
	}
	return out
}
