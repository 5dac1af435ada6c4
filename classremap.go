// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	"github.com/jvmtools/mappings/classfile"
)

const lambdaMetafactory = "java/lang/invoke/LambdaMetafactory"

// RemapClass parses class bytes, remaps every reference and re-serializes.
func (r *SimpleRemapper) RemapClass(data []byte) ([]byte, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "parsing class for remapping")
	}
	if err := r.RemapClassNode(cf); err != nil {
		return nil, err
	}
	return cf.Bytes()
}

// attrCtx carries the original symbol snapshot attribute rewriting needs
// after the pool has been mutated.
type attrCtx struct {
	thisName  string
	classOrig map[uint16]string
}

// RemapClassNode rewrites a parsed class in place: constant pool entries,
// member tables, attribute internals, invoke-dynamic names (lambda aware)
// and the class's own name. Original symbol text is snapshotted up front,
// so the original owner stays visible while member references transform.
func (r *SimpleRemapper) RemapClassNode(cf *classfile.ClassFile) error {
	pool := cf.Pool
	thisName := cf.Name()

	// Snapshot every symbol the rewrite depends on before touching the
	// pool. Utf8 entries are never mutated in place, but Class and ref
	// entries are repointed.
	type refSnap struct {
		idx               uint16
		tag               byte
		owner, name, desc string
	}
	type dynSnap struct {
		idx        uint16
		tag        byte
		bsm        uint16
		name, desc string
	}
	type handleSnap struct {
		kind        uint16
		owner, name string
	}
	classOrig := map[uint16]string{}
	methodTypeOrig := map[uint16]string{}
	handles := map[uint16]handleSnap{}
	var refs []refSnap
	var dyns []dynSnap
	for i := 1; i < pool.Count(); i++ {
		e := pool.Entries[i]
		idx := uint16(i)
		switch e.Tag {
		case classfile.TagClass:
			classOrig[idx] = pool.Utf8(e.Ref1)
		case classfile.TagMethodType:
			methodTypeOrig[idx] = pool.Utf8(e.Ref1)
		case classfile.TagFieldref, classfile.TagMethodref, classfile.TagInterfaceMethodref:
			owner, name, desc := pool.RefOwnerNameDesc(idx)
			refs = append(refs, refSnap{idx: idx, tag: e.Tag, owner: owner, name: name, desc: desc})
		case classfile.TagDynamic, classfile.TagInvokeDynamic:
			name, desc := pool.NameAndType(e.Ref2)
			dyns = append(dyns, dynSnap{idx: idx, tag: e.Tag, bsm: e.Ref1, name: name, desc: desc})
		case classfile.TagMethodHandle:
			owner, name, _ := pool.RefOwnerNameDesc(e.Ref2)
			handles[idx] = handleSnap{kind: e.Ref1, owner: owner, name: name}
		}
	}

	// Bootstrap method table, for resolving invoke-dynamic call sites.
	bsms := parseBootstrapMethods(cf)

	type memberSnap struct{ name, desc string }
	fieldSnaps := make([]memberSnap, len(cf.Fields))
	for i := range cf.Fields {
		fieldSnaps[i] = memberSnap{pool.Utf8(cf.Fields[i].NameIndex), pool.Utf8(cf.Fields[i].DescIndex)}
	}
	methodSnaps := make([]memberSnap, len(cf.Methods))
	for i := range cf.Methods {
		methodSnaps[i] = memberSnap{pool.Utf8(cf.Methods[i].NameIndex), pool.Utf8(cf.Methods[i].DescIndex)}
	}

	// Rewrite CONSTANT_Class entries (this covers super, interfaces, nest
	// members, permitted subclasses, catch types and instruction operands
	// in one stroke).
	for idx, orig := range classOrig {
		mapped := r.mapClassConst(orig)
		if mapped == orig {
			continue
		}
		utf, err := pool.AddUtf8(mapped)
		if err != nil {
			return err
		}
		pool.Entries[idx].Ref1 = utf
	}

	for idx, orig := range methodTypeOrig {
		mapped := r.MapMethodDesc(orig)
		if mapped == orig {
			continue
		}
		utf, err := pool.AddUtf8(mapped)
		if err != nil {
			return err
		}
		pool.Entries[idx].Ref1 = utf
	}

	// Member references get fresh NameAndType entries; the originals may
	// be shared between owners that map differently.
	for _, s := range refs {
		var newName, newDesc string
		if s.tag == classfile.TagFieldref {
			newName = r.MapFieldName(s.owner, s.name, s.desc)
			newDesc = r.MapDesc(s.desc)
		} else {
			newName = r.MapMethodName(s.owner, s.name, s.desc)
			newDesc = r.MapMethodDesc(s.desc)
		}
		if newName == s.name && newDesc == s.desc {
			continue
		}
		nat, err := pool.AddNameAndType(newName, newDesc)
		if err != nil {
			return err
		}
		pool.Entries[s.idx].Ref2 = nat
	}

	// Invoke-dynamic: the synthetic name on a LambdaMetafactory call site
	// only exists through the return type of the call-site descriptor and
	// the erased descriptor of the lambda body. Anything else keeps its
	// name and gets a descriptor rewrite only.
	for _, d := range dyns {
		newName := d.name
		var newDesc string
		if d.tag == classfile.TagInvokeDynamic {
			newDesc = r.MapMethodDesc(d.desc)
			if int(d.bsm) < len(bsms) {
				bsm := bsms[d.bsm]
				if h, ok := handles[bsm.ref]; ok && h.owner == lambdaMetafactory &&
					(h.name == "metafactory" || h.name == "altMetafactory") {
					if owner := returnTypeName(d.desc); owner != "" && len(bsm.args) > 0 {
						implDesc := methodTypeOrig[bsm.args[0]]
						newName = r.MapMethodName(owner, d.name, implDesc)
					}
				}
			}
		} else {
			newDesc = r.MapDesc(d.desc)
		}
		if newName == d.name && newDesc == d.desc {
			continue
		}
		nat, err := pool.AddNameAndType(newName, newDesc)
		if err != nil {
			return err
		}
		pool.Entries[d.idx].Ref2 = nat
	}

	ctx := attrCtx{thisName: thisName, classOrig: classOrig}

	// Own members.
	for i := range cf.Fields {
		snap := fieldSnaps[i]
		if err := r.repointMember(pool, &cf.Fields[i],
			r.MapFieldName(thisName, snap.name, snap.desc), r.MapDesc(snap.desc), snap); err != nil {
			return err
		}
		if err := r.remapAttrList(cf, cf.Fields[i].Attrs, ctx); err != nil {
			return err
		}
	}
	for i := range cf.Methods {
		snap := methodSnaps[i]
		if err := r.repointMember(pool, &cf.Methods[i],
			r.MapMethodName(thisName, snap.name, snap.desc), r.MapMethodDesc(snap.desc), snap); err != nil {
			return err
		}
		if err := r.remapAttrList(cf, cf.Methods[i].Attrs, ctx); err != nil {
			return err
		}
	}

	return r.remapAttrList(cf, cf.Attrs, ctx)
}

func (r *SimpleRemapper) repointMember(pool *classfile.ConstPool, m *classfile.Member, newName, newDesc string, snap struct{ name, desc string }) error {
	if newName != snap.name {
		idx, err := pool.AddUtf8(newName)
		if err != nil {
			return err
		}
		m.NameIndex = idx
	}
	if newDesc != snap.desc {
		idx, err := pool.AddUtf8(newDesc)
		if err != nil {
			return err
		}
		m.DescIndex = idx
	}
	return nil
}

type bootstrapMethod struct {
	ref  uint16
	args []uint16
}

func parseBootstrapMethods(cf *classfile.ClassFile) []bootstrapMethod {
	for ai := range cf.Attrs {
		a := &cf.Attrs[ai]
		if cf.AttrName(a) != classfile.AttrBootstrapMethods || len(a.Data) < 2 {
			continue
		}
		br := binReader{data: a.Data}
		count := int(br.u2())
		out := make([]bootstrapMethod, 0, count)
		for i := 0; i < count && !br.bad; i++ {
			var b bootstrapMethod
			b.ref = br.u2()
			argc := int(br.u2())
			for j := 0; j < argc && !br.bad; j++ {
				b.args = append(b.args, br.u2())
			}
			out = append(out, b)
		}
		if br.bad {
			return nil
		}
		return out
	}
	return nil
}

// remapAttrList rewrites the attribute payloads the remapper understands,
// leaving everything else byte-identical.
func (r *SimpleRemapper) remapAttrList(cf *classfile.ClassFile, attrs []classfile.Attribute, ctx attrCtx) error {
	for ai := range attrs {
		a := &attrs[ai]
		if a.Code != nil {
			if err := r.remapAttrList(cf, a.Code.Attrs, ctx); err != nil {
				return err
			}
			continue
		}
		name := cf.AttrName(a)
		newData, err := r.remapAttrData(cf, name, a.Data, ctx)
		if err != nil {
			return err
		}
		a.Data = newData
	}
	return nil
}

func (r *SimpleRemapper) remapAttrData(cf *classfile.ClassFile, name string, data []byte, ctx attrCtx) ([]byte, error) {
	pool := cf.Pool
	switch name {
	case classfile.AttrSignature:
		if len(data) != 2 {
			return data, nil
		}
		sig := pool.Utf8(binary.BigEndian.Uint16(data))
		mapped := r.MapSignature(sig)
		if mapped == sig {
			return data, nil
		}
		idx, err := pool.AddUtf8(mapped)
		if err != nil {
			return nil, err
		}
		return u2bytes(idx), nil

	case classfile.AttrLocalVariableTable, classfile.AttrLocalVariableTypeTable:
		out := append([]byte(nil), data...)
		br := binReader{data: data}
		count := int(br.u2())
		for i := 0; i < count && !br.bad; i++ {
			br.skip(4) // start_pc, length
			br.skip(2) // name
			descOff := br.pos
			descIdx := br.u2()
			br.skip(2) // slot index
			orig := pool.Utf8(descIdx)
			var mapped string
			if name == classfile.AttrLocalVariableTable {
				mapped = r.MapDesc(orig)
			} else {
				mapped = r.MapSignature(orig)
			}
			if mapped == orig {
				continue
			}
			idx, err := pool.AddUtf8(mapped)
			if err != nil {
				return nil, err
			}
			binary.BigEndian.PutUint16(out[descOff:], idx)
		}
		return out, nil

	case classfile.AttrInnerClasses:
		out := append([]byte(nil), data...)
		br := binReader{data: data}
		count := int(br.u2())
		for i := 0; i < count && !br.bad; i++ {
			innerIdx := br.u2()
			br.skip(2) // outer class
			nameOff := br.pos
			innerNameIdx := br.u2()
			br.skip(2) // access
			if innerNameIdx == 0 {
				continue // anonymous
			}
			origFull, ok := ctx.classOrig[innerIdx]
			if !ok {
				continue
			}
			mappedFull := r.mapClassConst(origFull)
			simple := mappedFull
			if cut := strings.LastIndexByte(mappedFull, '$'); cut >= 0 {
				simple = mappedFull[cut+1:]
			}
			if simple == pool.Utf8(innerNameIdx) {
				continue
			}
			idx, err := pool.AddUtf8(simple)
			if err != nil {
				return nil, err
			}
			binary.BigEndian.PutUint16(out[nameOff:], idx)
		}
		return out, nil

	case classfile.AttrEnclosingMethod:
		if len(data) != 4 {
			return data, nil
		}
		classIdx := binary.BigEndian.Uint16(data)
		natIdx := binary.BigEndian.Uint16(data[2:])
		if natIdx == 0 {
			return data, nil
		}
		owner := ctx.classOrig[classIdx]
		mName, mDesc := pool.NameAndType(natIdx)
		newName := r.MapMethodName(owner, mName, mDesc)
		newDesc := r.MapMethodDesc(mDesc)
		if newName == mName && newDesc == mDesc {
			return data, nil
		}
		nat, err := pool.AddNameAndType(newName, newDesc)
		if err != nil {
			return nil, err
		}
		out := append([]byte(nil), data...)
		binary.BigEndian.PutUint16(out[2:], nat)
		return out, nil

	case classfile.AttrRecord:
		return r.remapRecord(cf, data, ctx)

	case classfile.AttrVisibleAnnotations, classfile.AttrInvisibleAnnotations:
		br := binReader{data: data}
		bw := &binWriter{}
		count := int(br.u2())
		bw.u2(uint16(count))
		for i := 0; i < count; i++ {
			if err := r.remapAnnotation(pool, &br, bw); err != nil {
				return nil, err
			}
		}
		if br.bad {
			return data, nil
		}
		return bw.buf, nil

	case classfile.AttrVisibleParamAnnotations, classfile.AttrInvisibleParamAnnotations:
		br := binReader{data: data}
		bw := &binWriter{}
		params := int(br.u1())
		bw.u1(byte(params))
		for p := 0; p < params; p++ {
			count := int(br.u2())
			bw.u2(uint16(count))
			for i := 0; i < count; i++ {
				if err := r.remapAnnotation(pool, &br, bw); err != nil {
					return nil, err
				}
			}
		}
		if br.bad {
			return data, nil
		}
		return bw.buf, nil

	case classfile.AttrAnnotationDefault:
		br := binReader{data: data}
		bw := &binWriter{}
		if err := r.remapElementValue(pool, &br, bw); err != nil {
			return nil, err
		}
		if br.bad {
			return data, nil
		}
		return bw.buf, nil
	}
	return data, nil
}

func (r *SimpleRemapper) remapRecord(cf *classfile.ClassFile, data []byte, ctx attrCtx) ([]byte, error) {
	pool := cf.Pool
	br := binReader{data: data}
	bw := &binWriter{}
	count := int(br.u2())
	bw.u2(uint16(count))
	for i := 0; i < count && !br.bad; i++ {
		nameIdx := br.u2()
		descIdx := br.u2()
		name := pool.Utf8(nameIdx)
		desc := pool.Utf8(descIdx)
		newName := r.MapRecordComponentName(ctx.thisName, name, desc)
		newDesc := r.MapDesc(desc)
		if newName != name {
			idx, err := pool.AddUtf8(newName)
			if err != nil {
				return nil, err
			}
			nameIdx = idx
		}
		if newDesc != desc {
			idx, err := pool.AddUtf8(newDesc)
			if err != nil {
				return nil, err
			}
			descIdx = idx
		}
		bw.u2(nameIdx)
		bw.u2(descIdx)
		attrCount := int(br.u2())
		bw.u2(uint16(attrCount))
		for a := 0; a < attrCount && !br.bad; a++ {
			attrNameIdx := br.u2()
			length := int(br.u4())
			payload := br.bytes(length)
			if br.bad {
				break
			}
			newPayload, err := r.remapAttrData(cf, pool.Utf8(attrNameIdx), payload, ctx)
			if err != nil {
				return nil, err
			}
			bw.u2(attrNameIdx)
			bw.u4(uint32(len(newPayload)))
			bw.raw(newPayload)
		}
	}
	if br.bad {
		return data, nil
	}
	return bw.buf, nil
}

func (r *SimpleRemapper) remapAnnotation(pool *classfile.ConstPool, br *binReader, bw *binWriter) error {
	typeIdx := br.u2()
	orig := pool.Utf8(typeIdx)
	mapped := r.MapDesc(orig)
	if mapped != orig {
		idx, err := pool.AddUtf8(mapped)
		if err != nil {
			return err
		}
		typeIdx = idx
	}
	bw.u2(typeIdx)
	pairs := int(br.u2())
	bw.u2(uint16(pairs))
	for i := 0; i < pairs && !br.bad; i++ {
		bw.u2(br.u2()) // element name
		if err := r.remapElementValue(pool, br, bw); err != nil {
			return err
		}
	}
	return nil
}

func (r *SimpleRemapper) remapElementValue(pool *classfile.ConstPool, br *binReader, bw *binWriter) error {
	tag := br.u1()
	bw.u1(tag)
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		bw.u2(br.u2())
	case 'e':
		// Enum constants behave like a field reference on the enum type.
		typeIdx := br.u2()
		constIdx := br.u2()
		typeDesc := pool.Utf8(typeIdx)
		constName := pool.Utf8(constIdx)
		mappedDesc := r.MapDesc(typeDesc)
		if mappedDesc != typeDesc {
			idx, err := pool.AddUtf8(mappedDesc)
			if err != nil {
				return err
			}
			typeIdx = idx
		}
		if strings.HasPrefix(typeDesc, "L") && strings.HasSuffix(typeDesc, ";") {
			owner := typeDesc[1 : len(typeDesc)-1]
			mappedName := r.MapFieldName(owner, constName, typeDesc)
			if mappedName != constName {
				idx, err := pool.AddUtf8(mappedName)
				if err != nil {
					return err
				}
				constIdx = idx
			}
		}
		bw.u2(typeIdx)
		bw.u2(constIdx)
	case 'c':
		classIdx := br.u2()
		orig := pool.Utf8(classIdx)
		mapped := r.MapDesc(orig)
		if mapped != orig {
			idx, err := pool.AddUtf8(mapped)
			if err != nil {
				return err
			}
			classIdx = idx
		}
		bw.u2(classIdx)
	case '@':
		return r.remapAnnotation(pool, br, bw)
	case '[':
		count := int(br.u2())
		bw.u2(uint16(count))
		for i := 0; i < count && !br.bad; i++ {
			if err := r.remapElementValue(pool, br, bw); err != nil {
				return err
			}
		}
	default:
		return invariantErrorf("unknown annotation element tag %q", tag)
	}
	return nil
}

func u2bytes(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

// binReader and binWriter are small big-endian cursors over attribute
// payloads.
type binReader struct {
	data []byte
	pos  int
	bad  bool
}

func (r *binReader) skip(n int) { r.bytes(n) }

func (r *binReader) bytes(n int) []byte {
	if r.bad || n < 0 || r.pos+n > len(r.data) {
		r.bad = true
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *binReader) u1() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binReader) u2() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *binReader) u4() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

type binWriter struct {
	buf []byte
}

func (w *binWriter) u1(v byte) { w.buf = append(w.buf, v) }

func (w *binWriter) u2(v uint16) { w.buf = append(w.buf, byte(v>>8), byte(v)) }

func (w *binWriter) u4(v uint32) {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (w *binWriter) raw(b []byte) { w.buf = append(w.buf, b...) }
