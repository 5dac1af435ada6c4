// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package classfile reads and writes JVM class files at the structural
// level: constant pool, member tables, attributes, and just enough of the
// Code attribute to reach its nested attributes and instructions. It is the
// class-file collaborator the remapper and access-widener application are
// built on.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// Access flags, JVMS table 4.1-B and friends.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccStrict       = 0x0800
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
	AccModule       = 0x8000
)

// Method handle reference kinds, JVMS table 5.4.3.5-A.
const (
	HGetField         = 1
	HGetStatic        = 2
	HPutField         = 3
	HPutStatic        = 4
	HInvokeVirtual    = 5
	HInvokeStatic     = 6
	HInvokeSpecial    = 7
	HNewInvokeSpecial = 8
	HInvokeInterface  = 9
)

// Opcodes the toolkit inspects or rewrites.
const (
	OpInvokeVirtual   = 0xB6
	OpInvokeSpecial   = 0xB7
	OpInvokeStatic    = 0xB8
	OpInvokeInterface = 0xB9
	OpInvokeDynamic   = 0xBA
	OpWide            = 0xC4
	OpTableSwitch     = 0xAA
	OpLookupSwitch    = 0xAB
)

// Attribute names the rewriters understand.
const (
	AttrCode                      = "Code"
	AttrSignature                 = "Signature"
	AttrExceptions                = "Exceptions"
	AttrInnerClasses              = "InnerClasses"
	AttrEnclosingMethod           = "EnclosingMethod"
	AttrNestHost                  = "NestHost"
	AttrNestMembers               = "NestMembers"
	AttrPermittedSubclasses       = "PermittedSubclasses"
	AttrRecord                    = "Record"
	AttrBootstrapMethods          = "BootstrapMethods"
	AttrLocalVariableTable        = "LocalVariableTable"
	AttrLocalVariableTypeTable    = "LocalVariableTypeTable"
	AttrVisibleAnnotations        = "RuntimeVisibleAnnotations"
	AttrInvisibleAnnotations      = "RuntimeInvisibleAnnotations"
	AttrVisibleParamAnnotations   = "RuntimeVisibleParameterAnnotations"
	AttrInvisibleParamAnnotations = "RuntimeInvisibleParameterAnnotations"
	AttrAnnotationDefault         = "AnnotationDefault"
)

// Attribute is a named attribute. Code attributes are parsed structurally
// and carried in Code with Data nil; everything else stays opaque in Data.
type Attribute struct {
	NameIndex uint16
	Data      []byte
	Code      *Code
}

// Code is the parsed payload of a Code attribute.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte
	Exceptions []ExceptionHandler
	Attrs      []Attribute
}

// ExceptionHandler is one entry of a Code exception table.
type ExceptionHandler struct {
	StartPC, EndPC, HandlerPC, CatchType uint16
}

// Member is a field or method declaration.
type Member struct {
	Access    uint16
	NameIndex uint16
	DescIndex uint16
	Attrs     []Attribute
}

// ClassFile is an in-memory class file.
type ClassFile struct {
	Minor      uint16
	Major      uint16
	Pool       *ConstPool
	Access     uint16
	ThisClass  uint16
	SuperClass uint16
	Interfaces []uint16
	Fields     []Member
	Methods    []Member
	Attrs      []Attribute
}

// Name returns the internal name of the class.
func (cf *ClassFile) Name() string {
	return cf.Pool.ClassName(cf.ThisClass)
}

// SuperName returns the internal name of the super class, or "".
func (cf *ClassFile) SuperName() string {
	if cf.SuperClass == 0 {
		return ""
	}
	return cf.Pool.ClassName(cf.SuperClass)
}

// AttrName resolves an attribute's name through the pool.
func (cf *ClassFile) AttrName(a *Attribute) string {
	return cf.Pool.Utf8(a.NameIndex)
}

// Parse reads a complete class file.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{data: data}
	if r.u4() != Magic {
		return nil, errors.New("not a class file: bad magic")
	}
	cf := &ClassFile{}
	cf.Minor = r.u2()
	cf.Major = r.u2()
	pool, err := parsePool(r)
	if err != nil {
		return nil, err
	}
	cf.Pool = pool
	cf.Access = r.u2()
	cf.ThisClass = r.u2()
	cf.SuperClass = r.u2()
	ifaceCount := int(r.u2())
	cf.Interfaces = make([]uint16, ifaceCount)
	for i := range cf.Interfaces {
		cf.Interfaces[i] = r.u2()
	}
	if cf.Fields, err = parseMembers(r, pool); err != nil {
		return nil, err
	}
	if cf.Methods, err = parseMembers(r, pool); err != nil {
		return nil, err
	}
	if cf.Attrs, err = parseAttrs(r, pool); err != nil {
		return nil, err
	}
	if r.failed() {
		return nil, r.error()
	}
	return cf, nil
}

func parseMembers(r *reader, cp *ConstPool) ([]Member, error) {
	count := int(r.u2())
	members := make([]Member, 0, count)
	for i := 0; i < count; i++ {
		var m Member
		m.Access = r.u2()
		m.NameIndex = r.u2()
		m.DescIndex = r.u2()
		attrs, err := parseAttrs(r, cp)
		if err != nil {
			return nil, err
		}
		m.Attrs = attrs
		if r.failed() {
			return nil, r.error()
		}
		members = append(members, m)
	}
	return members, nil
}

func parseAttrs(r *reader, cp *ConstPool) ([]Attribute, error) {
	count := int(r.u2())
	attrs := make([]Attribute, 0, count)
	for i := 0; i < count; i++ {
		nameIdx := r.u2()
		length := int(r.u4())
		payload := r.bytes(length)
		if r.failed() {
			return nil, r.error()
		}
		a := Attribute{NameIndex: nameIdx}
		if cp.Utf8(nameIdx) == AttrCode {
			code, err := parseCode(payload, cp)
			if err != nil {
				return nil, err
			}
			a.Code = code
		} else {
			a.Data = append([]byte(nil), payload...)
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func parseCode(payload []byte, cp *ConstPool) (*Code, error) {
	r := &reader{data: payload}
	c := &Code{}
	c.MaxStack = r.u2()
	c.MaxLocals = r.u2()
	codeLen := int(r.u4())
	c.Bytecode = append([]byte(nil), r.bytes(codeLen)...)
	excCount := int(r.u2())
	c.Exceptions = make([]ExceptionHandler, excCount)
	for i := range c.Exceptions {
		c.Exceptions[i] = ExceptionHandler{
			StartPC: r.u2(), EndPC: r.u2(), HandlerPC: r.u2(), CatchType: r.u2(),
		}
	}
	attrs, err := parseAttrs(r, cp)
	if err != nil {
		return nil, err
	}
	c.Attrs = attrs
	if r.failed() {
		return nil, r.error()
	}
	return c, nil
}

// Bytes serializes the class file.
func (cf *ClassFile) Bytes() ([]byte, error) {
	w := &writer{}
	w.u4(Magic)
	w.u2(cf.Minor)
	w.u2(cf.Major)
	if err := cf.Pool.write(w); err != nil {
		return nil, err
	}
	w.u2(cf.Access)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	w.u2(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		w.u2(i)
	}
	for _, members := range [][]Member{cf.Fields, cf.Methods} {
		w.u2(uint16(len(members)))
		for mi := range members {
			m := &members[mi]
			w.u2(m.Access)
			w.u2(m.NameIndex)
			w.u2(m.DescIndex)
			if err := writeAttrs(w, m.Attrs); err != nil {
				return nil, err
			}
		}
	}
	if err := writeAttrs(w, cf.Attrs); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func writeAttrs(w *writer, attrs []Attribute) error {
	w.u2(uint16(len(attrs)))
	for ai := range attrs {
		a := &attrs[ai]
		w.u2(a.NameIndex)
		payload := a.Data
		if a.Code != nil {
			payload = a.Code.bytes()
		}
		w.u4(uint32(len(payload)))
		w.raw(payload)
	}
	return nil
}

func (c *Code) bytes() []byte {
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Bytecode)))
	w.raw(c.Bytecode)
	w.u2(uint16(len(c.Exceptions)))
	for _, e := range c.Exceptions {
		w.u2(e.StartPC)
		w.u2(e.EndPC)
		w.u2(e.HandlerPC)
		w.u2(e.CatchType)
	}
	// Code attribute payloads never nest further Code attributes, so this
	// cannot fail.
	_ = writeAttrs(w, c.Attrs)
	return w.buf
}

type reader struct {
	data []byte
	pos  int
	bad  bool
}

func (r *reader) failed() bool { return r.bad }

func (r *reader) error() error {
	if r.bad {
		return fmt.Errorf("truncated class file at offset %d", r.pos)
	}
	return nil
}

func (r *reader) bytes(n int) []byte {
	if r.bad || n < 0 || r.pos+n > len(r.data) {
		r.bad = true
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *reader) u1() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u2() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u4() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

type writer struct {
	buf []byte
}

func (w *writer) u1(v byte) { w.buf = append(w.buf, v) }

func (w *writer) u2(v uint16) {
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

func (w *writer) u4(v uint32) {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }
