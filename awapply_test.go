// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"strings"
	"testing"

	"github.com/jvmtools/mappings/classfile"
)

// buildWidenerTarget builds the class the widener sample talks about:
// private final a, two private final methods, one public final field.
func buildWidenerTarget(t *testing.T) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.New(classfile.AccPrivate|classfile.AccFinal, "a", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cf.AddField(classfile.AccPublic|classfile.AccFinal, "b", "Ld;"); err != nil {
		t.Fatal(err)
	}
	if _, err := cf.AddMethod(classfile.AccPrivate|classfile.AccFinal, "c", "()Le;"); err != nil {
		t.Fatal(err)
	}
	if _, err := cf.AddMethod(classfile.AccPrivate|classfile.AccFinal, "d", "()Le;"); err != nil {
		t.Fatal(err)
	}
	return cf
}

func TestApplyWidener(t *testing.T) {
	tree := parseWidenerSample(t).ToTree()
	cf := buildWidenerTarget(t)
	if err := tree.ApplyNode(cf); err != nil {
		t.Fatalf("applying: %v", err)
	}
	if cf.Access != classfile.AccPublic {
		t.Errorf("class access %#x, want ACC_PUBLIC", cf.Access)
	}
	if got := cf.Methods[0].Access; got != classfile.AccPublic {
		t.Errorf("method c access %#x, want ACC_PUBLIC", got)
	}
	if got := cf.Methods[1].Access; got != classfile.AccProtected {
		t.Errorf("method d access %#x, want ACC_PROTECTED", got)
	}
	if got := cf.Fields[0].Access; got != classfile.AccPublic {
		t.Errorf("field b access %#x, want ACC_PUBLIC", got)
	}
}

// Node application and the bytes surface must agree.
func TestApplyBytesMatchesNode(t *testing.T) {
	tree := parseWidenerSample(t).ToTree()

	node := buildWidenerTarget(t)
	if err := tree.ApplyNode(node); err != nil {
		t.Fatal(err)
	}
	nodeBytes, err := node.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	raw, err := buildWidenerTarget(t).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	streamed, err := tree.ApplyBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(nodeBytes) != string(streamed) {
		t.Error("node and bytes application disagree")
	}
}

// Applying a+b must equal applying a then b.
func TestApplyCombinedEqualsSequential(t *testing.T) {
	a, err := ParseAccessWidener(strings.NewReader(
		"accessWidener\tv2\tofficial\naccessible\tmethod\ta\tc\t()Le;"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseAccessWidener(strings.NewReader(
		"accessWidener\tv2\tofficial\nextendable\tmethod\ta\tc\t()Le;"))
	if err != nil {
		t.Fatal(err)
	}
	combined, err := a.Add(b)
	if err != nil {
		t.Fatal(err)
	}

	one := buildWidenerTarget(t)
	if err := combined.ToTree().ApplyNode(one); err != nil {
		t.Fatal(err)
	}

	two := buildWidenerTarget(t)
	if err := a.ToTree().ApplyNode(two); err != nil {
		t.Fatal(err)
	}
	if err := b.ToTree().ApplyNode(two); err != nil {
		t.Fatal(err)
	}
	if one.Methods[0].Access != two.Methods[0].Access {
		t.Errorf("combined %#x vs sequential %#x", one.Methods[0].Access, two.Methods[0].Access)
	}
	if one.Access != two.Access {
		t.Errorf("class flags differ: %#x vs %#x", one.Access, two.Access)
	}
}

func TestApplyWidenerInterfaceConstant(t *testing.T) {
	cf, err := classfile.New(classfile.AccInterface|classfile.AccAbstract, "iface", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cf.AddField(classfile.AccPublic|classfile.AccStatic|classfile.AccFinal, "CONST", "I"); err != nil {
		t.Fatal(err)
	}
	aw := NewAccessWidener(2, "official")
	aw.Fields[AccessedMember{Owner: "iface", Name: "CONST", Desc: "I"}] = Mutable
	if err := aw.ToTree().ApplyNode(cf); err != nil {
		t.Fatal(err)
	}
	if cf.Fields[0].Access&classfile.AccFinal == 0 {
		t.Error("interface constant lost its final flag")
	}
}

func TestApplyWidenerStaticMethod(t *testing.T) {
	cf, err := classfile.New(classfile.AccPublic, "a", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cf.AddMethod(classfile.AccPrivate|classfile.AccStatic, "util", "()V"); err != nil {
		t.Fatal(err)
	}
	aw := NewAccessWidener(2, "official")
	aw.Methods[AccessedMember{Owner: "a", Name: "util", Desc: "()V"}] = Accessible
	if err := aw.ToTree().ApplyNode(cf); err != nil {
		t.Fatal(err)
	}
	got := cf.Methods[0].Access
	if got != classfile.AccPublic|classfile.AccStatic {
		t.Errorf("static method access %#x, want public static without final", got)
	}
}

// A widened private method called through invokespecial must be promoted
// to invokevirtual, both in bytecode and in method-handle bootstrap
// arguments.
func TestCallSitePromotion(t *testing.T) {
	cf, err := classfile.New(classfile.AccPublic, "a", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	pool := cf.Pool
	ownerIdx, err := pool.AddClass("a")
	if err != nil {
		t.Fatal(err)
	}
	nat, err := pool.AddNameAndType("c", "()Le;")
	if err != nil {
		t.Fatal(err)
	}
	pool.Entries = append(pool.Entries, classfile.Entry{
		Tag: classfile.TagMethodref, Ref1: ownerIdx, Ref2: nat,
	})
	targetRef := uint16(len(pool.Entries) - 1)

	initNat, err := pool.AddNameAndType("<init>", "()V")
	if err != nil {
		t.Fatal(err)
	}
	pool.Entries = append(pool.Entries, classfile.Entry{
		Tag: classfile.TagMethodref, Ref1: ownerIdx, Ref2: initNat,
	})
	initRef := uint16(len(pool.Entries) - 1)

	if _, err := cf.AddMethod(classfile.AccPrivate, "c", "()Le;"); err != nil {
		t.Fatal(err)
	}
	caller, err := cf.AddMethod(classfile.AccPublic, "call", "()V")
	if err != nil {
		t.Fatal(err)
	}
	codeName, err := pool.AddUtf8(classfile.AttrCode)
	if err != nil {
		t.Fatal(err)
	}
	bytecode := []byte{
		0x2A, // aload_0
		classfile.OpInvokeSpecial, byte(targetRef >> 8), byte(targetRef),
		0x2A, // aload_0
		classfile.OpInvokeSpecial, byte(initRef >> 8), byte(initRef),
		0xB1, // return
	}
	caller.Attrs = append(caller.Attrs, classfile.Attribute{
		NameIndex: codeName,
		Code: &classfile.Code{
			MaxStack:  1,
			MaxLocals: 1,
			Bytecode:  bytecode,
		},
	})

	// A bootstrap argument handle pointing at the same target.
	pool.Entries = append(pool.Entries, classfile.Entry{
		Tag: classfile.TagMethodHandle, Ref1: classfile.HInvokeSpecial, Ref2: targetRef,
	})
	handleIdx := uint16(len(pool.Entries) - 1)
	bsmName, err := pool.AddUtf8(classfile.AttrBootstrapMethods)
	if err != nil {
		t.Fatal(err)
	}
	cf.Attrs = append(cf.Attrs, classfile.Attribute{
		NameIndex: bsmName,
		Data: []byte{
			0x00, 0x01,
			byte(handleIdx >> 8), byte(handleIdx),
			0x00, 0x01,
			byte(handleIdx >> 8), byte(handleIdx),
		},
	})

	aw := NewAccessWidener(2, "official")
	aw.Methods[AccessedMember{Owner: "a", Name: "c", Desc: "()Le;"}] = Accessible
	if err := aw.ToTree().ApplyNode(cf); err != nil {
		t.Fatal(err)
	}

	code := cf.Methods[1].Attrs[0].Code.Bytecode
	if code[1] != classfile.OpInvokeVirtual {
		t.Errorf("widened call site not promoted: %#x", code[1])
	}
	if code[5] != classfile.OpInvokeSpecial {
		t.Errorf("constructor call promoted: %#x", code[5])
	}
	if got := pool.Entries[handleIdx].Ref1; got != classfile.HInvokeVirtual {
		t.Errorf("bootstrap handle tag %d, want H_INVOKEVIRTUAL", got)
	}
}

func TestApplyWidenerInnerClassTable(t *testing.T) {
	cf, err := classfile.New(classfile.AccPublic, "outer", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	pool := cf.Pool
	innerClass, err := pool.AddClass("outer$in")
	if err != nil {
		t.Fatal(err)
	}
	outerClass := cf.ThisClass
	innerName, err := pool.AddUtf8("in")
	if err != nil {
		t.Fatal(err)
	}
	attrName, err := pool.AddUtf8(classfile.AttrInnerClasses)
	if err != nil {
		t.Fatal(err)
	}
	access := uint16(classfile.AccPrivate | classfile.AccFinal)
	cf.Attrs = append(cf.Attrs, classfile.Attribute{
		NameIndex: attrName,
		Data: []byte{
			0x00, 0x01,
			byte(innerClass >> 8), byte(innerClass),
			byte(outerClass >> 8), byte(outerClass),
			byte(innerName >> 8), byte(innerName),
			byte(access >> 8), byte(access),
		},
	})
	aw := NewAccessWidener(2, "official")
	aw.Classes["outer$in"] = Accessible | Extendable
	if err := aw.ToTree().ApplyNode(cf); err != nil {
		t.Fatal(err)
	}
	data := cf.Attrs[len(cf.Attrs)-1].Data
	got := uint16(data[8])<<8 | uint16(data[9])
	if got != classfile.AccPublic {
		t.Errorf("inner class entry access %#x, want ACC_PUBLIC", got)
	}
}
