// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package classfile

import (
	"bytes"
	"testing"
)

func TestBuildParseRoundTrip(t *testing.T) {
	cf, err := New(AccPublic|AccSuper, "pkg/Main", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	if err := cf.AddInterface("pkg/Iface"); err != nil {
		t.Fatal(err)
	}
	if _, err := cf.AddField(AccPrivate, "state", "Lpkg/State;"); err != nil {
		t.Fatal(err)
	}
	if _, err := cf.AddMethod(AccPublic, "action", "()V"); err != nil {
		t.Fatal(err)
	}
	data, err := cf.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Name() != "pkg/Main" || parsed.SuperName() != "java/lang/Object" {
		t.Errorf("names lost: %q %q", parsed.Name(), parsed.SuperName())
	}
	if len(parsed.Interfaces) != 1 || parsed.Pool.ClassName(parsed.Interfaces[0]) != "pkg/Iface" {
		t.Errorf("interfaces lost")
	}
	again, err := parsed.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("serialization is not stable")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 3}); err == nil {
		t.Error("expected bad magic error")
	}
	if _, err := Parse([]byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0}); err == nil {
		t.Error("expected truncation error")
	}
	if _, err := ParseHeader([]byte{1, 2, 3}); err == nil {
		t.Error("expected bad magic error")
	}
}

func TestConstPoolLongDoubleSlots(t *testing.T) {
	cf, err := New(AccPublic, "a", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	cf.Pool.Entries = append(cf.Pool.Entries,
		Entry{Tag: TagLong, Raw: []byte{0, 0, 0, 0, 0, 0, 0, 42}},
		Entry{}, // second slot
		Entry{Tag: TagInteger, Raw: []byte{0, 0, 0, 7}},
	)
	data, err := cf.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Pool.Count() != cf.Pool.Count() {
		t.Errorf("pool count drifted: %d vs %d", parsed.Pool.Count(), cf.Pool.Count())
	}
	last := parsed.Pool.Entries[len(parsed.Pool.Entries)-1]
	if last.Tag != TagInteger || last.Raw[3] != 7 {
		t.Errorf("entry after long slot corrupted: %+v", last)
	}
}

func TestAddUtf8Interns(t *testing.T) {
	cp := &ConstPool{Entries: make([]Entry, 1)}
	a, err := cp.AddUtf8("hello")
	if err != nil {
		t.Fatal(err)
	}
	b, err := cp.AddUtf8("hello")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("identical strings interned twice: %d vs %d", a, b)
	}
	nat1, err := cp.AddNameAndType("n", "()V")
	if err != nil {
		t.Fatal(err)
	}
	nat2, err := cp.AddNameAndType("n", "()V")
	if err != nil {
		t.Fatal(err)
	}
	if nat1 != nat2 {
		t.Errorf("identical pairs interned twice")
	}
}

func TestWalkInstructions(t *testing.T) {
	// aload_0, invokespecial #1, wide iinc, tableswitch, return
	code := []byte{
		0x2A,             // 0: aload_0
		0xB7, 0x00, 0x01, // 1: invokespecial
		0xC4, 0x84, 0x00, 0x01, 0x00, 0x05, // 4: wide iinc
	}
	// tableswitch at offset 10: 1 byte opcode + 1 byte pad to align 12
	code = append(code, OpTableSwitch)
	code = append(code, 0x00)                   // padding to offset 12
	code = append(code, 0, 0, 0, 16)            // default
	code = append(code, 0, 0, 0, 0, 0, 0, 0, 0) // low=0 high=0
	code = append(code, 0, 0, 0, 16)            // one jump offset
	code = append(code, 0xB1)                   // return

	var offsets []int
	err := WalkInstructions(code, func(offset int, opcode byte) {
		offsets = append(offsets, offset)
	})
	if err != nil {
		t.Fatalf("walking: %v", err)
	}
	want := []int{0, 1, 4, 10, len(code) - 1}
	if len(offsets) != len(want) {
		t.Fatalf("offsets %v, want %v", offsets, want)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("offsets %v, want %v", offsets, want)
		}
	}
}

func TestWalkInstructionsLookupSwitch(t *testing.T) {
	code := []byte{
		0x00, 0x00, 0x00, // three nops so the switch needs no padding
		OpLookupSwitch,
	}
	code = append(code, 0, 0, 0, 20) // default
	code = append(code, 0, 0, 0, 1) // one pair
	code = append(code, 0, 0, 0, 5, 0, 0, 0, 20)
	code = append(code, 0xB1)
	count := 0
	err := WalkInstructions(code, func(int, byte) { count++ })
	if err != nil {
		t.Fatalf("walking: %v", err)
	}
	if count != 5 {
		t.Errorf("visited %d instructions, want 5", count)
	}
}

func TestWalkInstructionsRejectsTruncated(t *testing.T) {
	if err := WalkInstructions([]byte{0xB7}, func(int, byte) {}); err == nil {
		t.Error("expected truncation error")
	}
}

func TestParseHeaderSkipsBodies(t *testing.T) {
	cf, err := New(AccPublic, "a", "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	m, err := cf.AddMethod(AccPublic, "run", "()V")
	if err != nil {
		t.Fatal(err)
	}
	codeName, err := cf.Pool.AddUtf8(AttrCode)
	if err != nil {
		t.Fatal(err)
	}
	m.Attrs = append(m.Attrs, Attribute{
		NameIndex: codeName,
		Code:      &Code{MaxStack: 1, MaxLocals: 1, Bytecode: []byte{0xB1}},
	})
	data, err := cf.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	h, err := ParseHeader(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Methods) != 1 || h.Methods[0].Name != "run" || h.Methods[0].Desc != "()V" {
		t.Errorf("unexpected header methods %+v", h.Methods)
	}
}
