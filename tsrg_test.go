// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"bytes"
	"strings"
	"testing"
)

var tsrgV1Sample = strings.Join([]string{
	"a net/md_1/Main",
	"\tb state",
	"\tc ()La; action",
	"d net/md_1/State",
}, "\n")

func TestTSRGv1Parse(t *testing.T) {
	m, err := TSRGv1.Parse(strings.NewReader(tsrgV1Sample))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if !stringsEqual(m.Namespaces, []string{"obf", "srg"}) {
		t.Fatalf("unexpected namespaces %v", m.Namespaces)
	}
	if len(m.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(m.Classes))
	}
	c := m.Classes[0]
	if len(c.Fields) != 1 || !stringsEqual(c.Fields[0].Names, []string{"b", "state"}) {
		t.Errorf("unexpected fields %+v", c.Fields)
	}
	if len(c.Methods) != 1 || c.Methods[0].Desc != "()La;" {
		t.Errorf("unexpected methods %+v", c.Methods)
	}
}

func TestTSRGv1RoundTrip(t *testing.T) {
	m, err := TSRGv1.Parse(strings.NewReader(tsrgV1Sample))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	var buf bytes.Buffer
	if err := TSRGv1.Write(&buf, m); err != nil {
		t.Fatalf("writing: %v", err)
	}
	again, err := TSRGv1.Parse(&buf)
	if err != nil {
		t.Fatalf("reparsing: %v", err)
	}
	if !m.Equal(again) {
		t.Errorf("round trip changed the model")
	}
}

var tsrgV2Sample = strings.Join([]string{
	"tsrg2 obf srg named",
	"a net/md_1/C_1 Main",
	"\tb field_1 state",
	"\tc ()La; method_1 action",
	"\t\tstatic",
	"\t\t0 o p_1 self",
}, "\n")

func TestTSRGv2Parse(t *testing.T) {
	m, err := TSRGv2.Parse(strings.NewReader(tsrgV2Sample))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if !stringsEqual(m.Namespaces, []string{"obf", "srg", "named"}) {
		t.Fatalf("unexpected namespaces %v", m.Namespaces)
	}
	c := m.Classes[0]
	if !stringsEqual(c.Names, []string{"a", "net/md_1/C_1", "Main"}) {
		t.Errorf("unexpected class names %v", c.Names)
	}
	md := c.Methods[0]
	if !stringsEqual(md.Names, []string{"c", "method_1", "action"}) {
		t.Errorf("unexpected method names %v", md.Names)
	}
	if len(md.Parameters) != 1 || md.Parameters[0].Index != 0 ||
		!stringsEqual(md.Parameters[0].Names, []string{"o", "p_1", "self"}) {
		t.Errorf("unexpected parameters %+v", md.Parameters)
	}
}

func TestTSRGv2RoundTrip(t *testing.T) {
	m, err := TSRGv2.Parse(strings.NewReader(tsrgV2Sample))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	var buf bytes.Buffer
	if err := TSRGv2.Write(&buf, m); err != nil {
		t.Fatalf("writing: %v", err)
	}
	again, err := TSRGv2.Parse(&buf)
	if err != nil {
		t.Fatalf("reparsing: %v", err)
	}
	if !m.Equal(again) {
		t.Errorf("round trip changed the model")
	}
}

func TestTSRGv2FieldDescriptor(t *testing.T) {
	input := strings.Join([]string{
		"tsrg2 obf srg",
		"a Main",
		"\tb Ld; state",
	}, "\n")
	m, err := TSRGv2.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	f := m.Classes[0].Fields[0]
	if f.Desc != "Ld;" || !stringsEqual(f.Names, []string{"b", "state"}) {
		t.Errorf("unexpected field %+v", f)
	}
}

func TestTSRGIndentErrors(t *testing.T) {
	input := "a Main\n\t\tbroken deep"
	_, err := TSRGv1.Parse(strings.NewReader(input))
	perr, ok := err.(*Error)
	if !ok || perr.Line != 2 {
		t.Errorf("expected line-2 parse error, got %v", err)
	}
}
