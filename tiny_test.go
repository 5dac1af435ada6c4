// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"bytes"
	"strings"
	"testing"
)

var tinyV2Sample = strings.Join([]string{
	"tiny\t2\t0\tofficial\tnamed",
	"c\ta\tMain",
	"\tc\tTest comment",
	"\tf\tLd;\tb\tstate",
	"\t\tc\tElectric boogaloo",
	"\tm\t()Le;\tc\taction",
	"\t\tc\tCrazy",
	"\t\tc\tTwo comments!",
	"\tm\t()Le;\td\tanotherAction",
	"c\td\tSomeState",
	"c\te\tSomeOtherState",
}, "\n")

func parseTinyV2Sample(t *testing.T) *Mappings {
	t.Helper()
	m, err := TinyV2.Parse(strings.NewReader(tinyV2Sample))
	if err != nil {
		t.Fatalf("parsing tiny v2 sample: %v", err)
	}
	return m
}

func TestTinyV2Parse(t *testing.T) {
	m := parseTinyV2Sample(t)
	if !stringsEqual(m.Namespaces, []string{"official", "named"}) {
		t.Fatalf("unexpected namespaces %v", m.Namespaces)
	}
	if len(m.Classes) != 3 {
		t.Fatalf("expected 3 classes, got %d", len(m.Classes))
	}
	main := m.Classes[0]
	if !stringsEqual(main.Names, []string{"a", "Main"}) {
		t.Errorf("unexpected class names %v", main.Names)
	}
	if !stringsEqual(main.Comments, []string{"Test comment"}) {
		t.Errorf("unexpected class comments %v", main.Comments)
	}
	if len(main.Fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(main.Fields))
	}
	f := main.Fields[0]
	if !stringsEqual(f.Names, []string{"b", "state"}) || f.Desc != "Ld;" {
		t.Errorf("unexpected field %+v", f)
	}
	if !stringsEqual(f.Comments, []string{"Electric boogaloo"}) {
		t.Errorf("unexpected field comments %v", f.Comments)
	}
	if len(main.Methods) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(main.Methods))
	}
	action := main.Methods[0]
	if !stringsEqual(action.Names, []string{"c", "action"}) || action.Desc != "()Le;" {
		t.Errorf("unexpected method %+v", action)
	}
	if !stringsEqual(action.Comments, []string{"Crazy", "Two comments!"}) {
		t.Errorf("unexpected method comments %v", action.Comments)
	}
	other := main.Methods[1]
	if !stringsEqual(other.Names, []string{"d", "anotherAction"}) || other.Desc != "()Le;" {
		t.Errorf("unexpected method %+v", other)
	}
	if len(other.Comments) != 0 {
		t.Errorf("unexpected comments %v", other.Comments)
	}
	if !stringsEqual(m.Classes[1].Names, []string{"d", "SomeState"}) ||
		!stringsEqual(m.Classes[2].Names, []string{"e", "SomeOtherState"}) {
		t.Errorf("unexpected trailing classes")
	}
}

func TestTinyV2RoundTrip(t *testing.T) {
	m := parseTinyV2Sample(t)
	var buf bytes.Buffer
	if err := TinyV2.Write(&buf, m); err != nil {
		t.Fatalf("writing: %v", err)
	}
	again, err := TinyV2.Parse(&buf)
	if err != nil {
		t.Fatalf("reparsing: %v", err)
	}
	if !m.Equal(again) {
		t.Errorf("round trip changed the model")
	}
}

func TestTinyV2CompactRoundTrip(t *testing.T) {
	m := parseTinyV2Sample(t)
	var buf bytes.Buffer
	if err := TinyV2Compact.Write(&buf, m); err != nil {
		t.Fatalf("writing: %v", err)
	}
	again, err := TinyV2.Parse(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reparsing: %v", err)
	}
	if !m.Equal(again) {
		t.Errorf("compact round trip changed the model")
	}
}

func TestTinyV2NameElision(t *testing.T) {
	input := strings.Join([]string{
		"tiny\t2\t0\tofficial\tnamed",
		"c\tsame\t",
		"\tf\tI\tfield\t",
	}, "\n")
	m, err := TinyV2.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if !stringsEqual(m.Classes[0].Names, []string{"same", "same"}) {
		t.Errorf("class elision not materialized: %v", m.Classes[0].Names)
	}
	if !stringsEqual(m.Classes[0].Fields[0].Names, []string{"field", "field"}) {
		t.Errorf("field elision not materialized: %v", m.Classes[0].Fields[0].Names)
	}
}

func TestTinyV2Metadata(t *testing.T) {
	input := strings.Join([]string{
		"tiny\t2\t0\tofficial\tnamed",
		"\tsome-key\tsome-value",
		"c\ta\tb",
	}, "\n")
	m, err := TinyV2.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	meta, ok := m.Meta.(TinyV2Meta)
	if !ok {
		t.Fatalf("unexpected metadata %T", m.Meta)
	}
	if len(meta.Properties) != 1 || meta.Properties[0].Key != "some-key" || meta.Properties[0].Value != "some-value" {
		t.Errorf("unexpected properties %v", meta.Properties)
	}
}

func TestTinyV2ParseErrorsCarryLine(t *testing.T) {
	input := strings.Join([]string{
		"tiny\t2\t0\tofficial\tnamed",
		"c\ta\tb",
		"\tf\tnotadesc\tx\ty",
	}, "\n")
	_, err := TinyV2.Parse(strings.NewReader(input))
	if err == nil {
		t.Fatal("expected a parse error")
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if perr.Kind != KindMalformedInput || perr.Line != 3 {
		t.Errorf("unexpected error %+v", perr)
	}
}

func TestTinyV1ParseAndHoleFixup(t *testing.T) {
	input := strings.Join([]string{
		"v1\tofficial\tnamed",
		"FIELD\torphan\tI\tb\tstate",
		"CLASS\ta\tMain",
		"METHOD\ta\t()V\tc\taction",
	}, "\n")
	m, err := TinyV1.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(m.Classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(m.Classes))
	}
	orphan := m.Classes[0]
	if !stringsEqual(orphan.Names, []string{"orphan", "orphan"}) {
		t.Errorf("hole fix-up names %v", orphan.Names)
	}
	if len(orphan.Fields) != 1 || orphan.Fields[0].Desc != "I" {
		t.Errorf("orphan field missing: %+v", orphan.Fields)
	}
	if !stringsEqual(m.Classes[1].Names, []string{"a", "Main"}) || len(m.Classes[1].Methods) != 1 {
		t.Errorf("unexpected class %+v", m.Classes[1])
	}
}

func TestTinyV1RoundTrip(t *testing.T) {
	input := strings.Join([]string{
		"v1\tofficial\tintermediary\tnamed",
		"CLASS\ta\tnet/md_1/A\tMain",
		"FIELD\ta\tLd;\tb\tfield_1\tstate",
		"METHOD\ta\t()V\tc\tmethod_1\taction",
	}, "\n")
	m, err := TinyV1.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	var buf bytes.Buffer
	if err := TinyV1.Write(&buf, m); err != nil {
		t.Fatalf("writing: %v", err)
	}
	again, err := TinyV1.Parse(&buf)
	if err != nil {
		t.Fatalf("reparsing: %v", err)
	}
	if !m.Equal(again) {
		t.Errorf("round trip changed the model")
	}
}

func TestTinyV1RequiresFieldDesc(t *testing.T) {
	m := &Mappings{
		Namespaces: []string{"official", "named"},
		Classes: []MappedClass{{
			Names:  []string{"a", "Main"},
			Fields: []MappedField{{Names: []string{"b", "state"}}},
		}},
		Meta: TinyV1Meta{},
	}
	var buf bytes.Buffer
	if err := TinyV1.Write(&buf, m); err == nil {
		t.Error("expected missing descriptor error")
	}
}
