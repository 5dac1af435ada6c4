// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"bytes"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Format
	}{
		{"tiny v1", "v1\tofficial\tnamed\nCLASS\ta\tb", TinyV1},
		{"tiny v2", tinyV2Sample, TinyV2},
		{"srg", srgSample, SRG},
		{"xsrg", xsrgSample, XSRG},
		{"proguard", proguardSample, Proguard},
		{"tsrg v1", tsrgV1Sample, TSRGv1},
		{"tsrg v2", tsrgV2Sample, TSRGv2},
		{"enigma", enigmaSample, Enigma},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := DetectFormat(splitLines(tt.input))
			if !ok {
				t.Fatalf("nothing detected")
			}
			if f != tt.want {
				t.Errorf("detected %s, want %s", f.Name(), tt.want.Name())
			}
		})
	}
}

func TestDetectFormatRejectsGarbage(t *testing.T) {
	if f, ok := DetectFormat(splitLines("hello world\nnot a mapping")); ok {
		t.Errorf("unexpectedly detected %s", f.Name())
	}
}

// Whitespace-only lines before the header must not break tiny v1
// detection.
func TestTinyV1DetectLeadingBlank(t *testing.T) {
	lines := splitLines("   \nv1\tofficial\tnamed\nCLASS\ta\tb")
	f, ok := DetectFormat(lines)
	if !ok || f != TinyV1 {
		t.Errorf("tiny v1 not detected past blank lines")
	}
}

func TestParseAutoDetects(t *testing.T) {
	m, err := Parse([]byte(tinyV2Sample))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(m.Classes) != 3 {
		t.Errorf("unexpected class count %d", len(m.Classes))
	}

	var bin bytes.Buffer
	if err := Compacted.Write(&bin, stripComments(m)); err != nil {
		t.Fatalf("writing compacted: %v", err)
	}
	again, err := Parse(bin.Bytes())
	if err != nil {
		t.Fatalf("parsing compacted: %v", err)
	}
	if len(again.Classes) != 3 {
		t.Errorf("unexpected class count %d", len(again.Classes))
	}

	if _, err := Parse([]byte("no mapping here")); err != ErrUnknownFormat {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestParseStripsBOM(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte(srgSample)...)
	m, err := Parse(input)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(m.Classes) != 1 {
		t.Errorf("unexpected class count %d", len(m.Classes))
	}
}

func TestFormatByName(t *testing.T) {
	for _, name := range []string{"srg", "xsrg", "csrg", "tsrg", "tsrg2", "tiny", "tinyv2", "proguard", "enigma", "recaf", "compacted"} {
		if _, ok := FormatByName(name); !ok {
			t.Errorf("format %q not resolvable", name)
		}
	}
	if _, ok := FormatByName("nope"); ok {
		t.Error("unknown format resolved")
	}
}

func TestFuzzEntryDoesNotPanic(t *testing.T) {
	for _, input := range []string{"", "v1", "CL:", tinyV2Sample, srgSample} {
		Fuzz([]byte(input))
	}
}
