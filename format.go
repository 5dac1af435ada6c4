// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format is a mappings codec. Parse is streaming and line oriented; Write
// streams the serialized form into w.
type Format interface {
	// Name is the canonical identifier used for explicit format selection.
	Name() string
	Parse(r io.Reader) (*Mappings, error)
	Write(w io.Writer, m *Mappings) error
}

// Detector is implemented by formats that can recognize their own input.
// Detection sees the raw lines of the file; binary formats are not
// detectable this way and are skipped.
type Detector interface {
	Detect(lines []string) bool
}

// Formats lists every known codec. CSRG, Recaf and Compacted carry no
// reliable fingerprint and must be selected explicitly; detection walks the
// remaining codecs in this fixed order, first hit wins.
var Formats = []Format{
	TinyV1,
	TinyV2,
	SRG,
	XSRG,
	Proguard,
	TSRGv1,
	TSRGv2,
	CSRG,
	Enigma,
	Recaf,
	Compacted,
}

// FormatByName resolves a codec from its canonical name.
func FormatByName(name string) (Format, bool) {
	for _, f := range Formats {
		if strings.EqualFold(f.Name(), name) {
			return f, true
		}
	}
	return nil, false
}

// DetectFormat returns the first detectable format that recognizes lines.
func DetectFormat(lines []string) (Format, bool) {
	for _, f := range Formats {
		d, ok := f.(Detector)
		if !ok {
			continue
		}
		if d.Detect(lines) {
			return f, true
		}
	}
	return nil, false
}

// Parse sniffs the format of data and parses it. Binary compacted input is
// recognized by its magic before text detection runs.
func Parse(data []byte) (*Mappings, error) {
	if bytes.HasPrefix(data, compactedMagic) {
		return Compacted.Parse(bytes.NewReader(data))
	}
	text, err := normalizeText(data)
	if err != nil {
		return nil, err
	}
	f, ok := DetectFormat(splitLines(text))
	if !ok {
		return nil, ErrUnknownFormat
	}
	return f.Parse(strings.NewReader(text))
}

// Lines serializes m eagerly with the writer selected by its metadata.
func Lines(m *Mappings) ([]string, error) {
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		return nil, err
	}
	out := splitLines(buf.String())
	// Trim the trailing empty slot produced by the final newline.
	if n := len(out); n > 0 && out[n-1] == "" {
		out = out[:n-1]
	}
	return out, nil
}

// Write serializes m with the writer selected by its metadata.
func Write(w io.Writer, m *Mappings) error {
	if m.Meta == nil {
		return errors.New("mappings carry no format metadata")
	}
	f := m.Meta.Format()
	if f == nil {
		return errors.New("generic mappings have no native writer; pick a format")
	}
	return f.Write(w, m)
}

// normalizeText decodes data into UTF-8 text, honoring and stripping any
// byte-order mark.
func normalizeText(data []byte) (string, error) {
	dec := unicode.UTF8.NewDecoder()
	out, _, err := transform.Bytes(unicode.BOMOverride(dec), data)
	if err != nil {
		return "", errors.Wrap(err, "decoding mappings text")
	}
	return string(out), nil
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// lineReader walks input lines while tracking the 1-based line number for
// error reporting.
type lineReader struct {
	sc *bufio.Scanner
	n  int
}

func newLineReader(r io.Reader) *lineReader {
	dec := unicode.UTF8.NewDecoder()
	sc := bufio.NewScanner(transform.NewReader(r, unicode.BOMOverride(dec)))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &lineReader{sc: sc}
}

// next returns the next line with any trailing carriage return removed.
func (lr *lineReader) next() (string, bool) {
	if !lr.sc.Scan() {
		return "", false
	}
	lr.n++
	return strings.TrimSuffix(lr.sc.Text(), "\r"), true
}

func (lr *lineReader) err() error {
	if err := lr.sc.Err(); err != nil {
		return &Error{Kind: KindIOFailure, Msg: "reading mappings", Err: err}
	}
	return nil
}

// writeLine writes each argument joined as-is followed by a newline.
func writeLine(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}
