// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Compacted is a binary tiny-like format: varint sizes, always-on name
// elision, an optional per-file prefix dictionary (v2) and one-byte
// shortcuts for three ubiquitous descriptors.
var Compacted Format = &compactedFormat{}

// CompactedMeta tags mappings parsed from compacted input and records the
// container version.
type CompactedMeta struct {
	Version uint8
}

// Format selects the compacted writer.
func (CompactedMeta) Format() Format { return Compacted }

var compactedMagic = []byte("ACMF")

const (
	compactedMaxVersion  = 2
	compactedMaxPrefixes = 31
)

// One-byte stand-ins for the most common object descriptors.
var compactedDescTokens = map[byte]string{
	'A': "Ljava/lang/Object;",
	'G': "Ljava/lang/String;",
	'R': "Ljava/util/List;",
}

type compactedFormat struct{}

func (*compactedFormat) Name() string { return "compacted" }

func (*compactedFormat) Parse(r io.Reader) (*Mappings, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, compactedError(err, "reading magic")
	}
	if string(magic) != string(compactedMagic) {
		return nil, invariantErrorf("bad compacted magic %q", magic)
	}
	version, err := br.ReadByte()
	if err != nil {
		return nil, compactedError(err, "reading version")
	}
	if version < 1 || version > compactedMaxVersion {
		return nil, invariantErrorf("unsupported compacted version %d", version)
	}
	nsCount, err := br.ReadByte()
	if err != nil {
		return nil, compactedError(err, "reading namespace count")
	}
	namespaces := make([]string, nsCount)
	for i := range namespaces {
		if namespaces[i], err = readByteString(br); err != nil {
			return nil, compactedError(err, "reading namespace")
		}
	}
	var prefixes []string
	if version >= 2 {
		prefixCount, err := br.ReadByte()
		if err != nil {
			return nil, compactedError(err, "reading prefix count")
		}
		if prefixCount > compactedMaxPrefixes {
			return nil, invariantErrorf("prefix dictionary holds %d entries, limit is %d", prefixCount, compactedMaxPrefixes)
		}
		prefixes = make([]string, prefixCount)
		for i := range prefixes {
			if prefixes[i], err = readByteString(br); err != nil {
				return nil, compactedError(err, "reading prefix entry")
			}
		}
	}
	var classCountBuf [4]byte
	if _, err := io.ReadFull(br, classCountBuf[:]); err != nil {
		return nil, compactedError(err, "reading class count")
	}
	classCount := binary.LittleEndian.Uint32(classCountBuf[:])
	classes := make([]MappedClass, 0, classCount)
	for ci := uint32(0); ci < classCount; ci++ {
		names, err := readNameTuple(br, int(nsCount), prefixes)
		if err != nil {
			return nil, compactedError(err, "reading class names")
		}
		memberCount, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, compactedError(err, "reading member count")
		}
		class := MappedClass{Names: names}
		for mi := uint64(0); mi < memberCount; mi++ {
			memberNames, err := readNameTuple(br, int(nsCount), prefixes)
			if err != nil {
				return nil, compactedError(err, "reading member names")
			}
			desc, err := readCompactedDesc(br)
			if err != nil {
				return nil, compactedError(err, "reading member descriptor")
			}
			if strings.HasPrefix(desc, "(") {
				class.Methods = append(class.Methods, MappedMethod{Names: memberNames, Desc: desc})
			} else {
				class.Fields = append(class.Fields, MappedField{Names: memberNames, Desc: desc})
			}
		}
		classes = append(classes, class)
	}
	m := &Mappings{Namespaces: namespaces, Classes: classes, Meta: CompactedMeta{Version: version}}
	if err := m.validate(true); err != nil {
		return nil, err
	}
	return m, nil
}

func (*compactedFormat) Write(w io.Writer, m *Mappings) error {
	version := uint8(compactedMaxVersion)
	if meta, ok := m.Meta.(CompactedMeta); ok && meta.Version != 0 {
		version = meta.Version
	}
	bw := bufio.NewWriter(w)
	bw.Write(compactedMagic)
	bw.WriteByte(version)
	if len(m.Namespaces) > 255 {
		return invariantErrorf("too many namespaces for compacted: %d", len(m.Namespaces))
	}
	bw.WriteByte(byte(len(m.Namespaces)))
	for _, ns := range m.Namespaces {
		if err := writeByteString(bw, ns); err != nil {
			return err
		}
	}
	var prefixes []string
	if version >= 2 {
		prefixes = buildPrefixDictionary(m)
		bw.WriteByte(byte(len(prefixes)))
		for _, p := range prefixes {
			if err := writeByteString(bw, p); err != nil {
				return err
			}
		}
	}
	var classCountBuf [4]byte
	binary.LittleEndian.PutUint32(classCountBuf[:], uint32(len(m.Classes)))
	bw.Write(classCountBuf[:])
	for ci := range m.Classes {
		c := &m.Classes[ci]
		writeNameTuple(bw, c.Names, prefixes)
		writeUvarint(bw, uint64(len(c.Fields)+len(c.Methods)))
		for fi := range c.Fields {
			fd := &c.Fields[fi]
			if fd.Desc == "" {
				return invariantErrorf("field %s.%s: %v", c.Names[0], fd.Names[0], ErrMissingFieldDesc)
			}
			writeNameTuple(bw, fd.Names, prefixes)
			writeCompactedDesc(bw, fd.Desc)
		}
		for mi := range c.Methods {
			md := &c.Methods[mi]
			writeNameTuple(bw, md.Names, prefixes)
			writeCompactedDesc(bw, md.Desc)
		}
	}
	return bw.Flush()
}

func compactedError(err error, what string) error {
	return &Error{Kind: KindMalformedInput, Msg: "compacted: " + what, Err: errors.Wrap(err, what)}
}

// readByteString reads a u8 length-prefixed UTF-8 string.
func readByteString(br *bufio.Reader) (string, error) {
	n, err := br.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeByteString(bw *bufio.Writer, s string) error {
	if len(s) > 255 {
		return invariantErrorf("string too long for compacted header: %q", s)
	}
	bw.WriteByte(byte(len(s)))
	bw.WriteString(s)
	return nil
}

// readNameTuple reads one varint-length-prefixed name per namespace,
// expanding prefix-dictionary tokens and materializing elided names.
func readNameTuple(br *bufio.Reader, count int, prefixes []string) ([]string, error) {
	names := make([]string, count)
	last := ""
	for i := 0; i < count; i++ {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			names[i] = last
			continue
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, err
		}
		name := expandPrefixTokens(buf, prefixes)
		names[i] = name
		last = name
	}
	return names, nil
}

func expandPrefixTokens(buf []byte, prefixes []string) string {
	var sb strings.Builder
	for _, b := range buf {
		if b < 32 {
			if int(b) < len(prefixes) {
				sb.WriteString(prefixes[b])
			}
			continue
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

func writeNameTuple(bw *bufio.Writer, names []string, prefixes []string) {
	last := ""
	for i, name := range names {
		if i > 0 && name == last {
			writeUvarint(bw, 0)
			continue
		}
		last = name
		encoded := encodePrefixTokens(name, prefixes)
		writeUvarint(bw, uint64(len(encoded)))
		bw.Write(encoded)
	}
}

// encodePrefixTokens substitutes the longest matching dictionary entry at
// the head of name with its one-byte index token.
func encodePrefixTokens(name string, prefixes []string) []byte {
	best, bestIdx := 0, -1
	for i, p := range prefixes {
		if len(p) > best && strings.HasPrefix(name, p) {
			best, bestIdx = len(p), i
		}
	}
	if bestIdx < 0 {
		return []byte(name)
	}
	out := make([]byte, 0, len(name)-best+1)
	out = append(out, byte(bestIdx))
	out = append(out, name[best:]...)
	return out
}

func writeUvarint(bw *bufio.Writer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	bw.Write(buf[:n])
}

// readCompactedDesc reads a descriptor byte-wise, stopping once a complete
// descriptor has been consumed and expanding the A/G/R shortcuts.
func readCompactedDesc(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	b, err := br.ReadByte()
	if err != nil {
		return "", err
	}
	if b == '(' {
		sb.WriteByte('(')
		for {
			b, err = br.ReadByte()
			if err != nil {
				return "", err
			}
			if b == ')' {
				sb.WriteByte(')')
				break
			}
			if err := readCompactedType(br, &sb, b); err != nil {
				return "", err
			}
		}
		b, err = br.ReadByte()
		if err != nil {
			return "", err
		}
	}
	if err := readCompactedType(br, &sb, b); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// readCompactedType consumes one field/type descriptor whose first byte is b.
func readCompactedType(br *bufio.Reader, sb *strings.Builder, b byte) error {
	var err error
	for b == '[' {
		sb.WriteByte('[')
		if b, err = br.ReadByte(); err != nil {
			return err
		}
	}
	if exp, ok := compactedDescTokens[b]; ok {
		sb.WriteString(exp)
		return nil
	}
	switch b {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 'V':
		sb.WriteByte(b)
		return nil
	case 'L':
		sb.WriteByte('L')
		for {
			if b, err = br.ReadByte(); err != nil {
				return err
			}
			sb.WriteByte(b)
			if b == ';' {
				return nil
			}
		}
	}
	return invariantErrorf("malformed descriptor byte %q", b)
}

func writeCompactedDesc(bw *bufio.Writer, desc string) {
	i := 0
	for i < len(desc) {
		c := desc[i]
		if c != 'L' {
			bw.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			bw.WriteString(desc[i:])
			return
		}
		ref := desc[i : i+end+1]
		written := false
		for tok, exp := range compactedDescTokens {
			if ref == exp {
				bw.WriteByte(tok)
				written = true
				break
			}
		}
		if !written {
			bw.WriteString(ref)
		}
		i += end + 1
	}
}

// buildPrefixDictionary scores every package prefix of the first-namespace
// class names by occurrence and keeps the 31 most frequent, longest first.
func buildPrefixDictionary(m *Mappings) []string {
	counts := map[string]int{}
	for ci := range m.Classes {
		name := m.Classes[ci].Names[0]
		for i := 0; i < len(name); i++ {
			if name[i] == '/' {
				counts[name[:i+1]]++
			}
		}
	}
	prefixes := make([]string, 0, len(counts))
	for p := range counts {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		a, b := prefixes[i], prefixes[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	if len(prefixes) > compactedMaxPrefixes {
		prefixes = prefixes[:compactedMaxPrefixes]
	}
	return prefixes
}
