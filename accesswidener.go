// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"io"
	"sort"
	"strconv"
	"strings"
)

// AccessMask is a bitset of requested access relaxations.
type AccessMask uint8

// Access relaxations.
const (
	Accessible AccessMask = 1 << iota
	Extendable
	Mutable
)

// Has reports whether every bit of flag is set.
func (m AccessMask) Has(flag AccessMask) bool { return m&flag == flag }

func (m AccessMask) String() string {
	var parts []string
	if m.Has(Accessible) {
		parts = append(parts, "accessible")
	}
	if m.Has(Extendable) {
		parts = append(parts, "extendable")
	}
	if m.Has(Mutable) {
		parts = append(parts, "mutable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

var accessNames = map[string]AccessMask{
	"accessible": Accessible,
	"extendable": Extendable,
	"mutable":    Mutable,
}

// accessKeywords lists mask bits in serialization order.
var accessKeywords = []struct {
	name string
	bit  AccessMask
}{
	{"accessible", Accessible},
	{"extendable", Extendable},
	{"mutable", Mutable},
}

// AccessedMember identifies a field or method by owner, name and
// descriptor.
type AccessedMember struct {
	Owner string
	Name  string
	Desc  string
}

// AccessWidener is a parsed access widener file: per-entry relaxation
// requests in a single namespace. Duplicate entries combine with mask OR.
type AccessWidener struct {
	Version   int
	Namespace string
	Classes   map[string]AccessMask
	Methods   map[AccessedMember]AccessMask
	Fields    map[AccessedMember]AccessMask
}

// NewAccessWidener returns an empty widener of the given version and
// namespace.
func NewAccessWidener(version int, namespace string) *AccessWidener {
	return &AccessWidener{
		Version:   version,
		Namespace: namespace,
		Classes:   map[string]AccessMask{},
		Methods:   map[AccessedMember]AccessMask{},
		Fields:    map[AccessedMember]AccessMask{},
	}
}

const accessWidenerHeader = "accessWidener"

// ParseAccessWidener reads an access widener file.
func ParseAccessWidener(r io.Reader) (*AccessWidener, error) {
	lr := newLineReader(r)
	var aw *AccessWidener
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		content := stripAWComment(line)
		if strings.TrimSpace(content) == "" {
			continue
		}
		if aw == nil {
			fields := strings.Fields(content)
			if len(fields) != 3 || fields[0] != accessWidenerHeader {
				return nil, parseErrorf(lr.n, "malformed access widener header: %q", line)
			}
			if !strings.HasPrefix(fields[1], "v") {
				return nil, parseErrorf(lr.n, "malformed version %q", fields[1])
			}
			version, err := strconv.Atoi(fields[1][1:])
			if err != nil || version < 1 || version > 2 {
				return nil, parseErrorf(lr.n, "unsupported version %q", fields[1])
			}
			aw = NewAccessWidener(version, fields[2])
			continue
		}
		if aw.Version >= 2 && (content[0] == ' ' || content[0] == '\t') {
			return nil, parseErrorf(lr.n, "leading whitespace is not allowed: %q", line)
		}
		fields := strings.Fields(content)
		access := fields[0]
		if aw.Version >= 2 {
			access = strings.TrimPrefix(access, "transitive-")
		}
		mask, ok := accessNames[access]
		if !ok {
			return nil, parseErrorf(lr.n, "unknown access %q", fields[0])
		}
		if len(fields) < 2 {
			return nil, parseErrorf(lr.n, "missing kind: %q", line)
		}
		switch fields[1] {
		case "class":
			if len(fields) != 3 {
				return nil, parseErrorf(lr.n, "class entry needs 1 argument: %q", line)
			}
			if mask.Has(Mutable) {
				return nil, parseErrorf(lr.n, "classes cannot be mutable: %q", line)
			}
			aw.Classes[fields[2]] |= mask
		case "method":
			if len(fields) != 5 {
				return nil, parseErrorf(lr.n, "method entry needs 3 arguments: %q", line)
			}
			if mask.Has(Mutable) {
				return nil, parseErrorf(lr.n, "methods cannot be mutable: %q", line)
			}
			if _, _, ok := splitMethodDesc(fields[4]); !ok {
				return nil, parseErrorf(lr.n, "malformed method descriptor %q", fields[4])
			}
			aw.Methods[AccessedMember{Owner: fields[2], Name: fields[3], Desc: fields[4]}] |= mask
		case "field":
			if len(fields) != 5 {
				return nil, parseErrorf(lr.n, "field entry needs 3 arguments: %q", line)
			}
			if mask.Has(Extendable) {
				return nil, parseErrorf(lr.n, "fields cannot be extendable: %q", line)
			}
			if !isValidDesc(fields[4]) {
				return nil, parseErrorf(lr.n, "malformed field descriptor %q", fields[4])
			}
			aw.Fields[AccessedMember{Owner: fields[2], Name: fields[3], Desc: fields[4]}] |= mask
		default:
			return nil, parseErrorf(lr.n, "unknown kind %q", fields[1])
		}
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	if aw == nil {
		return nil, parseErrorf(1, "empty access widener")
	}
	return aw, nil
}

func stripAWComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

// WriteAccessWidener serializes deterministically: header, then class
// entries, then fields, then methods, each entry one line per mask bit,
// sorted by name.
func WriteAccessWidener(w io.Writer, aw *AccessWidener) error {
	err := writeLine(w, accessWidenerHeader, "\tv", strconv.Itoa(aw.Version), "\t", aw.Namespace)
	if err != nil {
		return err
	}
	classNames := make([]string, 0, len(aw.Classes))
	for name := range aw.Classes {
		classNames = append(classNames, name)
	}
	sort.Strings(classNames)
	for _, name := range classNames {
		for _, kw := range accessKeywords {
			if !aw.Classes[name].Has(kw.bit) {
				continue
			}
			if err := writeLine(w, kw.name, "\tclass\t", name); err != nil {
				return err
			}
		}
	}
	if err := writeAWMembers(w, "field", aw.Fields); err != nil {
		return err
	}
	return writeAWMembers(w, "method", aw.Methods)
}

func writeAWMembers(w io.Writer, kind string, members map[AccessedMember]AccessMask) error {
	keys := make([]AccessedMember, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Owner != keys[j].Owner {
			return keys[i].Owner < keys[j].Owner
		}
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Desc < keys[j].Desc
	})
	for _, k := range keys {
		for _, kw := range accessKeywords {
			if !members[k].Has(kw.bit) {
				continue
			}
			if err := writeLine(w, kw.name, "\t", kind, "\t", k.Owner, "\t", k.Name, "\t", k.Desc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Add unions two wideners of the same namespace: every map combines
// pointwise with mask OR, the version is the minimum of both.
func (a *AccessWidener) Add(b *AccessWidener) (*AccessWidener, error) {
	if a.Namespace != b.Namespace {
		return nil, &Error{Kind: KindInvariantViolation,
			Msg: "cannot combine wideners of namespaces " + a.Namespace + " and " + b.Namespace,
			Err: ErrNamespaceMismatch}
	}
	out := NewAccessWidener(Min(a.Version, b.Version), a.Namespace)
	for _, src := range []*AccessWidener{a, b} {
		for k, v := range src.Classes {
			out.Classes[k] |= v
		}
		for k, v := range src.Methods {
			out.Methods[k] |= v
		}
		for k, v := range src.Fields {
			out.Fields[k] |= v
		}
	}
	return out, nil
}

// JoinAccessWideners folds Add over the list. An empty list is an error.
func JoinAccessWideners(list []*AccessWidener) (*AccessWidener, error) {
	if len(list) == 0 {
		return nil, &Error{Kind: KindInvariantViolation, Msg: "no access wideners to join", Err: ErrEmptyJoin}
	}
	acc := list[0]
	for _, next := range list[1:] {
		var err error
		if acc, err = acc.Add(next); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// Remap translates the widener into another namespace of m. Owners map as
// classes, member names resolve through the inheritance-aware method and
// field paths, descriptors rewrite structurally. Remapping onto the
// widener's own namespace is the identity.
func (a *AccessWidener) Remap(m *Mappings, toNamespace string, inh InheritanceProvider) (*AccessWidener, error) {
	if toNamespace == a.Namespace {
		return a, nil
	}
	remapper, err := NewRemapper(m, a.Namespace, toNamespace, inh)
	if err != nil {
		return nil, err
	}
	out := NewAccessWidener(a.Version, toNamespace)
	for name, mask := range a.Classes {
		out.Classes[remapper.Map(name)] |= mask
	}
	for member, mask := range a.Methods {
		out.Methods[AccessedMember{
			Owner: remapper.Map(member.Owner),
			Name:  remapper.MapMethodName(member.Owner, member.Name, member.Desc),
			Desc:  remapper.MapMethodDesc(member.Desc),
		}] |= mask
	}
	for member, mask := range a.Fields {
		out.Fields[AccessedMember{
			Owner: remapper.Map(member.Owner),
			Name:  remapper.MapFieldName(member.Owner, member.Name, member.Desc),
			Desc:  remapper.MapDesc(member.Desc),
		}] |= mask
	}
	return out, nil
}

// MemberIdentifier is a name/descriptor pair inside a known owner.
type MemberIdentifier struct {
	Name string
	Desc string
}

// AccessedClass is the per-class view of a widener tree.
type AccessedClass struct {
	Mask    AccessMask
	Methods map[MemberIdentifier]AccessMask
	Fields  map[MemberIdentifier]AccessMask
}

// Propagated is the union of all member masks minus Mutable: widening a
// member implies the class itself must be reachable.
func (c *AccessedClass) Propagated() AccessMask {
	var out AccessMask
	for _, m := range c.Methods {
		out |= m
	}
	for _, m := range c.Fields {
		out |= m
	}
	return out &^ Mutable
}

// Total is the class's own mask together with the propagated one.
func (c *AccessedClass) Total() AccessMask {
	return c.Mask | c.Propagated()
}

// AccessWidenerTree groups widener entries by owning class.
type AccessWidenerTree struct {
	Namespace string
	Classes   map[string]*AccessedClass
}

// ToTree groups the widener's members under their owners. Owners known
// only through members appear with an empty class mask.
func (a *AccessWidener) ToTree() *AccessWidenerTree {
	t := &AccessWidenerTree{Namespace: a.Namespace, Classes: map[string]*AccessedClass{}}
	class := func(owner string) *AccessedClass {
		c, ok := t.Classes[owner]
		if !ok {
			c = &AccessedClass{
				Methods: map[MemberIdentifier]AccessMask{},
				Fields:  map[MemberIdentifier]AccessMask{},
			}
			t.Classes[owner] = c
		}
		return c
	}
	for name, mask := range a.Classes {
		class(name).Mask |= mask
	}
	for member, mask := range a.Methods {
		class(member.Owner).Methods[MemberIdentifier{member.Name, member.Desc}] |= mask
	}
	for member, mask := range a.Fields {
		class(member.Owner).Fields[MemberIdentifier{member.Name, member.Desc}] |= mask
	}
	return t
}
