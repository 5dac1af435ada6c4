// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"io"
	"strconv"
	"strings"
)

// Enigma is the nested CLASS/FIELD/METHOD/ARG/COMMENT format used by the
// Enigma deobfuscation tool. Inner classes are written as nested CLASS
// records carrying names relative to their parent.
var Enigma Format = &enigmaFormat{}

// EnigmaMeta tags mappings parsed from Enigma input.
type EnigmaMeta struct{}

// Format selects the Enigma writer.
func (EnigmaMeta) Format() Format { return Enigma }

var enigmaNamespaces = []string{"official", "named"}

type enigmaFormat struct{}

func (*enigmaFormat) Name() string { return "enigma" }

// Detect looks for an unindented CLASS record on the first non-empty line.
func (*enigmaFormat) Detect(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return strings.HasPrefix(line, "CLASS ")
	}
	return false
}

// enigmaEntity identifies what a COMMENT record attaches to.
type enigmaEntity struct {
	class  *MappedClass
	field  *MappedField
	method *MappedMethod
}

func (*enigmaFormat) Parse(r io.Reader) (*Mappings, error) {
	lr := newLineReader(r)
	var roots []*enigmaClassNode
	// stack[i] is the class introduced at indent depth i.
	var stack []*enigmaClassNode
	// entities[i] is the entity introduced at indent depth i, for COMMENT.
	var entities []enigmaEntity
	for {
		line, ok := lr.next()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		depth := indentDepth(line)
		fields := strings.Fields(line[depth:])
		keyword := fields[0]
		if depth > len(entities) {
			return nil, parseErrorf(lr.n, "indent depth %d with no enclosing record: %q", depth, line)
		}
		setEntity := func(e enigmaEntity) {
			entities = entities[:depth]
			entities = append(entities, e)
		}
		switch keyword {
		case "CLASS":
			if len(fields) != 2 && len(fields) != 3 {
				return nil, parseErrorf(lr.n, "CLASS record needs 1 or 2 arguments: %q", line)
			}
			obf, deobf := fields[1], ""
			if len(fields) == 3 {
				deobf = fields[2]
			} else {
				deobf = obf
			}
			node := &enigmaClassNode{class: MappedClass{}}
			if depth > len(stack) {
				return nil, parseErrorf(lr.n, "CLASS record outside a class: %q", line)
			}
			if depth > 0 {
				parent := stack[depth-1]
				obf = parent.class.Names[0] + "$" + obf
				deobf = parent.class.Names[1] + "$" + deobf
				parent.children = append(parent.children, node)
			} else {
				roots = append(roots, node)
			}
			node.class.Names = []string{obf, deobf}
			stack = stack[:depth]
			stack = append(stack, node)
			setEntity(enigmaEntity{class: &node.class})
		case "FIELD":
			if depth == 0 || depth > len(stack) {
				return nil, parseErrorf(lr.n, "FIELD record outside a class: %q", line)
			}
			owner := stack[depth-1]
			stack = stack[:depth]
			var fd MappedField
			switch len(fields) {
			case 3:
				fd = MappedField{Names: []string{fields[1], fields[1]}, Desc: fields[2]}
			case 4:
				fd = MappedField{Names: []string{fields[1], fields[2]}, Desc: fields[3]}
			default:
				return nil, parseErrorf(lr.n, "FIELD record needs 2 or 3 arguments: %q", line)
			}
			if !isValidDesc(fd.Desc) {
				return nil, parseErrorf(lr.n, "malformed field descriptor %q", fd.Desc)
			}
			owner.class.Fields = append(owner.class.Fields, fd)
			setEntity(enigmaEntity{field: &owner.class.Fields[len(owner.class.Fields)-1]})
		case "METHOD":
			if depth == 0 || depth > len(stack) {
				return nil, parseErrorf(lr.n, "METHOD record outside a class: %q", line)
			}
			owner := stack[depth-1]
			stack = stack[:depth]
			var md MappedMethod
			switch len(fields) {
			case 3:
				md = MappedMethod{Names: []string{fields[1], fields[1]}, Desc: fields[2]}
			case 4:
				md = MappedMethod{Names: []string{fields[1], fields[2]}, Desc: fields[3]}
			default:
				return nil, parseErrorf(lr.n, "METHOD record needs 2 or 3 arguments: %q", line)
			}
			if _, _, ok := splitMethodDesc(md.Desc); !ok {
				return nil, parseErrorf(lr.n, "malformed method descriptor %q", md.Desc)
			}
			owner.class.Methods = append(owner.class.Methods, md)
			setEntity(enigmaEntity{method: &owner.class.Methods[len(owner.class.Methods)-1]})
		case "ARG":
			if depth == 0 || len(entities) < depth || entities[depth-1].method == nil {
				return nil, parseErrorf(lr.n, "ARG record outside a method: %q", line)
			}
			if len(fields) != 3 {
				return nil, parseErrorf(lr.n, "ARG record needs 2 arguments: %q", line)
			}
			idx, err := strconv.ParseUint(fields[1], 10, 16)
			if err != nil {
				return nil, parseErrorf(lr.n, "malformed parameter index %q", fields[1])
			}
			method := entities[depth-1].method
			method.Parameters = append(method.Parameters, MappedParameter{
				Index: uint16(idx),
				Names: []string{fields[2], fields[2]},
			})
		case "COMMENT":
			if depth == 0 || len(entities) < depth {
				return nil, parseErrorf(lr.n, "COMMENT record with nothing to attach to: %q", line)
			}
			text := strings.TrimPrefix(line[depth:], "COMMENT")
			text = strings.TrimPrefix(text, " ")
			e := entities[depth-1]
			switch {
			case e.field != nil:
				e.field.Comments = append(e.field.Comments, text)
			case e.method != nil:
				e.method.Comments = append(e.method.Comments, text)
			case e.class != nil:
				e.class.Comments = append(e.class.Comments, text)
			}
		default:
			return nil, parseErrorf(lr.n, "unknown record type %q", keyword)
		}
	}
	if err := lr.err(); err != nil {
		return nil, err
	}
	var classes []MappedClass
	for _, root := range roots {
		classes = appendEnigmaNodes(classes, root)
	}
	m := &Mappings{
		Namespaces: append([]string(nil), enigmaNamespaces...),
		Classes:    classes,
		Meta:       EnigmaMeta{},
	}
	if err := m.validate(true); err != nil {
		return nil, err
	}
	return m, nil
}

type enigmaClassNode struct {
	class    MappedClass
	children []*enigmaClassNode
}

func appendEnigmaNodes(out []MappedClass, node *enigmaClassNode) []MappedClass {
	out = append(out, node.class)
	for _, c := range node.children {
		out = appendEnigmaNodes(out, c)
	}
	return out
}

func (*enigmaFormat) Write(w io.Writer, m *Mappings) error {
	if len(m.Namespaces) != 2 {
		return invariantErrorf("enigma supports exactly two namespaces, got %d", len(m.Namespaces))
	}
	// Build the class trie keyed by the $-path of the first-namespace name.
	type trieNode struct {
		class    *MappedClass
		names    [2]string
		order    []string
		children map[string]*trieNode
	}
	newNode := func() *trieNode { return &trieNode{children: map[string]*trieNode{}} }
	root := newNode()
	for ci := range m.Classes {
		c := &m.Classes[ci]
		segments := strings.Split(c.Names[0], "$")
		node := root
		prefix := ""
		for _, seg := range segments {
			if prefix == "" {
				prefix = seg
			} else {
				prefix = prefix + "$" + seg
			}
			child, ok := node.children[seg]
			if !ok {
				child = newNode()
				// Placeholder for a parent never mapped on its own.
				child.names = [2]string{prefix, prefix}
				node.children[seg] = child
				node.order = append(node.order, seg)
			}
			node = child
		}
		node.class = c
		node.names = [2]string{c.Names[0], c.Names[1]}
	}
	var emit func(node *trieNode, parent *trieNode, depth int) error
	emit = func(node *trieNode, parent *trieNode, depth int) error {
		indent := strings.Repeat("\t", depth)
		obf, deobf := node.names[0], node.names[1]
		if parent != nil {
			obf = strings.TrimPrefix(obf, parent.names[0]+"$")
			deobf = strings.TrimPrefix(deobf, parent.names[1]+"$")
		}
		if err := writeLine(w, indent, "CLASS ", obf, " ", deobf); err != nil {
			return err
		}
		if node.class != nil {
			c := node.class
			for _, cm := range c.Comments {
				if err := writeLine(w, indent, "\tCOMMENT ", cm); err != nil {
					return err
				}
			}
			for fi := range c.Fields {
				fd := &c.Fields[fi]
				if fd.Desc == "" {
					return invariantErrorf("field %s.%s: %v", c.Names[0], fd.Names[0], ErrMissingFieldDesc)
				}
				if err := writeLine(w, indent, "\tFIELD ", fd.Names[0], " ", fd.Names[1], " ", fd.Desc); err != nil {
					return err
				}
				for _, cm := range fd.Comments {
					if err := writeLine(w, indent, "\t\tCOMMENT ", cm); err != nil {
						return err
					}
				}
			}
			for mi := range c.Methods {
				md := &c.Methods[mi]
				if err := writeLine(w, indent, "\tMETHOD ", md.Names[0], " ", md.Names[1], " ", md.Desc); err != nil {
					return err
				}
				for _, cm := range md.Comments {
					if err := writeLine(w, indent, "\t\tCOMMENT ", cm); err != nil {
						return err
					}
				}
				for _, p := range md.Parameters {
					err := writeLine(w, indent, "\t\tARG ", strconv.Itoa(int(p.Index)), " ", p.Names[len(p.Names)-1])
					if err != nil {
						return err
					}
				}
			}
		}
		for _, seg := range node.order {
			if err := emit(node.children[seg], node, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, seg := range root.order {
		if err := emit(root.children[seg], nil, 0); err != nil {
			return err
		}
	}
	return nil
}
