// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"sync"

	"github.com/jvmtools/mappings/classfile"
)

// nonInheritableMask excludes private, static and final members from
// inheritable-member queries.
const nonInheritableMask = classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal

// InheritanceProvider answers hierarchy questions about classes. Missing
// classes yield empty results; inheritance data is best effort by design.
type InheritanceProvider interface {
	// DirectParents lists the direct super types of a class: the super
	// class first when present, then the interfaces in declared order.
	DirectParents(internalName string) []string

	// DeclaredMethods lists the "name + descriptor" strings of the methods
	// a class declares. With inheritableOnly set, private, static and
	// final methods are excluded.
	DeclaredMethods(internalName string, inheritableOnly bool) []string
}

// LoaderInheritance is the default InheritanceProvider: it reads class
// headers through a ClasspathLoader.
type LoaderInheritance struct {
	Loader ClasspathLoader
}

func (p *LoaderInheritance) header(name string) *classfile.Header {
	data := p.Loader.LoadClass(name)
	if data == nil {
		return nil
	}
	h, err := classfile.ParseHeader(data)
	if err != nil {
		return nil
	}
	return h
}

// DirectParents implements InheritanceProvider.
func (p *LoaderInheritance) DirectParents(internalName string) []string {
	h := p.header(internalName)
	if h == nil {
		return nil
	}
	out := make([]string, 0, len(h.Interfaces)+1)
	if h.Super != "" {
		out = append(out, h.Super)
	}
	out = append(out, h.Interfaces...)
	return out
}

// DeclaredMethods implements InheritanceProvider.
func (p *LoaderInheritance) DeclaredMethods(internalName string, inheritableOnly bool) []string {
	h := p.header(internalName)
	if h == nil {
		return nil
	}
	out := make([]string, 0, len(h.Methods))
	for _, m := range h.Methods {
		if inheritableOnly && m.Access&nonInheritableMask != 0 {
			continue
		}
		out = append(out, m.Name+m.Desc)
	}
	return out
}

// ParentWalk iterates the transitive super types of a class depth first,
// skipping repeats and never yielding the start class. Interfaces pushed
// together with a super class are visited before the super chain.
type ParentWalk struct {
	provider InheritanceProvider
	stack    []string
	seen     map[string]struct{}
}

// NewParentWalk starts a walk above start.
func NewParentWalk(provider InheritanceProvider, start string) *ParentWalk {
	w := &ParentWalk{
		provider: provider,
		seen:     map[string]struct{}{start: {}},
	}
	w.push(provider.DirectParents(start))
	return w
}

// push stacks parents so that interfaces pop before the super class.
func (w *ParentWalk) push(parents []string) {
	if len(parents) == 0 {
		return
	}
	w.stack = append(w.stack, parents[0])
	for i := len(parents) - 1; i >= 1; i-- {
		w.stack = append(w.stack, parents[i])
	}
}

// Next yields the next parent, or false when the hierarchy is exhausted.
func (w *ParentWalk) Next() (string, bool) {
	for len(w.stack) > 0 {
		name := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		if _, ok := w.seen[name]; ok {
			continue
		}
		w.seen[name] = struct{}{}
		w.push(w.provider.DirectParents(name))
		return name, true
	}
	return "", false
}

// Parents collects the full parent set of start, in walk order.
func Parents(provider InheritanceProvider, start string) []string {
	var out []string
	w := NewParentWalk(provider, start)
	for {
		name, ok := w.Next()
		if !ok {
			return out
		}
		out = append(out, name)
	}
}

// MemoizedInheritance caches every query of a wrapped provider. Entries are
// populated on demand and never evicted. Safe for concurrent use.
type MemoizedInheritance struct {
	Wrapped InheritanceProvider

	mu          sync.Mutex
	parents     map[string][]string
	inheritable map[string][]string
	declared    map[string][]string
}

// Memoized wraps provider in a MemoizedInheritance.
func Memoized(provider InheritanceProvider) *MemoizedInheritance {
	return &MemoizedInheritance{
		Wrapped:     provider,
		parents:     map[string][]string{},
		inheritable: map[string][]string{},
		declared:    map[string][]string{},
	}
}

// DirectParents implements InheritanceProvider.
func (m *MemoizedInheritance) DirectParents(internalName string) []string {
	m.mu.Lock()
	cached, ok := m.parents[internalName]
	m.mu.Unlock()
	if ok {
		return cached
	}
	out := m.Wrapped.DirectParents(internalName)
	m.mu.Lock()
	m.parents[internalName] = out
	m.mu.Unlock()
	return out
}

// DeclaredMethods implements InheritanceProvider.
func (m *MemoizedInheritance) DeclaredMethods(internalName string, inheritableOnly bool) []string {
	cache := m.declared
	if inheritableOnly {
		cache = m.inheritable
	}
	m.mu.Lock()
	cached, ok := cache[internalName]
	m.mu.Unlock()
	if ok {
		return cached
	}
	out := m.Wrapped.DeclaredMethods(internalName, inheritableOnly)
	m.mu.Lock()
	cache[internalName] = out
	m.mu.Unlock()
	return out
}
