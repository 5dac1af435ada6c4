// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Joining a mappings value with itself over its first namespace must
// reproduce the value (modulo namespace order, which Join fixes as
// self-columns, intermediate, other-columns).
func TestJoinIdentity(t *testing.T) {
	m := stripComments(parseTinyV2Sample(t))
	joined, err := m.Join(m, m.Namespaces[0], true)
	require.NoError(t, err)
	assert.Equal(t, []string{"named", "official", "named"}, joined.Namespaces)
	deduped, err := joined.DeduplicateNamespaces()
	require.NoError(t, err)
	back, err := deduped.ReorderNamespaces("official", "named")
	require.NoError(t, err)
	assert.True(t, back.Equal(m), "join with self must be the identity")
}

func TestJoinTwoSided(t *testing.T) {
	left := &Mappings{
		Namespaces: []string{"official", "intermediary"},
		Classes: []MappedClass{
			{
				Names:  []string{"a", "class_1"},
				Fields: []MappedField{{Names: []string{"b", "field_1"}, Desc: "La;"}},
				Methods: []MappedMethod{
					{Names: []string{"c", "method_1"}, Desc: "()La;"},
				},
			},
		},
		Meta: GenericMeta{},
	}
	right := &Mappings{
		Namespaces: []string{"intermediary", "named"},
		Classes: []MappedClass{
			{
				Names:  []string{"class_1", "Main"},
				Fields: []MappedField{{Names: []string{"field_1", "state"}, Desc: "Lclass_1;"}},
				Methods: []MappedMethod{
					{Names: []string{"method_1", "action"}, Desc: "()Lclass_1;"},
				},
			},
		},
		Meta: GenericMeta{},
	}
	joined, err := left.Join(right, "intermediary", true)
	require.NoError(t, err)
	require.Equal(t, []string{"official", "intermediary", "named"}, joined.Namespaces)
	require.Len(t, joined.Classes, 1)
	c := joined.Classes[0]
	assert.Equal(t, []string{"a", "class_1", "Main"}, c.Names)
	require.Len(t, c.Fields, 1)
	assert.Equal(t, []string{"b", "field_1", "state"}, c.Fields[0].Names)
	// Output descriptors refer to the first output namespace.
	assert.Equal(t, "La;", c.Fields[0].Desc)
	require.Len(t, c.Methods, 1)
	assert.Equal(t, []string{"c", "method_1", "action"}, c.Methods[0].Names)
	assert.Equal(t, "()La;", c.Methods[0].Desc)
}

func TestJoinRequireMatch(t *testing.T) {
	left := &Mappings{
		Namespaces: []string{"official", "named"},
		Classes:    []MappedClass{{Names: []string{"a", "Main"}}},
		Meta:       GenericMeta{},
	}
	right := &Mappings{
		Namespaces: []string{"official", "extra"},
		Classes:    []MappedClass{{Names: []string{"other", "Other"}}},
		Meta:       GenericMeta{},
	}
	_, err := left.Join(right, "official", true)
	assert.ErrorIs(t, err, ErrJoinMismatch)

	joined, err := left.Join(right, "official", false)
	require.NoError(t, err)
	assert.Len(t, joined.Classes, 2)
	// The side missing a class falls back to the intermediate name.
	assert.Equal(t, []string{"Main", "a", "a"}, joined.Classes[0].Names)
	assert.Equal(t, []string{"other", "other", "Other"}, joined.Classes[1].Names)
}

func TestJoinMissingIntermediate(t *testing.T) {
	m := parseTinyV2Sample(t)
	_, err := m.Join(m, "nope", false)
	assert.ErrorIs(t, err, ErrNamespaceMissing)
}

func TestJoinConcatenatesComments(t *testing.T) {
	m := parseTinyV2Sample(t)
	joined, err := m.Join(m, "official", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Test comment", "Test comment"}, joined.Classes[0].Comments)
}

func TestJoinAll(t *testing.T) {
	empty, err := JoinAll(nil, "official", false)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())

	m := stripComments(parseTinyV2Sample(t))
	single, err := JoinAll([]*Mappings{EmptyMappings(), m}, "official", false)
	require.NoError(t, err)
	assert.True(t, single.Equal(m), "fold over one non-empty input is that input")
}
