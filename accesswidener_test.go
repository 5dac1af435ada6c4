// Copyright 2023 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mappings

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var widenerSample = strings.Join([]string{
	"accessWidener\tv2\tofficial",
	"accessible\tclass\ta",
	"accessible\tmethod\ta\tc\t()Le;",
	"extendable\tmethod\ta\tc\t()Le;",
	"extendable\tmethod\ta\td\t()Le;",
	"mutable\tfield\ta\tb\tLd;",
}, "\n")

func parseWidenerSample(t *testing.T) *AccessWidener {
	t.Helper()
	aw, err := ParseAccessWidener(strings.NewReader(widenerSample))
	require.NoError(t, err)
	return aw
}

func TestAccessWidenerParse(t *testing.T) {
	aw := parseWidenerSample(t)
	assert.Equal(t, 2, aw.Version)
	assert.Equal(t, "official", aw.Namespace)
	assert.Equal(t, map[string]AccessMask{"a": Accessible}, aw.Classes)
	assert.Equal(t, map[AccessedMember]AccessMask{
		{Owner: "a", Name: "c", Desc: "()Le;"}: Accessible | Extendable,
		{Owner: "a", Name: "d", Desc: "()Le;"}: Extendable,
	}, aw.Methods)
	assert.Equal(t, map[AccessedMember]AccessMask{
		{Owner: "a", Name: "b", Desc: "Ld;"}: Mutable,
	}, aw.Fields)
}

func TestAccessWidenerToTree(t *testing.T) {
	tree := parseWidenerSample(t).ToTree()
	require.Contains(t, tree.Classes, "a")
	c := tree.Classes["a"]
	assert.Equal(t, Accessible, c.Mask)
	assert.Equal(t, Accessible|Extendable, c.Propagated(), "mutable must not propagate")
	assert.Equal(t, Accessible|Extendable, c.Total())
	assert.Len(t, c.Methods, 2)
	assert.Len(t, c.Fields, 1)
}

func TestAccessWidenerParseRules(t *testing.T) {
	bad := []string{
		"accessWidener v1 official\nmutable class a",
		"accessWidener v1 official\nmutable method a b ()V",
		"accessWidener v1 official\nextendable field a b I",
		"accessWidener v1 official\naccessible class",
		"accessWidener v1 official\nwhatever class a",
		"accessWidener v3 official\naccessible class a",
		"nonsense v1 official",
	}
	for _, input := range bad {
		if _, err := ParseAccessWidener(strings.NewReader(input)); err == nil {
			t.Errorf("input %q parsed unexpectedly", input)
		}
	}
	// transitive- entries are a v2 feature.
	v2 := "accessWidener v2 official\ntransitive-accessible class a"
	aw, err := ParseAccessWidener(strings.NewReader(v2))
	require.NoError(t, err)
	assert.Equal(t, Accessible, aw.Classes["a"])

	v1 := "accessWidener v1 official\ntransitive-accessible class a"
	if _, err := ParseAccessWidener(strings.NewReader(v1)); err == nil {
		t.Error("transitive prefix accepted in v1")
	}
}

func TestAccessWidenerV1ToleratesWhitespace(t *testing.T) {
	input := "accessWidener   v1   official\n   accessible   class   a"
	aw, err := ParseAccessWidener(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Accessible, aw.Classes["a"])

	v2 := "accessWidener\tv2\tofficial\n\taccessible\tclass\ta"
	if _, err := ParseAccessWidener(strings.NewReader(v2)); err == nil {
		t.Error("v2 accepted leading whitespace")
	}
}

func TestAccessWidenerDuplicatesCombine(t *testing.T) {
	input := strings.Join([]string{
		"accessWidener\tv2\tofficial",
		"accessible\tclass\ta",
		"extendable\tclass\ta",
	}, "\n")
	aw, err := ParseAccessWidener(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Accessible|Extendable, aw.Classes["a"])
}

func TestAccessWidenerAlgebra(t *testing.T) {
	a := parseWidenerSample(t)
	b := NewAccessWidener(1, "official")
	b.Classes["x"] = Extendable
	c := NewAccessWidener(2, "official")
	c.Fields[AccessedMember{Owner: "x", Name: "y", Desc: "I"}] = Mutable

	ab, err := a.Add(b)
	require.NoError(t, err)
	abc1, err := ab.Add(c)
	require.NoError(t, err)
	bc, err := b.Add(c)
	require.NoError(t, err)
	abc2, err := a.Add(bc)
	require.NoError(t, err)
	assert.Equal(t, abc1, abc2, "Add must be associative")
	assert.Equal(t, 1, abc1.Version, "version is the minimum")

	aa, err := a.Add(a)
	require.NoError(t, err)
	assert.Equal(t, a.Classes, aa.Classes)
	assert.Equal(t, a.Methods, aa.Methods)
	assert.Equal(t, a.Fields, aa.Fields)

	other := NewAccessWidener(2, "named")
	_, err = a.Add(other)
	assert.ErrorIs(t, err, ErrNamespaceMismatch)

	_, err = JoinAccessWideners(nil)
	assert.ErrorIs(t, err, ErrEmptyJoin)
	joined, err := JoinAccessWideners([]*AccessWidener{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, abc1, joined)
}

func TestAccessWidenerRemap(t *testing.T) {
	aw := parseWidenerSample(t)

	same, err := aw.Remap(parseTinyV2Sample(t), "official", nil)
	require.NoError(t, err)
	assert.Same(t, aw, same, "remapping onto the own namespace is the identity")

	mapped, err := aw.Remap(parseTinyV2Sample(t), "named", nil)
	require.NoError(t, err)
	assert.Equal(t, "named", mapped.Namespace)
	assert.Equal(t, map[string]AccessMask{"Main": Accessible}, mapped.Classes)
	assert.Equal(t, map[AccessedMember]AccessMask{
		{Owner: "Main", Name: "action", Desc: "()LSomeOtherState;"}:        Accessible | Extendable,
		{Owner: "Main", Name: "anotherAction", Desc: "()LSomeOtherState;"}: Extendable,
	}, mapped.Methods)
	assert.Equal(t, map[AccessedMember]AccessMask{
		{Owner: "Main", Name: "state", Desc: "LSomeState;"}: Mutable,
	}, mapped.Fields)
}

func TestAccessWidenerWriteDeterministic(t *testing.T) {
	aw := parseWidenerSample(t)
	var first, second bytes.Buffer
	require.NoError(t, WriteAccessWidener(&first, aw))
	require.NoError(t, WriteAccessWidener(&second, aw))
	assert.Equal(t, first.String(), second.String())

	lines := strings.Split(strings.TrimSpace(first.String()), "\n")
	assert.Equal(t, "accessWidener\tv2\tofficial", lines[0])
	// Classes come before fields before methods.
	assert.Equal(t, "accessible\tclass\ta", lines[1])
	assert.Equal(t, "mutable\tfield\ta\tb\tLd;", lines[2])

	again, err := ParseAccessWidener(&first)
	require.NoError(t, err)
	assert.Equal(t, aw, again)
}
