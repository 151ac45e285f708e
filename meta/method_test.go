/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyntheticMethod(t *testing.T) {
	body := MustAssemble("ldarg.0 ldarg.2 add ret")
	m := NewSyntheticMethod("add3", body)
	require.Nil(t, m.Class())
	require.Equal(t, "add3", m.FullName())
	require.Equal(t, 3, m.Arity())
	require.True(t, m.HasRealBody())

	// descriptor owns its copy
	body[0] = byte(OpNop)
	require.Equal(t, byte(OpLdarg0), m.Body()[0])
	m.Body()[0] = byte(OpNop)
	require.Equal(t, byte(OpLdarg0), m.Body()[0])

	empty := NewSyntheticMethod("empty", nil)
	require.Equal(t, 0, empty.BodyLen())
	require.False(t, empty.HasRealBody())
}

func TestNewMethodRejectsEmptyBody(t *testing.T) {
	_, err := NewMethod(nil, "x", 0, nil, nil)
	require.ErrorIs(t, err, ErrEmptyBody)
}

func TestBodyHash(t *testing.T) {
	a := NewSyntheticMethod("a", MustAssemble("ldarg.0 ret"))
	b := NewSyntheticMethod("b", MustAssemble("ldarg.0 ret"))
	c := NewSyntheticMethod("c", MustAssemble("ldarg.1 ret"))
	require.Equal(t, a.BodyHash(), b.BodyHash())
	require.NotEqual(t, a.BodyHash(), c.BodyHash())
}

func TestClassGetMethod(t *testing.T) {
	s := NewStatic().AddIL("Calc", "Add2", 2, "ldarg.0 ldarg.1 add ret").AddClass("Empty")
	c := NewClass("Calc", s)

	m, err := c.GetMethod("Add2")
	require.NoError(t, err)
	require.Equal(t, "Calc::Add2", m.FullName())
	require.Equal(t, "Calc::Add2", m.Token())
	require.Same(t, c, m.Class())
	require.Equal(t, 2, m.Arity())
	require.Greater(t, m.BodyLen(), MinRealBody)

	_, err = c.GetMethod("Missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.ResolveClass("Nope"), ErrNotFound)
	require.NoError(t, s.ResolveClass("Empty"))
	require.Equal(t, []string{"Calc", "Empty"}, s.Classes())
	require.Equal(t, []string{"Add2"}, s.Methods("Calc"))
}
