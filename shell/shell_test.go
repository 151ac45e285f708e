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
package shell

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/launix-de/memjit/jit"
	"github.com/launix-de/memjit/meta"
	"github.com/launix-de/memjit/registry"
	"github.com/stretchr/testify/require"
)

func newShell(t *testing.T) (*Shell, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	provider := meta.NewStatic().
		AddIL("Calc", "Add2", 2, "ldarg.0 ldarg.1 add ret").
		AddIL("Calc", "Nop", 0, "ret").
		AddIL("Calc", "Bad", 0, "add ret")
	reg, err := registry.New(provider, registry.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	var out bytes.Buffer
	return New(reg, jit.Arithmetic{}, &out), &out
}

func TestSplitArgs(t *testing.T) {
	for _, tc := range []struct {
		line string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"run Calc.Add2 1 2", []string{"run", "Calc.Add2", "1", "2"}},
		{`il "ldarg.0 ldarg.1 add ret" 3 4`, []string{"il", "ldarg.0 ldarg.1 add ret", "3", "4"}},
		{"list\t\r\n", []string{"list"}},
		{`a ""`, []string{"a", ""}},
	} {
		got, err := splitArgs(tc.line)
		require.NoError(t, err, tc.line)
		require.Equal(t, tc.want, got, tc.line)
	}
	_, err := splitArgs(`il "ret`)
	require.ErrorIs(t, err, ErrUsage)
}

func TestSplitRef(t *testing.T) {
	c, m, err := splitRef("Calc.Add2")
	require.NoError(t, err)
	require.Equal(t, "Calc", c)
	require.Equal(t, "Add2", m)
	c, m, err = splitRef("Ns.Calc::Add2")
	require.NoError(t, err)
	require.Equal(t, "Ns.Calc", c)
	require.Equal(t, "Add2", m)
	c, m, err = splitRef("Ns.Calc.Add2")
	require.NoError(t, err)
	require.Equal(t, "Ns.Calc", c)
	require.Equal(t, "Add2", m)
	for _, bad := range []string{"Add2", ".Add2", "Calc.", "::Add2"} {
		_, _, err := splitRef(bad)
		require.ErrorIs(t, err, ErrUnknownMethod, bad)
	}
}

func TestCommandErrors(t *testing.T) {
	s, out := newShell(t)
	require.NoError(t, s.Exec(""))
	require.NoError(t, s.Exec("# just a comment"))
	require.ErrorIs(t, s.Exec("frobnicate"), ErrUnknownCmd)
	require.ErrorIs(t, s.Exec("compile"), ErrUsage)
	require.ErrorIs(t, s.Exec("uninstall"), ErrUsage)
	require.ErrorIs(t, s.Exec("run Calc.Missing"), meta.ErrNotFound)
	require.ErrorIs(t, s.Exec("run Nope.Add2 1 2"), meta.ErrNotFound)
	require.Error(t, s.Exec("run Calc.Add2 one two"))
	require.ErrorIs(t, s.Exec("compile Calc.Bad"), jit.ErrMalformedBody)
	require.ErrorIs(t, s.Exec("compile Calc.Add2 trivial"), jit.ErrUnsupportedBytecode)
	require.Error(t, s.Exec("compile Calc.Add2 llvm"))
	require.ErrorIs(t, s.Exec("exec 0.1"), registry.ErrUnknownHandle)
	require.Error(t, s.Exec("exec zero"))
	require.ErrorIs(t, s.Exec(`il "ldarg.9"`), meta.ErrSyntax)
	require.Empty(t, out.String())
}

func TestHelpListStats(t *testing.T) {
	s, out := newShell(t)
	require.NoError(t, s.Exec("help"))
	for name := range commands {
		require.Contains(t, out.String(), commands[name].usage)
	}
	out.Reset()
	require.NoError(t, s.Exec("list"))
	require.Equal(t, "nothing installed\n", out.String())
	out.Reset()
	require.NoError(t, s.Exec("stats"))
	require.Contains(t, out.String(), "installed 0")
}

func TestDis(t *testing.T) {
	s, out := newShell(t)
	require.NoError(t, s.Exec("dis Calc.Add2"))
	require.Equal(t, "Calc::Add2/2: ldarg.0 ldarg.1 add ret\narithmetic: 4889f84801f0c3\n", out.String())
	out.Reset()
	require.NoError(t, s.Exec("dis Calc::Nop trivial"))
	require.Equal(t, "Calc::Nop/0: ret\ntrivial: 554889e531c05dc3\n", out.String())
	out.Reset()
	require.NoError(t, s.Exec("dis Calc.Add2 trivial"))
	require.Equal(t, "Calc::Add2/2: ldarg.0 ldarg.1 add ret\ntrivial: UnsupportedBytecode\n", out.String())
}
