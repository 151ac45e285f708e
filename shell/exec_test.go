//go:build unix && amd64

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
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/launix-de/memjit/jit"
	"github.com/launix-de/memjit/meta"
	"github.com/launix-de/memjit/registry"
	"github.com/stretchr/testify/require"
)

func TestRunCompilesOnce(t *testing.T) {
	s, out := newShell(t)
	require.NoError(t, s.Exec("run Calc.Add2 1 2"))
	require.NoError(t, s.Exec("run Calc::Add2 0x10 -6"))
	require.Equal(t, "= 3\n= 10\n", out.String())
	require.Equal(t, uint64(1), s.reg.Stats().Installs)
	require.ErrorIs(t, s.Exec("run Calc.Add2 1"), registry.ErrArityMismatch)
}

func TestCompileExecUninstall(t *testing.T) {
	s, out := newShell(t)
	require.NoError(t, s.Exec("compile Calc.Add2"))
	handle := strings.TrimSpace(out.String())
	out.Reset()

	require.NoError(t, s.Exec("exec "+handle+" 40 2"))
	require.Equal(t, "= 42\n", out.String())
	out.Reset()

	require.NoError(t, s.Exec("list"))
	require.True(t, strings.HasPrefix(out.String(), handle+" Calc::Add2/2"))
	out.Reset()

	require.NoError(t, s.Exec("uninstall "+handle))
	require.ErrorIs(t, s.Exec("exec "+handle+" 40 2"), registry.ErrStaleHandle)
	require.ErrorIs(t, s.Exec("uninstall "+handle), registry.ErrStaleHandle)

	// run notices the stale install and compiles again
	require.NoError(t, s.Exec("run Calc.Add2 1 1"))
	require.NoError(t, s.Exec("compile Calc.Nop trivial"))
	require.Contains(t, out.String(), "= 2\n")
}

func TestIL(t *testing.T) {
	s, out := newShell(t)
	require.NoError(t, s.Exec(`il "ldarg.0 ldarg.1 mul ldc.i4.1 add ret" 6 7`))
	require.Equal(t, "= 43\n", out.String())
	require.Empty(t, s.reg.Installed(nil))
	require.Equal(t, uint64(1), s.reg.Stats().Uninstalls)
}

func TestRunAfterBodyChange(t *testing.T) {
	color.NoColor = true
	provider := meta.NewStatic().AddIL("Calc", "Inc", 1, "ldarg.0 ret")
	reg, err := registry.New(provider, registry.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	var out bytes.Buffer
	s := New(reg, jit.Arithmetic{}, &out)

	require.NoError(t, s.Exec("run Calc.Inc 5"))
	provider.AddIL("Calc", "Inc", 1, "ldarg.0 ldc.i4.1 add ret")
	require.NoError(t, s.Exec("run Calc.Inc 5"))
	require.Equal(t, "= 5\n= 6\n", out.String())
	require.Len(t, reg.Installed(nil), 1)
	require.Equal(t, uint64(1), reg.Stats().Uninstalls)

	// the old install was already removed by hand
	require.NoError(t, reg.Uninstall(reg.Installed(nil)[0]))
	provider.AddIL("Calc", "Inc", 1, "ldarg.0 ldc.i4.2 add ret")
	out.Reset()
	require.NoError(t, s.Exec("run Calc.Inc 5"))
	require.Equal(t, "= 7\n", out.String())
	require.Len(t, reg.Installed(nil), 1)
}
