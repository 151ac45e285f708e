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

func TestAssembleDecodeRoundtrip(t *testing.T) {
	body, err := Assemble("ldarg.0 ldarg.1 add ret")
	require.NoError(t, err)
	require.Equal(t, []byte{0x02, 0x03, 0x58, 0x2A}, body)

	code, err := Decode(body)
	require.NoError(t, err)
	require.Len(t, code, 4)
	require.Equal(t, KindLoadArg, code[0].Kind())
	require.Equal(t, int64(1), code[1].Arg)
	require.Equal(t, KindBinary, code[2].Kind())
	require.Equal(t, KindReturn, code[3].Kind())
	require.Equal(t, "ldarg.0 ldarg.1 add ret", Disassemble(body))
}

func TestAssembleOperands(t *testing.T) {
	body, err := Assemble("ldarg.s 4; ldc.i4.s -3\nldc.i4 0x10000 # big\nldc.i4.7 ldc.i4.m1 mul ret")
	require.NoError(t, err)

	code, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, int64(4), code[0].Arg)
	require.Equal(t, int64(-3), code[1].Arg)
	require.Equal(t, int64(0x10000), code[2].Arg)
	require.Equal(t, int64(7), code[3].Arg)
	require.Equal(t, int64(-1), code[4].Arg)
	require.Equal(t, OpMul, code[5].Op)
	require.Equal(t, 2, code[1].Offset)
}

func TestAssembleErrors(t *testing.T) {
	for _, src := range []string{"ldarg.9", "ldc.i4.s", "ldc.i4.s 300", "ldarg.s -1", "ldc.i4 x"} {
		_, err := Assemble(src)
		require.ErrorIs(t, err, ErrSyntax, src)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0x02, 0xFE})
	require.ErrorIs(t, err, ErrUnknownOpcode)

	_, err = Decode([]byte{byte(OpLdcI4), 1, 2})
	require.ErrorIs(t, err, ErrTruncated)

	code, err := Decode(nil)
	require.NoError(t, err)
	require.Empty(t, code)

	require.Contains(t, Disassemble([]byte{0xFE}), "unknown opcode")
}
