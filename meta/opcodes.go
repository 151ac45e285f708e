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

/*
bytecode
--------
method bodies use a small subset of the CIL instruction set: one opcode
byte, followed by little-endian operands. Only integer loads, the three
integer ALU ops and ret are defined; everything else is rejected by the
decoder so the backends never see it.
*/

// Opcode is a single bytecode instruction byte.
type Opcode byte

const (
	OpNop     Opcode = 0x00
	OpLdarg0  Opcode = 0x02
	OpLdarg1  Opcode = 0x03
	OpLdarg2  Opcode = 0x04
	OpLdarg3  Opcode = 0x05
	OpLdargS  Opcode = 0x0E // u8 index
	OpLdcI4M1 Opcode = 0x15
	OpLdcI40  Opcode = 0x16 // ldc.i4.0 .. ldc.i4.8 are 0x16 .. 0x1E
	OpLdcI48  Opcode = 0x1E
	OpLdcI4S  Opcode = 0x1F // i8 immediate
	OpLdcI4   Opcode = 0x20 // i32 immediate
	OpRet     Opcode = 0x2A
	OpAdd     Opcode = 0x58
	OpSub     Opcode = 0x59
	OpMul     Opcode = 0x5A
)

// Kind groups opcodes by their effect on the evaluation stack.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNop
	KindLoadArg   // pushes argument Instruction.Arg
	KindLoadConst // pushes constant Instruction.Arg
	KindBinary    // pops two, pushes one
	KindReturn
)

type opInfo struct {
	name    string
	kind    Kind
	operand uint8 // operand size in bytes
	value   int64 // implicit argument index or constant
}

var opTable = map[Opcode]opInfo{
	OpNop:     {"nop", KindNop, 0, 0},
	OpLdarg0:  {"ldarg.0", KindLoadArg, 0, 0},
	OpLdarg1:  {"ldarg.1", KindLoadArg, 0, 1},
	OpLdarg2:  {"ldarg.2", KindLoadArg, 0, 2},
	OpLdarg3:  {"ldarg.3", KindLoadArg, 0, 3},
	OpLdargS:  {"ldarg.s", KindLoadArg, 1, 0},
	OpLdcI4M1: {"ldc.i4.m1", KindLoadConst, 0, -1},
	OpLdcI4S:  {"ldc.i4.s", KindLoadConst, 1, 0},
	OpLdcI4:   {"ldc.i4", KindLoadConst, 4, 0},
	OpRet:     {"ret", KindReturn, 0, 0},
	OpAdd:     {"add", KindBinary, 0, 0},
	OpSub:     {"sub", KindBinary, 0, 0},
	OpMul:     {"mul", KindBinary, 0, 0},
}

var mnemonics map[string]Opcode

func init() {
	for i := int64(0); i <= 8; i++ {
		op := OpLdcI40 + Opcode(i)
		opTable[op] = opInfo{"ldc.i4." + string(rune('0'+i)), KindLoadConst, 0, i}
	}
	mnemonics = make(map[string]Opcode, len(opTable))
	for op, info := range opTable {
		mnemonics[info.name] = op
	}
}

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return "invalid"
}

// Kind reports the stack class of op; KindInvalid for unknown bytes.
func (op Opcode) Kind() Kind {
	return opTable[op].kind
}
