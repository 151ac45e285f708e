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
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated operand")
	ErrSyntax        = errors.New("bytecode syntax error")
)

// Instruction is one decoded opcode. Arg carries the argument index for
// KindLoadArg and the constant for KindLoadConst.
type Instruction struct {
	Offset int
	Op     Opcode
	Arg    int64
}

func (i Instruction) Kind() Kind {
	return i.Op.Kind()
}

func (i Instruction) String() string {
	switch i.Op {
	case OpLdargS, OpLdcI4S, OpLdcI4:
		return i.Op.String() + " " + strconv.FormatInt(i.Arg, 10)
	}
	return i.Op.String()
}

// Decode splits a body into instructions. Unknown opcodes and operands
// running past the end of the body are errors.
func Decode(body []byte) ([]Instruction, error) {
	result := make([]Instruction, 0, len(body))
	for pc := 0; pc < len(body); {
		op := Opcode(body[pc])
		info, ok := opTable[op]
		if !ok {
			return nil, fmt.Errorf("%w 0x%02x at offset %d", ErrUnknownOpcode, byte(op), pc)
		}
		if pc+1+int(info.operand) > len(body) {
			return nil, fmt.Errorf("%w: %s at offset %d", ErrTruncated, info.name, pc)
		}
		ins := Instruction{Offset: pc, Op: op, Arg: info.value}
		operand := body[pc+1 : pc+1+int(info.operand)]
		switch op {
		case OpLdargS:
			ins.Arg = int64(operand[0])
		case OpLdcI4S:
			ins.Arg = int64(int8(operand[0]))
		case OpLdcI4:
			ins.Arg = int64(int32(binary.LittleEndian.Uint32(operand)))
		}
		result = append(result, ins)
		pc += 1 + int(info.operand)
	}
	return result, nil
}

// Assemble translates mnemonics ("ldarg.0 ldarg.1 add ret") into a body.
// Instructions are separated by whitespace, ';' or newlines; '#' starts
// a comment. ldarg.s, ldc.i4.s and ldc.i4 take a decimal or 0x operand.
func Assemble(text string) ([]byte, error) {
	var body []byte
	for _, line := range strings.Split(text, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ';' || r == ',' || r == '\r'
		})
		for i := 0; i < len(fields); i++ {
			name := strings.ToLower(fields[i])
			op, ok := mnemonics[name]
			if !ok {
				return nil, fmt.Errorf("%w: unknown mnemonic %q", ErrSyntax, fields[i])
			}
			body = append(body, byte(op))
			size := opTable[op].operand
			if size == 0 {
				continue
			}
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("%w: %s needs an operand", ErrSyntax, name)
			}
			i++
			v, err := strconv.ParseInt(fields[i], 0, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s operand %q", ErrSyntax, name, fields[i])
			}
			switch op {
			case OpLdargS:
				if v < 0 || v > math.MaxUint8 {
					return nil, fmt.Errorf("%w: argument index %d out of range", ErrSyntax, v)
				}
				body = append(body, byte(v))
			case OpLdcI4S:
				if v < math.MinInt8 || v > math.MaxInt8 {
					return nil, fmt.Errorf("%w: ldc.i4.s immediate %d out of range", ErrSyntax, v)
				}
				body = append(body, byte(int8(v)))
			case OpLdcI4:
				if v < math.MinInt32 || v > math.MaxInt32 {
					return nil, fmt.Errorf("%w: ldc.i4 immediate %d out of range", ErrSyntax, v)
				}
				body = binary.LittleEndian.AppendUint32(body, uint32(int32(v)))
			}
		}
	}
	return body, nil
}

// MustAssemble is Assemble for literals in code and tests.
func MustAssemble(text string) []byte {
	body, err := Assemble(text)
	if err != nil {
		panic(err)
	}
	return body
}

// Disassemble renders a body as mnemonics; undecodable bodies render the
// decoder error instead.
func Disassemble(body []byte) string {
	code, err := Decode(body)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	parts := make([]string, len(code))
	for i, ins := range code {
		parts[i] = ins.String()
	}
	return strings.Join(parts, " ")
}
