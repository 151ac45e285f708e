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
package jit

import (
	"errors"

	"github.com/launix-de/memjit/meta"
)

// Arithmetic compiles straight-line integer arithmetic over the method
// arguments: nop, ldarg*, ldc.i4*, add, sub, mul and a final ret. All
// values are 64 bit and wrap on overflow.
type Arithmetic struct{}

func (Arithmetic) Name() string {
	return "arithmetic"
}

func (a Arithmetic) Compile(rt RuntimeInformation, method *meta.MethodDescriptor, flags CompilationFlags) (result CompilationResult, blob *NativeCodeBlob) {
	defer guard(&result, &blob)
	if method == nil || method.BodyLen() == 0 {
		return MalformedBody, nil
	}
	code, err := method.Decode()
	if err != nil {
		if errors.Is(err, meta.ErrUnknownOpcode) {
			return UnsupportedBytecode, nil
		}
		return MalformedBody, nil
	}
	w := NewWriter()
	if result := emitArithmetic(w, code, method.Arity()); result != Ok {
		return result, nil
	}
	return Ok, NewBlobFor(ArchAMD64, a.Name(), method.Arity(), w.Bytes())
}

func emitArithmetic(w *Writer, code []meta.Instruction, arity int) CompilationResult {
	if arity > MaxArgs {
		return UnsupportedBytecode
	}
	ctx := newEmitContext(w)
	for i, ins := range code {
		switch ins.Kind() {
		case meta.KindNop:
		case meta.KindLoadArg:
			idx := int(ins.Arg)
			if idx >= MaxArgs {
				return UnsupportedBytecode
			}
			if idx >= arity {
				return MalformedBody
			}
			ctx.push(ValueDesc{Loc: LocArg, Reg: ArgRegs[idx]})
		case meta.KindLoadConst:
			ctx.push(ValueDesc{Loc: LocImm, Imm: ins.Arg})
		case meta.KindBinary:
			if len(ctx.Stack) < 2 {
				return MalformedBody
			}
			right := ctx.pop()
			left := ctx.pop()
			d, ok := ctx.EmitBinary(ins.Op, left, right)
			if !ok {
				return UnsupportedBytecode
			}
			ctx.push(d)
		case meta.KindReturn:
			if i != len(code)-1 {
				return UnsupportedBytecode
			}
			switch len(ctx.Stack) {
			case 0:
				w.emitXorReg(RegRAX)
			case 1:
				ctx.EmitMovToReg(RegRAX, ctx.Stack[0])
			default:
				return MalformedBody
			}
			w.EmitRet()
			return Ok
		default:
			return UnsupportedBytecode
		}
	}
	return MalformedBody // no ret
}

func fold(op meta.Opcode, a, b int64) int64 {
	switch op {
	case meta.OpAdd:
		return a + b
	case meta.OpSub:
		return a - b
	case meta.OpMul:
		return a * b
	}
	panic("jit: fold of non-binary opcode " + op.String())
}

// EmitBinary combines two operands into a scratch register. Two constants
// fold without emitting code. ok is false when no scratch register is left.
func (ctx *emitContext) EmitBinary(op meta.Opcode, left, right ValueDesc) (ValueDesc, bool) {
	if left.Loc == LocImm && right.Loc == LocImm {
		return ValueDesc{Loc: LocImm, Imm: fold(op, left.Imm, right.Imm)}, true
	}
	if op != meta.OpSub && (left.Loc == LocImm || (left.Loc == LocArg && right.Loc == LocReg)) {
		left, right = right, left
	}

	var dst Reg
	if left.Loc == LocReg {
		dst = left.Reg
	} else {
		var ok bool
		if dst, ok = ctx.AllocReg(); !ok {
			return ValueDesc{}, false
		}
		if op == meta.OpMul && left.inReg() && right.Loc == LocImm && fitsInt32(right.Imm) {
			ctx.W.EmitImulInt64Imm32(dst, left.Reg, int32(right.Imm))
			return ValueDesc{Loc: LocReg, Reg: dst}, true
		}
		ctx.EmitMovToReg(dst, left)
	}

	switch {
	case right.inReg():
		ctx.emitOpRegReg(op, dst, right.Reg)
	case fitsInt32(right.Imm):
		imm := int32(right.Imm)
		switch op {
		case meta.OpAdd:
			ctx.W.emitAluRegImm32(extAdd, dst, imm)
		case meta.OpSub:
			ctx.W.emitAluRegImm32(extSub, dst, imm)
		case meta.OpMul:
			ctx.W.EmitImulInt64Imm32(dst, dst, imm)
		}
	default:
		tmp, ok := ctx.AllocReg()
		if !ok {
			return ValueDesc{}, false
		}
		ctx.W.EmitMovRegImm64(tmp, right.Imm)
		ctx.emitOpRegReg(op, dst, tmp)
		ctx.FreeReg(tmp)
	}
	ctx.FreeDesc(&right)
	return ValueDesc{Loc: LocReg, Reg: dst}, true
}

func (ctx *emitContext) emitOpRegReg(op meta.Opcode, dst, src Reg) {
	switch op {
	case meta.OpAdd:
		ctx.W.EmitAddInt64(dst, src)
	case meta.OpSub:
		ctx.W.EmitSubInt64(dst, src)
	case meta.OpMul:
		ctx.W.EmitImulInt64(dst, src)
	}
}
