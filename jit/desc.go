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
	"fmt"
	"math/bits"
)

/*
Value descriptors
=================

The arithmetic backend never emits code for loads. Every value on the
evaluation stack is described by where it lives:

  - LocArg: still in its System V argument register. Read-only; the
            register must never be clobbered because later loads of the
            same argument refer to it again.
  - LocImm: compile-time constant. Binary ops on two LocImm fold.
  - LocReg: in a scratch register owned by this value.

Only binary ops materialize values, always into a scratch register. The
descriptor owning a scratch register is responsible for freeing it.
*/

// Loc describes where a value resides during compilation.
type Loc uint8

const (
	LocNone Loc = iota
	LocArg
	LocReg
	LocImm
)

// ValueDesc describes one evaluation stack slot.
type ValueDesc struct {
	Loc Loc
	Reg Reg   // LocArg, LocReg
	Imm int64 // LocImm
}

func (d ValueDesc) String() string {
	switch d.Loc {
	case LocArg:
		return "arg:" + d.Reg.String()
	case LocReg:
		return "reg:" + d.Reg.String()
	case LocImm:
		return fmt.Sprintf("imm:%d", d.Imm)
	}
	return "none"
}

// inReg reports whether the value can be used as a register operand.
func (d ValueDesc) inReg() bool {
	return d.Loc == LocArg || d.Loc == LocReg
}

// emitContext is the state of one compilation.
type emitContext struct {
	W        *Writer
	FreeRegs uint32
	Stack    []ValueDesc
}

func newEmitContext(w *Writer) *emitContext {
	return &emitContext{W: w, FreeRegs: scratchRegs}
}

// AllocReg picks the lowest free scratch register; ok is false when the
// pool is exhausted.
func (ctx *emitContext) AllocReg() (Reg, bool) {
	if ctx.FreeRegs == 0 {
		return 0, false
	}
	r := Reg(bits.TrailingZeros32(ctx.FreeRegs))
	ctx.FreeRegs &^= 1 << r
	return r, true
}

// FreeReg returns a register to the free pool.
func (ctx *emitContext) FreeReg(r Reg) {
	if scratchRegs&(1<<r) == 0 {
		panic("jit: freeing a non-scratch register")
	}
	ctx.FreeRegs |= 1 << r
}

// FreeDesc releases any register held by a value descriptor.
func (ctx *emitContext) FreeDesc(desc *ValueDesc) {
	if desc.Loc == LocReg {
		ctx.FreeReg(desc.Reg)
	}
	desc.Loc = LocNone
}

func (ctx *emitContext) push(d ValueDesc) {
	ctx.Stack = append(ctx.Stack, d)
}

func (ctx *emitContext) pop() ValueDesc {
	d := ctx.Stack[len(ctx.Stack)-1]
	ctx.Stack = ctx.Stack[:len(ctx.Stack)-1]
	return d
}

// EmitMovToReg materializes src into dst.
func (ctx *emitContext) EmitMovToReg(dst Reg, src ValueDesc) {
	switch src.Loc {
	case LocImm:
		if src.Imm == 0 {
			ctx.W.emitXorReg(dst)
		} else {
			ctx.W.EmitMovRegImm64(dst, src.Imm)
		}
	case LocArg, LocReg:
		if src.Reg != dst {
			ctx.W.emitMovRegReg(dst, src.Reg)
		}
	default:
		panic("jit: materializing an empty descriptor")
	}
}
