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

import "math"

// Reg is a hardware register index in encoding order.
type Reg uint8

const (
	RegRAX Reg = 0
	RegRCX Reg = 1
	RegRDX Reg = 2
	RegRBX Reg = 3
	RegRSP Reg = 4
	RegRBP Reg = 5
	RegRSI Reg = 6
	RegRDI Reg = 7
	RegR8  Reg = 8
	RegR9  Reg = 9
	RegR10 Reg = 10
	RegR11 Reg = 11
	RegR12 Reg = 12
	RegR13 Reg = 13
	RegR14 Reg = 14
	RegR15 Reg = 15
)

var regNames = [16]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return "r?"
}

// System V AMD64: integer args in RDI, RSI, RDX, RCX, R8, R9, result in RAX.
var ArgRegs = [...]Reg{RegRDI, RegRSI, RegRDX, RegRCX, RegR8, RegR9}

// MaxArgs is the number of register-passed integer arguments.
const MaxArgs = len(ArgRegs)

// scratchRegs are caller-saved and never carry arguments.
const scratchRegs uint32 = 1<<RegRAX | 1<<RegR10 | 1<<RegR11

// ALU opcodes (r/m64, r64 form) and their /digit in the 0x81 imm32 form
const (
	aluAdd byte = 0x01
	aluSub byte = 0x29

	extAdd byte = 0
	extSub byte = 5
)

func rexW(reg, rm Reg) byte {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x04 // REX.R
	}
	if rm >= 8 {
		rex |= 0x01 // REX.B
	}
	return rex
}

func modrmReg(reg, rm Reg) byte {
	return 0xC0 | (byte(reg&7) << 3) | byte(rm&7)
}

func fitsInt32(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

// emitMovRegReg emits MOV dst, src (64-bit GPR to GPR)
func (w *Writer) emitMovRegReg(dst, src Reg) {
	w.emitBytes(rexW(src, dst), 0x89, modrmReg(src, dst)) // MOV r/m64, r64
}

// EmitMovRegImm64 loads a constant, picking the sign-extended imm32 form when it fits.
func (w *Writer) EmitMovRegImm64(dst Reg, imm int64) {
	if fitsInt32(imm) {
		w.emitBytes(rexW(0, dst), 0xC7, modrmReg(0, dst)) // MOV r/m64, imm32
		w.emitU32(uint32(int32(imm)))
		return
	}
	w.emitBytes(rexW(0, dst), 0xB8|byte(dst&7)) // MOV r64, imm64
	w.emitU64(uint64(imm))
}

// emitXorReg emits XOR r32, r32 (zeros 64-bit register via 32-bit op)
func (w *Writer) emitXorReg(r Reg) {
	if r >= 8 {
		w.emitBytes(0x45, 0x31, modrmReg(r, r))
	} else {
		w.emitBytes(0x31, modrmReg(r, r))
	}
}

// emitAluRegReg emits a REX.W ALU op: <opcode> r/m64, r64
func (w *Writer) emitAluRegReg(opcode byte, dst, src Reg) {
	w.emitBytes(rexW(src, dst), opcode, modrmReg(src, dst))
}

// emitAluRegImm32 emits a REX.W 0x81 /ext op with sign-extended imm32
func (w *Writer) emitAluRegImm32(ext byte, dst Reg, imm int32) {
	w.emitBytes(rexW(0, dst), 0x81, modrmReg(Reg(ext), dst))
	w.emitU32(uint32(imm))
}

// EmitAddInt64 emits: ADD dst, src
func (w *Writer) EmitAddInt64(dst, src Reg) {
	w.emitAluRegReg(aluAdd, dst, src)
}

// EmitSubInt64 emits: SUB dst, src
func (w *Writer) EmitSubInt64(dst, src Reg) {
	w.emitAluRegReg(aluSub, dst, src)
}

// EmitImulInt64 emits: IMUL dst, src (REX.W 0F AF /r, dst in the reg field)
func (w *Writer) EmitImulInt64(dst, src Reg) {
	w.emitBytes(rexW(dst, src), 0x0F, 0xAF, modrmReg(dst, src))
}

// EmitImulInt64Imm32 emits: IMUL dst, src, imm32 (REX.W 69 /r id)
func (w *Writer) EmitImulInt64Imm32(dst, src Reg, imm int32) {
	w.emitBytes(rexW(dst, src), 0x69, modrmReg(dst, src))
	w.emitU32(uint32(imm))
}

// EmitPrologue emits PUSH RBP; MOV RBP, RSP
func (w *Writer) EmitPrologue() {
	w.emitBytes(0x55, 0x48, 0x89, 0xE5)
}

// EmitEpilogue emits POP RBP
func (w *Writer) EmitEpilogue() {
	w.emitByte(0x5D)
}

// EmitRet emits RET
func (w *Writer) EmitRet() {
	w.emitByte(0xC3)
}
