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

import "github.com/launix-de/memjit/meta"

// Trivial compiles only argument-less "nop* ret" bodies into a fixed
// frame that returns 0.
type Trivial struct{}

func (Trivial) Name() string {
	return "trivial"
}

func (t Trivial) Compile(rt RuntimeInformation, method *meta.MethodDescriptor, flags CompilationFlags) (result CompilationResult, blob *NativeCodeBlob) {
	defer guard(&result, &blob)
	if method == nil || method.BodyLen() == 0 {
		return MalformedBody, nil
	}
	if method.Arity() != 0 {
		return UnsupportedBytecode, nil
	}
	code, err := method.Decode()
	if err != nil {
		return UnsupportedBytecode, nil
	}
	last := len(code) - 1
	for i, ins := range code {
		if (i < last && ins.Op == meta.OpNop) || (i == last && ins.Op == meta.OpRet) {
			continue
		}
		return UnsupportedBytecode, nil
	}
	w := NewWriter()
	w.EmitPrologue()
	w.emitXorReg(RegRAX)
	w.EmitEpilogue()
	w.EmitRet()
	return Ok, NewBlobFor(ArchAMD64, t.Name(), 0, w.Bytes())
}
