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
	"encoding/hex"
	"sync/atomic"
)

// ArchAMD64 is the only ISA the built-in backends emit.
const ArchAMD64 = "amd64"

// NativeCodeBlob is freshly generated machine code in ordinary (never
// executable) memory. It is consumed exactly once by an install.
type NativeCodeBlob struct {
	code     []byte
	arch     string
	arity    int
	backend  string
	consumed atomic.Bool
}

// NewBlob wraps hand-authored amd64 code expecting arity integer args.
func NewBlob(code []byte, arity int) *NativeCodeBlob {
	return NewBlobFor(ArchAMD64, "manual", arity, code)
}

// NewBlobFor wraps code for an explicit arch and backend, e.g. when code
// is restored from a cache.
func NewBlobFor(arch string, backend string, arity int, code []byte) *NativeCodeBlob {
	c := make([]byte, len(code))
	copy(c, code)
	return &NativeCodeBlob{code: c, arch: arch, arity: arity, backend: backend}
}

func (b *NativeCodeBlob) Len() int {
	return len(b.code)
}

func (b *NativeCodeBlob) Arch() string {
	return b.arch
}

// Arity is the number of integer arguments the code reads.
func (b *NativeCodeBlob) Arity() int {
	return b.arity
}

func (b *NativeCodeBlob) Backend() string {
	return b.backend
}

// Bytes returns a copy of the code, consumed or not.
func (b *NativeCodeBlob) Bytes() []byte {
	c := make([]byte, len(b.code))
	copy(c, b.code)
	return c
}

func (b *NativeCodeBlob) Consumed() bool {
	return b.consumed.Load()
}

// Consume hands the code to the installer. Only the first call succeeds.
func (b *NativeCodeBlob) Consume() ([]byte, error) {
	if !b.consumed.CompareAndSwap(false, true) {
		return nil, ErrBlobConsumed
	}
	return b.code, nil
}

func (b *NativeCodeBlob) String() string {
	return hex.EncodeToString(b.code)
}
