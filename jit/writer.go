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
	"encoding/binary"
	"encoding/hex"
)

// MaxCodeSize bounds the code a single method may compile to.
const MaxCodeSize = 64 * 1024

// Writer is the code emitter. Code goes into an ordinary growable buffer;
// only the registry ever copies it into executable memory.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Pos is the offset of the next emitted byte.
func (w *Writer) Pos() int {
	return len(w.buf)
}

// Bytes returns the emitted code (not a copy).
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

func (w *Writer) String() string {
	return hex.EncodeToString(w.buf)
}

func (w *Writer) reserve(n int) {
	if len(w.buf)+n > MaxCodeSize {
		panic("jit: code buffer overflow")
	}
}

// emitByte appends a single byte to the writer.
func (w *Writer) emitByte(b byte) {
	w.reserve(1)
	w.buf = append(w.buf, b)
}

// emitBytes appends raw bytes to the writer.
func (w *Writer) emitBytes(bs ...byte) {
	w.reserve(len(bs))
	w.buf = append(w.buf, bs...)
}

// emitU32 appends a little-endian uint32.
func (w *Writer) emitU32(v uint32) {
	w.reserve(4)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// emitU64 appends a little-endian uint64.
func (w *Writer) emitU64(v uint64) {
	w.reserve(8)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}
