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
	"fmt"

	"github.com/launix-de/memjit/meta"
)

/*
memjit compiler backends
------------------------
 - a backend is a pure function from a method (+ flags) to machine code
 - backends never touch executable memory; they hand out a NativeCodeBlob
   in ordinary memory and the registry installs it
 - the caller picks the backend, the registry does not care which one
   produced a blob
 - per-ISA encoding lives in the backend (amd64.go); another architecture
   is another backend, not a branch in this one
*/

// Compiler is the contract every backend satisfies.
type Compiler interface {
	Name() string
	// Compile returns Ok together with a blob, or a failure tag and nil.
	Compile(rt RuntimeInformation, method *meta.MethodDescriptor, flags CompilationFlags) (CompilationResult, *NativeCodeBlob)
}

// RuntimeInformation is the read-only metadata view a backend gets of the
// registry. Backends must accept nil.
type RuntimeInformation interface {
	GetClass(name string) (*meta.ClassDescriptor, error)
	GetMethod(class *meta.ClassDescriptor, name string) (*meta.MethodDescriptor, error)
}

// CompilationFlags toggles backend behaviour. No bits are defined yet.
type CompilationFlags uint32

const FlagsNone CompilationFlags = 0

// CompilationResult is the outcome tag of a compile call. The code itself
// is returned separately.
type CompilationResult uint8

const (
	Ok CompilationResult = iota
	UnsupportedBytecode
	MalformedBody
	BackendInternalError
)

var (
	ErrUnsupportedBytecode = errors.New("unsupported bytecode")
	ErrMalformedBody       = errors.New("malformed method body")
	ErrBackendInternal     = errors.New("backend internal error")
	ErrBlobConsumed        = errors.New("native code blob already consumed")
)

func (r CompilationResult) String() string {
	switch r {
	case Ok:
		return "Ok"
	case UnsupportedBytecode:
		return "UnsupportedBytecode"
	case MalformedBody:
		return "MalformedBody"
	case BackendInternalError:
		return "BackendInternalError"
	}
	return fmt.Sprintf("CompilationResult(%d)", uint8(r))
}

// Err maps a failure tag to its sentinel error; nil for Ok.
func (r CompilationResult) Err() error {
	switch r {
	case Ok:
		return nil
	case UnsupportedBytecode:
		return ErrUnsupportedBytecode
	case MalformedBody:
		return ErrMalformedBody
	}
	return ErrBackendInternal
}

// Backends lists the built-in backends.
func Backends() []Compiler {
	return []Compiler{Trivial{}, Arithmetic{}}
}

// Lookup finds a built-in backend by name.
func Lookup(name string) (Compiler, bool) {
	for _, c := range Backends() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// guard turns an emitter panic into BackendInternalError.
func guard(result *CompilationResult, blob **NativeCodeBlob) {
	if r := recover(); r != nil {
		*result = BackendInternalError
		*blob = nil
	}
}
