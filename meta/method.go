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
	"errors"

	"github.com/zeebo/xxh3"
)

// MinRealBody is the diagnostic lower bound for methods with real code:
// anything of this length or shorter is at most a bare ret.
const MinRealBody = 2

var (
	ErrNotFound  = errors.New("not found")
	ErrEmptyBody = errors.New("method has an empty body")
)

// ClassDescriptor names a declaring type and resolves its members
// through the provider it was created from.
type ClassDescriptor struct {
	name     string
	provider Provider
}

// NewClass is used by the registry when a class is first resolved.
func NewClass(name string, provider Provider) *ClassDescriptor {
	return &ClassDescriptor{name: name, provider: provider}
}

func (c *ClassDescriptor) Name() string {
	return c.name
}

// GetMethod resolves a member method. Every call builds a fresh
// descriptor; the registry is the one that caches.
func (c *ClassDescriptor) GetMethod(name string) (*MethodDescriptor, error) {
	if c.provider == nil {
		return nil, ErrNotFound
	}
	def, err := c.provider.ResolveMethod(c.name, name)
	if err != nil {
		return nil, err
	}
	token := def.Token
	if token == nil {
		token = c.name + "::" + name
	}
	return NewMethod(c, name, def.Params, def.Body, token)
}

// GetKey implements NonLockingReadMap.KeyGetter
func (c ClassDescriptor) GetKey() string {
	return c.name
}

// ComputeSize implements NonLockingReadMap.Sizable
func (c ClassDescriptor) ComputeSize() uint {
	return 32 + uint(len(c.name))
}

// MethodDescriptor identifies a compilable method. It is immutable after
// construction and may be shared between goroutines freely.
type MethodDescriptor struct {
	name     string
	class    *ClassDescriptor
	body     []byte
	arity    int
	bodyHash uint64
	token    any
}

// NewMethod builds a descriptor for a method with a body; class may be nil.
func NewMethod(class *ClassDescriptor, name string, arity int, body []byte, token any) (*MethodDescriptor, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	if arity < 0 {
		arity = 0
	}
	return newMethod(class, name, arity, body, token), nil
}

// NewSyntheticMethod builds a bootstrap descriptor straight from an opcode
// sequence. The arity is inferred from the highest ldarg in the body.
// Empty bodies are accepted so that compilers can reject them.
func NewSyntheticMethod(name string, body []byte) *MethodDescriptor {
	return newMethod(nil, name, InferArity(body), body, nil)
}

func newMethod(class *ClassDescriptor, name string, arity int, body []byte, token any) *MethodDescriptor {
	b := make([]byte, len(body))
	copy(b, body)
	return &MethodDescriptor{
		name:     name,
		class:    class,
		body:     b,
		arity:    arity,
		bodyHash: xxh3.Hash(b),
		token:    token,
	}
}

// InferArity returns 1 + the highest argument index loaded by body, 0 if
// body loads no arguments or does not decode.
func InferArity(body []byte) int {
	code, err := Decode(body)
	if err != nil {
		return 0
	}
	arity := 0
	for _, ins := range code {
		if ins.Kind() == KindLoadArg && int(ins.Arg)+1 > arity {
			arity = int(ins.Arg) + 1
		}
	}
	return arity
}

func (m *MethodDescriptor) Name() string {
	return m.name
}

// Class is nil for synthetic methods.
func (m *MethodDescriptor) Class() *ClassDescriptor {
	return m.class
}

// FullName is "Class::method" or just the name for synthetic methods.
func (m *MethodDescriptor) FullName() string {
	if m.class == nil {
		return m.name
	}
	return m.class.name + "::" + m.name
}

// Body returns a copy of the bytecode.
func (m *MethodDescriptor) Body() []byte {
	b := make([]byte, len(m.body))
	copy(b, m.body)
	return b
}

func (m *MethodDescriptor) BodyLen() int {
	return len(m.body)
}

// Decode decodes the body without copying it.
func (m *MethodDescriptor) Decode() ([]Instruction, error) {
	return Decode(m.body)
}

// Arity is the declared parameter count.
func (m *MethodDescriptor) Arity() int {
	return m.arity
}

// BodyHash is the xxh3 hash of the body, used to key cached native code.
func (m *MethodDescriptor) BodyHash() uint64 {
	return m.bodyHash
}

// Token is the opaque back-reference the hosting environment attached.
func (m *MethodDescriptor) Token() any {
	return m.token
}

// HasRealBody reports whether the body is longer than MinRealBody.
func (m *MethodDescriptor) HasRealBody() bool {
	return len(m.body) > MinRealBody
}

func (m *MethodDescriptor) String() string {
	return m.FullName()
}
