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
	"fmt"
	"sort"
	"sync"
)

/*

metadata providers

the hosting environment hands method metadata to the registry through a
Provider. A provider must implement:
 - check that a class exists
 - resolve a method of a class to its parameter count and bytecode body

providers in this package: Static (in memory), FileProvider (json file,
optionally xz compressed, reloadable) and SQLProvider (mysql/postgres)

*/

type Provider interface {
	ResolveClass(name string) error
	ResolveMethod(class string, name string) (MethodDef, error)
}

// MethodDef is the raw metadata a provider returns for a method.
type MethodDef struct {
	Params int
	Body   []byte
	Token  any // back-reference for the host, defaults to "Class::method"
}

// Static is an in-memory provider, safe for concurrent use.
type Static struct {
	mu      sync.RWMutex
	classes map[string]map[string]MethodDef
}

func NewStatic() *Static {
	return &Static{classes: make(map[string]map[string]MethodDef)}
}

// AddClass declares an (initially empty) class.
func (s *Static) AddClass(class string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[class]; !ok {
		s.classes[class] = make(map[string]MethodDef)
	}
	return s
}

// AddMethod declares a method, creating the class on demand.
func (s *Static) AddMethod(class string, name string, params int, body []byte) *Static {
	s.AddClass(class)
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, len(body))
	copy(b, body)
	s.classes[class][name] = MethodDef{Params: params, Body: b}
	return s
}

// AddIL declares a method from mnemonics; it panics on syntax errors.
func (s *Static) AddIL(class string, name string, params int, il string) *Static {
	return s.AddMethod(class, name, params, MustAssemble(il))
}

func (s *Static) ResolveClass(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.classes[name]; !ok {
		return fmt.Errorf("class %s: %w", name, ErrNotFound)
	}
	return nil
}

func (s *Static) ResolveMethod(class string, name string) (MethodDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	methods, ok := s.classes[class]
	if !ok {
		return MethodDef{}, fmt.Errorf("class %s: %w", class, ErrNotFound)
	}
	def, ok := methods[name]
	if !ok {
		return MethodDef{}, fmt.Errorf("method %s::%s: %w", class, name, ErrNotFound)
	}
	return def, nil
}

// Classes lists the declared class names in order.
func (s *Static) Classes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.classes))
	for name := range s.classes {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Methods lists the method names of a class in order.
func (s *Static) Methods(class string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.classes[class]))
	for name := range s.classes[class] {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}
