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
package registry

import (
	"fmt"
	"runtime/debug"

	"github.com/hashicorp/go-multierror"
	"github.com/jtolds/gls"
	"github.com/launix-de/memjit/jit"
	"github.com/launix-de/memjit/meta"
)

type precompiled struct {
	i    int
	code InstalledRuntimeCode
	err  error
}

// Precompile compiles and installs a batch of methods in parallel. It
// returns the installs that succeeded, in input order, and all failures
// combined.
func (r *Registry) Precompile(compiler jit.Compiler, methods []*meta.MethodDescriptor, flags jit.CompilationFlags) ([]InstalledRuntimeCode, error) {
	done := make(chan precompiled, len(methods))
	for i, m := range methods {
		gls.Go(func(i int, m *meta.MethodDescriptor) func() {
			return func() {
				defer func() {
					if p := recover(); p != nil {
						done <- precompiled{i: i, err: fmt.Errorf("%s: panic %v\n%s", m, p, debug.Stack())}
					}
				}()
				result, blob := r.Compile(compiler, m, flags)
				if result != jit.Ok {
					done <- precompiled{i: i, err: fmt.Errorf("%s: %w", m, result.Err())}
					return
				}
				code, err := r.Install(result, m, blob)
				if err != nil {
					err = fmt.Errorf("%s: %w", m, err)
				}
				done <- precompiled{i: i, code: code, err: err}
			}
		}(i, m))
	}
	codes := make([]InstalledRuntimeCode, len(methods))
	ok := make([]bool, len(methods))
	var errs error
	for range methods {
		p := <-done // collect finish signal before return
		if p.err != nil {
			errs = multierror.Append(errs, p.err)
			continue
		}
		codes[p.i] = p.code
		ok[p.i] = true
	}
	result := codes[:0]
	for i := range codes {
		if ok[i] {
			result = append(result, codes[i])
		}
	}
	return result, errs
}
