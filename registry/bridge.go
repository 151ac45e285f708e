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

import "fmt"

// Execute calls installed code with up to MaxArgs integer arguments and
// returns its integer result. Lookup is lock free; any number of
// goroutines may execute the same handle at once.
func (r *Registry) Execute(code InstalledRuntimeCode, args ...int64) (int64, error) {
	e, err := r.acquire(code.Handle)
	if err != nil {
		return 0, err
	}
	defer e.inflight.Add(-1)
	if len(args) > MaxArgs {
		return 0, fmt.Errorf("%w: %d arguments, at most %d fit in registers", ErrArityMismatch, len(args), MaxArgs)
	}
	if !r.settings.UncheckedArity && len(args) != e.code.Arity {
		return 0, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrArityMismatch, e.code.Handle, e.code.Arity, len(args))
	}
	var regs [MaxArgs]int64 // missing arguments are passed as 0
	copy(regs[:], args)
	r.executions.Add(1)
	e.calls.Add(1)
	return invoke(e.code.Entry, &regs)
}

// acquire pins a live entry against uninstall. The caller must decrement
// inflight when done.
func (r *Registry) acquire(h Handle) (*installed, error) {
	if e := r.live(h); e != nil {
		e.inflight.Add(1)
		if !e.dead.Load() {
			return e, nil
		}
		e.inflight.Add(-1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return nil, r.lookupErr(h)
}
