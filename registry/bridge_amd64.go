//go:build amd64

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

// callNative loads args into RDI, RSI, RDX, RCX, R8, R9, calls entry and
// returns RAX. Implemented in bridge_amd64.s.
//
//go:noescape
func callNative(entry uintptr, args *[MaxArgs]int64) int64

func invoke(entry uintptr, args *[MaxArgs]int64) (int64, error) {
	return callNative(entry, args), nil
}
