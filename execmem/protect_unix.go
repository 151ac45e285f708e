//go:build unix

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
package execmem

import "golang.org/x/sys/unix"

func protect(b []byte, exec bool) error {
	if exec {
		return unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC)
	}
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}
