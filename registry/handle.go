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
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/launix-de/memjit/execmem"
	"github.com/launix-de/memjit/meta"
)

// Handle identifies one install. index is a slot in the registry's arena,
// gen counts how often that slot has been used, so a handle can never
// alias a later install.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h was never issued by any registry.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return strconv.FormatUint(uint64(h.index), 10) + "." + strconv.FormatUint(uint64(h.gen), 10)
}

// ParseHandle parses the "<index>.<generation>" form of Handle.String.
func ParseHandle(s string) (Handle, error) {
	idx, gen, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Handle{}, fmt.Errorf("invalid handle %q", s)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil || g == 0 {
		return Handle{}, fmt.Errorf("invalid handle %q", s)
	}
	return Handle{index: uint32(i), gen: uint32(g)}, nil
}

// InstalledRuntimeCode is what Install hands out. It is a plain value;
// copies refer to the same install.
type InstalledRuntimeCode struct {
	Handle  Handle
	Method  *meta.MethodDescriptor
	Arity   int     // argument count the code expects
	Entry   uintptr // start of the code, for diagnostics only
	Size    int
	Backend string
}

func (c InstalledRuntimeCode) String() string {
	name := "<nil>"
	if c.Method != nil {
		name = c.Method.FullName()
	}
	return fmt.Sprintf("%s %s/%d @%#x (%d bytes, %s)", c.Handle, name, c.Arity, c.Entry, c.Size, c.Backend)
}

// installed is the live state behind a handle.
type installed struct {
	code   InstalledRuntimeCode
	region *execmem.Region

	inflight atomic.Int64
	dead     atomic.Bool
	calls    atomic.Uint64
}

// slot is one handle table element; gen is the generation it was
// published for.
type slot struct {
	gen   uint32
	entry *installed
}
