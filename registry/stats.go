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

	units "github.com/docker/go-units"
	"github.com/launix-de/memjit/execmem"
)

type Stats struct {
	ID          string
	Installed   int
	Installs    uint64
	Uninstalls  uint64
	Executions  uint64
	CacheHits   uint64
	CacheMisses uint64
	Pool        execmem.Stats
}

func (r *Registry) Stats() Stats {
	return Stats{
		ID:          r.id.String(),
		Installed:   len(r.Installed(nil)),
		Installs:    r.installs.Load(),
		Uninstalls:  r.uninstalls.Load(),
		Executions:  r.executions.Load(),
		CacheHits:   r.cacheHits.Load(),
		CacheMisses: r.cacheMisses.Load(),
		Pool:        r.pool.Stats(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("installed %d (%d installs, %d uninstalls), %d executions, cache %d/%d hits, pool %s mapped in %d chunks, %s executable, %s free in %d spans",
		s.Installed, s.Installs, s.Uninstalls, s.Executions,
		s.CacheHits, s.CacheHits+s.CacheMisses,
		units.BytesSize(float64(s.Pool.MappedBytes)), s.Pool.Chunks,
		units.BytesSize(float64(s.Pool.ExecutableBytes)),
		units.BytesSize(float64(s.Pool.FreeBytes)), s.Pool.FreeSpans)
}
