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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const sampleMetadata = `{"classes": {
	"Calc": {"methods": {
		"Add2": {"params": 2, "il": "ldarg.0 ldarg.1 add ret"},
		"Add3": {"il": "ldarg.0 ldarg.1 add ldarg.2 add ret"},
		"Nop":  {"body": "2a"}
	}}
}}`

func TestParseMetadata(t *testing.T) {
	s, err := ParseMetadata(strings.NewReader(sampleMetadata))
	require.NoError(t, err)

	def, err := s.ResolveMethod("Calc", "Add3")
	require.NoError(t, err)
	require.Equal(t, 3, def.Params)

	def, err = s.ResolveMethod("Calc", "Nop")
	require.NoError(t, err)
	require.Equal(t, []byte{byte(OpRet)}, def.Body)

	_, err = ParseMetadata(strings.NewReader(`{"classes": {"X": {"methods": {"m": {}}}}}`))
	require.ErrorIs(t, err, ErrEmptyBody)
}

func TestFileProviderXZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json.xz")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := xz.NewWriter(f)
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleMetadata))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	p, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, p.ResolveClass("Calc"))
	def, err := p.ResolveMethod("Calc", "Add2")
	require.NoError(t, err)
	require.Equal(t, 2, def.Params)
}

func TestFileProviderWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleMetadata), 0640))

	p, err := OpenFile(path)
	require.NoError(t, err)
	defer p.Close()

	reloaded := make(chan struct{}, 8)
	require.NoError(t, p.Watch(func() { reloaded <- struct{}{} }))

	_, err = p.ResolveMethod("Calc", "Sub")
	require.ErrorIs(t, err, ErrNotFound)

	updated := strings.Replace(sampleMetadata, `"Nop":`, `"Sub": {"il": "ldarg.0 ldarg.1 sub ret"}, "Nop":`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0640))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
	def, err := p.ResolveMethod("Calc", "Sub")
	require.NoError(t, err)
	require.Equal(t, 2, def.Params)
}

func TestFileProviderKeepsSnapshotOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleMetadata), 0640))
	p, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0640))
	require.Error(t, p.Reload())
	require.NoError(t, p.ResolveClass("Calc"))
}
