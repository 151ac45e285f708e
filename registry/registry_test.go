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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/launix-de/memjit/jit"
	"github.com/launix-de/memjit/meta"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func calcProvider() *meta.Static {
	return meta.NewStatic().
		AddIL("Calc", "Add2", 2, "ldarg.0 ldarg.1 add ret").
		AddIL("Calc", "Add3", 3, "ldarg.0 ldarg.1 add ldarg.2 add ret").
		AddIL("Calc", "Nop", 0, "ret").
		AddIL("Calc", "Padded", 0, "nop nop ret").
		AddIL("Calc", "Poly", 1, "ldarg.0 ldarg.0 mul ldc.i4.3 ldarg.0 mul add ldc.i4.s -7 sub ret").
		AddIL("Calc", "Bad", 0, "add ret")
}

func newRegistry(t *testing.T, settings Settings) *Registry {
	t.Helper()
	r, err := New(calcProvider(), settings)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func lookup(t *testing.T, r *Registry, class string, method string) *meta.MethodDescriptor {
	t.Helper()
	m, err := r.Lookup(class, method)
	require.NoError(t, err)
	return m
}

func TestSettings(t *testing.T) {
	s := DefaultSettings()
	n, err := s.ChunkBytes()
	require.NoError(t, err)
	require.Equal(t, 64*1024, n)

	s.ChunkSize = "1MiB"
	n, err = s.ChunkBytes()
	require.NoError(t, err)
	require.Equal(t, 1024*1024, n)

	s.ChunkSize = "lots"
	_, err = s.ChunkBytes()
	require.Error(t, err)
	_, err = New(nil, s)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "settings.json")
	s = DefaultSettings()
	s.UncheckedArity = true
	s.Cache = CacheSettings{Backend: "files", Path: "/tmp/memjit"}
	require.NoError(t, s.Save(path))
	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	require.Equal(t, s, loaded)

	require.NoError(t, os.WriteFile(path, []byte(`{"trace": true}`), 0644))
	loaded, err = LoadSettings(path)
	require.NoError(t, err)
	require.True(t, loaded.Trace)
	require.Equal(t, "64KiB", loaded.ChunkSize)

	bad := DefaultSettings()
	bad.Cache.Backend = "ceph"
	_, err = New(nil, bad)
	require.Error(t, err)
	bad.Cache.Backend = "files"
	_, err = New(nil, bad)
	require.Error(t, err)
}

func TestParseHandle(t *testing.T) {
	h, err := ParseHandle("3.7")
	require.NoError(t, err)
	require.Equal(t, Handle{index: 3, gen: 7}, h)
	require.Equal(t, "3.7", h.String())
	require.False(t, h.IsZero())
	require.True(t, Handle{}.IsZero())

	for _, s := range []string{"", "3", "3.0", "a.1", "1.b", "-1.2"} {
		_, err := ParseHandle(s)
		require.Error(t, err, s)
	}
}

func TestGetClassAndMethod(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	s := DefaultSettings()
	s.Logger = &logger
	r := newRegistry(t, s)

	c1, err := r.GetClass("Calc")
	require.NoError(t, err)
	c2, err := r.GetClass("Calc")
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.Equal(t, "Calc", c1.Name())

	_, err = r.GetClass("Nope")
	require.ErrorIs(t, err, meta.ErrNotFound)
	_, err = r.GetMethod(c1, "Nope")
	require.ErrorIs(t, err, meta.ErrNotFound)
	_, err = r.GetMethod(nil, "Add2")
	require.ErrorIs(t, err, meta.ErrNotFound)

	m, err := r.GetMethod(c1, "Add2")
	require.NoError(t, err)
	require.Greater(t, m.BodyLen(), meta.MinRealBody)
	require.Equal(t, 2, m.Arity())
	require.Equal(t, "Calc::Add2", m.Token())
	require.Empty(t, logs.String())

	m, err = r.GetMethod(c1, "Nop")
	require.NoError(t, err)
	require.Equal(t, 1, m.BodyLen())
	require.Contains(t, logs.String(), "not longer than a bare ret")

	r.InvalidateClasses()
	c3, err := r.GetClass("Calc")
	require.NoError(t, err)
	require.NotSame(t, c1, c3)

	empty, err := New(nil, DefaultSettings())
	require.NoError(t, err)
	defer empty.Close()
	_, err = empty.GetClass("Calc")
	require.ErrorIs(t, err, meta.ErrNotFound)
}

func TestInstallRejectsBeforeAllocating(t *testing.T) {
	r := newRegistry(t, DefaultSettings())
	m := lookup(t, r, "Calc", "Add2")

	_, err := r.Install(jit.UnsupportedBytecode, m, nil)
	require.ErrorIs(t, err, ErrInvalidCompilationResult)
	_, err = r.Install(jit.Ok, m, nil)
	require.ErrorIs(t, err, ErrInvalidCompilationResult)
	_, err = r.Install(jit.Ok, nil, jit.NewBlob([]byte{0xC3}, 0))
	require.ErrorIs(t, err, ErrInvalidCompilationResult)
	_, err = r.Install(jit.Ok, m, jit.NewBlob(nil, 0))
	require.ErrorIs(t, err, ErrInvalidCompilationResult)

	consumed := jit.NewBlob([]byte{0xC3}, 0)
	_, err = consumed.Consume()
	require.NoError(t, err)
	_, err = r.Install(jit.Ok, m, consumed)
	require.ErrorIs(t, err, ErrInvalidCompilationResult)
	require.ErrorIs(t, err, jit.ErrBlobConsumed)

	foreign := jit.NewBlobFor("sparc64", "manual", 0, []byte{0x81, 0xC3, 0xE0, 0x08})
	_, err = r.Install(jit.Ok, m, foreign)
	require.ErrorIs(t, err, ErrInvalidCompilationResult)
	require.ErrorIs(t, err, ErrUnsupportedArch)
	require.False(t, foreign.Consumed())

	require.Zero(t, r.Stats().Pool.Chunks)
	require.Zero(t, r.Stats().Installs)
}

func TestUnknownHandles(t *testing.T) {
	r := newRegistry(t, DefaultSettings())
	_, err := r.Execute(InstalledRuntimeCode{})
	require.ErrorIs(t, err, ErrUnknownHandle)
	h, err := ParseHandle("5.1")
	require.NoError(t, err)
	_, err = r.Execute(InstalledRuntimeCode{Handle: h}, 1, 2)
	require.ErrorIs(t, err, ErrUnknownHandle)
	require.ErrorIs(t, r.Uninstall(InstalledRuntimeCode{Handle: h}), ErrUnknownHandle)
	_, err = r.Resolve(h)
	require.ErrorIs(t, err, ErrUnknownHandle)
	require.Empty(t, r.Installed(nil))
}

func TestCompileFailureHasNoBlob(t *testing.T) {
	r := newRegistry(t, DefaultSettings())
	result, blob := r.Compile(jit.Arithmetic{}, lookup(t, r, "Calc", "Bad"), jit.FlagsNone)
	require.Equal(t, jit.MalformedBody, result)
	require.Nil(t, blob)
	result, blob = r.Compile(jit.Trivial{}, lookup(t, r, "Calc", "Add2"), jit.FlagsNone)
	require.Equal(t, jit.UnsupportedBytecode, result)
	require.Nil(t, blob)
	result, _ = r.Compile(jit.Trivial{}, nil, jit.FlagsNone)
	require.Equal(t, jit.MalformedBody, result)
}

func TestCodeCacheFiles(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir)
	_, err := c.Load("0123456789abcdef-arithmetic-amd64-00000000")
	require.ErrorIs(t, err, ErrCacheMiss)

	entry := &CacheEntry{Backend: "arithmetic", Arch: "amd64", BodyHash: 0x0123456789abcdef, Arity: 2, Code: []byte{0x48, 0x89, 0xf8, 0x48, 0x01, 0xf0, 0xc3}}
	require.NoError(t, c.Store("0123456789abcdef-arithmetic-amd64-00000000", entry))
	_, err = os.Stat(filepath.Join(dir, "01", "23", "0123456789abcdef-arithmetic-amd64-00000000"))
	require.NoError(t, err)
	loaded, err := c.Load("0123456789abcdef-arithmetic-amd64-00000000")
	require.NoError(t, err)
	require.Equal(t, entry, loaded)

	_, err = DecodeEntry([]byte("not lz4"))
	require.Error(t, err)

	m := meta.NewSyntheticMethod("add", meta.MustAssemble("ldarg.0 ldarg.1 add ret"))
	key := CacheKey("arithmetic", jit.FlagsNone, m)
	require.True(t, strings.HasPrefix(key, fmt.Sprintf("%016x-", m.BodyHash())))
	require.Contains(t, key, "-arithmetic-")
	require.NotEqual(t, key, CacheKey("trivial", jit.FlagsNone, m))
	require.NotEqual(t, key, CacheKey("arithmetic", jit.CompilationFlags(1), m))
}

type nopCloser struct {
	bytes.Buffer
}

func (nopCloser) Close() error { return nil }

func TestTracefile(t *testing.T) {
	var out nopCloser
	tr := NewTrace(&out)
	tr.Duration("compile Calc::Add2", "jit", func() {})
	tr.Instant("install", "registry", map[string]any{"handle": "0.1"})
	require.NoError(t, tr.Close())

	var events []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &events))
	require.Len(t, events, 3)
	require.Equal(t, "B", events[0]["ph"])
	require.Equal(t, "E", events[1]["ph"])
	require.Equal(t, "compile Calc::Add2", events[1]["name"])
	require.Equal(t, map[string]any{"handle": "0.1"}, events[2]["args"])
}

func TestClassCacheConcurrentInvalidate(t *testing.T) {
	r := newRegistry(t, DefaultSettings())
	var wg sync.WaitGroup
	var failed atomic.Int64
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m, err := r.Lookup("Calc", "Add2")
				if err != nil || m.Arity() != 2 {
					failed.Add(1)
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		r.InvalidateClasses()
	}
	wg.Wait()
	require.Zero(t, failed.Load())
}

type failingFile struct{}

func (failingFile) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failingFile) Close() error { return nil }

func TestTracefileAfterCloseAndWriteErrors(t *testing.T) {
	var out nopCloser
	tr := NewTrace(&out)
	tr.Event("compile", "jit", "B")
	require.NoError(t, tr.Close())
	written := out.String()
	tr.Event("compile", "jit", "E")
	tr.Instant("late", "registry", nil)
	require.NoError(t, tr.Close())
	require.Equal(t, written, out.String())

	bad := NewTrace(failingFile{})
	bad.Event("compile", "jit", "B")
	require.ErrorContains(t, bad.Close(), "disk full")
}

func TestCompileAfterCloseLeavesTrace(t *testing.T) {
	s := DefaultSettings()
	s.Trace = true
	s.TraceDir = t.TempDir()
	r, err := New(calcProvider(), s)
	require.NoError(t, err)
	m := lookup(t, r, "Calc", "Add2")
	require.NoError(t, r.Close())

	path := filepath.Join(s.TraceDir, "trace_"+r.ID().String()+".json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	result, blob := r.Compile(jit.Arithmetic{}, m, jit.FlagsNone)
	require.Equal(t, jit.Ok, result)
	require.NotNil(t, blob)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(after, &events))
	require.Empty(t, events)
}
