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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/launix-de/memjit/jit"
	"github.com/launix-de/memjit/meta"
	"github.com/pierrec/lz4/v4"
)

// ErrCacheMiss is returned by CodeCache.Load for absent keys.
var ErrCacheMiss = errors.New("code cache miss")

// CacheEntry is one cached compilation, stored as lz4 compressed CBOR.
type CacheEntry struct {
	Backend  string `cbor:"1,keyasint"`
	Arch     string `cbor:"2,keyasint"`
	Flags    uint32 `cbor:"3,keyasint"`
	BodyHash uint64 `cbor:"4,keyasint"`
	Arity    int    `cbor:"5,keyasint"`
	Code     []byte `cbor:"6,keyasint"`
}

// CodeCache persists compiled code between registry lifetimes.
type CodeCache interface {
	Load(key string) (*CacheEntry, error)
	Store(key string, entry *CacheEntry) error
}

// CacheKey identifies the output of one backend for one body. The hash
// comes first so file layouts can fan out on it.
func CacheKey(backend string, flags jit.CompilationFlags, method *meta.MethodDescriptor) string {
	return fmt.Sprintf("%016x-%s-%s-%08x", method.BodyHash(), backend, runtime.GOARCH, uint32(flags))
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("registry: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeEntry serializes an entry to its on-disk form.
func EncodeEntry(e *CacheEntry) ([]byte, error) {
	raw, err := cborEncMode.Marshal(e)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEntry reverses EncodeEntry.
func DecodeEntry(data []byte) (*CacheEntry, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("code cache: decompress: %w", err)
	}
	var e CacheEntry
	if err := cbor.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("code cache: unmarshal entry: %w", err)
	}
	return &e, nil
}

// FileCache stores entries below a directory as ab/cd/<key>.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) path(key string) string {
	key = strings.ReplaceAll(key, string(filepath.Separator), "_")
	if len(key) < 4 {
		return filepath.Join(c.dir, key)
	}
	return filepath.Join(c.dir, key[0:2], key[2:4], key)
}

func (c *FileCache) Load(key string) (*CacheEntry, error) {
	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return DecodeEntry(data)
}

func (c *FileCache) Store(key string, entry *CacheEntry) error {
	data, err := EncodeEntry(entry)
	if err != nil {
		return err
	}
	p := c.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return err
	}
	// readers only ever see complete entries
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}
