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
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/launix-de/NonLockingReadMap"
	"github.com/launix-de/memjit/execmem"
	"github.com/launix-de/memjit/jit"
	"github.com/launix-de/memjit/meta"
	"github.com/rs/zerolog"
)

/*
runtime registry
----------------
 - owns the executable memory pool and the table of installed code
 - metadata lookups go through the provider; classes are cached
 - install: reserve, write, commit (RX), then publish; readers of the
   handle table therefore only ever see finished executable code
 - uninstall: mark dead, unpublish, wait until running calls have
   returned, release the memory
 - handles carry a generation so stale handles are detected instead of
   calling into reused memory
*/

var (
	ErrAllocationFailed         = errors.New("allocation of executable memory failed")
	ErrInvalidCompilationResult = errors.New("invalid compilation result")
	ErrUnknownHandle            = errors.New("unknown handle")
	ErrStaleHandle              = errors.New("stale handle")
	ErrArityMismatch            = errors.New("argument count mismatch")
	ErrUnsupportedArch          = errors.New("unsupported architecture")
	ErrClosed                   = errors.New("registry closed")
)

var _ jit.RuntimeInformation = (*Registry)(nil)

type classTable = NonLockingReadMap.NonLockingReadMap[meta.ClassDescriptor, string]

func newClassTable() *classTable {
	t := NonLockingReadMap.New[meta.ClassDescriptor, string]()
	return &t
}

// MaxArgs is the number of integer arguments the bridge passes in registers.
const MaxArgs = jit.MaxArgs

type Registry struct {
	id       uuid.UUID
	provider meta.Provider
	settings Settings
	log      zerolog.Logger
	pool     *execmem.Allocator
	trace    *Tracefile
	cache    CodeCache

	// both tables are immutable once published; writers build a new
	// version and Store it
	classes atomic.Pointer[classTable]
	classMu sync.Mutex
	handles atomic.Pointer[[]*slot] // indexed by arena index, nil = free

	mu      sync.Mutex // serializes install, uninstall and close
	gens    []uint32   // current generation per arena index
	freeIdx []uint32
	closed  bool

	installs    atomic.Uint64
	uninstalls  atomic.Uint64
	executions  atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

// New creates a registry. Any number of registries may coexist; each has
// its own memory pool. provider may be nil.
func New(provider meta.Provider, settings Settings) (*Registry, error) {
	chunk, err := settings.ChunkBytes()
	if err != nil {
		return nil, err
	}
	cache, err := settings.openCache()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		id:       uuid.New(),
		provider: provider,
		settings: settings,
		pool:     execmem.New(chunk),
		cache:    cache,
	}
	r.classes.Store(newClassTable())
	r.handles.Store(new([]*slot))
	r.log = settings.logger().With().Str("registry", r.id.String()).Logger()
	if settings.Trace {
		if r.trace, err = OpenTrace(settings.TraceDir, r.id.String()); err != nil {
			r.pool.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) ID() uuid.UUID {
	return r.id
}

func (r *Registry) Settings() Settings {
	return r.settings
}

func (r *Registry) Logger() zerolog.Logger {
	return r.log
}

// GetClass resolves a class through the provider and caches it.
func (r *Registry) GetClass(name string) (*meta.ClassDescriptor, error) {
	if c := r.classes.Load().Get(name); c != nil {
		return c, nil
	}
	if r.provider == nil {
		return nil, fmt.Errorf("class %s: %w", name, meta.ErrNotFound)
	}
	if err := r.provider.ResolveClass(name); err != nil {
		return nil, err
	}
	return r.addClass(meta.NewClass(name, r.provider)), nil
}

// addClass publishes a copy of the class table containing c. A class
// published concurrently under the same name wins.
func (r *Registry) addClass(c *meta.ClassDescriptor) *meta.ClassDescriptor {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	old := r.classes.Load()
	if existing := old.Get(c.Name()); existing != nil {
		return existing
	}
	next := newClassTable()
	for _, other := range old.GetAll() {
		next.Set(other)
	}
	next.Set(c)
	r.classes.Store(next)
	return c
}

// GetMethod resolves a member of class. Methods with a body of at most
// meta.MinRealBody bytes are reported as a diagnostic.
func (r *Registry) GetMethod(class *meta.ClassDescriptor, name string) (*meta.MethodDescriptor, error) {
	if class == nil {
		return nil, fmt.Errorf("method %s: %w", name, meta.ErrNotFound)
	}
	m, err := class.GetMethod(name)
	if err != nil {
		return nil, err
	}
	if !m.HasRealBody() {
		r.log.Warn().Str("method", m.FullName()).Int("bytes", m.BodyLen()).Msg("method body is not longer than a bare ret")
	}
	return m, nil
}

// Lookup resolves "Class" and "method" in one step.
func (r *Registry) Lookup(class string, method string) (*meta.MethodDescriptor, error) {
	c, err := r.GetClass(class)
	if err != nil {
		return nil, err
	}
	return r.GetMethod(c, method)
}

// InvalidateClasses drops the class cache, e.g. after the metadata changed.
func (r *Registry) InvalidateClasses() {
	r.classMu.Lock()
	defer r.classMu.Unlock()
	r.classes.Store(newClassTable())
}

// Compile runs a backend with this registry as runtime information. With
// a code cache configured, hits skip the backend entirely.
func (r *Registry) Compile(compiler jit.Compiler, method *meta.MethodDescriptor, flags jit.CompilationFlags) (result jit.CompilationResult, blob *jit.NativeCodeBlob) {
	var key string
	if r.cache != nil && method != nil && method.BodyLen() > 0 {
		key = CacheKey(compiler.Name(), flags, method)
		if blob := r.loadCached(key, compiler.Name(), flags, method); blob != nil {
			return jit.Ok, blob
		}
	}
	name := "<nil>"
	if method != nil {
		name = method.FullName()
	}
	compile := func() {
		result, blob = compiler.Compile(r, method, flags)
	}
	if r.trace != nil {
		r.trace.Duration("compile "+name, "jit", compile)
	} else {
		compile()
	}
	if result != jit.Ok {
		r.log.Debug().Str("method", name).Str("backend", compiler.Name()).Stringer("result", result).Msg("compile failed")
		return result, nil
	}
	if key != "" {
		entry := &CacheEntry{
			Backend:  blob.Backend(),
			Arch:     blob.Arch(),
			Flags:    uint32(flags),
			BodyHash: method.BodyHash(),
			Arity:    blob.Arity(),
			Code:     blob.Bytes(),
		}
		if err := r.cache.Store(key, entry); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("code cache store failed")
		}
	}
	return result, blob
}

func (r *Registry) loadCached(key string, backend string, flags jit.CompilationFlags, method *meta.MethodDescriptor) *jit.NativeCodeBlob {
	entry, err := r.cache.Load(key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.log.Warn().Err(err).Str("key", key).Msg("code cache load failed")
		}
		r.cacheMisses.Add(1)
		return nil
	}
	if entry.BodyHash != method.BodyHash() || entry.Backend != backend || entry.Flags != uint32(flags) || len(entry.Code) == 0 {
		r.cacheMisses.Add(1)
		return nil
	}
	r.cacheHits.Add(1)
	return jit.NewBlobFor(entry.Arch, entry.Backend, entry.Arity, entry.Code)
}

// Install copies a successfully compiled blob into executable memory and
// publishes it under a fresh handle. The blob is consumed. Installing the
// same method twice yields two independent handles.
func (r *Registry) Install(result jit.CompilationResult, method *meta.MethodDescriptor, blob *jit.NativeCodeBlob) (InstalledRuntimeCode, error) {
	switch {
	case result != jit.Ok:
		return InstalledRuntimeCode{}, fmt.Errorf("%w: %s", ErrInvalidCompilationResult, result)
	case method == nil:
		return InstalledRuntimeCode{}, fmt.Errorf("%w: no method", ErrInvalidCompilationResult)
	case blob == nil || blob.Len() == 0:
		return InstalledRuntimeCode{}, fmt.Errorf("%w: no code", ErrInvalidCompilationResult)
	case blob.Consumed():
		return InstalledRuntimeCode{}, fmt.Errorf("%w: %w", ErrInvalidCompilationResult, jit.ErrBlobConsumed)
	case blob.Arch() != runtime.GOARCH:
		return InstalledRuntimeCode{}, fmt.Errorf("%w: %w: %s code on %s", ErrInvalidCompilationResult, ErrUnsupportedArch, blob.Arch(), runtime.GOARCH)
	case blob.Arity() > MaxArgs:
		return InstalledRuntimeCode{}, fmt.Errorf("%w: arity %d", ErrInvalidCompilationResult, blob.Arity())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return InstalledRuntimeCode{}, ErrClosed
	}
	if r.trace != nil {
		r.trace.Event("install "+method.String(), "registry", "B")
		defer r.trace.Event("install "+method.String(), "registry", "E")
	}

	region, err := r.pool.Reserve(blob.Len())
	if err != nil {
		return InstalledRuntimeCode{}, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	if err := region.Write(blob.Bytes()); err != nil {
		return InstalledRuntimeCode{}, r.rollback(region, fmt.Errorf("%w: %w", ErrAllocationFailed, err))
	}
	if err := r.pool.CommitExecutable(region); err != nil {
		return InstalledRuntimeCode{}, r.rollback(region, fmt.Errorf("%w: %w", ErrAllocationFailed, err))
	}
	if _, err := blob.Consume(); err != nil {
		// lost against an install into another registry
		return InstalledRuntimeCode{}, r.rollback(region, fmt.Errorf("%w: %w", ErrInvalidCompilationResult, err))
	}

	var index uint32
	if n := len(r.freeIdx); n > 0 {
		index = r.freeIdx[n-1]
		r.freeIdx = r.freeIdx[:n-1]
	} else {
		index = uint32(len(r.gens))
		r.gens = append(r.gens, 0)
	}
	r.gens[index]++
	code := InstalledRuntimeCode{
		Handle:  Handle{index: index, gen: r.gens[index]},
		Method:  method,
		Arity:   blob.Arity(),
		Entry:   region.Addr(),
		Size:    blob.Len(),
		Backend: blob.Backend(),
	}
	r.publish(index, &slot{gen: code.Handle.gen, entry: &installed{code: code, region: region}})
	r.installs.Add(1)
	r.log.Info().Stringer("handle", code.Handle).Str("method", method.FullName()).Int("bytes", code.Size).Str("backend", code.Backend).Msg("installed")
	return code, nil
}

// rollback hands a reservation back so the pool is as before the failed
// install, then returns err.
func (r *Registry) rollback(region *execmem.Region, err error) error {
	if rerr := r.pool.Rollback(region); rerr != nil {
		r.log.Warn().Err(rerr).Msg("rolling back reservation")
	}
	return err
}

// lookupErr tells a never issued handle from one that was uninstalled.
// Caller holds r.mu.
func (r *Registry) lookupErr(h Handle) error {
	if h.gen == 0 || int(h.index) >= len(r.gens) || h.gen > r.gens[h.index] {
		return fmt.Errorf("%w %s", ErrUnknownHandle, h)
	}
	return fmt.Errorf("%w %s", ErrStaleHandle, h)
}

// publish replaces the slot at index (nil removes it) with a new table.
// Caller holds r.mu. The Store orders all writes to the code and the
// entry before any reader that Loads the new table.
func (r *Registry) publish(index uint32, s *slot) {
	old := *r.handles.Load()
	next := make([]*slot, max(len(old), int(index)+1))
	copy(next, old)
	next[index] = s
	r.handles.Store(&next)
}

// slots returns the live table entries.
func (r *Registry) slots() []*slot {
	var result []*slot
	for _, s := range *r.handles.Load() {
		if s != nil {
			result = append(result, s)
		}
	}
	return result
}

func (r *Registry) live(h Handle) *installed {
	table := *r.handles.Load()
	if int(h.index) >= len(table) {
		return nil
	}
	s := table[h.index]
	if s == nil || s.gen != h.gen {
		return nil
	}
	return s.entry
}

// Resolve returns the install behind a handle.
func (r *Registry) Resolve(h Handle) (InstalledRuntimeCode, error) {
	if e := r.live(h); e != nil && !e.dead.Load() {
		return e.code, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return InstalledRuntimeCode{}, r.lookupErr(h)
}

// Uninstall unpublishes the code, waits for running calls to return and
// releases its memory. Afterwards the handle is stale.
func (r *Registry) Uninstall(code InstalledRuntimeCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.live(code.Handle)
	if e == nil {
		return r.lookupErr(code.Handle)
	}
	if r.trace != nil {
		r.trace.Event("uninstall "+e.code.Method.String(), "registry", "B")
		defer r.trace.Event("uninstall "+e.code.Method.String(), "registry", "E")
	}
	if err := r.retire(e); err != nil {
		return err
	}
	r.log.Info().Stringer("handle", code.Handle).Str("method", e.code.Method.FullName()).Uint64("calls", e.calls.Load()).Msg("uninstalled")
	return nil
}

// retire takes an entry out of service. Caller holds r.mu.
func (r *Registry) retire(e *installed) error {
	e.dead.Store(true)
	r.publish(e.code.Handle.index, nil)
	for e.inflight.Load() != 0 {
		runtime.Gosched()
	}
	r.freeIdx = append(r.freeIdx, e.code.Handle.index)
	r.uninstalls.Add(1)
	if err := r.pool.Release(e.region); err != nil {
		return fmt.Errorf("release %s: %w", e.code.Handle, err)
	}
	return nil
}

// Installed lists the live installs of method, all installs for nil.
// Descriptors resolved again after a metadata reload still match by name.
func (r *Registry) Installed(method *meta.MethodDescriptor) []InstalledRuntimeCode {
	var result []InstalledRuntimeCode
	for _, s := range r.slots() {
		if s.entry.dead.Load() {
			continue
		}
		if method == nil || s.entry.code.Method == method || s.entry.code.Method.FullName() == method.FullName() {
			result = append(result, s.entry.code)
		}
	}
	return result
}

// Close uninstalls everything and unmaps the pool. Handles issued before
// are stale afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var result error
	for _, s := range r.slots() {
		if err := r.retire(s.entry); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := r.pool.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if r.trace != nil {
		if err := r.trace.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	r.log.Debug().Msg("closed")
	return result
}
