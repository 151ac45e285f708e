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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/ulikunitz/xz"
)

/*
metadata file format:

	{"classes": {
		"Calc": {"methods": {
			"Add2": {"params": 2, "il": "ldarg.0 ldarg.1 add ret"},
			"Nop":  {"body": "2a"}
		}}
	}}

"il" is assembled with Assemble, "body" is hex. Files ending in .xz are
decompressed on load.
*/

type fileMethod struct {
	Params *int   `json:"params,omitempty"`
	IL     string `json:"il,omitempty"`
	Body   string `json:"body,omitempty"`
}

type fileClass struct {
	Methods map[string]fileMethod `json:"methods"`
}

type fileSchema struct {
	Classes map[string]fileClass `json:"classes"`
}

// FileProvider serves metadata from a json file. Reloads swap the whole
// snapshot atomically, so lookups never block on a reload.
type FileProvider struct {
	path     string
	snapshot atomic.Pointer[Static]
	log      zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// OpenFile loads a metadata file.
func OpenFile(path string) (*FileProvider, error) {
	p := &FileProvider{path: path, log: zerolog.Nop()}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) SetLogger(l zerolog.Logger) {
	p.log = l
}

func (p *FileProvider) Path() string {
	return p.path
}

// Static returns the current snapshot.
func (p *FileProvider) Static() *Static {
	return p.snapshot.Load()
}

// Reload rereads the file. On error the old snapshot stays active.
func (p *FileProvider) Reload() error {
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(p.path, ".xz") {
		r, err = xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", p.path, err)
		}
	}
	s, err := ParseMetadata(r)
	if err != nil {
		return fmt.Errorf("%s: %w", p.path, err)
	}
	p.snapshot.Store(s)
	return nil
}

// ParseMetadata reads the json metadata format into a Static provider.
func ParseMetadata(r io.Reader) (*Static, error) {
	var schema fileSchema
	if err := json.NewDecoder(r).Decode(&schema); err != nil {
		return nil, err
	}
	s := NewStatic()
	for cname, c := range schema.Classes {
		s.AddClass(cname)
		for mname, m := range c.Methods {
			var body []byte
			var err error
			switch {
			case m.IL != "":
				body, err = Assemble(m.IL)
			case m.Body != "":
				body, err = hex.DecodeString(strings.ReplaceAll(m.Body, " ", ""))
			default:
				err = ErrEmptyBody
			}
			if err != nil {
				return nil, fmt.Errorf("%s::%s: %w", cname, mname, err)
			}
			params := InferArity(body)
			if m.Params != nil {
				params = *m.Params
			}
			s.AddMethod(cname, mname, params, body)
		}
	}
	return s, nil
}

func (p *FileProvider) ResolveClass(name string) error {
	return p.snapshot.Load().ResolveClass(name)
}

func (p *FileProvider) ResolveMethod(class string, name string) (MethodDef, error) {
	return p.snapshot.Load().ResolveMethod(class, name)
}

// Watch reloads the file whenever it changes on disk. onReload (may be
// nil) is called after every successful reload.
func (p *FileProvider) Watch(onReload func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(p.path); err != nil {
		watcher.Close()
		return err
	}
	p.watcher = watcher
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				// editors write in bursts: drain before reading
				for drained := false; !drained; {
					time.Sleep(10 * time.Millisecond)
					select {
					case <-watcher.Events:
					default:
						drained = true
					}
				}
				if err := p.Reload(); err != nil {
					p.log.Warn().Err(err).Str("path", p.path).Msg("metadata reload failed")
				} else {
					p.log.Info().Str("path", p.path).Msg("metadata reloaded")
					if onReload != nil {
						onReload()
					}
				}
				watcher.Add(p.path) // text editors rename, so we have to rewatch
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.Warn().Err(err).Str("path", p.path).Msg("metadata watch")
			}
		}
	}()
	return nil
}

// Close stops watching.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}
