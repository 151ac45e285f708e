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
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Tracefile writes chrome://tracing compatible json events. Events after
// Close are dropped; the first write error is kept and returned by Close.
type Tracefile struct {
	isFirst bool
	file    io.WriteCloser
	closed  bool
	err     error
	m       sync.Mutex
}

var start time.Time = time.Now()

// OpenTrace creates <dir>/trace_<name>.json.
func OpenTrace(dir string, name string) (*Tracefile, error) {
	f, err := os.Create(filepath.Join(dir, "trace_"+name+".json"))
	if err != nil {
		return nil, err
	}
	return NewTrace(f), nil
}

func NewTrace(file io.WriteCloser) *Tracefile {
	result := new(Tracefile)
	result.file = file
	result.isFirst = true
	result.write([]byte("["))
	return result
}

// write keeps the first error; later writes are skipped. Caller holds t.m
// or owns t exclusively.
func (t *Tracefile) write(b []byte) {
	if t.err != nil {
		return
	}
	_, t.err = t.file.Write(b)
}

func (t *Tracefile) Close() error {
	t.m.Lock()
	defer t.m.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.write([]byte("]"))
	return multierror.Append(t.err, t.file.Close()).ErrorOrNil()
}

func (t *Tracefile) Duration(name string, cat string, f func()) {
	t.Event(name, cat, "B")
	defer t.Event(name, cat, "E")
	f()
}

func (t *Tracefile) Event(name string, cat string, typ string) {
	t.EventFull(name, cat, typ, time.Since(start).Microseconds(), 0, 0, nil)
}

// Instant records a single point event with arguments.
func (t *Tracefile) Instant(name string, cat string, args map[string]any) {
	t.EventFull(name, cat, "i", time.Since(start).Microseconds(), 0, 0, args)
}

/*
*

	@name string function
	@cat string comma separated categories (for filtering)
	@typ B/E for begin/end, X for events
	@ts timestamp in microseconds
	@pid process id
	@tid thread id
	@args shown in the event details, may be nil
*/
func (t *Tracefile) EventFull(name string, cat string, typ string, ts int64, tid int, pid int, args map[string]any) {
	var ev bytes.Buffer
	ev.WriteString("{\"name\": ")
	b, _ := json.Marshal(name)
	ev.Write(b)
	ev.WriteString(", \"cat\": ")
	b, _ = json.Marshal(cat)
	ev.Write(b)
	ev.WriteString(", \"ph\": ")
	b, _ = json.Marshal(typ)
	ev.Write(b)
	ev.WriteString(", \"ts\": ")
	b, _ = json.Marshal(ts)
	ev.Write(b)
	ev.WriteString(", \"pid\": ")
	b, _ = json.Marshal(pid)
	ev.Write(b)
	ev.WriteString(", \"tid\": ")
	b, _ = json.Marshal(tid)
	ev.Write(b)
	if args != nil {
		if b, err := json.Marshal(args); err == nil {
			ev.WriteString(", \"args\": ")
			ev.Write(b)
		}
	}
	ev.WriteString(", \"s\": \"g\"}")

	t.m.Lock()
	defer t.m.Unlock()
	if t.closed {
		return
	}
	if t.isFirst {
		t.isFirst = false
	} else {
		t.write([]byte(",\n"))
	}
	t.write(ev.Bytes())
}
