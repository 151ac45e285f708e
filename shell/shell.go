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
package shell

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/launix-de/memjit/jit"
	"github.com/launix-de/memjit/meta"
	"github.com/launix-de/memjit/registry"
)

var (
	ErrUsage         = errors.New("usage")
	ErrUnknownCmd    = errors.New("unknown command")
	ErrUnknownMethod = errors.New("method reference must look like Class.method")
)

var (
	resultColor = color.New(color.FgRed)
	handleColor = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
)

// Shell executes textual commands against a registry.
type Shell struct {
	reg     *registry.Registry
	backend jit.Compiler
	out     io.Writer

	mu       sync.Mutex
	compiled map[string]registry.InstalledRuntimeCode // "Class::method" -> install used by run
}

func New(reg *registry.Registry, backend jit.Compiler, out io.Writer) *Shell {
	return &Shell{reg: reg, backend: backend, out: out, compiled: make(map[string]registry.InstalledRuntimeCode)}
}

type command struct {
	usage string
	help  string
	run   func(s *Shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":      {"help", "list the commands", (*Shell).cmdHelp},
		"compile":   {"compile Class.method [backend]", "compile and install, prints the handle", (*Shell).cmdCompile},
		"run":       {"run Class.method args...", "execute a method, compiling it on first use", (*Shell).cmdRun},
		"il":        {"il \"mnemonics\" args...", "compile, run and drop an anonymous body", (*Shell).cmdIL},
		"exec":      {"exec handle args...", "execute an installed handle", (*Shell).cmdExec},
		"uninstall": {"uninstall handle", "uninstall a handle", (*Shell).cmdUninstall},
		"list":      {"list", "list installed code", (*Shell).cmdList},
		"stats":     {"stats", "registry and memory pool statistics", (*Shell).cmdStats},
		"dis":       {"dis Class.method [backend]", "show bytecode and generated machine code", (*Shell).cmdDis},
	}
}

// Exec runs one command line. Empty lines and # comments do nothing.
func (s *Shell) Exec(line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	if len(args) == 0 || strings.HasPrefix(args[0], "#") {
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w %q, try help", ErrUnknownCmd, args[0])
	}
	return cmd.run(s, args[1:])
}

// splitArgs splits on whitespace; double quotes group words.
func splitArgs(line string) ([]string, error) {
	var result []string
	var cur strings.Builder
	inQuote, inWord := false, false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			inWord = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if inWord {
				result = append(result, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w: unterminated quote", ErrUsage)
	}
	if inWord {
		result = append(result, cur.String())
	}
	return result, nil
}

func parseInts(args []string) ([]int64, error) {
	result := make([]int64, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		result[i] = v
	}
	return result, nil
}

// splitRef accepts Class.method and Class::method.
func splitRef(ref string) (string, string, error) {
	if c, m, ok := strings.Cut(ref, "::"); ok && c != "" && m != "" {
		return c, m, nil
	}
	i := strings.LastIndexByte(ref, '.')
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownMethod, ref)
	}
	return ref[:i], ref[i+1:], nil
}

func (s *Shell) method(ref string) (*meta.MethodDescriptor, error) {
	class, name, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	return s.reg.Lookup(class, name)
}

func (s *Shell) compiler(args []string) (jit.Compiler, error) {
	if len(args) == 0 {
		return s.backend, nil
	}
	c, ok := jit.Lookup(args[0])
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", args[0])
	}
	return c, nil
}

func (s *Shell) install(c jit.Compiler, m *meta.MethodDescriptor) (registry.InstalledRuntimeCode, error) {
	result, blob := s.reg.Compile(c, m, jit.FlagsNone)
	if result != jit.Ok {
		return registry.InstalledRuntimeCode{}, fmt.Errorf("%s with %s: %w", m.FullName(), c.Name(), result.Err())
	}
	return s.reg.Install(result, m, blob)
}

func (s *Shell) printResult(v int64) {
	resultColor.Fprint(s.out, "= ")
	fmt.Fprintln(s.out, v)
}

func (s *Shell) cmdHelp(args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "  %-34s %s\n", commands[name].usage, dimColor.Sprint(commands[name].help))
	}
	return nil
}

func (s *Shell) cmdCompile(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: %s", ErrUsage, commands["compile"].usage)
	}
	m, err := s.method(args[0])
	if err != nil {
		return err
	}
	c, err := s.compiler(args[1:])
	if err != nil {
		return err
	}
	code, err := s.install(c, m)
	if err != nil {
		return err
	}
	handleColor.Fprintln(s.out, code.Handle)
	return nil
}

func (s *Shell) cmdRun(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: %s", ErrUsage, commands["run"].usage)
	}
	m, err := s.method(args[0])
	if err != nil {
		return err
	}
	values, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	s.mu.Lock()
	code, ok := s.compiled[m.FullName()]
	if ok {
		// metadata may have been reloaded since
		if code.Method.BodyHash() != m.BodyHash() {
			delete(s.compiled, m.FullName())
			// already uninstalled by hand is fine
			if err := s.reg.Uninstall(code); err != nil && !errors.Is(err, registry.ErrStaleHandle) {
				s.mu.Unlock()
				return err
			}
			ok = false
		} else if _, err := s.reg.Resolve(code.Handle); err != nil {
			ok = false
		}
	}
	if !ok {
		code, err = s.install(s.backend, m)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.compiled[m.FullName()] = code
	}
	s.mu.Unlock()
	v, err := s.reg.Execute(code, values...)
	if err != nil {
		return err
	}
	s.printResult(v)
	return nil
}

func (s *Shell) cmdIL(args []string) (err error) {
	if len(args) < 1 {
		return fmt.Errorf("%w: %s", ErrUsage, commands["il"].usage)
	}
	body, err := meta.Assemble(args[0])
	if err != nil {
		return err
	}
	values, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	code, err := s.install(s.backend, meta.NewSyntheticMethod("il", body))
	if err != nil {
		return err
	}
	defer func() {
		if uerr := s.reg.Uninstall(code); uerr != nil && err == nil {
			err = uerr
		}
	}()
	v, err := s.reg.Execute(code, values...)
	if err != nil {
		return err
	}
	s.printResult(v)
	return nil
}

func (s *Shell) handle(arg string) (registry.InstalledRuntimeCode, error) {
	h, err := registry.ParseHandle(arg)
	if err != nil {
		return registry.InstalledRuntimeCode{}, err
	}
	return s.reg.Resolve(h)
}

func (s *Shell) cmdExec(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: %s", ErrUsage, commands["exec"].usage)
	}
	code, err := s.handle(args[0])
	if err != nil {
		return err
	}
	values, err := parseInts(args[1:])
	if err != nil {
		return err
	}
	v, err := s.reg.Execute(code, values...)
	if err != nil {
		return err
	}
	s.printResult(v)
	return nil
}

func (s *Shell) cmdUninstall(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: %s", ErrUsage, commands["uninstall"].usage)
	}
	code, err := s.handle(args[0])
	if err != nil {
		return err
	}
	return s.reg.Uninstall(code)
}

func (s *Shell) cmdList(args []string) error {
	codes := s.reg.Installed(nil)
	if len(codes) == 0 {
		fmt.Fprintln(s.out, dimColor.Sprint("nothing installed"))
	}
	for _, c := range codes {
		handleColor.Fprint(s.out, c.Handle)
		fmt.Fprintln(s.out, strings.TrimPrefix(c.String(), c.Handle.String()))
	}
	return nil
}

func (s *Shell) cmdStats(args []string) error {
	fmt.Fprintln(s.out, s.reg.Stats())
	return nil
}

func (s *Shell) cmdDis(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: %s", ErrUsage, commands["dis"].usage)
	}
	m, err := s.method(args[0])
	if err != nil {
		return err
	}
	c, err := s.compiler(args[1:])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s/%d: %s\n", m.FullName(), m.Arity(), meta.Disassemble(m.Body()))
	result, blob := s.reg.Compile(c, m, jit.FlagsNone)
	if result != jit.Ok {
		fmt.Fprintf(s.out, "%s: %s\n", c.Name(), resultColor.Sprint(result))
		return nil
	}
	fmt.Fprintf(s.out, "%s: %s\n", c.Name(), hex.EncodeToString(blob.Bytes()))
	return nil
}
