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
/*
	memjit - install natively compiled methods into a running process
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dc0d/onexit"
	"github.com/rs/zerolog"

	"github.com/launix-de/memjit/jit"
	"github.com/launix-de/memjit/meta"
	"github.com/launix-de/memjit/registry"
	"github.com/launix-de/memjit/shell"
)

// workaround for flags package to allow multiple values
type arrayFlags []string

func (i *arrayFlags) String() string {
	return "dummy"
}

func (i *arrayFlags) Set(value string) error {
	*i = append(*i, value)
	return nil
}

type closer interface {
	Close() error
}

func main() {
	fmt.Print(`memjit Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;

`)

	var commands arrayFlags
	flag.Var(&commands, "c", "Execute shell command (repeatable)")
	metadata := flag.String("metadata", "", "Metadata file (json, optionally .xz)")
	watch := flag.Bool("watch", false, "Reload the metadata file when it changes")
	sqlDriver := flag.String("sql-driver", "", "Metadata database driver (mysql or postgres)")
	sqlDSN := flag.String("sql-dsn", "", "Metadata database DSN")
	sqlTable := flag.String("sql-table", "methods", "Metadata table")
	settingsFile := flag.String("settings", "", "Settings file (json)")
	backend := flag.String("backend", "arithmetic", "Default compiler backend")
	batch := flag.Bool("batch", false, "Exit after the -c commands instead of starting the shell")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).Level(level).With().Timestamp().Logger()

	settings := registry.DefaultSettings()
	if *settingsFile != "" {
		var err error
		settings, err = registry.LoadSettings(*settingsFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", *settingsFile).Msg("loading settings")
		}
	}
	settings.Logger = &log

	compiler, ok := jit.Lookup(*backend)
	if !ok {
		log.Fatal().Str("backend", *backend).Msg("unknown backend")
	}

	var provider meta.Provider
	var providerCloser closer
	var fileProvider *meta.FileProvider
	switch {
	case *metadata != "" && *sqlDriver != "":
		log.Fatal().Msg("-metadata and -sql-driver are mutually exclusive")
	case *metadata != "":
		p, err := meta.OpenFile(*metadata)
		if err != nil {
			log.Fatal().Err(err).Msg("loading metadata")
		}
		p.SetLogger(log)
		provider, providerCloser, fileProvider = p, p, p
	case *sqlDriver != "":
		p, err := meta.OpenSQL(*sqlDriver, *sqlDSN, *sqlTable)
		if err != nil {
			log.Fatal().Err(err).Str("driver", *sqlDriver).Msg("connecting metadata database")
		}
		provider, providerCloser = p, p
	default:
		provider = meta.NewStatic()
	}

	reg, err := registry.New(provider, settings)
	if err != nil {
		log.Fatal().Err(err).Msg("starting registry")
	}

	if *watch {
		if fileProvider == nil {
			log.Fatal().Msg("-watch needs -metadata")
		}
		if err := fileProvider.Watch(reg.InvalidateClasses); err != nil {
			log.Fatal().Err(err).Msg("watching metadata")
		}
	}

	var once sync.Once
	exitroutine := func() {
		once.Do(func() {
			if err := reg.Close(); err != nil {
				log.Error().Err(err).Msg("closing registry")
			}
			if providerCloser != nil {
				if err := providerCloser.Close(); err != nil {
					log.Error().Err(err).Msg("closing metadata provider")
				}
			}
		})
	}
	onexit.Register(exitroutine)

	cancelChan := make(chan os.Signal, 1)
	signal.Notify(cancelChan, syscall.SIGTERM)
	go func() {
		<-cancelChan
		exitroutine()
		os.Exit(1)
	}()

	sh := shell.New(reg, compiler, os.Stdout)
	for _, command := range commands {
		if err := sh.Exec(command); err != nil {
			log.Error().Err(err).Str("command", command).Msg("command failed")
		}
	}

	if !*batch {
		fmt.Print(`
    Type help to show help

`)
		if err := sh.Repl(".memjit-history.tmp"); err != nil {
			log.Error().Err(err).Msg("shell")
		}
	}

	exitroutine()
}
