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
	"encoding/json"
	"fmt"
	"os"

	units "github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// CacheSettings selects where compiled code is cached between runs.
// Backend is "" (no cache), "files" or "s3".
type CacheSettings struct {
	Backend string `json:"backend,omitempty"`
	Path    string `json:"path,omitempty"` // files: cache directory

	AccessKeyID     string `json:"access_key_id,omitempty"`     // AWS or S3-compatible access key
	SecretAccessKey string `json:"secret_access_key,omitempty"` // AWS or S3-compatible secret key
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"` // custom endpoint for MinIO etc.
	Bucket          string `json:"bucket,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	ForcePathStyle  bool   `json:"force_path_style,omitempty"`
}

type Settings struct {
	ChunkSize      string        `json:"chunk_size"` // e.g. "64KiB", "1MiB"
	UncheckedArity bool          `json:"unchecked_arity"`
	Trace          bool          `json:"trace"`
	TraceDir       string        `json:"trace_dir,omitempty"`
	Cache          CacheSettings `json:"cache"`

	Logger *zerolog.Logger `json:"-"` // nil: no logging
}

func DefaultSettings() Settings {
	return Settings{ChunkSize: "64KiB"}
}

// LoadSettings reads a settings.json; missing keys keep their defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// ChunkBytes parses ChunkSize.
func (s Settings) ChunkBytes() (int, error) {
	if s.ChunkSize == "" {
		return 64 * 1024, nil
	}
	n, err := units.RAMInBytes(s.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("chunk_size: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("chunk_size: %q is not positive", s.ChunkSize)
	}
	return int(n), nil
}

func (s Settings) logger() zerolog.Logger {
	if s.Logger == nil {
		return zerolog.Nop()
	}
	return *s.Logger
}

// openCache creates the configured code cache; nil if none is configured.
func (s Settings) openCache() (CodeCache, error) {
	switch s.Cache.Backend {
	case "":
		return nil, nil
	case "files":
		if s.Cache.Path == "" {
			return nil, fmt.Errorf("cache: backend files needs a path")
		}
		return NewFileCache(s.Cache.Path), nil
	case "s3":
		if s.Cache.Bucket == "" {
			return nil, fmt.Errorf("cache: backend s3 needs a bucket")
		}
		return NewS3Cache(s.Cache), nil
	}
	return nil, fmt.Errorf("cache: unknown backend %q", s.Cache.Backend)
}
