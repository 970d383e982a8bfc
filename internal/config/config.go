// Package config reads YAML run files: engine parameters plus instance
// decoration and overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"evfleet/internal/instance"
	"evfleet/internal/opt"
)

// File is the on-disk layout of a run file. Absent keys keep defaults.
type File struct {
	Engine    opt.Config          `yaml:"engine"`
	Decorate  instance.Decoration `yaml:"decorate"`
	Overrides instance.Overrides  `yaml:"overrides"`
}

// Default returns a File with engine defaults and 200 kW decoration
// seeded like the engine.
func Default() File {
	eng := opt.DefaultConfig()
	return File{Engine: eng, Decorate: instance.DefaultDecoration(eng.Seed)}
}

// Decode reads YAML from r on top of Default and validates the engine
// section. Unknown keys are rejected.
func Decode(r io.Reader) (File, error) {
	f := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode config: %w", err)
	}
	if err := f.Engine.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads a run file from path. An empty path yields defaults.
func Load(path string) (File, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	f, err := Decode(bytes.NewReader(b))
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Marshal renders f as YAML, used by `evrp -print-config`.
func Marshal(f File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
