// Package config loads smelt's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/smelt/internal/spec"
)

// Default values used when the file omits a setting.
const (
	DefaultMaxPasses   = 16
	DefaultLockTimeout = 30 * time.Second
	DefaultCompiler    = "gcc@13.2.0"
)

// Config is the contents of smelt.yaml.
type Config struct {
	// InstallRoot is the directory install prefixes are created under.
	InstallRoot string `yaml:"install_root"`

	// StageRoot is the directory source archives are unpacked under.
	StageRoot string `yaml:"stage_root"`

	// KeepStage keeps stage directories after successful installs.
	KeepStage bool `yaml:"keep_stage"`

	// Database is the path of the installed database.
	Database string `yaml:"database"`

	// Repos lists package repository directories; earlier entries win.
	Repos []string `yaml:"repos"`

	// Jobs bounds how many nodes build at once.
	Jobs int `yaml:"jobs"`

	// LockTimeout bounds the wait for a per-hash install lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// PhaseTimeout bounds a single build phase. Zero means no limit.
	PhaseTimeout time.Duration `yaml:"phase_timeout"`

	// DefaultCompiler is the root's compiler when the request names none.
	DefaultCompiler string `yaml:"default_compiler"`

	// Compilers lists the available compilers, e.g. "clang@17.0.6".
	Compilers []string `yaml:"compilers"`

	// DefaultArch is the root's architecture when the request names none.
	DefaultArch string `yaml:"default_arch"`

	// MaxPasses bounds fixed-point expansion during concretization.
	MaxPasses int `yaml:"max_passes"`

	// Pins force a package to one version regardless of ranges.
	Pins map[string]string `yaml:"pins"`

	// Providers lists preferred providers per virtual, tried first.
	Providers map[string][]string `yaml:"providers"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		InstallRoot:     filepath.Join(".smelt", "opt"),
		StageRoot:       filepath.Join(".smelt", "stage"),
		Database:        filepath.Join(".smelt", "installed.db"),
		Jobs:            runtime.NumCPU(),
		LockTimeout:     DefaultLockTimeout,
		DefaultCompiler: DefaultCompiler,
		DefaultArch:     runtime.GOOS + "-" + runtime.GOARCH,
		MaxPasses:       DefaultMaxPasses,
	}
}

// Load reads a YAML file over the defaults. Relative paths in the file are
// resolved against the file's directory. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.InstallRoot = abs(c.InstallRoot)
	c.StageRoot = abs(c.StageRoot)
	c.Database = abs(c.Database)
	for i, r := range c.Repos {
		c.Repos[i] = abs(r)
	}
}

// Validate checks ranges and that every spec-valued setting parses.
func (c *Config) Validate() error {
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1, got %d", c.Jobs)
	}
	if c.MaxPasses < 1 {
		return fmt.Errorf("max_passes must be at least 1, got %d", c.MaxPasses)
	}
	if c.LockTimeout < 0 || c.PhaseTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.DefaultArch == "" {
		return fmt.Errorf("default_arch is required")
	}
	if _, err := c.DefaultCompilerSpec(); err != nil {
		return err
	}
	if _, err := c.CompilerSpecs(); err != nil {
		return err
	}
	if _, err := c.PinnedVersions(); err != nil {
		return err
	}
	return nil
}

// DefaultCompilerSpec parses DefaultCompiler.
func (c *Config) DefaultCompilerSpec() (spec.CompilerSpec, error) {
	return parseCompiler(c.DefaultCompiler)
}

// CompilerSpecs returns the available compilers. The default compiler is
// always included.
func (c *Config) CompilerSpecs() ([]spec.CompilerSpec, error) {
	def, err := c.DefaultCompilerSpec()
	if err != nil {
		return nil, err
	}
	out := []spec.CompilerSpec{def}
	for _, raw := range c.Compilers {
		cs, err := parseCompiler(raw)
		if err != nil {
			return nil, err
		}
		if cs.String() != def.String() {
			out = append(out, cs)
		}
	}
	return out, nil
}

// PinnedVersions parses Pins.
func (c *Config) PinnedVersions() (map[string]spec.Version, error) {
	out := make(map[string]spec.Version, len(c.Pins))
	for pkg, raw := range c.Pins {
		v, err := spec.ParseVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("pins.%s: %w", pkg, err)
		}
		out[pkg] = v
	}
	return out, nil
}

// parseCompiler accepts "name@version"; the version must be exact.
func parseCompiler(raw string) (spec.CompilerSpec, error) {
	s, err := spec.Parse("%" + raw)
	if err != nil || s.Compiler == nil || s.Name != "" || len(s.Variants) > 0 || len(s.Deps) > 0 {
		return spec.CompilerSpec{}, fmt.Errorf("invalid compiler %q: want name@version", raw)
	}
	cs := spec.CompilerSpec{Name: s.Compiler.Name}
	switch len(s.Compiler.Versions) {
	case 0:
		return spec.CompilerSpec{}, fmt.Errorf("invalid compiler %q: version is required", raw)
	case 1:
		r := s.Compiler.Versions[0]
		if r.Lo == nil || r.Hi == nil || !r.Lo.Equal(*r.Hi) {
			return spec.CompilerSpec{}, fmt.Errorf("invalid compiler %q: version must be exact", raw)
		}
		cs.Version = *r.Lo
	default:
		return spec.CompilerSpec{}, fmt.Errorf("invalid compiler %q: version must be exact", raw)
	}
	return cs, nil
}
