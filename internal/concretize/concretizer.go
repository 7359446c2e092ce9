// Package concretize turns abstract specs into concrete, hashed DAGs.
//
// Concretization is constraint propagation, not search: every pass
// re-expands the request from the root using the bindings derived by the
// previous pass, and the result is accepted once a pass uses exactly the
// bindings it derives. Identical inputs always give the same dag hash.
package concretize

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/smelt/internal/config"
	"github.com/roach88/smelt/internal/repo"
	"github.com/roach88/smelt/internal/spec"
)

// DefaultCacheSize is the number of concretized requests kept in memory.
const DefaultCacheSize = 1024

// Concretizer resolves abstract specs against an immutable package index.
// It is safe for concurrent use: per-request state is local to the call.
type Concretizer struct {
	index     *repo.Index
	providers *repo.ProviderIndex

	defaultCompiler spec.CompilerSpec
	compilers       []spec.CompilerSpec
	defaultArch     string
	pins            map[string]spec.Version
	maxPasses       int

	interner  *spec.Interner
	cacheSize int
	cache     *lru.Cache[string, *spec.ConcreteSpec]
	logger    *slog.Logger
}

// Option configures a Concretizer.
type Option func(*Concretizer)

// WithMaxPasses bounds fixed-point expansion.
func WithMaxPasses(n int) Option {
	return func(c *Concretizer) { c.maxPasses = n }
}

// WithCompilers sets the root's default compiler and the compilers that
// explicit %compiler constraints may select. def is always available.
func WithCompilers(def spec.CompilerSpec, available ...spec.CompilerSpec) Option {
	return func(c *Concretizer) {
		c.defaultCompiler = def
		c.compilers = append([]spec.CompilerSpec{def}, available...)
	}
}

// WithDefaultArch sets the root's architecture when the request names none.
func WithDefaultArch(arch string) Option {
	return func(c *Concretizer) { c.defaultArch = arch }
}

// WithPins forces packages to exact versions.
func WithPins(pins map[string]spec.Version) Option {
	return func(c *Concretizer) { c.pins = pins }
}

// WithInterner shares an intern table, e.g. with the installed database.
func WithInterner(in *spec.Interner) Option {
	return func(c *Concretizer) { c.interner = in }
}

// WithCacheSize sets the result cache size; zero disables caching.
func WithCacheSize(n int) Option {
	return func(c *Concretizer) { c.cacheSize = n }
}

// WithLogger sets the logger for pass-level debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Concretizer) { c.logger = l }
}

// OptionsFromConfig translates configuration into options.
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	compilers, err := cfg.CompilerSpecs()
	if err != nil {
		return nil, err
	}
	pins, err := cfg.PinnedVersions()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithCompilers(compilers[0], compilers[1:]...),
		WithDefaultArch(cfg.DefaultArch),
		WithPins(pins),
		WithMaxPasses(cfg.MaxPasses),
	}, nil
}

// New builds a Concretizer. Defaults follow config.Default.
func New(index *repo.Index, providers *repo.ProviderIndex, opts ...Option) *Concretizer {
	def := config.Default()
	c := &Concretizer{
		index:       index,
		providers:   providers,
		defaultArch: def.DefaultArch,
		pins:        map[string]spec.Version{},
		maxPasses:   def.MaxPasses,
		cacheSize:   DefaultCacheSize,
		logger:      slog.Default(),
	}
	if cs, err := def.DefaultCompilerSpec(); err == nil {
		c.defaultCompiler = cs
		c.compilers = []spec.CompilerSpec{cs}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interner == nil {
		c.interner = spec.NewInterner()
	}
	if c.cacheSize > 0 {
		// lru.New only fails for a non-positive size.
		c.cache, _ = lru.New[string, *spec.ConcreteSpec](c.cacheSize)
	}
	return c
}

// Interner returns the intern table shared by every result.
func (c *Concretizer) Interner() *spec.Interner { return c.interner }

// Index returns the package index.
func (c *Concretizer) Index() *repo.Index { return c.index }

// Concretize resolves req into one concrete DAG or fails with a
// *ConcretizationError. req is not modified.
func (c *Concretizer) Concretize(ctx context.Context, req *spec.AbstractSpec) (*spec.ConcreteSpec, error) {
	if req == nil || req.Name == "" {
		return nil, unsatisfiable("", "request must name a package")
	}
	if req.Hash != "" {
		return nil, unsatisfiable(req.Name, "hash constraints only apply to installed specs")
	}
	key := req.Key()
	if c.cache != nil {
		if s, ok := c.cache.Get(key); ok {
			c.logger.Debug("concretization cache hit", "spec", key, "hash", s.ShortHash(7))
			return s, nil
		}
	}

	prev := &state{bindings: map[string]*binding{}, virtualCons: map[string][]*spec.AbstractSpec{}}
	for n := 1; n <= c.maxPasses; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := c.runPass(req, prev)
		if err != nil {
			return nil, err
		}
		next, converged, err := p.finish()
		if err != nil {
			return nil, err
		}
		c.logger.Debug("concretization pass",
			"spec", key, "pass", n, "nodes", len(p.order), "converged", converged)
		if !converged {
			prev = next
			continue
		}
		if err := p.checkRequested(req); err != nil {
			return nil, err
		}
		if err := p.checkCycles(); err != nil {
			return nil, err
		}
		root, err := p.build()
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Add(key, root)
		}
		return root, nil
	}
	return nil, &ConcretizationError{
		Reason:  ReasonNonConvergent,
		Package: req.Name,
		Message: fmt.Sprintf("no fixed point after %d passes", c.maxPasses),
	}
}
