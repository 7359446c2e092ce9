// Package deps answers "what does this spec depend on" for hypothetical
// specs (by concretizing them), for installed specs (by reading the
// installed database) and for every possible configuration of a package
// (by walking the package index).
package deps

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/smelt/internal/concretize"
	"github.com/roach88/smelt/internal/repo"
	"github.com/roach88/smelt/internal/spec"
	"github.com/roach88/smelt/internal/store"
)

// ErrNoDatabase is returned for installed queries on a service built
// without an installed database.
var ErrNoDatabase = errors.New("no installed database configured")

// Options selects the query mode.
type Options struct {
	// Transitive returns the full reachable closure instead of one hop.
	Transitive bool
	// Installed answers from the installed database and returns hashes.
	Installed bool
	// Possible ignores concretization and lists every package any
	// configuration could depend on, expanding virtuals to all providers.
	Possible bool
	// Types filters edges; zero means build, link and run.
	Types spec.DepType
}

func (o Options) types() spec.DepType {
	if o.Types == 0 {
		return spec.DepAll
	}
	return o.Types
}

// Dependency is one result entry. Hash and Version are empty for
// possible-mode results; Hash is empty for hypothetical results.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Hash    string `json:"hash,omitempty"`
}

// Result is the answer to one query.
type Result struct {
	// Root is the resolved root node; nil in possible mode.
	Root *spec.ConcreteSpec `json:"-"`
	// Installed reports whether entries are identified by hash.
	Installed    bool         `json:"installed"`
	Dependencies []Dependency `json:"dependencies"`
}

// Names returns the entry names in result order.
func (r *Result) Names() []string {
	out := make([]string, len(r.Dependencies))
	for i, d := range r.Dependencies {
		out[i] = d.Name
	}
	return out
}

// Hashes returns the entry hashes in result order.
func (r *Result) Hashes() []string {
	out := make([]string, len(r.Dependencies))
	for i, d := range r.Dependencies {
		out[i] = d.Hash
	}
	return out
}

// Service answers dependency queries. The database may be nil when only
// hypothetical and possible queries are needed.
type Service struct {
	concretizer *concretize.Concretizer
	providers   *repo.ProviderIndex
	db          *store.Store
	logger      *slog.Logger
}

// NewService wires a Service.
func NewService(c *concretize.Concretizer, providers *repo.ProviderIndex, db *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{concretizer: c, providers: providers, db: db, logger: logger}
}

// Dependencies runs one query.
func (s *Service) Dependencies(ctx context.Context, query string, opts Options) (*Result, error) {
	q, err := spec.Parse(query)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Possible && opts.Installed:
		return nil, errors.New("possible and installed queries are mutually exclusive")
	case opts.Possible:
		return s.possible(q, opts)
	case opts.Installed:
		return s.installed(ctx, query, opts)
	}
	return s.hypothetical(ctx, q, opts)
}

func (s *Service) hypothetical(ctx context.Context, q *spec.AbstractSpec, opts Options) (*Result, error) {
	root, err := s.concretizer.Concretize(ctx, q)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	res := &Result{Root: root, Dependencies: []Dependency{}}
	for _, n := range reach(root, opts) {
		if seen[n.Name] {
			continue
		}
		seen[n.Name] = true
		res.Dependencies = append(res.Dependencies, Dependency{Name: n.Name, Version: n.Version.String()})
	}
	slices.SortFunc(res.Dependencies, func(a, b Dependency) int { return strings.Compare(a.Name, b.Name) })
	s.logger.Debug("dependency query", "spec", q.String(), "mode", "hypothetical", "results", len(res.Dependencies))
	return res, nil
}

func (s *Service) installed(ctx context.Context, query string, opts Options) (*Result, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	rec, err := s.db.QueryOne(ctx, query)
	if err != nil {
		return nil, err
	}
	res := &Result{Root: rec.Spec, Installed: true, Dependencies: []Dependency{}}
	for _, n := range reach(rec.Spec, opts) {
		res.Dependencies = append(res.Dependencies, entry(n))
	}
	sortEntries(res.Dependencies)
	s.logger.Debug("dependency query", "spec", query, "mode", "installed",
		"hash", rec.Spec.ShortHash(7), "results", len(res.Dependencies))
	return res, nil
}

// Dependents lists installed records that depend on the record query
// names, directly or, with Transitive, through any chain of edges.
func (s *Service) Dependents(ctx context.Context, query string, opts Options) (*Result, error) {
	if s.db == nil {
		return nil, ErrNoDatabase
	}
	rec, err := s.db.QueryOne(ctx, query)
	if err != nil {
		return nil, err
	}
	res := &Result{Root: rec.Spec, Installed: true, Dependencies: []Dependency{}}
	seen := map[string]bool{rec.Hash(): true}
	queue := []string{rec.Hash()}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		parents, err := s.db.Dependents(ctx, hash)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if seen[p] {
				continue
			}
			seen[p] = true
			parent, err := s.db.LookupByHash(ctx, p)
			if err != nil {
				return nil, err
			}
			res.Dependencies = append(res.Dependencies, entry(parent.Spec))
			if opts.Transitive {
				queue = append(queue, p)
			}
		}
	}
	sortEntries(res.Dependencies)
	return res, nil
}

// possible walks package declarations from q's package, following every
// edge regardless of its when-predicate and every provider of a virtual.
func (s *Service) possible(q *spec.AbstractSpec, opts Options) (*Result, error) {
	idx := s.concretizer.Index()
	start := []string{q.Name}
	if idx.IsVirtual(q.Name) {
		start = s.providers.ProviderNames(q.Name)
	} else if _, ok := idx.Get(q.Name); !ok {
		return nil, &concretize.ConcretizationError{
			Reason:  concretize.ReasonUnsatisfiable,
			Package: q.Name,
			Message: "unknown package",
		}
	}

	types := opts.types()
	seen := map[string]bool{}
	var names []string
	queue := slices.Clone(start)
	expanded := map[string]bool{}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if expanded[name] {
			continue
		}
		expanded[name] = true
		pkg, _ := idx.Get(name)
		for _, d := range pkg.Dependencies {
			if !d.Types.Has(types) {
				continue
			}
			targets := []string{d.Spec.Name}
			if idx.IsVirtual(d.Spec.Name) {
				targets = s.providers.ProviderNames(d.Spec.Name)
			}
			for _, t := range targets {
				if !seen[t] {
					seen[t] = true
					names = append(names, t)
				}
				if opts.Transitive {
					queue = append(queue, t)
				}
			}
		}
	}
	slices.Sort(names)
	res := &Result{Dependencies: make([]Dependency, len(names))}
	for i, n := range names {
		res.Dependencies[i] = Dependency{Name: n}
	}
	return res, nil
}

// reach returns the direct dependencies or the closure of root under the
// type filter.
func reach(root *spec.ConcreteSpec, opts Options) []*spec.ConcreteSpec {
	if opts.Transitive {
		return root.Closure(opts.types())
	}
	return root.Dependencies(opts.types())
}

func entry(n *spec.ConcreteSpec) Dependency {
	return Dependency{Name: n.Name, Version: n.Version.String(), Hash: n.DAGHash()}
}

func sortEntries(ds []Dependency) {
	slices.SortFunc(ds, func(a, b Dependency) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Hash, b.Hash)
	})
}
