package repo

import (
	"slices"

	"github.com/roach88/smelt/internal/spec"
)

// ProviderEntry is one way of satisfying a virtual.
type ProviderEntry struct {
	Package string
	// Provides is the virtual as declared, e.g. mpi@:3.
	Provides *spec.AbstractSpec
	// When gates the provide on the provider's own attributes; nil means always.
	When *spec.AbstractSpec
}

// ProviderIndex maps virtual names to ordered provider entries.
// Order is the tie-break for provider choice: preferred packages first in
// preference order, then the rest by package name, each package's entries
// in declaration order.
type ProviderIndex struct {
	providers map[string][]ProviderEntry
}

// NewProviderIndex derives the provider index from idx. prefs maps a
// virtual name to packages that should be tried first.
func NewProviderIndex(idx *Index, prefs map[string][]string) *ProviderIndex {
	pi := &ProviderIndex{providers: map[string][]ProviderEntry{}}
	for _, name := range idx.Names() {
		p, _ := idx.Get(name)
		for _, pr := range p.Provides {
			v := pr.Virtual.Name
			pi.providers[v] = append(pi.providers[v], ProviderEntry{
				Package:  p.Name,
				Provides: pr.Virtual,
				When:     pr.When,
			})
		}
	}
	for v, order := range prefs {
		entries, ok := pi.providers[v]
		if !ok {
			continue
		}
		rank := func(pkg string) int {
			if i := slices.Index(order, pkg); i >= 0 {
				return i
			}
			return len(order)
		}
		slices.SortStableFunc(entries, func(a, b ProviderEntry) int {
			return rank(a.Package) - rank(b.Package)
		})
	}
	return pi
}

// Providers returns the entries for virtual in tie-break order.
func (pi *ProviderIndex) Providers(virtual string) []ProviderEntry {
	return slices.Clone(pi.providers[virtual])
}

// ProviderNames returns the distinct provider package names for virtual,
// in tie-break order.
func (pi *ProviderIndex) ProviderNames(virtual string) []string {
	var out []string
	for _, e := range pi.providers[virtual] {
		if !slices.Contains(out, e.Package) {
			out = append(out, e.Package)
		}
	}
	return out
}
