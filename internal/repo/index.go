package repo

import (
	"fmt"
	"maps"
	"slices"
)

// Index is an immutable lookup of package definitions by name.
// Build it once with NewIndex and share it; it needs no locking.
type Index struct {
	packages map[string]*Package
	names    []string
	virtuals map[string]bool
}

// NewIndex validates pkgs and builds an Index.
// A name may be defined once, and may not be both a package and a virtual.
func NewIndex(pkgs ...*Package) (*Index, error) {
	idx := &Index{
		packages: make(map[string]*Package, len(pkgs)),
		virtuals: map[string]bool{},
	}
	for _, p := range pkgs {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := idx.packages[p.Name]; dup {
			return nil, fmt.Errorf("package %s defined twice", p.Name)
		}
		idx.packages[p.Name] = p
	}
	for _, p := range pkgs {
		for _, v := range p.ProvidedVirtuals() {
			if _, clash := idx.packages[v]; clash {
				return nil, fmt.Errorf("package %s provides %s, which is also a package name", p.Name, v)
			}
			idx.virtuals[v] = true
		}
	}
	idx.names = slices.Sorted(maps.Keys(idx.packages))
	return idx, nil
}

// MustNewIndex is like NewIndex but panics on error.
func MustNewIndex(pkgs ...*Package) *Index {
	idx, err := NewIndex(pkgs...)
	if err != nil {
		panic(err)
	}
	return idx
}

// Get returns the package named name.
func (idx *Index) Get(name string) (*Package, bool) {
	p, ok := idx.packages[name]
	return p, ok
}

// Names returns all package names in sorted order.
func (idx *Index) Names() []string { return slices.Clone(idx.names) }

// IsVirtual reports whether name is a virtual capability.
func (idx *Index) IsVirtual(name string) bool { return idx.virtuals[name] }

// Exists reports whether name is a package or a virtual.
func (idx *Index) Exists(name string) bool {
	_, ok := idx.packages[name]
	return ok || idx.virtuals[name]
}

// Virtuals returns all virtual names in sorted order.
func (idx *Index) Virtuals() []string {
	return slices.Sorted(maps.Keys(idx.virtuals))
}

// Len returns the number of packages.
func (idx *Index) Len() int { return len(idx.packages) }
