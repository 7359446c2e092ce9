package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smelt/internal/spec"
)

func pkg(name string, versions ...string) *Package {
	p := &Package{Name: name}
	for _, v := range versions {
		p.Versions = append(p.Versions, DeclaredVersion{Version: spec.MustParseVersion(v)})
	}
	return p
}

func TestNewIndexRejectsDuplicates(t *testing.T) {
	_, err := NewIndex(pkg("zlib", "1.3"), pkg("zlib", "1.2"))
	assert.ErrorContains(t, err, "defined twice")
}

func TestNewIndexRejectsVirtualNameClash(t *testing.T) {
	provider := pkg("openblas", "0.3")
	provider.Provides = []Provide{{Virtual: spec.MustParse("blas")}}
	_, err := NewIndex(provider, pkg("blas", "3.0"))
	assert.ErrorContains(t, err, "also a package name")
}

func TestNewIndexValidates(t *testing.T) {
	_, err := NewIndex(pkg("empty"))
	assert.ErrorContains(t, err, "no versions")

	self := pkg("loop", "1.0")
	self.Dependencies = []Dependency{{Spec: spec.MustParse("loop"), Types: spec.DepDefault}}
	_, err = NewIndex(self)
	assert.ErrorContains(t, err, "depends on itself")

	caret := pkg("app", "1.0")
	caret.Dependencies = []Dependency{{Spec: spec.MustParse("lib ^zlib"), Types: spec.DepDefault}}
	_, err = NewIndex(caret)
	assert.ErrorContains(t, err, "'^'")
}

func TestProviderIndexOrder(t *testing.T) {
	idx := loadBuiltin(t)
	pi := NewProviderIndex(idx, nil)

	assert.Equal(t, []string{"mpich", "mpich2", "multi-provider-mpi", "zmpi"}, pi.ProviderNames("mpi"))
	entries := pi.Providers("mpi")
	require.Len(t, entries, 2+3+6+1)
	assert.Equal(t, "mpi@:3", entries[0].Provides.String())
	assert.Equal(t, "@3:", entries[0].When.String())
	assert.Nil(t, entries[len(entries)-1].When)
	assert.Empty(t, pi.Providers("blas"))
}

func TestProviderIndexPreferences(t *testing.T) {
	idx := loadBuiltin(t)
	pi := NewProviderIndex(idx, map[string][]string{
		"mpi":  {"zmpi", "mpich2"},
		"blas": {"openblas"},
	})
	assert.Equal(t, []string{"zmpi", "mpich2", "mpich", "multi-provider-mpi"}, pi.ProviderNames("mpi"))
}

func TestProvidersReturnsCopy(t *testing.T) {
	idx := loadBuiltin(t)
	pi := NewProviderIndex(idx, nil)
	entries := pi.Providers("mpi")
	entries[0].Package = "changed"
	assert.Equal(t, "mpich", pi.Providers("mpi")[0].Package)
}
