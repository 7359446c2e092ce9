package build

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smelt/internal/spec"
)

func TestLayout_Prefix(t *testing.T) {
	s := &spec.ConcreteSpec{
		Name:     "libelf",
		Version:  spec.MustParseVersion("0.8.13"),
		Compiler: spec.CompilerSpec{Name: "gcc", Version: spec.MustParseVersion("13.2.0")},
		Arch:     "linux-x86_64",
	}
	require.NoError(t, s.Finalize())

	got := Layout{Root: "/opt/smelt"}.Prefix(s)
	want := filepath.Join("/opt/smelt", "linux-x86_64", "gcc-13.2.0", "libelf-0.8.13-"+s.ShortHash(7))
	assert.Equal(t, want, got)
}

func TestLayout_DistinctHashesDistinctPrefixes(t *testing.T) {
	f := newFixture(t)
	a := f.concretize(t, "mpileaks")
	b := f.concretize(t, "mpileaks ^zmpi")

	assert.NotEqual(t, f.layout.Prefix(a), f.layout.Prefix(b))
	assert.Equal(t, f.layout.Prefix(a.Lookup("libelf")), f.layout.Prefix(b.Lookup("libelf")))
}
