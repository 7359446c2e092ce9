package spec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullSpec(t *testing.T) {
	s, err := Parse("mpileaks@1.2:1.4+debug~shared%gcc@12 cflags=-O2 arch=linux-x86_64 ^callpath@1.0 ^mpich")
	require.NoError(t, err)

	assert.Equal(t, "mpileaks", s.Name)
	assert.Equal(t, "1.2:1.4", s.Versions.String())
	assert.Equal(t, BoolValue(true), s.Variants["debug"])
	assert.Equal(t, BoolValue(false), s.Variants["shared"])
	assert.Equal(t, EnumValue("-O2"), s.Variants["cflags"])
	require.NotNil(t, s.Compiler)
	assert.Equal(t, "gcc", s.Compiler.Name)
	assert.Equal(t, "12", s.Compiler.Versions.String())
	assert.Equal(t, "linux-x86_64", s.Arch)

	require.Len(t, s.Deps, 2)
	assert.Equal(t, "callpath", s.Deps[0].Spec.Name)
	assert.Equal(t, "1.0", s.Deps[0].Spec.Versions.String())
	assert.Equal(t, DepType(0), s.Deps[0].Types)
	assert.Equal(t, "mpich", s.Deps[1].Spec.Name)
}

func TestParseStringRoundTrip(t *testing.T) {
	inputs := []string{
		"mpileaks@1.2:1.4+debug~shared%gcc@12 cflags=-O2 arch=linux-x86_64 ^callpath@1.0 ^mpich",
		"mpileaks",
		"mpileaks ^mpich",
		"+binanalysis",
		"@19.0:",
		"hdf5 languages=c,cxx",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			s, err := Parse(in)
			require.NoError(t, err)
			assert.Equal(t, in, s.String())
		})
	}
}

func TestParseCanonicalizesVariantOrder(t *testing.T) {
	a := MustParse("mpileaks~shared+debug")
	b := MustParse("mpileaks+debug~shared")
	assert.Equal(t, a.String(), b.String())
}

func TestParseAnonymous(t *testing.T) {
	s := MustParse("+binanalysis")
	assert.True(t, s.IsAnonymous())
	assert.Equal(t, BoolValue(true), s.Variants["binanalysis"])

	s = MustParse("@19.0:")
	assert.True(t, s.IsAnonymous())
	assert.True(t, s.Versions.Contains(MustParseVersion("19.4")))
}

func TestParseHash(t *testing.T) {
	s := MustParse("/ABC123")
	assert.Equal(t, "abc123", s.Hash)
	assert.Empty(t, s.Name)

	s = MustParse("mpileaks ^/abc")
	require.Len(t, s.Deps, 1)
	assert.Equal(t, "abc", s.Deps[0].Spec.Hash)
}

func TestParseMultiValuedVariant(t *testing.T) {
	s := MustParse("hdf5 languages=fortran,c")
	assert.Equal(t, SetValue{"c", "fortran"}, s.Variants["languages"])
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"mpileaks@",
		"+",
		"mpileaks ^",
		"mpileaks callpath",
		"mpileaks+debug+debug",
		"mpileaks%",
		"mpileaks%gcc%clang",
		"mpileaks@1.0@2.0",
		"mpileaks cflags=",
		"mpileaks!",
		"/",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func TestAbstractSpecClone(t *testing.T) {
	orig := MustParse("mpileaks+debug%gcc@12 ^callpath@1.0")
	c := orig.Clone()
	c.Variants["debug"] = BoolValue(false)
	c.Deps[0].Spec.Name = "other"
	c.Compiler.Name = "clang"

	assert.Equal(t, BoolValue(true), orig.Variants["debug"])
	assert.Equal(t, "callpath", orig.Deps[0].Spec.Name)
	assert.Equal(t, "gcc", orig.Compiler.Name)
}

func TestAbstractSpecIsEmpty(t *testing.T) {
	assert.True(t, (&AbstractSpec{}).IsEmpty())
	assert.False(t, MustParse("+debug").IsEmpty())
}

func TestAbstractSpecKeySeparatesEdgeTypes(t *testing.T) {
	constraint := MustParse("libelf ^autoconf")
	build := MustParse("libelf")
	build.AddDependency(MustParse("autoconf"), DepBuild)
	link := MustParse("libelf")
	link.AddDependency(MustParse("autoconf"), DepLink)

	assert.Equal(t, constraint.String(), build.String())
	assert.Equal(t, "libelf ^autoconf", constraint.Key())
	assert.Equal(t, "libelf ^[build]autoconf", build.Key())
	assert.Equal(t, "libelf ^[link]autoconf", link.Key())
}
