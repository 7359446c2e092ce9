package spec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantCoerceBool(t *testing.T) {
	def := VariantDef{Name: "debug", Kind: KindBool, Default: BoolValue(false)}

	v, err := def.Coerce(BoolValue(true))
	require.NoError(t, err)
	assert.Equal(t, BoolValue(true), v)

	v, err = def.Coerce(EnumValue("False"))
	require.NoError(t, err)
	assert.Equal(t, BoolValue(false), v)

	_, err = def.Coerce(EnumValue("maybe"))
	var verr *VariantError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "debug", verr.Variant)
	assert.Equal(t, "maybe", verr.Value)
}

func TestVariantCoerceSingle(t *testing.T) {
	def := VariantDef{Name: "build_type", Kind: KindSingle, Allowed: []string{"Debug", "Release"}}

	v, err := def.Coerce(EnumValue("Release"))
	require.NoError(t, err)
	assert.Equal(t, EnumValue("Release"), v)

	_, err = def.Coerce(EnumValue("Fast"))
	assert.Error(t, err)

	_, err = def.Coerce(BoolValue(true))
	assert.Error(t, err)

	_, err = def.Coerce(NewSetValue("Debug", "Release"))
	assert.Error(t, err)
}

func TestVariantCoerceMulti(t *testing.T) {
	def := VariantDef{Name: "languages", Kind: KindMulti, Allowed: []string{"c", "cxx", "fortran"}}

	v, err := def.Coerce(EnumValue("cxx"))
	require.NoError(t, err)
	assert.Equal(t, SetValue{"cxx"}, v)

	v, err = def.Coerce(NewSetValue("fortran", "c"))
	require.NoError(t, err)
	assert.Equal(t, SetValue{"c", "fortran"}, v)

	_, err = def.Coerce(NewSetValue("c", "rust"))
	assert.Error(t, err)
}

func TestVariantCoerceString(t *testing.T) {
	def := VariantDef{Name: "cflags", Kind: KindString}

	v, err := def.Coerce(EnumValue("-O2"))
	require.NoError(t, err)
	assert.Equal(t, StringValue("-O2"), v)

	_, err = def.Coerce(BoolValue(true))
	assert.Error(t, err)
}

func TestVariantMerge(t *testing.T) {
	multi := VariantDef{Name: "languages", Kind: KindMulti}
	got, ok := multi.Merge(NewSetValue("c"), NewSetValue("cxx", "c"))
	require.True(t, ok)
	assert.Equal(t, SetValue{"c", "cxx"}, got)

	boolean := VariantDef{Name: "debug", Kind: KindBool}
	_, ok = boolean.Merge(BoolValue(true), BoolValue(false))
	assert.False(t, ok)

	got, ok = boolean.Merge(BoolValue(true), BoolValue(true))
	require.True(t, ok)
	assert.Equal(t, BoolValue(true), got)
}

func TestValueSatisfies(t *testing.T) {
	assert.True(t, ValueSatisfies(NewSetValue("c", "cxx"), EnumValue("c")))
	assert.True(t, ValueSatisfies(NewSetValue("c", "cxx"), NewSetValue("cxx", "c")))
	assert.False(t, ValueSatisfies(NewSetValue("c"), NewSetValue("c", "cxx")))
	assert.True(t, ValueSatisfies(BoolValue(true), BoolValue(true)))
	assert.False(t, ValueSatisfies(EnumValue("Debug"), EnumValue("Release")))
	assert.True(t, ValueSatisfies(StringValue("-O2"), EnumValue("-O2")))
}

func TestFormatVariant(t *testing.T) {
	assert.Equal(t, "+debug", FormatVariant("debug", BoolValue(true)))
	assert.Equal(t, "~debug", FormatVariant("debug", BoolValue(false)))
	assert.Equal(t, "languages=c,cxx", FormatVariant("languages", NewSetValue("cxx", "c")))
}

func TestParseVariantKind(t *testing.T) {
	for _, k := range []VariantKind{KindBool, KindSingle, KindMulti, KindString} {
		got, err := ParseVariantKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseVariantKind("float")
	assert.Error(t, err)
}

func TestParseDepType(t *testing.T) {
	d, err := ParseDepType("")
	require.NoError(t, err)
	assert.Equal(t, DepDefault, d)

	d, err = ParseDepType("run, build")
	require.NoError(t, err)
	assert.Equal(t, "build,run", d.String())

	d, err = ParseDepType("all")
	require.NoError(t, err)
	assert.Equal(t, DepAll, d)
	assert.True(t, d.Has(DepLink))

	_, err = ParseDepType("test")
	assert.Error(t, err)
}
