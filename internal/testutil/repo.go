// Package testutil holds fixtures shared by package tests: a mock package
// repository, a deterministic clock and a fixed run ID generator.
package testutil

import (
	_ "embed"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/smelt/internal/repo"
)

//go:embed testdata/repo.cue
var builtinRepo []byte

// FlipFlopRepo defines two packages whose conditional dependencies toggle
// each other's variant on every expansion, so they never reach a fixed point.
const FlipFlopRepo = `
packages: flip: {
	versions: [{version: "1.0"}]
	variants: v: {default: false}
	dependencies: [{spec: "flop", when: "~v"}]
}
packages: flop: {
	versions: [{version: "1.0"}]
	dependencies: [{spec: "flip+v"}]
}
`

// CycleRepo defines two packages that depend on each other.
const CycleRepo = `
packages: "cyc-a": {
	versions: [{version: "1.0"}]
	dependencies: [{spec: "cyc-b"}]
}
packages: "cyc-b": {
	versions: [{version: "1.0"}]
	dependencies: [{spec: "cyc-a"}]
}
`

// BuiltinSource returns the CUE source of the mock repository.
func BuiltinSource() []byte {
	out := make([]byte, len(builtinRepo))
	copy(out, builtinRepo)
	return out
}

// Packages compiles the mock repository plus any extra CUE documents.
func Packages(t testing.TB, extra ...string) []*repo.Package {
	t.Helper()
	pkgs, err := repo.ParseSource("repo.cue", builtinRepo)
	require.NoError(t, err)
	for i, src := range extra {
		more, err := repo.ParseSource(fmt.Sprintf("extra%d.cue", i), []byte(src))
		require.NoError(t, err)
		pkgs = append(pkgs, more...)
	}
	return pkgs
}

// Index builds an Index from the mock repository plus any extra documents.
func Index(t testing.TB, extra ...string) *repo.Index {
	t.Helper()
	idx, err := repo.NewIndex(Packages(t, extra...)...)
	require.NoError(t, err)
	return idx
}

// Providers builds the provider index for idx with no preferences.
func Providers(idx *repo.Index) *repo.ProviderIndex {
	return repo.NewProviderIndex(idx, nil)
}
