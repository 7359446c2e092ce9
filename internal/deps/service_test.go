package deps

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smelt/internal/concretize"
	"github.com/roach88/smelt/internal/spec"
	"github.com/roach88/smelt/internal/store"
	"github.com/roach88/smelt/internal/testutil"
)

type fixture struct {
	svc *Service
	c   *concretize.Concretizer
	db  *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx := testutil.Index(t)
	providers := testutil.Providers(idx)
	c := concretize.New(idx, providers, concretize.WithDefaultArch("linux-x86_64"))
	db, err := store.Open(filepath.Join(t.TempDir(), "installed.db"),
		store.WithInterner(c.Interner()),
		store.WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &fixture{svc: NewService(c, providers, db, nil), c: c, db: db}
}

func (f *fixture) install(t *testing.T, req string) *spec.ConcreteSpec {
	t.Helper()
	root, err := f.c.Concretize(context.Background(), spec.MustParse(req))
	require.NoError(t, err)
	for _, n := range root.TopoOrder() {
		_, err := f.db.Insert(context.Background(), store.Record{Spec: n, Prefix: "/opt/" + n.Name, Explicit: n == root})
		require.NoError(t, err)
	}
	return root
}

func TestDependencies_Direct(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Dependencies(context.Background(), "mpileaks", Options{})
	require.NoError(t, err)
	assert.False(t, res.Installed)
	assert.Equal(t, []string{"callpath", "mpich"}, res.Names())
	assert.Equal(t, "mpileaks", res.Root.Name)
	for _, d := range res.Dependencies {
		assert.Empty(t, d.Hash)
	}
}

func TestDependencies_DirectOneProviderPerVirtual(t *testing.T) {
	f := newFixture(t)
	mpiNames := map[string]bool{"mpich": true, "mpich2": true, "multi-provider-mpi": true, "zmpi": true}

	for _, req := range []string{"mpileaks", "mpileaks ^mpich2", "mpileaks ^multi-provider-mpi", "mpileaks ^zmpi"} {
		res, err := f.svc.Dependencies(context.Background(), req, Options{})
		require.NoError(t, err, req)
		names := res.Names()
		require.Len(t, names, 2, req)
		assert.Equal(t, "callpath", names[0], req)
		assert.True(t, mpiNames[names[1]], "%s: %s is not an mpi provider", req, names[1])
	}
}

func TestDependencies_PossibleUnion(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Dependencies(context.Background(), "mpileaks", Options{Possible: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"callpath", "mpich", "mpich2", "multi-provider-mpi", "zmpi"}, res.Names())
	assert.Nil(t, res.Root)
}

func TestDependencies_PossibleTransitive(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Dependencies(context.Background(), "rose", Options{Possible: true, Transitive: true})
	require.NoError(t, err)
	// Conditional edges are included.
	assert.Equal(t, []string{"autoconf", "dyninst", "libdwarf", "libelf"}, res.Names())

	res, err = f.svc.Dependencies(context.Background(), "rose", Options{Possible: true, Types: spec.DepBuild})
	require.NoError(t, err)
	assert.Equal(t, []string{"autoconf", "dyninst", "libdwarf", "libelf"}, res.Names())

	res, err = f.svc.Dependencies(context.Background(), "dlib", Options{Possible: true, Types: spec.DepBuild})
	require.NoError(t, err)
	assert.Empty(t, res.Names())
}

func TestDependencies_Transitive(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Dependencies(context.Background(), "mpileaks ^zmpi", Options{Transitive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"callpath", "dyninst", "fake", "libdwarf", "libelf", "zmpi"}, res.Names())

	res, err = f.svc.Dependencies(context.Background(), "mpileaks", Options{Transitive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"callpath", "dyninst", "libdwarf", "libelf", "mpich"}, res.Names())
}

func TestDependencies_TypeFilter(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Dependencies(context.Background(), "rose", Options{Types: spec.DepLink})
	require.NoError(t, err)
	assert.Equal(t, []string{"libelf"}, res.Names())

	res, err = f.svc.Dependencies(context.Background(), "rose", Options{Types: spec.DepRun})
	require.NoError(t, err)
	assert.Empty(t, res.Names())
}

func TestDependencies_Installed(t *testing.T) {
	f := newFixture(t)
	root := f.install(t, "mpileaks")
	ctx := context.Background()

	res, err := f.svc.Dependencies(ctx, "mpileaks", Options{Installed: true})
	require.NoError(t, err)
	assert.True(t, res.Installed)

	mpich, err := f.db.QueryOne(ctx, "mpich")
	require.NoError(t, err)
	callpath, err := f.db.QueryOne(ctx, "callpath^mpich")
	require.NoError(t, err)
	assert.Equal(t, []string{callpath.Hash(), mpich.Hash()}, res.Hashes())
	assert.Equal(t, root.DAGHash(), res.Root.DAGHash())
}

func TestDependencies_InstalledTransitive(t *testing.T) {
	f := newFixture(t)
	root := f.install(t, "mpileaks")

	res, err := f.svc.Dependencies(context.Background(), "mpileaks", Options{Installed: true, Transitive: true})
	require.NoError(t, err)
	var want []string
	for _, n := range root.TopoOrder() {
		if n != root {
			want = append(want, n.DAGHash())
		}
	}
	assert.ElementsMatch(t, want, res.Hashes())
	assert.Len(t, res.Hashes(), 5)
}

func TestDependencies_InstalledErrors(t *testing.T) {
	f := newFixture(t)
	f.install(t, "mpileaks")
	f.install(t, "mpileaks ^zmpi")
	ctx := context.Background()

	_, err := f.svc.Dependencies(ctx, "mpileaks", Options{Installed: true})
	assert.True(t, store.IsAmbiguous(err))

	_, err = f.svc.Dependencies(ctx, "rose", Options{Installed: true})
	assert.True(t, store.IsNotFound(err))

	_, err = f.svc.Dependencies(ctx, "mpileaks", Options{Installed: true, Possible: true})
	assert.Error(t, err)
}

func TestDependencies_ConcretizationError(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Dependencies(context.Background(), "nosuch", Options{})
	assert.True(t, concretize.IsConcretizationError(err))

	_, err = f.svc.Dependencies(context.Background(), "nosuch", Options{Possible: true})
	assert.True(t, concretize.IsConcretizationError(err))
}

func TestDependencies_NoDatabase(t *testing.T) {
	idx := testutil.Index(t)
	providers := testutil.Providers(idx)
	svc := NewService(concretize.New(idx, providers), providers, nil, nil)

	_, err := svc.Dependencies(context.Background(), "mpileaks", Options{Installed: true})
	assert.ErrorIs(t, err, ErrNoDatabase)

	res, err := svc.Dependencies(context.Background(), "mpileaks", Options{})
	require.NoError(t, err)
	assert.Len(t, res.Names(), 2)
}

func TestDependents(t *testing.T) {
	f := newFixture(t)
	withMpich := f.install(t, "mpileaks")
	ctx := context.Background()

	res, err := f.svc.Dependents(ctx, "libelf", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dyninst", "libdwarf"}, res.Names())

	res, err = f.svc.Dependents(ctx, "libelf", Options{Transitive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"callpath", "dyninst", "libdwarf", "mpileaks"}, res.Names())
	assert.Contains(t, res.Hashes(), withMpich.DAGHash())
}
