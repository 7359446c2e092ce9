package build

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/smelt/internal/concretize"
	"github.com/roach88/smelt/internal/repo"
	"github.com/roach88/smelt/internal/spec"
	"github.com/roach88/smelt/internal/store"
	"github.com/roach88/smelt/internal/testutil"
)

type fixture struct {
	idx    *repo.Index
	c      *concretize.Concretizer
	db     *store.Store
	layout Layout
	clock  *testutil.DeterministicClock
}

func newFixture(t *testing.T, extra ...string) *fixture {
	t.Helper()
	idx := testutil.Index(t, extra...)
	c := concretize.New(idx, testutil.Providers(idx), concretize.WithDefaultArch("linux-x86_64"))
	clock := testutil.NewDeterministicClock()
	db, err := store.Open(filepath.Join(t.TempDir(), "installed.db"),
		store.WithInterner(c.Interner()), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &fixture{
		idx:    idx,
		c:      c,
		db:     db,
		layout: Layout{Root: filepath.Join(t.TempDir(), "opt")},
		clock:  clock,
	}
}

func (f *fixture) concretize(t *testing.T, req string) *spec.ConcreteSpec {
	t.Helper()
	s, err := f.c.Concretize(context.Background(), spec.MustParse(req))
	require.NoError(t, err)
	return s
}

func storeRecord(s *spec.ConcreteSpec, prefix string) store.Record {
	return store.Record{Spec: s, Prefix: prefix, Phases: []string{"install"}}
}

func (f *fixture) installer(exec PhaseExecutor, opts ...Option) *Installer {
	base := []Option{
		WithJobs(4),
		WithClock(f.clock.Now),
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-1")),
	}
	return NewInstaller(f.idx, f.db, exec, f.layout, append(base, opts...)...)
}

// recorder is a PhaseExecutor that logs every phase it runs and fails the
// phases listed in fail.
type recorder struct {
	mu    sync.Mutex
	calls []string
	reqs  map[string]PhaseRequest
	fail  map[string]string
}

func newRecorder() *recorder {
	return &recorder{reqs: map[string]PhaseRequest{}, fail: map[string]string{}}
}

func (r *recorder) Execute(_ context.Context, req PhaseRequest) (PhaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := req.Spec.Name + ":" + req.Phase
	r.calls = append(r.calls, key)
	r.reqs[key] = req
	if out, ok := r.fail[key]; ok {
		return PhaseResult{Output: []byte(out)}, fmt.Errorf("exit status 2")
	}
	return PhaseResult{Output: []byte("ok\n")}, nil
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) builtPackages() map[string]bool {
	out := map[string]bool{}
	for _, c := range r.Calls() {
		name, _, _ := strings.Cut(c, ":")
		out[name] = true
	}
	return out
}
