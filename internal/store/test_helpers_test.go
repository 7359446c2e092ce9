package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/smelt/internal/concretize"
	"github.com/roach88/smelt/internal/spec"
	"github.com/roach88/smelt/internal/testutil"
)

// createTestStore creates a new store in a temp dir with a deterministic clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(testutil.NewDeterministicClock().Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// concretizeTest resolves req against the mock repository.
func concretizeTest(t *testing.T, req string) *spec.ConcreteSpec {
	t.Helper()
	idx := testutil.Index(t)
	c := concretize.New(idx, testutil.Providers(idx), concretize.WithDefaultArch("linux-x86_64"))
	s, err := c.Concretize(context.Background(), spec.MustParse(req))
	if err != nil {
		t.Fatalf("Concretize(%q) failed: %v", req, err)
	}
	return s
}

// installDAG inserts every node of root, dependencies first. Only the root
// is marked explicit.
func installDAG(t *testing.T, s *Store, root *spec.ConcreteSpec) {
	t.Helper()
	for _, n := range root.TopoOrder() {
		_, err := s.Insert(context.Background(), Record{
			Spec:     n,
			Prefix:   "/opt/" + n.Name + "-" + n.ShortHash(7),
			Phases:   []string{"install"},
			Explicit: n == root,
		})
		if err != nil {
			t.Fatalf("Insert(%s) failed: %v", n.Name, err)
		}
	}
}
