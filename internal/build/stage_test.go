package build

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smelt/internal/stage"
)

// zlibSource writes a zlib-1.3.tar.gz source archive into dir and returns
// its sha256 digest.
func zlibSource(t *testing.T, dir string) string {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, body := range map[string]string{
		"zlib-1.3/configure": "#!/bin/sh\n",
		"zlib-1.3/zlib.h":    "#define ZLIB_VERSION \"1.3\"\n",
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gz := pgzip.NewWriter(&gzBuf)
	_, err := gz.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "zlib-1.3.tar.gz"), gzBuf.Bytes(), 0o644))
	sum := sha256.Sum256(gzBuf.Bytes())
	return "sha256:" + hex.EncodeToString(sum[:])
}

func zlibRepo(mirror, digest string) string {
	return fmt.Sprintf(`
packages: zlib: {
	versions: [{version: "1.3", digest: %q}]
	source: %q
	phases: ["configure", "install"]
	commands: configure: ["./configure --prefix={prefix}"]
}
`, digest, filepath.Join(mirror, "zlib-{version}.tar.gz"))
}

// stagedFiles is an executor that records the stage directory contents
// seen by each phase.
type stagedFiles struct {
	mu   sync.Mutex
	seen map[string][]string
}

func (s *stagedFiles) Execute(_ context.Context, req PhaseRequest) (PhaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	if req.StageDir != "" {
		entries, err := os.ReadDir(req.StageDir)
		if err != nil {
			return PhaseResult{}, err
		}
		for _, e := range entries {
			names = append(names, e.Name())
		}
	}
	if s.seen == nil {
		s.seen = map[string][]string{}
	}
	s.seen[req.Phase] = names
	return PhaseResult{}, nil
}

func TestInstall_StagesSource(t *testing.T) {
	mirror := t.TempDir()
	f := newFixture(t, zlibRepo(mirror, zlibSource(t, mirror)))
	root := f.concretize(t, "zlib")
	st := &stage.Stager{Root: filepath.Join(t.TempDir(), "stage")}
	exec := &stagedFiles{}

	rep, err := f.installer(exec, WithStager(st)).Install(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, rep.Nodes[0].State)

	assert.Equal(t, []string{"configure", "zlib.h"}, exec.seen["configure"])
	assert.Equal(t, []string{"configure", "zlib.h"}, exec.seen["install"])
	assert.NotContains(t, exec.seen, FetchPhase)
	assert.NoDirExists(t, st.Dir(root))

	rec, err := f.db.LookupByHash(context.Background(), root.DAGHash())
	require.NoError(t, err)
	assert.Equal(t, []string{FetchPhase, "configure", "install"}, rec.Phases)
}

func TestInstall_KeepStage(t *testing.T) {
	mirror := t.TempDir()
	f := newFixture(t, zlibRepo(mirror, zlibSource(t, mirror)))
	root := f.concretize(t, "zlib")
	st := &stage.Stager{Root: filepath.Join(t.TempDir(), "stage")}

	_, err := f.installer(&stagedFiles{}, WithStager(st), WithKeepStage(true)).Install(context.Background(), root)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(st.Dir(root), "zlib.h"))
}

func TestInstall_StageChecksumMismatch(t *testing.T) {
	mirror := t.TempDir()
	zlibSource(t, mirror)
	f := newFixture(t, zlibRepo(mirror, "sha256:"+strings.Repeat("0", 64)))
	root := f.concretize(t, "zlib")
	st := &stage.Stager{Root: filepath.Join(t.TempDir(), "stage")}
	exec := newRecorder()

	rep, err := f.installer(exec, WithStager(st)).Install(context.Background(), root)
	require.Error(t, err)
	assert.True(t, stage.IsChecksumError(err))

	var pe *BuildPhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, FetchPhase, pe.Phase)
	assert.Empty(t, exec.Calls())
	assert.Equal(t, StateFailed, rep.Nodes[0].State)
	assert.NoDirExists(t, rep.Nodes[0].Prefix)

	has, err := f.db.Has(context.Background(), root.DAGHash())
	require.NoError(t, err)
	assert.False(t, has)
}

func TestInstall_NoStagerIgnoresSource(t *testing.T) {
	mirror := t.TempDir()
	f := newFixture(t, zlibRepo(mirror, zlibSource(t, mirror)))
	root := f.concretize(t, "zlib")
	exec := newRecorder()

	_, err := f.installer(exec).Install(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"zlib:configure", "zlib:install"}, exec.Calls())
	assert.Empty(t, exec.reqs["zlib:configure"].StageDir)
}

func TestInstall_FetchMetrics(t *testing.T) {
	mirror := t.TempDir()
	f := newFixture(t, zlibRepo(mirror, zlibSource(t, mirror)))
	root := f.concretize(t, "zlib")
	reg := prometheus.NewRegistry()

	_, err := f.installer(&stagedFiles{}, WithStager(&stage.Stager{Root: t.TempDir()}), WithMetrics(NewMetrics(reg))).
		Install(context.Background(), root)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "smelt.prom")
	require.NoError(t, WriteMetrics(path, reg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `smelt_build_phase_duration_seconds_count{phase="fetch"} 1`)
}
