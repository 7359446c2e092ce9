package cli

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smelt/internal/build"
)

func TestInstall_Text(t *testing.T) {
	w := newWorkspace(t)
	exec := &phaseLog{}

	stdout, _, err := w.install(t, exec, "mpileaks")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 6)
	for _, line := range lines {
		assert.Regexp(t, `^installed [0-9a-f]{7} [a-z-]+@[0-9.]+$`, line)
	}
	assert.True(t, strings.HasSuffix(lines[5], "mpileaks@2.3"))
	assert.Contains(t, exec.Calls(), "mpileaks:configure")
	assert.Len(t, exec.Calls(), 8)
}

func TestInstall_SecondRunSkipsEverything(t *testing.T) {
	w := newWorkspace(t)

	_, _, err := w.install(t, &phaseLog{}, "mpileaks")
	require.NoError(t, err)

	exec := &phaseLog{}
	stdout, _, err := w.install(t, exec, "mpileaks")
	require.NoError(t, err)
	assert.Empty(t, exec.Calls())
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		assert.True(t, strings.HasPrefix(line, "skipped "), line)
	}
}

func TestInstall_JSON(t *testing.T) {
	w := newWorkspace(t)

	stdout, _, err := w.install(t, &phaseLog{}, "--format=json", "libdwarf")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		RunID  string        `json:"run_id"`
		Data   InstallResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-cli", resp.RunID)
	assert.Equal(t, "libdwarf", resp.Data.Root)
	require.Len(t, resp.Data.Nodes, 2)

	for _, n := range resp.Data.Nodes {
		assert.Equal(t, "installed", n.State)
		want := filepath.Join(w.dir, "opt", "linux-x86_64", "gcc-13.2.0", n.Name+"-"+n.Version+"-"+n.Hash[:7])
		assert.Equal(t, want, n.Prefix)
		info, err := os.Stat(n.Prefix)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, resp.Data.Hash, resp.Data.Nodes[1].Hash)
}

func TestInstall_FailureKeepsIndependentBranches(t *testing.T) {
	w := newWorkspace(t)
	exec := &phaseLog{fail: map[string]string{"dyninst:install": "undefined reference to elf_begin\n"}}

	stdout, stderr, err := w.install(t, exec, "mpileaks")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "Error [E301]")

	states := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		fields := strings.Fields(line)
		require.Len(t, fields, 3, line)
		states[strings.SplitN(fields[2], "@", 2)[0]] = fields[0]
	}
	assert.Equal(t, map[string]string{
		"libelf":   "installed",
		"libdwarf": "installed",
		"mpich":    "installed",
		"dyninst":  "failed",
		"callpath": "failed",
		"mpileaks": "failed",
	}, states)

	// What did install stays installed.
	found, _, code := w.run(t, "find")
	require.Equal(t, ExitSuccess, code)
	assert.Len(t, strings.Split(strings.TrimSpace(found), "\n"), 3)
}

func TestInstall_FailureVerboseShowsOutput(t *testing.T) {
	w := newWorkspace(t)
	exec := &phaseLog{fail: map[string]string{"libelf:install": "cc: not found\n"}}

	stdout, _, err := w.install(t, exec, "libdwarf")
	require.Error(t, err)
	assert.NotContains(t, stdout, "cc: not found")

	w2 := newWorkspace(t)
	opts := &InstallOptions{
		RootOptions: &RootOptions{Format: "text", Color: "never", ConfigPath: w2.config, Verbose: true},
		Executor:    exec,
	}
	cmd := newInstallCommand(opts)
	out := &strings.Builder{}
	cmd.SetOut(out)
	cmd.SetErr(&strings.Builder{})
	cmd.SetArgs([]string{"libdwarf"})
	require.Error(t, cmd.Execute())
	assert.Contains(t, out.String(), "==> libelf: phase install output:\ncc: not found\n")
}

func TestInstall_JSONFailure(t *testing.T) {
	w := newWorkspace(t)
	exec := &phaseLog{fail: map[string]string{"libelf:install": "boom"}}

	stdout, _, err := w.install(t, exec, "--format=json", "libdwarf")
	require.Error(t, err)

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string        `json:"code"`
			Details InstallResult `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeBuildFailed, resp.Error.Code)
	require.Len(t, resp.Error.Details.Nodes, 2)
	assert.Equal(t, "failed", resp.Error.Details.Nodes[0].State)
	assert.Empty(t, resp.Error.Details.Nodes[0].Prefix)
	assert.Contains(t, resp.Error.Details.Nodes[1].Error, "libelf")
}

func TestInstall_MetricsTextfile(t *testing.T) {
	w := newWorkspace(t)
	path := filepath.Join(w.dir, "smelt.prom")

	_, _, err := w.install(t, &phaseLog{}, "--metrics-textfile", path, "libdwarf")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `smelt_build_nodes_total{state="installed"} 2`)
	assert.Contains(t, string(data), "smelt_build_runs_total 1")
	assert.Contains(t, string(data), `smelt_build_phase_duration_seconds_count{phase="install"} 2`)
}

func TestInstall_InvalidSpec(t *testing.T) {
	w := newWorkspace(t)

	_, stderr, err := w.install(t, &phaseLog{}, "mpileaks@")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "Error [E005]")

	_, stderr, err = w.install(t, &phaseLog{}, "nosuch")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "Error [E101]")
}

func TestInstall_Flags(t *testing.T) {
	cmd := NewInstallCommand(&RootOptions{})
	for _, name := range []string{"jobs", "lock-timeout", "phase-timeout", "metrics-textfile", "no-progress", "keep-stage", "no-checksum"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "j", cmd.Flags().Lookup("jobs").Shorthand)
}

// addSourcePackage adds a zlib package with an undigested source archive
// under the workspace repository.
func (w *workspace) addSourcePackage(t *testing.T) {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	body := "#define ZLIB_VERSION \"1.3\"\n"
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "zlib-1.3/zlib.h", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gz := pgzip.NewWriter(&gzBuf)
	_, err = gz.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	mirror := filepath.Join(w.dir, "repo", "mirror")
	require.NoError(t, os.MkdirAll(mirror, 0o755))
	writeFile(t, mirror, "zlib-1.3.tar.gz", gzBuf.String())
	writeFile(t, filepath.Join(w.dir, "repo"), "zlib.cue", `package builtin

packages: zlib: {
	versions: [{version: "1.3"}]
	source: "mirror/{name}-{version}.tar.gz"
}
`)
}

func TestInstall_SourceNeedsDigest(t *testing.T) {
	w := newWorkspace(t)
	w.addSourcePackage(t)

	_, stderr, err := w.install(t, &phaseLog{}, "zlib")
	require.Error(t, err)
	assert.Contains(t, stderr, "no digest declared")

	var staged []string
	exec := build.FuncExecutor(func(_ context.Context, req build.PhaseRequest) (build.PhaseResult, error) {
		entries, err := os.ReadDir(req.StageDir)
		if err != nil {
			return build.PhaseResult{}, err
		}
		for _, e := range entries {
			staged = append(staged, e.Name())
		}
		return build.PhaseResult{}, nil
	})
	_, _, err = w.install(t, exec, "--no-checksum", "--keep-stage", "zlib")
	require.NoError(t, err)
	assert.Equal(t, []string{"zlib.h"}, staged)

	stages, err := filepath.Glob(filepath.Join(w.dir, "stage", "zlib-1.3-*", "zlib.h"))
	require.NoError(t, err)
	assert.Len(t, stages, 1)
}
