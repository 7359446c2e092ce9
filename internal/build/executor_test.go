package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smelt/internal/spec"
)

func phaseRequest(t *testing.T, commands ...string) PhaseRequest {
	t.Helper()
	s := &spec.ConcreteSpec{Name: "libdwarf", Version: spec.MustParseVersion("20130729")}
	require.NoError(t, s.Finalize())
	return PhaseRequest{
		Spec:        s,
		Phase:       "install",
		Prefix:      t.TempDir(),
		DepPrefixes: map[string]string{"libelf": "/opt/libelf-0.8.13-abcdefg"},
		Commands:    commands,
	}
}

func TestExpandCommand(t *testing.T) {
	req := phaseRequest(t)
	req.Prefix = "/opt/libdwarf"

	tests := []struct {
		in   string
		want string
	}{
		{"./configure --prefix={prefix}", "./configure --prefix=/opt/libdwarf"},
		{"--with-elf={dep:libelf}", "--with-elf=/opt/libelf-0.8.13-abcdefg"},
		{"echo {name}@{version}", "echo libdwarf@20130729"},
		{"make -j{jobs}", "make -j{jobs}"},
		{"awk '{print $1}'", "awk '{print $1}'"},
		{"cd {stage}", "cd {stage}"},
	}
	for _, tt := range tests {
		got, err := ExpandCommand(tt.in, req)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ExpandCommand("--with-mpi={dep:mpich}", req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mpich is not a dependency of libdwarf")
}

func TestShellExecutor_RunsCommandsInPrefix(t *testing.T) {
	req := phaseRequest(t,
		"echo {name} > marker",
		"echo $SMELT_PHASE {dep:libelf} >> marker",
	)

	res, err := ShellExecutor{}.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, res.Output)

	data, err := os.ReadFile(filepath.Join(req.Prefix, "marker"))
	require.NoError(t, err)
	assert.Equal(t, "libdwarf\ninstall /opt/libelf-0.8.13-abcdefg\n", string(data))
}

func TestShellExecutor_CapturesOutputOnFailure(t *testing.T) {
	req := phaseRequest(t, "echo checking", "echo broken >&2; exit 3", "echo unreachable")

	res, err := ShellExecutor{}.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Equal(t, "checking\nbroken\n", string(res.Output))
}

func TestShellExecutor_NoCommands(t *testing.T) {
	res, err := ShellExecutor{}.Execute(context.Background(), phaseRequest(t))
	require.NoError(t, err)
	assert.Empty(t, res.Output)
}

func TestShellExecutor_HonorsContext(t *testing.T) {
	req := phaseRequest(t, "sleep 10")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ShellExecutor{}.Execute(ctx, req)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShellExecutor_ExtraEnv(t *testing.T) {
	req := phaseRequest(t, "echo $CFLAGS")

	res, err := ShellExecutor{Env: []string{"CFLAGS=-O2"}}.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "-O2\n", string(res.Output))
}

func TestShellExecutor_RunsInStage(t *testing.T) {
	req := phaseRequest(t, "pwd > {prefix}/built-from", "echo $SMELT_STAGE {stage} >> {prefix}/built-from")
	req.StageDir = t.TempDir()

	_, err := ShellExecutor{}.Execute(context.Background(), req)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(req.Prefix, "built-from"))
	require.NoError(t, err)
	wd, err := filepath.EvalSymlinks(req.StageDir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	gotWd, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	assert.Equal(t, wd, gotWd)
	assert.Equal(t, req.StageDir+" "+req.StageDir, lines[1])
}
