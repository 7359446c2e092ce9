package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviders(t *testing.T) {
	w := newWorkspace(t)

	stdout, stderr, code := w.run(t, "providers", "mpi")
	require.Equal(t, ExitSuccess, code, stderr)
	golden(t).Assert(t, "providers_mpi", []byte(stdout))

	all, _, code := w.run(t, "providers")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, all, stdout)
}

func TestProviders_NotVirtual(t *testing.T) {
	w := newWorkspace(t)

	_, stderr, code := w.run(t, "providers", "libelf")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "libelf is not a virtual package")
}

func TestProviders_JSON(t *testing.T) {
	w := newWorkspace(t)

	stdout, _, code := w.run(t, "--format", "json", "providers", "mpi")
	require.Equal(t, ExitSuccess, code)

	var resp struct {
		Data map[string][]ProviderInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Contains(t, resp.Data, "mpi")
	infos := resp.Data["mpi"]
	require.NotEmpty(t, infos)
	assert.Equal(t, "mpich", infos[0].Package)
	for _, info := range infos {
		assert.Contains(t, info.Provides, "mpi@")
	}
}
