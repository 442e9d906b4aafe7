package runner

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := NewExecRunner()

	res, err := r.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Output)

	res, err = r.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "broken")
}

func TestExecRunnerNoArgs(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background())
	require.Error(t, err)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	r := NewExecRunner()
	_, err := r.LookPath("definitely-not-a-real-tool-xyz")
	require.Error(t, err)
	assert.True(t, errors.Is(err, exec.ErrNotFound))

	res, err := r.Run(context.Background(), "definitely-not-a-real-tool-xyz")
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestFakeRunner(t *testing.T) {
	f := NewFakeRunner()
	f.Missing["docker"] = true
	f.Responses["docker build ."] = FakeResponse{Output: "no space left", ExitCode: 1}

	_, err := f.LookPath("docker")
	require.Error(t, err)
	_, err = f.LookPath("kubectl")
	require.NoError(t, err)

	res, err := f.Run(context.Background(), "docker", "build", ".")
	require.Error(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "no space left", res.Output)

	_, err = f.Run(context.Background(), "docker", "info")
	require.NoError(t, err)
	assert.Equal(t, []string{"docker build .", "docker info"}, f.Commands())
}
