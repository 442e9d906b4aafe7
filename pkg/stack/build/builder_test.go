package build

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubemin-stack/pkg/stack/manifest"
	"kubemin-stack/pkg/stack/runner"
	"kubemin-stack/pkg/stack/stackerr"
)

func testSet() *manifest.Set {
	return manifest.Default(manifest.Options{SourceRoot: "/src", ImageTag: "v1"})
}

func TestCommand(t *testing.T) {
	b := NewBuilder(runner.NewFakeRunner(), "docker", nil)
	web, _ := testSet().Unit(manifest.UnitWeb)
	assert.Equal(t, []string{
		"docker", "build",
		"-f", "/src/frontend/Dockerfile",
		"-t", "crud-stack-web:v1",
		"--build-arg", "API_BASE_URL=/api",
		"/src/frontend",
	}, b.Command(web))
}

func TestBuildAll(t *testing.T) {
	fake := runner.NewFakeRunner()
	var out bytes.Buffer
	b := NewBuilder(fake, "docker", &out)

	images, err := b.Build(context.Background(), testSet())
	require.NoError(t, err)
	assert.Equal(t, []Image{
		{Unit: manifest.UnitAPI, Ref: "crud-stack-api:v1"},
		{Unit: manifest.UnitWeb, Ref: "crud-stack-web:v1"},
	}, images)

	// the database has no build spec
	cmds := fake.Commands()
	require.Len(t, cmds, 2)
	assert.True(t, strings.HasPrefix(cmds[0], "docker build -f /src/backend/Dockerfile -t crud-stack-api:v1"))
	assert.Contains(t, out.String(), "crud-stack-web:v1")
}

func TestBuildFailureNamesUnit(t *testing.T) {
	fake := runner.NewFakeRunner()
	b := NewBuilder(fake, "docker", nil)
	set := testSet()
	api, _ := set.Unit(manifest.UnitAPI)
	fake.Responses[strings.Join(b.Command(api), " ")] = runner.FakeResponse{
		Output:   "npm ERR! missing script: build",
		ExitCode: 2,
	}

	images, err := b.Build(context.Background(), set)
	require.Error(t, err)
	assert.Empty(t, images)

	se, ok := stackerr.Extract(err)
	require.True(t, ok)
	assert.Equal(t, stackerr.BuildFailure, se.Kind)
	assert.Equal(t, manifest.UnitAPI, se.Unit)
	assert.Equal(t, 2, se.ExitCode)
	assert.Contains(t, se.Output, "missing script")
	assert.True(t, se.Fatal())

	// web is never built after api fails
	assert.Len(t, fake.Commands(), 1)
}

func TestBuildToolMissing(t *testing.T) {
	fake := runner.NewFakeRunner()
	fake.Missing["podman"] = true
	b := NewBuilder(fake, "podman", nil)

	_, err := b.Build(context.Background(), testSet())
	require.Error(t, err)
	assert.True(t, stackerr.IsKind(err, stackerr.ToolingUnavailable))
	assert.Empty(t, fake.Commands())
}

func TestDaemonReachable(t *testing.T) {
	fake := runner.NewFakeRunner()
	b := NewBuilder(fake, "docker", nil)
	require.NoError(t, b.DaemonReachable(context.Background()))

	fake.Responses["docker info"] = runner.FakeResponse{Output: "Cannot connect to the Docker daemon", ExitCode: 1}
	err := b.DaemonReachable(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unreachable")
}
