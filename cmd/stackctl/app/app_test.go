package app

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kubemin-stack/cmd/stackctl/app/options"
	"kubemin-stack/pkg/stack/build"
	"kubemin-stack/pkg/stack/cluster"
	"kubemin-stack/pkg/stack/manifest"
	"kubemin-stack/pkg/stack/runner"
	"kubemin-stack/pkg/stack/stackerr"
)

func init() {
	color.NoColor = true
}

func withFakes(t *testing.T) (*runner.FakeRunner, *cluster.FakeClient) {
	t.Helper()
	fr := runner.NewFakeRunner()
	fc := cluster.NewFakeClient()
	prevRunner, prevCluster := runnerFactory, clusterFactory
	runnerFactory = func() runner.CommandRunner { return fr }
	clusterFactory = func(*options.StackOptions, *manifest.Set, ...cluster.Option) (cluster.Client, error) {
		return fc, nil
	}
	t.Cleanup(func() {
		runnerFactory, clusterFactory = prevRunner, prevCluster
	})
	return fr, fc
}

func execute(args ...string) (string, error) {
	cmd := NewStackctlCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRender(t *testing.T) {
	out, err := execute("render", "--namespace", "shop", "--ingress-host", "shop.example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "name: shop")
	assert.Contains(t, out, "kind: StatefulSet")
	assert.Contains(t, out, "host: shop.example.com")
	assert.NotContains(t, out, "change-me-in-production")
}

func TestRenderRejectsUnknownUnit(t *testing.T) {
	_, err := execute("render", "--replicas", "cache=2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown units")
}

func TestRenderRejectsInvalidConfig(t *testing.T) {
	_, err := execute("render", "--namespace", "Bad_Name")
	require.Error(t, err)
}

func TestDeploy(t *testing.T) {
	_, fc := withFakes(t)
	out, err := execute("deploy", "--readiness-interval", "10ms", "--readiness-timeout", "1s")
	require.NoError(t, err)
	assert.Contains(t, out, "applied RoutingRule/app-ingress")
	assert.Contains(t, out, "finished in state Complete")
	assert.Len(t, fc.Applied(), 7)
}

func TestDeployRoutingWarning(t *testing.T) {
	_, fc := withFakes(t)
	fc.ApplyErrs["RoutingRule/app-ingress"] = errors.New("no ingress controller")
	out, err := execute("deploy", "--readiness-interval", "10ms", "--readiness-timeout", "1s")
	require.NoError(t, err)
	assert.Contains(t, out, "WARN ApplyFailure")
	assert.Contains(t, out, "with 1 warning(s)")
}

func TestDeployAborted(t *testing.T) {
	_, fc := withFakes(t)
	fc.ApplyErrs["ConfigSet/app-config"] = errors.New("denied")
	_, err := execute("deploy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ApplyingSecretsAndConfig")
	assert.True(t, stackerr.IsKind(err, stackerr.ApplyFailure))
}

func TestDeployBuildFailureSkipsRollout(t *testing.T) {
	fr, fc := withFakes(t)
	set := manifest.Default(manifest.Options{})
	api, _ := set.Unit(manifest.UnitAPI)
	cmdline := build.NewBuilder(fr, "docker", nil).Command(api)
	fr.Responses[strings.Join(cmdline, " ")] = runner.FakeResponse{ExitCode: 1, Output: "COPY failed"}

	_, err := execute("deploy", "--build")
	require.Error(t, err)
	se, ok := stackerr.Extract(err)
	require.True(t, ok)
	assert.Equal(t, stackerr.BuildFailure, se.Kind)
	assert.Equal(t, manifest.UnitAPI, se.Unit)
	assert.Empty(t, fc.Calls)
}

func TestBuildImages(t *testing.T) {
	fr, _ := withFakes(t)
	out, err := execute("build-images", "--tag", "v3")
	require.NoError(t, err)
	assert.Contains(t, out, "api\tcrud-stack-api:v3")
	assert.Contains(t, out, "web\tcrud-stack-web:v3")
	assert.Len(t, fr.Commands(), 2)
}

func TestBuildImagesReportsToolOutput(t *testing.T) {
	fr, _ := withFakes(t)
	set := manifest.Default(manifest.Options{})
	api, _ := set.Unit(manifest.UnitAPI)
	cmdline := build.NewBuilder(fr, "docker", nil).Command(api)
	fr.Responses[strings.Join(cmdline, " ")] = runner.FakeResponse{ExitCode: 1, Output: "COPY failed: file not found"}

	out, err := execute("build-images")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY failed: file not found")
	assert.Contains(t, out, "COPY failed: file not found")
}

func TestVerify(t *testing.T) {
	fr, _ := withFakes(t)
	out, err := execute("verify")
	require.NoError(t, err)
	assert.Contains(t, out, "WARN Namespace/app-ns: not found")

	fr.Missing["docker"] = true
	out, err = execute("verify")
	require.Error(t, err)
	assert.Contains(t, out, "FAIL docker on PATH")
}
