package stackerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStepErrorFatal(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{name: "tooling", err: NewToolingUnavailable("PrecheckingTooling", errors.New("no cluster")), fatal: true},
		{name: "build", err: NewBuildFailure("build", "api", 1, "", errors.New("boom")), fatal: true},
		{name: "required_apply", err: NewApplyFailure("ApplyingNamespace", "", false, errors.New("denied")), fatal: true},
		{name: "optional_apply", err: NewApplyFailure("ApplyingRoutingRule", "app-ingress", true, errors.New("no controller")), fatal: false},
		{name: "readiness", err: NewReadinessTimeout("AwaitingStatefulReady", "db", errors.New("timeout")), fatal: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			se, ok := Extract(tc.err)
			require.True(t, ok)
			require.Equal(t, tc.fatal, se.Fatal())
		})
	}
}

func TestExtractThroughWrapping(t *testing.T) {
	inner := NewApplyFailure("ApplyingSecretsAndConfig", "app-config", false, errors.New("forbidden"))
	wrapped := fmt.Errorf("deploy: %w", inner)

	se, ok := Extract(wrapped)
	require.True(t, ok)
	require.Equal(t, ApplyFailure, se.Kind)
	require.True(t, IsKind(wrapped, ApplyFailure))
	require.False(t, IsKind(wrapped, BuildFailure))
	require.Contains(t, wrapped.Error(), "ApplyingSecretsAndConfig")
	require.Contains(t, wrapped.Error(), "forbidden")

	_, ok = Extract(errors.New("plain"))
	require.False(t, ok)
	_, ok = Extract(nil)
	require.False(t, ok)
}

func TestBuildFailureKeepsOutputTail(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	err := NewBuildFailure("build", "web", 2, strings.Join(lines, "\n")+"\n", errors.New("exit status 2"))

	se, ok := Extract(err)
	require.True(t, ok)
	require.Equal(t, 2, se.ExitCode)
	require.Equal(t, "web", se.Unit)
	out := strings.Split(se.Output, "\n")
	require.Len(t, out, maxOutputLines)
	require.Equal(t, "line 49", out[len(out)-1])
	require.Contains(t, err.Error(), "exit status 2")
	require.Contains(t, err.Error(), "unit web")
	require.Contains(t, err.Error(), out[len(out)-1])
}
