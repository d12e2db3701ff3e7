package sandbox

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecOnRunningSandbox(t *testing.T) {
	gw := newFakeGateway()
	c := NewController(gw)
	_, err := c.CreateSandbox(context.Background(), &SandboxSpec{Name: "s1", Image: "alpine:3.20"}, nil)
	require.NoError(t, err)

	result, err := Exec(context.Background(), gw, "default", "s1", []string{"echo", "hi"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "ok", result.Stdout)
}

func TestExecOnNonRunningSandboxReportsFailureNotError(t *testing.T) {
	gw := newFakeGateway()
	gw.podPhase = corev1.PodPending
	c := NewController(gw)
	_, err := c.CreateSandbox(context.Background(), &SandboxSpec{Name: "s1", Image: "alpine:3.20"}, nil)
	require.NoError(t, err)

	result, err := Exec(context.Background(), gw, "default", "s1", []string{"echo", "hi"})
	require.NoError(t, err)
	assert.NotEqual(t, 0, result.ExitCode)
	assert.Contains(t, result.Stderr, "not running")
}

func TestExecOnMissingSandbox(t *testing.T) {
	gw := newFakeGateway()
	_, err := Exec(context.Background(), gw, "default", "ghost", []string{"echo"})
	require.Error(t, err)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
