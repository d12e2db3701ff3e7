package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/katakate/k7/pkg/cluster"
)

// Exec runs a one-shot command inside the sandbox's pod and waits for it
// to finish. It never returns a bare Go error for command failure — a
// non-zero exit, or the sandbox not being Running, is reported through
// ExecResult itself, per spec.md §4.4. A returned error means the
// sandbox's pod could not be located or the cluster was unreachable.
func Exec(ctx context.Context, gw cluster.Gateway, namespace, name string, command []string) (*ExecResult, error) {
	start := time.Now()

	pods, err := gw.ListPods(ctx, namespace, sandboxLabelSelector(name))
	if err != nil {
		return nil, &ClusterError{Op: "list pods for exec", Err: err}
	}
	if len(pods.Items) == 0 {
		return nil, &NotFoundError{Kind: "Sandbox pod", Name: name}
	}
	pod := pods.Items[0]
	if pod.Status.Phase != corev1.PodRunning {
		return &ExecResult{
			ExitCode:   1,
			Stderr:     fmt.Sprintf("sandbox is not running (phase=%s)", pod.Status.Phase),
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	var stdout, stderr bytes.Buffer
	exitCode, err := gw.ExecPod(ctx, namespace, pod.Name, command, &stdout, &stderr)
	if err != nil {
		return nil, &ClusterError{Op: "exec", Err: err}
	}

	return &ExecResult{
		ExitCode:   exitCode,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}
