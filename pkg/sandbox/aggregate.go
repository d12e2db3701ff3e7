package sandbox

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/katakate/k7/pkg/cluster"
)

// isKataWorkload is the Aggregator's sandbox-selection predicate, per
// spec.md §4.5: a workload is retained when its pod template's
// runtimeClassName is "kata" or its own labels carry runtime=kata — not
// merely because it carries the katakate.org/sandbox label, so that a
// kata-runtime workload created by another kata-aware tool is still
// picked up. Grounded on original_source's _get_kata_sandboxes.
func isKataWorkload(w *appsv1.Deployment) bool {
	if rc := w.Spec.Template.Spec.RuntimeClassName; rc != nil && *rc == "kata" {
		return true
	}
	return w.Labels[labelRuntime] == "kata"
}

// ListSandboxes reconstructs one SandboxInfo per sandbox workload in the
// given namespace ("" lists across all namespaces) by cross-referencing
// each Deployment with its pod, per spec.md §4.5. A sandbox with no pod
// still appears, with Status "No Pods"; one whose pod lookup fails appears
// with Status "Error".
func ListSandboxes(ctx context.Context, gw cluster.Gateway, namespace string) ([]SandboxInfo, error) {
	workloads, err := gw.ListWorkloads(ctx, namespace)
	if err != nil {
		return nil, &ClusterError{Op: "list workloads", Err: err}
	}

	out := make([]SandboxInfo, 0, len(workloads.Items))
	for _, w := range workloads.Items {
		if !isKataWorkload(&w) {
			continue
		}
		out = append(out, sandboxInfoFromWorkload(ctx, gw, &w))
	}
	return out, nil
}

func sandboxInfoFromWorkload(ctx context.Context, gw cluster.Gateway, w *appsv1.Deployment) SandboxInfo {
	info := SandboxInfo{
		Name:      w.Name,
		Namespace: w.Namespace,
		Status:    "No Pods",
		Ready:     "0/1",
		Age:       age(w.CreationTimestamp.Time),
		Image:     "Unknown",
	}
	if len(w.Spec.Template.Spec.Containers) > 0 {
		info.Image = w.Spec.Template.Spec.Containers[0].Image
	}

	pods, err := gw.ListPods(ctx, w.Namespace, sandboxLabelSelector(w.Name))
	if err != nil {
		info.Status = "Error"
		return info
	}
	if len(pods.Items) == 0 {
		return info
	}
	pod := pods.Items[0]
	info.Status = string(pod.Status.Phase)
	info.Restarts = podRestarts(&pod)
	info.Ready = readyString(&pod)
	if pod.Status.Phase == corev1.PodFailed {
		info.ErrorMessage = pod.Status.Reason
	}
	return info
}

func podRestarts(pod *corev1.Pod) int32 {
	var total int32
	for _, cs := range pod.Status.ContainerStatuses {
		total += cs.RestartCount
	}
	return total
}

func readyString(pod *corev1.Pod) string {
	ready := 0
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
	}
	return fmt.Sprintf("%d/%d", ready, len(pod.Status.ContainerStatuses))
}

func age(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return time.Since(t).Round(time.Second).String()
}

// GetMetrics reports a live CPU/memory usage sample for every sandbox in
// the given namespace ("" for all namespaces) that currently has a Running
// pod, per spec.md §4.5 — the same sandbox set ListSandboxes enumerates,
// filtered down to Running and then projected through the gateway's
// metrics client. Sandboxes without a Running pod are silently omitted,
// not reported as errors.
func GetMetrics(ctx context.Context, gw cluster.Gateway, namespace string) ([]SandboxMetrics, error) {
	workloads, err := gw.ListWorkloads(ctx, namespace)
	if err != nil {
		return nil, &ClusterError{Op: "list workloads for metrics", Err: err}
	}

	out := make([]SandboxMetrics, 0, len(workloads.Items))
	for _, w := range workloads.Items {
		if !isKataWorkload(&w) {
			continue
		}
		pods, err := gw.ListPods(ctx, w.Namespace, sandboxLabelSelector(w.Name))
		if err != nil || len(pods.Items) == 0 {
			continue
		}
		pod := pods.Items[0]
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}

		cpu, mem, err := gw.GetPodMetrics(ctx, w.Namespace, pod.Name)
		if err != nil {
			continue
		}
		out = append(out, SandboxMetrics{
			Name:        w.Name,
			Namespace:   w.Namespace,
			CPUUsage:    cpu,
			MemoryUsage: mem,
		})
	}
	return out, nil
}
