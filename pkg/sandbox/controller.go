package sandbox

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/katakate/k7/pkg/cluster"
)

// InitWaitTimeout bounds how long CreateSandbox polls for the pod to reach
// Ready before moving on regardless — a hard 300-second ceiling per
// spec.md §4.3/§5, not a tunable default.
const InitWaitTimeout = 300 * time.Second

const initWaitPollInterval = 2 * time.Second

// Controller is the Lifecycle Controller: the only component allowed to
// drive a sandbox through VALIDATING -> PROVISIONING -> INIT_WAIT ->
// EGRESS_LOCK -> INGRESS_DENY -> COMPLETE.
type Controller struct {
	gw cluster.Gateway
}

// NewController builds a Controller over the given Gateway.
func NewController(gw cluster.Gateway) *Controller {
	return &Controller{gw: gw}
}

func sandboxLabelSelector(name string) string {
	return labelSandbox + "=" + name
}

// CreateSandbox drives a single sandbox through every stage of the state
// machine in order, never rolling back objects that already landed: a
// later-stage failure leaves earlier objects in place for Delete to clean
// up, per spec.md §4.3.
func (c *Controller) CreateSandbox(ctx context.Context, spec *SandboxSpec, sink ProgressSink) (*SandboxInfo, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if _, err := c.gw.ReadWorkload(ctx, spec.Namespace, spec.Name); err == nil {
		return nil, &Conflict{Name: spec.Name}
	} else if !cluster.IsNotFound(err) {
		return nil, &ClusterError{Op: "read workload", Err: err}
	}

	emit(sink, ProgressEvent{Stage: "provisioning", Status: "start"})

	workload := BuildWorkload(spec)
	if _, err := c.gw.CreateWorkload(ctx, spec.Namespace, workload); err != nil {
		if cluster.IsAlreadyExists(err) {
			return nil, &Conflict{Name: spec.Name}
		}
		emit(sink, ProgressEvent{Stage: "provisioning", Status: "error", Error: err.Error()})
		return nil, &ClusterError{Op: "create workload", Err: err}
	}
	emit(sink, ProgressEvent{Stage: "provisioning", Status: "done"})

	if spec.BeforeScript == "" {
		emit(sink, ProgressEvent{Stage: "before_script", Status: "skipped"})
	} else {
		emit(sink, ProgressEvent{Stage: "before_script", Status: "waiting", Script: spec.BeforeScript})
		// A timed-out before_script is non-fatal: spec.md §4.3 requires
		// falling through to network lockdown regardless.
		_ = c.waitForReady(ctx, spec)
		emit(sink, ProgressEvent{Stage: "before_script", Status: "done"})
	}

	egress := spec.Egress()
	if egress.Mode == EgressOpen {
		emit(sink, ProgressEvent{Stage: "network_lockdown", Status: "skipped"})
	} else {
		policy := BuildEgressPolicy(spec)
		emit(sink, ProgressEvent{Stage: "network_lockdown", Status: "applying", Policy: policy.Name})
		if _, err := c.gw.CreateNetworkPolicy(ctx, spec.Namespace, policy); err != nil && !cluster.IsAlreadyExists(err) {
			emit(sink, ProgressEvent{Stage: "network_lockdown", Status: "error", Error: err.Error()})
			return nil, &ClusterError{Op: "create egress policy", Err: err}
		}
		emit(sink, ProgressEvent{Stage: "network_lockdown", Status: "done", Policy: policy.Name})
	}

	denyPolicy := BuildIngressDenyPolicy(spec)
	if _, err := c.gw.CreateNetworkPolicy(ctx, spec.Namespace, denyPolicy); err != nil {
		if cluster.IsAlreadyExists(err) {
			emit(sink, ProgressEvent{Stage: "network_lockdown", Status: "exists"})
		} else {
			emit(sink, ProgressEvent{Stage: "network_lockdown", Status: "error", Error: err.Error()})
			return nil, &ClusterError{Op: "create ingress-deny policy", Err: err}
		}
	}

	emit(sink, ProgressEvent{Stage: "complete", Status: "success", Message: spec.Name})

	return &SandboxInfo{
		Name:      spec.Name,
		Namespace: spec.Namespace,
		Status:    "Provisioning",
		Image:     spec.Image,
	}, nil
}

// CreateSandboxWithEnv is CreateSandbox plus an already-parsed env var map,
// which is threaded through as the <name>-env secret before the workload is
// created, per spec.md §3 (the secret must exist before the pod that
// references it is scheduled).
func (c *Controller) CreateSandboxWithEnv(ctx context.Context, spec *SandboxSpec, envVars map[string]string, sink ProgressSink) (*SandboxInfo, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if _, err := c.gw.ReadWorkload(ctx, spec.Namespace, spec.Name); err == nil {
		return nil, &Conflict{Name: spec.Name}
	} else if !cluster.IsNotFound(err) {
		return nil, &ClusterError{Op: "read workload", Err: err}
	}

	if len(envVars) > 0 {
		secret := BuildEnvSecret(spec, envVars)
		if _, err := c.gw.CreateSecret(ctx, spec.Namespace, secret); err != nil && !cluster.IsAlreadyExists(err) {
			return nil, &ClusterError{Op: "create env secret", Err: err}
		}
	}

	return c.CreateSandbox(ctx, spec, sink)
}

// waitForReady polls pod readiness until InitWaitTimeout elapses or the pod
// matching the sandbox's selector is Ready, per spec.md §4.3's INIT_WAIT
// stage.
func (c *Controller) waitForReady(ctx context.Context, spec *SandboxSpec) error {
	deadline := time.Now().Add(InitWaitTimeout)
	for {
		pods, err := c.gw.ListPods(ctx, spec.Namespace, sandboxLabelSelector(spec.Name))
		if err == nil && podListReady(pods) {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Op: "wait for sandbox readiness", After: InitWaitTimeout.String()}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(initWaitPollInterval):
		}
	}
}

func podListReady(pods *corev1.PodList) bool {
	if pods == nil || len(pods.Items) == 0 {
		return false
	}
	pod := pods.Items[0]
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

// DeleteSandbox tears down every object derived from a sandbox name: the
// two network policies, the env secret (if any), and the workload. Each of
// the four deletes is independent and tolerates NotFound, so the operation
// is idempotent — calling it twice in succession returns success both
// times, per spec.md §4.3/§8 property 7.
func (c *Controller) DeleteSandbox(ctx context.Context, namespace, name string) error {
	var firstErr error
	note := func(err error) {
		if err != nil && !cluster.IsNotFound(err) && firstErr == nil {
			firstErr = err
		}
	}

	note(c.gw.DeleteNetworkPolicy(ctx, namespace, ingressDenyPolicyName(name)))
	note(c.gw.DeleteNetworkPolicy(ctx, namespace, egressPolicyName(name)))
	note(c.gw.DeleteSecret(ctx, namespace, envSecretName(name)))
	note(c.gw.DeleteWorkload(ctx, namespace, name))

	if firstErr != nil {
		return &ClusterError{Op: "delete sandbox", Err: firstErr}
	}
	return nil
}

// DeleteAllSandboxes deletes every kata sandbox workload (as selected by
// isKataWorkload) in the given namespace and reports a per-sandbox outcome; a single
// sandbox's failure never aborts the remaining deletes, per spec.md §4.3.
func (c *Controller) DeleteAllSandboxes(ctx context.Context, namespace string) ([]DeleteReport, error) {
	list, err := c.gw.ListWorkloads(ctx, namespace)
	if err != nil {
		return nil, &ClusterError{Op: "list workloads", Err: err}
	}

	reports := make([]DeleteReport, 0, len(list.Items))
	for _, w := range list.Items {
		if !isKataWorkload(&w) {
			continue
		}
		report := DeleteReport{Name: w.Name}
		if err := c.DeleteSandbox(ctx, w.Namespace, w.Name); err != nil {
			report.Success = false
			report.Error = err.Error()
		} else {
			report.Success = true
		}
		reports = append(reports, report)
	}
	return reports, nil
}
