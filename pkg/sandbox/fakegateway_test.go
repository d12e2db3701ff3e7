package sandbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"

	"github.com/katakate/k7/pkg/cluster"
)

// fakeGateway is an in-memory cluster.Gateway used by controller, exec, and
// aggregate tests, grounded on the teacher's pattern of exercising core
// logic against hand-written fakes rather than a live cluster.
type fakeGateway struct {
	mu sync.Mutex

	workloads map[string]*appsv1.Deployment
	secrets   map[string]*corev1.Secret
	policies  map[string]*networkingv1.NetworkPolicy
	pods      map[string][]corev1.Pod // keyed by namespace

	podPhase corev1.PodPhase
	podReady bool

	execExitCode int
	execErr      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		workloads: map[string]*appsv1.Deployment{},
		secrets:   map[string]*corev1.Secret{},
		policies:  map[string]*networkingv1.NetworkPolicy{},
		pods:      map[string][]corev1.Pod{},
		podPhase:  corev1.PodRunning,
		podReady:  true,
	}
}

func key(ns, name string) string { return ns + "/" + name }

func (f *fakeGateway) CreateWorkload(_ context.Context, ns string, obj *appsv1.Deployment) (*appsv1.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(ns, obj.Name)
	if _, ok := f.workloads[k]; ok {
		return nil, &cluster.AlreadyExistsError{Err: errors.New("deployment already exists")}
	}
	f.workloads[k] = obj
	f.seedPod(ns, obj)
	return obj, nil
}

func (f *fakeGateway) seedPod(ns string, w *appsv1.Deployment) {
	pod := corev1.Pod{}
	pod.Name = w.Name + "-pod"
	pod.Namespace = ns
	pod.Labels = w.Spec.Template.Labels
	pod.Status.Phase = f.podPhase
	for range w.Spec.Template.Spec.Containers {
		pod.Status.ContainerStatuses = append(pod.Status.ContainerStatuses, corev1.ContainerStatus{Ready: f.podReady})
	}
	f.pods[ns] = append(f.pods[ns], pod)
}

func (f *fakeGateway) ReadWorkload(_ context.Context, ns, name string) (*appsv1.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[key(ns, name)]
	if !ok {
		return nil, &cluster.GatewayNotFoundError{Err: &NotFoundError{Kind: "Deployment", Name: name}}
	}
	return w, nil
}

func (f *fakeGateway) DeleteWorkload(_ context.Context, ns, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(ns, name)
	if _, ok := f.workloads[k]; !ok {
		return &cluster.GatewayNotFoundError{Err: &NotFoundError{Kind: "Deployment", Name: name}}
	}
	delete(f.workloads, k)
	return nil
}

func (f *fakeGateway) ListWorkloads(_ context.Context, ns string) (*appsv1.DeploymentList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &appsv1.DeploymentList{}
	for k, w := range f.workloads {
		if ns == "" || strings.HasPrefix(k, ns+"/") {
			list.Items = append(list.Items, *w)
		}
	}
	return list, nil
}

func (f *fakeGateway) CreateSecret(_ context.Context, ns string, obj *corev1.Secret) (*corev1.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[key(ns, obj.Name)] = obj
	return obj, nil
}

func (f *fakeGateway) DeleteSecret(_ context.Context, ns, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(ns, name)
	if _, ok := f.secrets[k]; !ok {
		return &cluster.GatewayNotFoundError{Err: &NotFoundError{Kind: "Secret", Name: name}}
	}
	delete(f.secrets, k)
	return nil
}

func (f *fakeGateway) CreateNetworkPolicy(_ context.Context, ns string, obj *networkingv1.NetworkPolicy) (*networkingv1.NetworkPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[key(ns, obj.Name)] = obj
	return obj, nil
}

func (f *fakeGateway) DeleteNetworkPolicy(_ context.Context, ns, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(ns, name)
	if _, ok := f.policies[k]; !ok {
		return &cluster.GatewayNotFoundError{Err: &NotFoundError{Kind: "NetworkPolicy", Name: name}}
	}
	delete(f.policies, k)
	return nil
}

func (f *fakeGateway) ListPods(_ context.Context, ns, labelSelector string) (*corev1.PodList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &corev1.PodList{}
	for _, p := range f.pods[ns] {
		list.Items = append(list.Items, p)
	}
	return list, nil
}

func (f *fakeGateway) ExecPod(_ context.Context, ns, pod string, argv []string, stdout, stderr io.Writer) (int, error) {
	if f.execErr != nil {
		return 1, f.execErr
	}
	stdout.Write([]byte("ok"))
	return f.execExitCode, nil
}

func (f *fakeGateway) StreamPodLogs(_ context.Context, ns, pod, container string, since time.Duration, tailLines int64, follow bool) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeGateway) GetPodMetrics(_ context.Context, ns, pod string) (string, string, error) {
	return "10n", "1Ki", nil
}
