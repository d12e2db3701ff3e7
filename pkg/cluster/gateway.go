package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	clientgoexec "k8s.io/client-go/util/exec"
	"k8s.io/client-go/tools/remotecommand"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Gateway is the typed, idempotent-friendly abstraction over the remote
// cluster API that every other core component is built on (spec.md §4.1).
// Implementations must be safe for concurrent use once constructed.
type Gateway interface {
	CreateWorkload(ctx context.Context, ns string, obj *appsv1.Deployment) (*appsv1.Deployment, error)
	ReadWorkload(ctx context.Context, ns, name string) (*appsv1.Deployment, error)
	DeleteWorkload(ctx context.Context, ns, name string) error
	ListWorkloads(ctx context.Context, ns string) (*appsv1.DeploymentList, error)

	CreateSecret(ctx context.Context, ns string, obj *corev1.Secret) (*corev1.Secret, error)
	DeleteSecret(ctx context.Context, ns, name string) error

	CreateNetworkPolicy(ctx context.Context, ns string, obj *networkingv1.NetworkPolicy) (*networkingv1.NetworkPolicy, error)
	DeleteNetworkPolicy(ctx context.Context, ns, name string) error

	ListPods(ctx context.Context, ns, labelSelector string) (*corev1.PodList, error)

	ExecPod(ctx context.Context, ns, pod string, argv []string, stdout, stderr io.Writer) (exitCode int, err error)
	StreamPodLogs(ctx context.Context, ns, pod, container string, since time.Duration, tailLines int64, follow bool) (io.ReadCloser, error)
	GetPodMetrics(ctx context.Context, ns, pod string) (cpu, memory string, err error)
}

// clientGateway is the client-go-backed Gateway implementation. Its client
// handles are built lazily on first use and are then safe for concurrent
// calls, per spec.md §5's "Shared resources" clause.
type clientGateway struct {
	kubeconfigPath string

	once       sync.Once
	initErr    error
	restConfig *rest.Config
	clientset  kubernetes.Interface
	metrics    metricsclientset.Interface
}

// NewGateway constructs a Gateway that lazily loads credentials on first
// use via LoadConfig(kubeconfigPath).
func NewGateway(kubeconfigPath string) Gateway {
	return &clientGateway{kubeconfigPath: kubeconfigPath}
}

func (g *clientGateway) ensureClients() error {
	g.once.Do(func() {
		cfg, err := LoadConfig(g.kubeconfigPath)
		if err != nil {
			g.initErr = fmt.Errorf("load cluster config: %w", err)
			return
		}
		cs, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			g.initErr = fmt.Errorf("build clientset: %w", err)
			return
		}
		mc, err := metricsclientset.NewForConfig(cfg)
		if err != nil {
			g.initErr = fmt.Errorf("build metrics clientset: %w", err)
			return
		}
		g.restConfig = cfg
		g.clientset = cs
		g.metrics = mc
	})
	return g.initErr
}

func (g *clientGateway) CreateWorkload(ctx context.Context, ns string, obj *appsv1.Deployment) (*appsv1.Deployment, error) {
	if err := g.ensureClients(); err != nil {
		return nil, err
	}
	out, err := g.clientset.AppsV1().Deployments(ns).Create(ctx, obj, metav1.CreateOptions{})
	return out, classify(err)
}

func (g *clientGateway) ReadWorkload(ctx context.Context, ns, name string) (*appsv1.Deployment, error) {
	if err := g.ensureClients(); err != nil {
		return nil, err
	}
	out, err := g.clientset.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	return out, classify(err)
}

func (g *clientGateway) DeleteWorkload(ctx context.Context, ns, name string) error {
	if err := g.ensureClients(); err != nil {
		return err
	}
	return classify(g.clientset.AppsV1().Deployments(ns).Delete(ctx, name, metav1.DeleteOptions{}))
}

func (g *clientGateway) ListWorkloads(ctx context.Context, ns string) (*appsv1.DeploymentList, error) {
	if err := g.ensureClients(); err != nil {
		return nil, err
	}
	if ns == "" {
		out, err := g.clientset.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
		return out, classify(err)
	}
	out, err := g.clientset.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{})
	return out, classify(err)
}

func (g *clientGateway) CreateSecret(ctx context.Context, ns string, obj *corev1.Secret) (*corev1.Secret, error) {
	if err := g.ensureClients(); err != nil {
		return nil, err
	}
	out, err := g.clientset.CoreV1().Secrets(ns).Create(ctx, obj, metav1.CreateOptions{})
	return out, classify(err)
}

func (g *clientGateway) DeleteSecret(ctx context.Context, ns, name string) error {
	if err := g.ensureClients(); err != nil {
		return err
	}
	return classify(g.clientset.CoreV1().Secrets(ns).Delete(ctx, name, metav1.DeleteOptions{}))
}

func (g *clientGateway) CreateNetworkPolicy(ctx context.Context, ns string, obj *networkingv1.NetworkPolicy) (*networkingv1.NetworkPolicy, error) {
	if err := g.ensureClients(); err != nil {
		return nil, err
	}
	out, err := g.clientset.NetworkingV1().NetworkPolicies(ns).Create(ctx, obj, metav1.CreateOptions{})
	return out, classify(err)
}

func (g *clientGateway) DeleteNetworkPolicy(ctx context.Context, ns, name string) error {
	if err := g.ensureClients(); err != nil {
		return err
	}
	return classify(g.clientset.NetworkingV1().NetworkPolicies(ns).Delete(ctx, name, metav1.DeleteOptions{}))
}

func (g *clientGateway) ListPods(ctx context.Context, ns, labelSelector string) (*corev1.PodList, error) {
	if err := g.ensureClients(); err != nil {
		return nil, err
	}
	out, err := g.clientset.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	return out, classify(err)
}

// ExecPod opens a bidirectional SPDY exec stream against a running pod,
// grounded on the same remotecommand.NewSPDYExecutor + StreamWithContext
// pattern used for in-cluster connectivity checks. Stdin is always
// disabled and no TTY is allocated, per spec.md §4.4.
func (g *clientGateway) ExecPod(ctx context.Context, ns, pod string, argv []string, stdout, stderr io.Writer) (int, error) {
	if err := g.ensureClients(); err != nil {
		return 1, err
	}

	req := g.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(ns).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: argv,
			Stdin:   false,
			Stdout:  true,
			Stderr:  true,
			TTY:     false,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(g.restConfig, "POST", req.URL())
	if err != nil {
		return 1, classify(err)
	}

	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
	})
	if err == nil {
		return 0, nil
	}

	var codeErr clientgoexec.CodeExitError
	if errors.As(err, &codeErr) {
		return codeErr.Code, nil
	}
	return 1, classify(err)
}

func (g *clientGateway) StreamPodLogs(ctx context.Context, ns, pod, container string, since time.Duration, tailLines int64, follow bool) (io.ReadCloser, error) {
	if err := g.ensureClients(); err != nil {
		return nil, err
	}
	opts := &corev1.PodLogOptions{
		Container: container,
		Follow:    follow,
	}
	if since > 0 {
		sec := int64(since.Seconds())
		opts.SinceSeconds = &sec
	}
	if tailLines > 0 {
		opts.TailLines = &tailLines
	}
	stream, err := g.clientset.CoreV1().Pods(ns).GetLogs(pod, opts).Stream(ctx)
	return stream, classify(err)
}

func (g *clientGateway) GetPodMetrics(ctx context.Context, ns, pod string) (string, string, error) {
	if err := g.ensureClients(); err != nil {
		return "", "", err
	}
	m, err := g.metrics.MetricsV1beta1().PodMetricses(ns).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return "", "", classify(err)
	}
	if len(m.Containers) == 0 {
		return "0n", "0Ki", nil
	}
	usage := m.Containers[0].Usage
	return usage.Cpu().String(), usage.Memory().String(), nil
}

// classify maps raw apierrors into the taxonomy callers above the gateway
// inspect with errors.As (spec.md §7). nil passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case apierrors.IsAlreadyExists(err):
		return &AlreadyExistsError{Err: err}
	case apierrors.IsNotFound(err):
		return &GatewayNotFoundError{Err: err}
	case apierrors.IsInvalid(err):
		return &InvalidError{Err: err}
	default:
		return &TransportOrClusterError{Err: err}
	}
}

// AlreadyExistsError wraps a 409 from the cluster API.
type AlreadyExistsError struct{ Err error }

func (e *AlreadyExistsError) Error() string { return e.Err.Error() }
func (e *AlreadyExistsError) Unwrap() error { return e.Err }

// GatewayNotFoundError wraps a 404 from the cluster API.
type GatewayNotFoundError struct{ Err error }

func (e *GatewayNotFoundError) Error() string { return e.Err.Error() }
func (e *GatewayNotFoundError) Unwrap() error { return e.Err }

// InvalidError wraps a 422 from the cluster API.
type InvalidError struct{ Err error }

func (e *InvalidError) Error() string { return e.Err.Error() }
func (e *InvalidError) Unwrap() error { return e.Err }

// TransportOrClusterError wraps any other non-2xx response or a transport
// failure (unreachable cluster, auth failure).
type TransportOrClusterError struct{ Err error }

func (e *TransportOrClusterError) Error() string { return e.Err.Error() }
func (e *TransportOrClusterError) Unwrap() error { return e.Err }

// IsAlreadyExists reports whether err (or anything it wraps) is a 409.
func IsAlreadyExists(err error) bool {
	var e *AlreadyExistsError
	return errors.As(err, &e)
}

// IsNotFound reports whether err (or anything it wraps) is a 404.
func IsNotFound(err error) bool {
	var e *GatewayNotFoundError
	return errors.As(err, &e)
}
