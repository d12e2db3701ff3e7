package cluster

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGateway wires a clientGateway directly around a fake clientset,
// bypassing LoadConfig/ensureClients so CRUD behavior can be exercised
// without a live cluster.
func newTestGateway() *clientGateway {
	cs := fake.NewSimpleClientset()
	g := &clientGateway{clientset: cs}
	g.once.Do(func() {})
	return g
}

func TestCreateAndReadWorkload(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	dep := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "s1", Namespace: "default"}}
	_, err := g.CreateWorkload(ctx, "default", dep)
	require.NoError(t, err)

	got, err := g.ReadWorkload(ctx, "default", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.Name)
}

func TestCreateWorkloadConflictClassification(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()
	dep := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "dup", Namespace: "default"}}

	_, err := g.CreateWorkload(ctx, "default", dep)
	require.NoError(t, err)

	_, err = g.CreateWorkload(ctx, "default", dep)
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
}

func TestReadWorkloadNotFoundClassification(t *testing.T) {
	g := newTestGateway()
	_, err := g.ReadWorkload(context.Background(), "default", "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestDeleteWorkload(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()
	dep := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "s1", Namespace: "default"}}
	_, err := g.CreateWorkload(ctx, "default", dep)
	require.NoError(t, err)

	require.NoError(t, g.DeleteWorkload(ctx, "default", "s1"))
	_, err = g.ReadWorkload(ctx, "default", "s1")
	assert.True(t, IsNotFound(err))
}

func TestListWorkloadsFiltersByNamespace(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()
	_, err := g.CreateWorkload(ctx, "default", &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "default"}})
	require.NoError(t, err)
	_, err = g.CreateWorkload(ctx, "other", &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "b", Namespace: "other"}})
	require.NoError(t, err)

	list, err := g.ListWorkloads(ctx, "default")
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "a", list.Items[0].Name)
}

func TestSecretLifecycle(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "s1-env", Namespace: "default"}}
	_, err := g.CreateSecret(ctx, "default", secret)
	require.NoError(t, err)
	require.NoError(t, g.DeleteSecret(ctx, "default", "s1-env"))
	assert.True(t, IsNotFound(g.DeleteSecret(ctx, "default", "s1-env")))
}

func TestListPodsWithLabelSelector(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name: "p1", Namespace: "default", Labels: map[string]string{"katakate.org/sandbox": "s1"},
	}}
	_, err := g.clientset.CoreV1().Pods("default").Create(ctx, pod, metav1.CreateOptions{})
	require.NoError(t, err)

	list, err := g.ListPods(ctx, "default", "katakate.org/sandbox=s1")
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "p1", list.Items[0].Name)
}
