package apiserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katakate/k7/pkg/cluster"
)

// memGateway is a minimal in-memory cluster.Gateway stub for exercising
// HTTP handlers without a live cluster.
type memGateway struct {
	mu        sync.Mutex
	workloads map[string]*appsv1.Deployment
}

func newMemGateway() *memGateway { return &memGateway{workloads: map[string]*appsv1.Deployment{}} }

func (g *memGateway) CreateWorkload(_ context.Context, ns string, obj *appsv1.Deployment) (*appsv1.Deployment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := ns + "/" + obj.Name
	if _, ok := g.workloads[k]; ok {
		return nil, &cluster.AlreadyExistsError{Err: http.ErrBodyNotAllowed}
	}
	g.workloads[k] = obj
	return obj, nil
}
func (g *memGateway) ReadWorkload(_ context.Context, ns, name string) (*appsv1.Deployment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w, ok := g.workloads[ns+"/"+name]; ok {
		return w, nil
	}
	return nil, &cluster.GatewayNotFoundError{Err: http.ErrNoLocation}
}
func (g *memGateway) DeleteWorkload(_ context.Context, ns, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := ns + "/" + name
	if _, ok := g.workloads[k]; !ok {
		return &cluster.GatewayNotFoundError{Err: http.ErrNoLocation}
	}
	delete(g.workloads, k)
	return nil
}
func (g *memGateway) ListWorkloads(_ context.Context, ns string) (*appsv1.DeploymentList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := &appsv1.DeploymentList{}
	for k, w := range g.workloads {
		if ns == "" || strings.HasPrefix(k, ns+"/") {
			list.Items = append(list.Items, *w)
		}
	}
	return list, nil
}
func (g *memGateway) CreateSecret(_ context.Context, ns string, obj *corev1.Secret) (*corev1.Secret, error) {
	return obj, nil
}
func (g *memGateway) DeleteSecret(context.Context, string, string) error { return nil }
func (g *memGateway) CreateNetworkPolicy(_ context.Context, ns string, obj *networkingv1.NetworkPolicy) (*networkingv1.NetworkPolicy, error) {
	return obj, nil
}
func (g *memGateway) DeleteNetworkPolicy(context.Context, string, string) error { return nil }
func (g *memGateway) ListPods(context.Context, string, string) (*corev1.PodList, error) {
	return &corev1.PodList{}, nil
}
func (g *memGateway) ExecPod(context.Context, string, string, []string, io.Writer, io.Writer) (int, error) {
	return 0, nil
}
func (g *memGateway) StreamPodLogs(context.Context, string, string, string, time.Duration, int64, bool) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}
func (g *memGateway) GetPodMetrics(context.Context, string, string) (string, string, error) {
	return "0n", "0Ki", nil
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := NewKeyStore(fs, "/etc/k7/api_keys.json")
	token, err := store.Create("test", 0)
	require.NoError(t, err)

	srv := NewServer(newMemGateway(), fs, "/etc/k7/api_keys.json", NewHealthChecker())
	return srv, token
}

func TestCreateSandboxRequiresAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sandboxes", strings.NewReader(`{"name":"s1","image":"alpine"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetSandbox(t *testing.T) {
	srv, token := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/sandboxes", strings.NewReader(`{"name":"s1","image":"alpine:3.20"}`))
	createReq.Header.Set("X-API-Key", token)
	createRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/sandboxes/s1", nil)
	getReq.Header.Set("Authorization", "Bearer "+token)
	getRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var body envelope
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&body))
	assert.NotNil(t, body.Data)
}

func TestDuplicateCreateReturnsConflict(t *testing.T) {
	srv, token := newTestServer(t)
	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/sandboxes", strings.NewReader(`{"name":"dup","image":"alpine"}`))
		r.Header.Set("X-API-Key", token)
		return r
	}

	rec1 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec1, req())
	require.Equal(t, http.StatusCreated, rec1.Code)

	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req())
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestHealthzDoesNotRequireAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
