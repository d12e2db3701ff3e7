package apiserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"k8s.io/klog/v2"

	"github.com/katakate/k7/pkg/cluster"
	"github.com/katakate/k7/pkg/sandbox"
	"github.com/katakate/k7/pkg/version"
)

// Server is the HTTP control API described in spec.md §6. It wraps a
// Gateway-backed Controller and a file-backed KeyStore behind a
// standard net/http.ServeMux using Go 1.22's method+pattern routing,
// the same routing style the teacher's SSE transport builds its mux
// with.
type Server struct {
	gw     cluster.Gateway
	ctrl   *sandbox.Controller
	keys   *KeyStore
	health *HealthChecker
	mux    *http.ServeMux
}

// NewServer wires routes onto a fresh mux. fs backs the key store file
// so tests can substitute afero.NewMemMapFs().
func NewServer(gw cluster.Gateway, fs afero.Fs, keyStorePath string, hc *HealthChecker) *Server {
	s := &Server{
		gw:     gw,
		ctrl:   sandbox.NewController(gw),
		keys:   NewKeyStore(fs, keyStorePath),
		health: hc,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withAccessLog(withRequestID(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /", s.handleRoot)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	attachHealthEndpoints(s.mux, s.health)

	s.mux.HandleFunc("POST /api/v1/sandboxes", requireAPIKey(s.keys, s.handleCreateSandbox))
	s.mux.HandleFunc("GET /api/v1/sandboxes", requireAPIKey(s.keys, s.handleListSandboxes))
	s.mux.HandleFunc("GET /api/v1/sandboxes/metrics", requireAPIKey(s.keys, s.handleSandboxMetrics))
	s.mux.HandleFunc("GET /api/v1/sandboxes/{name}", requireAPIKey(s.keys, s.handleGetSandbox))
	s.mux.HandleFunc("DELETE /api/v1/sandboxes/{name}", requireAPIKey(s.keys, s.handleDeleteSandbox))
	s.mux.HandleFunc("DELETE /api/v1/sandboxes", requireAPIKey(s.keys, s.handleDeleteAllSandboxes))
	s.mux.HandleFunc("POST /api/v1/sandboxes/{name}/exec", requireAPIKey(s.keys, s.handleExec))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "k7 Sandbox API", "version": version.Version})
}

func decodeBody(r *http.Request) (map[string]any, error) {
	defer r.Body.Close()
	var m map[string]any
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec, err := sandbox.SpecFromMap(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.ctrl.CreateSandbox(r.Context(), spec, nil)
	if err != nil {
		writeErrorForSandboxErr(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/sandboxes/"+info.Name+"?namespace="+info.Namespace)
	writeData(w, http.StatusCreated, map[string]string{
		"name":      info.Name,
		"namespace": info.Namespace,
		"image":     info.Image,
	})
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	infos, err := sandbox.ListSandboxes(r.Context(), s.gw, ns)
	if err != nil {
		writeErrorForSandboxErr(w, err)
		return
	}
	writeData(w, http.StatusOK, infos)
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ns := queryOr(r, "namespace", "default")

	infos, err := sandbox.ListSandboxes(r.Context(), s.gw, ns)
	if err != nil {
		writeErrorForSandboxErr(w, err)
		return
	}
	for _, info := range infos {
		if info.Name == name {
			writeData(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Sandbox "+name+" not found in namespace "+ns)
}

func (s *Server) handleDeleteSandbox(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ns := queryOr(r, "namespace", "default")

	if err := s.ctrl.DeleteSandbox(r.Context(), ns, name); err != nil {
		writeErrorForSandboxErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": "sandbox " + name + " deleted"})
}

func (s *Server) handleDeleteAllSandboxes(w http.ResponseWriter, r *http.Request) {
	ns := queryOr(r, "namespace", "default")
	reports, err := s.ctrl.DeleteAllSandboxes(r.Context(), ns)
	if err != nil {
		writeErrorForSandboxErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"message": "processed delete-all request",
		"results": reports,
	})
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ns := queryOr(r, "namespace", "default")

	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd, _ := body["command"].(string)
	if cmd == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	result, err := sandbox.Exec(r.Context(), s.gw, ns, name, []string{"/bin/sh", "-c", cmd})
	if err != nil {
		writeErrorForSandboxErr(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleSandboxMetrics(w http.ResponseWriter, r *http.Request) {
	ns := r.URL.Query().Get("namespace")
	metrics, err := sandbox.GetMetrics(r.Context(), s.gw, ns)
	if err != nil {
		writeErrorForSandboxErr(w, err)
		return
	}
	writeData(w, http.StatusOK, metrics)
}

func queryOr(r *http.Request, key, def string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return def
}

// withRequestID stamps every request with a UUID used for log
// correlation, repurposing the MCP session-ID pattern the teacher used
// for long-lived tool sessions into a per-request trace ID here.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
		klog.V(2).InfoS("handled request", "requestId", id, "method", r.Method, "path", r.URL.Path, "durationMs", time.Since(start).Milliseconds())
	})
}
