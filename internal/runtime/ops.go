package runtime

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/syncflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
)

// Health is the body of GET /healthz.
type Health struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Transport  string `json:"transport"`
	Publishing bool   `json:"publishing"`
	Consuming  bool   `json:"consuming"`
}

// registerOpsRoutes mounts the health and handler endpoints on the web UI
// port and /metrics on the metrics port. Both may be the same port.
func (s *Service) registerOpsRoutes() {
	if s.Conf.WebUIEnabled {
		port := s.Conf.WebUIPort
		s.RegisterHTTPHandler(port, "/healthz", http.HandlerFunc(s.handleHealth), http.MethodGet)
		s.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(s.handleGetHandlers), http.MethodGet)
		s.RegisterHTTPHandler(port, "/api/handlers/{name}", http.HandlerFunc(s.handleGetHandler), http.MethodGet)
	}
	if s.Conf.MetricsEnabled {
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics",
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}), http.MethodGet)
	}
}

// RegisterHTTPHandler mounts handler on the ops server listening on port.
// Servers start with Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler, methods ...string) {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()

	if s.httpRouters == nil {
		s.httpRouters = make(map[int]*mux.Router)
	}
	r, ok := s.httpRouters[port]
	if !ok {
		r = mux.NewRouter()
		s.httpRouters[port] = r
	}
	route := r.Handle(pattern, handler)
	if len(methods) > 0 {
		route.Methods(methods...)
	}
}

// OpsHandler returns the router registered for port, or nil.
func (s *Service) OpsHandler(port int) http.Handler {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()
	if r, ok := s.httpRouters[port]; ok {
		return r
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, Health{
		Status:     "ok",
		Service:    s.Conf.ServiceName,
		Transport:  s.Conf.PubSubSystem,
		Publishing: s.pipeline != nil,
		Consuming:  s.dispatcher != nil,
	})
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Handlers())
}

func (s *Service) handleGetHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, h := range s.Handlers() {
		if h.Name == name {
			s.writeJSON(w, http.StatusOK, h)
			return
		}
	}
	http.Error(w, "handler not found", http.StatusNotFound)
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		s.Logger.Error("Failed to encode ops response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.Logger.Debug("Ops response not written", loggingpkg.LogFields{"error": err.Error()})
	}
}
