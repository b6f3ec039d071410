package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"plexflow/internal/engine"
	"plexflow/internal/types"
)

// WebhookServer serves HTTP requests that trigger flows.
type WebhookServer struct {
	engine *engine.Engine
	flows  map[string]*types.FlowDef
	routes map[string]*types.FlowDef // trigger path -> flow
	logger *zap.Logger
}

// NewWebhookServer creates a new webhook server.
func NewWebhookServer(eng *engine.Engine, flows map[string]*types.FlowDef, logger *zap.Logger) *WebhookServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	routes := make(map[string]*types.FlowDef)
	for _, f := range flows {
		if f.Trigger != nil && f.Trigger.Type == "webhook" {
			routes[f.Trigger.Path] = f
		}
	}
	return &WebhookServer{
		engine: eng,
		flows:  flows,
		routes: routes,
		logger: logger,
	}
}

// Router builds the HTTP handler for health, flow listing, metrics and
// every webhook trigger.
func (s *WebhookServer) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/flows", s.handleListFlows).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	for path, flow := range s.routes {
		router.HandleFunc(path, s.handleTrigger(flow)).Methods(http.MethodPost)
	}

	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return router
}

// ListenAndServe starts the HTTP server.
func (s *WebhookServer) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("webhook server listening", zap.String("addr", addr), zap.Int("routes", len(s.routes)))
	return srv.ListenAndServe()
}

func (s *WebhookServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *WebhookServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *WebhookServer) handleListFlows(w http.ResponseWriter, r *http.Request) {
	type flowInfo struct {
		Name        string           `json:"name"`
		Description string           `json:"description"`
		TriggerPath string           `json:"trigger_path,omitempty"`
		Input       *types.SchemaDef `json:"input,omitempty"`
	}

	infos := make([]flowInfo, 0, len(s.flows))
	for _, f := range s.flows {
		fi := flowInfo{
			Name:        f.Name,
			Description: f.Description,
			Input:       f.Input,
		}
		if f.Trigger != nil {
			fi.TriggerPath = f.Trigger.Path
		}
		infos = append(infos, fi)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	writeJSON(w, http.StatusOK, infos)
}

func (s *WebhookServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": fmt.Sprintf("no flow mapped to path %q", r.URL.Path),
	})
}

func (s *WebhookServer) handleTrigger(flow *types.FlowDef) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input map[string]any
		if r.Body != nil && r.ContentLength != 0 {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
				return
			}
		}
		if input == nil {
			input = make(map[string]any)
		}

		result, err := s.engine.Run(r.Context(), flow, input)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		statusCode := http.StatusOK
		if result.Status == "failed" {
			statusCode = http.StatusInternalServerError
		}
		writeJSON(w, statusCode, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
