package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/cron"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/mail"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grafana/grafana-plugin-sdk-go/backend"
	"github.com/grafana/grafana-plugin-sdk-go/backend/resource/httpadapter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler handles HTTP API requests
type Handler struct {
	store     *store.Store
	scheduler *cron.Scheduler
	smtp      *model.SMTPConfig
	router    chi.Router
}

// NewHandler creates a new API handler
func NewHandler(st *store.Store, scheduler *cron.Scheduler, smtp *model.SMTPConfig) *Handler {
	h := &Handler{
		store:     st,
		scheduler: scheduler,
		smtp:      smtp,
		router:    chi.NewRouter(),
	}

	h.registerRoutes()
	return h
}

// registerRoutes registers all HTTP routes
func (h *Handler) registerRoutes() {
	r := h.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", h.handleHealth)
	r.Get("/api/targets", h.handleTargets)
	r.Post("/api/targets/run", h.handleRunTarget)
	r.Get("/api/runs", h.handleRuns)
	r.Get("/api/runs/{id}", h.handleRun)
	r.Get("/api/runs/{id}/artifact/{kind}", h.handleArtifact)
	r.Post("/api/smtp/test", h.handleSMTPTest)

	r.Handle("/metrics", promhttp.Handler())
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// CallResource implements backend.CallResourceHandler
func (h *Handler) CallResource(ctx context.Context, req *backend.CallResourceRequest, sender backend.CallResourceResponseSender) error {
	adapter := httpadapter.New(h.router)
	return adapter.CallResource(ctx, req, sender)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTargets handles GET /api/targets
func (h *Handler) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.store.ListTargets()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"targets": targets})
}

type runRequest struct {
	Name string `json:"name"`
}

// handleRunTarget handles POST /api/targets/run
func (h *Handler) handleRunTarget(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "target name is required", http.StatusBadRequest)
		return
	}

	if err := h.scheduler.RunNow(req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "started", "target": req.Name})
}

// handleRuns handles GET /api/runs?target_id=&limit=
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var targetID int64
	if v := q.Get("target_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid target_id", http.StatusBadRequest)
			return
		}
		targetID = id
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(targetID, limit)
	if err != nil {
		log.Printf("Error loading runs for target %d: %v", targetID, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return nil, false
	}

	run, err := h.store.GetRun(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

// handleRun handles GET /api/runs/{id}
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleArtifact handles GET /api/runs/{id}/artifact/{kind}
func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	var path, contentType string
	switch kind := chi.URLParam(r, "kind"); kind {
	case "png":
		path, contentType = run.PNGPath, "image/png"
	case "pdf":
		path, contentType = run.PDFPath, "application/pdf"
	default:
		http.Error(w, fmt.Sprintf("unknown artifact kind '%s'", kind), http.StatusBadRequest)
		return
	}

	if path == "" {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filepath.Base(path)))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
	log.Printf("Served artifact: target=%s, run_id=%d, size=%d bytes", run.TargetName, run.ID, len(data))
}

// smtpTestRequest carries the password, which SMTPConfig never serializes
type smtpTestRequest struct {
	model.SMTPConfig
	Password string `json:"password"`
}

// handleSMTPTest handles POST /api/smtp/test. An empty body tests the
// configured server.
func (h *Handler) handleSMTPTest(w http.ResponseWriter, r *http.Request) {
	var req smtpTestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	cfg := req.SMTPConfig
	cfg.Password = req.Password
	if cfg.Host == "" && h.smtp != nil {
		cfg = *h.smtp
	}

	if err := mail.NewMailer(cfg).Test(); err != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
			"host":    cfg.Host,
			"port":    cfg.Port,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Successfully connected to SMTP server",
		"host":    cfg.Host,
		"port":    cfg.Port,
		"tls":     cfg.UseTLS,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
