// Package server exposes the model catalog, model store and batch
// tagging over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/lumeview/tagrunner/pkg/batch"
	"github.com/lumeview/tagrunner/pkg/catalog"
	"github.com/lumeview/tagrunner/pkg/engine"
	"github.com/lumeview/tagrunner/pkg/logging"
	"github.com/lumeview/tagrunner/pkg/middleware"
	"github.com/lumeview/tagrunner/pkg/store"
)

// maximumConcurrentInstalls is the maximum number of concurrent model
// downloads that a manager will allow.
const maximumConcurrentInstalls = 2

// Manager serves model management and batch tagging requests.
type Manager struct {
	// log is the associated logger.
	log logging.Logger
	// store holds model files on disk.
	store *store.LocalStore
	// engine runs classification sessions.
	engine *engine.Engine
	// orchestrator drives batch runs.
	orchestrator *batch.Orchestrator
	// installTokens is a semaphore used to restrict the maximum number
	// of concurrent model downloads.
	installTokens chan struct{}
	// router is the HTTP request router.
	router *http.ServeMux
	// httpHandler wraps router with the server-level middleware.
	httpHandler http.Handler
	// lock synchronizes access to the manager's router.
	lock sync.RWMutex
}

// NewManager creates a new manager.
func NewManager(log logging.Logger, st *store.LocalStore, e *engine.Engine, allowedOrigins []string) *Manager {
	m := &Manager{
		log:           log,
		store:         st,
		engine:        e,
		orchestrator:  batch.NewOrchestrator(e, st, log),
		installTokens: make(chan struct{}, maximumConcurrentInstalls),
		router:        http.NewServeMux(),
	}

	m.router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	for route, handler := range m.routeHandlers() {
		m.router.HandleFunc(route, handler)
	}

	m.RebuildRoutes(allowedOrigins)

	for i := 0; i < maximumConcurrentInstalls; i++ {
		m.installTokens <- struct{}{}
	}

	return m
}

// RebuildRoutes recreates the handlers that depend on the allowed
// origins.
func (m *Manager) RebuildRoutes(allowedOrigins []string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.httpHandler = middleware.CorsMiddleware(allowedOrigins, m.router)
}

func (m *Manager) routeHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"GET /api/models":               m.handleGetModels,
		"GET /api/models/{id}":          m.handleGetModel,
		"POST /api/models/{id}/install": m.handleInstallModel,
		"DELETE /api/models/{id}":       m.handleDeleteModel,
		"POST /api/batch":               m.handleBatch,
		"GET /api/status":               m.handleStatus,
	}
}

// ModelInfo is the API representation of a catalog model.
type ModelInfo struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Provider    string       `json:"provider"`
	SizeBytes   int64        `json:"sizeBytes"`
	Status      store.Status `json:"status"`
	Default     bool         `json:"default,omitempty"`
}

// StatusResponse is the API representation of daemon state.
type StatusResponse struct {
	Status          string `json:"status"`
	ModelsInstalled int    `json:"modelsInstalled"`
}

func (m *Manager) toModelInfo(c catalog.Model) ModelInfo {
	return ModelInfo{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Provider:    c.Provider,
		SizeBytes:   c.TotalSize(),
		Status:      m.store.Status(c),
		Default:     c.Default,
	}
}

// handleGetModels handles GET /api/models requests.
func (m *Manager) handleGetModels(w http.ResponseWriter, _ *http.Request) {
	models := catalog.Models()
	infos := make([]ModelInfo, len(models))
	for i, c := range models {
		infos[i] = m.toModelInfo(c)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		m.log.Warnln("Error while encoding model listing response:", err)
	}
}

// handleGetModel handles GET /api/models/{id} requests.
func (m *Manager) handleGetModel(w http.ResponseWriter, r *http.Request) {
	c, err := catalog.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.toModelInfo(c)); err != nil {
		m.log.Warnln("Error while encoding model response:", err)
	}
}

// handleInstallModel handles POST /api/models/{id}/install requests.
// Download progress is streamed to the client as NDJSON records.
func (m *Manager) handleInstallModel(w http.ResponseWriter, r *http.Request) {
	c, err := catalog.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	// Restrict install concurrency.
	select {
	case <-m.installTokens:
	case <-r.Context().Done():
		return
	}
	defer func() {
		m.installTokens <- struct{}{}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	pw := &progressResponseWriter{writer: w, flusher: flusher}

	m.log.Infoln("Installing model:", c.ID)
	if err := m.store.Download(r.Context(), c, pw.emit); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			m.log.Infof("Request canceled while installing model %q", c.ID)
			return
		}
		// The terminal error record has already been streamed; the
		// status code is long gone.
		m.log.Warnf("Failed to install model %q: %v", c.ID, err)
	}
}

// handleDeleteModel handles DELETE /api/models/{id} requests.
func (m *Manager) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	c, err := catalog.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	m.engine.Evict(c)
	if err := m.store.Delete(c); err != nil {
		m.log.Warnln("Error while deleting model:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleBatch handles POST /api/batch requests. The response is a
// stream of batch events, one frame per event.
func (m *Manager) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	m.log.Infof("Starting batch of %d items with model %s", len(req.Items), req.Model)
	m.orchestrator.Run(r.Context(), req, batch.Emitter(w))
}

// handleStatus handles GET /api/status requests.
func (m *Manager) handleStatus(w http.ResponseWriter, _ *http.Request) {
	installed := 0
	for _, c := range catalog.Models() {
		if m.store.Status(c) == store.StatusReady {
			installed++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := StatusResponse{Status: "running", ModelsInstalled: installed}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		m.log.Warnln("Error while encoding status response:", err)
	}
}

// ServeHTTP implements net/http.Handler.ServeHTTP.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	m.httpHandler.ServeHTTP(w, r)
}

// progressResponseWriter streams download progress records to the HTTP
// response, flushing after each record.
type progressResponseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func (w *progressResponseWriter) emit(p store.Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return
	}
	w.flusher.Flush()
}
