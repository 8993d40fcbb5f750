// Package server is the HTTP control surface: start/stop, status, manual
// send, session listing and history retrieval. It validates input and maps
// requests onto the engine; no business logic lives here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/stellarlinkco/shopclerk/internal/config"
	"github.com/stellarlinkco/shopclerk/internal/engine"
	"github.com/stellarlinkco/shopclerk/internal/rules"
)

type Server struct {
	cfg    config.ServerConfig
	engine *engine.Engine
	server *http.Server
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func New(cfg config.ServerConfig, eng *engine.Engine) *Server {
	return &Server{cfg: cfg, engine: eng}
}

// Handler builds the route table. Split out from Start so tests can drive it
// with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/engine/start", s.handleStart)
	mux.HandleFunc("POST /api/engine/stop", s.handleStop)
	mux.HandleFunc("GET /api/engine/status", s.handleStatus)
	mux.HandleFunc("POST /api/message/send", s.handleSend)
	mux.HandleFunc("GET /api/message/history/{contactRef}", s.handleHistory)
	mux.HandleFunc("GET /api/session/list", s.handleSessionList)
	mux.HandleFunc("POST /api/rules/reload", s.handleRulesReload)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.Handler(),
	}

	go func() {
		log.Printf("[server] listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[server] error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()

	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return s.server.Close()
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var validation *engine.ValidationError
	var ruleLoad *rules.LoadError
	status := http.StatusInternalServerError
	if errors.As(err, &validation) || errors.As(err, &ruleLoad) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, envelope{Success: false, Message: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"status":    "ok",
		"isRunning": s.engine.IsRunning(),
	}})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "engine started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "engine stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.engine.Status()})
}

type sendRequest struct {
	ContactRef string `json:"contactRef"`
	Text       string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "invalid json body"})
		return
	}

	if !s.engine.IsRunning() {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "engine not running"})
		return
	}

	if err := s.engine.Send(r.Context(), req.ContactRef, req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "message sent"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	contactRef := r.PathValue("contactRef")

	maxMessages := 100
	if v := r.URL.Query().Get("max_messages"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "max_messages must be an integer"})
			return
		}
		maxMessages = parsed
	}

	if !s.engine.IsRunning() {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "engine not running"})
		return
	}

	events, err := s.engine.History(r.Context(), contactRef, maxMessages)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"contactRef": contactRef,
		"count":      len(events),
		"messages":   events,
	}})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"

	sessions := s.engine.Sessions(activeOnly)
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	}})
}

func (s *Server) handleRulesReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ReloadRules(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "rules reloaded"})
}
