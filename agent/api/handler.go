// Package api exposes the agent over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	contractx "github.com/tanpawarit/ticker-agent/agent/contract"
	orchestratorx "github.com/tanpawarit/ticker-agent/agent/agents/orchestrator"
	toolx "github.com/tanpawarit/ticker-agent/agent/tool"
)

const defaultMaxBodyBytes = 1 << 20

// Agent is the orchestrator surface the handlers need.
type Agent interface {
	Run(ctx context.Context, req contractx.AgentRequest) (contractx.AgentResponse, error)
	Session(ctx context.Context, id string) (contractx.AgentResponse, error)
	ClearSession(ctx context.Context, id string) error
}

type Handler struct {
	agent        Agent
	maxBodyBytes int64
}

func NewHandler(agent Agent, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{agent: agent, maxBodyBytes: maxBodyBytes}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/agent", h.handleRun)
	r.Get("/agent/tools", h.handleTools)
	r.Get("/agent/sessions/{id}", h.handleSession)
	r.Delete("/agent/sessions/{id}", h.handleClear)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req contractx.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" && !req.ContinueOnly {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.agent.Run(r.Context(), req)
	if err != nil {
		h.writeRunError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	logger := hlog.FromRequest(r)

	switch {
	case errors.Is(err, orchestratorx.ErrInvalidMessage), errors.Is(err, orchestratorx.ErrInvalidTurns):
		Error(w, http.StatusBadRequest, err.Error())
	case r.Context().Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// The timeout middleware answers 504 after the handler returns; a
		// canceled client gets nothing.
		logger.Info().Err(err).Msg("request ended before the run finished")
	case errors.Is(err, contractx.ErrSessionStorage):
		logger.Error().Err(err).Msg("session storage failed")
		Error(w, http.StatusInternalServerError, "session storage failed")
	default:
		logger.Error().Err(err).Msg("agent run failed")
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	resp, err := h.agent.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("load session")
		Error(w, http.StatusInternalServerError, "session storage failed")
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.agent.ClearSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("clear session")
		Error(w, http.StatusInternalServerError, "session storage failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTools(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"tools": toolx.Specs()})
}
