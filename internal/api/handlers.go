package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/services"
)

// Response helpers

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Error: &apiError{Code: code, Message: message},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed", "component", "storage", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "storage not ready")
		return
	}
	if hc, ok := s.state.(services.HealthChecker); ok {
		if err := hc.HealthCheck(r.Context()); err != nil {
			slog.Warn("readiness check failed", "component", "state", "error", err)
			respondError(w, http.StatusServiceUnavailable, "not_ready", "state provider not ready")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"worlds": s.catalog.Worlds(),
	})
}

// Catalog handlers

func (s *Server) worldKnown(w http.ResponseWriter, world string) bool {
	if !slices.Contains(s.catalog.Worlds(), world) {
		respondError(w, http.StatusNotFound, "not_found", "world not found")
		return false
	}
	return true
}

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	world := chi.URLParam(r, "world")
	if !s.worldKnown(w, world) {
		return
	}

	challenges := s.catalog.ListAll(world)
	if level := r.URL.Query().Get("level"); level != "" {
		challenges = s.catalog.ListByLevel(world, level)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"challenges": challenges,
		"total":      len(challenges),
	})
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	world := chi.URLParam(r, "world")
	c, err := s.catalog.Get(world, chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		slog.Error("failed to get challenge", "error", err, "world", world)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to get challenge")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleListLevels(w http.ResponseWriter, r *http.Request) {
	world := chi.URLParam(r, "world")
	if !s.worldKnown(w, world) {
		return
	}

	levels := s.catalog.ListLevels(world)
	respondJSON(w, http.StatusOK, map[string]any{
		"levels": levels,
		"total":  len(levels),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	world := chi.URLParam(r, "world")

	if err := s.catalog.Reload(world); err != nil {
		var defErr *catalog.DefinitionError
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			respondError(w, http.StatusNotFound, "not_found", "world not found")
		case errors.As(err, &defErr):
			respondError(w, http.StatusUnprocessableEntity, "validation_error", defErr.Error())
		default:
			slog.Error("failed to reload world", "error", err, "world", world)
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to reload world")
		}
		return
	}

	client := ClientFromContext(r.Context())
	slog.Info("world reloaded", "world", world, "client", client.Name)

	if s.notifier != nil {
		if err := s.notifier.NotifyReload(r.Context(), s.reloadChannel, world); err != nil {
			slog.Warn("failed to broadcast reload", "world", world, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"world":      world,
		"challenges": len(s.catalog.ListAll(world)),
	})
}

// Participant handlers

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	world, participant := chi.URLParam(r, "world"), chi.URLParam(r, "participant")

	records, err := s.engine.Progress(r.Context(), participant, world)
	if err != nil {
		slog.Error("failed to list progress", "error", err, "world", world, "participant", participant)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list progress")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   len(records),
	})
}

func (s *Server) handleLevelStatus(w http.ResponseWriter, r *http.Request) {
	world, participant := chi.URLParam(r, "world"), chi.URLParam(r, "participant")
	if !s.worldKnown(w, world) {
		return
	}

	statuses, err := s.engine.LevelStatus(r.Context(), participant, world)
	if err != nil {
		slog.Error("failed to compute level status", "error", err, "world", world, "participant", participant)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to compute level status")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"levels": statuses,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	world, participant := chi.URLParam(r, "world"), chi.URLParam(r, "participant")

	audit, err := s.engine.ResetHistory(r.Context(), participant, world)
	if err != nil {
		slog.Error("failed to list reset audit", "error", err, "world", world, "participant", participant)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list reset audit")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"resets": audit,
		"total":  len(audit),
	})
}

// CompleteRequest is the optional body of a completion request
type CompleteRequest struct {
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
	Actor    string           `json:"actor,omitempty"`
}

// CompleteResponse is an engine result with the grant failure flattened
type CompleteResponse struct {
	*engine.Result
	GrantError string `json:"grant_error,omitempty"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	world, participant := chi.URLParam(r, "world"), chi.URLParam(r, "participant")
	name := chi.URLParam(r, "name")

	var req CompleteRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	snap := req.Snapshot
	if snap == nil {
		if s.state == nil {
			respondError(w, http.StatusBadRequest, "validation_error", "snapshot is required")
			return
		}
		var err error
		snap, err = s.state.Snapshot(r.Context(), participant, world)
		if err != nil {
			slog.Error("failed to read participant state", "error", err, "world", world, "participant", participant)
			respondError(w, http.StatusBadGateway, "state_unavailable", "failed to read participant state")
			return
		}
	}

	res, err := s.engine.AttemptCompletion(r.Context(), engine.Attempt{
		Participant: participant,
		World:       world,
		Challenge:   name,
		Snapshot:    snap,
		Actor:       req.Actor,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrConsumption):
			respondError(w, http.StatusConflict, "consumption_failed", err.Error())
		case errors.Is(err, engine.ErrLock):
			respondError(w, http.StatusServiceUnavailable, "busy", "progress is locked by another attempt")
		default:
			slog.Error("failed to attempt completion", "error", err, "world", world, "participant", participant, "challenge", name)
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to attempt completion")
		}
		return
	}

	if res.Outcome == engine.OutcomeUnknownChallenge {
		respondError(w, http.StatusNotFound, "not_found", "challenge not found: "+res.Challenge)
		return
	}

	resp := CompleteResponse{Result: res}
	if res.GrantErr != nil {
		resp.GrantError = res.GrantErr.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ResetRequest is the optional body of a reset request
type ResetRequest struct {
	Actor string `json:"actor,omitempty"`
}

func (s *Server) handleResetOne(w http.ResponseWriter, r *http.Request) {
	world, participant := chi.URLParam(r, "world"), chi.URLParam(r, "participant")
	name := chi.URLParam(r, "name")

	var req ResetRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	err := s.engine.ResetOne(r.Context(), participant, world, name, actorFor(r.Context(), req.Actor))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"challenge": models.QualifiedName(world, name), "cleared": 1})
	case errors.Is(err, engine.ErrUnknownChallenge):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, engine.ErrNotCompleted):
		respondError(w, http.StatusConflict, "not_completed", "challenge has no completions to reset")
	default:
		slog.Error("failed to reset challenge", "error", err, "world", world, "participant", participant, "challenge", name)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to reset challenge")
	}
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	world, participant := chi.URLParam(r, "world"), chi.URLParam(r, "participant")

	var req ResetRequest
	if err := decodeOptional(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cleared, err := s.engine.ResetAll(r.Context(), participant, world, actorFor(r.Context(), req.Actor))
	if err != nil {
		slog.Error("failed to reset progress", "error", err, "world", world, "participant", participant)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to reset progress")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}
