package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/hantei/internal/corpus"
	"github.com/hyperjump/hantei/internal/embedding"
	"github.com/hyperjump/hantei/internal/history"
	"github.com/hyperjump/hantei/internal/models"
)

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query))

	start := time.Now()
	result, err := s.engine.Process(r.Context(), req.Query)
	if err != nil {
		s.respondProcessError(w, err)
		return
	}

	stored, err := s.history.Append(r.Context(), req.Query, result)
	if err != nil {
		s.logger.Error("failed to persist decision", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("query decided",
		zap.String("query_id", stored.QueryID),
		zap.String("decision", string(stored.Record.Decision)),
		zap.String("outcome", string(stored.Outcome)),
		zap.Duration("took", time.Since(start)),
	)
	s.respondJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stored, err := s.history.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "decision not found")
		return
	}
	s.respondJSON(w, http.StatusOK, stored)
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	offset := parseIntParam(r, "offset", 0)
	limit := parseIntParam(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	decisions, err := s.history.List(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list decisions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if decisions == nil {
		decisions = []*history.StoredDecision{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"offset":    offset,
		"limit":     limit,
	})
}

func (s *Server) handleAddFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var fb models.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := fb.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, err := s.history.AddFeedback(r.Context(), id, &fb)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "decision not found")
			return
		}
		s.logger.Error("add feedback failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	feedback, err := s.history.ListFeedback(r.Context(), id)
	if err != nil {
		s.logger.Error("list feedback failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"feedback": feedback})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyCount, err := s.store.CountPolicies(ctx)
	if err != nil {
		s.logger.Error("status: count policies failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	clauseCount, err := s.store.CountClauses(ctx)
	if err != nil {
		s.logger.Error("status: count clauses failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	decisionCount, err := s.history.CountDecisions(ctx)
	if err != nil {
		s.logger.Error("status: count decisions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"policies":  policyCount,
		"clauses":   clauseCount,
		"decisions": decisionCount,
	}
	if snap, err := s.holder.Snapshot(); err == nil {
		resp["snapshot"] = map[string]interface{}{
			"clauses":           snap.Len(),
			"embedding_version": snap.EmbeddingVersion(),
			"built_at":          snap.BuiltAt(),
		}
	} else {
		resp["snapshot"] = nil
	}
	resp["config"] = map[string]interface{}{
		"embedding_provider":   s.config.Embedding.Provider,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"top_k":                s.config.Retrieval.TopK,
		"fallback_enabled":     s.config.Decision.FallbackEnabled,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// respondProcessError maps engine failure modes to HTTP statuses: unavailable
// backends are retryable (503), an embedding version mismatch needs operator
// action (409), everything else (bad queries, non-retryable backend failures)
// is 400.
func (s *Server) respondProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, corpus.ErrEmbeddingVersionMismatch):
		s.logger.Error("embedding version mismatch", zap.Error(err))
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, corpus.ErrUnavailable), errors.Is(err, embedding.ErrUnavailable):
		s.logger.Warn("query rejected, backend unavailable", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("query processing failed", zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
	}
}

func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
