package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/passage/internal/models"
	"github.com/hyperjump/passage/internal/telemetry"
	"go.uber.org/zap"
)

const emptyQueryMessage = "Query cannot be empty"

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := decodeBody(r, &query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(query.Query) == "" {
		s.respondError(w, http.StatusBadRequest, emptyQueryMessage)
		return
	}
	query.ApplyDefaults(s.search.DefaultK, s.search.MinSimilarity)
	s.logger.Debug("search request",
		zap.String("query", query.Query), zap.Int("k", query.K), zap.Float64("min_similarity", query.Floor()))

	start := time.Now()
	results, err := s.pipeline.Search(r.Context(), query.Query, query.K, query.Floor())
	if err != nil {
		s.respondErr(w, r, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.SearchResponse{
		Query:        query.Query,
		Results:      results,
		TotalResults: len(results),
		QueryTime:    time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var query models.ContextQuery
	if err := decodeBody(r, &query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(query.Query) == "" {
		s.respondError(w, http.StatusBadRequest, emptyQueryMessage)
		return
	}
	query.ApplyDefaults(s.search.ContextK)
	s.logger.Debug("context request", zap.String("query", query.Query), zap.Int("k", query.K))

	text, err := s.pipeline.ContextForQuery(r.Context(), query.Query, query.K)
	if err != nil {
		s.respondErr(w, r, "context failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.ContextResponse{Query: query.Query, Context: text})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.pipeline.Stats())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Info("ingest request", zap.Bool("force_rebuild", req.ForceRebuild))
	// A dropped client must not abandon a rebuild halfway.
	report, err := s.pipeline.Ingest(context.WithoutCancel(r.Context()), req.ForceRebuild)
	if err != nil {
		s.respondErr(w, r, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req models.ClearRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.pipeline.Clear(r.Context(), req.Persist); err != nil {
		s.respondErr(w, r, "clear failed", err)
		return
	}
	msg := "Index cleared"
	if req.Persist {
		msg = "Index cleared and persisted"
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindQuery, models.KindInvalidConfiguration, models.KindNoDocumentsFound,
		models.KindDimensionMismatch, models.KindLengthMismatch, models.KindInvalidVector:
		return http.StatusBadRequest
	case models.KindEmbed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err with the status of its kind. Server-side failures are logged
// and reported.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
		telemetry.CaptureError(r.Context(), err)
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
