package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/internal/readiness"
	"github.com/hyperjump/newsrag/internal/search"
	"github.com/hyperjump/newsrag/internal/storage"
	"go.uber.org/zap"
)

// RelatedMarker prefixes the JSON trailer line of a chat stream that lists related articles.
const RelatedMarker = "[[related]]"

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Text()))
	response, err := s.engine.Search(r.Context(), req.Text())
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("chat request", zap.String("message", req.Text()))
	fragments, resp, err := s.engine.Chat(r.Context(), req.Text())
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("chat failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	// drain the channel even after a write error so the generator goroutine can exit
	var writeErr error
	for frag := range fragments {
		if writeErr != nil {
			continue
		}
		if _, writeErr = io.WriteString(w, frag); writeErr == nil && flusher != nil {
			flusher.Flush()
		}
	}
	if writeErr != nil {
		s.logger.Debug("chat client went away", zap.Error(writeErr))
		return
	}

	related, err := json.Marshal(resp.Groups)
	if err != nil {
		s.logger.Error("failed to encode related articles", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "\n%s%s\n", RelatedMarker, related)
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	index, loadedAt := s.engine.Index()
	resp := models.StatusResponse{
		Ready:        s.files.Marker != "" && readiness.IsReady(s.files.Marker),
		Groups:       map[string]int{},
		SnapshotPath: s.files.Snapshot,
		LoadedAt:     loadedAt,
	}
	if index != nil {
		resp.Records = index.Size()
		for _, g := range index.Groups() {
			resp.Groups[g] = index.GroupSize(g)
		}
	}

	if s.runs != nil {
		last, err := s.runs.LatestRun(r.Context())
		switch {
		case err == nil:
			resp.LastRun = last
		case errors.Is(err, storage.ErrNoRuns):
		default:
			s.logger.Warn("status: latest run lookup failed", zap.Error(err))
		}
	}

	usage, err := s.files.Usage()
	if err != nil {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	for _, n := range usage {
		resp.DiskUsageBytes += n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
