package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/franz/music-librarian/internal/store"
	"github.com/franz/music-librarian/internal/util"
)

type searchResponse struct {
	Query   string        `json:"query"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	Results []store.Track `json:"results"`
}

type ratingRequest struct {
	Rating *int `json:"rating"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, fmt.Errorf("q is required: %w", util.ErrInvalidArgument))
		return
	}
	limit, err := intParam(r, "limit", store.DefaultSearchLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	tracks, err := s.db.Search(r.Context(), q, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Query:   q,
		Limit:   limit,
		Offset:  offset,
		Results: nonNil(tracks),
	})
}

func (s *Server) handleArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := s.db.Artists(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if artists == nil {
		artists = []store.Artist{}
	}
	writeJSON(w, http.StatusOK, artists)
}

func (s *Server) handleAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := s.db.Albums(r.Context(), r.URL.Query().Get("artist"))
	if err != nil {
		writeError(w, err)
		return
	}
	if albums == nil {
		albums = []store.Album{}
	}
	writeJSON(w, http.StatusOK, albums)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	tracks, err := s.db.RecentTracks(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tracks))
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	tracks, err := s.db.PopularTracks(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tracks))
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	t, err := s.db.LookupByHash(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	if t == nil {
		writeError(w, fmt.Errorf("track %s: %w", hash, util.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if err := s.db.IncrementPlayCount(r.Context(), hash); err != nil {
		writeError(w, err)
		return
	}
	s.writeTrack(w, r, hash)
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	var req ratingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid body: %v: %w", err, util.ErrInvalidArgument))
		return
	}
	if req.Rating == nil {
		writeError(w, fmt.Errorf("rating is required: %w", util.ErrInvalidArgument))
		return
	}
	if err := s.db.SetRating(r.Context(), hash, *req.Rating); err != nil {
		writeError(w, err)
		return
	}
	s.writeTrack(w, r, hash)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeTrack responds with the current row after an update
func (s *Server) writeTrack(w http.ResponseWriter, r *http.Request, hash string) {
	t, err := s.db.LookupByHash(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	if t == nil {
		writeError(w, fmt.Errorf("track %s: %w", hash, util.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// intParam reads a non-negative integer query parameter, capped at maxListLimit
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, util.ErrInvalidArgument)
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func nonNil(tracks []store.Track) []store.Track {
	if tracks == nil {
		return []store.Track{}
	}
	return tracks
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.DebugLog("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, util.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, util.ErrInvalidArgument):
		status = http.StatusBadRequest
	default:
		util.ErrorLog("API: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
