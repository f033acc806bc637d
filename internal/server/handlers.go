package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/glebovdev/openspot/internal/proxy"
	"github.com/glebovdev/openspot/internal/storage"
	"github.com/glebovdev/openspot/internal/track"
	"github.com/glebovdev/openspot/internal/upstream"
	"github.com/rs/zerolog/log"
)

// Upstream is the part of the music API client the server exposes.
type Upstream interface {
	Search(ctx context.Context, params upstream.SearchParams) (*track.SearchResponse, error)
	StreamURL(ctx context.Context, trackID string) (string, error)
}

// LikeStore persists liked songs.
type LikeStore interface {
	Like(t track.Track) (storage.LikedSong, error)
	Unlike(trackID string) error
	Liked() ([]storage.LikedSong, error)
}

// ProxyStats reports on the loaded proxy list.
type ProxyStats interface {
	Stats() proxy.Stats
}

type errorResponse struct {
	Error string `json:"error"`
}

type streamResponse struct {
	URL     string `json:"url"`
	TrackID string `json:"trackId"`
}

type likedResponse struct {
	Songs []storage.LikedSong `json:"songs"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}

	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	result, err := s.upstream.Search(r.Context(), upstream.SearchParams{
		Query:  query,
		Offset: offset,
		Type:   q.Get("type"),
	})
	if err != nil {
		if errors.Is(err, upstream.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "Search query is required")
			return
		}
		log.Error().Err(err).Str("query", query).Msg("Search API error")
		writeError(w, http.StatusInternalServerError, "Failed to fetch search results")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	trackID := r.URL.Query().Get("trackId")
	if trackID == "" {
		writeError(w, http.StatusBadRequest, "Track ID is required")
		return
	}

	streamURL, err := s.upstream.StreamURL(r.Context(), trackID)
	if err != nil {
		log.Error().Err(err).Str("track", trackID).Msg("Stream API error")
		writeError(w, http.StatusInternalServerError, "Failed to get stream URL")
		return
	}

	writeJSON(w, http.StatusOK, streamResponse{URL: streamURL, TrackID: trackID})
}

func (s *Server) handleLikedList(w http.ResponseWriter, r *http.Request) {
	songs, err := s.likes.Liked()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load liked songs")
		writeError(w, http.StatusInternalServerError, "Failed to load liked songs")
		return
	}
	writeJSON(w, http.StatusOK, likedResponse{Songs: songs})
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	var t track.Track
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid track")
		return
	}
	if t.ID == 0 {
		writeError(w, http.StatusBadRequest, "Track ID is required")
		return
	}

	song, err := s.likes.Like(t)
	if err != nil {
		log.Error().Err(err).Int64("track", t.ID).Msg("Failed to like song")
		writeError(w, http.StatusInternalServerError, "Failed to like song")
		return
	}
	writeJSON(w, http.StatusCreated, song)
}

func (s *Server) handleUnlike(w http.ResponseWriter, r *http.Request) {
	trackID := r.URL.Query().Get("trackId")
	if trackID == "" {
		writeError(w, http.StatusBadRequest, "Track ID is required")
		return
	}

	if err := s.likes.Unlike(trackID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Song is not liked")
			return
		}
		log.Error().Err(err).Str("track", trackID).Msg("Failed to unlike song")
		writeError(w, http.StatusInternalServerError, "Failed to unlike song")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proxies.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
