package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/feedpager/internal/server/pagination"
	"reddot-watch/feedpager/internal/server/storage"
)

// PostsHandler holds dependencies for the posts endpoints.
type PostsHandler struct {
	repo storage.PostRepository
}

// NewPostsHandler creates a new handler instance.
func NewPostsHandler(repo storage.PostRepository) *PostsHandler {
	return &PostsHandler{
		repo: repo,
	}
}

// GetPosts serves one page of posts as a JSON array. A page shorter than the
// limit tells clients the feed has ended.
func (h *PostsHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	page, err := pagination.Parse(r.URL.Query())
	if err != nil {
		log.Warn().Err(err).Str("query", r.URL.RawQuery).Msg("Invalid pagination parameters")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	posts, err := h.repo.FetchPosts(r.Context(), page.Limit, page.Offset())
	if err != nil {
		log.Error().Err(err).Int("page", page.Number).Int("limit", page.Limit).Msg("Error fetching posts from repository")
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	jsonBytes, err := json.Marshal(posts)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
	log.Debug().Int("page", page.Number).Int("count", len(posts)).Msg("Posts page served")
}

// MarkViewed records one view of the post named by the {id} path segment.
func (h *PostsHandler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing post id")
		return
	}

	err := h.repo.MarkViewed(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Warn().Str("id", id).Msg("View reported for unknown post")
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("id", id).Msg("Error recording post view")
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeError sends {"message": msg}, the error shape clients read.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
