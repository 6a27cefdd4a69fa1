// blog_handler.go -- Authenticated post management under /blog.
package api

import (
	"errors"
	"net/http"

	"github.com/MGallo-Code/quill/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
)

// parseIDParam reads a UUID path parameter. Writes a 400 with badMsg and returns false when malformed.
func parseIDParam(w http.ResponseWriter, r *http.Request, name, badMsg string) (uuid.UUID, bool) {
	id, err := uuid.FromString(chi.URLParam(r, name))
	if err != nil {
		logInfo(r, "invalid path parameter", "param", name)
		BadRequest(w, badMsg)
		return uuid.Nil, false
	}
	return id, true
}

// ListOwnPosts handles GET /blog/bulk: every post by the caller, drafts included.
func (h *Handler) ListOwnPosts(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	posts, err := h.PS.ListUserPosts(r.Context(), userID)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if posts == nil {
		posts = []store.Post{}
	}
	writeJSON(w, r, http.StatusOK, posts)
}

// GetPost handles GET /blog/{id}. Drafts are only visible to their author; anyone else gets 404.
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	postID, ok := parseIDParam(w, r, "id", "Invalid blog ID")
	if !ok {
		return
	}

	post, err := h.PS.GetPost(r.Context(), postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "Blog not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	if !post.Published && post.AuthorID != userID {
		logInfo(r, "draft requested by non-author", "post_id", postID)
		NotFound(w, "Blog not found")
		return
	}
	writeJSON(w, r, http.StatusOK, post)
}

// CreatePost handles POST /blog. Title and content are required; published defaults to false.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	var input struct {
		Title     string   `json:"title"`
		Content   string   `json:"content"`
		Published bool     `json:"published"`
		Tags      []string `json:"tags"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	if msg := validateTitle(input.Title); msg != "" {
		BadRequest(w, msg)
		return
	}
	if msg := validateContent(input.Content); msg != "" {
		BadRequest(w, msg)
		return
	}
	tags, msg := normalizeTags(input.Tags)
	if msg != "" {
		BadRequest(w, msg)
		return
	}

	postID, err := uuid.NewV7()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	post, err := h.PS.CreatePost(r.Context(), store.NewPost{
		ID:        postID,
		AuthorID:  userID,
		Title:     input.Title,
		Content:   input.Content,
		Published: input.Published,
		Tags:      tags,
	})
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "post created", "post_id", post.ID, "published", post.Published)
	writeJSON(w, r, http.StatusCreated, post)
}

// UpdatePost handles PUT /blog/{id}. Absent fields are left unchanged.
// Posts owned by someone else answer 404, same as missing ones.
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	postID, ok := parseIDParam(w, r, "id", "Invalid blog ID")
	if !ok {
		return
	}
	var input struct {
		Title     *string   `json:"title"`
		Content   *string   `json:"content"`
		Published *bool     `json:"published"`
		Tags      *[]string `json:"tags"`
	}
	if !decodeJSON(w, r, &input) {
		return
	}

	upd := store.PostUpdate{Title: input.Title, Content: input.Content, Published: input.Published}
	if input.Title != nil {
		if msg := validateTitle(*input.Title); msg != "" {
			BadRequest(w, msg)
			return
		}
	}
	if input.Content != nil {
		if msg := validateContent(*input.Content); msg != "" {
			BadRequest(w, msg)
			return
		}
	}
	if input.Tags != nil {
		tags, msg := normalizeTags(*input.Tags)
		if msg != "" {
			BadRequest(w, msg)
			return
		}
		upd.Tags = &tags
	}

	post, err := h.PS.UpdatePost(r.Context(), postID, userID, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "Blog not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "post updated", "post_id", post.ID)
	writeJSON(w, r, http.StatusOK, post)
}

// DeletePost handles DELETE /blog/{id}.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := mustUserID(w, r)
	if !ok {
		return
	}
	postID, ok := parseIDParam(w, r, "id", "Invalid blog ID")
	if !ok {
		return
	}

	if err := h.PS.DeletePost(r.Context(), postID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "Blog not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "post deleted", "post_id", postID)
	OK(w, "Blog deleted successfully")
}
