// public_handler.go -- Unauthenticated read endpoints under /public.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MGallo-Code/quill/internal/store"
	"github.com/gofrs/uuid/v5"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	popularTagsLimit = 20
)

// postSummary is the list-view projection of a post: content is cut to an excerpt.
type postSummary struct {
	ID        uuid.UUID     `json:"id"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Tags      []string      `json:"tags"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Author    *store.Author `json:"author,omitempty"`
}

func summarize(posts []store.Post, withAuthor bool) []postSummary {
	out := make([]postSummary, 0, len(posts))
	for _, p := range posts {
		s := postSummary{
			ID:        p.ID,
			Title:     p.Title,
			Content:   excerpt(p.Content),
			Tags:      p.Tags,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		}
		if s.Tags == nil {
			s.Tags = []string{}
		}
		if withAuthor {
			s.Author = p.Author
		}
		out = append(out, s)
	}
	return out
}

type pagination struct {
	CurrentPage     int  `json:"currentPage"`
	TotalPages      int  `json:"totalPages"`
	TotalCount      int  `json:"totalCount"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	Limit           int  `json:"limit"`
}

func newPagination(page, limit, total int) pagination {
	pages := (total + limit - 1) / limit
	return pagination{
		CurrentPage:     page,
		TotalPages:      pages,
		TotalCount:      total,
		HasNextPage:     page < pages,
		HasPreviousPage: page > 1,
		Limit:           limit,
	}
}

// listFilters echoes the accepted query back to the caller.
type listFilters struct {
	Tags      string `json:"tags,omitempty"`
	Search    string `json:"search,omitempty"`
	SortBy    string `json:"sortBy"`
	SortOrder string `json:"sortOrder"`
}

// parseListQuery validates the /public/blogs query string.
// Returns ok=false on any out-of-range or unknown value.
func parseListQuery(r *http.Request) (store.PostListParams, listFilters, bool) {
	q := r.URL.Query()
	params := store.PostListParams{Page: 1, Limit: defaultPageLimit, SortBy: store.SortCreatedAt, SortDesc: true}
	filters := listFilters{SortBy: store.SortCreatedAt, SortOrder: "desc"}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return params, filters, false
		}
		params.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			return params, filters, false
		}
		params.Limit = n
	}
	if v := q.Get("tags"); v != "" {
		filters.Tags = v
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				params.Tags = append(params.Tags, t)
			}
		}
	}
	if v := strings.TrimSpace(q.Get("search")); v != "" {
		filters.Search = v
		params.Search = v
	}
	if v := q.Get("sortBy"); v != "" {
		if !store.ValidSortBy(v) {
			return params, filters, false
		}
		params.SortBy = v
		filters.SortBy = v
	}
	switch v := q.Get("sortOrder"); v {
	case "", "desc":
	case "asc":
		params.SortDesc = false
		filters.SortOrder = v
	default:
		return params, filters, false
	}
	return params, filters, true
}

// ListPublicPosts handles GET /public/blogs: paged, filtered published posts.
func (h *Handler) ListPublicPosts(w http.ResponseWriter, r *http.Request) {
	params, filters, ok := parseListQuery(r)
	if !ok {
		logInfo(r, "invalid list query", "query", r.URL.RawQuery)
		BadRequest(w, "Invalid query parameters")
		return
	}

	posts, total, err := h.PS.ListPublishedPosts(r.Context(), params)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, struct {
		Blogs      []postSummary `json:"blogs"`
		Pagination pagination    `json:"pagination"`
		Filters    listFilters   `json:"filters"`
	}{summarize(posts, true), newPagination(params.Page, params.Limit, total), filters})
}

// GetPublicPost handles GET /public/blog/{id}. Drafts answer 404.
func (h *Handler) GetPublicPost(w http.ResponseWriter, r *http.Request) {
	postID, ok := parseIDParam(w, r, "id", "Invalid blog ID")
	if !ok {
		return
	}
	post, err := h.PS.GetPublishedPost(r.Context(), postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "Blog not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, post)
}

// ListAuthorPosts handles GET /public/author/{authorId}/blogs.
func (h *Handler) ListAuthorPosts(w http.ResponseWriter, r *http.Request) {
	authorID, ok := parseIDParam(w, r, "authorId", "Invalid author ID")
	if !ok {
		return
	}
	author, posts, err := h.PS.ListAuthorPublishedPosts(r.Context(), authorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "Author not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	blogs := summarize(posts, false)
	writeJSON(w, r, http.StatusOK, struct {
		Author *store.Author `json:"author"`
		Blogs  []postSummary `json:"blogs"`
		Count  int           `json:"count"`
	}{author, blogs, len(blogs)})
}

// PopularTags handles GET /public/tags: the most used tags across published posts.
func (h *Handler) PopularTags(w http.ResponseWriter, r *http.Request) {
	tags, unique, err := h.PS.PopularTags(r.Context(), popularTagsLimit)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	if tags == nil {
		tags = []store.TagCount{}
	}
	writeJSON(w, r, http.StatusOK, struct {
		Tags            []store.TagCount `json:"tags"`
		TotalUniqueTags int              `json:"totalUniqueTags"`
	}{tags, unique})
}
