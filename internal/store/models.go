// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (revocation cache).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned when the requested row does not exist (or is not visible to the caller).
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when an insert or update hits the users.email unique constraint.
var ErrEmailTaken = errors.New("email already in use")

// ErrCacheDisabled is returned by NoopCache.CheckHealth when Redis is not configured.
// Callers use errors.Is to distinguish "not configured" from a real infrastructure failure.
var ErrCacheDisabled = errors.New("cache disabled")

// User represents a row in the users table.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Author is the public projection of a user embedded in post responses.
type Author struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Profile is a user plus their post count.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	BlogCount int       `json:"blogCount"`
}

// ProfileUpdate holds optional profile changes. nil fields are left untouched.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// Post represents a row in the posts table.
// Author is populated by queries that join users, nil otherwise.
type Post struct {
	ID        uuid.UUID `json:"id"`
	AuthorID  uuid.UUID `json:"authorId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Published bool      `json:"published"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Author    *Author   `json:"author,omitempty"`
}

// NewPost holds the fields supplied when creating a post.
type NewPost struct {
	ID        uuid.UUID
	AuthorID  uuid.UUID
	Title     string
	Content   string
	Published bool
	Tags      []string
}

// PostUpdate holds optional post changes. nil fields are left untouched.
type PostUpdate struct {
	Title     *string
	Content   *string
	Published *bool
	Tags      *[]string
}

// Sort keys accepted by ListPublishedPosts.
const (
	SortCreatedAt = "createdAt"
	SortUpdatedAt = "updatedAt"
	SortTitle     = "title"
)

// sortColumns maps API sort keys to columns. Anything else is rejected before it reaches SQL.
var sortColumns = map[string]string{
	SortCreatedAt: "p.created_at",
	SortUpdatedAt: "p.updated_at",
	SortTitle:     "p.title",
}

// ValidSortBy reports whether key is an accepted sort key.
func ValidSortBy(key string) bool {
	_, ok := sortColumns[key]
	return ok
}

// PostListParams filters and pages ListPublishedPosts.
// Page is 1-based. Tags match when a post has any of them.
// Search matches title or content case-insensitively.
type PostListParams struct {
	Page     int
	Limit    int
	Tags     []string
	Search   string
	SortBy   string // one of the Sort* keys
	SortDesc bool
}

// TagCount is one entry of the popular tags listing.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
