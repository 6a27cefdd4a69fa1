// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements; the only interpolated SQL is the
// ORDER BY column, taken from a fixed whitelist.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the SQLSTATE for unique constraint failures.
const pgUniqueViolation = "23505"

// postColumns selects a post joined with its author; scanned by scanPost.
const postColumns = `p.id, p.author_id, p.title, p.content, p.published, p.tags, p.created_at, p.updated_at,
	u.id, u.name, u.email`

// The store used by program to connect with Postgres db
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique constraint failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// --- Users ---

// CreateUser inserts a new user. The caller generates the UUID v7 and the password hash.
// Returns ErrEmailTaken when the email is already registered.
func (s *PostgresStore) CreateUser(ctx context.Context, id uuid.UUID, name, email, passwordHash string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users (id, name, email, password_hash) VALUES ($1, $2, $3, $4)",
		id, name, email, passwordHash)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUserByEmail fetches a user for sign-in. Returns ErrNotFound if no user has that email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", email)
}

// GetUserByID fetches a user by primary key. Returns ErrNotFound if missing.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.getUser(ctx, "id", id)
}

// getUser looks up one user; column is a literal from the two callers above.
func (s *PostgresStore) getUser(ctx context.Context, column string, value any) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE "+column+" = $1",
		value,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user by %s: %w", column, err)
	}
	return &u, nil
}

// GetProfile fetches a user's public fields and post count.
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, u.name, u.email, (SELECT count(*) FROM posts WHERE author_id = u.id)
		FROM users u WHERE u.id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.BlogCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}
	return &p, nil
}

// UpdateProfile applies the non-nil fields of upd and returns the updated profile.
// Returns ErrEmailTaken if the new email belongs to another user, ErrNotFound if the user is gone.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			updated_at = now()
		WHERE id = $1
		RETURNING id, name, email, (SELECT count(*) FROM posts WHERE author_id = $1)
	`, id, upd.Name, upd.Email).Scan(&p.ID, &p.Name, &p.Email, &p.BlogCount)
	if isUniqueViolation(err) {
		return nil, ErrEmailTaken
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return &p, nil
}

// UpdateUserPassword replaces the stored password hash.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1",
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user; their posts go with them (ON DELETE CASCADE).
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Posts ---

func scanPost(row pgx.Row) (*Post, error) {
	var p Post
	var a Author
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Content, &p.Published, &p.Tags,
		&p.CreatedAt, &p.UpdatedAt, &a.ID, &a.Name, &a.Email); err != nil {
		return nil, err
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.Author = &a
	return &p, nil
}

func collectPosts(rows pgx.Rows) ([]Post, error) {
	defer rows.Close()
	posts := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// CreatePost inserts a post and returns it with its author.
func (s *PostgresStore) CreatePost(ctx context.Context, np NewPost) (*Post, error) {
	tags := np.Tags
	if tags == nil {
		tags = []string{}
	}
	p, err := scanPost(s.pool.QueryRow(ctx, `
		WITH p AS (
			INSERT INTO posts (id, author_id, title, content, published, tags)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		)
		SELECT `+postColumns+` FROM p JOIN users u ON u.id = p.author_id
	`, np.ID, np.AuthorID, np.Title, np.Content, np.Published, tags))
	if err != nil {
		return nil, fmt.Errorf("inserting post: %w", err)
	}
	return p, nil
}

// GetPost fetches any post by id, published or not. Visibility is the caller's decision.
func (s *PostgresStore) GetPost(ctx context.Context, id uuid.UUID) (*Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx,
		"SELECT "+postColumns+" FROM posts p JOIN users u ON u.id = p.author_id WHERE p.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching post: %w", err)
	}
	return p, nil
}

// GetPublishedPost fetches a post only if it is published.
func (s *PostgresStore) GetPublishedPost(ctx context.Context, id uuid.UUID) (*Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx,
		"SELECT "+postColumns+" FROM posts p JOIN users u ON u.id = p.author_id WHERE p.id = $1 AND p.published", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching published post: %w", err)
	}
	return p, nil
}

// UpdatePost applies the non-nil fields of upd to a post owned by authorID.
// Returns ErrNotFound when the post does not exist or belongs to someone else.
func (s *PostgresStore) UpdatePost(ctx context.Context, id, authorID uuid.UUID, upd PostUpdate) (*Post, error) {
	var tags []string
	if upd.Tags != nil {
		tags = *upd.Tags
		if tags == nil {
			tags = []string{}
		}
	}
	p, err := scanPost(s.pool.QueryRow(ctx, `
		WITH p AS (
			UPDATE posts SET
				title = COALESCE($3, title),
				content = COALESCE($4, content),
				published = COALESCE($5, published),
				tags = CASE WHEN $6 THEN $7::text[] ELSE tags END,
				updated_at = now()
			WHERE id = $1 AND author_id = $2
			RETURNING *
		)
		SELECT `+postColumns+` FROM p JOIN users u ON u.id = p.author_id
	`, id, authorID, upd.Title, upd.Content, upd.Published, upd.Tags != nil, tags))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating post: %w", err)
	}
	return p, nil
}

// DeletePost removes a post owned by authorID. Returns ErrNotFound otherwise.
func (s *PostgresStore) DeletePost(ctx context.Context, id, authorID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM posts WHERE id = $1 AND author_id = $2", id, authorID)
	if err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// escapeLike escapes LIKE metacharacters so search terms match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListPublishedPosts returns one page of published posts plus the total matching count.
func (s *PostgresStore) ListPublishedPosts(ctx context.Context, params PostListParams) ([]Post, int, error) {
	column, ok := sortColumns[params.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported sort key %q", params.SortBy)
	}
	if params.Page < 1 || params.Limit < 1 {
		return nil, 0, fmt.Errorf("invalid page %d / limit %d", params.Page, params.Limit)
	}

	where := []string{"p.published"}
	args := []any{}
	if len(params.Tags) > 0 {
		args = append(args, params.Tags)
		where = append(where, fmt.Sprintf("p.tags && $%d::text[]", len(args)))
	}
	if params.Search != "" {
		args = append(args, "%"+escapeLike(params.Search)+"%")
		where = append(where, fmt.Sprintf("(p.title ILIKE $%d OR p.content ILIKE $%d)", len(args), len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM posts p WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting posts: %w", err)
	}

	dir := "ASC"
	if params.SortDesc {
		dir = "DESC"
	}
	args = append(args, params.Limit, (params.Page-1)*params.Limit)
	query := fmt.Sprintf(
		"SELECT %s FROM posts p JOIN users u ON u.id = p.author_id WHERE %s ORDER BY %s %s, p.id %s LIMIT $%d OFFSET $%d",
		postColumns, cond, column, dir, dir, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing posts: %w", err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scanning posts: %w", err)
	}
	return posts, total, nil
}

// ListAuthorPublishedPosts returns an author and their published posts, newest first.
// Returns ErrNotFound if the author does not exist.
func (s *PostgresStore) ListAuthorPublishedPosts(ctx context.Context, authorID uuid.UUID) (*Author, []Post, error) {
	var a Author
	err := s.pool.QueryRow(ctx, "SELECT id, name, email FROM users WHERE id = $1", authorID).
		Scan(&a.ID, &a.Name, &a.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("fetching author: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+postColumns+" FROM posts p JOIN users u ON u.id = p.author_id WHERE p.author_id = $1 AND p.published ORDER BY p.created_at DESC, p.id DESC",
		authorID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing author posts: %w", err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning author posts: %w", err)
	}
	return &a, posts, nil
}

// ListUserPosts returns every post owned by userID, drafts included, most recently updated first.
func (s *PostgresStore) ListUserPosts(ctx context.Context, userID uuid.UUID) ([]Post, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+postColumns+" FROM posts p JOIN users u ON u.id = p.author_id WHERE p.author_id = $1 ORDER BY p.updated_at DESC, p.id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing user posts: %w", err)
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning user posts: %w", err)
	}
	return posts, nil
}

// PopularTags returns up to limit tags across published posts, most used first,
// plus the number of distinct tags in use.
func (s *PostgresStore) PopularTags(ctx context.Context, limit int) ([]TagCount, int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tag, count(*) AS n, count(*) OVER () AS uniq
		FROM posts p, unnest(p.tags) AS tag
		WHERE p.published
		GROUP BY tag
		ORDER BY n DESC, tag ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	tags := []TagCount{}
	unique := 0
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count, &unique); err != nil {
			return nil, 0, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing tags: %w", err)
	}
	return tags, unique, nil
}
