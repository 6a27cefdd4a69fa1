// stores.go
//
// Shared in-memory implementations of api.Store and api.Cache.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MGallo-Code/quill/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockStore implements api.Store for tests.
// Always stateful...Users and Posts are maps, like a real store, and the
// same sentinel errors (store.ErrNotFound, store.ErrEmailTaken) come back.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	HealthErr         error
	CreateUserErr     error
	GetUserErr        error
	UpdatePasswordErr error
	DeleteUserErr     error
	PostErr           error // every post read/write
	ListErr           error // every listing

	Users map[uuid.UUID]*store.User
	Posts map[uuid.UUID]*store.Post

	// Clock stamps created/updated times. Defaults to time.Now.
	Clock func() time.Time

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users: make(map[uuid.UUID]*store.User),
		Posts: make(map[uuid.UUID]*store.Post),
	}
	for _, u := range users {
		ms.Users[u.ID] = u
	}
	return ms
}

func (m *MockStore) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

func (m *MockStore) init() {
	if m.Users == nil {
		m.Users = make(map[uuid.UUID]*store.User)
	}
	if m.Posts == nil {
		m.Posts = make(map[uuid.UUID]*store.Post)
	}
}

// emailOwner returns the id of the user holding email. Caller holds mu.
func (m *MockStore) emailOwner(email string) (uuid.UUID, bool) {
	for id, u := range m.Users {
		if u.Email == email {
			return id, true
		}
	}
	return uuid.Nil, false
}

// withAuthor returns a copy of p with Author filled in. Caller holds mu.
func (m *MockStore) withAuthor(p *store.Post) store.Post {
	out := *p
	out.Tags = slices.Clone(p.Tags)
	if u, ok := m.Users[p.AuthorID]; ok {
		out.Author = &store.Author{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	return out
}

func (m *MockStore) CheckHealth(context.Context) error {
	return m.HealthErr
}

func (m *MockStore) CreateUser(_ context.Context, id uuid.UUID, name, email, passwordHash string) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if _, taken := m.emailOwner(email); taken {
		return store.ErrEmailTaken
	}
	now := m.now()
	m.Users[id] = &store.User{ID: id, Name: name, Email: email, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *MockStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emailOwner(email)
	if !ok {
		return nil, store.ErrNotFound
	}
	u := *m.Users[id]
	return &u, nil
}

func (m *MockStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// profile builds a Profile for id. Caller holds mu.
func (m *MockStore) profile(id uuid.UUID) (*store.Profile, error) {
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	count := 0
	for _, p := range m.Posts {
		if p.AuthorID == id {
			count++
		}
	}
	return &store.Profile{ID: u.ID, Name: u.Name, Email: u.Email, BlogCount: count}, nil
}

func (m *MockStore) GetProfile(_ context.Context, id uuid.UUID) (*store.Profile, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile(id)
}

func (m *MockStore) UpdateProfile(_ context.Context, id uuid.UUID, upd store.ProfileUpdate) (*store.Profile, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Email != nil {
		if owner, taken := m.emailOwner(*upd.Email); taken && owner != id {
			return nil, store.ErrEmailTaken
		}
		u.Email = *upd.Email
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	u.UpdatedAt = m.now()
	return m.profile(id)
}

func (m *MockStore) UpdateUserPassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	if m.UpdatePasswordErr != nil {
		return m.UpdatePasswordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = m.now()
	return nil
}

func (m *MockStore) DeleteUser(_ context.Context, id uuid.UUID) error {
	if m.DeleteUserErr != nil {
		return m.DeleteUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.Users, id)
	for pid, p := range m.Posts {
		if p.AuthorID == id {
			delete(m.Posts, pid)
		}
	}
	return nil
}

func (m *MockStore) CreatePost(_ context.Context, np store.NewPost) (*store.Post, error) {
	if m.PostErr != nil {
		return nil, m.PostErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if _, ok := m.Users[np.AuthorID]; !ok {
		return nil, store.ErrNotFound
	}
	now := m.now()
	tags := np.Tags
	if tags == nil {
		tags = []string{}
	}
	p := &store.Post{
		ID:        np.ID,
		AuthorID:  np.AuthorID,
		Title:     np.Title,
		Content:   np.Content,
		Published: np.Published,
		Tags:      slices.Clone(tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.Posts[p.ID] = p
	out := m.withAuthor(p)
	return &out, nil
}

func (m *MockStore) GetPost(_ context.Context, id uuid.UUID) (*store.Post, error) {
	if m.PostErr != nil {
		return nil, m.PostErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := m.withAuthor(p)
	return &out, nil
}

func (m *MockStore) GetPublishedPost(ctx context.Context, id uuid.UUID) (*store.Post, error) {
	p, err := m.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Published {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *MockStore) UpdatePost(_ context.Context, id, authorID uuid.UUID, upd store.PostUpdate) (*store.Post, error) {
	if m.PostErr != nil {
		return nil, m.PostErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Posts[id]
	if !ok || p.AuthorID != authorID {
		return nil, store.ErrNotFound
	}
	if upd.Title != nil {
		p.Title = *upd.Title
	}
	if upd.Content != nil {
		p.Content = *upd.Content
	}
	if upd.Published != nil {
		p.Published = *upd.Published
	}
	if upd.Tags != nil {
		p.Tags = slices.Clone(*upd.Tags)
	}
	p.UpdatedAt = m.now()
	out := m.withAuthor(p)
	return &out, nil
}

func (m *MockStore) DeletePost(_ context.Context, id, authorID uuid.UUID) error {
	if m.PostErr != nil {
		return m.PostErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Posts[id]
	if !ok || p.AuthorID != authorID {
		return store.ErrNotFound
	}
	delete(m.Posts, id)
	return nil
}

// matches reports whether p passes the published-list filters.
func matches(p *store.Post, params store.PostListParams) bool {
	if !p.Published {
		return false
	}
	if len(params.Tags) > 0 && !slices.ContainsFunc(params.Tags, func(t string) bool { return slices.Contains(p.Tags, t) }) {
		return false
	}
	if params.Search != "" {
		q := strings.ToLower(params.Search)
		if !strings.Contains(strings.ToLower(p.Title), q) && !strings.Contains(strings.ToLower(p.Content), q) {
			return false
		}
	}
	return true
}

func comparePosts(sortBy string) func(a, b store.Post) int {
	return func(a, b store.Post) int {
		var c int
		switch sortBy {
		case store.SortTitle:
			c = strings.Compare(a.Title, b.Title)
		case store.SortUpdatedAt:
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID.String(), b.ID.String())
		}
		return c
	}
}

func (m *MockStore) ListPublishedPosts(_ context.Context, params store.PostListParams) ([]store.Post, int, error) {
	if m.ListErr != nil {
		return nil, 0, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []store.Post
	for _, p := range m.Posts {
		if matches(p, params) {
			all = append(all, m.withAuthor(p))
		}
	}
	compare := comparePosts(params.SortBy)
	slices.SortFunc(all, func(a, b store.Post) int {
		if params.SortDesc {
			return -compare(a, b)
		}
		return compare(a, b)
	})

	total := len(all)
	start := min((params.Page-1)*params.Limit, total)
	end := min(start+params.Limit, total)
	return all[start:end], total, nil
}

func (m *MockStore) ListAuthorPublishedPosts(_ context.Context, authorID uuid.UUID) (*store.Author, []store.Post, error) {
	if m.ListErr != nil {
		return nil, nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[authorID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	posts := []store.Post{}
	for _, p := range m.Posts {
		if p.AuthorID == authorID && p.Published {
			posts = append(posts, m.withAuthor(p))
		}
	}
	compare := comparePosts(store.SortCreatedAt)
	slices.SortFunc(posts, func(a, b store.Post) int { return -compare(a, b) })
	return &store.Author{ID: u.ID, Name: u.Name, Email: u.Email}, posts, nil
}

func (m *MockStore) ListUserPosts(_ context.Context, userID uuid.UUID) ([]store.Post, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	posts := []store.Post{}
	for _, p := range m.Posts {
		if p.AuthorID == userID {
			posts = append(posts, m.withAuthor(p))
		}
	}
	compare := comparePosts(store.SortUpdatedAt)
	slices.SortFunc(posts, func(a, b store.Post) int { return -compare(a, b) })
	return posts, nil
}

func (m *MockStore) PopularTags(_ context.Context, limit int) ([]store.TagCount, int, error) {
	if m.ListErr != nil {
		return nil, 0, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, p := range m.Posts {
		if !p.Published {
			continue
		}
		for _, t := range p.Tags {
			counts[t]++
		}
	}
	tags := make([]store.TagCount, 0, len(counts))
	for t, c := range counts {
		tags = append(tags, store.TagCount{Tag: t, Count: c})
	}
	slices.SortFunc(tags, func(a, b store.TagCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Tag, b.Tag)
	})
	return tags[:min(limit, len(tags))], len(counts), nil
}

// MockCache implements api.Cache for tests.
// Always stateful...Watermarks is a map, like a real cache (without expiry).
// Use *Err fields to inject errors for specific operations.
type MockCache struct {
	// Error injection...zero value means no error
	HealthErr error
	SetErr    error
	GetErr    error

	Watermarks map[uuid.UUID]time.Time

	mu sync.Mutex
}

// NewMockCache returns an empty MockCache ready for use.
func NewMockCache() *MockCache {
	return &MockCache{Watermarks: make(map[uuid.UUID]time.Time)}
}

func (m *MockCache) CheckHealth(context.Context) error {
	return m.HealthErr
}

func (m *MockCache) SetTokensRevokedAt(_ context.Context, userID uuid.UUID, at time.Time, _ time.Duration) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Watermarks == nil {
		m.Watermarks = make(map[uuid.UUID]time.Time)
	}
	// Stored at millisecond precision, like the Redis implementation.
	m.Watermarks[userID] = time.UnixMilli(at.UnixMilli())
	return nil
}

func (m *MockCache) TokensRevokedAt(_ context.Context, userID uuid.UUID) (time.Time, error) {
	if m.GetErr != nil {
		return time.Time{}, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Watermarks[userID], nil
}
