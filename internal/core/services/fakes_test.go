package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

var errBoom = errors.New("boom")

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// post fabrique un post daté de baseTime + age minutes (plus grand = plus récent).
func post(id, author string, age int) domain.Post {
	return domain.Post{
		ID:        id,
		AuthorID:  author,
		Author:    domain.Author{ID: author, Name: "user " + author},
		Body:      "body " + id,
		CreatedAt: baseTime.Add(time.Duration(age) * time.Minute),
		Likes:     domain.LikeSet{},
	}
}

// serverPosts retourne n posts du plus récent (p1) au plus ancien (pn).
func serverPosts(n int, author string) []domain.Post {
	out := make([]domain.Post, n)
	for i := range out {
		out[i] = post(fmt.Sprintf("p%d", i+1), author, n-i)
	}
	return out
}

// --- READER ---

type fakeReader struct {
	mu       sync.Mutex
	posts    []domain.Post
	err      error
	queries  []domain.PostQuery
	detail   *domain.Post
	comments []domain.Comment
	detailFn func() // exécuté au début de ReadPostDetail
}

func (r *fakeReader) ReadPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	if r.err != nil {
		return nil, r.err
	}

	out := []domain.Post{}
	for _, p := range r.posts {
		if q.AuthorID != "" && p.AuthorID != q.AuthorID {
			continue
		}
		if !q.Before.IsZero() && !p.CreatedAt.Before(q.Before) {
			continue
		}
		if len(out) == q.Limit {
			break
		}
		out = append(out, p.Clone())
	}
	return out, nil
}

func (r *fakeReader) ReadPostDetail(ctx context.Context, postID string) (*domain.Post, []domain.Comment, error) {
	if r.detailFn != nil {
		r.detailFn()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, nil, r.err
	}
	if r.detail == nil || r.detail.ID != postID {
		return nil, nil, domain.ErrPostNotFound
	}
	p := r.detail.Clone()
	return &p, append([]domain.Comment(nil), r.comments...), nil
}

func (r *fakeReader) setPosts(posts []domain.Post) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = posts
}

func (r *fakeReader) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeReader) limits() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.queries))
	for i, q := range r.queries {
		out[i] = q.Limit
	}
	return out
}

// --- MUTATIONS ---

type fakeMutations struct {
	mu            sync.Mutex
	likeErr       error
	commentErr    error
	removeErr     error
	postErr       error
	gate          chan struct{} // si non nil, les likes et suppressions attendent sa fermeture
	started       chan struct{} // reçoit un signal quand une requête bloquée démarre
	likes         []string      // "like:<post>:<user>" / "unlike:<post>:<user>"
	removed       []string
	notifications []domain.NewNotification
	createdPosts  []domain.NewPost
}

func (m *fakeMutations) wait(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	if m.started != nil {
		m.started <- struct{}{}
	}
	select {
	case <-m.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *fakeMutations) CreateLike(ctx context.Context, postID, userID string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.likeErr != nil {
		return m.likeErr
	}
	m.likes = append(m.likes, "like:"+postID+":"+userID)
	return nil
}

func (m *fakeMutations) RemoveLike(ctx context.Context, postID, userID string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.likeErr != nil {
		return m.likeErr
	}
	m.likes = append(m.likes, "unlike:"+postID+":"+userID)
	return nil
}

func (m *fakeMutations) CreateComment(ctx context.Context, c domain.NewComment) (*domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commentErr != nil {
		return nil, m.commentErr
	}
	return &domain.Comment{ID: "c-new", PostID: c.PostID, AuthorID: c.AuthorID, Text: c.Text, CreatedAt: baseTime}, nil
}

func (m *fakeMutations) RemoveComment(ctx context.Context, commentID string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, commentID)
	return nil
}

func (m *fakeMutations) CreatePost(ctx context.Context, p domain.NewPost) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return nil, m.postErr
	}
	m.createdPosts = append(m.createdPosts, p)
	return &domain.Post{ID: "new", AuthorID: p.AuthorID, Body: p.Body, Media: p.Media}, nil
}

func (m *fakeMutations) UpdatePost(ctx context.Context, p domain.PostUpdate) (*domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return nil, m.postErr
	}
	return &domain.Post{ID: p.ID, Body: p.Body, Media: p.Media}, nil
}

func (m *fakeMutations) DeletePost(ctx context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.postErr
}

func (m *fakeMutations) CreateNotification(ctx context.Context, n domain.NewNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *fakeMutations) sentNotifications() []domain.NewNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.NewNotification(nil), m.notifications...)
}

// --- SOURCE ---

type fakeSub struct {
	sub     domain.Subscription
	deliver func(domain.ChangeEvent)
	closed  bool
}

// fakeSource livre de façon synchrone dans la goroutine du test.
type fakeSource struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

func (s *fakeSource) Subscribe(ctx context.Context, sub domain.Subscription, deliver func(domain.ChangeEvent)) (ports.Unsubscribe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	fs := &fakeSub{sub: sub, deliver: deliver}
	s.subs = append(s.subs, fs)
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		fs.closed = true
		return nil
	}, nil
}

func (s *fakeSource) emit(ev domain.ChangeEvent) {
	s.mu.Lock()
	var targets []*fakeSub
	for _, fs := range s.subs {
		if !fs.closed && fs.sub.Matches(ev) {
			targets = append(targets, fs)
		}
	}
	s.mu.Unlock()

	for _, fs := range targets {
		fs.deliver(ev)
	}
}

func (s *fakeSource) open() []domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Subscription
	for _, fs := range s.subs {
		if !fs.closed {
			out = append(out, fs.sub)
		}
	}
	return out
}

func (s *fakeSource) all() []*fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeSub(nil), s.subs...)
}

// --- USERS ---

type fakeUsers struct {
	users map[string]domain.Author
	err   error
}

func (u *fakeUsers) GetUser(ctx context.Context, userID string) (*domain.Author, error) {
	if u.err != nil {
		return nil, u.err
	}
	a, ok := u.users[userID]
	if !ok {
		return nil, errors.New("no such user")
	}
	return &a, nil
}

// --- HARNESS ---

type harness struct {
	engine    *Engine
	reader    *fakeReader
	mutations *fakeMutations
	source    *fakeSource
	users     *fakeUsers
}

func newHarness(t *testing.T, cfg EngineConfig) *harness {
	t.Helper()
	h := &harness{
		reader:    &fakeReader{},
		mutations: &fakeMutations{},
		source:    &fakeSource{},
		users: &fakeUsers{users: map[string]domain.Author{
			"alice": {ID: "alice", Name: "Alice"},
			"bob":   {ID: "bob", Name: "Bob"},
		}},
	}
	h.engine = NewEngine(Deps{
		Reader:    h.reader,
		Mutations: h.mutations,
		Source:    h.source,
		Users:     h.users,
	}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.engine.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func postEvent(kind domain.ChangeKind, p domain.Post) domain.ChangeEvent {
	return domain.ChangeEvent{Source: domain.SourcePosts, Kind: kind, Post: &p}
}

func commentEvent(kind domain.ChangeKind, c domain.Comment) domain.ChangeEvent {
	return domain.ChangeEvent{Source: domain.SourceComments, Kind: kind, Comment: &c}
}

func notificationEvent(receiver string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Source:       domain.SourceNotifications,
		Kind:         domain.ChangeInsert,
		Notification: &domain.Notification{ID: "n-" + receiver, ReceiverID: receiver},
	}
}
