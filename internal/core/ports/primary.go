package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

// --- DRIVING (Ce que le moteur expose à l'UI) ---

type FeedEngine interface {
	// Session
	SignIn(ctx context.Context, userID string) error
	SignOut(ctx context.Context) error
	CurrentUser() string

	// Feed (authorID vide = feed principal, sinon feed profil)
	Snapshot(ctx context.Context, authorID string) (domain.FeedSnapshot, error)
	RequestNextPage(ctx context.Context, authorID string) error
	ToggleLike(ctx context.Context, postID string) (*domain.Mutation, error)

	// Posts
	CreatePost(ctx context.Context, body, media string) (*domain.Post, error)
	UpdatePost(ctx context.Context, postID, body, media string) (*domain.Post, error)
	DeletePost(ctx context.Context, postID string) error

	// Notifications
	UnreadNotifications() int
	ResetUnread()

	// Détail
	OpenDetail(ctx context.Context, postID string) (DetailView, error)
}

type DetailView interface {
	Snapshot() domain.DetailSnapshot
	SubmitComment(ctx context.Context, text string) (*domain.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
	Close() error
}
