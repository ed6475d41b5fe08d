package eventbroker

import (
	"context"
	"log/slog"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

// Publisher émet un changement de ligne sur le bus.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// Writer est la couche d'écriture enveloppée.
// Les suppressions et créations retournent l'enregistrement pour construire l'événement.
type Writer interface {
	CreateLike(ctx context.Context, postID, userID string) error
	RemoveLike(ctx context.Context, postID, userID string) error
	CreateComment(ctx context.Context, c domain.NewComment) (*domain.Comment, error)
	DeleteComment(ctx context.Context, commentID string) (*domain.Comment, error)
	CreatePost(ctx context.Context, p domain.NewPost) (*domain.Post, error)
	UpdatePost(ctx context.Context, p domain.PostUpdate) (*domain.Post, error)
	DeletePost(ctx context.Context, postID string) error
	InsertNotification(ctx context.Context, n domain.NewNotification) (*domain.Notification, error)
}

// PublishingMutations publie le changement correspondant après chaque écriture réussie.
// Un échec de publication est journalisé: l'écriture est déjà validée.
// Les likes ne sont pas publiés (pas de flux de likes).
type PublishingMutations struct {
	writer    Writer
	publisher Publisher
}

var _ ports.MutationService = (*PublishingMutations)(nil)

func NewPublishingMutations(writer Writer, publisher Publisher) *PublishingMutations {
	return &PublishingMutations{writer: writer, publisher: publisher}
}

func (m *PublishingMutations) publish(ctx context.Context, ev domain.ChangeEvent) {
	if err := m.publisher.Publish(ctx, ev); err != nil {
		slog.Error("❌ Change event not published", "source", ev.Source, "kind", ev.Kind, "error", err)
	}
}

func (m *PublishingMutations) CreateLike(ctx context.Context, postID, userID string) error {
	return m.writer.CreateLike(ctx, postID, userID)
}

func (m *PublishingMutations) RemoveLike(ctx context.Context, postID, userID string) error {
	return m.writer.RemoveLike(ctx, postID, userID)
}

func (m *PublishingMutations) CreateComment(ctx context.Context, nc domain.NewComment) (*domain.Comment, error) {
	c, err := m.writer.CreateComment(ctx, nc)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, domain.ChangeEvent{Source: domain.SourceComments, Kind: domain.ChangeInsert, Comment: c})
	return c, nil
}

func (m *PublishingMutations) RemoveComment(ctx context.Context, commentID string) error {
	c, err := m.writer.DeleteComment(ctx, commentID)
	if err != nil {
		return err
	}
	m.publish(ctx, domain.ChangeEvent{Source: domain.SourceComments, Kind: domain.ChangeDelete, Comment: c})
	return nil
}

func (m *PublishingMutations) CreatePost(ctx context.Context, np domain.NewPost) (*domain.Post, error) {
	p, err := m.writer.CreatePost(ctx, np)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, domain.ChangeEvent{Source: domain.SourcePosts, Kind: domain.ChangeInsert, Post: p})
	return p, nil
}

func (m *PublishingMutations) UpdatePost(ctx context.Context, pu domain.PostUpdate) (*domain.Post, error) {
	p, err := m.writer.UpdatePost(ctx, pu)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, domain.ChangeEvent{Source: domain.SourcePosts, Kind: domain.ChangeUpdate, Post: p})
	return p, nil
}

func (m *PublishingMutations) DeletePost(ctx context.Context, postID string) error {
	if err := m.writer.DeletePost(ctx, postID); err != nil {
		return err
	}
	m.publish(ctx, domain.ChangeEvent{Source: domain.SourcePosts, Kind: domain.ChangeDelete, Post: &domain.Post{ID: postID}})
	return nil
}

func (m *PublishingMutations) CreateNotification(ctx context.Context, nn domain.NewNotification) error {
	n, err := m.writer.InsertNotification(ctx, nn)
	if err != nil {
		return err
	}
	m.publish(ctx, domain.ChangeEvent{Source: domain.SourceNotifications, Kind: domain.ChangeInsert, Notification: n})
	return nil
}
