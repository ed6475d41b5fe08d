package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

// --- DRIVEN (Ce dont le moteur a besoin) ---

// PostReader est le service de lecture bulk.
type PostReader interface {
	// ReadPosts retourne les posts du plus récent au plus ancien, agrégats initiaux compris
	ReadPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error)
	// ReadPostDetail retourne le post avec tous ses commentaires (plus récent d'abord)
	ReadPostDetail(ctx context.Context, postID string) (*domain.Post, []domain.Comment, error)
}

// MutationService regroupe les écritures distantes. Une erreur non nil = rejet.
type MutationService interface {
	CreateLike(ctx context.Context, postID, userID string) error
	RemoveLike(ctx context.Context, postID, userID string) error

	CreateComment(ctx context.Context, c domain.NewComment) (*domain.Comment, error)
	RemoveComment(ctx context.Context, commentID string) error

	CreatePost(ctx context.Context, p domain.NewPost) (*domain.Post, error)
	UpdatePost(ctx context.Context, p domain.PostUpdate) (*domain.Post, error)
	DeletePost(ctx context.Context, postID string) error

	CreateNotification(ctx context.Context, n domain.NewNotification) error
}

// Unsubscribe termine une souscription.
type Unsubscribe func() error

// ChangeSource est la source d'événements de changement.
// L'ordre par souscription est celui du commit amont ; aucune déduplication.
type ChangeSource interface {
	Subscribe(ctx context.Context, sub domain.Subscription, deliver func(domain.ChangeEvent)) (Unsubscribe, error)
}

// UserLookup résout les champs d'affichage d'un utilisateur.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*domain.Author, error)
}

// TokenValidator vérifie un jeton de session et retourne l'UserID.
type TokenValidator interface {
	Validate(token string) (string, error)
}
