package services

import (
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

type pendingLike struct {
	mutation *domain.Mutation
	liked    bool // état visé
}

// likeTracker garde au plus une bascule en vol par post.
// L'état confirmé vit dans les stores ; ici ne vivent que les overlays.
type likeTracker struct {
	pending map[string]pendingLike
}

func newLikeTracker() *likeTracker {
	return &likeTracker{pending: make(map[string]pendingLike)}
}

// begin ouvre une mutation Pending qui vise l'inverse de currentlyLiked.
func (t *likeTracker) begin(postID string, currentlyLiked bool) (*domain.Mutation, bool, error) {
	if _, busy := t.pending[postID]; busy {
		return nil, false, domain.ErrMutationInFlight
	}
	kind := domain.MutationLike
	if currentlyLiked {
		kind = domain.MutationUnlike
	}
	m := domain.NewMutation(kind, postID)
	t.pending[postID] = pendingLike{mutation: m, liked: !currentlyLiked}
	return m, !currentlyLiked, nil
}

// finish résout la mutation et retire l'overlay. Retourne false si elle n'est plus suivie
// (session close entre-temps).
func (t *likeTracker) finish(m *domain.Mutation, err error) bool {
	p, ok := t.pending[m.TargetID]
	if !ok || p.mutation.ID != m.ID {
		m.Resolve(err)
		return false
	}
	delete(t.pending, m.TargetID)
	m.Resolve(err)
	return true
}

func (t *likeTracker) overlay(postID string) *domain.LikeOverlay {
	p, ok := t.pending[postID]
	if !ok {
		return nil
	}
	return &domain.LikeOverlay{MutationID: p.mutation.ID, Liked: p.liked}
}

func (t *likeTracker) reset() {
	clear(t.pending)
}
