package services

import (
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

// FeedStore est la séquence ordonnée (plus récent d'abord) des posts d'une vue.
// Elle n'est pas thread-safe: seule la boucle de réconciliation du moteur y écrit.
type FeedStore struct {
	posts []domain.Post
}

func NewFeedStore() *FeedStore {
	return &FeedStore{}
}

func (s *FeedStore) Len() int { return len(s.posts) }

func (s *FeedStore) indexOf(postID string) int {
	for i := range s.posts {
		if s.posts[i].ID == postID {
			return i
		}
	}
	return -1
}

func (s *FeedStore) Get(postID string) (domain.Post, bool) {
	i := s.indexOf(postID)
	if i < 0 {
		return domain.Post{}, false
	}
	return s.posts[i].Clone(), true
}

// Posts retourne une copie profonde de la séquence.
func (s *FeedStore) Posts() []domain.Post {
	out := make([]domain.Post, len(s.posts))
	for i := range s.posts {
		out[i] = s.posts[i].Clone()
	}
	return out
}

// Insert place le post selon sa date de création (plus récent d'abord).
// Pour des événements arrivant dans l'ordre du commit, cela revient à un prepend.
// Un ID déjà présent est traité comme une mise à jour: une seule entrée par ID.
func (s *FeedStore) Insert(p domain.Post) {
	if s.Update(p) {
		return
	}
	p = p.Clone()
	if p.CommentCount < 0 {
		p.CommentCount = 0
	}

	at := 0
	if !p.CreatedAt.IsZero() {
		for at < len(s.posts) && s.posts[at].CreatedAt.After(p.CreatedAt) {
			at++
		}
	}
	s.posts = append(s.posts, domain.Post{})
	copy(s.posts[at+1:], s.posts[at:])
	s.posts[at] = p
}

// Update remplace body et media en place. Position, likes et compteur sont conservés.
func (s *FeedStore) Update(p domain.Post) bool {
	i := s.indexOf(p.ID)
	if i < 0 {
		return false
	}
	s.posts[i].Body = p.Body
	s.posts[i].Media = p.Media
	return true
}

func (s *FeedStore) Delete(postID string) bool {
	i := s.indexOf(postID)
	if i < 0 {
		return false
	}
	s.posts = append(s.posts[:i], s.posts[i+1:]...)
	return true
}

// AdjustCommentCount ajoute delta au compteur, plancher à zéro. Post absent = no-op.
func (s *FeedStore) AdjustCommentCount(postID string, delta int) bool {
	i := s.indexOf(postID)
	if i < 0 {
		return false
	}
	s.posts[i].CommentCount = max(s.posts[i].CommentCount+delta, 0)
	return true
}

// SetLiked applique un like confirmé de userID.
func (s *FeedStore) SetLiked(postID, userID string, liked bool) bool {
	i := s.indexOf(postID)
	if i < 0 {
		return false
	}
	if liked {
		s.posts[i].Likes = s.posts[i].Likes.Add(userID)
	} else {
		s.posts[i].Likes = s.posts[i].Likes.Remove(userID)
	}
	return true
}

// Replace remplace tout le contenu par le résultat d'une lecture "N premiers".
// Les posts déjà détenus gardent leur like-set et leur compteur de commentaires ;
// les autres champs prennent la valeur lue.
func (s *FeedStore) Replace(fetched []domain.Post) {
	held := make(map[string]domain.Post, len(s.posts))
	for _, p := range s.posts {
		held[p.ID] = p
	}

	next := make([]domain.Post, 0, len(fetched))
	seen := make(map[string]struct{}, len(fetched))
	for _, p := range fetched {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}

		p = p.Clone()
		if old, ok := held[p.ID]; ok {
			p.Likes = old.Likes
			p.CommentCount = old.CommentCount
		}
		next = append(next, p)
	}
	s.posts = next
}

// Append ajoute une page plus ancienne (pagination keyset). Les IDs connus sont ignorés.
func (s *FeedStore) Append(page []domain.Post) int {
	added := 0
	for _, p := range page {
		if s.indexOf(p.ID) >= 0 {
			continue
		}
		s.posts = append(s.posts, p.Clone())
		added++
	}
	return added
}

// Oldest retourne le dernier post de la séquence.
func (s *FeedStore) Oldest() (domain.Post, bool) {
	if len(s.posts) == 0 {
		return domain.Post{}, false
	}
	return s.posts[len(s.posts)-1], true
}

func (s *FeedStore) Clear() {
	s.posts = nil
}
