package domain

// LikeOverlay est l'état transitoire affiché pendant qu'une bascule de like est en vol.
type LikeOverlay struct {
	MutationID string `json:"mutation_id"`
	Liked      bool   `json:"liked"`
}

// FeedEntry est un post tel que vu par l'UI: état confirmé + overlay éventuel.
type FeedEntry struct {
	Post
	LikedByMe bool         `json:"liked_by_me"`
	Pending   *LikeOverlay `json:"pending,omitempty"`
}

// DisplayLiked retourne l'état à afficher (overlay prioritaire).
func (e FeedEntry) DisplayLiked() bool {
	if e.Pending != nil {
		return e.Pending.Liked
	}
	return e.LikedByMe
}

func (e FeedEntry) DisplayLikeCount() int {
	n := len(e.Likes)
	if e.Pending == nil || e.Pending.Liked == e.LikedByMe {
		return n
	}
	if e.Pending.Liked {
		return n + 1
	}
	return n - 1
}

// FeedSnapshot est une vue immuable d'un feed, lue par l'UI.
type FeedSnapshot struct {
	AuthorFilter string      `json:"author_filter,omitempty"`
	Entries      []FeedEntry `json:"entries"`
	HasMore      bool        `json:"has_more"`
	Limit        int         `json:"limit"`
}

// IDs retourne les IDs dans l'ordre d'affichage.
func (s FeedSnapshot) IDs() []string {
	ids := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		ids[i] = e.ID
	}
	return ids
}

type CommentEntry struct {
	Comment
	PendingRemoval bool `json:"pending_removal"`
	CanDelete      bool `json:"can_delete"`
}

type DetailSnapshot struct {
	Post     *Post          `json:"post"`
	Comments []CommentEntry `json:"comments"`
}
