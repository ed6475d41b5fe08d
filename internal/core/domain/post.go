package domain

import (
	"slices"
	"time"
)

// Author est une copie dénormalisée des champs d'affichage de l'auteur,
// figée au moment de la lecture ou de l'événement.
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	Author       Author    `json:"author"`
	Body         string    `json:"body"`
	Media        string    `json:"media,omitempty"` // chemin du fichier attaché (image ou vidéo)
	CreatedAt    time.Time `json:"created_at"`
	Likes        LikeSet   `json:"likes"`
	CommentCount int       `json:"comment_count"`
}

// Clone copie le post, like-set compris.
func (p Post) Clone() Post {
	p.Likes = p.Likes.Clone()
	return p
}

// LikeSet contient les IDs des utilisateurs qui aiment un post.
// Chaque membre est unique, l'ordre d'insertion est conservé.
type LikeSet []string

func (s LikeSet) Has(userID string) bool {
	return slices.Contains(s, userID)
}

// Add retourne un nouveau set contenant userID. Le receveur n'est jamais modifié.
func (s LikeSet) Add(userID string) LikeSet {
	if s.Has(userID) {
		return s
	}
	return append(s.Clone(), userID)
}

// Remove retourne un nouveau set sans userID. Le receveur n'est jamais modifié.
func (s LikeSet) Remove(userID string) LikeSet {
	return slices.DeleteFunc(s.Clone(), func(id string) bool { return id == userID })
}

func (s LikeSet) Clone() LikeSet {
	if s == nil {
		return LikeSet{}
	}
	return slices.Clone(s)
}

// PostQuery décrit une lecture bulk.
// Limit sans Before = "les Limit premiers" ; avec Before = pagination keyset.
type PostQuery struct {
	Limit    int
	AuthorID string    // filtre profil, vide = tout le feed
	Before   time.Time // zéro = depuis le plus récent
}

type NewPost struct {
	AuthorID string
	Body     string
	Media    string
}

type PostUpdate struct {
	ID    string
	Body  string
	Media string
}
