package domain

import "fmt"

type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

func ParseChangeKind(s string) (ChangeKind, error) {
	switch k := ChangeKind(s); k {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return k, nil
	}
	return "", fmt.Errorf("unknown change kind %q", s)
}

// EventSource identifie l'une des trois souscriptions indépendantes.
type EventSource string

const (
	SourcePosts         EventSource = "posts"
	SourceComments      EventSource = "comments"
	SourceNotifications EventSource = "notifications"
)

// ChangeEvent est le type interne unique vers lequel les trois flux sont normalisés.
// Un seul des pointeurs est renseigné, selon Source.
type ChangeEvent struct {
	Source       EventSource
	Kind         ChangeKind
	Post         *Post
	Comment      *Comment
	Notification *Notification
}

// Subscription décrit la portée d'une souscription.
type Subscription struct {
	Source     EventSource
	PostID     string // commentaires d'un seul post (vue détail), vide = tous
	ReceiverID string // notifications adressées à cet utilisateur
}

// Matches applique le filtre côté consommateur (bus mémoire).
func (s Subscription) Matches(ev ChangeEvent) bool {
	if s.Source != ev.Source {
		return false
	}
	switch ev.Source {
	case SourceComments:
		return s.PostID == "" || (ev.Comment != nil && ev.Comment.PostID == s.PostID)
	case SourceNotifications:
		return ev.Kind == ChangeInsert && ev.Notification != nil && ev.Notification.ReceiverID == s.ReceiverID
	}
	return true
}
