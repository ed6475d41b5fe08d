package domain

import "time"

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Author    Author    `json:"author"` // résolu à l'arrivée par lookup, pas par le flux
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type NewComment struct {
	PostID   string
	AuthorID string
	Text     string
}

type Notification struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Title      string    `json:"title"`
	Data       string    `json:"data"` // JSON opaque, ex: {"postId":"..","commentId":".."}
	CreatedAt  time.Time `json:"created_at"`
}

type NewNotification struct {
	SenderID   string
	ReceiverID string
	Title      string
	Data       string
}
