package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

// Sujets NATS:
//   feed.post.<kind>
//   feed.comment.<postID>.<kind>
//   feed.notification.<receiverID>.<kind>
const (
	subjectPosts         = "feed.post"
	subjectComments      = "feed.comment"
	subjectNotifications = "feed.notification"
)

var ErrInvalidEvent = errors.New("invalid change event")

// changeMessage est l'enveloppe JSON d'un changement de ligne.
type changeMessage struct {
	Type      domain.ChangeKind `json:"type"`
	Record    json.RawMessage   `json:"record,omitempty"`
	OldRecord json.RawMessage   `json:"old_record,omitempty"`
}

func kindToken(k domain.ChangeKind) string { return strings.ToLower(string(k)) }

// Subject retourne le sujet de publication d'un événement.
func Subject(ev domain.ChangeEvent) (string, error) {
	kind := kindToken(ev.Kind)
	switch ev.Source {
	case domain.SourcePosts:
		if ev.Post == nil {
			return "", fmt.Errorf("%w: missing post", ErrInvalidEvent)
		}
		return subjectPosts + "." + kind, nil
	case domain.SourceComments:
		if ev.Comment == nil || ev.Comment.PostID == "" {
			return "", fmt.Errorf("%w: missing comment post id", ErrInvalidEvent)
		}
		return fmt.Sprintf("%s.%s.%s", subjectComments, ev.Comment.PostID, kind), nil
	case domain.SourceNotifications:
		if ev.Notification == nil || ev.Notification.ReceiverID == "" {
			return "", fmt.Errorf("%w: missing notification receiver", ErrInvalidEvent)
		}
		return fmt.Sprintf("%s.%s.%s", subjectNotifications, ev.Notification.ReceiverID, kind), nil
	}
	return "", fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, ev.Source)
}

// SubscriptionSubject retourne le sujet (avec jokers) couvert par une souscription.
func SubscriptionSubject(sub domain.Subscription) (string, error) {
	switch sub.Source {
	case domain.SourcePosts:
		return subjectPosts + ".*", nil
	case domain.SourceComments:
		if sub.PostID == "" {
			return subjectComments + ".*.*", nil
		}
		return subjectComments + "." + sub.PostID + ".*", nil
	case domain.SourceNotifications:
		if sub.ReceiverID == "" {
			return "", fmt.Errorf("%w: notification subscription without receiver", ErrInvalidEvent)
		}
		return fmt.Sprintf("%s.%s.%s", subjectNotifications, sub.ReceiverID, kindToken(domain.ChangeInsert)), nil
	}
	return "", fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, sub.Source)
}

// Encode sérialise l'enregistrement: record pour INSERT/UPDATE, old_record pour DELETE.
func Encode(ev domain.ChangeEvent) ([]byte, error) {
	var record any
	switch ev.Source {
	case domain.SourcePosts:
		record = ev.Post
	case domain.SourceComments:
		record = ev.Comment
	case domain.SourceNotifications:
		record = ev.Notification
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, ev.Source)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	msg := changeMessage{Type: ev.Kind}
	if ev.Kind == domain.ChangeDelete {
		msg.OldRecord = raw
	} else {
		msg.Record = raw
	}
	return json.Marshal(msg)
}

// Decode normalise un message vers domain.ChangeEvent.
func Decode(source domain.EventSource, data []byte) (domain.ChangeEvent, error) {
	var msg changeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	kind, err := domain.ParseChangeKind(string(msg.Type))
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	raw := msg.Record
	if len(raw) == 0 || (kind == domain.ChangeDelete && len(msg.OldRecord) > 0) {
		raw = msg.OldRecord
	}
	if len(raw) == 0 {
		return domain.ChangeEvent{}, fmt.Errorf("%w: empty record", ErrInvalidEvent)
	}

	ev := domain.ChangeEvent{Source: source, Kind: kind}
	switch source {
	case domain.SourcePosts:
		var p domain.Post
		err = json.Unmarshal(raw, &p)
		ev.Post = &p
	case domain.SourceComments:
		var c domain.Comment
		err = json.Unmarshal(raw, &c)
		ev.Comment = &c
	case domain.SourceNotifications:
		var n domain.Notification
		err = json.Unmarshal(raw, &n)
		ev.Notification = &n
	default:
		return domain.ChangeEvent{}, fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, source)
	}
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return ev, nil
}
