package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

const commentNotificationTitle = "commented on your post"

// DetailView réconcilie le détail d'un post (post + commentaires) avec le flux
// des commentaires de ce post. Sa boucle est indépendante de celle du moteur
// et n'écrit jamais dans les stores du feed.
type DetailView struct {
	deps          Deps
	userID        string
	postID        string
	lookupTimeout time.Duration

	box       *mailbox
	life      context.Context
	cancel    context.CancelFunc
	unsub     ports.Unsubscribe
	closeOnce sync.Once
	closeErr  error
	snap      atomic.Pointer[domain.DetailSnapshot]

	// --- possédé par la boucle ---
	post     *domain.Post
	loaded   bool
	comments []domain.Comment
	deleted  map[string]struct{} // suppressions reçues avant le chargement
	removing map[string]*domain.Mutation
}

var _ ports.DetailView = (*DetailView)(nil)

// OpenDetailView souscrit d'abord au flux des commentaires puis lit le détail:
// aucun commentaire créé entre les deux n'est perdu.
func OpenDetailView(ctx context.Context, deps Deps, userID, postID string, cfg EngineConfig) (*DetailView, error) {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}

	life, cancel := context.WithCancel(context.Background())
	v := &DetailView{
		deps:          deps,
		userID:        userID,
		postID:        postID,
		lookupTimeout: cfg.LookupTimeout,
		box:           newMailbox(cfg.InboxSize),
		life:          life,
		cancel:        cancel,
		deleted:       make(map[string]struct{}),
		removing:      make(map[string]*domain.Mutation),
	}
	v.snap.Store(&domain.DetailSnapshot{})

	go func() {
		v.box.run(life)
		v.box.close()
	}()

	unsub, err := deps.Source.Subscribe(life, domain.Subscription{Source: domain.SourceComments, PostID: postID}, v.ingest)
	if err != nil {
		_ = v.Close()
		return nil, fmt.Errorf("subscribe comments of %s: %w", postID, err)
	}
	v.unsub = unsub

	post, comments, err := deps.Reader.ReadPostDetail(ctx, postID)
	if err != nil {
		_ = v.Close()
		if errors.Is(err, domain.ErrPostNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTransientRead, err)
	}

	if err := v.box.do(ctx, func() { v.load(post, comments) }); err != nil {
		_ = v.Close()
		return nil, err
	}

	slog.Debug("🔎 Detail opened", "post_id", postID, "comments", len(comments))
	return v, nil
}

func (v *DetailView) PostID() string { return v.postID }

// Snapshot retourne la dernière vue publiée.
func (v *DetailView) Snapshot() domain.DetailSnapshot {
	s := *v.snap.Load()
	if s.Post != nil {
		p := s.Post.Clone()
		s.Post = &p
	}
	s.Comments = slices.Clone(s.Comments)
	return s
}

func (v *DetailView) ingest(ev domain.ChangeEvent) {
	if ev.Comment == nil {
		return
	}
	c := *ev.Comment
	if ev.Kind == domain.ChangeInsert {
		c.Author = lookupAuthor(v.life, v.deps.Users, c.AuthorID, v.lookupTimeout)
	}
	ev.Comment = &c
	v.box.enqueue(func() { v.apply(ev) })
}

// apply: sur la boucle.
func (v *DetailView) apply(ev domain.ChangeEvent) {
	switch ev.Kind {
	case domain.ChangeInsert:
		if v.indexOf(ev.Comment.ID) >= 0 {
			return
		}
		v.comments = slices.Insert(v.comments, 0, *ev.Comment)
	case domain.ChangeDelete:
		if !v.loaded {
			v.deleted[ev.Comment.ID] = struct{}{}
		}
		v.remove(ev.Comment.ID)
	default:
		return
	}
	v.publish()
}

// load fusionne la lecture avec les commentaires déjà reçus par événement.
func (v *DetailView) load(post *domain.Post, read []domain.Comment) {
	if post != nil {
		p := post.Clone()
		v.post = &p
	}

	merged := make([]domain.Comment, 0, len(read)+len(v.comments))
	seen := make(map[string]struct{}, len(read)+len(v.comments))
	for _, batch := range [][]domain.Comment{v.comments, read} {
		for _, c := range batch {
			if _, gone := v.deleted[c.ID]; gone {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			merged = append(merged, c)
		}
	}
	slices.SortStableFunc(merged, func(a, b domain.Comment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	v.comments = merged
	v.loaded = true
	clear(v.deleted)
	v.publish()
}

func (v *DetailView) indexOf(commentID string) int {
	return slices.IndexFunc(v.comments, func(c domain.Comment) bool { return c.ID == commentID })
}

func (v *DetailView) remove(commentID string) {
	if i := v.indexOf(commentID); i >= 0 {
		v.comments = slices.Delete(v.comments, i, i+1)
	}
}

func (v *DetailView) canDelete(c domain.Comment) bool {
	return v.userID == c.AuthorID || (v.post != nil && v.userID == v.post.AuthorID)
}

func (v *DetailView) publish() {
	s := &domain.DetailSnapshot{Comments: make([]domain.CommentEntry, len(v.comments))}
	if v.post != nil {
		p := v.post.Clone()
		s.Post = &p
	}
	for i, c := range v.comments {
		_, pending := v.removing[c.ID]
		s.Comments[i] = domain.CommentEntry{Comment: c, PendingRemoval: pending, CanDelete: v.canDelete(c)}
	}
	v.snap.Store(s)
}

// SubmitComment crée un commentaire. Pas d'écho local: il apparaît via le flux.
// Si l'auteur du post est un autre utilisateur, il est notifié (au mieux).
func (v *DetailView) SubmitComment(ctx context.Context, text string) (*domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyComment
	}
	if v.life.Err() != nil {
		return nil, domain.ErrEngineStopped
	}

	c, err := v.deps.Mutations.CreateComment(ctx, domain.NewComment{PostID: v.postID, AuthorID: v.userID, Text: text})
	if err != nil {
		slog.Warn("Comment rejected", "post_id", v.postID, "error", err)
		return nil, domain.NewMutationError("create_comment", err)
	}

	if snap := v.Snapshot(); snap.Post != nil && snap.Post.AuthorID != "" && snap.Post.AuthorID != v.userID {
		v.notifyOwner(ctx, snap.Post.AuthorID, c)
	}
	return c, nil
}

func (v *DetailView) notifyOwner(ctx context.Context, ownerID string, c *domain.Comment) {
	commentID := ""
	if c != nil {
		commentID = c.ID
	}
	data, _ := json.Marshal(map[string]string{"postId": v.postID, "commentId": commentID})

	err := v.deps.Mutations.CreateNotification(ctx, domain.NewNotification{
		SenderID:   v.userID,
		ReceiverID: ownerID,
		Title:      commentNotificationTitle,
		Data:       string(data),
	})
	if err != nil {
		slog.Warn("Comment notification not sent", "post_id", v.postID, "receiver_id", ownerID, "error", err)
	}
}

// DeleteComment masque le commentaire (PendingRemoval) le temps de la requête:
// retiré si confirmé, restauré si rejeté.
func (v *DetailView) DeleteComment(ctx context.Context, commentID string) error {
	var (
		m        *domain.Mutation
		beginErr error
	)
	if err := v.box.do(ctx, func() {
		i := v.indexOf(commentID)
		if i < 0 {
			beginErr = domain.ErrCommentNotFound
			return
		}
		if !v.canDelete(v.comments[i]) {
			beginErr = domain.ErrForbidden
			return
		}
		if _, busy := v.removing[commentID]; busy {
			beginErr = domain.ErrMutationInFlight
			return
		}
		m = domain.NewMutation(domain.MutationRemoveComment, commentID)
		v.removing[commentID] = m
		v.publish()
	}); err != nil {
		return err
	}
	if beginErr != nil {
		return beginErr
	}

	remoteErr := v.deps.Mutations.RemoveComment(ctx, commentID)

	_ = v.box.do(context.WithoutCancel(ctx), func() {
		if v.removing[commentID] == m {
			delete(v.removing, commentID)
		}
		if remoteErr == nil {
			v.remove(commentID)
		}
		v.publish()
	})
	m.Resolve(remoteErr)

	if remoteErr != nil {
		slog.Warn("Comment removal rolled back", "comment_id", commentID, "error", remoteErr)
		return domain.NewMutationError(string(domain.MutationRemoveComment), remoteErr)
	}
	return nil
}

// Close termine la souscription et la boucle. Idempotent.
func (v *DetailView) Close() error {
	v.closeOnce.Do(func() {
		if v.unsub != nil {
			v.closeErr = v.unsub()
		}
		v.cancel()
		<-v.box.done
	})
	return v.closeErr
}
