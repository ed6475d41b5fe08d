package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

const (
	DefaultInboxSize     = 256
	DefaultLookupTimeout = 3 * time.Second
)

var tracer = otel.Tracer("feedsync")

type EngineConfig struct {
	PageSize      int
	Paging        PagingMode
	InboxSize     int
	LookupTimeout time.Duration
}

// Deps regroupe les collaborateurs externes (ports secondaires).
type Deps struct {
	Reader    ports.PostReader
	Mutations ports.MutationService
	Source    ports.ChangeSource
	Users     ports.UserLookup
}

type feedView struct {
	authorID string
	store    *FeedStore
	pager    Pager
}

// accepts: un feed profil ne reçoit que les INSERT de son auteur.
func (v *feedView) accepts(p domain.Post) bool {
	return v.authorID == "" || v.authorID == p.AuthorID
}

// Engine est le moteur de synchronisation du feed.
// Tout l'état des feeds est possédé par une seule boucle (Run) qui consomme une file
// ordonnée ; fetchs, événements et confirmations y sont ré-injectés. C'est le seul écrivain.
type Engine struct {
	deps Deps
	cfg  EngineConfig

	box     *mailbox
	running atomic.Bool
	life    context.Context
	stop    context.CancelFunc

	// --- possédé par la boucle ---
	userID     string
	generation uint64
	views      map[string]*feedView
	likes      *likeTracker

	unread  UnreadCounter
	current atomic.Value // string, copie lisible hors boucle

	sessionMu sync.Mutex // sérialise SignIn / SignOut
	subs      []ports.Unsubscribe
}

var _ ports.FeedEngine = (*Engine)(nil)

func NewEngine(deps Deps, cfg EngineConfig) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Paging == "" {
		cfg.Paging = PagingLimit
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}

	life, stop := context.WithCancel(context.Background())
	e := &Engine{
		deps:  deps,
		cfg:   cfg,
		box:   newMailbox(cfg.InboxSize),
		life:  life,
		stop:  stop,
		views: make(map[string]*feedView),
		likes: newLikeTracker(),
	}
	e.current.Store("")
	return e
}

// Run exécute la boucle de réconciliation jusqu'à l'annulation de ctx.
// À la sortie, toutes les souscriptions sont fermées.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer func() {
		e.stop()
		e.box.close()
		e.sessionMu.Lock()
		e.unsubscribeAll()
		e.sessionMu.Unlock()
	}()

	e.box.run(ctx)
	return nil
}

// --- SESSION ---

func (e *Engine) CurrentUser() string {
	s, _ := e.current.Load().(string)
	return s
}

// SignIn ouvre la session: une souscription par source (posts, commentaires, notifications).
func (e *Engine) SignIn(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrNotSignedIn
	}

	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()

	if e.CurrentUser() == userID {
		return nil
	}
	if e.CurrentUser() != "" {
		if err := e.signOutLocked(ctx); err != nil {
			return err
		}
	}

	var gen uint64
	if err := e.box.do(ctx, func() {
		e.generation++
		gen = e.generation
		e.userID = userID
		e.resetState()
	}); err != nil {
		return err
	}
	e.current.Store(userID)

	subs := []domain.Subscription{
		{Source: domain.SourcePosts},
		{Source: domain.SourceComments},
		{Source: domain.SourceNotifications, ReceiverID: userID},
	}
	for _, sub := range subs {
		unsub, err := e.deps.Source.Subscribe(e.life, sub, e.ingest(gen))
		if err != nil {
			slog.Error("❌ Subscription failed", "source", sub.Source, "error", err)
			_ = e.signOutLocked(context.WithoutCancel(ctx))
			return fmt.Errorf("subscribe %s: %w", sub.Source, err)
		}
		e.subs = append(e.subs, unsub)
	}

	slog.Info("👤 Session opened", "user_id", userID)
	return nil
}

// SignOut ferme toutes les souscriptions et vide les feeds.
func (e *Engine) SignOut(ctx context.Context) error {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	return e.signOutLocked(ctx)
}

func (e *Engine) signOutLocked(ctx context.Context) error {
	e.unsubscribeAll()

	err := e.box.do(ctx, func() {
		e.generation++
		e.userID = ""
		e.resetState()
	})
	e.current.Store("")
	e.unread.Reset()
	if err == nil {
		slog.Info("👋 Session closed")
	}
	return err
}

func (e *Engine) unsubscribeAll() {
	for _, unsub := range e.subs {
		if err := unsub(); err != nil {
			slog.Warn("Unsubscribe failed", "error", err)
		}
	}
	e.subs = nil
}

// resetState: sur la boucle.
func (e *Engine) resetState() {
	clear(e.views)
	e.likes.reset()
}

// --- INGESTION DES ÉVÉNEMENTS ---

// ingest retourne le callback d'une souscription. La résolution de l'auteur se fait ici,
// hors boucle, dans la goroutine de livraison (l'ordre par source est conservé).
func (e *Engine) ingest(gen uint64) func(domain.ChangeEvent) {
	return func(ev domain.ChangeEvent) {
		if ev.Source == domain.SourcePosts && ev.Kind == domain.ChangeInsert && ev.Post != nil {
			p := ev.Post.Clone()
			p.Author = e.resolveAuthor(p.AuthorID)
			p.Likes = domain.LikeSet{}
			ev.Post = &p
		}

		e.box.enqueue(func() {
			if gen != e.generation {
				return // souscription d'une session déjà close
			}
			e.apply(ev)
		})
	}
}

func (e *Engine) resolveAuthor(authorID string) domain.Author {
	return lookupAuthor(e.life, e.deps.Users, authorID, e.cfg.LookupTimeout)
}

// apply applique un événement à toutes les vues. Sur la boucle.
func (e *Engine) apply(ev domain.ChangeEvent) {
	switch ev.Source {
	case domain.SourcePosts:
		if ev.Post == nil {
			return
		}
		for _, v := range e.views {
			switch ev.Kind {
			case domain.ChangeInsert:
				if v.accepts(*ev.Post) {
					v.store.Insert(*ev.Post)
				}
			case domain.ChangeUpdate:
				v.store.Update(*ev.Post)
			case domain.ChangeDelete:
				v.store.Delete(ev.Post.ID)
			}
		}

	case domain.SourceComments:
		if ev.Comment == nil {
			return
		}
		delta := 0
		switch ev.Kind {
		case domain.ChangeInsert:
			delta = 1
		case domain.ChangeDelete:
			delta = -1
		default:
			return
		}
		for _, v := range e.views {
			v.store.AdjustCommentCount(ev.Comment.PostID, delta)
		}

	case domain.SourceNotifications:
		if ev.Kind == domain.ChangeInsert && ev.Notification != nil && ev.Notification.ID != "" {
			e.unread.Increment()
		}
	}
}

// --- FEED ---

// view retourne (ou crée) la vue d'un filtre auteur. Sur la boucle.
func (e *Engine) view(authorID string) *feedView {
	v, ok := e.views[authorID]
	if !ok {
		v = &feedView{
			authorID: authorID,
			store:    NewFeedStore(),
			pager:    NewPager(e.cfg.Paging, e.cfg.PageSize, authorID),
		}
		e.views[authorID] = v
	}
	return v
}

func (e *Engine) snapshot(v *feedView) domain.FeedSnapshot {
	posts := v.store.Posts()
	entries := make([]domain.FeedEntry, len(posts))
	for i, p := range posts {
		entries[i] = domain.FeedEntry{
			Post:      p,
			LikedByMe: e.userID != "" && p.Likes.Has(e.userID),
			Pending:   e.likes.overlay(p.ID),
		}
	}
	return domain.FeedSnapshot{
		AuthorFilter: v.authorID,
		Entries:      entries,
		HasMore:      v.pager.HasMore(),
		Limit:        v.pager.Limit(),
	}
}

// Snapshot retourne une copie immuable du feed demandé.
func (e *Engine) Snapshot(ctx context.Context, authorID string) (domain.FeedSnapshot, error) {
	var snap domain.FeedSnapshot
	err := e.box.do(ctx, func() {
		snap = e.snapshot(e.view(authorID))
	})
	return snap, err
}

// RequestNextPage charge la page suivante de la vue. No-op une fois le feed épuisé.
// Des appels qui se chevauchent ne sont pas annulés: le dernier terminé l'emporte.
func (e *Engine) RequestNextPage(ctx context.Context, authorID string) error {
	ctx, span := tracer.Start(ctx, "feed.request_next_page",
		trace.WithAttributes(attribute.String("feed.author_filter", authorID)))
	defer span.End()

	var (
		req      pageRequest
		ok       bool
		gen      uint64
		signedIn bool
	)
	if err := e.box.do(ctx, func() {
		if e.userID == "" {
			return
		}
		signedIn = true
		gen = e.generation
		v := e.view(authorID)
		req, ok = v.pager.Next(v.store)
	}); err != nil {
		return err
	}
	if !signedIn {
		return domain.ErrNotSignedIn
	}
	if !ok {
		span.AddEvent("feed exhausted")
		return nil
	}

	span.SetAttributes(attribute.Int("feed.limit", req.query.Limit))
	posts, readErr := e.deps.Reader.ReadPosts(ctx, req.query)

	// L'application ne dépend plus de l'appelant: une lecture terminée est toujours intégrée.
	if err := e.box.do(context.WithoutCancel(ctx), func() {
		if gen != e.generation {
			return
		}
		v := e.view(authorID)
		if readErr != nil {
			v.pager.Abort(req)
			return
		}
		v.pager.Apply(v.store, req, posts)
	}); err != nil {
		return err
	}

	if readErr != nil {
		span.RecordError(readErr)
		span.SetStatus(codes.Error, "read failed")
		slog.Warn("Page fetch failed", "author_filter", authorID, "limit", req.query.Limit, "error", readErr)
		return fmt.Errorf("%w: %w", domain.ErrTransientRead, readErr)
	}

	slog.Debug("📥 Page fetched", "author_filter", authorID, "limit", req.query.Limit, "count", len(posts))
	return nil
}

// findPost cherche un post dans les vues ouvertes. Sur la boucle.
func (e *Engine) findPost(postID string) (domain.Post, bool) {
	if v, ok := e.views[""]; ok {
		if p, found := v.store.Get(postID); found {
			return p, true
		}
	}
	for _, v := range e.views {
		if p, found := v.store.Get(postID); found {
			return p, true
		}
	}
	return domain.Post{}, false
}

// ToggleLike bascule le like de l'utilisateur courant sur un post.
// L'overlay Pending est visible immédiatement ; succès = like-set mis à jour dans toutes
// les vues, échec = overlay retiré et *domain.MutationError retournée.
func (e *Engine) ToggleLike(ctx context.Context, postID string) (*domain.Mutation, error) {
	ctx, span := tracer.Start(ctx, "feed.toggle_like",
		trace.WithAttributes(attribute.String("post.id", postID)))
	defer span.End()

	var (
		m        *domain.Mutation
		liked    bool
		userID   string
		gen      uint64
		beginErr error
	)
	if err := e.box.do(ctx, func() {
		if e.userID == "" {
			beginErr = domain.ErrNotSignedIn
			return
		}
		p, found := e.findPost(postID)
		if !found {
			beginErr = domain.ErrPostNotFound
			return
		}
		userID, gen = e.userID, e.generation
		m, liked, beginErr = e.likes.begin(postID, p.Likes.Has(userID))
	}); err != nil {
		return nil, err
	}
	if beginErr != nil {
		return nil, beginErr
	}

	var remoteErr error
	if liked {
		remoteErr = e.deps.Mutations.CreateLike(ctx, postID, userID)
	} else {
		remoteErr = e.deps.Mutations.RemoveLike(ctx, postID, userID)
	}

	_ = e.box.do(context.WithoutCancel(ctx), func() {
		if !e.likes.finish(m, remoteErr) || gen != e.generation || remoteErr != nil {
			return
		}
		for _, v := range e.views {
			v.store.SetLiked(postID, userID, liked)
		}
	})
	m.Resolve(remoteErr)

	if remoteErr != nil {
		span.RecordError(remoteErr)
		span.SetStatus(codes.Error, "like rejected")
		slog.Warn("Like toggle rolled back", "post_id", postID, "kind", m.Kind, "error", remoteErr)
		return m, domain.NewMutationError(string(m.Kind), remoteErr)
	}
	return m, nil
}

// --- POSTS ---
// Pas d'écho local: le post apparaît (ou disparaît) via le flux d'événements.

func (e *Engine) CreatePost(ctx context.Context, body, media string) (*domain.Post, error) {
	userID := e.CurrentUser()
	if userID == "" {
		return nil, domain.ErrNotSignedIn
	}
	post, err := e.deps.Mutations.CreatePost(ctx, domain.NewPost{AuthorID: userID, Body: body, Media: media})
	if err != nil {
		return nil, domain.NewMutationError("create_post", err)
	}
	return post, nil
}

func (e *Engine) UpdatePost(ctx context.Context, postID, body, media string) (*domain.Post, error) {
	if e.CurrentUser() == "" {
		return nil, domain.ErrNotSignedIn
	}
	post, err := e.deps.Mutations.UpdatePost(ctx, domain.PostUpdate{ID: postID, Body: body, Media: media})
	if err != nil {
		return nil, domain.NewMutationError("update_post", err)
	}
	return post, nil
}

func (e *Engine) DeletePost(ctx context.Context, postID string) error {
	if e.CurrentUser() == "" {
		return domain.ErrNotSignedIn
	}
	if err := e.deps.Mutations.DeletePost(ctx, postID); err != nil {
		return domain.NewMutationError("delete_post", err)
	}
	return nil
}

// --- NOTIFICATIONS ---

func (e *Engine) UnreadNotifications() int { return e.unread.Value() }

// ResetUnread est appelé quand l'utilisateur ouvre la liste des notifications.
func (e *Engine) ResetUnread() { e.unread.Reset() }

// --- DÉTAIL ---

func (e *Engine) OpenDetail(ctx context.Context, postID string) (ports.DetailView, error) {
	userID := e.CurrentUser()
	if userID == "" {
		return nil, domain.ErrNotSignedIn
	}
	v, err := OpenDetailView(ctx, e.deps, userID, postID, e.cfg)
	if err != nil {
		return nil, err
	}
	return v, nil
}
