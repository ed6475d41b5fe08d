package services

import (
	"fmt"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

const DefaultPageSize = 10

type PagingMode string

const (
	// PagingLimit relit "les N premiers" avec N croissant (comportement historique).
	// Chaque appel retransfère tout ce qui a déjà été vu: O(n²) sur un scroll complet.
	PagingLimit PagingMode = "limit"
	// PagingCursor lit la page suivante par keyset sur created_at.
	PagingCursor PagingMode = "cursor"
)

func ParsePagingMode(s string) (PagingMode, error) {
	switch m := PagingMode(s); m {
	case PagingLimit, PagingCursor:
		return m, nil
	}
	return "", fmt.Errorf("unknown paging mode %q", s)
}

type pageRequest struct {
	query      domain.PostQuery
	heldBefore int
}

// Pager est le contrôleur de pagination d'une vue. Une instance par vue, jamais partagée.
// Appelé uniquement depuis la boucle du moteur.
type Pager interface {
	// Next prépare la lecture suivante ; false si le feed est épuisé (aucune lecture à faire).
	Next(store *FeedStore) (pageRequest, bool)
	// Apply intègre le résultat d'une lecture réussie.
	Apply(store *FeedStore, req pageRequest, posts []domain.Post)
	// Abort annule une lecture échouée: l'état reste celui d'avant l'appel.
	Abort(req pageRequest)
	HasMore() bool
	Limit() int
	Reset()
}

func NewPager(mode PagingMode, pageSize int, authorID string) Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if mode == PagingCursor {
		return &CursorPager{pageSize: pageSize, authorID: authorID}
	}
	return &LimitPager{pageSize: pageSize, authorID: authorID}
}

// LimitPager: limite croissante, heuristique d'épuisement par comparaison de tailles.
type LimitPager struct {
	pageSize  int
	authorID  string
	limit     int
	exhausted bool
}

func (p *LimitPager) Next(store *FeedStore) (pageRequest, bool) {
	if p.exhausted {
		return pageRequest{}, false
	}
	p.limit += p.pageSize
	return pageRequest{
		query:      domain.PostQuery{Limit: p.limit, AuthorID: p.authorID},
		heldBefore: store.Len(),
	}, true
}

// Apply: la lecture "N premiers" contient déjà tout ce qui était chargé, d'où le remplacement.
// Autant de résultats que de posts détenus avant la lecture = plus rien à charger.
func (p *LimitPager) Apply(store *FeedStore, req pageRequest, posts []domain.Post) {
	if len(posts) == req.heldBefore {
		p.exhausted = true
	}
	store.Replace(posts)
}

func (p *LimitPager) Abort(req pageRequest) {
	// Si une autre lecture a déjà poussé la limite plus loin, on ne touche à rien.
	if p.limit == req.query.Limit {
		p.limit -= p.pageSize
	}
}

func (p *LimitPager) HasMore() bool { return !p.exhausted }
func (p *LimitPager) Limit() int    { return p.limit }

func (p *LimitPager) Reset() {
	p.limit = 0
	p.exhausted = false
}

// CursorPager: pagination keyset sur la date du plus ancien post détenu.
type CursorPager struct {
	pageSize  int
	authorID  string
	requested int
	exhausted bool
}

func (p *CursorPager) Next(store *FeedStore) (pageRequest, bool) {
	if p.exhausted {
		return pageRequest{}, false
	}
	q := domain.PostQuery{Limit: p.pageSize, AuthorID: p.authorID}
	if oldest, ok := store.Oldest(); ok {
		q.Before = oldest.CreatedAt
	}
	p.requested += p.pageSize
	return pageRequest{query: q, heldBefore: store.Len()}, true
}

func (p *CursorPager) Apply(store *FeedStore, req pageRequest, posts []domain.Post) {
	if len(posts) < req.query.Limit {
		p.exhausted = true
	}
	store.Append(posts)
}

func (p *CursorPager) Abort(req pageRequest) {
	p.requested -= req.query.Limit
}

func (p *CursorPager) HasMore() bool { return !p.exhausted }
func (p *CursorPager) Limit() int    { return p.requested }

func (p *CursorPager) Reset() {
	p.requested = 0
	p.exhausted = false
}
