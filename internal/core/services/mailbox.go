package services

import (
	"context"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

// mailbox est une file ordonnée de fonctions exécutées par une seule goroutine.
// Tout état possédé par la boucle n'est touché que depuis ces fonctions.
type mailbox struct {
	inbox chan func()
	done  chan struct{}
}

func newMailbox(size int) *mailbox {
	return &mailbox{
		inbox: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// run consomme la file jusqu'à l'annulation de ctx. Ne ferme pas done.
func (m *mailbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-m.inbox:
			fn()
		}
	}
}

// close signale l'arrêt définitif aux appelants en attente.
func (m *mailbox) close() { close(m.done) }

// do exécute fn sur la boucle et attend sa fin.
func (m *mailbox) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case m.inbox <- func() { fn(); close(finished) }:
	case <-m.done:
		return domain.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-m.done:
		return domain.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue pousse fn sans attendre son exécution.
// Bloque si la file est pleine: la back-pressure remonte jusqu'à la source d'événements.
func (m *mailbox) enqueue(fn func()) bool {
	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}
