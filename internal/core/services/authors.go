package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

// lookupAuthor résout l'auteur d'un enregistrement arrivé par événement.
// En cas d'échec l'enregistrement garde un auteur vide (ID seul) et reste affiché.
func lookupAuthor(ctx context.Context, users ports.UserLookup, authorID string, timeout time.Duration) domain.Author {
	placeholder := domain.Author{ID: authorID}
	if users == nil || authorID == "" {
		return placeholder
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	author, err := users.GetUser(ctx, authorID)
	if err != nil || author == nil {
		slog.Warn("Author lookup failed, using placeholder",
			"author_id", authorID, "error", errors.Join(domain.ErrLookupFailed, err))
		return placeholder
	}
	return *author
}
