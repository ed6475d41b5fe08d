package domain

import (
	"errors"
	"fmt"
)

// --- ERREURS DU DOMAINE ---
var (
	ErrTransientRead    = errors.New("transient read failure")
	ErrMutationRejected = errors.New("mutation rejected")
	ErrLookupFailed     = errors.New("user lookup failed")
	ErrPostNotFound     = errors.New("post not found")
	ErrCommentNotFound  = errors.New("comment not found")
	ErrNotSignedIn      = errors.New("no signed-in user")
	ErrMutationInFlight = errors.New("a mutation is already pending for this post")
	ErrEngineStopped    = errors.New("engine stopped")
	ErrForbidden        = errors.New("forbidden")
	ErrEmptyComment     = errors.New("comment text is empty")
)

// MutationError porte le message affichable d'un rejet serveur.
type MutationError struct {
	Op      string // "like", "unlike", "create_comment", ...
	Message string
	Err     error
}

func NewMutationError(op string, err error) *MutationError {
	msg := "Something went wrong!"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &MutationError{Op: op, Message: msg, Err: err}
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *MutationError) Unwrap() error { return e.Err }

func (e *MutationError) Is(target error) bool {
	return target == ErrMutationRejected
}
