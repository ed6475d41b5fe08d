package domain

import (
	"time"

	"github.com/google/uuid"
)

type MutationState string

const (
	MutationPending    MutationState = "pending"
	MutationConfirmed  MutationState = "confirmed"
	MutationRolledBack MutationState = "rolled_back"
)

type MutationKind string

const (
	MutationLike          MutationKind = "like"
	MutationUnlike        MutationKind = "unlike"
	MutationRemoveComment MutationKind = "remove_comment"
)

// Mutation suit une modification locale: Pending -> Confirmed | RolledBack.
type Mutation struct {
	ID        string
	Kind      MutationKind
	TargetID  string // post ou commentaire visé
	State     MutationState
	StartedAt time.Time
}

func NewMutation(kind MutationKind, targetID string) *Mutation {
	return &Mutation{
		ID:        uuid.NewString(),
		Kind:      kind,
		TargetID:  targetID,
		State:     MutationPending,
		StartedAt: time.Now().UTC(),
	}
}

// Resolve termine la mutation selon le résultat distant. Sans effet si déjà résolue.
func (m *Mutation) Resolve(err error) {
	if m.State != MutationPending {
		return
	}
	if err != nil {
		m.State = MutationRolledBack
		return
	}
	m.State = MutationConfirmed
}
