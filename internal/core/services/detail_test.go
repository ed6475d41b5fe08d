package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
)

func comment(id, author string, age int) domain.Comment {
	return domain.Comment{
		ID:        id,
		PostID:    "p1",
		AuthorID:  author,
		Author:    domain.Author{ID: author},
		Text:      "text " + id,
		CreatedAt: baseTime.Add(time.Duration(age) * time.Minute),
	}
}

func commentIDs(s domain.DetailSnapshot) []string {
	out := make([]string, len(s.Comments))
	for i, c := range s.Comments {
		out[i] = c.ID
	}
	return out
}

// openDetail ouvre le détail de p1 (auteur bob) en tant que user.
func openDetail(t *testing.T, h *harness, user string, comments ...domain.Comment) *DetailView {
	t.Helper()
	p := post("p1", "bob", 1)
	h.reader.detail = &p
	h.reader.comments = comments
	require.NoError(t, h.engine.SignIn(t.Context(), user))

	dv, err := h.engine.OpenDetail(t.Context(), "p1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dv.Close() })
	return dv.(*DetailView)
}

// sync attend que la boucle du détail ait traité ce qui la précède.
func syncDetail(t *testing.T, v *DetailView) {
	t.Helper()
	require.NoError(t, v.box.do(t.Context(), func() {}))
}

func TestDetail_LoadsPostAndPermissions(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "alice", comment("c2", "alice", 2), comment("c1", "carol", 1))

	snap := v.Snapshot()
	require.NotNil(t, snap.Post)
	assert.Equal(t, "p1", snap.Post.ID)
	assert.Equal(t, []string{"c2", "c1"}, commentIDs(snap))
	assert.True(t, snap.Comments[0].CanDelete)
	assert.False(t, snap.Comments[1].CanDelete)

	var commentSubs int
	for _, s := range h.source.open() {
		if s.Source == domain.SourceComments && s.PostID == "p1" {
			commentSubs++
		}
	}
	assert.Equal(t, 1, commentSubs)
}

func TestDetail_PostOwnerCanDeleteAll(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "bob", comment("c1", "carol", 1))

	assert.True(t, v.Snapshot().Comments[0].CanDelete)
}

func TestDetail_InsertEventsPrependAndDedupe(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "alice", comment("c1", "carol", 1))

	h.source.emit(commentEvent(domain.ChangeInsert, comment("c2", "bob", 5)))
	h.source.emit(commentEvent(domain.ChangeInsert, comment("c2", "bob", 5)))
	h.source.emit(commentEvent(domain.ChangeInsert, domain.Comment{ID: "other", PostID: "p9"}))
	syncDetail(t, v)

	snap := v.Snapshot()
	assert.Equal(t, []string{"c2", "c1"}, commentIDs(snap))
	assert.Equal(t, "Bob", snap.Comments[0].Author.Name)

	h.source.emit(commentEvent(domain.ChangeDelete, comment("c1", "carol", 1)))
	syncDetail(t, v)
	assert.Equal(t, []string{"c2"}, commentIDs(v.Snapshot()))
}

func TestDetail_EventsBeforeLoadAreKept(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	p := post("p1", "bob", 1)
	h.reader.detail = &p
	h.reader.comments = []domain.Comment{comment("c1", "carol", 1), comment("c0", "carol", 0)}
	// Pendant la lecture: un commentaire arrive, un autre est supprimé.
	h.reader.detailFn = func() {
		h.source.emit(commentEvent(domain.ChangeInsert, comment("c9", "alice", 9)))
		h.source.emit(commentEvent(domain.ChangeDelete, comment("c0", "carol", 0)))
	}
	require.NoError(t, h.engine.SignIn(t.Context(), "alice"))

	dv, err := h.engine.OpenDetail(t.Context(), "p1")
	require.NoError(t, err)
	defer dv.Close()

	assert.Equal(t, []string{"c9", "c1"}, commentIDs(dv.Snapshot()))
}

func TestDetail_SubmitNotifiesOtherOwner(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "alice")

	c, err := v.SubmitComment(t.Context(), "  nice  ")
	require.NoError(t, err)
	assert.Equal(t, "nice", c.Text)
	// Pas d'écho local
	assert.Empty(t, v.Snapshot().Comments)

	sent := h.mutations.sentNotifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].SenderID)
	assert.Equal(t, "bob", sent[0].ReceiverID)
	assert.Equal(t, "commented on your post", sent[0].Title)

	var data map[string]string
	require.NoError(t, json.Unmarshal([]byte(sent[0].Data), &data))
	assert.Equal(t, map[string]string{"postId": "p1", "commentId": "c-new"}, data)
}

func TestDetail_SubmitOnOwnPostDoesNotNotify(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "bob")

	_, err := v.SubmitComment(t.Context(), "mine")
	require.NoError(t, err)
	assert.Empty(t, h.mutations.sentNotifications())
}

func TestDetail_SubmitErrors(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "alice")

	_, err := v.SubmitComment(t.Context(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyComment)

	h.mutations.commentErr = errBoom
	_, err = v.SubmitComment(t.Context(), "hello")
	assert.ErrorIs(t, err, domain.ErrMutationRejected)
	assert.Empty(t, h.mutations.sentNotifications())
}

func TestDetail_DeleteComment(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "alice", comment("c2", "alice", 2), comment("c1", "carol", 1))

	assert.ErrorIs(t, v.DeleteComment(t.Context(), "c1"), domain.ErrForbidden)
	assert.ErrorIs(t, v.DeleteComment(t.Context(), "nope"), domain.ErrCommentNotFound)

	require.NoError(t, v.DeleteComment(t.Context(), "c2"))
	assert.Equal(t, []string{"c1"}, commentIDs(v.Snapshot()))
	assert.Equal(t, []string{"c2"}, h.mutations.removed)
}

func TestDetail_DeleteCommentPendingThenRestored(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "alice", comment("c1", "alice", 1))
	h.mutations.removeErr = errBoom
	h.mutations.gate = make(chan struct{})
	h.mutations.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- v.DeleteComment(context.Background(), "c1") }()
	<-h.mutations.started

	snap := v.Snapshot()
	require.Len(t, snap.Comments, 1)
	assert.True(t, snap.Comments[0].PendingRemoval)
	assert.ErrorIs(t, v.DeleteComment(t.Context(), "c1"), domain.ErrMutationInFlight)

	close(h.mutations.gate)
	assert.ErrorIs(t, <-done, domain.ErrMutationRejected)

	snap = v.Snapshot()
	require.Len(t, snap.Comments, 1)
	assert.False(t, snap.Comments[0].PendingRemoval)
}

func TestDetail_OpenErrors(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	require.NoError(t, h.engine.SignIn(t.Context(), "alice"))

	_, err := h.engine.OpenDetail(t.Context(), "missing")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)

	h.reader.setErr(errBoom)
	_, err = h.engine.OpenDetail(t.Context(), "missing")
	assert.ErrorIs(t, err, domain.ErrTransientRead)

	// Les souscriptions du détail échoué sont fermées
	for _, s := range h.source.open() {
		assert.Empty(t, s.PostID)
	}
}

func TestDetail_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t, EngineConfig{})
	v := openDetail(t, h, "alice")

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	_, err := v.SubmitComment(t.Context(), "late")
	assert.ErrorIs(t, err, domain.ErrEngineStopped)
}
