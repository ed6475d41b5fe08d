package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

// Server expose le moteur à la couche UI en JSON.
// Les vues détail ouvertes sont tenues ici, une par post.
type Server struct {
	engine    ports.FeedEngine
	validator ports.TokenValidator

	mu      sync.Mutex
	details map[string]ports.DetailView
}

func NewServer(engine ports.FeedEngine, validator ports.TokenValidator) *Server {
	return &Server{
		engine:    engine,
		validator: validator,
		details:   make(map[string]ports.DetailView),
	}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /session", s.signIn)
	mux.HandleFunc("DELETE /session", s.signOut)

	mux.HandleFunc("GET /feed", s.getFeed)
	mux.HandleFunc("POST /feed/next", s.nextPage)

	mux.HandleFunc("POST /posts", s.createPost)
	mux.HandleFunc("PUT /posts/{id}", s.updatePost)
	mux.HandleFunc("DELETE /posts/{id}", s.deletePost)
	mux.HandleFunc("POST /posts/{id}/like", s.toggleLike)

	mux.HandleFunc("POST /details/{postID}", s.openDetail)
	mux.HandleFunc("GET /details/{postID}", s.getDetail)
	mux.HandleFunc("DELETE /details/{postID}", s.closeDetail)
	mux.HandleFunc("POST /details/{postID}/comments", s.submitComment)
	mux.HandleFunc("DELETE /details/{postID}/comments/{commentID}", s.deleteComment)

	mux.HandleFunc("GET /notifications/unread", s.unread)
	mux.HandleFunc("POST /notifications/reset", s.resetUnread)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

// Close ferme toutes les vues détail ouvertes.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.details {
		if err := v.Close(); err != nil {
			slog.Warn("Detail close failed", "post_id", id, "error", err)
		}
		delete(s.details, id)
	}
}

// --- SESSION ---

type signInRequest struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"` // accepté seulement sans validateur (mode local)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decode(w, r, &req) {
		return
	}

	userID := req.UserID
	if s.validator != nil {
		id, err := s.validator.Validate(req.Token)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}
		userID = id
	}

	if err := s.engine.SignIn(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID})
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	s.Close()
	if err := s.engine.SignOut(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- FEED ---

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context(), r.URL.Query().Get("author"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) nextPage(w http.ResponseWriter, r *http.Request) {
	author := r.URL.Query().Get("author")
	if err := s.engine.RequestNextPage(r.Context(), author); err != nil {
		writeError(w, err)
		return
	}
	s.getFeed(w, r)
}

// --- POSTS ---

type postRequest struct {
	Body  string `json:"body"`
	Media string `json:"media"`
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.engine.CreatePost(r.Context(), req.Body, req.Media)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.engine.UpdatePost(r.Context(), r.PathValue("id"), req.Body, req.Media)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeletePost(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleLike(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.ToggleLike(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- DÉTAIL ---

func (s *Server) detail(postID string) (ports.DetailView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.details[postID]
	return v, ok
}

func (s *Server) openDetail(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("postID")
	v, err := s.engine.OpenDetail(r.Context(), postID)
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	if old, ok := s.details[postID]; ok {
		_ = old.Close()
	}
	s.details[postID] = v
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) getDetail(w http.ResponseWriter, r *http.Request) {
	v, ok := s.detail(r.PathValue("postID"))
	if !ok {
		http.Error(w, "detail not open", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) closeDetail(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("postID")
	s.mu.Lock()
	v, ok := s.details[postID]
	delete(s.details, postID)
	s.mu.Unlock()

	if ok {
		if err := v.Close(); err != nil {
			slog.Warn("Detail close failed", "post_id", postID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type commentRequest struct {
	Text string `json:"text"`
}

func (s *Server) submitComment(w http.ResponseWriter, r *http.Request) {
	v, ok := s.detail(r.PathValue("postID"))
	if !ok {
		http.Error(w, "detail not open", http.StatusNotFound)
		return
	}
	var req commentRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := v.SubmitComment(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	v, ok := s.detail(r.PathValue("postID"))
	if !ok {
		http.Error(w, "detail not open", http.StatusNotFound)
		return
	}
	if err := v.DeleteComment(r.Context(), r.PathValue("commentID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- NOTIFICATIONS ---

func (s *Server) unread(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"unread": s.engine.UnreadNotifications()})
}

func (s *Server) resetUnread(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetUnread()
	w.WriteHeader(http.StatusNoContent)
}

// --- HELPERS ---

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Response encoding failed", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor traduit les erreurs du domaine en codes HTTP
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotSignedIn):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPostNotFound), errors.Is(err, domain.ErrCommentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMutationInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyComment):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMutationRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransientRead), errors.Is(err, domain.ErrEngineStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	var merr *domain.MutationError
	if errors.As(err, &merr) {
		msg = merr.Message
	}
	if status == http.StatusInternalServerError {
		slog.Error("❌ Request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
