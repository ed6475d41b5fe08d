package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/cenackle/feedsync/internal/adapters/secondary/eventbroker"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/feedsync/internal/core/ports"
)

// PostgresRepo est le backend de lecture et d'écriture: lectures bulk du feed,
// écritures (likes, commentaires, posts, notifications) et profils auteurs.
type PostgresRepo struct {
	db *pgxpool.Pool
}

var (
	_ ports.PostReader   = (*PostgresRepo)(nil)
	_ ports.UserLookup   = (*PostgresRepo)(nil)
	_ eventbroker.Writer = (*PostgresRepo)(nil)
)

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: pool}
}

// Projection commune: post + auteur + like-set + nombre de commentaires.
const selectPost = `
	SELECT p.id, p.user_id, COALESCE(u.name, ''), COALESCE(u.image, ''), p.body, p.file, p.created_at,
		COALESCE((SELECT array_agg(l.user_id ORDER BY l.created_at) FROM post_likes l WHERE l.post_id = p.id), '{}') AS likes,
		(SELECT count(*) FROM comments c WHERE c.post_id = p.id) AS comment_count
	FROM posts p
	LEFT JOIN users u ON u.id = p.user_id
`

// ReadPosts : "les N premiers" si Before est zéro, sinon PAGINATION KEYSET sur created_at.
func (r *PostgresRepo) ReadPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	query := selectPost + `
		WHERE (@author_id::text = '' OR p.user_id = @author_id)
		  AND (@before::timestamptz IS NULL OR p.created_at < @before)
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT @limit
	`
	args := pgx.NamedArgs{
		"author_id": q.AuthorID,
		"before":    nullableTime(q.Before),
		"limit":     q.Limit,
	}

	rows, err := r.db.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("db: read posts: %w", err)
	}
	defer rows.Close()

	posts := []domain.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: read posts: %w", err)
	}
	return posts, nil
}

func (r *PostgresRepo) ReadPostDetail(ctx context.Context, postID string) (*domain.Post, []domain.Comment, error) {
	p, err := scanPost(r.db.QueryRow(ctx, selectPost+` WHERE p.id = $1`, postID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrPostNotFound
		}
		return nil, nil, fmt.Errorf("db: read post detail: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.post_id, c.user_id, COALESCE(u.name, ''), COALESCE(u.image, ''), c.text, c.created_at
		FROM comments c
		LEFT JOIN users u ON u.id = c.user_id
		WHERE c.post_id = $1
		ORDER BY c.created_at DESC, c.id DESC
	`, postID)
	if err != nil {
		return nil, nil, fmt.Errorf("db: read comments: %w", err)
	}
	defer rows.Close()

	comments := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Author.Name, &c.Author.Image, &c.Text, &c.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("db: scan comment: %w", err)
		}
		c.Author.ID = c.AuthorID
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("db: read comments: %w", err)
	}
	return &p, comments, nil
}

// --- WRITES ---

func (r *PostgresRepo) CreateLike(ctx context.Context, postID, userID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO post_likes (post_id, user_id) VALUES (@post_id, @user_id)
		ON CONFLICT DO NOTHING
	`, pgx.NamedArgs{"post_id": postID, "user_id": userID})
	if err != nil {
		return r.handleError(err)
	}
	return nil
}

func (r *PostgresRepo) RemoveLike(ctx context.Context, postID, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		return r.handleError(err)
	}
	return nil
}

func (r *PostgresRepo) CreateComment(ctx context.Context, nc domain.NewComment) (*domain.Comment, error) {
	c := domain.Comment{
		ID:       uuid.NewString(),
		PostID:   nc.PostID,
		AuthorID: nc.AuthorID,
		Author:   domain.Author{ID: nc.AuthorID},
		Text:     nc.Text,
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO comments (id, post_id, user_id, text)
		VALUES (@id, @post_id, @user_id, @text)
		RETURNING created_at
	`, pgx.NamedArgs{
		"id":      c.ID,
		"post_id": c.PostID,
		"user_id": c.AuthorID,
		"text":    c.Text,
	}).Scan(&c.CreatedAt)
	if err != nil {
		return nil, r.handleError(err)
	}
	return &c, nil
}

// DeleteComment retourne le commentaire supprimé (son post_id sert au sujet de l'événement).
func (r *PostgresRepo) DeleteComment(ctx context.Context, commentID string) (*domain.Comment, error) {
	var c domain.Comment
	err := r.db.QueryRow(ctx, `
		DELETE FROM comments WHERE id = $1
		RETURNING id, post_id, user_id, text, created_at
	`, commentID).Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Text, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCommentNotFound
		}
		return nil, r.handleError(err)
	}
	c.Author.ID = c.AuthorID
	return &c, nil
}

func (r *PostgresRepo) CreatePost(ctx context.Context, np domain.NewPost) (*domain.Post, error) {
	p := domain.Post{
		ID:       uuid.NewString(),
		AuthorID: np.AuthorID,
		Author:   domain.Author{ID: np.AuthorID},
		Body:     np.Body,
		Media:    np.Media,
		Likes:    domain.LikeSet{},
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO posts (id, user_id, body, file)
		VALUES (@id, @user_id, @body, @file)
		RETURNING created_at
	`, pgx.NamedArgs{
		"id":      p.ID,
		"user_id": p.AuthorID,
		"body":    p.Body,
		"file":    p.Media,
	}).Scan(&p.CreatedAt)
	if err != nil {
		return nil, r.handleError(err)
	}
	return &p, nil
}

func (r *PostgresRepo) UpdatePost(ctx context.Context, pu domain.PostUpdate) (*domain.Post, error) {
	p := domain.Post{Likes: domain.LikeSet{}}
	err := r.db.QueryRow(ctx, `
		UPDATE posts SET body = @body, file = @file
		WHERE id = @id
		RETURNING id, user_id, body, file, created_at
	`, pgx.NamedArgs{
		"id":   pu.ID,
		"body": pu.Body,
		"file": pu.Media,
	}).Scan(&p.ID, &p.AuthorID, &p.Body, &p.Media, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPostNotFound
		}
		return nil, r.handleError(err)
	}
	p.Author.ID = p.AuthorID
	return &p, nil
}

func (r *PostgresRepo) DeletePost(ctx context.Context, postID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	if err != nil {
		return r.handleError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

func (r *PostgresRepo) InsertNotification(ctx context.Context, nn domain.NewNotification) (*domain.Notification, error) {
	n := domain.Notification{
		ID:         uuid.NewString(),
		SenderID:   nn.SenderID,
		ReceiverID: nn.ReceiverID,
		Title:      nn.Title,
		Data:       nn.Data,
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO notifications (id, sender_id, receiver_id, title, data)
		VALUES (@id, @sender_id, @receiver_id, @title, @data)
		RETURNING created_at
	`, pgx.NamedArgs{
		"id":          n.ID,
		"sender_id":   n.SenderID,
		"receiver_id": n.ReceiverID,
		"title":       n.Title,
		"data":        n.Data,
	}).Scan(&n.CreatedAt)
	if err != nil {
		return nil, r.handleError(err)
	}
	return &n, nil
}

// --- USERS ---

func (r *PostgresRepo) GetUser(ctx context.Context, userID string) (*domain.Author, error) {
	var a domain.Author
	err := r.db.QueryRow(ctx, `SELECT id, name, image FROM users WHERE id = $1`, userID).
		Scan(&a.ID, &a.Name, &a.Image)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, domain.ErrLookupFailed)
		}
		return nil, fmt.Errorf("db: get user: %w", err)
	}
	return &a, nil
}

// UpsertUser enregistre les champs d'affichage d'un utilisateur connu de l'identité.
func (r *PostgresRepo) UpsertUser(ctx context.Context, a domain.Author) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, name, image) VALUES (@id, @name, @image)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, image = EXCLUDED.image
	`, pgx.NamedArgs{"id": a.ID, "name": a.Name, "image": a.Image})
	if err != nil {
		return r.handleError(err)
	}
	return nil
}

// --- HELPERS ---

func scanPost(row pgx.Row) (domain.Post, error) {
	var (
		p     domain.Post
		likes []string
	)
	err := row.Scan(&p.ID, &p.AuthorID, &p.Author.Name, &p.Author.Image, &p.Body, &p.Media, &p.CreatedAt, &likes, &p.CommentCount)
	if err != nil {
		return domain.Post{}, err
	}
	p.Author.ID = p.AuthorID
	p.Likes = domain.LikeSet(likes).Clone()
	return p, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// handleError traduit les codes d'erreur PostgreSQL en erreurs du Domaine
func (r *PostgresRepo) handleError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Code 23503 = Foreign Key Violation (post supprimé entre-temps)
		if pgErr.Code == "23503" {
			return domain.ErrPostNotFound
		}
	}
	return fmt.Errorf("db: %w", err)
}
