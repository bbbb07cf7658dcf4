package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/diary-sync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS diary_entries (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	image_urls    TEXT[] NOT NULL DEFAULT '{}',
	author_id     TEXT NOT NULL DEFAULT '',
	author_name   TEXT NOT NULL DEFAULT '',
	author_avatar TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS diary_likes (
	entry_id TEXT NOT NULL REFERENCES diary_entries(id) ON DELETE CASCADE,
	user_id  TEXT NOT NULL,
	PRIMARY KEY (entry_id, user_id)
);
CREATE TABLE IF NOT EXISTS diary_comments (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	entry_id      TEXT NOT NULL REFERENCES diary_entries(id) ON DELETE CASCADE,
	parent_id     UUID REFERENCES diary_comments(id) ON DELETE CASCADE,
	author_id     TEXT NOT NULL,
	author_name   TEXT NOT NULL,
	author_avatar TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	seq           BIGSERIAL
);
CREATE INDEX IF NOT EXISTS diary_comments_entry_idx ON diary_comments (entry_id, seq);
CREATE TABLE IF NOT EXISTS notifications (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id       TEXT NOT NULL,
	type          TEXT NOT NULL,
	message       TEXT NOT NULL,
	move_to_where TEXT NOT NULL DEFAULT '',
	extra         JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	read_at       TIMESTAMPTZ,
	seq           BIGSERIAL
);
CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications (user_id, seq);
`

// PostgresStore persists diary data in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by Postgres.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutEntry(ctx context.Context, e domain.Entry) error {
	const q = `INSERT INTO diary_entries (id, title, content, image_urls, author_id, author_name, author_avatar)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)
	           ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content,
	             image_urls = EXCLUDED.image_urls, author_id = EXCLUDED.author_id,
	             author_name = EXCLUDED.author_name, author_avatar = EXCLUDED.author_avatar`
	urls := e.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	_, err := s.pool.Exec(ctx, q, e.ID.String(), e.Title, e.Content, urls,
		e.Author.ID.String(), e.Author.Name, e.Author.Avatar)
	return err
}

func (s *PostgresStore) GetEntry(ctx context.Context, entryID, viewerID string) (domain.Entry, error) {
	const q = `SELECT e.id, e.title, e.content, e.image_urls, e.author_id, e.author_name, e.author_avatar,
	             (SELECT count(*) FROM diary_likes l WHERE l.entry_id = e.id),
	             EXISTS(SELECT 1 FROM diary_likes l WHERE l.entry_id = e.id AND l.user_id = $2)
	           FROM diary_entries e WHERE e.id = $1`
	var (
		e            domain.Entry
		id, authorID string
		likeCount    int64
	)
	err := s.pool.QueryRow(ctx, q, entryID, viewerID).Scan(&id, &e.Title, &e.Content, &e.ImageURLs,
		&authorID, &e.Author.Name, &e.Author.Avatar, &likeCount, &e.Liked)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return domain.Entry{}, err
	}
	e.ID = domain.ID(id)
	e.Author.ID = domain.ID(authorID)
	e.LikeCount = int(likeCount)

	comments, err := s.scanComments(ctx,
		`SELECT id::text, entry_id, parent_id::text, author_id, author_name, author_avatar, text, created_at
		 FROM diary_comments WHERE entry_id = $1 ORDER BY seq ASC`, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	e.Comments = make([]*domain.Comment, len(comments))
	for i, c := range comments {
		e.Comments[i] = c.Wire()
	}
	return e, nil
}

func (s *PostgresStore) SetLike(ctx context.Context, entryID, userID string, liked bool) (domain.LikeState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.LikeState{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM diary_entries WHERE id = $1)`, entryID).Scan(&exists); err != nil {
		return domain.LikeState{}, err
	}
	if !exists {
		return domain.LikeState{}, ErrEntryNotFound
	}

	if liked {
		_, err = tx.Exec(ctx, `INSERT INTO diary_likes (entry_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, entryID, userID)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM diary_likes WHERE entry_id = $1 AND user_id = $2`, entryID, userID)
	}
	if err != nil {
		return domain.LikeState{}, err
	}

	var count int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM diary_likes WHERE entry_id = $1`, entryID).Scan(&count); err != nil {
		return domain.LikeState{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.LikeState{}, err
	}
	return domain.LikeState{Liked: liked, Count: int(count)}, nil
}

func (s *PostgresStore) AddComment(ctx context.Context, c Comment) (Comment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Comment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM diary_entries WHERE id = $1)`, c.EntryID).Scan(&exists); err != nil {
		return Comment{}, err
	}
	if !exists {
		return Comment{}, ErrEntryNotFound
	}

	if c.ParentID != nil {
		var grandparent *string
		err := tx.QueryRow(ctx,
			`SELECT parent_id::text FROM diary_comments WHERE id::text = $1 AND entry_id = $2`,
			*c.ParentID, c.EntryID).Scan(&grandparent)
		if errors.Is(err, pgx.ErrNoRows) {
			return Comment{}, ErrParentNotFound
		}
		if err != nil {
			return Comment{}, err
		}
		if grandparent != nil {
			return Comment{}, ErrReplyToReply
		}
	}

	const q = `INSERT INTO diary_comments (entry_id, parent_id, author_id, author_name, author_avatar, text)
	           VALUES ($1, $2::uuid, $3, $4, $5, $6)
	           RETURNING id::text, entry_id, parent_id::text, author_id, author_name, author_avatar, text, created_at`
	var out Comment
	var authorID string
	err = tx.QueryRow(ctx, q, c.EntryID, c.ParentID, c.Author.ID.String(), c.Author.Name, c.Author.Avatar, c.Text).
		Scan(&out.ID, &out.EntryID, &out.ParentID, &authorID, &out.Author.Name, &out.Author.Avatar, &out.Text, &out.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	out.Author.ID = domain.ID(authorID)
	if err := tx.Commit(ctx); err != nil {
		return Comment{}, err
	}
	return out, nil
}

func (s *PostgresStore) scanComments(ctx context.Context, q string, args ...any) ([]Comment, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		var authorID string
		if err := rows.Scan(&c.ID, &c.EntryID, &c.ParentID, &authorID,
			&c.Author.Name, &c.Author.Avatar, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Author.ID = domain.ID(authorID)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	var extra []byte
	if len(n.Extra) > 0 {
		b, err := json.Marshal(n.Extra)
		if err != nil {
			return Notification{}, err
		}
		extra = b
	}
	const q = `INSERT INTO notifications (user_id, type, message, move_to_where, extra)
	           VALUES ($1, $2, $3, $4, $5)
	           RETURNING id::text, created_at`
	var id string
	if err := s.pool.QueryRow(ctx, q, n.UserID, n.Type, n.Message, n.MoveToWhere, extra).Scan(&id, &n.CreatedAt); err != nil {
		return Notification{}, err
	}
	n.ID = domain.ID(id)
	n.ReadAt = nil
	return n, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID, afterID string) ([]Notification, error) {
	out := []Notification{}
	if afterID == "" {
		return out, nil
	}
	const q = `SELECT n.id::text, n.user_id, n.type, n.message, n.move_to_where, n.extra, n.created_at, n.read_at
	           FROM notifications n
	           WHERE n.user_id = $1
	             AND n.seq > (SELECT a.seq FROM notifications a WHERE a.id::text = $2 AND a.user_id = $1)
	           ORDER BY n.seq ASC`
	return s.queryNotifications(ctx, q, userID, afterID)
}

func (s *PostgresStore) RecentNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	const q = `SELECT n.id::text, n.user_id, n.type, n.message, n.move_to_where, n.extra, n.created_at, n.read_at
	           FROM notifications n
	           WHERE n.user_id = $1
	           ORDER BY n.seq DESC
	           LIMIT $2`
	return s.queryNotifications(ctx, q, userID, limit)
}

func (s *PostgresStore) queryNotifications(ctx context.Context, q string, args ...any) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var (
			n     Notification
			id    string
			extra []byte
		)
		if err := rows.Scan(&id, &n.UserID, &n.Type, &n.Message, &n.MoveToWhere, &extra, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		n.ID = domain.ID(id)
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &n.Extra); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID).Scan(&n)
	return int(n), err
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	const q = `UPDATE notifications SET read_at = COALESCE(read_at, now())
	           WHERE id::text = $1 AND user_id = $2`
	tag, err := s.pool.Exec(ctx, q, notificationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
