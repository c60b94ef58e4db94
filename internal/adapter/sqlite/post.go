package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cwygoda/batchpress/internal/domain"
)

// InsertPost stores a published post, assigning its ID and creation time.
func (r *Repository) InsertPost(ctx context.Context, post *domain.Post) (string, error) {
	media, err := encodeList(post.Media)
	if err != nil {
		return "", fmt.Errorf("encode media: %w", err)
	}
	descriptions, err := encodeList(post.Descriptions)
	if err != nil {
		return "", fmt.Errorf("encode descriptions: %w", err)
	}

	post.ID = uuid.NewString()
	post.CreatedAt = time.Now().UTC()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, title, media, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		post.ID, post.AuthorID, post.Title, media, descriptions, post.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert post: %w", err)
	}
	return post.ID, nil
}

// GetPost retrieves a post by ID.
func (r *Repository) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	var (
		p            domain.Post
		media        string
		descriptions string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, author_id, title, media, description, created_at
		 FROM posts WHERE id = ?`, id,
	).Scan(&p.ID, &p.AuthorID, &p.Title, &media, &descriptions, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(media), &p.Media); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	if err := json.Unmarshal([]byte(descriptions), &p.Descriptions); err != nil {
		return nil, fmt.Errorf("decode descriptions: %w", err)
	}
	return &p, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
