package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwygoda/batchpress/internal/domain"
)

// InsertPost stores a published post; the database assigns ID and
// creation time.
func (r *Repository) InsertPost(ctx context.Context, post *domain.Post) (string, error) {
	media, err := encodeList(post.Media)
	if err != nil {
		return "", fmt.Errorf("encode media: %w", err)
	}
	descriptions, err := encodeList(post.Descriptions)
	if err != nil {
		return "", fmt.Errorf("encode descriptions: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO posts (author_id, title, media, description) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		post.AuthorID, post.Title, media, descriptions,
	).Scan(&post.ID, &post.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert post: %w", err)
	}
	return post.ID, nil
}

// GetPost retrieves a post by ID.
func (r *Repository) GetPost(ctx context.Context, id string) (*domain.Post, error) {
	var (
		p            domain.Post
		media        []byte
		descriptions []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, author_id, title, media, description, created_at
		 FROM posts WHERE id = $1`, id,
	).Scan(&p.ID, &p.AuthorID, &p.Title, &media, &descriptions, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}

	if err := json.Unmarshal(media, &p.Media); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	if err := json.Unmarshal(descriptions, &p.Descriptions); err != nil {
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
