package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cwygoda/batchpress/internal/domain"
)

// Create inserts a new valid batch row; the database assigns its ID.
func (r *Repository) Create(ctx context.Context, userID string, media domain.MediaInfo) (*domain.Batch, error) {
	encoded, err := media.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode media info: %w", err)
	}

	b := &domain.Batch{UserID: userID, MediaInfo: media.Clone(), Valid: true}
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO batches (user_id, media_info) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		userID, encoded,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return b, nil
}

// Get retrieves a batch by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Batch, error) {
	var (
		b       domain.Batch
		media   string
		message sql.NullString
		postID  sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, media_info, valid, message, post_id, created_at, updated_at
		 FROM batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.UserID, &media, &b.Valid, &message, &postID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	b.MediaInfo, err = domain.DecodeMediaInfo(media)
	if err != nil {
		return nil, fmt.Errorf("decode media info: %w", err)
	}
	b.Message = nullString(message)
	b.PostID = nullString(postID)
	return &b, nil
}

// UpdateMediaInfo replaces the stored media info of a batch.
func (r *Repository) UpdateMediaInfo(ctx context.Context, id string, media domain.MediaInfo) error {
	encoded, err := media.Encode()
	if err != nil {
		return fmt.Errorf("encode media info: %w", err)
	}
	return r.update(ctx, "update media info",
		`UPDATE batches SET media_info = $1, updated_at = now() WHERE id = $2`,
		encoded, id,
	)
}

// Invalidate stores the media info and marks the batch as failed.
func (r *Repository) Invalidate(ctx context.Context, id string, media domain.MediaInfo, message string) error {
	encoded, err := media.Encode()
	if err != nil {
		return fmt.Errorf("encode media info: %w", err)
	}
	return r.update(ctx, "invalidate batch",
		`UPDATE batches SET media_info = $1, valid = FALSE, message = $2, updated_at = now() WHERE id = $3`,
		encoded, message, id,
	)
}

// Complete links the published post to the batch.
func (r *Repository) Complete(ctx context.Context, id, postID, message string) error {
	return r.update(ctx, "complete batch",
		`UPDATE batches SET post_id = $1, message = $2, updated_at = now() WHERE id = $3`,
		postID, message, id,
	)
}

// RecoverInterrupted fails every batch a previous process left unfinished.
func (r *Repository) RecoverInterrupted(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE batches SET valid = FALSE, message = $1, updated_at = now()
		 WHERE valid AND post_id IS NULL AND message IS NULL`,
		domain.MessageInterrupted,
	)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted: %w", err)
	}
	return result.RowsAffected()
}

func (r *Repository) update(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return domain.ErrBatchNotFound
	}
	return nil
}
