package domain

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidID = errors.New("invalid id")

// QueryService serves the read side of uploads: batch status polling and
// published posts.
type QueryService struct {
	batches BatchRepository
	posts   PostRepository
}

// NewQueryService creates a new QueryService.
func NewQueryService(batches BatchRepository, posts PostRepository) *QueryService {
	return &QueryService{batches: batches, posts: posts}
}

// Batch retrieves a batch row by ID.
func (s *QueryService) Batch(ctx context.Context, id string) (*Batch, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	return s.batches.Get(ctx, id)
}

// Post retrieves a published post by ID.
func (s *QueryService) Post(ctx context.Context, id string) (*Post, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	return s.posts.GetPost(ctx, id)
}

// RecoverInterrupted fails batches left unfinished by a previous process
// (crash recovery). Their in-memory state is gone so they can never finish.
func (s *QueryService) RecoverInterrupted(ctx context.Context) (int64, error) {
	return s.batches.RecoverInterrupted(ctx)
}
