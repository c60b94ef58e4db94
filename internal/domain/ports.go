package domain

import (
	"context"
	"io"
)

// BatchRepository is the driven port for batch rows.
type BatchRepository interface {
	Create(ctx context.Context, userID string, media MediaInfo) (*Batch, error)
	Get(ctx context.Context, id string) (*Batch, error)
	UpdateMediaInfo(ctx context.Context, id string, media MediaInfo) error
	Invalidate(ctx context.Context, id string, media MediaInfo, message string) error
	Complete(ctx context.Context, id, postID, message string) error
	RecoverInterrupted(ctx context.Context) (int64, error)
}

// PostRepository is the driven port for published posts.
type PostRepository interface {
	InsertPost(ctx context.Context, post *Post) (string, error)
	GetPost(ctx context.Context, id string) (*Post, error)
}

// BlobStore is the driven port for published media objects.
type BlobStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	PublicURL(ctx context.Context, key string) (string, error)
}

// ProgressFunc receives the total number of units of a file and the index of
// the last completed unit. A non-nil error aborts the compression.
type ProgressFunc func(total, completed int) error

// Compressor is the driven port for the compression engine.
type Compressor interface {
	Compress(ctx context.Context, path string, onProgress ProgressFunc) (string, error)
}
