// Package finalize publishes the compressed media of a completed batch as a
// post and releases the batch's in-memory state.
package finalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/cwygoda/batchpress/internal/batch"
	"github.com/cwygoda/batchpress/internal/domain"
	"github.com/cwygoda/batchpress/internal/logging"
	"github.com/cwygoda/batchpress/internal/metrics"
)

// Finalizer turns a complete batch into a post.
type Finalizer struct {
	store   *batch.Store
	batches domain.BatchRepository
	posts   domain.PostRepository
	blobs   domain.BlobStore
	logger  logging.Logger
	now     func() time.Time
}

// New creates a finalizer.
func New(store *batch.Store, batches domain.BatchRepository, posts domain.PostRepository, blobs domain.BlobStore, logger logging.Logger) *Finalizer {
	return &Finalizer{
		store:   store,
		batches: batches,
		posts:   posts,
		blobs:   blobs,
		logger:  logger.With("component", "finalizer"),
		now:     time.Now,
	}
}

// Finalize publishes the batch if it is still valid. The batch state and
// the local compressed outputs are released whatever the result.
func (f *Finalizer) Finalize(ctx context.Context, batchID string) (err error) {
	snap, err := f.store.Snapshot(batchID)
	if err != nil {
		return err
	}
	defer f.release(ctx, snap)

	if !snap.Valid {
		metrics.FinalizationsTotal.WithLabelValues("discarded").Inc()
		f.logger.Info(ctx, "batch invalid, nothing to publish", "batch", batchID)
		return nil
	}

	defer func() {
		if err != nil {
			metrics.FinalizationsTotal.WithLabelValues("error").Inc()
		}
	}()

	post := &domain.Post{
		AuthorID:     snap.AuthorID,
		Title:        snap.Title,
		Media:        []string{},
		Descriptions: []string{},
	}
	seen := make(map[string]bool, len(snap.Files))
	for _, file := range snap.Files {
		if seen[file.Name] {
			continue
		}
		seen[file.Name] = true

		out, ok := snap.Outputs[file.Name]
		if !ok {
			return fmt.Errorf("batch %s: no compressed output for %s", batchID, file.Name)
		}
		url, err := f.publish(ctx, out)
		if err != nil {
			return fmt.Errorf("publish %s: %w", file.Name, err)
		}
		post.Media = append(post.Media, url)
		post.Descriptions = append(post.Descriptions, file.Description)
	}

	postID, err := f.posts.InsertPost(ctx, post)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	if err := f.batches.Complete(ctx, batchID, postID, domain.MessageBatchDone); err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}

	metrics.FinalizationsTotal.WithLabelValues("published").Inc()
	f.logger.Info(ctx, "post published", "batch", batchID, "post", postID, "media", len(post.Media))
	return nil
}

// Discard releases a batch without publishing anything.
func (f *Finalizer) Discard(ctx context.Context, batchID string) error {
	snap, err := f.store.Snapshot(batchID)
	if err != nil {
		return err
	}
	f.release(ctx, snap)
	return nil
}

// publish uploads one compressed file under a fresh key and returns its
// public URL.
func (f *Finalizer) publish(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	key := f.objectKey(filepath.Ext(path))
	if err := f.blobs.Upload(ctx, key, file, contentType(path)); err != nil {
		return "", err
	}
	return f.blobs.PublicURL(ctx, key)
}

func (f *Finalizer) objectKey(ext string) string {
	return fmt.Sprintf("posts/%s/%s%s", f.now().UTC().Format("2006/01/02"), uuid.NewString(), ext)
}

func contentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	base, _, _ := strings.Cut(mt.String(), ";")
	return base
}

func (f *Finalizer) release(ctx context.Context, snap batch.Snapshot) {
	if !f.store.Delete(snap.ID) {
		f.logger.Warn(ctx, "batch state already released", "batch", snap.ID)
	}
	metrics.BatchesInFlight.Set(float64(f.store.Len()))

	for name, out := range snap.Outputs {
		if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
			f.logger.Warn(ctx, "failed to remove compressed output", "batch", snap.ID, "file", name, "error", err)
		}
	}
}
