// Package domaintest provides in-memory implementations of the domain ports
// for tests.
package domaintest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwygoda/batchpress/internal/domain"
)

// Repo implements domain.BatchRepository and domain.PostRepository.
type Repo struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
	posts   map[string]*domain.Post
	writes  map[string]int

	// Fail, when set, is returned by every mutating call.
	Fail error
}

// NewRepo creates an empty repository.
func NewRepo() *Repo {
	return &Repo{
		batches: make(map[string]*domain.Batch),
		posts:   make(map[string]*domain.Post),
		writes:  make(map[string]int),
	}
}

func (r *Repo) Create(_ context.Context, userID string, media domain.MediaInfo) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	now := time.Now()
	b := &domain.Batch{
		ID:        uuid.NewString(),
		UserID:    userID,
		MediaInfo: media.Clone(),
		Valid:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.batches[b.ID] = b
	return copyBatch(b), nil
}

func (r *Repo) Get(_ context.Context, id string) (*domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return copyBatch(b), nil
}

func (r *Repo) UpdateMediaInfo(_ context.Context, id string, media domain.MediaInfo) error {
	return r.mutate(id, func(b *domain.Batch) {
		b.MediaInfo = media.Clone()
	})
}

func (r *Repo) Invalidate(_ context.Context, id string, media domain.MediaInfo, message string) error {
	return r.mutate(id, func(b *domain.Batch) {
		b.MediaInfo = media.Clone()
		b.Valid = false
		b.Message = domain.StringPtr(message)
	})
}

func (r *Repo) Complete(_ context.Context, id, postID, message string) error {
	return r.mutate(id, func(b *domain.Batch) {
		b.PostID = domain.StringPtr(postID)
		b.Message = domain.StringPtr(message)
	})
}

func (r *Repo) RecoverInterrupted(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, b := range r.batches {
		if b.Valid && b.PostID == nil && b.Message == nil {
			b.Valid = false
			b.Message = domain.StringPtr(domain.MessageInterrupted)
			n++
		}
	}
	return n, nil
}

func (r *Repo) InsertPost(_ context.Context, post *domain.Post) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return "", r.Fail
	}
	post.ID = uuid.NewString()
	post.CreatedAt = time.Now()
	p := *post
	p.Media = append([]string{}, post.Media...)
	p.Descriptions = append([]string{}, post.Descriptions...)
	r.posts[p.ID] = &p
	return p.ID, nil
}

func (r *Repo) GetPost(_ context.Context, id string) (*domain.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	cp := *p
	return &cp, nil
}

// Posts returns the number of stored posts.
func (r *Repo) Posts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.posts)
}

// Writes returns how many successful mutations hit the batch row.
func (r *Repo) Writes(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes[id]
}

// SetFail sets the error returned by mutating calls.
func (r *Repo) SetFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail = err
}

func (r *Repo) mutate(id string, fn func(*domain.Batch)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	b, ok := r.batches[id]
	if !ok {
		return domain.ErrBatchNotFound
	}
	fn(b)
	b.UpdatedAt = time.Now()
	r.writes[id]++
	return nil
}

func copyBatch(b *domain.Batch) *domain.Batch {
	cp := *b
	cp.MediaInfo = b.MediaInfo.Clone()
	return &cp
}

// Blobs implements domain.BlobStore in memory.
type Blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// Fail, when set, is returned by Upload.
	Fail error
}

// NewBlobs creates an empty blob store.
func NewBlobs() *Blobs {
	return &Blobs{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (b *Blobs) Upload(_ context.Context, key string, r io.Reader, contentType string) error {
	if b.Fail != nil {
		return b.Fail
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = buf.Bytes()
	b.types[key] = contentType
	return nil
}

func (b *Blobs) PublicURL(_ context.Context, key string) (string, error) {
	return "https://cdn.test/" + key, nil
}

// Object returns the stored content and type of key.
func (b *Blobs) Object(key string) ([]byte, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("no object %q", key)
	}
	return data, b.types[key], nil
}

// Keys returns the stored keys.
func (b *Blobs) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	return keys
}
