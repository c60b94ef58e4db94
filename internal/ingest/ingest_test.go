package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/batchpress/internal/batch"
	"github.com/cwygoda/batchpress/internal/domain"
	"github.com/cwygoda/batchpress/internal/domain/domaintest"
	"github.com/cwygoda/batchpress/internal/finalize"
	"github.com/cwygoda/batchpress/internal/logging"
	"github.com/cwygoda/batchpress/internal/queue"
)

type fixture struct {
	svc   *Service
	repo  *domaintest.Repo
	store *batch.Store
	jobs  *queue.Queue[domain.FileJob]
	tmp   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		repo:  domaintest.NewRepo(),
		store: batch.NewStore(),
		jobs:  queue.New[domain.FileJob](),
		tmp:   t.TempDir(),
	}
	fin := finalize.New(fx.store, fx.repo, fx.repo, domaintest.NewBlobs(), logging.Nop())
	fx.svc = NewService(fx.repo, fx.store, fx.jobs, fin, fx.tmp, logging.Nop())
	return fx
}

func (fx *fixture) drain(t *testing.T) []domain.FileJob {
	t.Helper()
	var jobs []domain.FileJob
	for fx.jobs.Len() > 0 {
		job, err := fx.jobs.Pop(context.Background())
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	return jobs
}

func (fx *fixture) tempFiles(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(fx.tmp)
	require.NoError(t, err)
	return entries
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("client went away")
}

func TestHandle_EnqueuesJobsInOrder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.svc.Handle(ctx, Request{
		Title:    "trip",
		AuthorID: "alice",
		Files: []File{
			{Name: "a.jpg", Content: strings.NewReader("jpeg-bytes")},
			{Name: "b.mp4", Content: strings.NewReader("mp4-bytes")},
		},
		Descriptions: []string{"first", "second"},
	})
	require.NoError(t, err)

	jobs := fx.drain(t)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a.jpg", jobs[0].FileName)
	assert.Equal(t, "b.mp4", jobs[1].FileName)
	for _, job := range jobs {
		assert.Equal(t, id, job.BatchID)
		assert.Equal(t, fx.tmp, filepath.Dir(job.TempPath))
		assert.Equal(t, filepath.Ext(job.FileName), filepath.Ext(job.TempPath))
	}
	data, err := os.ReadFile(jobs[1].TempPath)
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))

	row, err := fx.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", row.UserID)
	assert.True(t, row.Valid)
	assert.Equal(t, domain.NewMediaInfo([]string{"a.jpg", "b.mp4"}), row.MediaInfo)

	snap, err := fx.store.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "trip", snap.Title)
	assert.Equal(t, []domain.FileEntry{{Name: "a.jpg", Description: "first"}, {Name: "b.mp4", Description: "second"}}, snap.Files)
}

func TestHandle_CountMismatch(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Handle(context.Background(), Request{
		AuthorID:     "alice",
		Files:        []File{{Name: "a.jpg", Content: strings.NewReader("x")}},
		Descriptions: []string{"one", "two"},
	})
	require.ErrorIs(t, err, ErrCountMismatch)
	assert.Equal(t, 0, fx.jobs.Len())
	assert.Equal(t, 0, fx.store.Len())
	assert.Empty(t, fx.tempFiles(t))
}

func TestHandle_EmptyBatchIsPublishedImmediately(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	id, err := fx.svc.Handle(ctx, Request{Title: "nothing", AuthorID: "alice"})
	require.NoError(t, err)

	row, err := fx.repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, row.PostID)
	assert.Equal(t, domain.MessageBatchDone, *row.Message)

	post, err := fx.repo.GetPost(ctx, *row.PostID)
	require.NoError(t, err)
	assert.Empty(t, post.Media)
	assert.Equal(t, 0, fx.store.Len())
	assert.Equal(t, 0, fx.jobs.Len())
}

func TestHandle_RepositoryFailureCleansUp(t *testing.T) {
	fx := newFixture(t)
	dbDown := errors.New("db down")
	fx.repo.SetFail(dbDown)

	_, err := fx.svc.Handle(context.Background(), Request{
		AuthorID:     "alice",
		Files:        []File{{Name: "a.jpg", Content: strings.NewReader("x")}},
		Descriptions: []string{"one"},
	})
	require.ErrorIs(t, err, dbDown)
	assert.Equal(t, 0, fx.jobs.Len())
	assert.Empty(t, fx.tempFiles(t))
}

// collidingRepo registers a state under every new batch ID before the
// service gets to it.
type collidingRepo struct {
	*domaintest.Repo
	store  *batch.Store
	lastID string
}

func (r *collidingRepo) Create(ctx context.Context, userID string, media domain.MediaInfo) (*domain.Batch, error) {
	row, err := r.Repo.Create(ctx, userID, media)
	if err != nil {
		return nil, err
	}
	r.lastID = row.ID
	if err := r.store.Create(batch.NewState(row.ID, userID, "other", nil)); err != nil {
		return nil, err
	}
	return row, nil
}

func TestHandle_StateFailureInvalidatesRow(t *testing.T) {
	fx := newFixture(t)
	repo := &collidingRepo{Repo: fx.repo, store: fx.store}
	fin := finalize.New(fx.store, repo, repo, domaintest.NewBlobs(), logging.Nop())
	svc := NewService(repo, fx.store, fx.jobs, fin, fx.tmp, logging.Nop())

	_, err := svc.Handle(context.Background(), Request{
		Title:        "trip",
		AuthorID:     "alice",
		Files:        []File{{Name: "a.jpg", Content: strings.NewReader("jpeg")}},
		Descriptions: []string{"first"},
	})
	require.ErrorIs(t, err, domain.ErrBatchExists)

	assert.Equal(t, 0, fx.jobs.Len())
	assert.Empty(t, fx.tempFiles(t))

	row, err := fx.repo.Get(context.Background(), repo.lastID)
	require.NoError(t, err)
	assert.False(t, row.Valid)
	require.NotNil(t, row.Message)
	assert.Equal(t, domain.MessageBatchFailed, *row.Message)
}

func TestHandle_ReadFailureCleansUp(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Handle(context.Background(), Request{
		AuthorID: "alice",
		Files: []File{
			{Name: "a.jpg", Content: strings.NewReader("ok")},
			{Name: "b.jpg", Content: io.MultiReader(strings.NewReader("part"), failingReader{})},
		},
		Descriptions: []string{"one", "two"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save b.jpg")
	assert.Equal(t, 0, fx.store.Len())
	assert.Empty(t, fx.tempFiles(t))
}

func TestSafeExt(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"photo.jpg", ".jpg"},
		{"clip.tar.mkv", ".mkv"},
		{"noext", ""},
		{"../../etc/passwd.jpg", ".jpg"},
		{"weird.j*g", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, safeExt(tt.name))
		})
	}
}
