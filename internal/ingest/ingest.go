// Package ingest accepts upload requests, persists their files to the temp
// directory and schedules one compression job per file.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwygoda/batchpress/internal/batch"
	"github.com/cwygoda/batchpress/internal/domain"
	"github.com/cwygoda/batchpress/internal/logging"
	"github.com/cwygoda/batchpress/internal/metrics"
	"github.com/cwygoda/batchpress/internal/queue"
)

// ErrCountMismatch is returned when files and descriptions differ in number.
var ErrCountMismatch = errors.New("number of files and descriptions differ")

// File is one uploaded file.
type File struct {
	Name    string
	Content io.Reader
}

// Request is an upload of a batch of files.
type Request struct {
	Title        string
	AuthorID     string
	Files        []File
	Descriptions []string
}

// Finalizer publishes a batch that has nothing left to process.
type Finalizer interface {
	Finalize(ctx context.Context, batchID string) error
}

// Service handles upload requests.
type Service struct {
	batches   domain.BatchRepository
	store     *batch.Store
	jobs      *queue.Queue[domain.FileJob]
	finalizer Finalizer
	tempDir   string
	logger    logging.Logger
}

// NewService creates an ingestion service writing temp copies to tempDir.
func NewService(batches domain.BatchRepository, store *batch.Store, jobs *queue.Queue[domain.FileJob], finalizer Finalizer, tempDir string, logger logging.Logger) *Service {
	return &Service{
		batches:   batches,
		store:     store,
		jobs:      jobs,
		finalizer: finalizer,
		tempDir:   tempDir,
		logger:    logger.With("component", "ingest"),
	}
}

// Handle registers the batch and enqueues its jobs. It returns the batch ID
// without waiting for any compression. A batch without files is published
// before Handle returns.
func (s *Service) Handle(ctx context.Context, req Request) (string, error) {
	if len(req.Files) != len(req.Descriptions) {
		return "", ErrCountMismatch
	}

	paths, err := s.saveFiles(req.Files)
	if err != nil {
		return "", err
	}
	enqueued := false
	defer func() {
		if !enqueued {
			removeAll(paths)
		}
	}()

	names := make([]string, len(req.Files))
	entries := make([]domain.FileEntry, len(req.Files))
	for i, f := range req.Files {
		names[i] = f.Name
		entries[i] = domain.FileEntry{Name: f.Name, Description: req.Descriptions[i]}
	}

	media := domain.NewMediaInfo(names)
	row, err := s.batches.Create(ctx, req.AuthorID, media)
	if err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}
	if err := s.store.Create(batch.NewState(row.ID, req.AuthorID, req.Title, entries)); err != nil {
		// No job will ever resolve this row.
		if ierr := s.batches.Invalidate(ctx, row.ID, media, domain.MessageBatchFailed); ierr != nil {
			s.logger.Error(ctx, "failed to invalidate orphaned batch", "batch", row.ID, "error", ierr)
		}
		return "", fmt.Errorf("register batch %s: %w", row.ID, err)
	}
	metrics.BatchesInFlight.Set(float64(s.store.Len()))

	s.logger.Info(ctx, "batch accepted", "batch", row.ID, "author", req.AuthorID, "files", len(entries))

	if len(entries) == 0 {
		enqueued = true
		if err := s.finalizer.Finalize(ctx, row.ID); err != nil {
			return row.ID, fmt.Errorf("finalize empty batch: %w", err)
		}
		return row.ID, nil
	}

	for i, e := range entries {
		s.jobs.Push(domain.FileJob{BatchID: row.ID, FileName: e.Name, TempPath: paths[i]})
	}
	enqueued = true
	metrics.QueueDepth.Set(float64(s.jobs.Len()))
	return row.ID, nil
}

// saveFiles copies every upload into the temp directory, keeping the
// original extension.
func (s *Service) saveFiles(files []File) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p, err := s.saveFile(f)
		if err != nil {
			removeAll(paths)
			return nil, fmt.Errorf("save %s: %w", f.Name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (s *Service) saveFile(f File) (string, error) {
	tmp, err := os.CreateTemp(s.tempDir, "upload-*"+safeExt(f.Name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, f.Content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// safeExt returns the extension of name if it can be part of a file name.
func safeExt(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if strings.ContainsAny(ext, `*/\`) {
		return ""
	}
	return ext
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}
