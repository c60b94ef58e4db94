// Package worker runs the pool of goroutines that compress queued files.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/batchpress/internal/batch"
	"github.com/cwygoda/batchpress/internal/domain"
	"github.com/cwygoda/batchpress/internal/logging"
	"github.com/cwygoda/batchpress/internal/metrics"
	"github.com/cwygoda/batchpress/internal/queue"
)

// Finalizer publishes or discards a batch once all its jobs finished.
type Finalizer interface {
	Finalize(ctx context.Context, batchID string) error
	Discard(ctx context.Context, batchID string) error
}

// Pool pops file jobs from the queue and processes each one fully.
type Pool struct {
	jobs       *queue.Queue[domain.FileJob]
	store      *batch.Store
	compressor domain.Compressor
	repo       domain.BatchRepository
	finalizer  Finalizer
	size       int
	logger     logging.Logger
}

// New creates a pool of size workers.
func New(jobs *queue.Queue[domain.FileJob], store *batch.Store, compressor domain.Compressor, repo domain.BatchRepository, finalizer Finalizer, size int, logger logging.Logger) *Pool {
	return &Pool{
		jobs:       jobs,
		store:      store,
		compressor: compressor,
		repo:       repo,
		finalizer:  finalizer,
		size:       max(size, 1),
		logger:     logger.With("component", "worker"),
	}
}

// Run starts the workers and blocks until all of them stopped. Cancelling
// ctx stops workers once their current job is done; jobs still queued are
// not started. A fatal job error stops the whole pool and is returned.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info(ctx, "worker pool started", "workers", p.size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range p.size {
		g.Go(func() error {
			return p.loop(gctx, i)
		})
	}
	err := g.Wait()
	p.logger.Info(ctx, "worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, id int) error {
	log := p.logger.With("worker", id)
	for {
		job, err := p.jobs.Pop(ctx)
		if err != nil {
			// Only cancellation ends Pop, even with jobs left.
			return nil
		}
		metrics.QueueDepth.Set(float64(p.jobs.Len()))

		// In-flight jobs are never aborted by shutdown.
		if err := p.Process(context.WithoutCancel(ctx), job); err != nil {
			log.Error(ctx, "fatal job error", "batch", job.BatchID, "file", job.FileName, "error", err)
			return fmt.Errorf("worker %d: %w", id, err)
		}
	}
}

// Process compresses one file, records the result on its batch and
// finalizes the batch when this was its last job. File-level failures
// invalidate the batch and are not returned; every returned error is fatal.
func (p *Pool) Process(ctx context.Context, job domain.FileJob) error {
	start := time.Now()
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	log := p.logger.With("batch", job.BatchID, "file", job.FileName)
	log.Debug(ctx, "processing job")

	out, err := p.compressor.Compress(ctx, job.TempPath, p.progress(ctx, job))
	var fatal error
	switch {
	case err == nil:
		fatal = p.recordOutput(ctx, job, out)
		if fatal == nil {
			metrics.JobsTotal.WithLabelValues("compressed").Inc()
		}
	case isFileFailure(err):
		reason := fileFailureReason(err, job.FileName)
		log.Info(ctx, "file rejected", "reason", reason, "error", err)
		fatal = p.store.Update(job.BatchID, func(st *batch.State) error {
			st.Invalidate(job.FileName, reason)
			return p.repo.Invalidate(ctx, st.ID, st.MediaInfo(), domain.MessageBatchFailed)
		})
		if fatal == nil {
			metrics.JobsTotal.WithLabelValues("invalid").Inc()
		}
	default:
		fatal = fmt.Errorf("compress %s: %w", job.FileName, err)
	}
	if fatal != nil {
		metrics.JobsTotal.WithLabelValues("fatal").Inc()
	}
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	if err := os.Remove(job.TempPath); err != nil && !os.IsNotExist(err) {
		log.Warn(ctx, "failed to remove temp file", "path", job.TempPath, "error", err)
	}

	return errors.Join(fatal, p.finish(ctx, job.BatchID))
}

// progress persists the file's percentage whenever it changes.
func (p *Pool) progress(ctx context.Context, job domain.FileJob) domain.ProgressFunc {
	return func(total, completed int) error {
		pct := batch.Percent(total, completed)
		return p.store.Update(job.BatchID, func(st *batch.State) error {
			if !st.SetProgress(job.FileName, pct) {
				return nil
			}
			return p.repo.UpdateMediaInfo(ctx, st.ID, st.MediaInfo())
		})
	}
}

func (p *Pool) recordOutput(ctx context.Context, job domain.FileJob, out string) error {
	var replaced string
	err := p.store.Update(job.BatchID, func(st *batch.State) error {
		replaced = st.SetOutput(job.FileName, out)
		return p.repo.UpdateMediaInfo(ctx, st.ID, st.MediaInfo())
	})
	if replaced != "" {
		if rerr := os.Remove(replaced); rerr != nil && !os.IsNotExist(rerr) {
			p.logger.Warn(ctx, "failed to remove replaced output", "batch", job.BatchID, "file", job.FileName, "path", replaced, "error", rerr)
		}
	}
	return err
}

func (p *Pool) finish(ctx context.Context, batchID string) error {
	outcome, err := p.store.FinishJob(batchID)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	switch outcome {
	case batch.Complete:
		if err := p.finalizer.Finalize(ctx, batchID); err != nil {
			return fmt.Errorf("finalize batch %s: %w", batchID, err)
		}
	case batch.Unresolved:
		p.logger.Warn(ctx, "batch left unresolved, discarding state", "batch", batchID)
		if err := p.finalizer.Discard(ctx, batchID); err != nil {
			return fmt.Errorf("discard batch %s: %w", batchID, err)
		}
	}
	return nil
}

func isFileFailure(err error) bool {
	_, ok := domain.FileFailure(err)
	return ok
}

// fileFailureReason returns the message recorded on a rejected file,
// naming it by its upload name rather than its temp file.
func fileFailureReason(err error, name string) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return (&domain.ValidationError{File: name, MIMEType: verr.MIMEType}).Error()
	}
	reason, _ := domain.FileFailure(err)
	return reason
}
