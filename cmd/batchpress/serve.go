package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/batchpress/internal/adapter/blob"
	"github.com/cwygoda/batchpress/internal/adapter/compress"
	httpAdapter "github.com/cwygoda/batchpress/internal/adapter/http"
	"github.com/cwygoda/batchpress/internal/adapter/postgres"
	"github.com/cwygoda/batchpress/internal/adapter/sqlite"
	"github.com/cwygoda/batchpress/internal/batch"
	"github.com/cwygoda/batchpress/internal/config"
	"github.com/cwygoda/batchpress/internal/domain"
	"github.com/cwygoda/batchpress/internal/finalize"
	"github.com/cwygoda/batchpress/internal/ingest"
	"github.com/cwygoda/batchpress/internal/logging"
	"github.com/cwygoda/batchpress/internal/queue"
	"github.com/cwygoda/batchpress/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// repository is what both database adapters provide.
type repository interface {
	domain.BatchRepository
	domain.PostRepository
	Close() error
}

func openRepository(ctx context.Context, cfg *config.Config) (repository, error) {
	if cfg.Database.Driver == "postgres" {
		repo, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	repo, err := sqlite.New(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// openBlobStore returns the configured blob store and, for the filesystem
// backend, the handler serving its objects.
func openBlobStore(ctx context.Context, cfg *config.Config) (domain.BlobStore, http.Handler, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3cfg := cfg.Storage.S3
		store, err := blob.NewS3Store(ctx, blob.S3Options{
			Bucket:    s3cfg.Bucket,
			Region:    s3cfg.Region,
			Endpoint:  s3cfg.Endpoint,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			PublicURL: s3cfg.PublicURL,
			PathStyle: s3cfg.PathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		store, err := blob.NewFSStore(cfg.Storage.Dir, cfg.Storage.PublicURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Handler(), nil
	}
}

// workDirName is the directory below temp_dir that batchpress owns. Only it
// is wiped at startup; other content of temp_dir is left alone.
const workDirName = "batchpress"

// prepareWorkDir removes uploads and outputs left over by a previous run and
// returns the emptied work directory.
func prepareWorkDir(tempDir string) (string, error) {
	dir := filepath.Join(tempDir, workDirName)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("wipe work dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

func newLogger(cfg *config.Config) (logging.Logger, error) {
	logger, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "starting batchpress",
		"port", cfg.Server.Port,
		"workers", cfg.WorkerCount(),
		"database", cfg.Database.Driver,
		"storage", cfg.Storage.Backend,
		"temp_dir", cfg.TempDir,
	)

	workDir, err := prepareWorkDir(cfg.TempDir)
	if err != nil {
		return err
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repo.Close()

	queries := domain.NewQueryService(repo, repo)

	// Batches of a previous process lost their in-memory state.
	if recovered, err := queries.RecoverInterrupted(ctx); err != nil {
		logger.Warn(ctx, "failed to recover interrupted batches", "error", err)
	} else if recovered > 0 {
		logger.Info(ctx, "marked interrupted batches as failed", "count", recovered)
	}

	blobs, media, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	store := batch.NewStore()
	jobs := queue.New[domain.FileJob]()
	ff := compress.NewFFmpeg(cfg.FFmpeg.FFmpeg, cfg.FFmpeg.FFprobe)
	engine := compress.NewDefaultEngine(ff, filepath.Join(workDir, "compressed"), logger)
	logger.Info(ctx, "compression engine ready", "accepted", engine.Accepted())
	fin := finalize.New(store, repo, repo, blobs, logger)
	uploads := ingest.NewService(repo, store, jobs, fin, workDir, logger)
	pool := worker.New(jobs, store, engine, repo, fin, cfg.WorkerCount(), logger)

	srv := httpAdapter.NewServer(queries, uploads, httpAdapter.Options{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		Media:          media,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		logger.Info(gctx, "HTTP server listening", "addr", srv.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "stopped with error", "error", err)
		return err
	}
	logger.Info(ctx, "shutdown complete")
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repo.Close()

	logger.Info(ctx, "database schema is up to date", "driver", cfg.Database.Driver)
	return nil
}
