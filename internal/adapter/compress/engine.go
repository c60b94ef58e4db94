package compress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cwygoda/batchpress/internal/domain"
	"github.com/cwygoda/batchpress/internal/logging"
)

// Engine implements domain.Compressor by sniffing each file and handing it
// to the matching codec.
type Engine struct {
	registry  *Registry
	outputDir string
	logger    logging.Logger
}

// NewEngine creates an engine writing artifacts into outputDir.
func NewEngine(registry *Registry, outputDir string, logger logging.Logger) *Engine {
	return &Engine{
		registry:  registry,
		outputDir: outputDir,
		logger:    logger.With("component", "compress"),
	}
}

// NewDefaultEngine registers the image and video codecs.
func NewDefaultEngine(ff *FFmpeg, outputDir string, logger logging.Logger) *Engine {
	r := NewRegistry()
	r.Register(ImageCodec{})
	r.Register(NewVideoCodec(ff))
	return NewEngine(r, outputDir, logger)
}

// Accepted lists the MIME types the engine compresses, in registration order.
func (e *Engine) Accepted() []string {
	var types []string
	for _, c := range e.registry.Codecs() {
		for _, f := range c.Formats() {
			types = append(types, c.Kind()+"/"+f)
		}
	}
	return types
}

// Compress writes a compressed copy of the file at path and returns its
// location. Unsupported types yield *domain.ValidationError and codec
// failures *domain.TranscodeError; errors from onProgress pass through.
func (e *Engine) Compress(ctx context.Context, path string, onProgress domain.ProgressFunc) (string, error) {
	mimeType, err := Sniff(path)
	if err != nil {
		return "", err
	}

	codec := e.registry.Match(mimeType)
	if codec == nil {
		return "", &domain.ValidationError{File: filepath.Base(path), MIMEType: mimeType}
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	out := filepath.Join(e.outputDir, uuid.NewString()+codec.Suffix())

	e.logger.Debug(ctx, "compressing", "file", filepath.Base(path), "mime", mimeType, "codec", codec.Kind())
	if err := codec.Compress(ctx, path, out, onProgress); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}
