package compress

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cwygoda/batchpress/internal/domain"
)

// Codec compresses one kind of media.
type Codec interface {
	// Kind is the top-level media type handled, e.g. "image".
	Kind() string
	// Formats lists the accepted subtypes.
	Formats() []string
	// Suffix is the file extension of the produced artifact.
	Suffix() string
	Compress(ctx context.Context, in, out string, onProgress domain.ProgressFunc) error
}

// Registry holds the registered codecs.
type Registry struct {
	codecs []Codec
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a codec to the registry.
func (r *Registry) Register(c Codec) {
	r.codecs = append(r.codecs, c)
}

// Match returns the first codec accepting mimeType, or nil.
func (r *Registry) Match(mimeType string) Codec {
	kind, format, ok := strings.Cut(mimeType, "/")
	if !ok {
		return nil
	}
	for _, c := range r.codecs {
		if c.Kind() != kind {
			continue
		}
		for _, f := range c.Formats() {
			if f == format {
				return c
			}
		}
	}
	return nil
}

// Codecs returns all registered codecs.
func (r *Registry) Codecs() []Codec {
	return r.codecs
}

// ImageCodec re-encodes JPEG images as PNG.
type ImageCodec struct{}

func (ImageCodec) Kind() string      { return "image" }
func (ImageCodec) Formats() []string { return []string{"jpeg"} }
func (ImageCodec) Suffix() string    { return ".png" }

func (ImageCodec) Compress(_ context.Context, in, out string, onProgress domain.ProgressFunc) error {
	if err := compressImage(in, out); err != nil {
		return &domain.TranscodeError{File: filepath.Base(in), Err: err}
	}
	return onProgress(1, 1)
}

// VideoCodec transcodes MP4 and Matroska videos to HEVC in Matroska.
type VideoCodec struct {
	ff *FFmpeg
}

// NewVideoCodec creates a video codec backed by ff.
func NewVideoCodec(ff *FFmpeg) *VideoCodec {
	return &VideoCodec{ff: ff}
}

func (*VideoCodec) Kind() string      { return "video" }
func (*VideoCodec) Formats() []string { return []string{"mp4", "x-matroska"} }
func (*VideoCodec) Suffix() string    { return ".mkv" }

func (c *VideoCodec) Compress(ctx context.Context, in, out string, onProgress domain.ProgressFunc) error {
	total, err := c.ff.Probe(ctx, in)
	if err != nil {
		return err
	}
	return c.ff.Transcode(ctx, in, out, total, onProgress)
}
