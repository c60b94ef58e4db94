package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cwygoda/batchpress/internal/domain"
)

// waitDelay bounds how long Wait blocks on output pipes after ffmpeg is killed.
const waitDelay = 5 * time.Second

// FFmpeg drives the ffprobe and ffmpeg binaries.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
}

// NewFFmpeg creates a driver for the given binaries (names or paths).
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

type probeOutput struct {
	Streams []struct {
		NbFrames string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe returns the number of frames of the first video stream, or 1 when
// the container does not say.
func (f *FFmpeg) Probe(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-print_format", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return 0, &domain.TranscodeError{
			File: filepath.Base(path),
			Err:  fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}
	return parseFrameCount(out)
}

func parseFrameCount(data []byte) (int, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return 0, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	if len(po.Streams) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(po.Streams[0].NbFrames)
	if err != nil || n < 1 {
		return 1, nil
	}
	return n, nil
}

func (f *FFmpeg) transcodeArgs(in, out string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:1",
		"-y",
		"-i", in,
		"-c:v", "libx265",
		"-crf", "28",
		"-f", "matroska",
		out,
	}
}

// Transcode compresses in into out, reporting the frame counter of every
// progress block against total. An error returned by onProgress stops ffmpeg
// and is returned unchanged. Any other failure is a *domain.TranscodeError.
func (f *FFmpeg) Transcode(ctx context.Context, in, out string, total int, onProgress domain.ProgressFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fail := func(err error) error {
		return &domain.TranscodeError{File: filepath.Base(in), Err: err}
	}

	cmd := exec.CommandContext(runCtx, f.ffmpeg, f.transcodeArgs(in, out)...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("stdout pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("start ffmpeg: %w", err))
	}

	var cbErr error
	readErr := ReadProgress(stdout, func(r Report) error {
		frame, err := strconv.Atoi(r["frame"])
		if err != nil {
			return nil
		}
		if err := onProgress(total, frame); err != nil {
			cbErr = err
			return err
		}
		return nil
	})
	if cbErr != nil {
		cancel()
		_ = cmd.Wait()
		return cbErr
	}

	if err := cmd.Wait(); err != nil {
		return fail(fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String())))
	}
	if readErr != nil {
		return fail(fmt.Errorf("read progress: %w", readErr))
	}
	return nil
}
