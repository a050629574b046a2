// Package merger remuxes extracted cache media into a single playable
// file with ffmpeg.
package merger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrFFmpegMissing means the configured ffmpeg binary was not found.
	ErrFFmpegMissing = errors.New("ffmpeg binary not found")
	// ErrEmptyOutput means ffmpeg exited zero but produced nothing.
	ErrEmptyOutput = errors.New("merge produced empty output")
)

// Merger runs ffmpeg remux jobs. Streams are copied, never re-encoded.
type Merger struct {
	FFmpegPath string
	Timeout    time.Duration
	log        *slog.Logger
}

// New returns a merger using the given ffmpeg binary. Empty path means
// "ffmpeg" from PATH.
func New(ffmpegPath string, log *slog.Logger) *Merger {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Merger{FFmpegPath: ffmpegPath, Timeout: 10 * time.Minute, log: log}
}

// MergeDASH muxes a video stream and an optional audio stream into
// outPath. Empty audio produces a silent remux.
func (m *Merger) MergeDASH(ctx context.Context, video, audio, outPath string) error {
	args := []string{"-i", video}
	if audio != "" {
		args = append(args, "-i", audio)
	}
	args = append(args, "-c", "copy", "-y", outPath)
	return m.run(ctx, args, outPath)
}

// MergeBLV concatenates ordered segments into outPath using the concat
// demuxer. The generated list file lives next to the output and is
// removed afterwards.
func (m *Merger) MergeBLV(ctx context.Context, segments []string, outPath string) error {
	if len(segments) == 0 {
		return errors.New("no segments to merge")
	}
	listPath := filepath.Join(filepath.Dir(outPath), ".concat.txt")
	if err := os.WriteFile(listPath, []byte(concatList(segments)), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{"-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-y", outPath}
	return m.run(ctx, args, outPath)
}

func (m *Merger) run(ctx context.Context, args []string, outPath string) error {
	if _, err := exec.LookPath(m.FFmpegPath); err != nil {
		return fmt.Errorf("%w: %s", ErrFFmpegMissing, m.FFmpegPath)
	}

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.FFmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	m.log.Debug("running ffmpeg", "args", args)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timed out after %s", m.Timeout)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, firstLine(stderr.String()))
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyOutput, outPath)
	}
	return nil
}

// concatList renders the ffmpeg concat demuxer file. Single quotes in
// paths are escaped the way the demuxer expects.
func concatList(segments []string) string {
	var b strings.Builder
	for _, s := range segments {
		escaped := strings.ReplaceAll(s, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}

func firstLine(s string) string {
	// ffmpeg stderr is noisy; keep only the tail, which carries the
	// actual error.
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
