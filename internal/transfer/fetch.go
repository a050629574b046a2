package transfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bilicache/bilicache/internal/rish"
)

// Fetcher materializes planned chunks into local part files. Each chunk
// is an idempotent block-aligned range request, so a failed read is
// retried verbatim with exponential backoff.
type Fetcher struct {
	ch          rish.Channel
	params      Params
	retries     int
	backoffBase time.Duration
	backoffMax  time.Duration
	timeout     time.Duration
	log         *slog.Logger

	// OnBytes, when set, is called with the decoded byte count of every
	// successfully fetched chunk. Used to drive the progress meter.
	OnBytes func(n int64)
}

// NewFetcher wires a fetcher over the channel. retries is the per-chunk
// ceiling of additional attempts after the first.
func NewFetcher(ch rish.Channel, params Params, retries int, backoffBase, backoffMax, timeout time.Duration, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		ch:          ch,
		params:      params,
		retries:     retries,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		timeout:     timeout,
		log:         log,
	}
}

// Fetch retrieves one chunk into partPath. The same dd parameters are
// reissued on every retry; exhausting the ceiling yields
// ErrChunkFetchExhausted.
func (f *Fetcher) Fetch(ctx context.Context, archivePath string, spec ChunkSpec, partPath string) error {
	if spec.TrimLength == 0 {
		// Zero-length chunk of an empty archive: nothing to ask the
		// channel for.
		return os.WriteFile(partPath, nil, 0o644)
	}

	command := cmdFetchRange(archivePath, f.params.BlockSize, spec.SkipBlocks, spec.CountBlocks)
	offset := spec.blockOffset(f.params.BlockSize)

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			delay := backoff(f.backoffBase, f.backoffMax, attempt-1)
			f.log.Warn("chunk fetch retry",
				slog.Int("chunk", spec.Index),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := f.ch.Exec(ctx, command, f.timeout)
		if err != nil {
			if rish.IsPermanent(err) {
				return err
			}
			lastErr = err
			continue
		}
		if res.ExitCode != 0 {
			lastErr = fmt.Errorf("chunk %d read failed (rc=%d): %s", spec.Index, res.ExitCode, firstLine(res.Stderr))
			continue
		}

		data, err := decodeChunk(res.Stdout)
		if err != nil {
			lastErr = fmt.Errorf("chunk %d decode failed: %w", spec.Index, err)
			continue
		}
		if int64(len(data)) < offset+spec.TrimLength {
			lastErr = fmt.Errorf("chunk %d short read: got %d bytes, need %d",
				spec.Index, len(data), offset+spec.TrimLength)
			continue
		}

		data = data[offset : offset+spec.TrimLength]
		if err := os.WriteFile(partPath, data, 0o644); err != nil {
			return fmt.Errorf("write part file: %w", err)
		}
		if f.OnBytes != nil {
			f.OnBytes(spec.TrimLength)
		}
		return nil
	}

	return fmt.Errorf("%w: chunk %d after %d attempts: %v",
		ErrChunkFetchExhausted, spec.Index, f.retries+1, lastErr)
}

// FetchAll retrieves every chunk in index order, writing part files
// named by chunk index under dir. Returns the ordered part paths.
func (f *Fetcher) FetchAll(ctx context.Context, archivePath string, specs []ChunkSpec, dir string) ([]string, error) {
	parts := make([]string, 0, len(specs))
	for _, spec := range specs {
		partPath := partFilePath(dir, spec.Index)
		if err := f.Fetch(ctx, archivePath, spec, partPath); err != nil {
			return parts, err
		}
		parts = append(parts, partPath)
	}
	return parts, nil
}

func partFilePath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%05d.part", index))
}

// decodeChunk strips the padding and whitespace noise the channel is
// known to inject (CR/LF from the pty, stray blanks) and base64-decodes
// the remainder.
func decodeChunk(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, encoded)
	return base64.StdEncoding.DecodeString(cleaned)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// backoff computes base*2^attempt clamped to max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
