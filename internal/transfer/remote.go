package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bilicache/bilicache/internal/rish"
)

// sizeQueryAttempts bounds the stat retries after packing: size queries
// on a freshly created remote file transiently fail on some devices.
const sizeQueryAttempts = 4

// Preparer packs a remote source directory into a single remote archive
// and reports its size.
type Preparer struct {
	ch           rish.Channel
	probeTimeout time.Duration
	packTimeout  time.Duration
	sizeDelay    time.Duration
	log          *slog.Logger
}

// NewPreparer wires a preparer over the channel.
func NewPreparer(ch rish.Channel, probeTimeout, packTimeout time.Duration, log *slog.Logger) *Preparer {
	if log == nil {
		log = slog.Default()
	}
	return &Preparer{
		ch:           ch,
		probeTimeout: probeTimeout,
		packTimeout:  packTimeout,
		sizeDelay:    2 * time.Second,
		log:          log,
	}
}

// Pack verifies sourceDir exists, removes any stale archive at
// archivePath, packs sourceDir into it and returns the archive size.
// Each call is idempotent per attempt: a stale archive from a previous
// failed attempt is always replaced.
func (p *Preparer) Pack(ctx context.Context, sourceDir, archivePath string) (int64, error) {
	res, err := p.ch.Exec(ctx, cmdProbeDir(sourceDir), p.probeTimeout)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceDir)
	}

	// Stale archive from an earlier attempt; failure here is harmless
	// because tar truncates on create.
	if _, err := p.ch.Exec(ctx, cmdRemoveFile(archivePath), p.probeTimeout); err != nil && rish.IsPermanent(err) {
		return 0, err
	}

	parent, item := splitSourceDir(sourceDir)
	res, err = p.ch.Exec(ctx, cmdPackDir(parent, archivePath, item), p.packTimeout)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("remote pack failed (rc=%d): %s", res.ExitCode, firstLine(res.Stderr))
	}

	size, err := p.querySize(ctx, archivePath)
	if err != nil {
		return 0, err
	}
	p.log.Info("remote archive packed",
		slog.String("archive", archivePath),
		slog.Int64("bytes", size))
	return size, nil
}

// querySize stats the archive with bounded retries.
func (p *Preparer) querySize(ctx context.Context, archivePath string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < sizeQueryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(p.sizeDelay):
			}
		}
		res, err := p.ch.Exec(ctx, cmdFileSize(archivePath), p.probeTimeout)
		if err != nil {
			if rish.IsPermanent(err) {
				return 0, err
			}
			lastErr = err
			continue
		}
		if res.ExitCode != 0 {
			lastErr = fmt.Errorf("stat failed (rc=%d): %s", res.ExitCode, firstLine(res.Stderr))
			continue
		}
		size, perr := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
		if perr != nil {
			lastErr = fmt.Errorf("unparseable stat output %q", firstLine(res.Stdout))
			continue
		}
		if size <= 0 {
			lastErr = fmt.Errorf("archive reported %d bytes", size)
			continue
		}
		return size, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrSizeQueryFailed, lastErr)
}

// splitSourceDir splits a remote path into its parent directory and the
// final component, so tar records members relative to the parent.
func splitSourceDir(sourceDir string) (parent, item string) {
	trimmed := strings.TrimRight(sourceDir, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return ".", trimmed
	}
	return trimmed[:idx], trimmed[idx+1:]
}
