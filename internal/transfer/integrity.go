package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bilicache/bilicache/internal/bufpool"
	"github.com/bilicache/bilicache/internal/rish"
)

const copyBufSize = 1024 * 1024

// copyBufs holds the large archive I/O buffers shared by checksum and
// assembly passes.
var copyBufs = bufpool.New(copyBufSize)

// VerifyIntegrity compares the remote archive's md5sum with a digest of
// the assembled local archive. An unobtainable remote checksum is a soft
// failure: the check is skipped and the transfer proceeds. A checksum
// that was obtained and differs is fatal for the attempt.
func VerifyIntegrity(ctx context.Context, ch rish.Channel, remotePath, localPath string, timeout time.Duration, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	remoteSum, err := remoteChecksum(ctx, ch, remotePath, timeout)
	if err != nil {
		if rish.IsPermanent(err) {
			return err
		}
		log.Warn("remote checksum unobtainable, skipping verification",
			slog.String("archive", remotePath),
			slog.String("error", err.Error()))
		return nil
	}

	localSum, err := localChecksum(localPath)
	if err != nil {
		return fmt.Errorf("local checksum: %w", err)
	}

	if remoteSum != localSum {
		return fmt.Errorf("%w: remote %s, local %s", ErrChecksumMismatch, remoteSum, localSum)
	}
	log.Debug("checksum verified", slog.String("md5", localSum))
	return nil
}

func remoteChecksum(ctx context.Context, ch rish.Channel, path string, timeout time.Duration) (string, error) {
	res, err := ch.Exec(ctx, cmdChecksum(path), timeout)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("md5sum failed (rc=%d): %s", res.ExitCode, firstLine(res.Stderr))
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 || len(fields[0]) != 32 {
		return "", fmt.Errorf("unparseable md5sum output: %q", firstLine(res.Stdout))
	}
	return strings.ToLower(fields[0]), nil
}

func localChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := copyBufs.Get()
	defer copyBufs.Put(buf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
