package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bilicache/bilicache/internal/rish"
)

// taskBackoffMax caps the doubling delay between full pipeline restarts.
const taskBackoffMax = 5 * time.Minute

// Task identifies one cached item on the device: the account UID and the
// c_* item folder under it. The remote temp-archive name is derived from
// this identity, so concurrent runs of the same task must be serialized
// by the caller.
type Task struct {
	UID    string
	Folder string
}

func (t Task) String() string { return t.UID + "/" + t.Folder }

// ArchiveName is the file name used for both the remote temp archive and
// the local assembled archive.
func (t Task) ArchiveName() string { return fmt.Sprintf("%s_%s.tar", t.UID, t.Folder) }

// Options configures a Runner. DefaultOptions supplies the values the
// device channel has been tuned for.
type Options struct {
	// BiliRoot is the download root on the device.
	BiliRoot string
	// RemoteTmpDir holds the packed archive on the device.
	RemoteTmpDir string
	// CacheDir is the local cache root; extracted entries land under
	// CacheDir/<uid>/<folder>.
	CacheDir string
	// WorkDir is the local scratch root for part files and the assembled
	// archive. Empty means the system temp directory.
	WorkDir string

	Chunk Params

	// ChunkRetries is the per-chunk ceiling of additional attempts.
	ChunkRetries     int
	ChunkBackoffBase time.Duration
	ChunkBackoffMax  time.Duration

	// TaskRetries bounds full pipeline restarts.
	TaskRetries     int
	TaskBackoffBase time.Duration

	// CleanupRemote removes the remote archive at task end.
	CleanupRemote bool

	ProbeTimeout    time.Duration
	PackTimeout     time.Duration
	FetchTimeout    time.Duration
	ChecksumTimeout time.Duration
}

// DefaultOptions returns the tuned defaults for the given device root
// and local cache directory.
func DefaultOptions(biliRoot, cacheDir string) Options {
	return Options{
		BiliRoot:         biliRoot,
		RemoteTmpDir:     "/data/local/tmp",
		CacheDir:         cacheDir,
		Chunk:            DefaultParams(),
		ChunkRetries:     5,
		ChunkBackoffBase: 2 * time.Second,
		ChunkBackoffMax:  60 * time.Second,
		TaskRetries:      5,
		TaskBackoffBase:  5 * time.Second,
		CleanupRemote:    true,
		ProbeTimeout:     10 * time.Second,
		PackTimeout:      5 * time.Minute,
		FetchTimeout:     3 * time.Minute,
		ChecksumTimeout:  time.Minute,
	}
}

// Progress is a point-in-time view of a running task.
type Progress struct {
	Task        Task
	Stage       Stage
	Attempt     int
	BytesDone   int64
	BytesTotal  int64
	ChunksDone  int
	ChunksTotal int
}

// Runner sequences one task through the transfer pipeline:
// cache check, pack, fetch, assemble, verify, extract, with unconditional
// cleanup and an outer retry loop around everything after the cache
// check. A failed attempt discards all partial artifacts and restarts at
// packing; nothing is ever resumed mid-pipeline.
type Runner struct {
	ch   rish.Channel
	opts Options
	log  *slog.Logger

	// OnProgress, when set, receives progress snapshots. Calls arrive
	// from the task's own goroutine.
	OnProgress func(Progress)
}

// NewRunner returns a runner over the channel.
func NewRunner(ch rish.Channel, opts Options, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{ch: ch, opts: opts, log: log}
}

// Run executes the task to completion. It returns nil once the item is
// extracted and verified in the local cache, or immediately when a valid
// cache entry already exists (no channel calls are made in that case).
func (r *Runner) Run(ctx context.Context, task Task) error {
	targetDir := filepath.Join(r.opts.CacheDir, task.UID, task.Folder)
	if CacheEntryExists(targetDir) {
		r.log.Info("cache hit, skipping transfer", slog.String("task", task.String()))
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.opts.TaskRetries; attempt++ {
		if attempt > 1 {
			delay := backoff(r.opts.TaskBackoffBase, taskBackoffMax, attempt-2)
			r.log.Warn("task retry",
				slog.String("task", task.String()),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := r.attempt(ctx, task, attempt, targetDir)
		if err == nil {
			r.log.Info("task complete",
				slog.String("task", task.String()),
				slog.Int("attempts", attempt))
			return nil
		}
		if rish.IsPermanent(err) || errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("task %s failed after %d attempts: %w", task, r.opts.TaskRetries, lastErr)
}

// attempt runs one full pass of the pipeline. All local scratch files
// and, when configured, the remote archive are removed on every exit
// path; cleanup failures are logged and never escalated.
func (r *Runner) attempt(ctx context.Context, task Task, attempt int, targetDir string) error {
	sourceDir := path.Join(r.opts.BiliRoot, task.UID, task.Folder)
	remoteArchive := path.Join(r.opts.RemoteTmpDir, task.ArchiveName())

	workDir, err := os.MkdirTemp(r.opts.WorkDir, "bilicache-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	remotePacked := false
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			r.log.Warn("local cleanup failed", slog.String("error", rmErr.Error()))
		}
		if remotePacked && r.opts.CleanupRemote {
			if _, rmErr := r.ch.Exec(context.Background(), cmdRemoveFile(remoteArchive), r.opts.ProbeTimeout); rmErr != nil {
				r.log.Warn("remote cleanup failed",
					slog.String("archive", remoteArchive),
					slog.String("error", rmErr.Error()))
			}
		}
	}()

	r.report(Progress{Task: task, Stage: StagePacking, Attempt: attempt})
	preparer := NewPreparer(r.ch, r.opts.ProbeTimeout, r.opts.PackTimeout, r.log)
	size, err := preparer.Pack(ctx, sourceDir, remoteArchive)
	if err != nil {
		return stageErr(StagePacking, attempt, err)
	}
	remotePacked = true

	specs := PlanChunks(size, r.opts.Chunk)

	var bytesDone atomic.Int64
	var chunksDone atomic.Int32
	fetcher := NewFetcher(r.ch, r.opts.Chunk, r.opts.ChunkRetries,
		r.opts.ChunkBackoffBase, r.opts.ChunkBackoffMax, r.opts.FetchTimeout, r.log)
	fetcher.OnBytes = func(n int64) {
		r.report(Progress{
			Task:        task,
			Stage:       StageFetching,
			Attempt:     attempt,
			BytesDone:   bytesDone.Add(n),
			BytesTotal:  size,
			ChunksDone:  int(chunksDone.Add(1)),
			ChunksTotal: len(specs),
		})
	}

	r.report(Progress{Task: task, Stage: StageFetching, Attempt: attempt, BytesTotal: size, ChunksTotal: len(specs)})
	parts, err := fetcher.FetchAll(ctx, remoteArchive, specs, workDir)
	if err != nil {
		return stageErr(StageFetching, attempt, err)
	}

	r.report(Progress{Task: task, Stage: StageAssembling, Attempt: attempt, BytesDone: size, BytesTotal: size, ChunksDone: len(specs), ChunksTotal: len(specs)})
	if err := VerifyOverlaps(parts, r.opts.Chunk); err != nil {
		return stageErr(StageAssembling, attempt, err)
	}
	localArchive := filepath.Join(workDir, task.ArchiveName())
	if err := Assemble(parts, r.opts.Chunk.Overlap, localArchive, size); err != nil {
		return stageErr(StageAssembling, attempt, err)
	}

	r.report(Progress{Task: task, Stage: StageVerifying, Attempt: attempt, BytesDone: size, BytesTotal: size, ChunksDone: len(specs), ChunksTotal: len(specs)})
	if err := VerifyIntegrity(ctx, r.ch, remoteArchive, localArchive, r.opts.ChecksumTimeout, r.log); err != nil {
		return stageErr(StageVerifying, attempt, err)
	}

	r.report(Progress{Task: task, Stage: StageExtracting, Attempt: attempt, BytesDone: size, BytesTotal: size, ChunksDone: len(specs), ChunksTotal: len(specs)})
	if err := ExtractArchive(localArchive, targetDir); err != nil {
		return stageErr(StageExtracting, attempt, err)
	}
	return nil
}

func (r *Runner) report(p Progress) {
	if r.OnProgress != nil {
		r.OnProgress(p)
	}
}
