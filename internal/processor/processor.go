// Package processor drives one cached item end to end: transfer from
// the device, read its metadata, locate the media and remux it into the
// output directory.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bilicache/bilicache/internal/entry"
	"github.com/bilicache/bilicache/internal/finder"
	"github.com/bilicache/bilicache/internal/merger"
	"github.com/bilicache/bilicache/internal/transfer"
)

// ErrNoMedia means the extracted entry held no playable streams.
var ErrNoMedia = errors.New("no media files in cache entry")

// Result summarizes one processed item.
type Result struct {
	Skipped bool
	Title   string
	Output  string
}

// TransferRunner pulls one item from the device into the local cache.
type TransferRunner interface {
	Run(ctx context.Context, task transfer.Task) error
}

// Processor wires the transfer runner, metadata reader and merger into
// the per-item pipeline.
type Processor struct {
	runner    TransferRunner
	merger    *merger.Merger
	state     *State
	cacheDir  string
	outputDir string
	log       *slog.Logger

	// MergeMedia controls whether pulled items are remuxed. When false
	// the pipeline stops after the transfer and the cache directory is
	// reported as the output.
	MergeMedia bool
}

// New returns a processor writing merged files into outputDir.
func New(runner TransferRunner, m *merger.Merger, state *State, cacheDir, outputDir string, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		runner:     runner,
		merger:     m,
		state:      state,
		cacheDir:   cacheDir,
		outputDir:  outputDir,
		log:        log,
		MergeMedia: true,
	}
}

// Process pulls one item and remuxes it. Already-recorded items are
// skipped without touching the device.
func (p *Processor) Process(ctx context.Context, uid, folder string) (Result, error) {
	if p.state != nil && p.state.IsDone(uid, folder) {
		p.log.Info("already processed, skipping", "uid", uid, "folder", folder)
		return Result{Skipped: true}, nil
	}

	task := transfer.Task{UID: uid, Folder: folder}
	if err := p.runner.Run(ctx, task); err != nil {
		return Result{}, fmt.Errorf("transfer %s: %w", task, err)
	}

	entryDir := filepath.Join(p.cacheDir, uid, folder)
	title := p.titleFor(entryDir, folder)

	if !p.MergeMedia {
		if p.state != nil {
			if err := p.state.MarkDone(uid, folder, entryDir); err != nil {
				return Result{}, fmt.Errorf("record state: %w", err)
			}
		}
		p.log.Info("item pulled", "uid", uid, "folder", folder, "dir", entryDir)
		return Result{Title: title, Output: entryDir}, nil
	}

	media, err := finder.Find(entryDir)
	if err != nil {
		return Result{}, fmt.Errorf("find media in %s: %w", entryDir, err)
	}

	outPath, err := p.merge(ctx, media, title)
	if err != nil {
		return Result{}, err
	}

	if p.state != nil {
		if err := p.state.MarkDone(uid, folder, outPath); err != nil {
			return Result{}, fmt.Errorf("record state: %w", err)
		}
	}
	p.log.Info("item processed", "uid", uid, "folder", folder, "output", outPath)
	return Result{Title: title, Output: outPath}, nil
}

// titleFor derives the output name from entry.json, falling back to the
// folder name when metadata is unusable.
func (p *Processor) titleFor(entryDir, folder string) string {
	e, err := entry.ReadLocal(entryDir)
	if err != nil {
		p.log.Warn("entry.json unusable, using folder name", "dir", entryDir, "err", err)
		return entry.CleanFilename(folder)
	}
	return entry.CleanFilename(e.FullTitle())
}

func (p *Processor) merge(ctx context.Context, media finder.Media, title string) (string, error) {
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outPath := p.uniquePath(title)

	switch media.Kind {
	case finder.KindDASH, finder.KindMP4:
		if err := p.merger.MergeDASH(ctx, media.Video, media.Audio, outPath); err != nil {
			return "", fmt.Errorf("merge %s: %w", title, err)
		}
	case finder.KindBLV:
		if err := p.merger.MergeBLV(ctx, media.BLV, outPath); err != nil {
			return "", fmt.Errorf("merge %s: %w", title, err)
		}
	default:
		return "", ErrNoMedia
	}
	return outPath, nil
}

// uniquePath appends a numeric suffix when the title collides with an
// existing output file.
func (p *Processor) uniquePath(title string) string {
	path := filepath.Join(p.outputDir, title+".mp4")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(p.outputDir, fmt.Sprintf("%s (%d).mp4", title, i))
	}
}
