package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/bilicache/bilicache/internal/config"
	"github.com/bilicache/bilicache/internal/errorlog"
	"github.com/bilicache/bilicache/internal/merger"
	"github.com/bilicache/bilicache/internal/processor"
	"github.com/bilicache/bilicache/internal/progress"
	"github.com/bilicache/bilicache/internal/rish"
	"github.com/bilicache/bilicache/internal/scanner"
	"github.com/bilicache/bilicache/internal/transfer"
)

var pullCmd = &cobra.Command{
	Use:   "pull <uid> <folder>",
	Short: "Pull one cached item and remux it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, ch, err := loadEnv()
		if err != nil {
			return err
		}
		p, err := buildPipeline(cfg, log, ch)
		if err != nil {
			return err
		}
		defer p.Close()

		_, err = pullOne(cmd.Context(), p, args[0], args[1])
		return err
	},
}

var pullAllMerge bool

var pullAllCmd = &cobra.Command{
	Use:   "pull-all [uid]",
	Short: "Pull every cached item, skipping already-processed ones",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, ch, err := loadEnv()
		if err != nil {
			return err
		}
		p, err := buildPipeline(cfg, log, ch)
		if err != nil {
			return err
		}
		defer p.Close()
		p.proc.MergeMedia = pullAllMerge
		ctx := cmd.Context()

		// Transfers run their own retry policy; only enumeration gets
		// the channel-level one.
		sc := scanner.New(rish.NewRetryingChannel(ch, rish.DefaultRetryPolicy(), log), cfg.BiliRoot, log)
		var uids []string
		if len(args) == 1 {
			uids = args
		} else {
			uids, err = sc.ListUIDs(ctx)
			if err != nil {
				return err
			}
		}

		items, err := collectItems(ctx, sc, uids, log)
		if err != nil {
			return err
		}

		var processed, skipped, failed int
		for _, it := range items {
			wasSkipped, err := pullOne(ctx, p, it.uid, it.folder)
			switch {
			case err == nil && wasSkipped:
				skipped++
			case err == nil:
				processed++
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				failed++
				log.Error("item failed", slog.String("uid", it.uid), slog.String("folder", it.folder), slog.String("error", err.Error()))
				if rish.IsPermanent(err) {
					return err
				}
			}
		}
		fmt.Printf("done: %d processed, %d skipped, %d failed\n", processed, skipped, failed)
		if failed > 0 {
			return fmt.Errorf("%d item(s) failed", failed)
		}
		return nil
	},
}

func init() {
	pullAllCmd.Flags().BoolVar(&pullAllMerge, "merge", true, "remux pulled items with ffmpeg")
}

type cacheItem struct {
	uid, folder string
	size        int64
}

// collectItems enumerates every item folder and orders them smallest
// first, so quick transfers surface problems early. Items whose size
// cannot be measured sort last.
func collectItems(ctx context.Context, sc *scanner.Scanner, uids []string, log *slog.Logger) ([]cacheItem, error) {
	var items []cacheItem
	for _, uid := range uids {
		folders, err := sc.ListFolders(ctx, uid)
		if err != nil {
			return nil, err
		}
		for _, folder := range folders {
			size, err := sc.FolderSize(ctx, uid, folder)
			if err != nil {
				log.Warn("size query failed", slog.String("uid", uid), slog.String("folder", folder), slog.String("error", err.Error()))
				size = math.MaxInt64
			}
			items = append(items, cacheItem{uid: uid, folder: folder, size: size})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].size < items[j].size })
	return items, nil
}

// buildPipeline assembles the processor, its event store and the
// progress view from config.
func buildPipeline(cfg config.Config, log *slog.Logger, ch rish.Channel) (*pipeline, error) {
	events, err := errorlog.Open(cfg.ErrorDBPath, nil)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		events.Close()
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	state, err := processor.LoadState(filepath.Join(cfg.WorkDir, "processed.json"))
	if err != nil {
		events.Close()
		return nil, err
	}

	runner := transfer.NewRunner(ch, cfg.TransferOptions(), log)
	m := merger.New(cfg.FFmpegPath, log)

	return &pipeline{
		proc:   processor.New(runner, m, state, cfg.CacheDir, cfg.OutputDir, log),
		events: events,
		view:   wireProgress(runner),
	}, nil
}

type pipeline struct {
	proc   *processor.Processor
	events *errorlog.Store
	view   func() progress.PullView
}

func (p *pipeline) Close() { p.events.Close() }

// wireProgress feeds runner snapshots into a meter and returns the view
// function the live display polls.
func wireProgress(runner *transfer.Runner) func() progress.PullView {
	meter := progress.NewMeter()
	var mu sync.Mutex
	var lastBytes int64
	var currentTask string

	runner.OnProgress = func(p transfer.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Task.String() != currentTask || (p.BytesDone == 0 && p.BytesTotal > 0) {
			currentTask = p.Task.String()
			lastBytes = 0
			meter.Start(p.BytesTotal, p.ChunksTotal)
		}
		meter.SetStage(string(p.Stage), p.Attempt)
		if p.BytesDone > lastBytes {
			meter.AddChunk(p.BytesDone - lastBytes)
			lastBytes = p.BytesDone
		}
	}

	return func() progress.PullView {
		mu.Lock()
		task := currentTask
		mu.Unlock()
		return progress.PullView{Task: task, Stats: meter.Snapshot()}
	}
}

// pullOne processes a single item under a live progress display and
// records the outcome in the event store.
func pullOne(ctx context.Context, p *pipeline, uid, folder string) (skipped bool, err error) {
	stop := progress.RenderPull(ctx, os.Stdout, p.view)
	res, err := p.proc.Process(ctx, uid, folder)
	stop()
	if _, recErr := p.events.RecordError(context.Background(), "processor", "pull", err); recErr != nil {
		// Event logging never blocks the pipeline.
		fmt.Fprintln(os.Stderr, "warning: event log write failed:", recErr)
	}
	if err != nil {
		return false, err
	}
	if res.Skipped {
		fmt.Printf("%s/%s already processed\n", uid, folder)
		return true, nil
	}
	fmt.Printf("%s/%s -> %s\n", uid, folder, res.Output)
	return false, nil
}
