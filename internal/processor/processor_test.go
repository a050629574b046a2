package processor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilicache/bilicache/internal/merger"
	"github.com/bilicache/bilicache/internal/transfer"
)

// fakeRunner materializes a cache entry locally instead of talking to a
// device.
type fakeRunner struct {
	cacheDir string
	files    map[string]string // relative path -> content
	calls    int
	err      error
}

func (f *fakeRunner) Run(_ context.Context, task transfer.Task) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	base := filepath.Join(f.cacheDir, task.UID, task.Folder)
	for rel, content := range f.files {
		path := filepath.Join(base, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func copyMerger(t *testing.T) *merger.Merger {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake not portable to windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\necho merged > \"$last\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return merger.New(path, nil)
}

func newTestProcessor(t *testing.T, files map[string]string) (*Processor, *fakeRunner, string) {
	t.Helper()
	cacheDir := t.TempDir()
	outDir := t.TempDir()
	state, err := LoadState(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	runner := &fakeRunner{cacheDir: cacheDir, files: files}
	p := New(runner, copyMerger(t), state, cacheDir, outDir, nil)
	return p, runner, outDir
}

func TestProcessDASHEntry(t *testing.T) {
	p, runner, outDir := newTestProcessor(t, map[string]string{
		"entry.json":    `{"title":"测试视频","type_tag":"112","page_data":{"part":"P1"}}`,
		"112/video.m4s": "v",
		"112/audio.m4s": "a",
	})

	res, err := p.Process(context.Background(), "123", "c_456")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, "测试视频 - P1", res.Title)
	assert.Equal(t, filepath.Join(outDir, "测试视频 - P1.mp4"), res.Output)
	assert.FileExists(t, res.Output)
	assert.Equal(t, 1, runner.calls)
}

func TestProcessWithoutMerge(t *testing.T) {
	p, runner, outDir := newTestProcessor(t, map[string]string{
		"entry.json":    `{"title":"raw","type_tag":"112"}`,
		"112/video.m4s": "v",
	})
	p.MergeMedia = false

	res, err := p.Process(context.Background(), "123", "c_456")
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.DirExists(t, res.Output)
	assert.FileExists(t, filepath.Join(res.Output, "entry.json"))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Recorded as done even without a remux.
	res, err = p.Process(context.Background(), "123", "c_456")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, runner.calls)
}

func TestProcessSkipsRecordedItem(t *testing.T) {
	p, runner, _ := newTestProcessor(t, map[string]string{
		"entry.json":   `{"title":"t","type_tag":"80"}`,
		"80/video.m4s": "v",
	})

	_, err := p.Process(context.Background(), "123", "c_456")
	require.NoError(t, err)

	res, err := p.Process(context.Background(), "123", "c_456")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, runner.calls)
}

func TestProcessFallsBackToFolderName(t *testing.T) {
	p, _, outDir := newTestProcessor(t, map[string]string{
		"112/video.m4s": "v",
	})

	res, err := p.Process(context.Background(), "123", "c_456")
	require.NoError(t, err)
	assert.Equal(t, "c_456", res.Title)
	assert.FileExists(t, filepath.Join(outDir, "c_456.mp4"))
}

func TestProcessNoMedia(t *testing.T) {
	p, _, _ := newTestProcessor(t, map[string]string{
		"entry.json": `{"title":"t","type_tag":"80"}`,
	})

	_, err := p.Process(context.Background(), "123", "c_456")
	assert.ErrorIs(t, err, ErrNoMedia)
	// Failed items stay unrecorded so a later run retries them.
	assert.False(t, p.state.IsDone("123", "c_456"))
}

func TestProcessTransferFailure(t *testing.T) {
	p, runner, _ := newTestProcessor(t, nil)
	runner.err = transfer.ErrSourceNotFound

	_, err := p.Process(context.Background(), "123", "c_456")
	assert.ErrorIs(t, err, transfer.ErrSourceNotFound)
	assert.False(t, p.state.IsDone("123", "c_456"))
}

func TestProcessOutputCollision(t *testing.T) {
	p, _, outDir := newTestProcessor(t, map[string]string{
		"entry.json":   `{"title":"same","type_tag":"80"}`,
		"80/video.m4s": "v",
	})
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "same.mp4"), []byte("old"), 0o644))

	res, err := p.Process(context.Background(), "123", "c_456")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "same (2).mp4"), res.Output)
}

func TestStatePersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := LoadState(path)
	require.NoError(t, err)
	require.NoError(t, s.MarkDone("1", "c_1", "/out/a.mp4"))

	s2, err := LoadState(path)
	require.NoError(t, err)
	assert.True(t, s2.IsDone("1", "c_1"))
	assert.Equal(t, 1, s2.Done())
	// No torn temp file left behind.
	assert.NoFileExists(t, path+".tmp")
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err := LoadState(path)
	assert.Error(t, err)
}
