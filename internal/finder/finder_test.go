package finder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		path := filepath.Join(dir, filepath.FromSlash(n))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

func TestFindDASH(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "112/video.m4s", "112/audio.m4s", "entry.json", "danmaku.xml")

	m, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, KindDASH, m.Kind)
	assert.Equal(t, filepath.Join(dir, "112", "video.m4s"), m.Video)
	assert.Equal(t, filepath.Join(dir, "112", "audio.m4s"), m.Audio)
	assert.Empty(t, m.BLV)
}

func TestFindMP4NoAudio(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "80/video.mp4")

	m, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, KindMP4, m.Kind)
	assert.Equal(t, filepath.Join(dir, "80", "video.mp4"), m.Video)
	assert.Empty(t, m.Audio)
}

func TestFindShallowestVideoWins(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "video.m4s", "audio.m4s", "old/112/video.m4s", "old/112/audio.m4s")

	m, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video.m4s"), m.Video)
	assert.Equal(t, filepath.Join(dir, "audio.m4s"), m.Audio)
}

func TestFindAudioMustBeNextToVideo(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "112/video.m4s", "80/audio.m4s")

	m, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "112", "video.m4s"), m.Video)
	assert.Empty(t, m.Audio)
}

func TestFindBLVOrdering(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "lua.flv720.bili2api.64/10.blv", "lua.flv720.bili2api.64/2.blv", "lua.flv720.bili2api.64/1.blv")

	m, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, KindBLV, m.Kind)
	require.Len(t, m.BLV, 3)
	assert.Equal(t, "1.blv", filepath.Base(m.BLV[0]))
	assert.Equal(t, "2.blv", filepath.Base(m.BLV[1]))
	assert.Equal(t, "10.blv", filepath.Base(m.BLV[2]))
}

func TestFindBLVBeatsDASH(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "112/video.m4s", "lua.x/1.blv")

	m, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, KindBLV, m.Kind)
	assert.Empty(t, m.Video)
}

func TestFindNothing(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "entry.json")

	m, err := Find(dir)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, m.Kind)
}
