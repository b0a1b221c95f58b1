package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/higgs-tts/internal/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidAudioFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		want     bool
	}{
		{"voice.wav", true},
		{"VOICE.WAV", true},
		{"a/b/c.mp3", true},
		{"clip.flac", true},
		{"clip.m4a", true},
		{"clip.ogg", true},
		{"clip.aac", false},
		{"notes.txt", false},
		{"noext", false},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.want, fsutil.IsValidAudioFile(testCase.filename), testCase.filename)
	}
}

func TestBaseNameAndSanitize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "speaker", fsutil.BaseName("/data/refs/speaker.mp3"))
	assert.Equal(t, "a.b", fsutil.BaseName("a.b.wav"))
	assert.Equal(t, "x_y_z_.wav", fsutil.SanitizeFilename("x/y\\z?.wav"))
}

func TestIsWithin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	assert.True(t, fsutil.IsWithin(dir, filepath.Join(dir, "a.wav")))
	assert.True(t, fsutil.IsWithin(dir, filepath.Join(dir, "nested", "a.wav")))
	assert.False(t, fsutil.IsWithin(dir, dir))
	assert.False(t, fsutil.IsWithin(dir, filepath.Join(dir, "..", "a.wav")))
	assert.False(t, fsutil.IsWithin(dir, dir+"-sibling/a.wav"))
}

func TestCopyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.wav")
	dst := filepath.Join(dir, "dst.wav")

	require.NoError(t, os.WriteFile(src, []byte("RIFF-data"), 0o600))
	require.NoError(t, os.WriteFile(dst, []byte("old contents that are longer"), 0o600))

	require.NoError(t, fsutil.CopyFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF-data"), got)

	assert.True(t, fsutil.Exists(dst))
	assert.False(t, fsutil.Exists(filepath.Join(dir, "missing.wav")))
	assert.False(t, fsutil.Exists(""))

	require.Error(t, fsutil.CopyFile(filepath.Join(dir, "missing.wav"), dst))
}
