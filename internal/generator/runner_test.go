package generator_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/higgs-tts/internal/core"
	"github.com/book-expert/higgs-tts/internal/generator"
)

const recordingScript = `#!/bin/sh
pwd > invocation.txt
printf '%s\n' "$@" >> invocation.txt
echo "PATH=$PATH" >> invocation.txt
while [ $# -gt 0 ]; do
  if [ "$1" = "--out_path" ]; then
    printf 'RIFF' > "$2"
  fi
  shift
done
echo "generated"
`

const failingScript = `#!/bin/sh
echo "loading model"
echo "CUDA out of memory" >&2
exit 1
`

const sleepingScript = `#!/bin/sh
exec sleep 5
`

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "generator-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newRunner(t *testing.T, script string, timeout time.Duration) (*generator.Runner, generator.Config) {
	t.Helper()

	workDir := t.TempDir()
	scriptPath := filepath.Join(workDir, "generation.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o700))

	cfg := generator.Config{
		Command:        "/bin/sh",
		Script:         scriptPath,
		WorkDir:        workDir,
		ModelPath:      "/models/higgs-v2-base",
		AudioTokenizer: "/models/tokenizer",
		Device:         "cuda",
		ToolchainDir:   filepath.Join(workDir, "conda_env"),
		Timeout:        timeout,
	}

	return generator.New(cfg, newTestLogger(t)), cfg
}

func TestArgs(t *testing.T) {
	t.Parallel()

	cfg := generator.Config{
		Script:         "examples/generation.py",
		ModelPath:      "/m",
		AudioTokenizer: "/tok",
		Device:         "cuda",
	}

	inv := core.Invocation{
		Transcript:   "Hello world",
		OutPath:      "/out/audio.wav",
		Temperature:  1.0,
		TopP:         0.95,
		MaxNewTokens: 1024,
	}

	assert.Equal(t, []string{
		"examples/generation.py",
		"--model_path", "/m",
		"--audio_tokenizer", "/tok",
		"--transcript", "Hello world",
		"--out_path", "/out/audio.wav",
		"--temperature", "1",
		"--top_p", "0.95",
		"--device", "cuda",
		"--max_new_tokens", "1024",
	}, generator.Args(cfg, inv))

	inv.VoiceName = "speaker"
	inv.ScenePrompt = "/tmp/scene.txt"

	args := generator.Args(cfg, inv)
	assert.Equal(t, []string{"--ref_audio", "speaker", "--scene_prompt", "/tmp/scene.txt"}, args[len(args)-4:])
}

func TestEnviron(t *testing.T) {
	t.Parallel()

	base := []string{"HOME=/root", "PATH=/usr/bin:/bin"}

	missing := generator.Environ(base, filepath.Join(t.TempDir(), "absent"))
	assert.Equal(t, base, missing)

	toolchain := t.TempDir()
	env := generator.Environ(base, toolchain)
	assert.Equal(t, "PATH="+filepath.Join(toolchain, "bin")+string(os.PathListSeparator)+"/usr/bin:/bin", env[1])
	assert.Equal(t, "PATH=/usr/bin:/bin", base[1], "base must not be mutated")

	noPath := generator.Environ([]string{"HOME=/root"}, toolchain)
	assert.Contains(t, noPath, "PATH="+filepath.Join(toolchain, "bin"))
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	runner, cfg := newRunner(t, recordingScript, 0)
	require.NoError(t, os.Mkdir(cfg.ToolchainDir, 0o750))

	outPath := filepath.Join(t.TempDir(), "audio_1.wav")

	err := runner.Generate(context.Background(), core.Invocation{
		Transcript:   "Hello world",
		OutPath:      outPath,
		Temperature:  0.7,
		TopP:         0.9,
		MaxNewTokens: 512,
		VoiceName:    "speaker",
	})
	require.NoError(t, err)
	assert.FileExists(t, outPath)

	recorded, err := os.ReadFile(filepath.Join(cfg.WorkDir, "invocation.txt"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(recorded)), "\n")
	wantDir, err := filepath.EvalSymlinks(cfg.WorkDir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(lines[0])
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir, "generator must run inside the work dir")

	assert.Contains(t, lines, "--ref_audio")
	assert.Contains(t, lines, "speaker")
	assert.NotContains(t, lines, "--scene_prompt")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "PATH="+filepath.Join(cfg.ToolchainDir, "bin")))
}

func TestGenerate_FailureCapturesStderr(t *testing.T) {
	t.Parallel()

	runner, _ := newRunner(t, failingScript, 0)

	err := runner.Generate(context.Background(), core.Invocation{
		Transcript: "x", OutPath: filepath.Join(t.TempDir(), "a.wav"), MaxNewTokens: 128,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, generator.ErrGenerationFailed)

	var exitErr *generator.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, exitErr.Stderr, "CUDA out of memory")
	assert.Contains(t, err.Error(), "CUDA out of memory")
}

func TestGenerate_StreamsWhenWritersGiven(t *testing.T) {
	t.Parallel()

	runner, _ := newRunner(t, failingScript, 0)

	var stdout, stderr bytes.Buffer

	err := runner.Generate(context.Background(), core.Invocation{
		Transcript: "x", OutPath: filepath.Join(t.TempDir(), "a.wav"), MaxNewTokens: 128,
		Stdout: &stdout, Stderr: &stderr,
	})

	var exitErr *generator.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Empty(t, exitErr.Stderr)
	assert.Contains(t, stdout.String(), "loading model")
	assert.Contains(t, stderr.String(), "CUDA out of memory")
}

func TestGenerate_MissingCommand(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)
	runner := generator.New(generator.Config{
		Command: filepath.Join(t.TempDir(), "no-such-python"),
		WorkDir: t.TempDir(),
	}, log)

	err := runner.Generate(context.Background(), core.Invocation{Transcript: "x", OutPath: "a.wav"})
	require.ErrorIs(t, err, generator.ErrGenerationFailed)
}

func TestGenerate_Timeout(t *testing.T) {
	t.Parallel()

	runner, _ := newRunner(t, sleepingScript, 100*time.Millisecond)

	start := time.Now()
	err := runner.Generate(context.Background(), core.Invocation{Transcript: "x", OutPath: "a.wav"})
	require.ErrorIs(t, err, generator.ErrGenerationFailed)
	assert.Less(t, time.Since(start), 4*time.Second)
}
