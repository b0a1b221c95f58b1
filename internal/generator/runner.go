// Package generator runs the external Higgs Audio generation program as a
// synchronous subprocess with a fixed command-line contract.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/higgs-tts/internal/core"
)

// Command-line flags understood by the external generator.
const (
	flagModelPath      = "--model_path"
	flagAudioTokenizer = "--audio_tokenizer"
	flagTranscript     = "--transcript"
	flagOutPath        = "--out_path"
	flagTemperature    = "--temperature"
	flagTopP           = "--top_p"
	flagDevice         = "--device"
	flagMaxNewTokens   = "--max_new_tokens"
	flagRefAudio       = "--ref_audio"
	flagScenePrompt    = "--scene_prompt"
)

const (
	envPath        = "PATH"
	toolchainBin   = "bin"
	exitCodeFailed = -1
)

// Log formats.
const (
	logFmtRun       = "Running generator in %s: %s %s"
	logFmtSucceeded = "Generation succeeded: %s (%s)"
	logFmtFailed    = "Generation failed with exit code %d: %s"
)

// ErrGenerationFailed is matched by every error Generate returns.
var ErrGenerationFailed = errors.New("generation failed")

// Config describes how the generator is launched.
type Config struct {
	Command        string
	Script         string
	WorkDir        string
	ModelPath      string
	AudioTokenizer string
	Device         string
	ToolchainDir   string
	Timeout        time.Duration
}

// ExitError reports a non-zero exit of the generator. Stderr is empty when the
// stream was forwarded instead of captured.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGenerationFailed, e.Stderr)
}

// Unwrap lets errors.Is match ErrGenerationFailed.
func (e *ExitError) Unwrap() error {
	return ErrGenerationFailed
}

// Runner implements core.Generator by executing the configured program.
type Runner struct {
	cfg Config
	log *logger.Logger
}

// New creates a Runner.
func New(cfg Config, log *logger.Logger) *Runner {
	return &Runner{cfg: cfg, log: log}
}

// Args builds the argument list passed to Command. The reference audio is a
// voice name and is only added when set, as is the scene prompt path.
func Args(cfg Config, inv core.Invocation) []string {
	args := []string{
		cfg.Script,
		flagModelPath, cfg.ModelPath,
		flagAudioTokenizer, cfg.AudioTokenizer,
		flagTranscript, inv.Transcript,
		flagOutPath, inv.OutPath,
		flagTemperature, formatFloat(inv.Temperature),
		flagTopP, formatFloat(inv.TopP),
		flagDevice, cfg.Device,
		flagMaxNewTokens, strconv.Itoa(inv.MaxNewTokens),
	}

	if inv.VoiceName != "" {
		args = append(args, flagRefAudio, inv.VoiceName)
	}

	if inv.ScenePrompt != "" {
		args = append(args, flagScenePrompt, inv.ScenePrompt)
	}

	return args
}

// Environ returns a copy of base with <toolchainDir>/bin prepended to PATH when
// toolchainDir exists.
func Environ(base []string, toolchainDir string) []string {
	env := make([]string, len(base))
	copy(env, base)

	if toolchainDir == "" {
		return env
	}

	info, err := os.Stat(toolchainDir)
	if err != nil || !info.IsDir() {
		return env
	}

	binDir := filepath.Join(toolchainDir, toolchainBin)
	prefix := envPath + "="

	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + binDir + string(os.PathListSeparator) + strings.TrimPrefix(kv, prefix)

			return env
		}
	}

	return append(env, prefix+binDir)
}

// Generate runs the generator and blocks until it exits. The working directory
// is set on the child process only.
func (r *Runner) Generate(ctx context.Context, inv core.Invocation) error {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := Args(r.cfg, inv)

	// #nosec G204 -- command and script come from configuration, user input is passed as discrete arguments
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = Environ(os.Environ(), r.cfg.ToolchainDir)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = inv.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = &stdout
	}

	cmd.Stderr = inv.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = &stderr
	}

	r.log.Info(logFmtRun, r.cfg.WorkDir, r.cfg.Command, strings.Join(args, " "))

	start := time.Now()

	err := cmd.Run()
	if err == nil {
		r.log.Info(logFmtSucceeded, inv.OutPath, time.Since(start).Round(time.Millisecond))

		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		r.log.Error(logFmtFailed, exitCodeFailed, err)

		return fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	failure := &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
	r.log.Error(logFmtFailed, failure.Code, failure.Stderr)

	return failure
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
