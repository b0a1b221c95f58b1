// Package tts orchestrates one generation: voice staging, scene-prompt
// resolution, the external generator run, metrics, and the generation log.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/higgs-tts/internal/core"
	"github.com/book-expert/higgs-tts/internal/fsutil"
	"github.com/book-expert/higgs-tts/internal/metrics"
	"github.com/book-expert/higgs-tts/internal/params"
	"github.com/book-expert/higgs-tts/internal/staging"
)

// Sources label where a job came from.
const (
	SourceHTTP = "http"
	SourceCLI  = "cli"
	SourceNATS = "nats"
)

// Static errors.
var (
	ErrTextEmpty       = errors.New("text cannot be empty")
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
)

const (
	logFmtJob           = "Generating [%s] text=%q out=%s temperature=%v top_p=%v max_new_tokens=%d"
	logFmtVoice         = "Reference audio %s staged as voice %q"
	logFmtScene         = "Scene prompt: %s"
	logFmtSceneMissing  = "Scene prompt %s does not exist, ignoring it"
	logFmtRecordFailed  = "Failed to append generation log: %v"
	errFmtStageVoice    = "failed to stage reference audio: %w"
	errFmtPrepareOutput = "failed to prepare output directory: %w"
)

// Job is one generation request with already-resolved parameters.
type Job struct {
	Source          string
	Params          params.Params
	OutputPath      string
	RefAudioPath    string
	ScenePromptPath string

	// VoiceName names a voice already present in the voice-prompts directory.
	// It is used only when RefAudioPath does not stage one.
	VoiceName string

	// Stdout and Stderr, when set, receive the generator's output live.
	Stdout io.Writer
	Stderr io.Writer
}

// Result describes a successful generation.
type Result struct {
	OutputPath  string
	VoiceName   string
	ScenePrompt string
	Elapsed     time.Duration
}

// Service runs generation jobs. It is safe for concurrent use.
type Service struct {
	generator core.Generator
	stager    *staging.Stager
	recorder  core.Recorder
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder appends every successful generation to rec.
func WithRecorder(rec core.Recorder) Option {
	return func(s *Service) { s.recorder = rec }
}

// WithMetrics records generator runs in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for log records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(gen core.Generator, stager *staging.Stager, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		generator: gen,
		stager:    stager,
		log:       log,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Generate runs job to completion. A reference audio or scene prompt that does
// not exist on disk is dropped rather than treated as an error.
func (s *Service) Generate(ctx context.Context, job Job) (Result, error) {
	if job.Params.Text == "" {
		return Result{}, ErrTextEmpty
	}

	if job.OutputPath == "" {
		return Result{}, ErrOutputPathEmpty
	}

	voiceName, release, err := s.stager.StageVoice(job.RefAudioPath)
	if err != nil {
		return Result{}, fmt.Errorf(errFmtStageVoice, err)
	}
	defer release()

	switch {
	case voiceName != "":
		s.log.Info(logFmtVoice, job.RefAudioPath, voiceName)
	case job.VoiceName != "":
		voiceName = job.VoiceName
	}

	scene := staging.ExistingPath(job.ScenePromptPath)

	switch {
	case scene != "":
		s.log.Info(logFmtScene, scene)
	case job.ScenePromptPath != "":
		s.log.Warn(logFmtSceneMissing, job.ScenePromptPath)
	}

	err = fsutil.EnsureDir(filepath.Dir(job.OutputPath))
	if err != nil {
		return Result{}, fmt.Errorf(errFmtPrepareOutput, err)
	}

	p := job.Params
	s.log.Info(logFmtJob, job.Source, p.Text, job.OutputPath, p.Temperature, p.TopP, p.MaxNewTokens)

	start := time.Now()

	err = s.generator.Generate(ctx, core.Invocation{
		Transcript:   p.Text,
		OutPath:      job.OutputPath,
		Temperature:  p.Temperature,
		TopP:         p.TopP,
		MaxNewTokens: p.MaxNewTokens,
		VoiceName:    voiceName,
		ScenePrompt:  scene,
		Stdout:       job.Stdout,
		Stderr:       job.Stderr,
	})
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.ObserveGeneration(job.Source, metrics.ResultFailure, elapsed)

		return Result{}, err
	}

	s.metrics.ObserveGeneration(job.Source, metrics.ResultSuccess, elapsed)
	s.record(job)

	return Result{
		OutputPath:  job.OutputPath,
		VoiceName:   voiceName,
		ScenePrompt: scene,
		Elapsed:     elapsed,
	}, nil
}

func (s *Service) record(job Job) {
	if s.recorder == nil {
		return
	}

	err := s.recorder.Record(core.GenerationRecord{
		Time:         s.now(),
		Text:         job.Params.Text,
		OutputPath:   job.OutputPath,
		RefAudio:     job.RefAudioPath,
		Temperature:  job.Params.Temperature,
		TopP:         job.Params.TopP,
		MaxNewTokens: job.Params.MaxNewTokens,
	})
	if err != nil {
		s.log.Warn(logFmtRecordFailed, err)
	}
}
