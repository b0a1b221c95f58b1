// Package prompt runs the interactive dialogue that gathers one generation's
// settings on a terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/higgs-tts/internal/fsutil"
	"github.com/book-expert/higgs-tts/internal/params"
)

// DefaultText is used when the text prompt is left empty.
const DefaultText = "Hello, this is a test audio generation."

const (
	outputExt          = ".wav"
	defaultOutputFmt   = "audio_%s" + outputExt
	defaultOutputStamp = "20060102_150405"
	ruleWidth          = 50
	summaryRuleWidth   = 30
)

// Static errors.
var (
	ErrCancelled   = errors.New("generation cancelled")
	ErrInputClosed = errors.New("input closed before the dialogue finished")
)

// Plan is the outcome of a completed dialogue.
type Plan struct {
	Params params.Params
	// OutputName is the file name as entered, with the .wav suffix enforced.
	OutputName string
	// OutputPath is OutputName resolved against the output directory unless absolute.
	OutputPath  string
	RefAudio    string
	ScenePrompt string
}

// Session reads answers from in and writes prompts to out.
type Session struct {
	in        *bufio.Reader
	out       io.Writer
	outputDir string
	now       func() time.Time
	exists    func(string) bool
}

// Option customizes a Session.
type Option func(*Session)

// WithClock sets the time used for the default output name.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithFileCheck replaces the existence check applied to entered paths.
func WithFileCheck(exists func(string) bool) Option {
	return func(s *Session) { s.exists = exists }
}

// NewSession creates a Session. Relative output names resolve under outputDir.
func NewSession(in io.Reader, out io.Writer, outputDir string, opts ...Option) *Session {
	s := &Session{
		in:        bufio.NewReader(in),
		out:       out,
		outputDir: outputDir,
		now:       time.Now,
		exists:    fsutil.Exists,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run walks through every step and returns the confirmed Plan. Invalid numeric
// answers fall back to their defaults; missing files are reported and skipped.
// It returns ErrCancelled when the user declines the final confirmation.
func (s *Session) Run() (Plan, error) {
	var plan Plan

	s.printf("Higgs Audio generation\n%s\n", strings.Repeat("=", ruleWidth))
	s.printf("Output directory: %s\n", s.outputDir)

	steps := []func(*Plan) error{
		s.askText,
		s.askOutput,
		s.askRefAudio,
		s.askTemperature,
		s.askTopP,
		s.askMaxNewTokens,
		s.askScenePrompt,
	}

	for _, step := range steps {
		err := step(&plan)
		if err != nil {
			return Plan{}, err
		}
	}

	s.printSummary(plan)

	answer, err := s.ask("\nStart generation? (y/n, default y): ")
	if err != nil {
		return Plan{}, err
	}

	switch strings.ToLower(answer) {
	case "n", "no":
		s.printf("Generation cancelled.\n")

		return Plan{}, ErrCancelled
	}

	return plan, nil
}

func (s *Session) askText(plan *Plan) error {
	s.printf("\nStep 1: text\n")

	text, err := s.ask("Text to synthesize: ")
	if err != nil {
		return err
	}

	if text == "" {
		text = DefaultText
		s.printf("Using default text: %s\n", text)
	}

	plan.Params.Text = text

	return nil
}

func (s *Session) askOutput(plan *Plan) error {
	s.printf("\nStep 2: output file\n")
	s.printf("Audio is saved under: %s\n", s.outputDir)

	name, err := s.ask("Output file name (default: timestamped): ")
	if err != nil {
		return err
	}

	if name == "" {
		name = fmt.Sprintf(defaultOutputFmt, s.now().Format(defaultOutputStamp))
		s.printf("Using default file name: %s\n", name)
	}

	if !strings.HasSuffix(name, outputExt) {
		name += outputExt
	}

	plan.OutputName = name
	plan.OutputPath = name

	if !filepath.IsAbs(name) {
		plan.OutputPath = filepath.Join(s.outputDir, name)
	}

	return nil
}

func (s *Session) askRefAudio(plan *Plan) error {
	s.printf("\nStep 3: voice cloning\n")
	s.printf("Give a reference audio file to clone its voice.\n")

	path, err := s.ask("Reference audio path (empty to skip): ")
	if err != nil || path == "" {
		return err
	}

	switch {
	case !s.exists(path):
		s.printf("Reference audio does not exist: %s\n", path)
	case !fsutil.IsValidAudioFile(path):
		s.printf("Not an audio file: %s\n", path)
		s.printf("Supported formats: %s\n", strings.Join(fsutil.AudioExtensions, ", "))
	default:
		s.printf("Using reference audio: %s\n", path)

		plan.RefAudio = path
	}

	return nil
}

func (s *Session) askTemperature(plan *Plan) error {
	s.printf("\nStep 4: temperature\n")
	s.printf("Lower values are steadier, higher values more varied.\n")

	answer, err := s.ask(fmt.Sprintf("Temperature (%v-%v, default %v): ",
		params.MinTemperature, params.MaxTemperature, params.DefaultTemperature))
	if err != nil {
		return err
	}

	temperature, ok := params.ParseFloat(params.Of(answer), params.DefaultTemperature)
	if !ok {
		s.printf("Invalid input, using default temperature: %v\n", params.DefaultTemperature)
	}

	plan.Params.Temperature = params.ClampTemperature(temperature)

	return nil
}

func (s *Session) askTopP(plan *Plan) error {
	s.printf("\nStep 5: top-p\n")
	s.printf("Lower values keep word choice conservative.\n")

	answer, err := s.ask(fmt.Sprintf("Top-p (%v-%v, default %v): ",
		params.MinTopP, params.MaxTopP, params.DefaultTopP))
	if err != nil {
		return err
	}

	topP, ok := params.ParseFloat(params.Of(answer), params.DefaultTopP)
	if !ok {
		s.printf("Invalid input, using default top-p: %v\n", params.DefaultTopP)
	}

	plan.Params.TopP = params.ClampTopP(topP)

	return nil
}

func (s *Session) askMaxNewTokens(plan *Plan) error {
	s.printf("\nStep 6: max new tokens\n")
	s.printf("Larger values allow longer audio: 512 short, 1024 medium, 2048 long.\n")

	answer, err := s.ask(fmt.Sprintf("Max new tokens (default %d): ", params.DefaultMaxNewTokens))
	if err != nil {
		return err
	}

	tokens, ok := params.ParseInt(params.Of(answer), params.DefaultMaxNewTokens)
	if !ok {
		s.printf("Invalid input, using default max new tokens: %d\n", params.DefaultMaxNewTokens)
	}

	plan.Params.MaxNewTokens = params.CLIBounds().ClampMaxNewTokens(tokens)

	return nil
}

func (s *Session) askScenePrompt(plan *Plan) error {
	s.printf("\nStep 7: scene prompt\n")

	path, err := s.ask("Scene prompt file path (empty to skip): ")
	if err != nil || path == "" {
		return err
	}

	if !s.exists(path) {
		s.printf("Scene prompt does not exist: %s\n", path)

		return nil
	}

	plan.ScenePrompt = path

	return nil
}

func (s *Session) printSummary(plan Plan) {
	refAudio := plan.RefAudio
	if refAudio == "" {
		refAudio = "none (default voice)"
	}

	scene := plan.ScenePrompt
	if scene == "" {
		scene = "none"
	}

	s.printf("\nSummary\n%s\n", strings.Repeat("=", summaryRuleWidth))
	s.printf("Text: %s\n", plan.Params.Text)
	s.printf("Output file: %s\n", plan.OutputName)
	s.printf("Output directory: %s\n", s.outputDir)
	s.printf("Reference audio: %s\n", refAudio)
	s.printf("Temperature: %v\n", plan.Params.Temperature)
	s.printf("Top-p: %v\n", plan.Params.TopP)
	s.printf("Max new tokens: %d\n", plan.Params.MaxNewTokens)
	s.printf("Scene prompt: %s\n", scene)
}

// ask prints label and returns the trimmed answer. A closed input is only an
// error when nothing at all was typed.
func (s *Session) ask(label string) (string, error) {
	s.printf("%s", label)

	line, err := s.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read answer: %w", err)
		}

		if line == "" {
			return "", ErrInputClosed
		}
	}

	return strings.TrimSpace(line), nil
}

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}
