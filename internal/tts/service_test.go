// Package tts_test tests the generation service.
package tts_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/higgs-tts/internal/core"
	"github.com/book-expert/higgs-tts/internal/metrics"
	"github.com/book-expert/higgs-tts/internal/params"
	"github.com/book-expert/higgs-tts/internal/staging"
	"github.com/book-expert/higgs-tts/internal/tts"
)

var errMockGenerate = errors.New("mock generate error")

// mockGenerator is a mock implementation of the core.Generator interface.
type mockGenerator struct {
	mu          sync.Mutex
	shouldFail  bool
	invocations []core.Invocation
}

func (m *mockGenerator) Generate(_ context.Context, inv core.Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invocations = append(m.invocations, inv)
	if m.shouldFail {
		return errMockGenerate
	}

	return os.WriteFile(inv.OutPath, []byte("RIFF"), 0o600)
}

// mockRecorder is a mock implementation of the core.Recorder interface.
type mockRecorder struct {
	mu      sync.Mutex
	records []core.GenerationRecord
}

func (m *mockRecorder) Record(rec core.GenerationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)

	return nil
}

type fixture struct {
	service   *tts.Service
	generator *mockGenerator
	recorder  *mockRecorder
	voiceDir  string
	outDir    string
}

func newFixture(t *testing.T, fail bool) fixture {
	t.Helper()

	root := t.TempDir()

	log, err := logger.New(root, "service-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	gen := &mockGenerator{shouldFail: fail}
	rec := &mockRecorder{}
	voiceDir := filepath.Join(root, "voice_prompts")
	stager := staging.New(voiceDir, filepath.Join(root, "temp"), log)

	service := tts.NewService(gen, stager, log,
		tts.WithRecorder(rec),
		tts.WithMetrics(metrics.New()),
		tts.WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)

	return fixture{
		service:   service,
		generator: gen,
		recorder:  rec,
		voiceDir:  voiceDir,
		outDir:    filepath.Join(root, "generated_audio"),
	}
}

func defaultParams(text string) params.Params {
	return params.Params{Text: text, Temperature: 1.0, TopP: 0.95, MaxNewTokens: 1024}
}

func TestGenerate_PlainText(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	out := filepath.Join(fx.outDir, "audio_1.wav")

	result, err := fx.service.Generate(context.Background(), tts.Job{
		Source:     tts.SourceHTTP,
		Params:     defaultParams("Hello world"),
		OutputPath: out,
	})
	require.NoError(t, err)

	assert.Equal(t, out, result.OutputPath)
	assert.Empty(t, result.VoiceName)
	assert.FileExists(t, out)

	require.Len(t, fx.generator.invocations, 1)
	inv := fx.generator.invocations[0]
	assert.Equal(t, "Hello world", inv.Transcript)
	assert.Empty(t, inv.VoiceName)
	assert.Empty(t, inv.ScenePrompt)

	require.Len(t, fx.recorder.records, 1)
	assert.Equal(t, out, fx.recorder.records[0].OutputPath)
	assert.Equal(t, 2025, fx.recorder.records[0].Time.Year())
}

func TestGenerate_StagesVoiceAndScene(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	inputs := t.TempDir()
	ref := filepath.Join(inputs, "narrator.flac")
	scene := filepath.Join(inputs, "scene.txt")
	require.NoError(t, os.WriteFile(ref, []byte("audio"), 0o600))
	require.NoError(t, os.WriteFile(scene, []byte("A quiet library."), 0o600))

	result, err := fx.service.Generate(context.Background(), tts.Job{
		Source:          tts.SourceCLI,
		Params:          defaultParams("Hi"),
		OutputPath:      filepath.Join(fx.outDir, "a.wav"),
		RefAudioPath:    ref,
		ScenePromptPath: scene,
	})
	require.NoError(t, err)

	assert.Equal(t, "narrator", result.VoiceName)
	assert.Equal(t, scene, result.ScenePrompt)
	assert.FileExists(t, filepath.Join(fx.voiceDir, "narrator.wav"))
	assert.FileExists(t, filepath.Join(fx.voiceDir, "narrator.txt"))

	inv := fx.generator.invocations[0]
	assert.Equal(t, "narrator", inv.VoiceName)
	assert.Equal(t, scene, inv.ScenePrompt)
	assert.Equal(t, ref, fx.recorder.records[0].RefAudio)
}

func TestGenerate_MissingInputsAreDropped(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	missing := filepath.Join(t.TempDir(), "missing")

	_, err := fx.service.Generate(context.Background(), tts.Job{
		Params:          defaultParams("Hi"),
		OutputPath:      filepath.Join(fx.outDir, "a.wav"),
		RefAudioPath:    missing + ".wav",
		ScenePromptPath: missing + ".txt",
	})
	require.NoError(t, err)

	inv := fx.generator.invocations[0]
	assert.Empty(t, inv.VoiceName)
	assert.Empty(t, inv.ScenePrompt)
	assert.NoDirExists(t, fx.voiceDir)
}

func TestGenerate_FailureSkipsRecord(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true)

	_, err := fx.service.Generate(context.Background(), tts.Job{
		Params:     defaultParams("Hi"),
		OutputPath: filepath.Join(fx.outDir, "a.wav"),
	})
	require.ErrorIs(t, err, errMockGenerate)
	assert.Empty(t, fx.recorder.records)
}

func TestGenerate_Validation(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)

	_, err := fx.service.Generate(context.Background(), tts.Job{OutputPath: "a.wav"})
	require.ErrorIs(t, err, tts.ErrTextEmpty)

	_, err = fx.service.Generate(context.Background(), tts.Job{Params: defaultParams("Hi")})
	require.ErrorIs(t, err, tts.ErrOutputPathEmpty)

	assert.Empty(t, fx.generator.invocations)
}

func TestGenerate_VoiceNamePassthrough(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	inputs := t.TempDir()
	ref := filepath.Join(inputs, "staged.wav")
	require.NoError(t, os.WriteFile(ref, []byte("audio"), 0o600))

	result, err := fx.service.Generate(context.Background(), tts.Job{
		Source:     tts.SourceNATS,
		Params:     defaultParams("Hi"),
		OutputPath: filepath.Join(fx.outDir, "a.wav"),
		VoiceName:  "en_woman",
	})
	require.NoError(t, err)
	assert.Equal(t, "en_woman", result.VoiceName)

	_, err = fx.service.Generate(context.Background(), tts.Job{
		Source:       tts.SourceNATS,
		Params:       defaultParams("Hi"),
		OutputPath:   filepath.Join(fx.outDir, "b.wav"),
		RefAudioPath: ref,
		VoiceName:    "en_woman",
	})
	require.NoError(t, err)

	require.Len(t, fx.generator.invocations, 2)
	assert.Equal(t, "en_woman", fx.generator.invocations[0].VoiceName)
	assert.Equal(t, "staged", fx.generator.invocations[1].VoiceName, "a staged reference wins")
}

func TestGenerate_ConcurrentSameVoice(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	ref := filepath.Join(t.TempDir(), "shared.wav")
	require.NoError(t, os.WriteFile(ref, []byte("audio"), 0o600))

	const jobs = 8

	var wg sync.WaitGroup

	errs := make(chan error, jobs)

	for i := range jobs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := fx.service.Generate(context.Background(), tts.Job{
				Params:       defaultParams("Hi"),
				OutputPath:   filepath.Join(fx.outDir, "shared_"+string(rune('a'+i))+".wav"),
				RefAudioPath: ref,
			})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, fx.generator.invocations, jobs)
}
