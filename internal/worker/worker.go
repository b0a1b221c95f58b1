// Package worker provides a NATS worker that turns processed-text events into
// generated audio.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/higgs-tts/internal/core"
	"github.com/book-expert/higgs-tts/internal/params"
	"github.com/book-expert/higgs-tts/internal/tts"
)

const audioKeyFmt = "audio_%s.wav"

// Static errors.
var (
	ErrSubjectEmpty   = errors.New("subject cannot be empty")
	ErrOutputDirEmpty = errors.New("output directory cannot be empty")
	ErrTextKeyEmpty   = errors.New("text key cannot be empty")
)

// Generator runs one generation job.
type Generator interface {
	Generate(ctx context.Context, job tts.Job) (tts.Result, error)
}

// Config holds the worker settings.
type Config struct {
	Subject   string
	OutputDir string
	// MaxNewTokensCap bounds max_new_tokens the same way the HTTP route does.
	MaxNewTokensCap int
}

// NatsWorker listens for jobs on a NATS subject and replies with the uploaded audio key.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            Config
	texts          core.ObjectStore
	audio          core.ObjectStore
	generator      Generator
	log            *logger.Logger
}

// NewNatsWorker creates a worker. texts holds job input and audio receives results.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	texts core.ObjectStore,
	audio core.ObjectStore,
	generator Generator,
	log *logger.Logger,
) (*NatsWorker, error) {
	if cfg.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if cfg.OutputDir == "" {
		return nil, ErrOutputDirEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		texts:          texts,
		audio:          audio,
		generator:      generator,
		log:            log,
	}, nil
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription.
// Jobs in flight see the cancellation through their context.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.cfg.Subject, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.Info("Listening for jobs on %s", w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(ctx context.Context, msg *nats.Msg) {
	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)

		return
	}

	audioKey, err := w.processJob(ctx, event)
	if err != nil {
		w.log.Error("Failed to process job for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	reply := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReply(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	w.log.Info("Workflow %s page %d/%d: uploaded %s",
		event.Header.WorkflowID, event.PageNumber, event.TotalPages, audioKey)
}

// processJob downloads the text, generates into the output directory, uploads
// the audio and removes the local copy.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	if event.TextKey == "" {
		return "", ErrTextKeyEmpty
	}

	text, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text for key '%s': %w", event.TextKey, err)
	}

	resolved, fallbacks, err := params.Resolve(eventParams(event, string(text)), params.HTTPBounds(w.cfg.MaxNewTokensCap))
	if err != nil {
		return "", fmt.Errorf("text for key '%s': %w", event.TextKey, err)
	}

	for _, field := range fallbacks {
		w.log.Warn("Workflow %s: unusable %s, using default", event.Header.WorkflowID, field)
	}

	audioKey := fmt.Sprintf(audioKeyFmt, uuid.NewString())
	outPath := filepath.Join(w.cfg.OutputDir, audioKey)

	// Partial output from a failed run is removed too.
	defer w.removeLocal(outPath)

	_, err = w.generator.Generate(ctx, tts.Job{
		Source:     tts.SourceNATS,
		Params:     resolved,
		OutputPath: outPath,
		VoiceName:  event.Voice,
	})
	if err != nil {
		return "", err
	}

	audioData, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to read generated audio %s: %w", outPath, err)
	}

	err = w.audio.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

func (w *NatsWorker) removeLocal(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warn("Failed to remove local audio %s: %v", path, err)
	}
}

// eventParams maps an event onto raw parameters. Zero numeric fields count as
// not supplied.
func eventParams(event *events.TextProcessedEvent, text string) params.Raw {
	raw := params.Raw{Text: params.Of(text)}

	if event.Temperature != 0 {
		raw.Temperature = params.Of(strconv.FormatFloat(event.Temperature, 'f', -1, 64))
	}

	if event.TopP != 0 {
		raw.TopP = params.Of(strconv.FormatFloat(event.TopP, 'f', -1, 64))
	}

	return raw
}

func publishReply(msg *nats.Msg, reply *events.AudioChunkCreatedEvent) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(data)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
