// Package core defines the types and interfaces shared by the generation service
// and its front-ends.
package core

import (
	"context"
	"io"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Invocation is one run of the external generator. VoiceName and ScenePrompt
// are optional. When Stdout or Stderr is nil the stream is captured instead of
// forwarded.
type Invocation struct {
	Transcript   string
	OutPath      string
	Temperature  float64
	TopP         float64
	MaxNewTokens int
	VoiceName    string
	ScenePrompt  string
	Stdout       io.Writer
	Stderr       io.Writer
}

// Generator runs the external audio generator synchronously.
type Generator interface {
	Generate(ctx context.Context, inv Invocation) error
}

// GenerationRecord is one successful generation, as written to the generation log.
type GenerationRecord struct {
	Time         time.Time
	Text         string
	OutputPath   string
	RefAudio     string
	Temperature  float64
	TopP         float64
	MaxNewTokens int
}

// Recorder persists successful generations.
type Recorder interface {
	Record(rec GenerationRecord) error
}
