// Package staging places reference audio and scene prompts where the external
// generator expects them, and removes per-request temporary files afterwards.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/higgs-tts/internal/fsutil"
)

// PlaceholderTranscript is written next to a staged voice when no transcript exists.
const PlaceholderTranscript = "This is a reference audio for voice cloning."

// File naming.
const (
	voiceAudioExt      = ".wav"
	voiceTranscriptExt = ".txt"
	sceneContentFmt    = "scene_%s.txt"
	uploadNameFmt      = "%s_%s_%s"
	defaultUploadName  = "upload"
)

// Upload prefixes.
const (
	PrefixRefAudio = "ref"
	PrefixScene    = "scene"
)

// Log formats.
const (
	logFmtStagedVoice   = "Staged reference audio %s -> %s"
	logFmtSavedUpload   = "Saved upload: %s"
	logFmtSavedScene    = "Saved scene prompt content: %s"
	logFmtCleaned       = "Removed temporary file: %s"
	logFmtCleanupFailed = "Failed to remove temporary file %s: %v"
)

// Error format strings.
const (
	errFmtStageVoice  = "failed to stage reference audio %s: %w"
	errFmtTranscript  = "failed to write transcript %s: %w"
	errFmtSaveUpload  = "failed to save upload %s: %w"
	errFmtSaveContent = "failed to save scene prompt content: %w"
)

// Stager owns the voice-prompt and temp directories.
type Stager struct {
	voicePromptsDir string
	tempDir         string
	log             *logger.Logger

	mu    sync.Mutex
	locks map[string]*voiceLock
}

type voiceLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a Stager.
func New(voicePromptsDir, tempDir string, log *logger.Logger) *Stager {
	return &Stager{
		voicePromptsDir: voicePromptsDir,
		tempDir:         tempDir,
		log:             log,
		locks:           make(map[string]*voiceLock),
	}
}

// TempDir returns the per-request staging directory.
func (s *Stager) TempDir() string {
	return s.tempDir
}

// ExistingPath returns path when something exists there and "" otherwise.
func ExistingPath(path string) string {
	if fsutil.Exists(path) {
		return path
	}

	return ""
}

// StageVoice copies the reference audio at path into the voice-prompts
// directory as <base>.wav and makes sure <base>.txt exists. It returns the voice
// name the generator should be given and a release func the caller must invoke
// once the generator has finished with the voice; same-named voices are staged
// and used one at a time. A path that does not exist yields an empty name.
func (s *Stager) StageVoice(path string) (string, func(), error) {
	if !fsutil.Exists(path) {
		return "", func() {}, nil
	}

	name := fsutil.BaseName(path)
	release := s.lock(name)

	err := s.stageVoice(path, name)
	if err != nil {
		release()

		return "", func() {}, err
	}

	return name, release, nil
}

func (s *Stager) stageVoice(path, name string) error {
	err := fsutil.EnsureDir(s.voicePromptsDir)
	if err != nil {
		return fmt.Errorf(errFmtStageVoice, path, err)
	}

	audioPath := filepath.Join(s.voicePromptsDir, name+voiceAudioExt)
	transcriptPath := filepath.Join(s.voicePromptsDir, name+voiceTranscriptExt)

	same, err := samePath(path, audioPath)
	if err != nil {
		return fmt.Errorf(errFmtStageVoice, path, err)
	}

	if !same {
		err = fsutil.CopyFile(path, audioPath)
		if err != nil {
			return fmt.Errorf(errFmtStageVoice, path, err)
		}
	}

	// O_EXCL leaves an existing transcript untouched.
	f, err := os.OpenFile(transcriptPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.FilePermissions)
	if err == nil {
		_, writeErr := f.WriteString(PlaceholderTranscript)

		err = errors.Join(writeErr, f.Close())
		if err != nil {
			return fmt.Errorf(errFmtTranscript, transcriptPath, err)
		}
	} else if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf(errFmtTranscript, transcriptPath, err)
	}

	s.log.Info(logFmtStagedVoice, path, name)

	return nil
}

// SaveUpload writes r into the temp directory as <prefix>_<id>_<filename> and
// returns the new path.
func (s *Stager) SaveUpload(id, prefix, filename string, r io.Reader) (string, error) {
	filename = fsutil.SanitizeFilename(filepath.Base(filename))
	if filename == "" || filename == "." || filename == ".." {
		filename = defaultUploadName
	}

	path := filepath.Join(s.tempDir, fmt.Sprintf(uploadNameFmt, prefix, id, filename))

	err := s.writeTemp(path, r)
	if err != nil {
		return "", fmt.Errorf(errFmtSaveUpload, filename, err)
	}

	s.log.Info(logFmtSavedUpload, path)

	return path, nil
}

// WriteSceneContent stores inline scene-prompt text as scene_<id>.txt in the temp
// directory and returns the new path.
func (s *Stager) WriteSceneContent(id, content string) (string, error) {
	path := filepath.Join(s.tempDir, fmt.Sprintf(sceneContentFmt, id))

	err := fsutil.EnsureDir(s.tempDir)
	if err != nil {
		return "", fmt.Errorf(errFmtSaveContent, err)
	}

	err = os.WriteFile(path, []byte(content), fsutil.FilePermissions)
	if err != nil {
		return "", fmt.Errorf(errFmtSaveContent, err)
	}

	s.log.Info(logFmtSavedScene, path)

	return path, nil
}

// Cleanup removes the given files when they live under the temp directory.
// Anything else is left alone, and failures are only logged.
func (s *Stager) Cleanup(paths ...string) {
	seen := make(map[string]struct{}, len(paths))

	for _, path := range paths {
		if path == "" || !fsutil.IsWithin(s.tempDir, path) {
			continue
		}

		if _, dup := seen[path]; dup {
			continue
		}

		seen[path] = struct{}{}

		err := os.Remove(path)
		switch {
		case err == nil:
			s.log.Info(logFmtCleaned, path)
		case errors.Is(err, os.ErrNotExist):
		default:
			s.log.Warn(logFmtCleanupFailed, path, err)
		}
	}
}

func (s *Stager) writeTemp(path string, r io.Reader) (err error) {
	err = fsutil.EnsureDir(s.tempDir)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fsutil.FilePermissions)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, f.Close())
	}()

	_, err = io.Copy(f, r)

	return err
}

// lock serializes use of one voice name and returns its release func.
func (s *Stager) lock(name string) func() {
	s.mu.Lock()

	l, ok := s.locks[name]
	if !ok {
		l = &voiceLock{}
		s.locks[name] = l
	}

	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	var once sync.Once

	return func() {
		once.Do(func() {
			l.mu.Unlock()

			s.mu.Lock()
			l.refs--

			if l.refs == 0 {
				delete(s.locks, name)
			}

			s.mu.Unlock()
		})
	}
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}

	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}

	return absA == absB, nil
}
