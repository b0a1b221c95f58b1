// Package fsutil provides the small file and path helpers shared by the staging,
// generation, and prompt packages.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Permissions used for every file and directory this service creates.
const (
	DirPermissions  = 0o750
	FilePermissions = 0o600
)

// Supported reference-audio extensions.
const (
	extWAV  = ".wav"
	extMP3  = ".mp3"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extOGG  = ".ogg"
)

const invalidCharReplacement = "_"

// Error message format strings.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtOpenSource        = "failed to open %s: %w"
	errFmtCreateTarget      = "failed to create %s: %w"
	errFmtCopy              = "failed to copy %s to %s: %w"
)

// AudioExtensions lists the extensions accepted for reference audio, in display order.
var AudioExtensions = []string{extWAV, extMP3, extFLAC, extM4A, extOGG}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, DirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// Exists reports whether anything is present at path.
func Exists(path string) bool {
	if path == "" {
		return false
	}

	_, err := os.Stat(path)

	return err == nil
}

// IsValidAudioFile checks the extension against AudioExtensions, ignoring case.
func IsValidAudioFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range AudioExtensions {
		if ext == allowed {
			return true
		}
	}

	return false
}

// BaseName returns the file name without directory or extension.
func BaseName(path string) string {
	base := filepath.Base(path)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}

// IsWithin reports whether path lies inside dir after both are cleaned and made absolute.
func IsWithin(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CopyFile copies src to dst, replacing dst and preserving the source mode.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf(errFmtOpenSource, src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf(errFmtOpenSource, src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf(errFmtCreateTarget, dst, err)
	}

	defer func() {
		err = errors.Join(err, out.Close())
	}()

	_, err = io.Copy(out, in)
	if err != nil {
		return fmt.Errorf(errFmtCopy, src, dst, err)
	}

	modTime := info.ModTime()

	return os.Chtimes(dst, modTime, modTime)
}
