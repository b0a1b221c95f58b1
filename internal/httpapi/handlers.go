package httpapi

import (
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/gofiber/fiber/v2"

	"github.com/book-expert/higgs-tts/internal/params"
	"github.com/book-expert/higgs-tts/internal/staging"
	"github.com/book-expert/higgs-tts/internal/tts"
)

const (
	outputFileFmt     = "audio_%s.wav"
	msgGenerated      = "audio generated successfully"
	msgFileNotFound   = "file not found"
	msgInternalFmt    = "internal server error: %v"
	logFmtFallback    = "Request %s: unparseable %s, using default"
	logFmtGenerated   = "Request %s: generated %s in %s"
	logFmtGenFailed   = "Request %s: generation failed: %v"
	logFmtBadRequest  = "Request %s rejected: %v"
	logFmtInternalErr = "Request %s failed: %v"
)

type handler struct {
	service   *tts.Service
	stager    *staging.Stager
	log       *logger.Logger
	outputDir string
	bounds    params.Bounds
	newID     func() string
}

// generateResponse is the success payload of the generation route.
type generateResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
}

func (h *handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handler) generate(c *fiber.Ctx) error {
	fileID := h.newID()

	req, err := parseGenerateRequest(c)
	if err != nil {
		if errors.Is(err, errMissingRequestData) {
			h.log.Warn(logFmtBadRequest, fileID, err)

			return writeError(c, fiber.StatusBadRequest, err.Error())
		}

		return h.internalError(c, fileID, err)
	}

	resolved, fallbacks, err := params.Resolve(req.raw, h.bounds)
	if err != nil {
		h.log.Warn(logFmtBadRequest, fileID, err)

		return writeError(c, fiber.StatusBadRequest, err.Error())
	}

	for _, field := range fallbacks {
		h.log.Warn(logFmtFallback, fileID, field)
	}

	var staged []string

	defer func() {
		h.stager.Cleanup(staged...)
	}()

	refAudio, err := h.resolveRefAudio(fileID, req, &staged)
	if err != nil {
		return h.internalError(c, fileID, err)
	}

	scenePrompt, err := h.resolveScenePrompt(fileID, req, &staged)
	if err != nil {
		return h.internalError(c, fileID, err)
	}

	filename := fmt.Sprintf(outputFileFmt, fileID)

	result, err := h.service.Generate(c.UserContext(), tts.Job{
		Source:          tts.SourceHTTP,
		Params:          resolved,
		OutputPath:      filepath.Join(h.outputDir, filename),
		RefAudioPath:    refAudio,
		ScenePromptPath: scenePrompt,
	})
	if err != nil {
		h.log.Error(logFmtGenFailed, fileID, err)

		return writeError(c, fiber.StatusInternalServerError, err.Error())
	}

	h.log.Info(logFmtGenerated, fileID, filename, result.Elapsed)

	return c.JSON(generateResponse{
		Status:      statusSuccess,
		Message:     msgGenerated,
		FileID:      fileID,
		Filename:    filename,
		DownloadURL: strings.TrimSuffix(c.BaseURL(), "/") + RouteAudio + "/" + filename,
	})
}

// resolveRefAudio prefers an uploaded file over a path field.
func (h *handler) resolveRefAudio(fileID string, req generateRequest, staged *[]string) (string, error) {
	if req.refAudioUpload == nil {
		return req.refAudioPath, nil
	}

	path, err := h.saveUpload(fileID, staging.PrefixRefAudio, req.refAudioUpload)
	if err != nil {
		return "", err
	}

	*staged = append(*staged, path)

	return path, nil
}

// resolveScenePrompt picks the first of: uploaded file, inline content, path.
func (h *handler) resolveScenePrompt(fileID string, req generateRequest, staged *[]string) (string, error) {
	switch {
	case req.scenePromptUpload != nil:
		path, err := h.saveUpload(fileID, staging.PrefixScene, req.scenePromptUpload)
		if err != nil {
			return "", err
		}

		*staged = append(*staged, path)

		return path, nil
	case req.scenePromptContent != "":
		path, err := h.stager.WriteSceneContent(fileID, req.scenePromptContent)
		if err != nil {
			return "", err
		}

		*staged = append(*staged, path)

		return path, nil
	default:
		return req.scenePromptPath, nil
	}
}

func (h *handler) saveUpload(fileID, prefix string, header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload %s: %w", header.Filename, err)
	}
	defer src.Close()

	return h.stager.SaveUpload(fileID, prefix, header.Filename, src)
}

func (h *handler) download(c *fiber.Ctx) error {
	name := c.Params("filename")
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsRune(name, '\\') {
		return writeError(c, fiber.StatusNotFound, msgFileNotFound)
	}

	path := filepath.Join(h.outputDir, name)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return writeError(c, fiber.StatusNotFound, msgFileNotFound)
	}

	return c.Download(path, name)
}

func (h *handler) internalError(c *fiber.Ctx, fileID string, err error) error {
	h.log.Error(logFmtInternalErr, fileID, err)

	return writeError(c, fiber.StatusInternalServerError, fmt.Sprintf(msgInternalFmt, err))
}
