package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/book-expert/higgs-tts/internal/params"
)

// Request field and file-part names.
const (
	fieldRefAudio           = "ref_audio"
	fieldScenePrompt        = "scene_prompt"
	fieldScenePromptContent = "scene_prompt_content"
	partRefAudio            = "ref_audio"
	partScenePromptFile     = "scene_prompt_file"
)

var errMissingRequestData = errors.New("missing request data")

// generateRequest is the encoding-independent view of a generation request.
type generateRequest struct {
	raw params.Raw

	refAudioPath       string
	scenePromptPath    string
	scenePromptContent string

	refAudioUpload    *multipart.FileHeader
	scenePromptUpload *multipart.FileHeader
}

// parseGenerateRequest picks the adapter for the request's content type.
func parseGenerateRequest(c *fiber.Ctx) (generateRequest, error) {
	contentType := strings.ToLower(string(c.Request().Header.ContentType()))

	switch {
	case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return generateRequest{}, fmt.Errorf("failed to parse multipart form: %w", err)
		}

		return fromForm(form.Value, form.File), nil
	case strings.HasPrefix(contentType, fiber.MIMEApplicationForm):
		values := make(map[string][]string)

		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			values[string(key)] = append(values[string(key)], string(value))
		})

		return fromForm(values, nil), nil
	default:
		return fromJSON(c.Body())
	}
}

// fromForm adapts form fields and file parts.
func fromForm(values map[string][]string, files map[string][]*multipart.FileHeader) generateRequest {
	field := func(name string) params.Value {
		v, ok := values[name]
		if !ok || len(v) == 0 {
			return params.Value{}
		}

		return params.Of(v[0])
	}

	return generateRequest{
		raw: params.Raw{
			Text:         field(params.FieldText),
			Temperature:  field(params.FieldTemperature),
			TopP:         field(params.FieldTopP),
			MaxNewTokens: field(params.FieldMaxNewTokens),
		},
		refAudioPath:       field(fieldRefAudio).Raw,
		scenePromptPath:    field(fieldScenePrompt).Raw,
		scenePromptContent: field(fieldScenePromptContent).Raw,
		refAudioUpload:     filePart(files, partRefAudio),
		scenePromptUpload:  filePart(files, partScenePromptFile),
	}
}

// fromJSON adapts a JSON object body. An empty or non-object body is an error.
func fromJSON(body []byte) (generateRequest, error) {
	var data map[string]any

	err := json.Unmarshal(body, &data)
	if err != nil || len(data) == 0 {
		return generateRequest{}, errMissingRequestData
	}

	field := func(name string) params.Value {
		return jsonValue(data[name])
	}

	return generateRequest{
		raw: params.Raw{
			Text:         field(params.FieldText),
			Temperature:  field(params.FieldTemperature),
			TopP:         field(params.FieldTopP),
			MaxNewTokens: jsonIntValue(data[params.FieldMaxNewTokens]),
		},
		refAudioPath:       field(fieldRefAudio).Raw,
		scenePromptPath:    field(fieldScenePrompt).Raw,
		scenePromptContent: field(fieldScenePromptContent).Raw,
	}, nil
}

// jsonValue renders a decoded JSON value as a raw field. Null counts as absent;
// values of the wrong type become strings that fail numeric parsing.
func jsonValue(v any) params.Value {
	switch typed := v.(type) {
	case nil:
		return params.Value{}
	case string:
		return params.Of(typed)
	case float64:
		return params.Of(strconv.FormatFloat(typed, 'f', -1, 64))
	default:
		return params.Of(fmt.Sprint(typed))
	}
}

// jsonIntValue truncates a JSON number toward zero. Other values are handled
// like jsonValue.
func jsonIntValue(v any) params.Value {
	n, ok := v.(float64)
	if !ok {
		return jsonValue(v)
	}

	return params.Of(strconv.FormatFloat(math.Trunc(n), 'f', 0, 64))
}

func filePart(files map[string][]*multipart.FileHeader, name string) *multipart.FileHeader {
	parts := files[name]
	if len(parts) == 0 || parts[0] == nil || parts[0].Filename == "" {
		return nil
	}

	return parts[0]
}
