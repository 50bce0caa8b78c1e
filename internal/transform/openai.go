package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpenAIEditor calls the images/edits endpoint. Model, quality, and output
// format are deployment configuration, not per-request logic.
type OpenAIEditor struct {
	apiKey       string
	baseURL      string
	model        string
	quality      string
	outputFormat string
	httpClient   *http.Client
	log          zerolog.Logger
}

// OpenAIOptions configures the editor client.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	Quality      string
	OutputFormat string
	HTTPClient   *http.Client
}

// NewOpenAIEditor builds the client with defaults matching the workshop
// deployment (gpt-image-1, medium quality, png output).
func NewOpenAIEditor(opts OpenAIOptions, logger zerolog.Logger) *OpenAIEditor {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := opts.Model
	if model == "" {
		model = "gpt-image-1"
	}
	quality := opts.Quality
	if quality == "" {
		quality = "medium"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &OpenAIEditor{
		apiKey:       opts.APIKey,
		baseURL:      base,
		model:        model,
		quality:      quality,
		outputFormat: NormalizeExt(opts.OutputFormat),
		httpClient:   client,
		log:          logger,
	}
}

type editResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Edit sends the image and instruction upstream and decodes the returned
// image. An empty prompt is rejected before any network call.
func (e *OpenAIEditor) Edit(ctx context.Context, image []byte, prompt string) (Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return Result{}, &UpstreamError{Kind: UpstreamInvalidInput, Message: "prompt is empty"}
	}
	if e.apiKey == "" {
		return Result{}, fmt.Errorf("missing env var: OPENAI_API_KEY")
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for field, value := range map[string]string{
		"model":         e.model,
		"prompt":        prompt,
		"quality":       e.quality,
		"output_format": e.outputFormat,
	} {
		if err := mw.WriteField(field, value); err != nil {
			return Result{}, fmt.Errorf("write form field: %w", err)
		}
	}
	part, err := mw.CreateFormFile("image", "input.png")
	if err != nil {
		return Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return Result{}, fmt.Errorf("write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/images/edits", body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call images/edits: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, e.upstreamError(resp.StatusCode, raw)
	}

	var parsed editResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return Result{}, &UpstreamError{Kind: UpstreamOther, Status: resp.StatusCode, Message: "upstream returned empty b64_json"}
	}

	out, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return Result{}, fmt.Errorf("decode b64_json: %w", err)
	}

	return Result{
		Bytes: out,
		MIME:  MIMEForFormat(e.outputFormat),
		Ext:   e.outputFormat,
	}, nil
}

func (e *OpenAIEditor) upstreamError(status int, raw []byte) error {
	var parsed apiErrorResponse
	message := strings.TrimSpace(string(raw))
	code, errType := "", ""
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
		code = parsed.Error.Code
		errType = parsed.Error.Type
	}
	ue := &UpstreamError{
		Kind:    classify(status, code, errType, message),
		Status:  status,
		Code:    code,
		Message: message,
	}
	e.log.Warn().Int("http_status", status).Str("code", code).Str("message", message).Msg("upstream edit error")
	return ue
}
