package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	logFmtGenerating = "Requesting %s generation with %s payload"
	logFmtGenerated  = "Generation finished: %d characters (finish reason %q)"

	detailEmptyPrompt      = "prompt cannot be empty"
	detailNoPayload        = "exactly one of inline or file payload is required"
	detailNoCandidates     = "response has no candidates"
	detailNoParts          = "first candidate has no content parts"
	detailEmptyText        = "first content part has no text"
	detailBlockedFmt       = "prompt blocked: %s"
	detailFinishReasonFmt  = "finish reason %s"
	payloadKindInline      = "inline"
	payloadKindFileRef     = "file reference"
	finishReasonUnreported = "UNSPECIFIED"
)

// MediaPayload is exactly one of an inline payload or a file reference.
type MediaPayload struct {
	Inline  *InlinePayload
	FileRef *FileRefPayload
}

// InlineMedia wraps an inline payload.
func InlineMedia(payload InlinePayload) MediaPayload {
	return MediaPayload{Inline: &payload, FileRef: nil}
}

// FileMedia references an uploaded file through its canonical URL.
func FileMedia(handle UploadHandle) MediaPayload {
	return MediaPayload{
		Inline: nil,
		FileRef: &FileRefPayload{
			MimeType: handle.MimeType,
			FileURI:  handle.URI,
		},
	}
}

func (p MediaPayload) kind() string {
	if p.Inline != nil {
		return payloadKindInline
	}

	return payloadKindFileRef
}

func (p MediaPayload) validate() error {
	if (p.Inline == nil) == (p.FileRef == nil) {
		return invalidConfigurationf(detailNoPayload)
	}

	if p.FileRef != nil && p.FileRef.FileURI == "" {
		return invalidConfigurationf("file reference has no URI")
	}

	return nil
}

// GenerationRequest is built fresh for every call.
type GenerationRequest struct {
	Prompt  string
	Model   Model
	Payload MediaPayload
}

// GenerationResult is the text of the first candidate, unmodified.
type GenerationResult struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Wire types of generateContent.
type (
	contentPart struct {
		InlineData *InlinePayload  `json:"inlineData,omitempty"`
		FileData   *FileRefPayload `json:"fileData,omitempty"`
		Text       string          `json:"text,omitempty"`
	}

	content struct {
		Role  string        `json:"role,omitempty"`
		Parts []contentPart `json:"parts"`
	}

	generationConfig struct {
		Temperature        *float64      `json:"temperature,omitempty"`
		SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
		ResponseModalities []string      `json:"responseModalities,omitempty"`
	}

	generateContentRequest struct {
		GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
		Contents         []content         `json:"contents"`
	}

	candidate struct {
		Content      *content `json:"content"`
		FinishReason string   `json:"finishReason"`
	}

	promptFeedback struct {
		BlockReason string `json:"blockReason"`
	}

	generateContentResponse struct {
		PromptFeedback *promptFeedback `json:"promptFeedback"`
		Candidates     *[]candidate    `json:"candidates"`
	}
)

// Generate sends the prompt followed by exactly one media part and returns
// the first candidate's text. The model is checked against the allow-list
// before any network call.
func (c *Client) Generate(
	ctx context.Context,
	req GenerationRequest,
	credential string,
) (GenerationResult, error) {
	if !req.Model.Valid() {
		return GenerationResult{}, invalidConfigurationf("unsupported model %q", req.Model)
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return GenerationResult{}, invalidConfigurationf(detailEmptyPrompt)
	}

	payloadErr := req.Payload.validate()
	if payloadErr != nil {
		return GenerationResult{}, payloadErr
	}

	credentialLine, err := credentialHeader(credential)
	if err != nil {
		return GenerationResult{}, err
	}

	mediaPart := contentPart{
		InlineData: req.Payload.Inline,
		FileData:   req.Payload.FileRef,
		Text:       "",
	}

	body := generateContentRequest{
		GenerationConfig: c.textGenerationConfig(),
		Contents: []content{{
			Role:  "user",
			Parts: []contentPart{{InlineData: nil, FileData: nil, Text: req.Prompt}, mediaPart},
		}},
	}

	c.log.Info(logFmtGenerating, req.Model, req.Payload.kind())

	resp, err := c.postJSON(ctx, c.generateURL(req.Model), credentialLine, body)
	if err != nil {
		return GenerationResult{}, stageTransportError(ErrGenerationRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return GenerationResult{}, newUpstreamError(ErrGenerationRequestFailed, resp.StatusCode, resp.Body, "")
	}

	result, err := extractGeneratedText(resp.Body)
	if err != nil {
		return GenerationResult{}, err
	}

	c.log.Info(logFmtGenerated, len(result.Text), result.FinishReason)

	return result, nil
}

func (c *Client) textGenerationConfig() *generationConfig {
	if c.temperature <= 0 {
		return nil
	}

	temperature := c.temperature

	return &generationConfig{
		Temperature:        &temperature,
		SpeechConfig:       nil,
		ResponseModalities: nil,
	}
}

// extractGeneratedText reads candidates[0].content.parts[0].text. A response
// that parsed but carried no parts is ErrNoContentProduced (safety filters,
// unsupported media); anything that does not look like a generateContent
// response at all is ErrUnexpectedResponseShape.
func extractGeneratedText(body []byte) (GenerationResult, error) {
	first, err := firstCandidate(body)
	if err != nil {
		return GenerationResult{}, err
	}

	finishReason := first.FinishReason

	if first.Content == nil || len(first.Content.Parts) == 0 {
		return GenerationResult{}, newUpstreamError(
			ErrNoContentProduced, http.StatusOK, body, noContentDetail(detailNoParts, finishReason),
		)
	}

	text := first.Content.Parts[0].Text
	if text == "" {
		return GenerationResult{}, newUpstreamError(
			ErrNoContentProduced, http.StatusOK, body, noContentDetail(detailEmptyText, finishReason),
		)
	}

	return GenerationResult{Text: text, FinishReason: finishReason}, nil
}

// firstCandidate decodes a generateContent response and returns its first
// candidate, classifying the ways that can fail.
func firstCandidate(body []byte) (candidate, error) {
	var decoded generateContentResponse

	err := json.Unmarshal(body, &decoded)
	if err != nil {
		return candidate{}, newUpstreamError(ErrUnexpectedResponseShape, http.StatusOK, body, err.Error())
	}

	if decoded.Candidates == nil || len(*decoded.Candidates) == 0 {
		if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
			return candidate{}, newUpstreamError(
				ErrNoContentProduced, http.StatusOK, body, fmt.Sprintf(detailBlockedFmt, decoded.PromptFeedback.BlockReason),
			)
		}

		return candidate{}, newUpstreamError(ErrUnexpectedResponseShape, http.StatusOK, body, detailNoCandidates)
	}

	return (*decoded.Candidates)[0], nil
}

func noContentDetail(detail, finishReason string) string {
	if finishReason == "" {
		finishReason = finishReasonUnreported
	}

	return detail + ", " + fmt.Sprintf(detailFinishReasonFmt, finishReason)
}
