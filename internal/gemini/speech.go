package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/book-expert/gemini-media-service/internal/audio"
)

const (
	modalityAudio = "AUDIO"

	logFmtSynthesizing = "Synthesizing %d characters with voice %s"
	logFmtSynthesized  = "Synthesized %d bytes of WAV (%s of audio)"

	detailEmptySpeechText = "speech text cannot be empty"
	detailNoInlineAudio   = "first content part has no inline audio data"
)

type (
	prebuiltVoiceConfig struct {
		VoiceName string `json:"voiceName"`
	}

	voiceConfig struct {
		PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
	}

	speechConfig struct {
		VoiceConfig voiceConfig `json:"voiceConfig"`
	}
)

func newSpeechConfig(voice Voice) *speechConfig {
	return &speechConfig{
		VoiceConfig: voiceConfig{
			PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: string(voice)},
		},
	}
}

// Synthesize turns text into speech with the fixed TTS model and returns a
// WAV container around the 24 kHz mono 16-bit PCM the model produces.
func (c *Client) Synthesize(ctx context.Context, text string, voice Voice, credential string) ([]byte, error) {
	if !voice.Valid() {
		return nil, invalidConfigurationf("unsupported voice %q", voice)
	}

	if strings.TrimSpace(text) == "" {
		return nil, invalidConfigurationf(detailEmptySpeechText)
	}

	credentialLine, err := credentialHeader(credential)
	if err != nil {
		return nil, err
	}

	body := generateContentRequest{
		GenerationConfig: &generationConfig{
			Temperature:        nil,
			SpeechConfig:       newSpeechConfig(voice),
			ResponseModalities: []string{modalityAudio},
		},
		Contents: []content{{
			Role:  "user",
			Parts: []contentPart{{InlineData: nil, FileData: nil, Text: text}},
		}},
	}

	c.log.Info(logFmtSynthesizing, len(text), voice)

	resp, err := c.postJSON(ctx, c.generateURL(SpeechModel), credentialLine, body)
	if err != nil {
		return nil, stageTransportError(ErrGenerationRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newUpstreamError(ErrGenerationRequestFailed, resp.StatusCode, resp.Body, "")
	}

	encoded, err := extractInlineAudio(resp.Body)
	if err != nil {
		return nil, err
	}

	wav, err := audio.SpeechWAVFromBase64(encoded)
	if err != nil {
		return nil, &UpstreamError{Kind: ErrAudioDecodeFailed, Detail: err.Error(), Body: "", StatusCode: resp.StatusCode}
	}

	c.log.Info(logFmtSynthesized, len(wav), audio.SpeechFormat().Duration(len(wav)-audio.HeaderSize))

	return wav, nil
}

// extractInlineAudio returns candidates[0].content.parts[0].inlineData.data.
// A body that is not JSON is ErrUnexpectedResponseShape; a JSON body without
// the audio field is ErrNoAudioProduced.
func extractInlineAudio(body []byte) (string, error) {
	if !json.Valid(body) {
		return "", newUpstreamError(ErrUnexpectedResponseShape, http.StatusOK, body, detailInvalidJSON)
	}

	var decoded generateContentResponse

	err := json.Unmarshal(body, &decoded)
	if err != nil {
		return "", newUpstreamError(ErrUnexpectedResponseShape, http.StatusOK, body, err.Error())
	}

	if decoded.Candidates == nil || len(*decoded.Candidates) == 0 {
		return "", newUpstreamError(ErrNoAudioProduced, http.StatusOK, body, detailNoCandidates)
	}

	first := (*decoded.Candidates)[0]
	if first.Content == nil || len(first.Content.Parts) == 0 {
		return "", newUpstreamError(ErrNoAudioProduced, http.StatusOK, body, noContentDetail(detailNoParts, first.FinishReason))
	}

	inline := first.Content.Parts[0].InlineData
	if inline == nil || inline.Data == "" {
		return "", newUpstreamError(ErrNoAudioProduced, http.StatusOK, body, detailNoInlineAudio)
	}

	return inline.Data, nil
}
