package gemini

import (
	"slices"
	"strings"
)

// Model identifies a content-generation model the service is allowed to call.
type Model string

// Allowed generation models.
const (
	ModelGemini25Flash Model = "gemini-2.5-flash"
	ModelGemini25Pro   Model = "gemini-2.5-pro"
	ModelGemini20Flash Model = "gemini-2.0-flash"
	ModelGemini15Flash Model = "gemini-1.5-flash"
	ModelGemini15Pro   Model = "gemini-1.5-pro"

	// DefaultModel is used when a caller does not pick one.
	DefaultModel = ModelGemini25Flash
)

// SpeechModel is the fixed text-to-speech model.
const SpeechModel Model = "gemini-2.5-flash-preview-tts"

// Voice identifies a prebuilt speech voice.
type Voice string

// Supported prebuilt voices.
const (
	VoiceKore   Voice = "Kore"
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceFenrir Voice = "Fenrir"
	VoiceAoede  Voice = "Aoede"
	VoiceLeda   Voice = "Leda"
	VoiceOrus   Voice = "Orus"
	VoiceZephyr Voice = "Zephyr"

	// DefaultVoice is used when speech is requested without a voice.
	DefaultVoice = VoiceKore
)

// ModelInfo is the display metadata of an allowed model.
type ModelInfo struct {
	ID          Model  `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// VoiceInfo is the display metadata of a supported voice.
type VoiceInfo struct {
	ID          Voice  `json:"id"`
	DisplayName string `json:"display_name"`
	Style       string `json:"style"`
}

var modelCatalog = map[Model]ModelInfo{
	ModelGemini25Flash: {
		ID:          ModelGemini25Flash,
		DisplayName: "Gemini 2.5 Flash",
		Description: "Fast multimodal model, good default for video and audio.",
	},
	ModelGemini25Pro: {
		ID:          ModelGemini25Pro,
		DisplayName: "Gemini 2.5 Pro",
		Description: "Highest quality reasoning over long media.",
	},
	ModelGemini20Flash: {
		ID:          ModelGemini20Flash,
		DisplayName: "Gemini 2.0 Flash",
		Description: "Previous generation fast multimodal model.",
	},
	ModelGemini15Flash: {
		ID:          ModelGemini15Flash,
		DisplayName: "Gemini 1.5 Flash",
		Description: "Legacy fast model.",
	},
	ModelGemini15Pro: {
		ID:          ModelGemini15Pro,
		DisplayName: "Gemini 1.5 Pro",
		Description: "Legacy long-context model.",
	},
}

var voiceCatalog = map[Voice]VoiceInfo{
	VoiceKore:   {ID: VoiceKore, DisplayName: "Kore", Style: "Firm"},
	VoicePuck:   {ID: VoicePuck, DisplayName: "Puck", Style: "Upbeat"},
	VoiceCharon: {ID: VoiceCharon, DisplayName: "Charon", Style: "Informative"},
	VoiceFenrir: {ID: VoiceFenrir, DisplayName: "Fenrir", Style: "Excitable"},
	VoiceAoede:  {ID: VoiceAoede, DisplayName: "Aoede", Style: "Breezy"},
	VoiceLeda:   {ID: VoiceLeda, DisplayName: "Leda", Style: "Youthful"},
	VoiceOrus:   {ID: VoiceOrus, DisplayName: "Orus", Style: "Firm"},
	VoiceZephyr: {ID: VoiceZephyr, DisplayName: "Zephyr", Style: "Bright"},
}

// ParseModel validates a caller-supplied model identifier against the
// allow-list. An empty string selects DefaultModel.
func ParseModel(raw string) (Model, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultModel, nil
	}

	model := Model(trimmed)
	if _, ok := modelCatalog[model]; !ok {
		return "", invalidConfigurationf("unsupported model %q", raw)
	}

	return model, nil
}

// Valid reports whether m is on the allow-list.
func (m Model) Valid() bool {
	_, ok := modelCatalog[m]

	return ok
}

// ParseVoice validates a caller-supplied voice identifier. Matching is
// case-insensitive; an empty string selects DefaultVoice.
func ParseVoice(raw string) (Voice, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultVoice, nil
	}

	for voice := range voiceCatalog {
		if strings.EqualFold(string(voice), trimmed) {
			return voice, nil
		}
	}

	return "", invalidConfigurationf("unsupported voice %q", raw)
}

// Valid reports whether v is a supported voice.
func (v Voice) Valid() bool {
	_, ok := voiceCatalog[v]

	return ok
}

// Models lists the allowed models sorted by identifier.
func Models() []ModelInfo {
	models := make([]ModelInfo, 0, len(modelCatalog))
	for _, info := range modelCatalog {
		models = append(models, info)
	}

	slices.SortFunc(models, func(a, b ModelInfo) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	return models
}

// Voices lists the supported voices sorted by identifier.
func Voices() []VoiceInfo {
	voices := make([]VoiceInfo, 0, len(voiceCatalog))
	for _, info := range voiceCatalog {
		voices = append(voices, info)
	}

	slices.SortFunc(voices, func(a, b VoiceInfo) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	return voices
}
