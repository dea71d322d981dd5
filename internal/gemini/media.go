package gemini

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/gemini-media-service/internal/mediautil"
)

// DefaultInlineThresholdBytes is the size below which media is embedded in
// the generation request instead of uploaded.
const DefaultInlineThresholdBytes int64 = 10 * 1024 * 1024

// Strategy is how a media asset reaches the remote service.
type Strategy int

const (
	// StrategyInline embeds the bytes, base64-encoded, in the request body.
	StrategyInline Strategy = iota + 1
	// StrategyResumable uploads the bytes first and references the file.
	StrategyResumable
)

// Caller overrides accepted by ParseStrategy.
const (
	MethodAuto      = "auto"
	MethodInline    = "inline"
	MethodResumable = "resumable"
)

func (s Strategy) String() string {
	switch s {
	case StrategyInline:
		return MethodInline
	case StrategyResumable:
		return MethodResumable
	default:
		return "unknown"
	}
}

// SelectStrategy picks inline transmission for assets strictly smaller than
// the threshold and resumable upload otherwise.
func SelectStrategy(sizeBytes, thresholdBytes int64) Strategy {
	if sizeBytes < thresholdBytes {
		return StrategyInline
	}

	return StrategyResumable
}

// ParseStrategy resolves a caller's upload method. "auto" (or empty) defers
// to SelectStrategy; the second return value is false in that case.
func ParseStrategy(method string) (Strategy, bool, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", MethodAuto:
		return 0, false, nil
	case MethodInline:
		return StrategyInline, true, nil
	case MethodResumable:
		return StrategyResumable, true, nil
	default:
		return 0, false, invalidConfigurationf("unsupported upload method %q", method)
	}
}

// MediaAsset describes a file to send to the remote service. It is created
// once from caller input and consumed by one upload strategy.
type MediaAsset struct {
	LocalPath   string
	MimeType    string
	DisplayName string
	SizeBytes   int64
}

// NewMediaAssetFromFile stats path and derives size, MIME type and display
// name.
func NewMediaAssetFromFile(path string) (MediaAsset, error) {
	if path == "" {
		return MediaAsset{}, invalidConfigurationf("media path cannot be empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		return MediaAsset{}, invalidConfigurationf("media file %q: %v", path, err)
	}

	if info.IsDir() {
		return MediaAsset{}, invalidConfigurationf("media path %q is a directory", path)
	}

	mimeType, err := mediautil.DetectMimeType(path)
	if err != nil {
		return MediaAsset{}, fmt.Errorf("failed to detect MIME type: %w", err)
	}

	return MediaAsset{
		LocalPath:   path,
		MimeType:    mimeType,
		DisplayName: mediautil.DisplayName(path),
		SizeBytes:   info.Size(),
	}, nil
}

// Validate checks the fields every upload strategy relies on.
func (a MediaAsset) Validate() error {
	if a.MimeType == "" {
		return invalidConfigurationf("media MIME type cannot be empty")
	}

	if a.SizeBytes < 0 {
		return invalidConfigurationf("media size cannot be negative, got %d", a.SizeBytes)
	}

	return nil
}

// InlinePayload is media embedded directly in a generation request.
type InlinePayload struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileRefPayload references a previously uploaded, ACTIVE file by its full
// canonical resource URL.
type FileRefPayload struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// EncodeInline base64-encodes data. It cannot fail; memory use is linear in
// the input, which is why large assets take the resumable path.
func EncodeInline(data []byte, mimeType string) InlinePayload {
	return InlinePayload{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}
