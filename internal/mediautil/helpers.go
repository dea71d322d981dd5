// Package mediautil provides file, size and MIME helpers shared by the CLI,
// the HTTP API and the pipeline.
//
// It covers platform-agnostic path handling, human-readable formatting of
// sizes and durations, and MIME type detection for media uploads.
package mediautil

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Common path constants.
const (
	defaultDirPermissions  = 0o750
	dot                    = "."
	invalidCharReplacement = "_"
	sniffLength            = 512
	fallbackMimeType       = "application/octet-stream"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtFailedToOpen      = "failed to open %s: %w"
	errFmtFailedToSniff     = "failed to read %s: %w"
)

// Extensions the remote service is known to accept, mapped to their MIME
// types. mime.TypeByExtension depends on the host's mime tables, so the
// common media types are pinned here.
var mediaTypesByExtension = map[string]string{
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".wmv":  "video/x-ms-wmv",
	".3gp":  "video/3gpp",
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".aiff": "audio/aiff",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
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

// MimeTypeFromExtension returns the MIME type for a filename's extension, or
// "" when it is unknown.
func MimeTypeFromExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}

	if mimeType, ok := mediaTypesByExtension[ext]; ok {
		return mimeType
	}

	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return ""
	}

	// Drop parameters such as "; charset=utf-8".
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return mimeType
	}

	return mediaType
}

// ExtensionFromMIME returns a file extension (with the leading dot) for a
// MIME type, or "" if none is known.
func ExtensionFromMIME(mimeType string) string {
	for ext, candidate := range mediaTypesByExtension {
		if candidate == mimeType && ext != ".jpeg" && ext != ".mpg" {
			return ext
		}
	}

	extensions, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(extensions) == 0 {
		return ""
	}

	return extensions[0]
}

// DetectMimeType resolves the MIME type of a local file, preferring the
// extension and falling back to content sniffing.
func DetectMimeType(path string) (string, error) {
	if mimeType := MimeTypeFromExtension(path); mimeType != "" {
		return mimeType, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf(errFmtFailedToOpen, path, err)
	}
	defer file.Close()

	head := make([]byte, sniffLength)

	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf(errFmtFailedToSniff, path, err)
	}

	return SniffMimeType(head[:n]), nil
}

// SniffMimeType guesses a MIME type from the first bytes of a file.
func SniffMimeType(head []byte) string {
	if len(head) == 0 {
		return fallbackMimeType
	}

	detected := http.DetectContentType(head)

	mediaType, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return fallbackMimeType
	}

	return mediaType
}

// DisplayName derives a human-facing name for an uploaded file.
func DisplayName(path string) string {
	base := filepath.Base(path)
	if base == dot || base == string(filepath.Separator) {
		return ""
	}

	return SanitizeFilename(base)
}
