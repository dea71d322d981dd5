// Package httpapi exposes the media analysis pipeline over HTTP.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/book-expert/gemini-media-service/internal/core"
	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/mediautil"
	"github.com/book-expert/gemini-media-service/internal/pipeline"
)

const (
	// MaxUploadBytes is the largest media file accepted by /v1/analyze.
	MaxUploadBytes int64 = 2 << 30
	// multipartMemoryBytes is kept in memory; larger parts spill to disk.
	multipartMemoryBytes = 32 << 20
	maxSpeechBodyBytes   = 1 << 20

	// HeaderAPIKey carries the caller's Gemini credential.
	HeaderAPIKey = "X-Goog-Api-Key"
	bearerPrefix = "Bearer "

	formFile         = "file"
	formPrompt       = "prompt"
	formModel        = "model"
	formVoice        = "voice"
	formUploadMethod = "upload_method"
	formSpeak        = "speak"
)

var (
	// ErrFileMissing indicates a multipart request without a file part.
	ErrFileMissing = errors.New("multipart field 'file' is required")
	// ErrMalformedRequest indicates a body that could not be decoded.
	ErrMalformedRequest = errors.New("malformed request body")
)

const (
	logFmtAnalyzeStarting = "Received %s (%s) for analysis"
	logFmtSpoolCleanup    = "Failed to remove spooled upload %s: %v"
)

// AnalyzeResponse is the body of a successful /v1/analyze request.
type AnalyzeResponse struct {
	Text         string `json:"text"`
	Strategy     string `json:"strategy"`
	Model        string `json:"model"`
	RemoteID     string `json:"remote_id,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	AudioBase64  string `json:"audio_base64,omitempty"`
	ElapsedMS    int64  `json:"elapsed_ms"`
}

// SpeechRequest is the body of /v1/speech.
type SpeechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Server serves the HTTP API on top of an Analyzer.
type Server struct {
	analyzer          core.Analyzer
	log               *logger.Logger
	defaultCredential string
}

// NewServer creates a Server. defaultCredential is used when a request
// carries no credential of its own.
func NewServer(analyzer core.Analyzer, defaultCredential string, log *logger.Logger) *Server {
	return &Server{
		analyzer:          analyzer,
		log:               log,
		defaultCredential: defaultCredential,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(accessLogMiddleware(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, gemini.Models())
		})
		r.Get("/voices", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, gemini.Voices())
		})
		r.Post("/analyze", s.analyze)
		r.Post("/speech", s.speech)
	})

	return r
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	err := r.ParseMultipartForm(multipartMemoryBytes)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w: %w", gemini.ErrInvalidConfiguration, ErrMalformedRequest, err))

		return
	}

	defer func() { _ = r.MultipartForm.RemoveAll() }()

	part, header, err := r.FormFile(formFile)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", gemini.ErrInvalidConfiguration, ErrFileMissing))

		return
	}
	defer func() { _ = part.Close() }()

	speak, err := parseBool(r.FormValue(formSpeak))
	if err != nil {
		writeError(w, r, err)

		return
	}

	asset, cleanup, err := s.spool(part, header)
	if err != nil {
		writeError(w, r, err)

		return
	}
	defer cleanup()

	s.log.Info(logFmtAnalyzeStarting, asset.DisplayName, mediautil.FormatFileSize(asset.SizeBytes))

	result, err := s.analyzer.Run(r.Context(), pipeline.Job{
		Content: nil,
		Asset:   asset,
		Options: pipeline.JobOptions{
			Prompt:       r.FormValue(formPrompt),
			Model:        r.FormValue(formModel),
			Voice:        r.FormValue(formVoice),
			UploadMethod: r.FormValue(formUploadMethod),
			Credential:   s.credential(r),
			Speak:        speak,
		},
	})
	if err != nil {
		writeError(w, r, err)

		return
	}

	response := AnalyzeResponse{
		Text:         result.Text,
		Strategy:     result.Strategy.String(),
		Model:        string(result.Model),
		RemoteID:     result.Handle.RemoteID,
		FinishReason: result.FinishReason,
		AudioBase64:  "",
		ElapsedMS:    result.Elapsed.Milliseconds(),
	}

	if len(result.Audio) > 0 {
		response.AudioBase64 = base64.StdEncoding.EncodeToString(result.Audio)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) speech(w http.ResponseWriter, r *http.Request) {
	var request SpeechRequest

	err := json.NewDecoder(io.LimitReader(r.Body, maxSpeechBodyBytes)).Decode(&request)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w: %w", gemini.ErrInvalidConfiguration, ErrMalformedRequest, err))

		return
	}

	// An empty voice is passed through so the configured default applies.
	var voice gemini.Voice

	if strings.TrimSpace(request.Voice) != "" {
		voice, err = gemini.ParseVoice(request.Voice)
		if err != nil {
			writeError(w, r, err)

			return
		}
	}

	wav, err := s.analyzer.Speak(r.Context(), request.Text, voice, s.credential(r))
	if err != nil {
		writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// spool copies the uploaded part to a temporary file so resumable uploads
// can stream it. The returned cleanup removes the file.
func (s *Server) spool(part multipart.File, header *multipart.FileHeader) (gemini.MediaAsset, func(), error) {
	displayName := mediautil.DisplayName(header.Filename)

	spooled, err := os.CreateTemp("", "media-upload-*"+filepath.Ext(displayName))
	if err != nil {
		return gemini.MediaAsset{}, nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	cleanup := func() {
		removeErr := os.Remove(spooled.Name())
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn(logFmtSpoolCleanup, spooled.Name(), removeErr)
		}
	}

	size, copyErr := io.Copy(spooled, part)
	closeErr := spooled.Close()

	if copyErr != nil || closeErr != nil {
		cleanup()

		return gemini.MediaAsset{}, nil, fmt.Errorf("failed to spool upload: %w", errors.Join(copyErr, closeErr))
	}

	mimeType := partMimeType(header)
	if mimeType == "" {
		mimeType, err = mediautil.DetectMimeType(spooled.Name())
		if err != nil {
			cleanup()

			return gemini.MediaAsset{}, nil, fmt.Errorf("failed to detect MIME type: %w", err)
		}
	}

	return gemini.MediaAsset{
		LocalPath:   spooled.Name(),
		MimeType:    mimeType,
		DisplayName: displayName,
		SizeBytes:   size,
	}, cleanup, nil
}

// partMimeType trusts the part's declared type unless it is the generic
// octet-stream, then falls back to the file name's extension.
func partMimeType(header *multipart.FileHeader) string {
	declared := strings.TrimSpace(header.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	return mediautil.MimeTypeFromExtension(header.Filename)
}

// credential prefers X-Goog-Api-Key, then an Authorization bearer token,
// then the configured key.
func (s *Server) credential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}

	authorization := r.Header.Get("Authorization")
	if strings.HasPrefix(authorization, bearerPrefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix)); token != "" {
			return token
		}
	}

	return s.defaultCredential
}

func parseBool(raw string) (bool, error) {
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}

	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%w: field '%s' must be a boolean, got %q", gemini.ErrInvalidConfiguration, formSpeak, raw)
	}

	return value, nil
}
