package pipeline_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/gemini-media-service/internal/audio"
	"github.com/book-expert/gemini-media-service/internal/config"
	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/pipeline"
	"github.com/book-expert/gemini-media-service/internal/transport"
)

const (
	testCredential = "test-api-key"
	testRemoteID   = "files/pipeline123"
	sessionPath    = "/upload/session/pipeline"
	ttsModelPath   = "/v1beta/models/gemini-2.5-flash-preview-tts:generateContent"
)

// fakeGemini implements just enough of the Gemini REST surface for the
// pipeline: resumable upload, file status, delete, text and speech generation.
type fakeGemini struct {
	server         *httptest.Server
	mu             sync.Mutex
	states         []string
	generateBodies []map[string]any
	ttsTexts       []string
	generatedText  string
	uploadedBytes  atomic.Int64
	startCalls     atomic.Int32
	statusCalls    atomic.Int32
	deleteCalls    atomic.Int32
	generateCalls  atomic.Int32
	ttsCalls       atomic.Int32
	generateStatus int
}

func newFakeGemini(t *testing.T, states ...string) *fakeGemini {
	t.Helper()

	fake := &fakeGemini{
		states:         states,
		generatedText:  "Hello",
		generateStatus: http.StatusOK,
	}

	fake.server = httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, testCredential, request.Header.Get("X-Goog-Api-Key"))

		switch {
		case request.URL.Path == "/upload/v1beta/files":
			fake.startCalls.Add(1)
			responseWriter.Header().Set("X-Goog-Upload-URL", fake.server.URL+sessionPath)
			responseWriter.WriteHeader(http.StatusOK)
		case request.URL.Path == sessionPath:
			written, err := io.Copy(io.Discard, request.Body)
			assert.NoError(t, err)
			fake.uploadedBytes.Store(written)
			writeJSON(t, responseWriter, map[string]any{"file": map[string]any{
				"name": testRemoteID, "uri": fake.server.URL + "/v1beta/" + testRemoteID,
				"mimeType": "video/mp4", "state": "PROCESSING",
			}})
		case request.URL.Path == "/v1beta/"+testRemoteID && request.Method == http.MethodGet:
			index := int(fake.statusCalls.Add(1)) - 1
			if index >= len(fake.states) {
				index = len(fake.states) - 1
			}

			writeJSON(t, responseWriter, map[string]any{"name": testRemoteID, "state": fake.states[index]})
		case request.URL.Path == "/v1beta/"+testRemoteID && request.Method == http.MethodDelete:
			fake.deleteCalls.Add(1)
			responseWriter.WriteHeader(http.StatusOK)
		case request.URL.Path == ttsModelPath:
			fake.ttsCalls.Add(1)
			fake.recordTTS(t, request)

			pcm := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
			writeJSON(t, responseWriter, candidateWith(map[string]any{
				"inlineData": map[string]any{"mimeType": "audio/L16", "data": pcm},
			}))
		case strings.HasSuffix(request.URL.Path, ":generateContent"):
			fake.generateCalls.Add(1)
			fake.recordGenerate(t, request)

			if fake.generateStatus != http.StatusOK {
				responseWriter.WriteHeader(fake.generateStatus)
				_, _ = responseWriter.Write([]byte(`{"error":{"message":"model overloaded"}}`))

				return
			}

			writeJSON(t, responseWriter, candidateWith(map[string]any{"text": fake.generatedText}))
		default:
			t.Errorf("unexpected %s %s", request.Method, request.URL.Path)
			responseWriter.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fake.server.Close)

	return fake
}

func (fake *fakeGemini) recordGenerate(t *testing.T, request *http.Request) {
	t.Helper()

	var body map[string]any

	assert.NoError(t, json.NewDecoder(request.Body).Decode(&body))

	fake.mu.Lock()
	fake.generateBodies = append(fake.generateBodies, body)
	fake.mu.Unlock()
}

func (fake *fakeGemini) recordTTS(t *testing.T, request *http.Request) {
	t.Helper()

	var body struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}

	assert.NoError(t, json.NewDecoder(request.Body).Decode(&body))

	if len(body.Contents) == 1 && len(body.Contents[0].Parts) == 1 {
		fake.mu.Lock()
		fake.ttsTexts = append(fake.ttsTexts, body.Contents[0].Parts[0].Text)
		fake.mu.Unlock()
	}
}

// lastMediaPart returns the second part of the last generateContent request.
func (fake *fakeGemini) lastMediaPart(t *testing.T) map[string]any {
	t.Helper()

	fake.mu.Lock()
	defer fake.mu.Unlock()

	require.NotEmpty(t, fake.generateBodies)

	body := fake.generateBodies[len(fake.generateBodies)-1]
	contents, ok := body["contents"].([]any)
	require.True(t, ok)

	first, ok := contents[0].(map[string]any)
	require.True(t, ok)

	parts, ok := first["parts"].([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)

	media, ok := parts[1].(map[string]any)
	require.True(t, ok)

	return media
}

func candidateWith(part map[string]any) map[string]any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{part}},
			"finishReason": "STOP",
		}},
	}
}

func writeJSON(t *testing.T, responseWriter http.ResponseWriter, payload any) {
	t.Helper()

	responseWriter.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(responseWriter).Encode(payload)
	if err != nil {
		t.Errorf("failed to write mock response: %v", err)
	}
}

func newRunner(t *testing.T, fake *fakeGemini, mutate func(cfg *config.Config)) *pipeline.Runner {
	t.Helper()

	log, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	cfg := config.Default()
	cfg.Gemini.BaseURL = fake.server.URL
	cfg.Poll.IntervalMS = 1
	cfg.Poll.MaxAttempts = 5

	if mutate != nil {
		mutate(cfg)
	}

	client := gemini.NewClient(transport.NewClient(time.Minute), cfg.ClientConfig(), log)

	return pipeline.NewRunner(client, cfg, log)
}

// sparseFile creates a file of the given size without writing its bytes.
func sparseFile(t *testing.T, name string, size int64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)

	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, file.Truncate(size))
	require.NoError(t, file.Close())

	return path
}

func defaultOptions() pipeline.JobOptions {
	return pipeline.JobOptions{
		Prompt:       "Summarize this",
		Model:        "",
		Voice:        "",
		UploadMethod: "",
		Credential:   testCredential,
		Speak:        false,
	}
}

func TestRunFile_SmallFileGoesInline(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	runner := newRunner(t, fake, nil)

	path := sparseFile(t, "clip.mp4", 5_000_000)

	result, err := runner.RunFile(context.Background(), path, defaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "Hello", result.Text)
	assert.Equal(t, gemini.StrategyInline, result.Strategy)
	assert.Equal(t, gemini.DefaultModel, result.Model)
	assert.Empty(t, result.Handle.RemoteID)

	assert.Equal(t, int32(0), fake.startCalls.Load(), "inline never uploads")
	assert.Equal(t, int32(0), fake.statusCalls.Load(), "inline never polls")
	assert.Equal(t, int32(1), fake.generateCalls.Load())

	media := fake.lastMediaPart(t)
	inline, ok := media["inlineData"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "video/mp4", inline["mimeType"])

	data, ok := inline["data"].(string)
	require.True(t, ok)
	assert.Equal(t, base64.StdEncoding.EncodedLen(5_000_000), len(data))
}

func TestRunFile_LargeFileGoesResumable(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "PROCESSING", "ACTIVE")
	runner := newRunner(t, fake, nil)

	path := sparseFile(t, "lecture.mp4", 50_000_000)

	result, err := runner.RunFile(context.Background(), path, defaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "Hello", result.Text)
	assert.Equal(t, gemini.StrategyResumable, result.Strategy)
	assert.Equal(t, testRemoteID, result.Handle.RemoteID)

	assert.Equal(t, int32(1), fake.startCalls.Load())
	assert.Equal(t, int64(50_000_000), fake.uploadedBytes.Load())
	assert.Equal(t, int32(2), fake.statusCalls.Load())
	assert.Equal(t, int32(0), fake.deleteCalls.Load(), "cleanup is off by default")

	media := fake.lastMediaPart(t)
	assert.NotContains(t, media, "inlineData")

	fileData, ok := media["fileData"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, fake.server.URL+"/v1beta/"+testRemoteID, fileData["fileUri"])
	assert.Equal(t, "video/mp4", fileData["mimeType"])
}

func TestRun_ForcedMethodOverridesThreshold(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	runner := newRunner(t, fake, nil)

	opts := defaultOptions()
	opts.UploadMethod = gemini.MethodResumable

	job := pipeline.Job{
		Content: []byte("tiny clip"),
		Asset:   gemini.MediaAsset{LocalPath: "", MimeType: "video/mp4", DisplayName: "tiny.mp4", SizeBytes: 0},
		Options: opts,
	}

	result, err := runner.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, gemini.StrategyResumable, result.Strategy)
	assert.Equal(t, int64(len("tiny clip")), fake.uploadedBytes.Load())
}

func TestRun_ThresholdFromConfig(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	runner := newRunner(t, fake, func(cfg *config.Config) {
		cfg.Upload.InlineThresholdBytes = 4
	})

	job := pipeline.Job{
		Content: []byte("four"),
		Asset:   gemini.MediaAsset{LocalPath: "", MimeType: "audio/mpeg", DisplayName: "four.mp3", SizeBytes: 4},
		Options: defaultOptions(),
	}

	result, err := runner.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, gemini.StrategyResumable, result.Strategy)
}

func TestRun_CleanupDeletesRemoteFile(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	runner := newRunner(t, fake, func(cfg *config.Config) {
		cfg.Upload.CleanupRemoteFiles = true
	})

	opts := defaultOptions()
	opts.UploadMethod = gemini.MethodResumable

	_, err := runner.RunFile(context.Background(), sparseFile(t, "talk.mp4", 64), opts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.deleteCalls.Load())
}

func TestRun_CleanupAfterProcessingFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "PROCESSING", "FAILED")
	runner := newRunner(t, fake, func(cfg *config.Config) {
		cfg.Upload.CleanupRemoteFiles = true
	})

	opts := defaultOptions()
	opts.UploadMethod = gemini.MethodResumable

	_, err := runner.RunFile(context.Background(), sparseFile(t, "broken.mp4", 64), opts)
	require.ErrorIs(t, err, gemini.ErrProcessingFailed)

	assert.Equal(t, int32(0), fake.generateCalls.Load(), "generation never runs on a failed file")
	assert.Equal(t, int32(1), fake.deleteCalls.Load())
}

func TestRun_ProcessingTimeout(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "PROCESSING")
	runner := newRunner(t, fake, func(cfg *config.Config) {
		cfg.Poll.MaxAttempts = 3
	})

	opts := defaultOptions()
	opts.UploadMethod = gemini.MethodResumable

	_, err := runner.RunFile(context.Background(), sparseFile(t, "slow.mp4", 64), opts)
	require.ErrorIs(t, err, gemini.ErrProcessingTimeout)
	assert.Equal(t, int32(3), fake.statusCalls.Load())
	assert.Equal(t, gemini.KindProcessingTimeout, gemini.KindName(err))
}

func TestRun_GenerationFailureCarriesBody(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	fake.generateStatus = http.StatusServiceUnavailable
	runner := newRunner(t, fake, nil)

	_, err := runner.RunFile(context.Background(), sparseFile(t, "clip.mp4", 16), defaultOptions())
	require.ErrorIs(t, err, gemini.ErrGenerationRequestFailed)
	assert.Contains(t, gemini.UpstreamBody(err), "model overloaded")
}

func TestRun_SpeakNarratesPreparedText(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	fake.generatedText = "## Summary\n\nThe talk covers **Go**."
	runner := newRunner(t, fake, nil)

	opts := defaultOptions()
	opts.Speak = true
	opts.Voice = "charon"

	result, err := runner.RunFile(context.Background(), sparseFile(t, "clip.mp4", 16), opts)
	require.NoError(t, err)

	assert.Equal(t, "## Summary\n\nThe talk covers **Go**.", result.Text, "analysis text stays verbatim")
	require.Len(t, result.Audio, audio.HeaderSize+4)
	assert.Equal(t, "RIFF", string(result.Audio[:4]))

	fake.mu.Lock()
	defer fake.mu.Unlock()

	require.Len(t, fake.ttsTexts, 1)
	assert.Equal(t, "Summary. The talk covers Go.", fake.ttsTexts[0])
}

func TestRun_RejectsBeforeNetwork(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	runner := newRunner(t, fake, nil)
	path := sparseFile(t, "clip.mp4", 16)

	testCases := []struct {
		mutate func(opts *pipeline.JobOptions)
		name   string
	}{
		{name: "empty credential", mutate: func(opts *pipeline.JobOptions) { opts.Credential = " " }},
		{name: "empty prompt", mutate: func(opts *pipeline.JobOptions) { opts.Prompt = "" }},
		{name: "unknown model", mutate: func(opts *pipeline.JobOptions) { opts.Model = "gemini-0.1" }},
		{name: "unknown voice", mutate: func(opts *pipeline.JobOptions) { opts.Voice = "Robot" }},
		{name: "unknown method", mutate: func(opts *pipeline.JobOptions) { opts.UploadMethod = "fax" }},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			opts := defaultOptions()
			testCase.mutate(&opts)

			_, err := runner.RunFile(context.Background(), path, opts)
			require.ErrorIs(t, err, gemini.ErrInvalidConfiguration)
		})
	}

	_, err := runner.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), defaultOptions())
	require.ErrorIs(t, err, gemini.ErrInvalidConfiguration)

	_, err = runner.Run(context.Background(), pipeline.Job{
		Content: nil,
		Asset:   gemini.MediaAsset{LocalPath: "", MimeType: "video/mp4", DisplayName: "ghost", SizeBytes: 1},
		Options: defaultOptions(),
	})
	require.ErrorIs(t, err, pipeline.ErrMediaMissing)
}

func TestRunBatch_IndependentOutcomes(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	runner := newRunner(t, fake, func(cfg *config.Config) {
		cfg.Pipeline.Workers = 2
	})

	dir := t.TempDir()
	jobs := make([]pipeline.FileJob, 0, 5)

	for _, name := range []string{"a.mp4", "b.mp3", "c.wav"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("media "+name), 0o600))
		jobs = append(jobs, pipeline.FileJob{Path: path, Options: defaultOptions()})
	}

	jobs = append(jobs, pipeline.FileJob{Path: filepath.Join(dir, "missing.mp4"), Options: defaultOptions()})

	badPrompt := defaultOptions()
	badPrompt.Prompt = ""
	jobs = append(jobs, pipeline.FileJob{Path: jobs[0].Path, Options: badPrompt})

	outcomes := runner.RunBatch(context.Background(), jobs)
	require.Len(t, outcomes, len(jobs))

	for index := range 3 {
		require.NoError(t, outcomes[index].Err)
		assert.Equal(t, jobs[index].Path, outcomes[index].Path)
		assert.Equal(t, "Hello", outcomes[index].Result.Text)
	}

	require.Error(t, outcomes[3].Err)
	require.ErrorIs(t, outcomes[4].Err, pipeline.ErrPromptEmpty)
	assert.Equal(t, int32(3), fake.generateCalls.Load())
}

func TestSpeak_NothingSpeakable(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")
	runner := newRunner(t, fake, nil)

	_, err := runner.Speak(context.Background(), "```\ncode only\n```", "", testCredential)
	require.ErrorIs(t, err, pipeline.ErrNothingToSpeak)
	require.ErrorIs(t, err, gemini.ErrInvalidConfiguration)
	assert.Equal(t, int32(0), fake.ttsCalls.Load())

	wav, err := runner.Speak(context.Background(), "Plain words", "", testCredential)
	require.NoError(t, err)
	assert.Len(t, wav, audio.HeaderSize+4)
}

func TestSpeak_LongTextIsTruncatedAndLogged(t *testing.T) {
	t.Parallel()

	fake := newFakeGemini(t, "ACTIVE")

	logDir := t.TempDir()
	log, err := logger.New(logDir, "speak-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	cfg := config.Default()
	cfg.Gemini.BaseURL = fake.server.URL
	cfg.Speech.MaxChars = 30

	client := gemini.NewClient(transport.NewClient(time.Minute), cfg.ClientConfig(), log)
	runner := pipeline.NewRunner(client, cfg, log)

	text := "The first sentence is short. The second sentence goes well past the limit."

	_, err = runner.Speak(context.Background(), text, "", testCredential)
	require.NoError(t, err)

	fake.mu.Lock()
	require.Len(t, fake.ttsTexts, 1)
	spoken := fake.ttsTexts[0]
	fake.mu.Unlock()

	assert.Contains(t, spoken, "The first sentence is short.")
	assert.NotContains(t, spoken, "second sentence")

	logged, err := os.ReadFile(filepath.Join(logDir, "speak-test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logged), fmt.Sprintf("Narration text has %d characters; only the first 30 are spoken", len(text)))
}
