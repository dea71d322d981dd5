package gemini_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/transport"
)

const (
	testCredential = "test-api-key"
	testRemoteID   = "files/abc123"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "gemini-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func newTestClient(t *testing.T, server *httptest.Server) *gemini.Client {
	t.Helper()

	return gemini.NewClient(
		transport.NewClient(10*time.Second),
		gemini.ClientConfig{BaseURL: server.URL, UploadBaseURL: server.URL, Temperature: 0},
		newTestLogger(t),
	)
}

// unreachableClient points at a closed server so any network call fails.
func unreachableClient(t *testing.T) *gemini.Client {
	t.Helper()

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	return newTestClient(t, server)
}

func writeJSON(t *testing.T, responseWriter http.ResponseWriter, status int, payload any) {
	t.Helper()

	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(status)

	err := json.NewEncoder(responseWriter).Encode(payload)
	if err != nil {
		t.Errorf("failed to write mock response: %v", err)
	}
}

func decodeBody(t *testing.T, request *http.Request) map[string]any {
	t.Helper()

	raw, err := io.ReadAll(request.Body)
	if err != nil {
		t.Errorf("failed to read request body: %v", err)

		return nil
	}

	var decoded map[string]any

	err = json.Unmarshal(raw, &decoded)
	if err != nil {
		t.Errorf("request body is not JSON: %v (%s)", err, raw)

		return nil
	}

	return decoded
}

// textResponse builds a generateContent response with one text part.
func textResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
}

// firstParts returns contents[0].parts of a decoded generateContent request.
func firstParts(t *testing.T, body map[string]any) []any {
	t.Helper()

	contents, ok := body["contents"].([]any)
	require.True(t, ok, "contents must be a list")
	require.Len(t, contents, 1)

	first, ok := contents[0].(map[string]any)
	require.True(t, ok)

	parts, ok := first["parts"].([]any)
	require.True(t, ok, "parts must be a list")

	return parts
}
