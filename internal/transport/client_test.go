package transport_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/gemini-media-service/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Send_ForwardsMethodHeadersAndBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, "resumable", request.Header.Get("X-Goog-Upload-Protocol"))
		assert.Equal(t, "application/json", request.Header.Get("Content-Type"))
		assert.Empty(t, request.Header.Get("Broken"))

		body, err := io.ReadAll(request.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"hello":"world"}`, string(body))

		responseWriter.WriteHeader(http.StatusCreated)
		_, _ = responseWriter.Write([]byte("created"))
	}))
	defer server.Close()

	client := transport.NewClient(10 * time.Second)

	resp, err := client.Send(context.Background(), transport.Request{
		Body:          strings.NewReader(`{"hello":"world"}`),
		URL:           server.URL + "/upload",
		Method:        http.MethodPost,
		Headers:       []string{"X-Goog-Upload-Protocol: resumable", "Content-Type: application/json", "Broken"},
		ContentLength: int64(len(`{"hello":"world"}`)),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", string(resp.Body))
	assert.Nil(t, resp.Headers, "headers are only captured on request")
}

func TestClient_Send_CapturesFirstHeaderValueCaseInsensitively(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.Header().Add("X-Goog-Upload-URL", "https://upload.example/session/1")
		responseWriter.Header().Add("X-Goog-Upload-URL", "https://upload.example/session/2")
		responseWriter.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := transport.NewClient(10 * time.Second)

	resp, err := client.Send(context.Background(), transport.Request{
		Body:           nil,
		URL:            server.URL,
		Method:         http.MethodGet,
		Headers:        nil,
		ContentLength:  0,
		CaptureHeaders: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://upload.example/session/1", resp.Header("x-goog-upload-url"))
	assert.Equal(t, "https://upload.example/session/1", resp.Header("X-GOOG-UPLOAD-URL"))
	assert.Empty(t, resp.Header("missing"))
}

func TestClient_Send_ErrorStatusIsNotATransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		http.Error(responseWriter, `{"error":"bad key"}`, http.StatusForbidden)
	}))
	defer server.Close()

	client := transport.NewClient(10 * time.Second)

	resp, err := client.Send(context.Background(), transport.Request{
		URL:    server.URL,
		Method: http.MethodGet,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "bad key")
}

func TestClient_Send_ConnectionFailureIsTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	unreachableURL := server.URL
	server.Close()

	client := transport.NewClient(2 * time.Second)

	resp, err := client.Send(context.Background(), transport.Request{
		URL:    unreachableURL + "/files?key=secret",
		Method: http.MethodGet,
	})
	require.ErrorIs(t, err, transport.ErrTransport)
	assert.Nil(t, resp)
	assert.NotContains(t, err.Error(), "secret")
}

func TestClient_Send_CancelledContextIsTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transport.NewClient(time.Second).Send(ctx, transport.Request{
		URL:    server.URL,
		Method: http.MethodGet,
	})
	require.ErrorIs(t, err, transport.ErrTransport)
}

func TestClient_Send_RejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	client := transport.NewClient(time.Second)

	testCases := []struct {
		name string
		req  transport.Request
	}{
		{name: "empty url", req: transport.Request{URL: "", Method: http.MethodGet}},
		{name: "relative url", req: transport.Request{URL: "/v1beta/files", Method: http.MethodGet}},
		{name: "empty method", req: transport.Request{URL: "https://example.com", Method: ""}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.Send(context.Background(), testCase.req)
			require.ErrorIs(t, err, transport.ErrInvalidRequest)
			assert.NotErrorIs(t, err, transport.ErrTransport)
		})
	}
}

func TestParseHeaderLines(t *testing.T) {
	t.Parallel()

	parsed := transport.ParseHeaderLines([]string{
		"X-Goog-Upload-URL: https://first",
		"x-goog-upload-url: https://second",
		"no colon here",
		": empty name",
		"X-Goog-Upload-Status:   final  ",
		"Location: https://host:8443/path",
	})

	assert.Equal(t, map[string]string{
		"x-goog-upload-url":    "https://first",
		"x-goog-upload-status": "final",
		"location":             "https://host:8443/path",
	}, parsed)
}
