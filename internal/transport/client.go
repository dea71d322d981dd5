// Package transport issues raw HTTP requests on behalf of the Gemini client.
//
// It mirrors the minimal contract the orchestration pipeline needs: a method,
// an ordered list of "Name: Value" header lines, an optional body, and an
// optional capture of response headers. Connection-level failures are kept
// apart from HTTP responses that carry an error status.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	headerSeparator = ":"

	errFmtInvalidURL     = "%w: url must be absolute, got %q"
	errFmtBuildRequest   = "%w: failed to build %s request: %v"
	errFmtSendRequest    = "%w: %s %s: %w"
	errFmtReadBody       = "%w: failed to read response body from %s: %w"
	errMsgEmptyURL       = "url cannot be empty"
	errMsgEmptyMethod    = "method cannot be empty"
	defaultClientTimeout = 5 * time.Minute
)

var (
	// ErrTransport marks failures where no HTTP response was received
	// (DNS, TLS, connection reset, timeout, cancelled context).
	ErrTransport = errors.New("transport error")

	// ErrInvalidRequest marks requests rejected before any network I/O.
	ErrInvalidRequest = errors.New("invalid request")
)

// Request describes a single outbound call.
type Request struct {
	// Body is optional. When ContentLength is positive it is sent as the
	// declared Content-Length instead of chunked encoding.
	Body io.Reader

	URL    string
	Method string

	// Headers holds "Name: Value" lines. Lines without a colon are skipped.
	Headers []string

	ContentLength int64

	// CaptureHeaders asks Send to return the response headers.
	CaptureHeaders bool
}

// Response is the outcome of a request that reached the server.
type Response struct {
	// Headers is nil unless the request asked for capture. Keys are lower
	// case; each key holds the first value the server sent for it.
	Headers map[string]string

	Body       []byte
	StatusCode int
}

// Header returns a captured response header, matching the name
// case-insensitively.
func (r *Response) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}

	return r.Headers[strings.ToLower(name)]
}

// Client sends requests over a shared *http.Client. It keeps no per-call
// state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client whose requests are bounded by timeout. A zero
// timeout falls back to five minutes, long enough for a large upload.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send performs the request. A nil error means the server answered, whatever
// the status code; callers decide which statuses are failures.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	validationErr := validateRequest(req)
	if validationErr != nil {
		return nil, validationErr
	}

	body := req.Body
	if body == nil {
		body = http.NoBody
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf(errFmtBuildRequest, ErrInvalidRequest, req.Method, err)
	}

	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}

	for name, value := range ParseHeaderLines(req.Headers) {
		// Content-Length is owned by the request itself.
		if name == "content-length" {
			continue
		}

		httpReq.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// *url.Error repeats the full URL, query string included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}

		return nil, fmt.Errorf(errFmtSendRequest, ErrTransport, req.Method, redactURL(req.URL), err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadBody, ErrTransport, redactURL(req.URL), err)
	}

	result := &Response{
		Headers:    nil,
		Body:       responseBody,
		StatusCode: resp.StatusCode,
	}

	if req.CaptureHeaders {
		result.Headers = captureHeaders(resp.Header)
	}

	return result, nil
}

// ParseHeaderLines turns "Name: Value" lines into a map keyed by the lower
// case name. Malformed lines are ignored and the first value of a repeated
// name wins.
func ParseHeaderLines(lines []string) map[string]string {
	parsed := make(map[string]string, len(lines))

	for _, line := range lines {
		name, value, found := strings.Cut(line, headerSeparator)
		if !found {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}

		if _, exists := parsed[key]; exists {
			continue
		}

		parsed[key] = strings.TrimSpace(value)
	}

	return parsed
}

func captureHeaders(header http.Header) map[string]string {
	captured := make(map[string]string, len(header))

	for name, values := range header {
		if len(values) == 0 {
			continue
		}

		key := strings.ToLower(name)
		if _, exists := captured[key]; exists {
			continue
		}

		captured[key] = strings.TrimSpace(values[0])
	}

	return captured
}

func validateRequest(req Request) error {
	if req.URL == "" {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, errMsgEmptyURL)
	}

	if req.Method == "" {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, errMsgEmptyMethod)
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf(errFmtInvalidURL, ErrInvalidRequest, req.URL)
	}

	return nil
}

// redactURL drops the query string so an API key passed as ?key= never
// ends up in an error message.
func redactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	parsed.RawQuery = ""

	return parsed.String()
}
