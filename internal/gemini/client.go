// Package gemini orchestrates media analysis against the Gemini API.
//
// It implements the stages of the pipeline as independent operations on a
// Client: choosing an upload strategy, inline encoding, the two-phase
// resumable upload, polling the remote processing state, content generation
// and speech synthesis. A Client keeps no per-call state; the credential and
// model are passed explicitly on every call so concurrent pipelines never
// share anything mutable.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/gemini-media-service/internal/transport"
)

// Endpoints and API paths.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	apiVersionPath     = "/v1beta"
	uploadFilesPath    = "/upload/v1beta/files"
	modelsPathFormat   = "/v1beta/models/%s:generateContent"
	fileResourcePrefix = "files/"
)

// HTTP headers.
const (
	headerAPIKey      = "X-Goog-Api-Key"
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// ClientConfig holds the endpoint settings of a Client.
type ClientConfig struct {
	BaseURL       string
	UploadBaseURL string

	// Temperature is sent as generationConfig.temperature when positive.
	Temperature float64
}

// Client talks to the Gemini REST API through a transport.Client.
type Client struct {
	transport     *transport.Client
	log           *logger.Logger
	baseURL       string
	uploadBaseURL string
	temperature   float64
}

// NewClient builds a Client. Empty URLs fall back to DefaultBaseURL; the
// upload URL falls back to the base URL.
func NewClient(transportClient *transport.Client, cfg ClientConfig, log *logger.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	uploadBaseURL := strings.TrimRight(cfg.UploadBaseURL, "/")
	if uploadBaseURL == "" {
		uploadBaseURL = baseURL
	}

	return &Client{
		transport:     transportClient,
		log:           log,
		baseURL:       baseURL,
		uploadBaseURL: uploadBaseURL,
		temperature:   cfg.Temperature,
	}
}

func (c *Client) uploadStartURL() string {
	return c.uploadBaseURL + uploadFilesPath
}

func (c *Client) fileURL(remoteID string) string {
	return c.baseURL + apiVersionPath + "/" + remoteID
}

func (c *Client) generateURL(model Model) string {
	return c.baseURL + fmt.Sprintf(modelsPathFormat, model)
}

// credentialHeader renders the opaque credential as a request header line.
func credentialHeader(credential string) (string, error) {
	trimmed := strings.TrimSpace(credential)
	if trimmed == "" {
		return "", invalidConfigurationf("credential cannot be empty")
	}

	if strings.ContainsAny(trimmed, "\r\n") {
		return "", invalidConfigurationf("credential contains line breaks")
	}

	return headerAPIKey + ": " + trimmed, nil
}

func validateRemoteID(remoteID string) error {
	if !strings.HasPrefix(remoteID, fileResourcePrefix) || len(remoteID) == len(fileResourcePrefix) {
		return invalidConfigurationf("remote id must look like %q, got %q", fileResourcePrefix+"<id>", remoteID)
	}

	return nil
}

// postJSON marshals payload and POSTs it with the credential header. A
// transport failure is returned as-is for the caller to tag with its stage.
func (c *Client) postJSON(
	ctx context.Context,
	url string,
	credentialLine string,
	payload any,
) (*transport.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.transport.Send(ctx, transport.Request{
		Body:   bytes.NewReader(body),
		URL:    url,
		Method: http.MethodPost,
		Headers: []string{
			headerContentType + ": " + contentTypeJSON,
			credentialLine,
		},
		ContentLength:  int64(len(body)),
		CaptureHeaders: false,
	})
}
