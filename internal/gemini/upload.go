package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/book-expert/gemini-media-service/internal/transport"
)

// Resumable upload protocol headers.
const (
	headerUploadProtocol      = "X-Goog-Upload-Protocol"
	headerUploadCommand       = "X-Goog-Upload-Command"
	headerUploadContentLength = "X-Goog-Upload-Header-Content-Length"
	headerUploadContentType   = "X-Goog-Upload-Header-Content-Type"
	headerUploadOffset        = "X-Goog-Upload-Offset"
	headerUploadURL           = "x-goog-upload-url"
	headerContentLength       = "Content-Length"

	uploadProtocolResumable = "resumable"
	uploadCommandStart      = "start"
	uploadCommandFinalize   = "upload, finalize"
	uploadOffsetStart       = "0"
)

const (
	logFmtUploadStarting  = "Starting resumable upload of %q (%d bytes, %s)"
	logFmtUploadSession   = "Resumable upload session opened for %q"
	logFmtUploadFinalized = "Upload finalized: %s (state %s)"

	detailMissingUploadURL = "response carried no upload URL header"
	detailNoFileName       = "response has no file.name"
	detailInvalidJSON      = "response is not valid JSON"
)

// UploadHandle addresses an uploaded file. RemoteID is the canonical
// resource name ("files/abc123") used for polling; URI is the full resource
// URL used in generation requests. UploadURL is the single-use session URL
// and must not be used to address the file afterwards.
type UploadHandle struct {
	RemoteID  string `json:"remote_id"`
	URI       string `json:"uri,omitempty"`
	UploadURL string `json:"-"`
	MimeType  string `json:"mime_type"`
}

// remoteFile is the File resource as returned by the upload and status
// endpoints.
type remoteFile struct {
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

type uploadStartRequest struct {
	File uploadStartFile `json:"file"`
}

type uploadStartFile struct {
	DisplayName string `json:"display_name"`
}

type uploadFinalizeResponse struct {
	File *remoteFile `json:"file"`
}

// UploadResumable sends content with the two-phase resumable protocol: a
// start call that opens a session, then a single upload-and-finalize call
// carrying the whole body. Each phase is attempted once.
func (c *Client) UploadResumable(
	ctx context.Context,
	asset MediaAsset,
	content io.Reader,
	credential string,
) (UploadHandle, error) {
	credentialLine, err := credentialHeader(credential)
	if err != nil {
		return UploadHandle{}, err
	}

	assetErr := asset.Validate()
	if assetErr != nil {
		return UploadHandle{}, assetErr
	}

	if content == nil {
		return UploadHandle{}, invalidConfigurationf("media content cannot be nil")
	}

	c.log.Info(logFmtUploadStarting, asset.DisplayName, asset.SizeBytes, asset.MimeType)

	uploadURL, err := c.startUpload(ctx, asset, credentialLine)
	if err != nil {
		return UploadHandle{}, err
	}

	c.log.Info(logFmtUploadSession, asset.DisplayName)

	file, err := c.finalizeUpload(ctx, uploadURL, asset, content)
	if err != nil {
		return UploadHandle{}, err
	}

	c.log.Info(logFmtUploadFinalized, file.Name, file.State)

	fileURI := file.URI
	if fileURI == "" {
		fileURI = c.fileURL(file.Name)
	}

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = asset.MimeType
	}

	return UploadHandle{
		RemoteID:  file.Name,
		URI:       fileURI,
		UploadURL: uploadURL,
		MimeType:  mimeType,
	}, nil
}

func (c *Client) startUpload(ctx context.Context, asset MediaAsset, credentialLine string) (string, error) {
	body, err := json.Marshal(uploadStartRequest{File: uploadStartFile{DisplayName: asset.DisplayName}})
	if err != nil {
		return "", invalidConfigurationf("failed to marshal upload start request: %v", err)
	}

	resp, err := c.transport.Send(ctx, transport.Request{
		Body:   bytes.NewReader(body),
		URL:    c.uploadStartURL(),
		Method: http.MethodPost,
		Headers: []string{
			headerUploadProtocol + ": " + uploadProtocolResumable,
			headerUploadCommand + ": " + uploadCommandStart,
			headerUploadContentLength + ": " + strconv.FormatInt(asset.SizeBytes, 10),
			headerUploadContentType + ": " + asset.MimeType,
			headerContentType + ": " + contentTypeJSON,
			credentialLine,
		},
		ContentLength:  int64(len(body)),
		CaptureHeaders: true,
	})
	if err != nil {
		return "", stageTransportError(ErrUploadInitiationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", newUpstreamError(ErrUploadInitiationFailed, resp.StatusCode, resp.Body, "")
	}

	uploadURL := resp.Header(headerUploadURL)
	if uploadURL == "" {
		return "", newUpstreamError(ErrUploadInitiationFailed, resp.StatusCode, resp.Body, detailMissingUploadURL)
	}

	return uploadURL, nil
}

func (c *Client) finalizeUpload(
	ctx context.Context,
	uploadURL string,
	asset MediaAsset,
	content io.Reader,
) (*remoteFile, error) {
	resp, err := c.transport.Send(ctx, transport.Request{
		Body:   content,
		URL:    uploadURL,
		Method: http.MethodPost,
		Headers: []string{
			headerContentType + ": " + asset.MimeType,
			headerContentLength + ": " + strconv.FormatInt(asset.SizeBytes, 10),
			headerUploadOffset + ": " + uploadOffsetStart,
			headerUploadCommand + ": " + uploadCommandFinalize,
		},
		ContentLength:  asset.SizeBytes,
		CaptureHeaders: false,
	})
	if err != nil {
		return nil, stageTransportError(ErrUploadTransferFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newUpstreamError(ErrUploadTransferFailed, resp.StatusCode, resp.Body, "")
	}

	var finalized uploadFinalizeResponse

	err = json.Unmarshal(resp.Body, &finalized)
	if err != nil {
		return nil, newUpstreamError(ErrFileReferenceMissing, resp.StatusCode, resp.Body, detailInvalidJSON)
	}

	if finalized.File == nil || finalized.File.Name == "" {
		return nil, newUpstreamError(ErrFileReferenceMissing, resp.StatusCode, resp.Body, detailNoFileName)
	}

	return finalized.File, nil
}
