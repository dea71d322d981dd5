package gemini

import (
	"errors"
	"fmt"

	"github.com/book-expert/gemini-media-service/internal/transport"
)

// Failure kinds. Every error returned by this package matches exactly one of
// the stage kinds with errors.Is; connection-level failures additionally
// match ErrTransport.
var (
	ErrTransport               = transport.ErrTransport
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrUploadInitiationFailed  = errors.New("upload initiation failed")
	ErrUploadTransferFailed    = errors.New("upload transfer failed")
	ErrFileReferenceMissing    = errors.New("file reference missing from upload response")
	ErrStatusCheckFailed       = errors.New("file status check failed")
	ErrProcessingTimeout       = errors.New("file processing timed out")
	ErrProcessingFailed        = errors.New("file processing failed")
	ErrGenerationRequestFailed = errors.New("generation request failed")
	ErrNoContentProduced       = errors.New("no content produced")
	ErrUnexpectedResponseShape = errors.New("unexpected response shape")
	ErrNoAudioProduced         = errors.New("no audio produced")
	ErrAudioDecodeFailed       = errors.New("audio decode failed")
)

// Stable names for the failure kinds, used in events and HTTP responses.
const (
	KindTransport               = "transport_error"
	KindInvalidConfiguration    = "invalid_configuration"
	KindUploadInitiationFailed  = "upload_initiation_failed"
	KindUploadTransferFailed    = "upload_transfer_failed"
	KindFileReferenceMissing    = "file_reference_missing"
	KindStatusCheckFailed       = "status_check_failed"
	KindProcessingTimeout       = "processing_timeout"
	KindProcessingFailed        = "processing_failed"
	KindGenerationRequestFailed = "generation_request_failed"
	KindNoContentProduced       = "no_content_produced"
	KindUnexpectedResponseShape = "unexpected_response_shape"
	KindNoAudioProduced         = "no_audio_produced"
	KindAudioDecodeFailed       = "audio_decode_failed"
	KindUnknown                 = "unknown"
)

const maxBodyInError = 2048

var kindNames = []struct {
	err  error
	name string
}{
	{ErrTransport, KindTransport},
	{ErrInvalidConfiguration, KindInvalidConfiguration},
	{ErrUploadInitiationFailed, KindUploadInitiationFailed},
	{ErrUploadTransferFailed, KindUploadTransferFailed},
	{ErrFileReferenceMissing, KindFileReferenceMissing},
	{ErrStatusCheckFailed, KindStatusCheckFailed},
	{ErrProcessingTimeout, KindProcessingTimeout},
	{ErrProcessingFailed, KindProcessingFailed},
	{ErrGenerationRequestFailed, KindGenerationRequestFailed},
	{ErrNoContentProduced, KindNoContentProduced},
	{ErrUnexpectedResponseShape, KindUnexpectedResponseShape},
	{ErrNoAudioProduced, KindNoAudioProduced},
	{ErrAudioDecodeFailed, KindAudioDecodeFailed},
}

// KindName returns the stable name of the first failure kind err matches.
func KindName(err error) string {
	if err == nil {
		return ""
	}

	for _, kind := range kindNames {
		if errors.Is(err, kind.err) {
			return kind.name
		}
	}

	return KindUnknown
}

// UpstreamError carries the remote service's own response so operators can
// see its exact complaint. It unwraps to its Kind.
type UpstreamError struct {
	Kind       error
	Detail     string
	Body       string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	message := e.Kind.Error()
	if e.Detail != "" {
		message += ": " + e.Detail
	}

	if e.StatusCode != 0 {
		message += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Body != "" {
		message += ": " + truncate(e.Body, maxBodyInError)
	}

	return message
}

func (e *UpstreamError) Unwrap() error {
	return e.Kind
}

// UpstreamBody returns the raw remote response body attached to err, if any.
func UpstreamBody(err error) string {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Body
	}

	return ""
}

func newUpstreamError(kind error, statusCode int, body []byte, detail string) error {
	return &UpstreamError{
		Kind:       kind,
		Detail:     detail,
		Body:       string(body),
		StatusCode: statusCode,
	}
}

// stageTransportError tags a transport failure with the stage it broke.
func stageTransportError(kind error, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

func invalidConfigurationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfiguration}, args...)...)
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}

	return text[:limit] + "...(truncated)"
}
