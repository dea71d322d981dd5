package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/gemini-media-service/internal/transport"
)

// Polling defaults: 30 ticks five seconds apart, about 150 seconds in total.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 30
)

const (
	logFmtPollTick     = "Status of %s after check %d/%d: %s"
	logFmtPollTerminal = "File %s reached terminal state %s after %d checks"

	detailUnparsableStatus = "status response is not valid JSON"
	detailMissingState     = "status response has no state field"
	detailUnknownStateFmt  = "status response has unknown state %q"
	detailNotActive        = "file reported state %s"
)

// ProcessingState is the remote lifecycle of an uploaded file. PROCESSING is
// the initial state; ACTIVE and FAILED are terminal.
type ProcessingState int

const (
	StateProcessing ProcessingState = iota
	StateActive
	StateFailed
)

// Wire values of the file state field.
const (
	wireStateProcessing = "PROCESSING"
	wireStateActive     = "ACTIVE"
	wireStateFailed     = "FAILED"
)

func (s ProcessingState) String() string {
	switch s {
	case StateProcessing:
		return wireStateProcessing
	case StateActive:
		return wireStateActive
	case StateFailed:
		return wireStateFailed
	default:
		return fmt.Sprintf("ProcessingState(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition can happen from s.
func (s ProcessingState) IsTerminal() bool {
	switch s {
	case StateActive, StateFailed:
		return true
	case StateProcessing:
		return false
	default:
		return false
	}
}

// parseProcessingState maps the wire value onto the enum. Any other value,
// including STATE_UNSPECIFIED, is rejected so it cannot be mistaken for
// progress.
func parseProcessingState(raw string) (ProcessingState, bool) {
	switch raw {
	case wireStateProcessing:
		return StateProcessing, true
	case wireStateActive:
		return StateActive, true
	case wireStateFailed:
		return StateFailed, true
	default:
		return StateProcessing, false
	}
}

// PollOptions bounds the polling loop.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollOptions returns the 30 x 5s budget.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultPollMaxAttempts,
	}
}

// FileStatus is one observation of a remote file.
type FileStatus struct {
	RemoteID     string
	URI          string
	ErrorMessage string
	State        ProcessingState
}

// GetFile fetches the current status of remoteID once. Any failure to obtain
// a recognisable state is ErrStatusCheckFailed.
func (c *Client) GetFile(ctx context.Context, remoteID, credential string) (FileStatus, error) {
	credentialLine, err := credentialHeader(credential)
	if err != nil {
		return FileStatus{}, err
	}

	idErr := validateRemoteID(remoteID)
	if idErr != nil {
		return FileStatus{}, idErr
	}

	resp, err := c.transport.Send(ctx, transport.Request{
		Body:           nil,
		URL:            c.fileURL(remoteID),
		Method:         http.MethodGet,
		Headers:        []string{credentialLine},
		ContentLength:  0,
		CaptureHeaders: false,
	})
	if err != nil {
		return FileStatus{}, stageTransportError(ErrStatusCheckFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return FileStatus{}, newUpstreamError(ErrStatusCheckFailed, resp.StatusCode, resp.Body, "")
	}

	var file remoteFile

	err = json.Unmarshal(resp.Body, &file)
	if err != nil {
		return FileStatus{}, newUpstreamError(ErrStatusCheckFailed, resp.StatusCode, resp.Body, detailUnparsableStatus)
	}

	if file.State == "" {
		return FileStatus{}, newUpstreamError(ErrStatusCheckFailed, resp.StatusCode, resp.Body, detailMissingState)
	}

	state, ok := parseProcessingState(file.State)
	if !ok {
		return FileStatus{}, newUpstreamError(
			ErrStatusCheckFailed, resp.StatusCode, resp.Body, fmt.Sprintf(detailUnknownStateFmt, file.State),
		)
	}

	status := FileStatus{
		RemoteID:     remoteID,
		URI:          file.URI,
		ErrorMessage: "",
		State:        state,
	}

	if file.Error != nil {
		status.ErrorMessage = file.Error.Message
	}

	return status, nil
}

// WaitForActive polls the file until it leaves PROCESSING. The first check
// runs immediately and later checks are opts.Interval apart. It returns
// StateActive with a nil error on success; FAILED yields ErrProcessingFailed
// and exhausting opts.MaxAttempts yields ErrProcessingTimeout. A failed
// status check aborts the loop at once rather than being retried.
//
// Cancelling ctx stops further checks. A check whose response has already
// arrived is still honoured.
func (c *Client) WaitForActive(
	ctx context.Context,
	handle UploadHandle,
	credential string,
	opts PollOptions,
) (ProcessingState, error) {
	if opts.MaxAttempts <= 0 {
		return StateProcessing, invalidConfigurationf("poll max attempts must be positive, got %d", opts.MaxAttempts)
	}

	if opts.Interval < 0 {
		return StateProcessing, invalidConfigurationf("poll interval cannot be negative, got %s", opts.Interval)
	}

	state := StateProcessing

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			waitErr := sleepContext(ctx, opts.Interval)
			if waitErr != nil {
				return state, fmt.Errorf("polling %s cancelled: %w", handle.RemoteID, waitErr)
			}
		} else if ctx.Err() != nil {
			return state, fmt.Errorf("polling %s cancelled: %w", handle.RemoteID, ctx.Err())
		}

		status, err := c.GetFile(ctx, handle.RemoteID, credential)
		if err != nil {
			return state, err
		}

		state = status.State
		c.log.Info(logFmtPollTick, handle.RemoteID, attempt, opts.MaxAttempts, state)

		switch state {
		case StateActive:
			c.log.Info(logFmtPollTerminal, handle.RemoteID, state, attempt)

			return state, nil
		case StateFailed:
			c.log.Warn(logFmtPollTerminal, handle.RemoteID, state, attempt)

			return state, &UpstreamError{
				Kind:       ErrProcessingFailed,
				Detail:     processingFailedDetail(status),
				Body:       "",
				StatusCode: 0,
			}
		case StateProcessing:
			continue
		}
	}

	return state, fmt.Errorf(
		"%w: %s still %s after %d checks at %s intervals",
		ErrProcessingTimeout, handle.RemoteID, state, opts.MaxAttempts, opts.Interval,
	)
}

func processingFailedDetail(status FileStatus) string {
	detail := fmt.Sprintf(detailNotActive, status.State)
	if status.ErrorMessage != "" {
		detail += ": " + status.ErrorMessage
	}

	return detail
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DeleteFile removes an uploaded file from the remote service.
func (c *Client) DeleteFile(ctx context.Context, remoteID, credential string) error {
	credentialLine, err := credentialHeader(credential)
	if err != nil {
		return err
	}

	idErr := validateRemoteID(remoteID)
	if idErr != nil {
		return idErr
	}

	resp, err := c.transport.Send(ctx, transport.Request{
		Body:           nil,
		URL:            c.fileURL(remoteID),
		Method:         http.MethodDelete,
		Headers:        []string{credentialLine},
		ContentLength:  0,
		CaptureHeaders: false,
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", remoteID, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to delete %s: status %d: %s", remoteID, resp.StatusCode, truncate(string(resp.Body), maxBodyInError))
	}

	return nil
}
