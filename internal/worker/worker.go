// Package worker provides a NATS worker that processes media analysis jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/gemini-media-service/internal/config"
	"github.com/book-expert/gemini-media-service/internal/core"
	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/mediautil"
	"github.com/book-expert/gemini-media-service/internal/pipeline"
)

// handleMessageTimeout covers upload, the full polling budget and generation.
const handleMessageTimeout = 10 * time.Minute

// drainTimeout bounds how long Run waits for buffered messages to be handed
// to the job group after a drain.
const drainTimeout = 30 * time.Second

const audioContentType = "audio/wav"

var (
	// ErrMediaKeyEmpty indicates that the event names no media object.
	ErrMediaKeyEmpty = errors.New("media key cannot be empty")
	// ErrNoCredential indicates that neither the event nor the worker has a credential.
	ErrNoCredential = errors.New("no credential in event and no default configured")
)

const (
	logFmtJobReceived  = "Received analysis job %s for %s"
	logFmtJobDone      = "Completed analysis job %s (%s, %d characters)"
	logFmtJobFailed    = "Analysis job %s failed: %v"
	logFmtInvalidEvent = "Failed to parse and validate event: %v"
	logFmtReplyFailed  = "Failed to publish reply event for workflow %s: %v"
	logFmtMediaDeleted = "Deleted processed media %s"
	logFmtDeleteFailed = "Failed to delete processed media %s: %v"
	logFmtDrainTimeout = "Subscription on %s did not close within %s"
)

// Settings configures a NatsWorker.
type Settings struct {
	// Subject is the NATS subject analysis requests arrive on.
	Subject string
	// DefaultCredential is used for events that carry none.
	DefaultCredential string
	// Workers bounds how many jobs run at once. Non-positive selects
	// config.DefaultWorkers.
	Workers int
	// DeleteProcessedMedia removes the media object after a successful job.
	DeleteProcessedMedia bool
}

// contentTyper is implemented by stores that record a MIME type per object.
type contentTyper interface {
	ContentType(ctx context.Context, key string) (string, error)
}

// NatsWorker listens for analysis jobs on a NATS subject and processes them.
//
// NATS delivers a subscription's messages one at a time, so each job is
// handed to a bounded group; a job stuck polling never holds up the rest.
type NatsWorker struct {
	natsConnection *nats.Conn
	mediaStore     core.ObjectStore
	audioStore     core.ObjectStore
	analyzer       core.Analyzer
	log            *logger.Logger
	jobs           *errgroup.Group
	settings       Settings
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	settings Settings,
	mediaStore core.ObjectStore,
	audioStore core.ObjectStore,
	analyzer core.Analyzer,
	log *logger.Logger,
) (*NatsWorker, error) {
	if settings.Subject == "" {
		return nil, fmt.Errorf("%w: worker subject cannot be empty", gemini.ErrInvalidConfiguration)
	}

	if settings.Workers <= 0 {
		settings.Workers = config.DefaultWorkers
	}

	jobs := &errgroup.Group{}
	jobs.SetLimit(settings.Workers)

	return &NatsWorker{
		natsConnection: natsConnection,
		mediaStore:     mediaStore,
		audioStore:     audioStore,
		analyzer:       analyzer,
		log:            log,
		jobs:           jobs,
		settings:       settings,
	}, nil
}

// Run starts the worker and begins listening for messages. After ctx is done
// it drains the subscription and waits for running jobs to reply.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.settings.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.settings.Subject, err)
	}

	closed := sub.StatusChanged(nats.SubscriptionClosed)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		_ = w.jobs.Wait()

		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	select {
	case <-closed:
	case <-time.After(drainTimeout):
		w.log.Warn(logFmtDrainTimeout, w.settings.Subject, drainTimeout)
	}

	_ = w.jobs.Wait()

	return nil
}

// handleMessage hands msg to the job group. It blocks while every worker is
// busy, which keeps further messages buffered in the subscription.
func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	w.jobs.Go(func() error {
		w.processMessage(msg)

		return nil
	})
}

func (w *NatsWorker) processMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error(logFmtInvalidEvent, err)

		header := events.EventHeader{}
		if event != nil {
			header = event.Header
		}

		w.reply(msg, failureReply(header, err))

		return
	}

	w.log.Info(logFmtJobReceived, event.Header.WorkflowID, event.MediaKey)

	reply, processErr := w.processAnalysisJob(ctx, event)
	if processErr != nil {
		w.log.Error(logFmtJobFailed, event.Header.WorkflowID, processErr)
		w.reply(msg, failureReply(event.Header, processErr))

		return
	}

	w.log.Info(logFmtJobDone, event.Header.WorkflowID, reply.Strategy, len(reply.Text))
	w.reply(msg, reply)
}

// processAnalysisJob downloads the media, runs the pipeline and stores any
// narration in the audio bucket.
func (w *NatsWorker) processAnalysisJob(
	ctx context.Context,
	event *AnalysisRequestedEvent,
) (*AnalysisCompletedEvent, error) {
	media, err := w.mediaStore.Download(ctx, event.MediaKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download media for key '%s': %w", event.MediaKey, err)
	}

	credential := event.Credential
	if strings.TrimSpace(credential) == "" {
		credential = w.settings.DefaultCredential
	}

	displayName := event.DisplayName
	if displayName == "" {
		displayName = mediautil.DisplayName(event.MediaKey)
	}

	job := pipeline.Job{
		Content: media,
		Asset: gemini.MediaAsset{
			LocalPath:   "",
			MimeType:    w.resolveMimeType(ctx, event, media),
			DisplayName: displayName,
			SizeBytes:   int64(len(media)),
		},
		Options: pipeline.JobOptions{
			Prompt:       event.Prompt,
			Model:        event.Model,
			Voice:        event.Voice,
			UploadMethod: event.UploadMethod,
			Credential:   credential,
			Speak:        event.Speak,
		},
	}

	result, err := w.analyzer.Run(ctx, job)
	if err != nil {
		return nil, err
	}

	reply := &AnalysisCompletedEvent{
		Header:       replyHeader(event.Header),
		Text:         result.Text,
		Model:        string(result.Model),
		Strategy:     result.Strategy.String(),
		RemoteID:     result.Handle.RemoteID,
		AudioKey:     "",
		Error:        "",
		ErrorKind:    "",
		UpstreamBody: "",
	}

	if len(result.Audio) > 0 {
		audioKey := uuid.NewString() + mediautil.ExtensionFromMIME(audioContentType)

		uploadErr := w.audioStore.Upload(ctx, audioKey, result.Audio, audioContentType)
		if uploadErr != nil {
			return nil, fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, uploadErr)
		}

		reply.AudioKey = audioKey
	}

	if w.settings.DeleteProcessedMedia {
		w.deleteMedia(ctx, event.MediaKey)
	}

	return reply, nil
}

// deleteMedia removes a processed media object. Failure only costs storage,
// so it is logged rather than reported to the requester.
func (w *NatsWorker) deleteMedia(ctx context.Context, key string) {
	err := w.mediaStore.Delete(ctx, key)
	if err != nil {
		w.log.Warn(logFmtDeleteFailed, key, err)

		return
	}

	w.log.Info(logFmtMediaDeleted, key)
}

// resolveMimeType prefers the event, then the stored object's header, then
// the key's extension, then the content itself.
func (w *NatsWorker) resolveMimeType(ctx context.Context, event *AnalysisRequestedEvent, media []byte) string {
	if event.MimeType != "" {
		return event.MimeType
	}

	if typer, ok := w.mediaStore.(contentTyper); ok {
		contentType, err := typer.ContentType(ctx, event.MediaKey)
		if err == nil && contentType != "" {
			return contentType
		}
	}

	if fromExt := mediautil.MimeTypeFromExtension(event.MediaKey); fromExt != "" {
		return fromExt
	}

	return mediautil.SniffMimeType(media)
}

func (w *NatsWorker) reply(msg *nats.Msg, replyEvent *AnalysisCompletedEvent) {
	err := w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error(logFmtReplyFailed, replyEvent.Header.WorkflowID, err)
	}
}

// publishReplyEvent marshals and responds with the AnalysisCompletedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *AnalysisCompletedEvent) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*AnalysisRequestedEvent, error) {
	var event AnalysisRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal event: %w", gemini.ErrInvalidConfiguration, err)
	}

	if strings.TrimSpace(event.MediaKey) == "" {
		return &event, fmt.Errorf("%w: %w", gemini.ErrInvalidConfiguration, ErrMediaKeyEmpty)
	}

	if strings.TrimSpace(event.Credential) == "" && w.settings.DefaultCredential == "" {
		return &event, fmt.Errorf("%w: %w", gemini.ErrInvalidConfiguration, ErrNoCredential)
	}

	return &event, nil
}

func replyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}

func failureReply(request events.EventHeader, err error) *AnalysisCompletedEvent {
	return &AnalysisCompletedEvent{
		Header:       replyHeader(request),
		Text:         "",
		Model:        "",
		Strategy:     "",
		RemoteID:     "",
		AudioKey:     "",
		Error:        err.Error(),
		ErrorKind:    gemini.KindName(err),
		UpstreamBody: gemini.UpstreamBody(err),
	}
}
