// Package pipeline runs media analysis jobs end to end: strategy selection,
// upload, processing wait, generation and optional narration.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/gemini-media-service/internal/config"
	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/mediautil"
	"github.com/book-expert/gemini-media-service/internal/speechtext"
)

// cleanupTimeout bounds the remote delete issued after a resumable job.
const cleanupTimeout = 30 * time.Second

// Static errors.
var (
	ErrCredentialEmpty = errors.New("credential cannot be empty")
	ErrPromptEmpty     = errors.New("prompt cannot be empty")
	ErrMediaMissing    = errors.New("media content is missing")
	ErrNothingToSpeak  = errors.New("text has nothing speakable after preparation")
)

const (
	logFmtJobStarting   = "Analyzing %s (%s, %s) with %s via %s upload"
	logFmtInlineReady   = "Encoded %s inline; no processing wait needed"
	logFmtUploaded      = "Uploaded %s as %s"
	logFmtActive        = "Remote file %s is ACTIVE"
	logFmtGenerated     = "Generated %d characters for %s"
	logFmtNarrated      = "Narrated with voice %s: %s of WAV"
	logFmtNarrationCut  = "Narration text has %d characters; only the first %d are spoken"
	logFmtJobFinished   = "Finished %s in %s"
	logFmtJobFailed     = "Analysis of %s failed at %s: %v"
	logFmtCleanupFailed = "Failed to delete remote file %s: %v"
	logFmtCleanupDone   = "Deleted remote file %s"
	logFmtBatchStarting = "Running %d jobs with %d workers"
	logFmtBatchFinished = "Batch finished: %d succeeded, %d failed"
	errFmtStage         = "%s: %w"
	stageValidate       = "validate"
	stageRead           = "read"
	stageUpload         = "upload"
	stagePoll           = "poll"
	stageGenerate       = "generate"
	stageSynthesize     = "synthesize"
)

// JobOptions are the per-request choices. Model, Voice and UploadMethod are
// raw caller strings, validated against the catalogue when the job runs.
type JobOptions struct {
	Prompt       string
	Model        string
	Voice        string
	UploadMethod string
	Credential   string
	Speak        bool
}

// Job is one media asset to analyze. Content, when set, is used instead of
// reading Asset.LocalPath.
type Job struct {
	Content []byte
	Asset   gemini.MediaAsset
	Options JobOptions
}

// Result is the outcome of a successful job. Handle is zero for inline jobs.
type Result struct {
	Handle       gemini.UploadHandle
	Text         string
	FinishReason string
	Audio        []byte
	Model        gemini.Model
	Strategy     gemini.Strategy
	Elapsed      time.Duration
}

// Runner executes jobs against one gemini.Client. It holds no per-job state
// and is safe for concurrent use.
type Runner struct {
	client   *gemini.Client
	preparer *speechtext.Preparer
	config   *config.Config
	logger   *logger.Logger
}

// NewRunner creates a Runner with the thresholds and defaults in cfg.
func NewRunner(client *gemini.Client, cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		client:   client,
		preparer: speechtext.NewPreparer(cfg.Speech.MaxChars),
		config:   cfg,
		logger:   log,
	}
}

// Run analyzes one asset. Inline jobs go straight to generation; resumable
// jobs upload, wait for the file to become ACTIVE, then generate against the
// file reference.
func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	started := time.Now()

	if job.Content != nil {
		job.Asset.SizeBytes = int64(len(job.Content))
	}

	plan, err := r.plan(job)
	if err != nil {
		return nil, r.fail(job.Asset, stageValidate, err)
	}

	r.logger.Info(
		logFmtJobStarting,
		job.Asset.DisplayName,
		mediautil.FormatFileSize(job.Asset.SizeBytes),
		job.Asset.MimeType,
		plan.model,
		plan.strategy,
	)

	result := &Result{
		Handle:       gemini.UploadHandle{},
		Text:         "",
		FinishReason: "",
		Audio:        nil,
		Model:        plan.model,
		Strategy:     plan.strategy,
		Elapsed:      0,
	}

	payload, err := r.deliver(ctx, job, plan, result)
	if result.Handle.RemoteID != "" && r.config.Upload.CleanupRemoteFiles {
		defer r.deleteRemote(ctx, result.Handle.RemoteID, job.Options.Credential)
	}

	if err != nil {
		return nil, err
	}

	generated, err := r.client.Generate(ctx, gemini.GenerationRequest{
		Prompt:  job.Options.Prompt,
		Model:   plan.model,
		Payload: payload,
	}, job.Options.Credential)
	if err != nil {
		return nil, r.fail(job.Asset, stageGenerate, err)
	}

	result.Text = generated.Text
	result.FinishReason = generated.FinishReason
	r.logger.Info(logFmtGenerated, len(generated.Text), job.Asset.DisplayName)

	if job.Options.Speak {
		wav, speakErr := r.Speak(ctx, generated.Text, plan.voice, job.Options.Credential)
		if speakErr != nil {
			return nil, r.fail(job.Asset, stageSynthesize, speakErr)
		}

		result.Audio = wav
	}

	result.Elapsed = time.Since(started)
	r.logger.Info(logFmtJobFinished, job.Asset.DisplayName, mediautil.FormatDuration(result.Elapsed.Seconds()))

	return result, nil
}

// RunFile analyzes a local file.
func (r *Runner) RunFile(ctx context.Context, path string, opts JobOptions) (*Result, error) {
	asset, err := gemini.NewMediaAssetFromFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtStage, stageValidate, err)
	}

	return r.Run(ctx, Job{Content: nil, Asset: asset, Options: opts})
}

// Speak prepares text for narration and synthesizes it with voice. An empty
// voice selects the configured default.
func (r *Runner) Speak(ctx context.Context, text string, voice gemini.Voice, credential string) ([]byte, error) {
	if voice == "" {
		voice = gemini.Voice(r.config.Speech.Voice)
	}

	if length := utf8.RuneCountInString(text); length > r.preparer.MaxRunes() {
		r.logger.Warn(logFmtNarrationCut, length, r.preparer.MaxRunes())
	}

	prepared := r.preparer.Prepare(text)
	if prepared == "" {
		return nil, fmt.Errorf("%w: %w", gemini.ErrInvalidConfiguration, ErrNothingToSpeak)
	}

	wav, err := r.client.Synthesize(ctx, prepared, voice, credential)
	if err != nil {
		return nil, err
	}

	r.logger.Info(logFmtNarrated, voice, mediautil.FormatFileSize(int64(len(wav))))

	return wav, nil
}

type jobPlan struct {
	model    gemini.Model
	voice    gemini.Voice
	strategy gemini.Strategy
}

// plan validates the job at the boundary and resolves every default.
func (r *Runner) plan(job Job) (jobPlan, error) {
	opts := job.Options

	if strings.TrimSpace(opts.Credential) == "" {
		return jobPlan{}, fmt.Errorf("%w: %w", gemini.ErrInvalidConfiguration, ErrCredentialEmpty)
	}

	if strings.TrimSpace(opts.Prompt) == "" {
		return jobPlan{}, fmt.Errorf("%w: %w", gemini.ErrInvalidConfiguration, ErrPromptEmpty)
	}

	modelName := opts.Model
	if strings.TrimSpace(modelName) == "" {
		modelName = r.config.Gemini.DefaultModel
	}

	model, err := gemini.ParseModel(modelName)
	if err != nil {
		return jobPlan{}, err
	}

	voiceName := opts.Voice
	if strings.TrimSpace(voiceName) == "" {
		voiceName = r.config.Speech.Voice
	}

	voice, err := gemini.ParseVoice(voiceName)
	if err != nil {
		return jobPlan{}, err
	}

	assetErr := job.Asset.Validate()
	if assetErr != nil {
		return jobPlan{}, assetErr
	}

	if job.Content == nil && job.Asset.LocalPath == "" {
		return jobPlan{}, fmt.Errorf("%w: %w", gemini.ErrInvalidConfiguration, ErrMediaMissing)
	}

	strategy, forced, err := gemini.ParseStrategy(opts.UploadMethod)
	if err != nil {
		return jobPlan{}, err
	}

	if !forced {
		strategy = gemini.SelectStrategy(job.Asset.SizeBytes, r.config.Upload.InlineThresholdBytes)
	}

	return jobPlan{model: model, voice: voice, strategy: strategy}, nil
}

// deliver makes the media available to the generation request. Inline
// payloads are ready immediately; resumable uploads are polled until ACTIVE.
// The upload handle is recorded on result as soon as it exists so the caller
// can clean it up even when polling fails.
func (r *Runner) deliver(ctx context.Context, job Job, plan jobPlan, result *Result) (gemini.MediaPayload, error) {
	if plan.strategy == gemini.StrategyInline {
		data, err := readContent(job)
		if err != nil {
			return gemini.MediaPayload{}, r.fail(job.Asset, stageRead, err)
		}

		r.logger.Info(logFmtInlineReady, job.Asset.DisplayName)

		return gemini.InlineMedia(gemini.EncodeInline(data, job.Asset.MimeType)), nil
	}

	content, closeContent, err := openContent(job)
	if err != nil {
		return gemini.MediaPayload{}, r.fail(job.Asset, stageRead, err)
	}
	defer closeContent()

	handle, err := r.client.UploadResumable(ctx, job.Asset, content, job.Options.Credential)
	if err != nil {
		return gemini.MediaPayload{}, r.fail(job.Asset, stageUpload, err)
	}

	result.Handle = handle
	r.logger.Info(logFmtUploaded, job.Asset.DisplayName, handle.RemoteID)

	_, err = r.client.WaitForActive(ctx, handle, job.Options.Credential, r.config.PollOptions())
	if err != nil {
		return gemini.MediaPayload{}, r.fail(job.Asset, stagePoll, err)
	}

	r.logger.Info(logFmtActive, handle.RemoteID)

	return gemini.FileMedia(handle), nil
}

// deleteRemote runs after the job, so it uses a context that survives the
// caller's cancellation.
func (r *Runner) deleteRemote(ctx context.Context, remoteID, credential string) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	err := r.client.DeleteFile(deleteCtx, remoteID, credential)
	if err != nil {
		r.logger.Warn(logFmtCleanupFailed, remoteID, err)

		return
	}

	r.logger.Info(logFmtCleanupDone, remoteID)
}

func (r *Runner) fail(asset gemini.MediaAsset, stage string, err error) error {
	r.logger.Error(logFmtJobFailed, asset.DisplayName, stage, err)

	return fmt.Errorf(errFmtStage, stage, err)
}

func readContent(job Job) ([]byte, error) {
	if job.Content != nil {
		return job.Content, nil
	}

	data, err := os.ReadFile(job.Asset.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read media file: %w", err)
	}

	return data, nil
}

func openContent(job Job) (io.Reader, func(), error) {
	if job.Content != nil {
		return bytes.NewReader(job.Content), func() {}, nil
	}

	file, err := os.Open(job.Asset.LocalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open media file: %w", err)
	}

	return file, func() { _ = file.Close() }, nil
}

// FileJob is one entry of a batch.
type FileJob struct {
	Path    string
	Options JobOptions
}

// Outcome is the independent result of one batch entry.
type Outcome struct {
	Result *Result
	Err    error
	Path   string
}

// RunBatch runs every job concurrently, bounded by the configured worker
// count. A failing job never stops the others; outcomes keep input order.
func (r *Runner) RunBatch(ctx context.Context, jobs []FileJob) []Outcome {
	outcomes := make([]Outcome, len(jobs))

	workers := r.config.Pipeline.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}

	r.logger.Info(logFmtBatchStarting, len(jobs), workers)

	var group errgroup.Group

	group.SetLimit(workers)

	for index, job := range jobs {
		group.Go(func() error {
			result, err := r.RunFile(ctx, job.Path, job.Options)
			outcomes[index] = Outcome{Result: result, Err: err, Path: job.Path}

			return nil
		})
	}

	_ = group.Wait()

	failed := 0

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
		}
	}

	r.logger.Info(logFmtBatchFinished, len(jobs)-failed, failed)

	return outcomes
}
