package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/book-expert/logger"

	"github.com/book-expert/gemini-media-service/internal/config"
	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/mediautil"
	"github.com/book-expert/gemini-media-service/internal/pipeline"
	"github.com/book-expert/gemini-media-service/internal/transport"
)

// Flag descriptions.
const (
	flagPromptDesc     = "Prompt sent with every media file"
	flagModelDesc      = "Generation model (see --list-models)"
	flagVoiceDesc      = "Narration voice (see --list-voices)"
	flagMethodDesc     = "Upload method: auto, inline or resumable"
	flagOutputDesc     = "Directory for the .txt and .wav results"
	flagConfigDesc     = "Path to a TOML config file (defaults are used otherwise)"
	flagSpeakDesc      = "Narrate each result as WAV (defaults to speech.enabled)"
	flagListModelsDesc = "List the supported models and exit"
	flagListVoicesDesc = "List the supported voices and exit"
	flagVerboseDesc    = "Enable verbose logging"
)

// Flag names.
const (
	flagPrompt     = "prompt"
	flagModel      = "model"
	flagVoice      = "voice"
	flagMethod     = "method"
	flagOutput     = "output"
	flagConfig     = "config"
	flagSpeak      = "speak"
	flagListModels = "list-models"
	flagListVoices = "list-voices"
	flagVerbose    = "verbose"
)

// Static errors.
var (
	ErrNoMediaFiles  = errors.New("at least one media file must be given")
	ErrPromptMissing = errors.New("--prompt must be provided")
	ErrListConflict  = errors.New("cannot combine --list-models or --list-voices with media files")
	ErrNoCredential  = errors.New("no API key found in the configured environment variable")
	ErrJobsFailed    = errors.New("one or more media files failed")
)

// Error and log messages.
const (
	errFmtLoadConfig   = "failed to load configuration: %w"
	errFmtInitLogger   = "failed to initialize logger: %w"
	errFmtCreateOutput = "failed to create output directory: %w"
	errFmtWriteResult  = "failed to write result for %s: %w"
	errFmtNoCredential = "%w: %s"

	logFmtClientStarted = "media-client started with %d files, model %s, output %s"
	logFmtResultWritten = "Wrote %s (%s via %s in %s)"
	logFmtJobFailed     = "%s failed: %v"

	msgFmtSucceeded = "OK    %s -> %s (%s, %s)\n"
	msgFmtAudio     = "      narration -> %s\n"
	msgFmtFailed    = "FAIL  %s: %v\n"
)

const (
	logFileNameDefault = "media-client.log"
	logFileNameVerbose = "media-client-verbose.log"
	textExtension      = ".txt"
	audioExtension     = ".wav"
	resultPermissions  = 0o644
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	prompt     string
	model      string
	voice      string
	method     string
	output     string
	config     string
	files      []string
	speak      bool
	speakSet   bool
	listModels bool
	listVoices bool
	verbose    bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	if flags.listModels || flags.listVoices {
		return printCatalogue(stdout, flags)
	}

	err = validateArguments(flags)
	if err != nil {
		return err
	}

	cfg, clientLog, err := setup(flags)
	if err != nil {
		return err
	}
	defer clientLog.Close()

	credential := cfg.APIKey()
	if credential == "" {
		return fmt.Errorf(errFmtNoCredential, ErrNoCredential, cfg.Gemini.APIKeyEnv)
	}

	client := gemini.NewClient(transport.NewClient(cfg.Timeout()), cfg.ClientConfig(), clientLog)
	runner := pipeline.NewRunner(client, cfg, clientLog)

	outputDir := flags.output
	if outputDir == "" {
		outputDir = cfg.Paths.OutputDir
	}

	clientLog.Info(logFmtClientStarted, len(flags.files), cfg.Gemini.DefaultModel, outputDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcomes := runner.RunBatch(ctx, buildJobs(flags, cfg, credential))

	return report(stdout, clientLog, outputDir, outcomes)
}

// parseFlags parses args; positional arguments are the media files.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("media-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.prompt, flagPrompt, "", flagPromptDesc)
	flagSet.StringVar(&flags.model, flagModel, "", flagModelDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.StringVar(&flags.method, flagMethod, gemini.MethodAuto, flagMethodDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.BoolVar(&flags.speak, flagSpeak, false, flagSpeakDesc)
	flagSet.BoolVar(&flags.listModels, flagListModels, false, flagListModelsDesc)
	flagSet.BoolVar(&flags.listVoices, flagListVoices, false, flagListVoicesDesc)
	flagSet.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	flagSet.Visit(func(f *flag.Flag) {
		if f.Name == flagSpeak {
			flags.speakSet = true
		}
	})

	flags.files = flagSet.Args()

	return flags, nil
}

// validateArguments checks required and conflicting arguments before any
// configuration is loaded.
func validateArguments(flags appFlags) error {
	if len(flags.files) == 0 {
		return ErrNoMediaFiles
	}

	if strings.TrimSpace(flags.prompt) == "" {
		return ErrPromptMissing
	}

	return nil
}

// setup loads config and initializes the logger.
func setup(flags appFlags) (*config.Config, *logger.Logger, error) {
	cfg := config.Default()

	if flags.config != "" {
		loaded, err := config.LoadFile(flags.config)
		if err != nil {
			return nil, nil, fmt.Errorf(errFmtLoadConfig, err)
		}

		cfg = loaded
	}

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	clientLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf(errFmtInitLogger, err)
	}

	return cfg, clientLog, nil
}

func buildJobs(flags appFlags, cfg *config.Config, credential string) []pipeline.FileJob {
	speak := cfg.Speech.Enabled
	if flags.speakSet {
		speak = flags.speak
	}

	jobs := make([]pipeline.FileJob, 0, len(flags.files))

	for _, path := range flags.files {
		jobs = append(jobs, pipeline.FileJob{
			Path: path,
			Options: pipeline.JobOptions{
				Prompt:       flags.prompt,
				Model:        flags.model,
				Voice:        flags.voice,
				UploadMethod: flags.method,
				Credential:   credential,
				Speak:        speak,
			},
		})
	}

	return jobs
}

// report writes every successful result and prints one line per file. Failed
// files are reported but do not stop the others from being written.
func report(stdout io.Writer, clientLog *logger.Logger, outputDir string, outcomes []pipeline.Outcome) error {
	err := mediautil.EnsureDir(outputDir)
	if err != nil {
		return fmt.Errorf(errFmtCreateOutput, err)
	}

	failed := 0
	names := newResultNames()

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++

			clientLog.Error(logFmtJobFailed, outcome.Path, outcome.Err)
			fmt.Fprintf(stdout, msgFmtFailed, outcome.Path, outcome.Err)

			continue
		}

		textPath, audioPath, writeErr := writeResult(outputDir, names.claim(outcome.Path), outcome)
		if writeErr != nil {
			failed++

			fmt.Fprintf(stdout, msgFmtFailed, outcome.Path, writeErr)

			continue
		}

		elapsed := mediautil.FormatDuration(outcome.Result.Elapsed.Seconds())
		clientLog.Info(logFmtResultWritten, textPath, outcome.Result.Model, outcome.Result.Strategy, elapsed)
		fmt.Fprintf(stdout, msgFmtSucceeded, outcome.Path, textPath, outcome.Result.Strategy, elapsed)

		if audioPath != "" {
			fmt.Fprintf(stdout, msgFmtAudio, audioPath)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrJobsFailed, failed, len(outcomes))
	}

	return nil
}

// resultNames hands out result base names that are unique within one run, so
// a/clip.mp4 and b/clip.mov do not overwrite each other.
type resultNames struct {
	used map[string]bool
}

func newResultNames() *resultNames {
	return &resultNames{used: map[string]bool{}}
}

// claim returns the media file's name without extension, suffixed with -2,
// -3 and so on when an earlier file already took it.
func (n *resultNames) claim(mediaPath string) string {
	base := mediautil.DisplayName(mediaPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	candidate := base
	for suffix := 2; n.used[candidate]; suffix++ {
		candidate = fmt.Sprintf("%s-%d", base, suffix)
	}

	n.used[candidate] = true

	return candidate
}

// writeResult stores the text next to an optional WAV, both named base.
func writeResult(outputDir, base string, outcome pipeline.Outcome) (string, string, error) {
	textPath := filepath.Join(outputDir, base+textExtension)

	err := os.WriteFile(textPath, []byte(outcome.Result.Text), resultPermissions)
	if err != nil {
		return "", "", fmt.Errorf(errFmtWriteResult, outcome.Path, err)
	}

	if len(outcome.Result.Audio) == 0 {
		return textPath, "", nil
	}

	audioPath := filepath.Join(outputDir, base+audioExtension)

	err = os.WriteFile(audioPath, outcome.Result.Audio, resultPermissions)
	if err != nil {
		return "", "", fmt.Errorf(errFmtWriteResult, outcome.Path, err)
	}

	return textPath, audioPath, nil
}

// printCatalogue lists models and/or voices as aligned columns.
func printCatalogue(stdout io.Writer, flags appFlags) error {
	if len(flags.files) > 0 {
		return ErrListConflict
	}

	table := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)

	if flags.listModels {
		fmt.Fprintln(table, "MODEL\tNAME\tDESCRIPTION")

		for _, info := range gemini.Models() {
			marker := ""
			if info.ID == gemini.DefaultModel {
				marker = " (default)"
			}

			fmt.Fprintf(table, "%s%s\t%s\t%s\n", info.ID, marker, info.DisplayName, info.Description)
		}
	}

	if flags.listVoices {
		if flags.listModels {
			fmt.Fprintln(table)
		}

		fmt.Fprintln(table, "VOICE\tNAME\tSTYLE")

		for _, info := range gemini.Voices() {
			marker := ""
			if info.ID == gemini.DefaultVoice {
				marker = " (default)"
			}

			fmt.Fprintf(table, "%s%s\t%s\t%s\n", info.ID, marker, info.DisplayName, info.Style)
		}
	}

	return table.Flush()
}
