// Package config provides the configuration structure for the gemini-media-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/speechtext"
)

// Defaults applied to zero-valued fields.
const (
	DefaultAPIKeyEnv      = "GEMINI_API_KEY"
	DefaultTimeoutSeconds = 300
	DefaultWorkers        = 4
	DefaultNATSURL        = "nats://127.0.0.1:4222"
	DefaultJobSubject     = "media.analysis.requested"
	DefaultMediaBucket    = "MEDIA_INPUTS"
	DefaultAudioBucket    = "ANALYSIS_AUDIO"
	DefaultListenAddr     = ":8080"
	DefaultBaseLogsDir    = "logs"
	DefaultOutputDir      = "output"

	maxTemperature = 2.0
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// GeminiConfig holds the remote API settings.
type GeminiConfig struct {
	BaseURL        string  `toml:"base_url"`
	UploadBaseURL  string  `toml:"upload_base_url"`
	APIKeyEnv      string  `toml:"api_key_env"`
	DefaultModel   string  `toml:"default_model"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// UploadConfig controls how media reaches the remote service.
type UploadConfig struct {
	InlineThresholdBytes int64 `toml:"inline_threshold_bytes"`
	CleanupRemoteFiles   bool  `toml:"cleanup_remote_files"`
}

// PollConfig bounds waiting for an uploaded file to become usable.
type PollConfig struct {
	IntervalMS  int `toml:"interval_ms"`
	MaxAttempts int `toml:"max_attempts"`
}

// SpeechConfig controls narration of the generated text.
type SpeechConfig struct {
	Voice    string `toml:"voice"`
	MaxChars int    `toml:"max_chars"`
	Enabled  bool   `toml:"enabled"`
}

// PipelineConfig holds batch settings.
type PipelineConfig struct {
	Workers int `toml:"workers"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL         string `toml:"url"`
	JobSubject  string `toml:"job_subject"`
	MediaBucket string `toml:"media_bucket"`
	AudioBucket string `toml:"audio_bucket"`
	// DeleteProcessedMedia removes a media object once its job succeeded.
	DeleteProcessedMedia bool `toml:"delete_processed_media"`
}

// HTTPConfig holds the HTTP API settings.
type HTTPConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Gemini   GeminiConfig   `toml:"gemini"`
	Upload   UploadConfig   `toml:"upload"`
	Poll     PollConfig     `toml:"poll"`
	Speech   SpeechConfig   `toml:"speech"`
	Pipeline PipelineConfig `toml:"pipeline"`
	NATS     NATSConfig     `toml:"nats"`
	HTTP     HTTPConfig     `toml:"http"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the gemini-media-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads a TOML file directly. The CLI uses it with --config.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return finalize(&cfg)
}

// Default returns a configuration made only of defaults.
func Default() *Config {
	var cfg Config

	cfg.ApplyDefaults()

	return &cfg
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// ApplyDefaults fills every zero-valued field that has a default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Gemini.BaseURL, gemini.DefaultBaseURL)
	setDefault(&c.Gemini.APIKeyEnv, DefaultAPIKeyEnv)
	setDefault(&c.Gemini.DefaultModel, string(gemini.DefaultModel))
	setDefault(&c.Gemini.TimeoutSeconds, DefaultTimeoutSeconds)
	setDefault(&c.Upload.InlineThresholdBytes, gemini.DefaultInlineThresholdBytes)
	setDefault(&c.Poll.IntervalMS, int(gemini.DefaultPollInterval/time.Millisecond))
	setDefault(&c.Poll.MaxAttempts, gemini.DefaultPollMaxAttempts)
	setDefault(&c.Speech.Voice, string(gemini.DefaultVoice))
	setDefault(&c.Speech.MaxChars, speechtext.DefaultMaxRunes)
	setDefault(&c.Pipeline.Workers, DefaultWorkers)
	setDefault(&c.NATS.URL, DefaultNATSURL)
	setDefault(&c.NATS.JobSubject, DefaultJobSubject)
	setDefault(&c.NATS.MediaBucket, DefaultMediaBucket)
	setDefault(&c.NATS.AudioBucket, DefaultAudioBucket)
	setDefault(&c.HTTP.ListenAddr, DefaultListenAddr)
	setDefault(&c.Paths.BaseLogsDir, DefaultBaseLogsDir)
	setDefault(&c.Paths.OutputDir, DefaultOutputDir)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string

	_, modelErr := gemini.ParseModel(c.Gemini.DefaultModel)
	if modelErr != nil {
		problems = append(problems, "gemini.default_model: "+modelErr.Error())
	}

	_, voiceErr := gemini.ParseVoice(c.Speech.Voice)
	if voiceErr != nil {
		problems = append(problems, "speech.voice: "+voiceErr.Error())
	}

	if c.Gemini.Temperature < 0 || c.Gemini.Temperature > maxTemperature {
		problems = append(problems, fmt.Sprintf("gemini.temperature must be within [0, %.1f]", maxTemperature))
	}

	if c.Gemini.TimeoutSeconds < 0 {
		problems = append(problems, "gemini.timeout_seconds cannot be negative")
	}

	if c.Upload.InlineThresholdBytes < 0 {
		problems = append(problems, "upload.inline_threshold_bytes cannot be negative")
	}

	if c.Poll.IntervalMS < 0 || c.Poll.MaxAttempts < 0 {
		problems = append(problems, "poll.interval_ms and poll.max_attempts cannot be negative")
	}

	if c.Pipeline.Workers < 0 {
		problems = append(problems, "pipeline.workers cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return nil
}

// APIKey reads the credential from the configured environment variable.
func (c *Config) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.Gemini.APIKeyEnv))
}

// Timeout is the per-request HTTP timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Gemini.TimeoutSeconds) * time.Second
}

// PollOptions converts the poll section.
func (c *Config) PollOptions() gemini.PollOptions {
	return gemini.PollOptions{
		Interval:    time.Duration(c.Poll.IntervalMS) * time.Millisecond,
		MaxAttempts: c.Poll.MaxAttempts,
	}
}

// ClientConfig converts the gemini section.
func (c *Config) ClientConfig() gemini.ClientConfig {
	return gemini.ClientConfig{
		BaseURL:       c.Gemini.BaseURL,
		UploadBaseURL: c.Gemini.UploadBaseURL,
		Temperature:   c.Gemini.Temperature,
	}
}
