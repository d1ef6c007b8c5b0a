// Package config gathers runtime settings from defaults, a .env file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"viva/capture"
	"viva/interview"
	"viva/playback"
	"viva/remote"
	"viva/silence"
	"viva/transcriber"
)

type Config struct {
	ServiceURL string `validate:"required,url"`
	STT        string `validate:"omitempty,oneof=groq deepgram fake"`
	Language   string `validate:"omitempty,max=8"`
	Stream     bool

	Role           string `validate:"required,max=200"`
	Branch         string `validate:"max=200"`
	Specialization string `validate:"max=200"`
	Difficulty     string `validate:"oneof=easy medium hard"`

	Threshold       float64       `validate:"gt=0,lt=1"`
	Smoothing       float64       `validate:"gt=0,lte=1"`
	SilenceDuration time.Duration `validate:"gte=100ms,lte=10s"`
	MaxDuration     time.Duration `validate:"gte=1s,lte=10m"`
	RestartDelay    time.Duration `validate:"gte=0,lte=10s"`
	RearmDelay      time.Duration `validate:"gte=0,lte=10s"`
	PollInterval    time.Duration `validate:"gte=1ms,lte=1s"`
	ChunkInterval   time.Duration `validate:"gte=10ms,lte=1s"`
	SampleRate      uint32        `validate:"oneof=8000 16000 24000 44100 48000"`

	Voice      string  `validate:"required"`
	SpeechRate float64 `validate:"gt=0,lte=4"`

	Device      string
	Beep        bool
	LogPath     string
	MetricsAddr string `validate:"omitempty,hostname_port"`
	ReportPath  string
	CopyReport  bool
}

func Default() Config {
	return Config{
		ServiceURL:      "http://localhost:8000",
		Difficulty:      "medium",
		Threshold:       silence.DefaultThreshold,
		Smoothing:       silence.DefaultSmoothing,
		SilenceDuration: silence.DefaultSilenceDuration,
		MaxDuration:     silence.DefaultMaxDuration,
		RestartDelay:    interview.DefaultRestartDelay,
		RearmDelay:      interview.DefaultRearmDelay,
		PollInterval:    interview.DefaultPollInterval,
		ChunkInterval:   capture.DefaultChunkInterval,
		SampleRate:      24000,
		Voice:           playback.DefaultVoice,
		SpeechRate:      playback.DefaultRate,
		Beep:            true,
	}
}

// LoadEnv reads a .env file into the process environment. A missing file is
// not an error. Variables already set are left alone.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from VIVA_* variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("VIVA_SERVICE_URL"); v != "" {
		c.ServiceURL = v
	}
	if v := os.Getenv("VIVA_STT"); v != "" {
		c.STT = strings.ToLower(v)
	}
	if v := os.Getenv("VIVA_LANGUAGE"); v != "" {
		c.Language = v
	}
	if v := os.Getenv("VIVA_VOICE"); v != "" {
		c.Voice = v
	}
	if v := os.Getenv("VIVA_LOG_PATH"); v != "" {
		c.LogPath = v
	}
	if v := os.Getenv("VIVA_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field in one error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Field()+" "+formatValidationMessage(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be host:port"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

func (c *Config) InterviewSetup() remote.Setup {
	return remote.Setup{
		Role:           c.Role,
		Branch:         c.Branch,
		Specialization: c.Specialization,
		Difficulty:     c.Difficulty,
	}
}

func (c *Config) SilenceConfig() silence.Config {
	return silence.Config{
		Threshold:       c.Threshold,
		Smoothing:       c.Smoothing,
		SilenceDuration: c.SilenceDuration,
		MaxDuration:     c.MaxDuration,
	}
}

func (c *Config) InterviewConfig() interview.Config {
	return interview.Config{
		RestartDelay: c.RestartDelay,
		RearmDelay:   c.RearmDelay,
		PollInterval: c.PollInterval,
	}
}

func (c *Config) CaptureConfig() capture.Config {
	cfg := capture.DefaultConfig()
	cfg.SampleRate = c.SampleRate
	cfg.ChunkInterval = c.ChunkInterval
	return cfg
}

func (c *Config) PlaybackConfig() playback.Config {
	cfg := playback.DefaultConfig()
	cfg.Voice = c.Voice
	cfg.Rate = c.SpeechRate
	cfg.SampleRate = int(c.SampleRate)
	return cfg
}

// SessionConfig describes the transcription sessions for a provider.
// Deepgram always streams.
func (c *Config) SessionConfig(provider string) transcriber.SessionConfig {
	return transcriber.SessionConfig{
		Stream:     c.Stream || provider == "deepgram",
		Language:   c.Language,
		SampleRate: c.SampleRate,
	}
}
