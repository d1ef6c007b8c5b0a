package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func valid() Config {
	c := Default()
	c.Role = "Backend Engineer"
	return c
}

func TestDefaultsValidate(t *testing.T) {
	c := valid()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Threshold != 0.25 || c.Smoothing != 0.3 {
		t.Errorf("threshold=%v smoothing=%v", c.Threshold, c.Smoothing)
	}
	if c.SilenceDuration != time.Second || c.MaxDuration != 13*time.Second {
		t.Errorf("silence=%v max=%v", c.SilenceDuration, c.MaxDuration)
	}
	if c.RestartDelay != time.Second || c.RearmDelay != 500*time.Millisecond {
		t.Errorf("restart=%v rearm=%v", c.RestartDelay, c.RearmDelay)
	}
	if c.Difficulty != "medium" || c.Voice != "en-US-naomi" || c.SpeechRate != 0.95 {
		t.Errorf("difficulty=%q voice=%q rate=%v", c.Difficulty, c.Voice, c.SpeechRate)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"missing role", func(c *Config) { c.Role = "" }, "Role"},
		{"bad difficulty", func(c *Config) { c.Difficulty = "brutal" }, "Difficulty"},
		{"threshold too high", func(c *Config) { c.Threshold = 1.5 }, "Threshold"},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, "Threshold"},
		{"bad url", func(c *Config) { c.ServiceURL = "not a url" }, "ServiceURL"},
		{"unknown stt", func(c *Config) { c.STT = "whisper" }, "STT"},
		{"short silence", func(c *Config) { c.SilenceDuration = 10 * time.Millisecond }, "SilenceDuration"},
		{"odd sample rate", func(c *Config) { c.SampleRate = 22050 }, "SampleRate"},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "9090" }, "MetricsAddr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mod(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("VIVA_SERVICE_URL", "https://interview.example.com")
	t.Setenv("VIVA_STT", "Deepgram")
	t.Setenv("VIVA_VOICE", "en-US-ken")
	c := Default()
	c.ApplyEnv()
	if c.ServiceURL != "https://interview.example.com" {
		t.Errorf("ServiceURL = %q", c.ServiceURL)
	}
	if c.STT != "deepgram" {
		t.Errorf("STT = %q", c.STT)
	}
	if c.Voice != "en-US-ken" {
		t.Errorf("Voice = %q", c.Voice)
	}
}

func TestLoadEnv(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VIVA_TEST_LOADENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VIVA_TEST_LOADENV", "")
	os.Unsetenv("VIVA_TEST_LOADENV")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("VIVA_TEST_LOADENV"); got != "from-file" {
		t.Errorf("VIVA_TEST_LOADENV = %q", got)
	}
}

func TestDerivedConfigs(t *testing.T) {
	c := valid()
	c.Threshold = 0.4
	c.SampleRate = 16000
	if got := c.SilenceConfig().Threshold; got != 0.4 {
		t.Errorf("silence threshold = %v", got)
	}
	if got := c.CaptureConfig(); got.SampleRate != 16000 || !got.EchoCancel || !got.AutoGain {
		t.Errorf("capture = %+v", got)
	}
	if got := c.PlaybackConfig(); got.Voice != "en-US-naomi" || got.SampleRate != 16000 {
		t.Errorf("playback = %+v", got)
	}
	if got := c.InterviewSetup(); got.Role != "Backend Engineer" || got.Difficulty != "medium" {
		t.Errorf("setup = %+v", got)
	}
	c.Language = "es"
	if got := c.SessionConfig("groq"); got.Stream || got.Language != "es" || got.SampleRate != 16000 {
		t.Errorf("groq session = %+v", got)
	}
	if got := c.SessionConfig("deepgram"); !got.Stream {
		t.Error("deepgram sessions should stream")
	}
}
