package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// RemoteMetrics describes one call to the interview service.
type RemoteMetrics struct {
	Op         string
	RequestID  string
	Status     int
	BytesIn    int
	DNSTimeMs  float64
	TLSTimeMs  float64
	TTFBMs     float64
	TotalMs    float64
	ConnReused bool
}

// TurnMetrics summarizes one listen→answer→respond cycle.
type TurnMetrics struct {
	Turn      int
	TurnID    string
	Outcome   string
	Reason    string
	ListenMs  float64
	SubmitMs  float64
	SpeakMs   float64
	PayloadKB float64
	AnswerLen int
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: VIVA_LOG_PATH environment variable
	if envPath := os.Getenv("VIVA_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(dir, "transcript_log.txt")
	transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(sessionID, role, difficulty, stt string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("role", role).
		Str("difficulty", difficulty).
		Str("stt", stt).
		Msg("session_start")
}

func SessionEnd(sessionID string, turns int, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Error().Err(err)
	}
	ev.Str("session", sessionID).
		Int("turns", turns).
		Msg("session_end")
}

func TurnStart(turn int, turnID string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turn", turn).
		Str("turn_id", turnID).
		Msg("turn_start")
}

func TurnEnd(m TurnMetrics) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turn", m.Turn).
		Str("turn_id", m.TurnID).
		Str("outcome", m.Outcome).
		Str("reason", m.Reason).
		Float64("listen_ms", m.ListenMs).
		Float64("submit_ms", m.SubmitMs).
		Float64("speak_ms", m.SpeakMs).
		Float64("payload_kb", m.PayloadKB).
		Int("answer_len", m.AnswerLen).
		Msg("turn_end")
}

func SilenceFired(reason string, smoothed float64, elapsed time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("reason", reason).
		Float64("smoothed", smoothed).
		Float64("elapsed_ms", float64(elapsed.Milliseconds())).
		Msg("silence_fired")
}

func RemoteCall(m RemoteMetrics, err error) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("op", m.Op).
		Str("request_id", m.RequestID).
		Int("status", m.Status).
		Int("bytes_in", m.BytesIn).
		Str("conn", connStatus).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("remote_call")
}

// Transcription records one finished transcription with the session's stats.
func Transcription(provider string, elapsed time.Duration, textLen int, rateLimit string, stats map[string]any) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("provider", provider).
		Float64("elapsed_ms", float64(elapsed.Milliseconds())).
		Int("text_len", textLen)
	if rateLimit != "" {
		ev = ev.Str("rate_limit", rateLimit)
	}
	ev.Fields(stats).Msg("transcription")
}

// TranscriptEntry appends one line to transcript_log.txt.
func TranscriptEntry(sessionID, role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	text = strings.ReplaceAll(text, "\n", " ")
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, sessionID, role, text)
	transcriptFile.WriteString(line)
}
