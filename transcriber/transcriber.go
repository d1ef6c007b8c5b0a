package transcriber

import (
	"context"
	"fmt"
	"os"
	"strings"

	"viva/nettrace"
)

type Segment struct {
	Text         string
	NoSpeechProb float64
	AvgLogProb   float64
	Start        float64
	End          float64
}

type Result struct {
	Text         string
	Metrics      *nettrace.Metrics
	RateLimit    string
	Confidence   float64
	NoSpeechProb float64
	AvgLogProb   float64
	Duration     float64
	Segments     []Segment
}

type Transcriber interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

type baseTranscriber struct {
	client *nettrace.Client
	apiURL string
	lang   string
}

func (b *baseTranscriber) SetLanguage(lang string) { b.lang = lang }

func (b *baseTranscriber) GetLanguage() string { return b.lang }

// New picks a provider by name. An empty name chooses from the keys that are set.
func New(provider string) (Transcriber, error) {
	dgKey := os.Getenv("DEEPGRAM_API_KEY")
	groqKey := os.Getenv("GROQ_API_KEY")

	switch strings.ToLower(provider) {
	case "deepgram":
		if dgKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY is not set")
		}
		return NewDeepgram(dgKey), nil
	case "groq":
		if groqKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY is not set")
		}
		return NewGroq(groqKey), nil
	case "":
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", provider)
	}

	if dgKey != "" {
		return NewDeepgram(dgKey), nil
	}
	if groqKey != "" {
		return NewGroq(groqKey), nil
	}

	return nil, fmt.Errorf("set DEEPGRAM_API_KEY or GROQ_API_KEY environment variable")
}
