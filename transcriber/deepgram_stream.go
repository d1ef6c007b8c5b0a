package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const deepgramStreamURL = "wss://api.deepgram.com/v1/listen"

// Deepgram streams PCM over a websocket and commits final transcripts as
// they arrive.
type Deepgram struct {
	apiKey   string
	endpoint string
	model    string
	lang     string
	dialer   websocket.Dialer
}

func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{
		apiKey:   apiKey,
		endpoint: deepgramStreamURL,
		model:    "nova-3",
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) SetLanguage(lang string) { d.lang = lang }

func (d *Deepgram) GetLanguage() string { return d.lang }

func (d *Deepgram) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if cfg.Language != "" {
		d.SetLanguage(cfg.Language)
	}
	streamCfg := streamSessionConfig{
		SampleRate: int(cfg.rate()),
		Channels:   1,
		Language:   d.lang,
		Model:      d.model,
	}
	return newStreamSession(cfg.rate(), func() (rawStreamSession, error) {
		return d.startStream(ctx, streamCfg)
	}), nil
}

type streamSessionConfig struct {
	SampleRate int
	Channels   int
	Language   string
	Model      string
}

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStreamSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (d *Deepgram) startStream(ctx context.Context, cfg streamSessionConfig) (rawStreamSession, error) {
	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, err
	}

	q := endpoint.Query()
	q.Set("model", cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", fmt.Sprintf("%d", cfg.Channels))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	return &deepgramStreamSession{conn: conn}, nil
}

func (s *deepgramStreamSession) Send(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *deepgramStreamSession) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Finalize"}`))
}

func (s *deepgramStreamSession) Recv() (streamUpdate, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return streamUpdate{}, err
		}

		var resp deepgramStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return streamUpdate{}, err
		}
		if resp.Type != "" && resp.Type != "Results" {
			// Metadata, SpeechStarted, UtteranceEnd
			continue
		}

		transcript := ""
		if len(resp.Channel.Alternatives) > 0 {
			transcript = resp.Channel.Alternatives[0].Transcript
		}

		return streamUpdate{
			Transcript:   strings.TrimSpace(transcript),
			IsFinal:      resp.IsFinal,
			SpeechFinal:  resp.SpeechFinal,
			FromFinalize: resp.FromFinalize,
		}, nil
	}
}

func (s *deepgramStreamSession) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
